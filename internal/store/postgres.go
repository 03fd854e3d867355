package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocontext/internal/db"
	"github.com/sells-group/geocontext/internal/geocontext"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"get_run":      `SELECT ` + pgRunColumns + ` FROM context_runs WHERE id = $1`,
	"complete_run": `UPDATE context_runs SET status = $1, point_count = $2, error = NULL, updated_at = $3 WHERE id = $4`,
	"fail_run":     `UPDATE context_runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// Statements reference tables created by Migrate.
		var exists bool
		if err := conn.QueryRow(ctx, `SELECT to_regclass('context_runs') IS NOT NULL`).Scan(&exists); err != nil || !exists {
			return nil
		}
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	zap.L().Debug("postgres: pool ready",
		zap.Int32("max_conns", maxConns),
		zap.Int32("min_conns", minConns),
	)
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller keeps ownership.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS context_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	params      JSONB NOT NULL,
	points      TEXT NOT NULL DEFAULT '',
	locations   TEXT NOT NULL DEFAULT '',
	point_count INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS context_results (
	run_id   TEXT NOT NULL REFERENCES context_runs(id) ON DELETE CASCADE,
	point_id INTEGER NOT NULL,
	k        DOUBLE PRECISION NOT NULL,
	radius   BIGINT NOT NULL,
	total    DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, point_id, k)
);

CREATE TABLE IF NOT EXISTS context_group_results (
	run_id     TEXT NOT NULL REFERENCES context_runs(id) ON DELETE CASCADE,
	point_id   INTEGER NOT NULL,
	k          DOUBLE PRECISION NOT NULL,
	position   INTEGER NOT NULL,
	group_name TEXT NOT NULL,
	count      DOUBLE PRECISION NOT NULL,
	proportion DOUBLE PRECISION,
	PRIMARY KEY (run_id, point_id, k, group_name)
);

CREATE INDEX IF NOT EXISTS idx_context_runs_status ON context_runs(status);
CREATE INDEX IF NOT EXISTS idx_context_runs_created_at ON context_runs(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, spec RunSpec) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(spec.Params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO context_runs (id, name, status, params, points, locations, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, spec.Name, string(RunStatusRunning), paramsJSON, spec.Points, spec.Locations, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &Run{
		ID:        id,
		Name:      spec.Name,
		Status:    RunStatusRunning,
		Params:    spec.Params,
		Points:    spec.Points,
		Locations: spec.Locations,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, points int) error {
	tag, err := s.pool.Exec(ctx, preparedStatements["complete_run"],
		string(RunStatusComplete), points, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	tag, err := s.pool.Exec(ctx, preparedStatements["fail_run"],
		string(RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

const pgRunColumns = `id, name, status, params::text, points, locations, point_count, COALESCE(error, ''), created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, preparedStatements["get_run"], runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM context_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveResults upserts all results of a run: point rows first, then group
// rows, each bulk-loaded with COPY.
func (s *PostgresStore) SaveResults(ctx context.Context, runID string, params geocontext.Params, results []geocontext.PointResult) (int64, error) {
	rows, groupRows := flatten(runID, params, results)
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "context_results",
		Columns:      resultColumns,
		ConflictKeys: []string{"run_id", "point_id", "k"},
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: save results for run %s", runID)
	}

	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "context_group_results",
		Columns:      groupResultColumns,
		ConflictKeys: []string{"run_id", "point_id", "k", "group_name"},
	}, groupRows); err != nil {
		return 0, eris.Wrapf(err, "postgres: save group results for run %s", runID)
	}

	zap.L().Debug("postgres: results saved",
		zap.String("run_id", runID),
		zap.Int64("rows", n),
		zap.Int("group_rows", len(groupRows)),
	)
	return n, nil
}

func (s *PostgresStore) GetResults(ctx context.Context, runID string) ([]ResultRow, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	c := newCollector()
	rows, err := s.pool.Query(ctx,
		`SELECT point_id, k, radius, total FROM context_results WHERE run_id = $1 ORDER BY point_id, k`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query results")
	}
	for rows.Next() {
		var (
			pointID int
			k       float64
			radius  int64
			total   float64
		)
		if err := rows.Scan(&pointID, &k, &radius, &total); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		c.addResult(pointID, k, radius, total)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate results")
	}

	grows, err := s.pool.Query(ctx,
		`SELECT point_id, k, group_name, count, COALESCE(proportion, 'NaN'::float8)
		 FROM context_group_results WHERE run_id = $1 ORDER BY point_id, k, position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query group results")
	}
	defer grows.Close()

	for grows.Next() {
		var (
			pointID int
			k       float64
			name    string
			count   float64
			prop    float64
		)
		if err := grows.Scan(&pointID, &k, &name, &count, &prop); err != nil {
			return nil, eris.Wrap(err, "postgres: scan group result")
		}
		var p *float64
		if !math.IsNaN(prop) {
			p = &prop
		}
		c.addGroup(pointID, k, name, count, p)
	}
	return c.rows, eris.Wrap(grows.Err(), "postgres: iterate group results")
}

func scanPgRun(row pgx.Row) (*Run, error) {
	var (
		r          Run
		status     string
		paramsJSON string
	)
	err := row.Scan(&r.ID, &r.Name, &status, &paramsJSON, &r.Points, &r.Locations,
		&r.PointCount, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal params")
	}
	return &r, nil
}
