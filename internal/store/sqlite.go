package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geocontext/internal/geocontext"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied by the driver to every pooled connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// NewSQLite opens a SQLite database at the given path or DSN. WAL mode,
// a busy timeout and foreign keys are set on every connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, eris.Wrapf(err, "sqlite: connect %s", dsn)
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteDSN appends the connection pragmas as _pragma query parameters.
func sqliteDSN(dsn string) string {
	q := make(url.Values)
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + q.Encode()
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS context_runs (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	params      TEXT NOT NULL,
	points      TEXT NOT NULL DEFAULT '',
	locations   TEXT NOT NULL DEFAULT '',
	point_count INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS context_results (
	run_id   TEXT NOT NULL REFERENCES context_runs(id) ON DELETE CASCADE,
	point_id INTEGER NOT NULL,
	k        REAL NOT NULL,
	radius   INTEGER NOT NULL,
	total    REAL NOT NULL,
	PRIMARY KEY (run_id, point_id, k)
);

CREATE TABLE IF NOT EXISTS context_group_results (
	run_id     TEXT NOT NULL REFERENCES context_runs(id) ON DELETE CASCADE,
	point_id   INTEGER NOT NULL,
	k          REAL NOT NULL,
	position   INTEGER NOT NULL,
	group_name TEXT NOT NULL,
	count      REAL NOT NULL,
	proportion REAL,
	PRIMARY KEY (run_id, point_id, k, group_name)
);

CREATE INDEX IF NOT EXISTS idx_context_runs_status ON context_runs(status);
CREATE INDEX IF NOT EXISTS idx_context_runs_created_at ON context_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, spec RunSpec) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(spec.Params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO context_runs (id, name, status, params, points, locations, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, spec.Name, string(RunStatusRunning), string(paramsJSON), spec.Points, spec.Locations, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, points int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE context_runs SET status = ?, point_count = ?, error = NULL, updated_at = ? WHERE id = ?`,
		string(RunStatusComplete), points, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE context_runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

const sqliteRunColumns = `id, name, status, params, points, locations, point_count, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM context_runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM context_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// SaveResults writes all results of a run in one transaction. Re-saving a
// point and k replaces the earlier row.
func (s *SQLiteStore) SaveResults(ctx context.Context, runID string, params geocontext.Params, results []geocontext.PointResult) (int64, error) {
	rows, groupRows := flatten(runID, params, results)
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertAll(ctx, tx,
		`INSERT OR REPLACE INTO context_results (run_id, point_id, k, radius, total) VALUES (?, ?, ?, ?, ?)`,
		rows,
	); err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert results for run %s", runID)
	}
	if err := insertAll(ctx, tx,
		`INSERT OR REPLACE INTO context_group_results (run_id, point_id, k, position, group_name, count, proportion)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		groupRows,
	); err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert group results for run %s", runID)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit results")
	}
	return int64(len(rows)), nil
}

func insertAll(ctx context.Context, tx *sql.Tx, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetResults(ctx context.Context, runID string) ([]ResultRow, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	c := newCollector()
	rows, err := s.db.QueryContext(ctx,
		`SELECT point_id, k, radius, total FROM context_results WHERE run_id = ? ORDER BY point_id, k`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query results")
	}
	for rows.Next() {
		var (
			pointID int
			k       float64
			radius  int64
			total   float64
		)
		if err := rows.Scan(&pointID, &k, &radius, &total); err != nil {
			_ = rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		c.addResult(pointID, k, radius, total)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, eris.Wrap(err, "sqlite: iterate results")
	}
	_ = rows.Close()

	grows, err := s.db.QueryContext(ctx,
		`SELECT point_id, k, group_name, count, proportion FROM context_group_results
		 WHERE run_id = ? ORDER BY point_id, k, position`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query group results")
	}
	defer grows.Close() //nolint:errcheck

	for grows.Next() {
		var (
			pointID int
			k       float64
			name    string
			count   float64
			prop    sql.NullFloat64
		)
		if err := grows.Scan(&pointID, &k, &name, &count, &prop); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan group result")
		}
		var p *float64
		if prop.Valid {
			p = &prop.Float64
		}
		c.addGroup(pointID, k, name, count, p)
	}
	return c.rows, eris.Wrap(grows.Err(), "sqlite: iterate group results")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var (
		r          Run
		paramsJSON string
		errText    sql.NullString
	)
	err := row.Scan(&r.ID, &r.Name, &r.Status, &paramsJSON, &r.Points, &r.Locations,
		&r.PointCount, &errText, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal params")
	}
	r.Error = errText.String
	return &r, nil
}
