// Package store persists context runs and their per-point results in SQLite
// or PostgreSQL.
package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sells-group/geocontext/internal/geocontext"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one execution of the context computation.
type Run struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Status     RunStatus         `json:"status"`
	Params     geocontext.Params `json:"params"`
	Points     string            `json:"points,omitempty"`
	Locations  string            `json:"locations,omitempty"`
	PointCount int               `json:"point_count"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// RunSpec describes a run to be created. Points and Locations name the
// inputs (path or URL) for the record.
type RunSpec struct {
	Name      string
	Points    string
	Locations string
	Params    geocontext.Params
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// GroupResult is the population of one group within a neighborhood.
// Proportion is nil when the neighborhood population is zero.
type GroupResult struct {
	Name       string   `json:"name"`
	Count      float64  `json:"count"`
	Proportion *float64 `json:"proportion"`
}

// ResultRow is a stored result for one point and k-value.
type ResultRow struct {
	PointID int           `json:"point_id"`
	K       float64       `json:"k"`
	Radius  int64         `json:"radius"`
	Total   float64       `json:"total"`
	Groups  []GroupResult `json:"groups"`
}

// Store defines the persistence interface for context runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, spec RunSpec) (*Run, error)
	CompleteRun(ctx context.Context, runID string, points int) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Results
	SaveResults(ctx context.Context, runID string, params geocontext.Params, results []geocontext.PointResult) (int64, error)
	GetResults(ctx context.Context, runID string) ([]ResultRow, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var (
	resultColumns      = []string{"run_id", "point_id", "k", "radius", "total"}
	groupResultColumns = []string{"run_id", "point_id", "k", "position", "group_name", "count", "proportion"}
)

// flatten turns computed results into rows for context_results and
// context_group_results. NaN proportions become NULL.
func flatten(runID string, params geocontext.Params, results []geocontext.PointResult) (rows, groupRows [][]any) {
	for _, pr := range results {
		for _, kr := range pr.Results {
			rows = append(rows, []any{runID, pr.Point.ID, kr.K, kr.Radius, kr.Total})
			for j, g := range params.Groups {
				if j >= len(kr.GroupCounts) {
					break
				}
				var prop any
				if j < len(kr.Proportions) && !math.IsNaN(kr.Proportions[j]) {
					prop = kr.Proportions[j]
				}
				groupRows = append(groupRows, []any{runID, pr.Point.ID, kr.K, j, g, kr.GroupCounts[j], prop})
			}
		}
	}
	return rows, groupRows
}

type resultKey struct {
	point int
	k     float64
}

// collector assembles ResultRows from ordered result and group scans.
type collector struct {
	rows  []ResultRow
	index map[resultKey]int
}

func newCollector() *collector {
	return &collector{index: make(map[resultKey]int)}
}

func (c *collector) addResult(pointID int, k float64, radius int64, total float64) {
	c.index[resultKey{pointID, k}] = len(c.rows)
	c.rows = append(c.rows, ResultRow{PointID: pointID, K: k, Radius: radius, Total: total})
}

func (c *collector) addGroup(pointID int, k float64, name string, count float64, prop *float64) {
	i, ok := c.index[resultKey{pointID, k}]
	if !ok {
		return
	}
	c.rows[i].Groups = append(c.rows[i].Groups, GroupResult{Name: name, Count: count, Proportion: prop})
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
