// Package geocontext computes population-weighted neighborhood context for
// points: for each k-value, the smallest radius whose enclosed population
// reaches k, and the share of each group within that radius.
package geocontext

import (
	"context"
	"math"
	"runtime"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Option configures a Calculator.
type Option func(*Calculator)

// WithConcurrency bounds the number of points resolved in parallel.
// Values below 1 select runtime.GOMAXPROCS(0).
func WithConcurrency(n int) Option {
	return func(c *Calculator) {
		c.concurrency = n
	}
}

// Calculator resolves adaptive-radius neighborhoods and aggregates group
// populations within them.
type Calculator struct {
	concurrency int
}

// NewCalculator creates a new Calculator.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency < 1 {
		c.concurrency = runtime.GOMAXPROCS(0)
	}
	return c
}

// Concurrency returns the effective worker limit.
func (c *Calculator) Concurrency() int {
	return c.concurrency
}

// Compute resolves the context of every point. Results are returned in input
// order. Parameters and records are validated before any point is processed;
// if any point fails the whole call fails.
func (c *Calculator) Compute(ctx context.Context, points []Point, locations []Location, params Params) ([]PointResult, error) {
	prep, err := prepare(points, locations, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	zap.L().Debug("geocontext: compute started",
		zap.Int("points", len(points)),
		zap.Int("locations", len(locations)),
		zap.Int("groups", len(prep.groups)),
		zap.Float64s("k_values", prep.kValues),
		zap.Int("concurrency", c.concurrency),
	)

	out := make([]PointResult, len(points))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, p := range points {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := prep.resolve(p)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "geocontext: compute cancelled")
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "geocontext: compute cancelled")
	}

	zap.L().Debug("geocontext: compute complete",
		zap.Int("points", len(points)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

// ComputePoint resolves the context of a single point.
func (c *Calculator) ComputePoint(p Point, locations []Location, params Params) (PointResult, error) {
	prep, err := prepare([]Point{p}, locations, params)
	if err != nil {
		return PointResult{}, err
	}
	return prep.resolve(p)
}

// NormalizeKValues returns the k-values sorted ascending with duplicates removed.
func NormalizeKValues(kValues []float64) []float64 {
	ks := slices.Clone(kValues)
	slices.Sort(ks)
	return slices.Compact(ks)
}

// prepared is the validated, read-only input shared by all workers.
type prepared struct {
	locations   []Location
	kValues     []float64
	groups      []string
	population  []float64
	groupCounts []float64 // row-major, len(population) x len(groups)
}

func prepare(points []Point, locations []Location, params Params) (*prepared, error) {
	if len(params.KValues) == 0 {
		return nil, configErr("k_values", "at least one k-value is required")
	}
	for _, k := range params.KValues {
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return nil, configErr("k_values", "k-value %v is not a finite number", k)
		}
		if k <= 0 {
			return nil, configErr("k_values", "k-value %s must be positive", FormatK(k))
		}
	}
	if len(locations) == 0 {
		return nil, configErr("locations", "no locations supplied")
	}

	seen := make(map[string]bool, len(params.Groups))
	for _, g := range params.Groups {
		if g == "" {
			return nil, configErr("groups", "empty group name")
		}
		if seen[g] {
			return nil, configErr("groups", "duplicate group %q", g)
		}
		seen[g] = true
	}

	for _, p := range points {
		if !coordinate(p.North) || !coordinate(p.East) {
			return nil, configErr("points", "point %d has coordinates outside ±%g", p.ID, float64(MaxCoordinate))
		}
	}

	ng := len(params.Groups)
	prep := &prepared{
		locations:   locations,
		kValues:     NormalizeKValues(params.KValues),
		groups:      slices.Clone(params.Groups),
		population:  make([]float64, len(locations)),
		groupCounts: make([]float64, len(locations)*ng),
	}
	for i, loc := range locations {
		if !coordinate(loc.North) || !coordinate(loc.East) {
			return nil, configErr("locations", "location %d has coordinates outside ±%g", i, float64(MaxCoordinate))
		}
		if !finite(loc.Population) || loc.Population < 0 {
			return nil, configErr("population", "location %d has invalid population %v", i, loc.Population)
		}
		prep.population[i] = loc.Population
		for j, g := range params.Groups {
			v, ok := loc.Groups[g]
			if !ok {
				return nil, configErr("groups", "group %q missing on location %d", g, i)
			}
			if !finite(v) || v < 0 {
				return nil, configErr("groups", "group %q has invalid count %v on location %d", g, v, i)
			}
			prep.groupCounts[i*ng+j] = v
		}
	}
	return prep, nil
}

// resolve walks the locations of one point in distance order. The cursor and
// accumulated population persist across the ascending k-values, and so does
// the selection prefix: the selection for a larger k extends the previous one.
func (pr *prepared) resolve(p Point) (PointResult, error) {
	order := sortedNeighbors(p, pr.locations)
	ng := len(pr.groups)

	res := PointResult{Point: p, Results: make([]KResult, len(pr.kValues))}

	var (
		cursor int
		acc    float64
		end    int
		total  float64
	)
	counts := make([]float64, ng)

	for i, k := range pr.kValues {
		for acc < k {
			if cursor == len(order) {
				return PointResult{}, &InsufficientPopulationError{PointID: p.ID, K: k, Available: acc}
			}
			acc += pr.population[order[cursor].idx]
			cursor++
		}
		radius := order[cursor-1].dist

		// All locations at the boundary distance are selected, even those the
		// walk did not consume.
		for end < len(order) && order[end].dist <= radius {
			li := order[end].idx
			total += pr.population[li]
			row := pr.groupCounts[li*ng : li*ng+ng]
			for g := range counts {
				counts[g] += row[g]
			}
			end++
		}

		kr := KResult{
			K:           k,
			Radius:      radius,
			Total:       total,
			GroupCounts: slices.Clone(counts),
			Proportions: make([]float64, ng),
		}
		for g, n := range counts {
			kr.Proportions[g] = Proportion(n, total)
		}
		res.Results[i] = kr
	}
	return res, nil
}

// Proportion returns count/total, or NaN when total is zero.
func Proportion(count, total float64) float64 {
	if total == 0 {
		return math.NaN()
	}
	return count / total
}

// coordinate reports whether v is a finite value within ±MaxCoordinate.
func coordinate(v float64) bool {
	return finite(v) && math.Abs(v) <= MaxCoordinate
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
