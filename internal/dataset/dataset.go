// Package dataset connects tabular inputs to the geocontext calculator: it
// resolves field names, extracts point and location records, and appends the
// computed context columns to a copy of the points table.
package dataset

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/geocontext/internal/geocontext"
	"github.com/sells-group/geocontext/internal/table"
)

// Fields names the columns read from the input tables.
type Fields struct {
	PointNorth    string   `json:"point_north" yaml:"point_north"`
	PointEast     string   `json:"point_east" yaml:"point_east"`
	LocationNorth string   `json:"location_north" yaml:"location_north"`
	LocationEast  string   `json:"location_east" yaml:"location_east"`
	Population    string   `json:"population" yaml:"population"`
	Groups        []string `json:"groups" yaml:"groups"`
}

// DefaultFields returns the conventional coordinate column names. Population
// and groups have no default.
func DefaultFields() Fields {
	return Fields{
		PointNorth:    "North",
		PointEast:     "East",
		LocationNorth: "North",
		LocationEast:  "East",
	}
}

// WithDefaults fills empty coordinate names from DefaultFields.
func (f Fields) WithDefaults() Fields {
	d := DefaultFields()
	if f.PointNorth == "" {
		f.PointNorth = d.PointNorth
	}
	if f.PointEast == "" {
		f.PointEast = d.PointEast
	}
	if f.LocationNorth == "" {
		f.LocationNorth = d.LocationNorth
	}
	if f.LocationEast == "" {
		f.LocationEast = d.LocationEast
	}
	return f
}

// Result is the outcome of ComputeContext.
type Result struct {
	// Table is a copy of the points table with the context columns appended.
	Table  *table.Table
	Points []geocontext.PointResult
	Params geocontext.Params
}

// ComputeContext enriches every row of points with the population-weighted
// context of the given groups, drawn from locations. The input tables are not
// modified.
func ComputeContext(ctx context.Context, calc *geocontext.Calculator, points, locations *table.Table, fields Fields, kValues []float64) (*Result, error) {
	fields = fields.WithDefaults()
	if err := checkFields(points, locations, fields); err != nil {
		return nil, err
	}

	pts, err := Points(points, fields)
	if err != nil {
		return nil, err
	}
	locs, err := Locations(locations, fields)
	if err != nil {
		return nil, err
	}

	params := geocontext.Params{Groups: fields.Groups, KValues: kValues}
	results, err := calc.Compute(ctx, pts, locs, params)
	if err != nil {
		return nil, err
	}

	params.KValues = geocontext.NormalizeKValues(kValues)
	out := points.Clone()
	values := make([][]float64, len(results))
	for i, r := range results {
		values[i] = r.Values()
	}
	if err := out.AppendColumns(geocontext.Columns(params), values); err != nil {
		return nil, err
	}

	zap.L().Info("dataset: context computed",
		zap.Int("points", len(pts)),
		zap.Int("locations", len(locs)),
		zap.Strings("groups", fields.Groups),
		zap.Float64s("k_values", params.KValues),
	)
	return &Result{Table: out, Points: results, Params: params}, nil
}

func checkFields(points, locations *table.Table, f Fields) error {
	if f.Population == "" {
		return &geocontext.ConfigurationError{Field: "population", Reason: "population field is required"}
	}
	for _, name := range []string{f.PointNorth, f.PointEast} {
		if !points.Has(name) {
			return &geocontext.ConfigurationError{Field: name, Reason: "field not found in points"}
		}
	}
	for _, name := range []string{f.LocationNorth, f.LocationEast, f.Population} {
		if !locations.Has(name) {
			return &geocontext.ConfigurationError{Field: name, Reason: "field not found in locations"}
		}
	}
	for _, g := range f.Groups {
		if !locations.Has(g) {
			return &geocontext.ConfigurationError{Field: g, Reason: "group field not found in locations"}
		}
	}
	return nil
}

// Points extracts point records. The ID of each point is its row index.
func Points(t *table.Table, f Fields) ([]geocontext.Point, error) {
	f = f.WithDefaults()
	out := make([]geocontext.Point, t.Len())
	for i := range t.Rows {
		n, err := number(t, i, f.PointNorth, "points")
		if err != nil {
			return nil, err
		}
		e, err := number(t, i, f.PointEast, "points")
		if err != nil {
			return nil, err
		}
		out[i] = geocontext.Point{ID: i, North: n, East: e}
	}
	return out, nil
}

// Locations extracts location records with their population and group counts.
func Locations(t *table.Table, f Fields) ([]geocontext.Location, error) {
	f = f.WithDefaults()
	out := make([]geocontext.Location, t.Len())
	for i := range t.Rows {
		n, err := number(t, i, f.LocationNorth, "locations")
		if err != nil {
			return nil, err
		}
		e, err := number(t, i, f.LocationEast, "locations")
		if err != nil {
			return nil, err
		}
		pop, err := number(t, i, f.Population, "locations")
		if err != nil {
			return nil, err
		}
		groups := make(map[string]float64, len(f.Groups))
		for _, g := range f.Groups {
			v, err := number(t, i, g, "locations")
			if err != nil {
				return nil, err
			}
			groups[g] = v
		}
		out[i] = geocontext.Location{North: n, East: e, Population: pop, Groups: groups}
	}
	return out, nil
}

func number(t *table.Table, row int, field, source string) (float64, error) {
	col, ok := t.Index(field)
	if !ok {
		return 0, &geocontext.ConfigurationError{Field: field, Reason: "field not found in " + source}
	}
	s := t.Cell(row, col)
	if s == "" {
		return 0, &geocontext.ConfigurationError{
			Field:  field,
			Reason: source + " row " + strconv.Itoa(row) + " is empty",
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &geocontext.ConfigurationError{
			Field:  field,
			Reason: source + " row " + strconv.Itoa(row) + ": " + strconv.Quote(s) + " is not a number",
		}
	}
	return v, nil
}
