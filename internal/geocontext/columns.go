package geocontext

import (
	"strconv"
)

// FormatK renders a k-value the way it appears in column names: the shortest
// decimal representation, so 500 becomes "500" and 2.5 stays "2.5".
func FormatK(k float64) string {
	return strconv.FormatFloat(k, 'f', -1, 64)
}

// RadiusColumn returns the column name holding the radius for k.
func RadiusColumn(k float64) string { return "radius_k" + FormatK(k) }

// TotalColumn returns the column name holding the total population for k.
func TotalColumn(k float64) string { return "total_k" + FormatK(k) }

// GroupColumn returns the column name holding the population of group g for k.
func GroupColumn(g string, k float64) string { return "group_" + g + "_k" + FormatK(k) }

// PropColumn returns the column name holding the proportion of group g for k.
func PropColumn(g string, k float64) string { return "prop_" + g + "_k" + FormatK(k) }

// Columns lists the enriched columns in output order: radius, total and group
// counts per ascending k, followed by every proportion column.
func Columns(params Params) []string {
	ks := NormalizeKValues(params.KValues)
	cols := make([]string, 0, len(ks)*(2+2*len(params.Groups)))
	for _, k := range ks {
		cols = append(cols, RadiusColumn(k), TotalColumn(k))
		for _, g := range params.Groups {
			cols = append(cols, GroupColumn(g, k))
		}
	}
	for _, k := range ks {
		for _, g := range params.Groups {
			cols = append(cols, PropColumn(g, k))
		}
	}
	return cols
}

// Values flattens the result into the order of Columns for the same params.
func (r PointResult) Values() []float64 {
	ng := 0
	if len(r.Results) > 0 {
		ng = len(r.Results[0].GroupCounts)
	}
	vals := make([]float64, 0, len(r.Results)*(2+2*ng))
	for _, kr := range r.Results {
		vals = append(vals, float64(kr.Radius), kr.Total)
		vals = append(vals, kr.GroupCounts...)
	}
	for _, kr := range r.Results {
		vals = append(vals, kr.Proportions...)
	}
	return vals
}
