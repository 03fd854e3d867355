package geocontext

// Point is a query location whose neighborhood context is computed.
// ID is the row position of the point in its input table.
type Point struct {
	ID    int     `json:"id"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Location is a populated reference location. Groups holds the sub-population
// of each named group living at the location.
type Location struct {
	North      float64            `json:"north"`
	East       float64            `json:"east"`
	Population float64            `json:"population"`
	Groups     map[string]float64 `json:"groups,omitempty"`
}

// Params selects the groups and population thresholds of a context run.
type Params struct {
	Groups  []string  `json:"groups"`
	KValues []float64 `json:"k_values"`
}

// KResult is the neighborhood of one point resolved for a single k-value.
// GroupCounts and Proportions follow the order of Params.Groups.
type KResult struct {
	K           float64   `json:"k"`
	Radius      int64     `json:"radius"`
	Total       float64   `json:"total"`
	GroupCounts []float64 `json:"group_counts"`
	Proportions []float64 `json:"proportions"`
}

// PointResult holds the per-k results of one point, ordered by ascending k.
type PointResult struct {
	Point   Point     `json:"point"`
	Results []KResult `json:"results"`
}
