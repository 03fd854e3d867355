package geocontext

import (
	"cmp"
	"math"
	"slices"
)

// MaxCoordinate bounds the absolute value of accepted coordinates. Within it
// every pairwise distance fits an int64.
const MaxCoordinate = 1 << 61

// Distance returns the Euclidean distance between two planar coordinates,
// truncated to an integer. The truncated value is used for both the
// threshold walk and the radius selection. Distances that do not fit an
// int64 saturate at math.MaxInt64.
func Distance(north0, east0, north, east float64) int64 {
	dn := north0 - north
	de := east0 - east
	d := math.Sqrt(dn*dn + de*de)
	if !(d < math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(d)
}

// neighbor is one entry of the per-point scratch buffer.
type neighbor struct {
	dist int64
	idx  int
}

// sortedNeighbors computes the distance from p to every location and returns
// the locations ordered by ascending distance. Ties keep input order.
func sortedNeighbors(p Point, locations []Location) []neighbor {
	buf := make([]neighbor, len(locations))
	for i, loc := range locations {
		buf[i] = neighbor{dist: Distance(p.North, p.East, loc.North, loc.East), idx: i}
	}
	slices.SortStableFunc(buf, func(a, b neighbor) int {
		return cmp.Compare(a.dist, b.dist)
	})
	return buf
}
