package dataset

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geocontext/internal/geocontext"
	"github.com/sells-group/geocontext/internal/table"
)

func scenarioTables() (*table.Table, *table.Table) {
	points := table.New(
		[]string{"name", "North", "East"},
		[][]string{{"origin", "0", "0"}},
	)
	locations := table.New(
		[]string{"North", "East", "pop", "A"},
		[][]string{
			{"0", "0", "2", "1"},
			{"1", "0", "3", "1"},
			{"0", "2", "4", "1"},
			{"3", "0", "4", "2"},
			{"0", "-5", "5", "0"},
		},
	)
	return points, locations
}

func scenarioFields() Fields {
	f := DefaultFields()
	f.Population = "pop"
	f.Groups = []string{"A"}
	return f
}

func TestComputeContext_Scenario(t *testing.T) {
	points, locations := scenarioTables()
	calc := geocontext.NewCalculator(geocontext.WithConcurrency(2))

	res, err := ComputeContext(context.Background(), calc, points, locations, scenarioFields(), []float64{8, 5})
	require.NoError(t, err)

	assert.Equal(t, []float64{5, 8}, res.Params.KValues)
	assert.Equal(t, []string{
		"name", "North", "East",
		"radius_k5", "total_k5", "group_A_k5",
		"radius_k8", "total_k8", "group_A_k8",
		"prop_A_k5", "prop_A_k8",
	}, res.Table.Header)
	assert.Equal(t, []string{"origin", "0", "0", "1", "5", "2", "2", "9", "3", "0.4", "0.3333333333333333"}, res.Table.Rows[0])

	require.Len(t, res.Points, 1)
	assert.Equal(t, int64(1), res.Points[0].Results[0].Radius)
}

func TestComputeContext_InputUntouched(t *testing.T) {
	points, locations := scenarioTables()
	before := points.Clone()

	_, err := ComputeContext(context.Background(), geocontext.NewCalculator(), points, locations, scenarioFields(), []float64{5})
	require.NoError(t, err)
	assert.Equal(t, before, points)
}

func TestComputeContext_CustomCoordinateFields(t *testing.T) {
	points := table.New([]string{"y", "x"}, [][]string{{"0", "0"}, {"3", "0"}})
	_, locations := scenarioTables()
	f := scenarioFields()
	f.PointNorth, f.PointEast = "y", "x"

	res, err := ComputeContext(context.Background(), geocontext.NewCalculator(), points, locations, f, []float64{4})
	require.NoError(t, err)
	require.Len(t, res.Points, 2)
	assert.Equal(t, 1, res.Points[1].Point.ID)
	assert.Equal(t, 3.0, res.Points[1].Point.North)
}

func TestComputeContext_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Fields)
		field string
	}{
		{"population unset", func(f *Fields) { f.Population = "" }, "population"},
		{"population missing", func(f *Fields) { f.Population = "inhabitants" }, "inhabitants"},
		{"group missing", func(f *Fields) { f.Groups = []string{"A", "B"} }, "B"},
		{"point coordinate", func(f *Fields) { f.PointEast = "lon" }, "lon"},
		{"location coordinate", func(f *Fields) { f.LocationNorth = "lat" }, "lat"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			points, locations := scenarioTables()
			f := scenarioFields()
			tc.edit(&f)

			_, err := ComputeContext(context.Background(), geocontext.NewCalculator(), points, locations, f, []float64{5})
			require.Error(t, err)
			var ce *geocontext.ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestComputeContext_BadCell(t *testing.T) {
	points, locations := scenarioTables()
	locations.Rows[2][2] = "four"

	_, err := ComputeContext(context.Background(), geocontext.NewCalculator(), points, locations, scenarioFields(), []float64{5})
	require.Error(t, err)
	assert.True(t, geocontext.IsConfigurationError(err))
	assert.Contains(t, err.Error(), `locations row 2: "four" is not a number`)
}

func TestComputeContext_EmptyCell(t *testing.T) {
	points, locations := scenarioTables()
	points.Rows[0][2] = " "

	_, err := ComputeContext(context.Background(), geocontext.NewCalculator(), points, locations, scenarioFields(), []float64{5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "points row 0 is empty")
}

func TestComputeContext_Insufficient(t *testing.T) {
	points, locations := scenarioTables()

	_, err := ComputeContext(context.Background(), geocontext.NewCalculator(), points, locations, scenarioFields(), []float64{100})
	require.Error(t, err)
	assert.True(t, geocontext.IsInsufficientPopulation(err))
}

func TestLocations_GroupCounts(t *testing.T) {
	_, locations := scenarioTables()
	locs, err := Locations(locations, scenarioFields())
	require.NoError(t, err)
	require.Len(t, locs, 5)
	assert.Equal(t, geocontext.Location{North: 3, East: 0, Population: 4, Groups: map[string]float64{"A": 2}}, locs[3])
}

func TestFields_WithDefaults(t *testing.T) {
	f := Fields{PointNorth: "y"}.WithDefaults()
	assert.Equal(t, "y", f.PointNorth)
	assert.Equal(t, "East", f.PointEast)
	assert.Equal(t, "North", f.LocationNorth)
	assert.Equal(t, "East", f.LocationEast)
}
