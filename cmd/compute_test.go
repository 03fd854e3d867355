package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geocontext/internal/config"
	"github.com/sells-group/geocontext/internal/geocontext"
	"github.com/sells-group/geocontext/internal/job"
	"github.com/sells-group/geocontext/internal/store"
	"github.com/sells-group/geocontext/internal/table"
)

const (
	pointsCSV    = "name,North,East\norigin,0,0\n"
	locationsCSV = "North,East,pop,A\n0,0,2,1\n1,0,3,1\n0,2,4,1\n3,0,4,2\n0,-5,5,0\n"
)

func setTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev := cfg
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "runs.db")},
		Input: config.InputConfig{Delimiter: ",", TempDir: filepath.Join(dir, "downloads")},
		Fetch: config.FetchConfig{TimeoutSecs: 5, MaxRetries: 0, UserAgent: "geocontext-test"},
	}
	t.Cleanup(func() { cfg = prev })
	return dir
}

func writeInputs(t *testing.T, dir string) (string, string) {
	t.Helper()
	points := filepath.Join(dir, "points.csv")
	locations := filepath.Join(dir, "locations.csv")
	require.NoError(t, os.WriteFile(points, []byte(pointsCSV), 0o644))
	require.NoError(t, os.WriteFile(locations, []byte(locationsCSV), 0o644))
	return points, locations
}

func testJob(points, locations string) *job.Job {
	return &job.Job{
		Name:       "origin",
		Points:     job.Input{Path: points},
		Locations:  job.Input{Path: locations},
		Population: "pop",
		Groups:     []string{"A"},
		KValues:    []float64{8, 5},
	}
}

func TestRunJob(t *testing.T) {
	dir := setTestConfig(t)
	points, locations := writeInputs(t, dir)

	res, err := runJob(context.Background(), geocontext.NewCalculator(), nil, testJob(points, locations))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"name", "North", "East",
		"radius_k5", "total_k5", "group_A_k5",
		"radius_k8", "total_k8", "group_A_k8",
		"prop_A_k5", "prop_A_k8",
	}, res.Table.Header)
	assert.Equal(t, []string{"origin", "0", "0", "1", "5", "2", "2", "9", "3", "0.4", "0.3333333333333333"}, res.Table.Rows[0])
}

func TestRunJob_Persist(t *testing.T) {
	dir := setTestConfig(t)
	points, locations := writeInputs(t, dir)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, err = runJob(context.Background(), geocontext.NewCalculator(), st, testJob(points, locations))
	require.NoError(t, err)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusComplete, runs[0].Status)
	assert.Equal(t, "origin", runs[0].Name)
	assert.Equal(t, 1, runs[0].PointCount)
	assert.Equal(t, points, runs[0].Points)

	rows, err := st.GetResults(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunJob_PersistFailure(t *testing.T) {
	dir := setTestConfig(t)
	points, locations := writeInputs(t, dir)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	j := testJob(points, locations)
	j.KValues = []float64{100}
	_, err = runJob(context.Background(), geocontext.NewCalculator(), st, j)
	require.Error(t, err)
	assert.True(t, geocontext.IsInsufficientPopulation(err))

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Status: store.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].Error)
}

func TestRunJob_MissingInput(t *testing.T) {
	dir := setTestConfig(t)
	_, locations := writeInputs(t, dir)

	_, err := runJob(context.Background(), geocontext.NewCalculator(), nil, testJob(filepath.Join(dir, "nope.csv"), locations))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve: input")
}

func TestRunJob_MissingColumn(t *testing.T) {
	dir := setTestConfig(t)
	points, locations := writeInputs(t, dir)

	j := testJob(points, locations)
	j.Groups = []string{"B"}
	_, err := runJob(context.Background(), geocontext.NewCalculator(), nil, j)
	require.Error(t, err)
	assert.True(t, geocontext.IsConfigurationError(err))
}

func TestJobFromFlags(t *testing.T) {
	dir := t.TempDir()
	jobYAML := `
job:
  name: from-file
  points:
    path: points.csv
  locations:
    path: grid.shp
    north: y
    east: x
  population: pop
  groups: [A, B]
  k_values: [500]
  output:
    path: out.json
`
	jobPath := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(jobPath, []byte(jobYAML), 0o644))

	cmd := &cobra.Command{Use: "compute"}
	defineComputeFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--job", jobPath,
		"--k", "100", "--k", "200",
		"--population", "total",
	}))

	j, err := jobFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from-file", j.Name)
	assert.Equal(t, filepath.Join(dir, "points.csv"), j.Points.Path)
	assert.Equal(t, "y", j.Locations.North)
	assert.Equal(t, "total", j.Population)
	assert.Equal(t, []string{"A", "B"}, j.Groups)
	assert.Equal(t, []float64{100, 200}, j.KValues)
	assert.Equal(t, "json", j.Output.Format)
}

func TestJobFromFlags_FlagsOnly(t *testing.T) {
	cmd := &cobra.Command{Use: "compute"}
	defineComputeFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--points", "p.csv",
		"--locations", "l.xlsx",
		"--population", "pop",
		"--group", "A,B",
		"--k", "5",
		"-o", "out.xlsx",
	}))

	j, err := jobFromFlags(cmd)
	require.NoError(t, err)
	require.NoError(t, j.Validate())
	assert.Equal(t, []string{"A", "B"}, j.Groups)
	assert.Equal(t, "xlsx", j.Output.Format)
}

func TestWriteOutput(t *testing.T) {
	tbl := table.New([]string{"name", "prop_A_k5"}, [][]string{{"origin", "NaN"}})
	tbl.MarkNumeric("prop_A_k5")

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, tbl, job.Output{}))
	assert.Equal(t, "name,prop_A_k5\norigin,NaN\n", buf.String())

	buf.Reset()
	require.NoError(t, writeOutput(&buf, tbl, job.Output{Format: "json"}))
	assert.JSONEq(t, `[{"name":"origin","prop_A_k5":null}]`, buf.String())

	err := writeOutput(&buf, tbl, job.Output{Format: "xlsx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires --output")

	err = writeOutput(&buf, tbl, job.Output{Format: "parquet"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestWriteOutput_Files(t *testing.T) {
	dir := t.TempDir()
	tbl := table.New([]string{"name", "radius_k5"}, [][]string{{"origin", "1"}})
	tbl.MarkNumeric("radius_k5")

	csvPath := filepath.Join(dir, "out.csv")
	require.NoError(t, writeOutput(nil, tbl, job.Output{Path: csvPath}))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "name,radius_k5\norigin,1\n", string(data))

	xlsxPath := filepath.Join(dir, "out.xlsx")
	require.NoError(t, writeOutput(nil, tbl, job.Output{Path: xlsxPath}))
	back, err := table.Load(context.Background(), xlsxPath, table.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, tbl.Header, back.Header)
	require.Equal(t, 1, back.Len())
	v, err := back.Float(0, "radius_k5")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestPrintColumns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printColumns(&buf, []string{"A"}, []float64{10, 5, 10}))
	assert.Equal(t, "radius_k5\ntotal_k5\ngroup_A_k5\nradius_k10\ntotal_k10\ngroup_A_k10\nprop_A_k5\nprop_A_k10\n", buf.String())
}

func TestWriteOutput_FileErrors(t *testing.T) {
	dir := t.TempDir()
	tbl := table.New([]string{"name"}, [][]string{{"origin"}})

	bad := filepath.Join(dir, "out.parquet")
	err := writeOutput(nil, tbl, job.Output{Path: bad, Format: "parquet"})
	require.Error(t, err)
	assert.NoFileExists(t, bad)

	err = writeOutput(nil, tbl, job.Output{Path: filepath.Join(dir, "missing", "out.csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compute: create")

	if _, statErr := os.Stat("/dev/full"); statErr != nil {
		t.Skip("no /dev/full")
	}
	err = writeOutput(nil, tbl, job.Output{Path: "/dev/full", Format: "csv"})
	require.Error(t, err, "a full device must surface as an error")
}
