package job

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJob = `
job:
  name: stockholm-2018
  points: {path: points.csv, north: y, east: x}
  locations: {path: https://example.org/grid.zip}
  population: pop
  groups: [foreign_born, native]
  k_values: [800, 200, 1600]
  output: {path: out/context.xlsx}
`

func writeJob(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeJob(t, sampleJob)
	dir := filepath.Dir(path)

	j, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "stockholm-2018", j.Name)
	assert.Equal(t, filepath.Join(dir, "points.csv"), j.Points.Path)
	assert.Equal(t, "https://example.org/grid.zip", j.Locations.Path)
	assert.Equal(t, "pop", j.Population)
	assert.Equal(t, []string{"foreign_born", "native"}, j.Groups)
	assert.Equal(t, []float64{800, 200, 1600}, j.KValues)
	assert.Equal(t, filepath.Join(dir, "out", "context.xlsx"), j.Output.Path)
	assert.Equal(t, "xlsx", j.Output.Format)
	assert.NoError(t, j.Validate())
}

func TestLoad_AbsolutePathKept(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "points.csv")
	j, err := Load(writeJob(t, "job:\n  points: {path: "+abs+"}\n"))
	require.NoError(t, err)
	assert.Equal(t, abs, j.Points.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job: read")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeJob(t, "job: [oops"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job: parse")
}

func TestValidate_Missing(t *testing.T) {
	j := &Job{KValues: []float64{5, -1}, Output: Output{Format: "parquet"}}
	err := j.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"points.path is required",
		"locations.path is required",
		"population is required",
		"k_values must be positive",
		"output.format must be one of csv, xlsx, json",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_EmptyKValues(t *testing.T) {
	j := &Job{
		Points:     Input{Path: "p.csv"},
		Locations:  Input{Path: "l.csv"},
		Population: "pop",
	}
	err := j.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "k_values must not be empty")
}

func TestFields(t *testing.T) {
	j, err := Load(writeJob(t, sampleJob))
	require.NoError(t, err)

	f := j.Fields()
	assert.Equal(t, "y", f.PointNorth)
	assert.Equal(t, "x", f.PointEast)
	assert.Equal(t, "North", f.LocationNorth)
	assert.Equal(t, "East", f.LocationEast)
	assert.Equal(t, "pop", f.Population)
	assert.Equal(t, []string{"foreign_born", "native"}, f.Groups)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, "csv", FormatFromPath(""))
	assert.Equal(t, "csv", FormatFromPath("out.csv"))
	assert.Equal(t, "xlsx", FormatFromPath("OUT.XLSX"))
	assert.Equal(t, "json", FormatFromPath("out.json"))
}
