package table

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_CSV(t *testing.T) {
	path := writeFile(t, "points.csv", "North,East,name\n1,2,\"a, b\"\n\n3,4,c\n")
	tbl, err := Load(context.Background(), path, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"North", "East", "name"}, tbl.Header)
	assert.Equal(t, [][]string{{"1", "2", "a, b"}, {"3", "4", "c"}}, tbl.Rows)
}

func TestLoad_CSVDelimiterAndCharset(t *testing.T) {
	path := writeFile(t, "grid.txt", "North;East;ort\n1;2;Malm\xf6\n")
	tbl, err := Load(context.Background(), path, LoadOptions{Delimiter: ';', Charset: "latin1"})
	require.NoError(t, err)
	assert.Equal(t, "Malmö", tbl.Rows[0][2])
}

func TestLoad_TSV(t *testing.T) {
	path := writeFile(t, "grid.tsv", "North\tEast\n5\t6\n")
	tbl, err := Load(context.Background(), path, LoadOptions{Delimiter: ','})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"5", "6"}}, tbl.Rows)
}

func TestLoad_EmptyCSV(t *testing.T) {
	path := writeFile(t, "empty.csv", "")
	_, err := Load(context.Background(), path, LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}

func TestLoad_Unsupported(t *testing.T) {
	_, err := Load(context.Background(), "grid.parquet", LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "none.csv"), LoadOptions{})
	require.Error(t, err)
}

func TestLoad_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("grid")
	require.NoError(t, err)
	for _, r := range [][]string{{"note"}, {"North", "East", "pop"}, {"1", "2", "3"}} {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "grid.xlsx")
	require.NoError(t, f.Save(path))

	tbl, err := Load(context.Background(), path, LoadOptions{Sheet: "grid", SkipRows: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"North", "East", "pop"}, tbl.Header)
	assert.Equal(t, [][]string{{"1", "2", "3"}}, tbl.Rows)
}

func TestLoad_ShapefilePoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	w.SetFields([]shp.Field{
		shp.StringField("NAME", 16),
		shp.NumberField("POP", 10),
	})
	for i, p := range []shp.Point{{X: 3, Y: 4}, {X: -1.5, Y: 7}} {
		n := w.Write(&p)
		require.NoError(t, w.WriteAttribute(int(n), 0, "site"+strconv.Itoa(i)))
		require.NoError(t, w.WriteAttribute(int(n), 1, 10*(i+1)))
	}
	w.Close()

	tbl, err := Load(context.Background(), path, LoadOptions{NorthColumn: "y", EastColumn: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"NAME", "POP", "y", "x"}, tbl.Header)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"site0", "10", "4", "3"}, tbl.Rows[0])
	assert.Equal(t, []string{"site1", "20", "7", "-1.5"}, tbl.Rows[1])
}

func TestReadShapefile_PolygonCentroid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocks.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	w.SetFields([]shp.Field{shp.StringField("GEOID", 8)})

	square := &shp.Polygon{
		NumParts:  1,
		NumPoints: 5,
		Parts:     []int32{0},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 0, Y: 2}, {X: 2, Y: 2}, {X: 2, Y: 0}, {X: 0, Y: 0},
		},
	}
	n := w.Write(square)
	require.NoError(t, w.WriteAttribute(int(n), 0, "B1"))
	w.Close()

	tbl, err := ReadShapefile(path, ShapefileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"GEOID", "North", "East"}, tbl.Header)
	require.Equal(t, 1, tbl.Len())
	north, err := tbl.Float(0, "North")
	require.NoError(t, err)
	east, err := tbl.Float(0, "East")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, north, 1e-9)
	assert.InDelta(t, 1.0, east, 1e-9)
}

func TestRepresentative_PolygonWithHole(t *testing.T) {
	poly := &shp.Polygon{
		NumParts: 2,
		Parts:    []int32{0, 5},
		Points: []shp.Point{
			// outer ring, clockwise
			{X: 0, Y: 0}, {X: 0, Y: 4}, {X: 4, Y: 4}, {X: 4, Y: 0}, {X: 0, Y: 0},
			// hole, counter-clockwise
			{X: 2, Y: 1}, {X: 3, Y: 1}, {X: 3, Y: 3}, {X: 2, Y: 3}, {X: 2, Y: 1},
		},
	}
	c, ok := representative(poly)
	require.True(t, ok)
	assert.InDelta(t, 27.0/14.0, c.X(), 1e-9)
	assert.InDelta(t, 2.0, c.Y(), 1e-9)
}

func TestRepresentative_PolyLine(t *testing.T) {
	line := &shp.PolyLine{
		NumParts: 1,
		Parts:    []int32{0},
		Points:   []shp.Point{{X: 0, Y: 0}, {X: 4, Y: 0}},
	}
	c, ok := representative(line)
	require.True(t, ok)
	assert.InDelta(t, 2.0, c.X(), 1e-9)
	assert.InDelta(t, 0.0, c.Y(), 1e-9)
}

func TestRepresentative_Unsupported(t *testing.T) {
	_, ok := representative(nil)
	assert.False(t, ok)

	_, ok = representative(&shp.MultiPoint{})
	assert.False(t, ok)
}

func TestSplitParts(t *testing.T) {
	pts := []shp.Point{{X: 0}, {X: 1}, {X: 2}, {X: 3}}
	assert.Len(t, splitParts(nil, pts), 1)

	parts := splitParts([]int32{0, 1}, pts)
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 1)
	assert.Len(t, parts[1], 3)
}
