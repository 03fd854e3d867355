package table

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// ShapefileOptions names the columns that receive each record's
// representative coordinate. North is the Y axis, East the X axis.
type ShapefileOptions struct {
	NorthColumn string
	EastColumn  string
}

// ReadShapefile loads a shapefile as a table: one row per record, DBF
// attributes as columns, plus the representative coordinate of the geometry.
// Records with null or unsupported geometry are skipped.
func ReadShapefile(path string, opts ShapefileOptions) (*Table, error) {
	if opts.NorthColumn == "" {
		opts.NorthColumn = "North"
	}
	if opts.EastColumn == "" {
		opts.EastColumn = "East"
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", path)
	}
	defer reader.Close() //nolint:errcheck

	fields := reader.Fields()
	header := make([]string, 0, len(fields)+2)
	for _, f := range fields {
		header = append(header, strings.TrimRight(f.String(), "\x00"))
	}
	northCol, eastCol := -1, -1
	for i, h := range header {
		switch h {
		case opts.NorthColumn:
			northCol = i
		case opts.EastColumn:
			eastCol = i
		}
	}
	if northCol < 0 {
		header = append(header, opts.NorthColumn)
		northCol = len(header) - 1
	}
	if eastCol < 0 {
		header = append(header, opts.EastColumn)
		eastCol = len(header) - 1
	}

	t := &Table{Header: header}
	skipped := 0
	for reader.Next() {
		_, shape := reader.Shape()
		c, ok := representative(shape)
		if !ok {
			skipped++
			continue
		}

		row := make([]string, len(header))
		for i := range fields {
			row[i] = strings.TrimSpace(reader.Attribute(i))
		}
		row[northCol] = FormatFloat(c.Y())
		row[eastCol] = FormatFloat(c.X())
		t.Rows = append(t.Rows, row)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "shapefile: read %s", path)
	}

	if skipped > 0 {
		zap.L().Debug("shapefile: skipped records without usable geometry",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return t, nil
}

// representative reduces a shapefile geometry to one coordinate: the point
// itself, or the centroid of a polygon, polyline or point set.
func representative(shape shp.Shape) (geom.Coord, bool) {
	var g geom.T
	switch s := shape.(type) {
	case *shp.Point:
		return geom.Coord{s.X, s.Y}, true
	case *shp.PointZ:
		return geom.Coord{s.X, s.Y}, true
	case *shp.PointM:
		return geom.Coord{s.X, s.Y}, true
	case *shp.Polygon:
		g = toMultiPolygon(s.Parts, s.Points)
	case *shp.PolygonZ:
		g = toMultiPolygon(s.Parts, s.Points)
	case *shp.PolyLine:
		g = toMultiLineString(s.Parts, s.Points)
	case *shp.PolyLineZ:
		g = toMultiLineString(s.Parts, s.Points)
	case *shp.MultiPoint:
		if len(s.Points) == 0 {
			return nil, false
		}
		g = geom.NewMultiPointFlat(geom.XY, flatCoords(s.Points))
	default:
		return nil, false
	}
	if g == nil || len(g.FlatCoords()) == 0 {
		return nil, false
	}

	c, err := xy.Centroid(g)
	if err != nil || len(c) < 2 {
		// Degenerate geometry: fall back to the bounding box center.
		b := g.Bounds()
		return geom.Coord{(b.Min(0) + b.Max(0)) / 2, (b.Min(1) + b.Max(1)) / 2}, true
	}
	return c, true
}

// toMultiPolygon groups shapefile rings into polygons. Shapefile outer rings
// run clockwise and holes counter-clockwise; a hole attaches to the polygon
// of the preceding outer ring.
func toMultiPolygon(parts []int32, points []shp.Point) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY)
	var current *geom.Polygon
	for _, ring := range splitParts(parts, points) {
		if len(ring) < 4 {
			zap.L().Debug("shapefile: skipping degenerate ring", zap.Int("points", len(ring)))
			continue
		}
		lr := geom.NewLinearRingFlat(geom.XY, flatCoords(ring))
		if current == nil || signedArea(ring) <= 0 {
			if current != nil {
				if err := mp.Push(current); err != nil {
					zap.L().Debug("shapefile: push polygon", zap.Error(err))
				}
			}
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(lr); err != nil {
			zap.L().Debug("shapefile: push ring", zap.Error(err))
		}
	}
	if current != nil {
		if err := mp.Push(current); err != nil {
			zap.L().Debug("shapefile: push polygon", zap.Error(err))
		}
	}
	return mp
}

func toMultiLineString(parts []int32, points []shp.Point) *geom.MultiLineString {
	mls := geom.NewMultiLineString(geom.XY)
	for _, line := range splitParts(parts, points) {
		if len(line) < 2 {
			continue
		}
		ls := geom.NewLineStringFlat(geom.XY, flatCoords(line))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("shapefile: push line", zap.Error(err))
		}
	}
	return mls
}

func splitParts(parts []int32, points []shp.Point) [][]shp.Point {
	if len(parts) == 0 {
		return [][]shp.Point{points}
	}
	out := make([][]shp.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		out = append(out, points[start:end])
	}
	return out
}

// signedArea is positive for counter-clockwise rings.
func signedArea(ring []shp.Point) float64 {
	var a float64
	for i := 0; i+1 < len(ring); i++ {
		a += ring[i].X*ring[i+1].Y - ring[i+1].X*ring[i].Y
	}
	return a / 2
}

func flatCoords(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}
