package table

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geocontext/internal/fetcher"
)

// LoadOptions controls how Load parses an input file.
type LoadOptions struct {
	Delimiter   rune   // CSV delimiter; '\t' is implied for .tsv
	Charset     string // CSV source encoding
	Sheet       string // XLSX sheet name; first sheet when empty
	SkipRows    int    // XLSX leading rows to skip
	NorthColumn string // shapefile coordinate columns
	EastColumn  string
}

// Load reads a table from path, choosing the parser by file extension.
func Load(ctx context.Context, path string, opts LoadOptions) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		t   *Table
		err error
	)
	switch ext {
	case ".csv", ".txt":
		t, err = loadCSV(ctx, path, opts)
	case ".tsv":
		opts.Delimiter = '\t'
		t, err = loadCSV(ctx, path, opts)
	case ".xlsx":
		t, err = loadXLSX(path, opts)
	case ".shp":
		t, err = ReadShapefile(path, ShapefileOptions{
			NorthColumn: opts.NorthColumn,
			EastColumn:  opts.EastColumn,
		})
	default:
		return nil, eris.Errorf("table: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Debug("table: loaded",
		zap.String("path", path),
		zap.Int("columns", len(t.Header)),
		zap.Int("rows", t.Len()),
	)
	return t, nil
}

func loadCSV(ctx context.Context, path string, opts LoadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "table: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	rowCh, errCh := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
		Delimiter: opts.Delimiter,
		Charset:   opts.Charset,
		SkipBlank: true,
	})

	var records [][]string
	for row := range rowCh {
		records = append(records, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "table: read %s", path)
	}

	t, err := FromRecords(records)
	if err != nil {
		return nil, eris.Wrapf(err, "table: %s", path)
	}
	return t, nil
}

func loadXLSX(path string, opts LoadOptions) (*Table, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{
		SheetName: opts.Sheet,
		SkipRows:  opts.SkipRows,
	})
	if err != nil {
		return nil, err
	}

	t, err := FromRecords(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "table: %s", path)
	}
	return t, nil
}
