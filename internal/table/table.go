// Package table holds in-memory tabular collections and loads or writes them
// as CSV, XLSX, JSON, and ESRI shapefiles.
package table

import (
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is a header plus rows of string cells. Rows may be shorter than the
// header; missing cells read as empty. Columns marked numeric are written as
// numbers by WriteJSON and WriteXLSX; all other cells pass through as text.
type Table struct {
	Header []string
	Rows   [][]string

	numeric map[string]bool
}

// New creates a table from a header and rows.
func New(header []string, rows [][]string) *Table {
	return &Table{Header: header, Rows: rows}
}

// FromRecords builds a table whose first record is the header.
func FromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, eris.New("table: no header row")
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return &Table{Header: header, Rows: records[1:]}, nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of a column.
func (t *Table) Index(name string) (int, bool) {
	i := slices.Index(t.Header, name)
	return i, i >= 0
}

// Has reports whether the column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.Index(name)
	return ok
}

// Cell returns the trimmed value at row/col, or "" when the row is short.
func (t *Table) Cell(row, col int) string {
	r := t.Rows[row]
	if col >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[col])
}

// Float parses the named column of a row as a number.
func (t *Table) Float(row int, name string) (float64, error) {
	col, ok := t.Index(name)
	if !ok {
		return 0, eris.Errorf("table: column %q not found", name)
	}
	return t.floatAt(row, col, name)
}

// Floats parses a whole column as numbers.
func (t *Table) Floats(name string) ([]float64, error) {
	col, ok := t.Index(name)
	if !ok {
		return nil, eris.Errorf("table: column %q not found", name)
	}
	out := make([]float64, len(t.Rows))
	for i := range t.Rows {
		v, err := t.floatAt(i, col, name)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (t *Table) floatAt(row, col int, name string) (float64, error) {
	s := t.Cell(row, col)
	if s == "" {
		return 0, eris.Errorf("table: row %d column %q is empty", row, name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "table: row %d column %q", row, name)
	}
	return v, nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	rows := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = slices.Clone(r)
	}
	return &Table{Header: slices.Clone(t.Header), Rows: rows, numeric: maps.Clone(t.numeric)}
}

// MarkNumeric flags columns whose cells are written as numbers.
func (t *Table) MarkNumeric(names ...string) {
	if t.numeric == nil {
		t.numeric = make(map[string]bool, len(names))
	}
	for _, n := range names {
		t.numeric[n] = true
	}
}

// Numeric reports whether a column was marked numeric.
func (t *Table) Numeric(name string) bool {
	return t.numeric[name]
}

// AppendColumns adds numeric columns. values[i] holds the new cells of row i
// in the order of names. Existing columns with the same name are overwritten.
// The columns are marked numeric.
func (t *Table) AppendColumns(names []string, values [][]float64) error {
	if len(values) != len(t.Rows) {
		return eris.Errorf("table: %d value rows for %d table rows", len(values), len(t.Rows))
	}

	target := make([]int, len(names))
	for j, name := range names {
		if i, ok := t.Index(name); ok {
			target[j] = i
			continue
		}
		t.Header = append(t.Header, name)
		target[j] = len(t.Header) - 1
	}

	for i, row := range t.Rows {
		if len(values[i]) != len(names) {
			return eris.Errorf("table: row %d has %d values for %d columns", i, len(values[i]), len(names))
		}
		if len(row) < len(t.Header) {
			row = append(row, make([]string, len(t.Header)-len(row))...)
		}
		for j, v := range values[i] {
			row[target[j]] = FormatFloat(v)
		}
		t.Rows[i] = row
	}
	t.MarkNumeric(names...)
	return nil
}

// FormatFloat renders a number with the shortest exact representation. NaN is
// written as "NaN".
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
