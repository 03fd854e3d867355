package table

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// WriteCSV writes the header and rows as comma separated values.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return eris.Wrap(err, "table: write csv header")
	}
	for i := range t.Rows {
		if err := cw.Write(t.padded(i)); err != nil {
			return eris.Wrapf(err, "table: write csv row %d", i)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "table: flush csv")
}

// WriteXLSX saves the table as a single-sheet workbook. Cells of numeric
// columns are stored as numbers; everything else is stored as text.
func WriteXLSX(path string, t *Table, sheetName string) error {
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "table: add sheet %q", sheetName)
	}

	header := sheet.AddRow()
	for _, h := range t.Header {
		header.AddCell().SetString(h)
	}
	numeric := t.numericColumns()
	for i := range t.Rows {
		row := sheet.AddRow()
		for j, v := range t.padded(i) {
			cell := row.AddCell()
			if n, ok := number(v); ok && numeric[j] {
				cell.SetFloat(n)
				continue
			}
			cell.SetString(v)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "table: save %s", path)
	}
	return nil
}

// WriteJSON writes the table as an array of objects keyed by column name, in
// header order. Cells of numeric columns become JSON numbers, with NaN and
// empty cells as null; other cells are JSON strings.
func WriteJSON(w io.Writer, t *Table) error {
	numeric := t.numericColumns()
	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString("[")
	for i := range t.Rows {
		if i > 0 {
			_, _ = bw.WriteString(",")
		}
		_, _ = bw.WriteString("\n  {")
		for j, v := range t.padded(i) {
			if j > 0 {
				_, _ = bw.WriteString(", ")
			}
			key, err := json.Marshal(t.Header[j])
			if err != nil {
				return eris.Wrap(err, "table: encode json key")
			}
			_, _ = bw.Write(key)
			_, _ = bw.WriteString(": ")
			_, _ = bw.WriteString(jsonValue(v, numeric[j]))
		}
		_, _ = bw.WriteString("}")
	}
	if len(t.Rows) > 0 {
		_, _ = bw.WriteString("\n")
	}
	_, _ = bw.WriteString("]\n")
	return eris.Wrap(bw.Flush(), "table: write json")
}

func jsonValue(v string, numeric bool) string {
	if numeric {
		if n, ok := number(v); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
		if v == "" || v == "NaN" {
			return "null"
		}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func (t *Table) numericColumns() []bool {
	out := make([]bool, len(t.Header))
	for j, h := range t.Header {
		out[j] = t.numeric[h]
	}
	return out
}

// number reports whether a cell holds a finite decimal number.
func number(v string) (float64, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, false
	}
	return n, true
}

// padded returns row i extended to the header width.
func (t *Table) padded(i int) []string {
	row := t.Rows[i]
	if len(row) >= len(t.Header) {
		return row[:len(t.Header)]
	}
	out := make([]string, len(t.Header))
	copy(out, row)
	return out
}
