// Package dataset implements the in-memory tabular value and the ordered
// normalization rules the reconciler applies to pipeline output, plus the
// join-and-qualify derivation shared with fallback synthesis.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
)

// Table is an in-memory delimited table: an ordered column list and rows of
// column-keyed cells. A column absent from Columns is absent from every row;
// an empty cell is a missing value.
type Table struct {
	Columns []string
	Rows    []map[string]string
}

// ReadCSV parses a comma-delimited table with a header row.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}

	t := &Table{Columns: records[0]}
	for _, rec := range records[1:] {
		row := make(map[string]string, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteCSV emits the table as comma-delimited text with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			rec[i] = row[col]
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Has reports whether the column exists.
func (t *Table) Has(col string) bool {
	return slices.Contains(t.Columns, col)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return len(t.Rows) == 0
}

// Clone returns a deep copy, so rules can stay pure.
func (t *Table) Clone() *Table {
	out := &Table{Columns: slices.Clone(t.Columns)}
	out.Rows = make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		copied := make(map[string]string, len(row))
		for k, v := range row {
			copied[k] = v
		}
		out.Rows = append(out.Rows, copied)
	}
	return out
}

// addColumn appends a column filled per row. No-op if the column exists.
func (t *Table) addColumn(name string, value func(row map[string]string) string) {
	if t.Has(name) {
		return
	}
	t.Columns = append(t.Columns, name)
	for _, row := range t.Rows {
		row[name] = value(row)
	}
}
