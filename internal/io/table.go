package io

import (
	"fmt"
	"strings"
)

// Cell is one extracted spreadsheet value. Null marks an empty or missing cell;
// an empty string is never stored as a non-null value by the loader.
type Cell struct {
	Value string
	Null  bool
}

// TextCell returns a non-null cell holding s.
func TextCell(s string) Cell { return Cell{Value: s} }

// NullCell returns a null cell.
func NullCell() Cell { return Cell{Null: true} }

// String renders the cell for logs and messages.
func (c Cell) String() string {
	if c.Null {
		return "<null>"
	}
	return c.Value
}

// Row is an ordered list of cells aligned with Table.Columns.
type Row []Cell

// ColumnSpec maps one logical column key to its zero-based physical position
// in the sheet, with an optional transform chain applied to every cell.
type ColumnSpec struct {
	Key       string
	Position  int
	Transform string
}

// ColumnMap is an ordered positional column map. Its order defines the column
// order of the extracted table, independent of the sheet's own header text.
type ColumnMap []ColumnSpec

// Validate checks that keys are unique and non-empty and that positions are
// unique and non-negative.
func (m ColumnMap) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("column map is empty")
	}
	var problems []string
	keys := make(map[string]bool, len(m))
	positions := make(map[int]string, len(m))
	for i, spec := range m {
		if strings.TrimSpace(spec.Key) == "" {
			problems = append(problems, fmt.Sprintf("column %d has an empty key", i))
		} else if keys[spec.Key] {
			problems = append(problems, fmt.Sprintf("duplicate key '%s'", spec.Key))
		}
		keys[spec.Key] = true

		if spec.Position < 0 {
			problems = append(problems, fmt.Sprintf("key '%s' has negative position %d", spec.Key, spec.Position))
		} else if other, dup := positions[spec.Position]; dup {
			problems = append(problems, fmt.Sprintf("keys '%s' and '%s' share position %d", other, spec.Key, spec.Position))
		} else {
			positions[spec.Position] = spec.Key
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid column map: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Keys returns the logical keys in map order.
func (m ColumnMap) Keys() []string {
	keys := make([]string, len(m))
	for i, spec := range m {
		keys[i] = spec.Key
	}
	return keys
}

// Table is an in-memory columnar view of one or more sheets.
type Table struct {
	Columns []string
	Rows    []Row
	// UserColumnNames maps a column key to the header text found in the file,
	// used for labels in messages shown to the uploader.
	UserColumnNames map[string]string

	index map[string]int
}

// NewTable returns an empty table with the given column keys.
func NewTable(columns ...string) *Table {
	t := &Table{
		Columns:         append([]string(nil), columns...),
		UserColumnNames: make(map[string]string),
	}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.index[c] = i
	}
}

// Index returns the position of a column key.
func (t *Table) Index(key string) (int, bool) {
	if t.index == nil || len(t.index) != len(t.Columns) {
		t.reindex()
	}
	i, ok := t.index[key]
	return i, ok
}

// MustIndex is Index for keys the caller has already validated; it panics on
// an unknown key.
func (t *Table) MustIndex(key string) int {
	i, ok := t.Index(key)
	if !ok {
		panic(fmt.Sprintf("table has no column '%s'", key))
	}
	return i
}

// Get returns the cell of row under key, or a null cell when the key or the
// position is absent.
func (t *Table) Get(row Row, key string) Cell {
	i, ok := t.Index(key)
	if !ok || i >= len(row) {
		return NullCell()
	}
	return row[i]
}

// Append adds a row, padding it with nulls to the table width.
func (t *Table) Append(row Row) {
	for len(row) < len(t.Columns) {
		row = append(row, NullCell())
	}
	t.Rows = append(t.Rows, row)
}

// AddColumn appends a column filled with fill and returns its position. An
// existing column is overwritten.
func (t *Table) AddColumn(key string, fill Cell) int {
	i, ok := t.Index(key)
	if !ok {
		t.Columns = append(t.Columns, key)
		t.reindex()
		i = len(t.Columns) - 1
	}
	for r := range t.Rows {
		for len(t.Rows[r]) <= i {
			t.Rows[r] = append(t.Rows[r], NullCell())
		}
		t.Rows[r][i] = fill
	}
	return i
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Column returns every cell under key in row order.
func (t *Table) Column(key string) []Cell {
	cells := make([]Cell, 0, len(t.Rows))
	for _, row := range t.Rows {
		cells = append(cells, t.Get(row, key))
	}
	return cells
}

// Record returns the row as a key/value map for expression evaluation. Null
// cells map to the empty string.
func (t *Table) Record(row Row) map[string]interface{} {
	rec := make(map[string]interface{}, len(t.Columns))
	for i, key := range t.Columns {
		if i < len(row) && !row[i].Null {
			rec[key] = row[i].Value
		} else {
			rec[key] = ""
		}
	}
	return rec
}

// Filter keeps the rows for which keep returns true.
func (t *Table) Filter(keep func(Row) (bool, error)) error {
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		ok, err := keep(row)
		if err != nil {
			return err
		}
		if ok {
			kept = append(kept, row)
		}
	}
	t.Rows = kept
	return nil
}
