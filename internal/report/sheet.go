// Package report assembles query results into styled xlsx workbooks.
//
// A Sheet is a sparse grid: only touched cells exist. Templates describe the
// static header of every sheet, the Assembler appends data rows and fills the
// date-derived header labels, and Workbook streams the result through excelize.
package report

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidCellAddress matches any InvalidCellAddressError via errors.Is.
var ErrInvalidCellAddress = errors.New("invalid cell address")

// InvalidCellAddressError reports a row or column below 1.
type InvalidCellAddressError struct {
	Row int
	Col int
}

func (e *InvalidCellAddressError) Error() string {
	return fmt.Sprintf("invalid cell address (row %d, column %d): coordinates are 1-based", e.Row, e.Col)
}

func (e *InvalidCellAddressError) Is(target error) bool {
	return target == ErrInvalidCellAddress
}

// CellRef is a 1-based (row, column) coordinate.
type CellRef struct {
	Row int `validate:"min=1"`
	Col int `validate:"min=1"`
}

func (r CellRef) check() error {
	if r.Row < 1 || r.Col < 1 {
		return &InvalidCellAddressError{Row: r.Row, Col: r.Col}
	}
	return nil
}

// Cell is one touched cell. NumberFormat overrides the style's format.
type Cell struct {
	Value        any
	Style        *Style
	NumberFormat string
}

// MergeRange is an inclusive block of merged cells.
type MergeRange struct {
	From CellRef
	To   CellRef
}

// Sheet is a sparse worksheet.
type Sheet struct {
	Title string

	cells      map[CellRef]*Cell
	maxRow     int
	maxCol     int
	colWidths  map[int]float64
	rowHeights map[int]float64
	merges     []MergeRange
}

// NewSheet returns an empty sheet.
func NewSheet(title string) *Sheet {
	return &Sheet{
		Title:      title,
		cells:      make(map[CellRef]*Cell),
		colWidths:  make(map[int]float64),
		rowHeights: make(map[int]float64),
	}
}

// Get returns the cell at (row, col), or nil when it was never touched.
func (s *Sheet) Get(row, col int) (*Cell, error) {
	ref := CellRef{Row: row, Col: col}
	if err := ref.check(); err != nil {
		return nil, err
	}
	return s.cells[ref], nil
}

func (s *Sheet) touch(ref CellRef) (*Cell, error) {
	if err := ref.check(); err != nil {
		return nil, err
	}
	c, ok := s.cells[ref]
	if !ok {
		c = &Cell{}
		s.cells[ref] = c
		if ref.Row > s.maxRow {
			s.maxRow = ref.Row
		}
		if ref.Col > s.maxCol {
			s.maxCol = ref.Col
		}
	}
	return c, nil
}

// Set writes value at (row, col) and returns the cell.
func (s *Sheet) Set(row, col int, value any) (*Cell, error) {
	c, err := s.touch(CellRef{Row: row, Col: col})
	if err != nil {
		return nil, err
	}
	c.Value = value
	return c, nil
}

// SetStyle sets the style of the cell at (row, col).
func (s *Sheet) SetStyle(row, col int, style *Style) error {
	c, err := s.touch(CellRef{Row: row, Col: col})
	if err != nil {
		return err
	}
	c.Style = style
	return nil
}

// SetNumberFormat sets the display format of the cell at (row, col).
func (s *Sheet) SetNumberFormat(row, col int, format string) error {
	c, err := s.touch(CellRef{Row: row, Col: col})
	if err != nil {
		return err
	}
	c.NumberFormat = format
	return nil
}

// Append writes values to the row after MaxRow, starting at column 1, and
// returns that row number. A nil value still occupies its column.
func (s *Sheet) Append(values ...any) int {
	row := s.maxRow + 1
	for i, v := range values {
		// row and i+1 are always >= 1.
		c, _ := s.touch(CellRef{Row: row, Col: i + 1})
		c.Value = v
	}
	if len(values) == 0 {
		s.maxRow = row
	}
	return row
}

// Merge merges the inclusive block from..to.
func (s *Sheet) Merge(from, to CellRef) error {
	if err := from.check(); err != nil {
		return err
	}
	if err := to.check(); err != nil {
		return err
	}
	if to.Row < from.Row || to.Col < from.Col {
		return fmt.Errorf("merge end (%d,%d) precedes start (%d,%d)", to.Row, to.Col, from.Row, from.Col)
	}
	s.merges = append(s.merges, MergeRange{From: from, To: to})
	return nil
}

// SetColumnWidth sets the width of column col.
func (s *Sheet) SetColumnWidth(col int, width float64) error {
	if col < 1 {
		return &InvalidCellAddressError{Row: 1, Col: col}
	}
	s.colWidths[col] = width
	return nil
}

// SetRowHeight sets the height of row.
func (s *Sheet) SetRowHeight(row int, height float64) error {
	if row < 1 {
		return &InvalidCellAddressError{Row: row, Col: 1}
	}
	s.rowHeights[row] = height
	return nil
}

// MaxRow is the highest touched row, 0 for an empty sheet.
func (s *Sheet) MaxRow() int { return s.maxRow }

// MaxCol is the highest touched column, 0 for an empty sheet.
func (s *Sheet) MaxCol() int { return s.maxCol }

// Len returns the number of touched cells.
func (s *Sheet) Len() int { return len(s.cells) }

// Merges returns the merged blocks in the order they were added.
func (s *Sheet) Merges() []MergeRange { return append([]MergeRange(nil), s.merges...) }

// ColumnWidth returns the width set for col, if any.
func (s *Sheet) ColumnWidth(col int) (float64, bool) {
	w, ok := s.colWidths[col]
	return w, ok
}

// RowHeight returns the height set for row, if any.
func (s *Sheet) RowHeight(row int) (float64, bool) {
	h, ok := s.rowHeights[row]
	return h, ok
}

// rowsInOrder groups the touched cells by row, rows and columns ascending.
func (s *Sheet) rowsInOrder() ([]int, map[int][]CellRef) {
	byRow := make(map[int][]CellRef)
	for ref := range s.cells {
		byRow[ref.Row] = append(byRow[ref.Row], ref)
	}
	for r := range s.rowHeights {
		if _, ok := byRow[r]; !ok {
			byRow[r] = nil
		}
	}
	rows := make([]int, 0, len(byRow))
	for r, refs := range byRow {
		rows = append(rows, r)
		sort.Slice(refs, func(i, j int) bool { return refs[i].Col < refs[j].Col })
	}
	sort.Ints(rows)
	return rows, byRow
}
