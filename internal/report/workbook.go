package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"fieldops-etl/internal/logging"

	"github.com/xuri/excelize/v2"
)

// Workbook is a rendered report, kept in memory until written.
type Workbook struct {
	Title  string
	Sheets []*Sheet
}

// Sheet returns the sheet titled title, or nil.
func (w *Workbook) Sheet(title string) *Sheet {
	for _, s := range w.Sheets {
		if s.Title == title {
			return s
		}
	}
	return nil
}

// WriteTo serializes the workbook as xlsx.
func (w *Workbook) WriteTo(out io.Writer) (int64, error) {
	f, err := w.build()
	if err != nil {
		return 0, err
	}
	defer closeFile(f)
	return f.WriteTo(out)
}

// SaveAs writes the workbook to path, creating its directory.
func (w *Workbook) SaveAs(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory '%s': %w", dir, err)
		}
	}
	f, err := w.build()
	if err != nil {
		return err
	}
	defer closeFile(f)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report '%s': %w", path, err)
	}
	logging.Logf(logging.Info, "Saved report '%s' with %d sheets to %s.", w.Title, len(w.Sheets), path)
	return nil
}

func closeFile(f *excelize.File) {
	if err := f.Close(); err != nil {
		logging.Logf(logging.Warning, "Failed to close excelize file object: %v", err)
	}
}

func (w *Workbook) build() (*excelize.File, error) {
	if len(w.Sheets) == 0 {
		return nil, fmt.Errorf("report '%s' has no sheets", w.Title)
	}
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", w.Sheets[0].Title); err != nil {
		closeFile(f)
		return nil, fmt.Errorf("failed to name sheet '%s': %w", w.Sheets[0].Title, err)
	}
	for _, s := range w.Sheets[1:] {
		if _, err := f.NewSheet(s.Title); err != nil {
			closeFile(f)
			return nil, fmt.Errorf("failed to create sheet '%s': %w", s.Title, err)
		}
	}
	if w.Title != "" {
		if err := f.SetDocProps(&excelize.DocProperties{Title: w.Title}); err != nil {
			logging.Logf(logging.Warning, "Failed to set document title: %v", err)
		}
	}

	styles := make(map[Style]int)
	for _, s := range w.Sheets {
		if err := writeSheet(f, s, styles); err != nil {
			closeFile(f)
			return nil, fmt.Errorf("failed to write sheet '%s': %w", s.Title, err)
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

func styleID(f *excelize.File, styles map[Style]int, c *Cell) (int, error) {
	st, ok := c.effective()
	if !ok {
		return 0, nil
	}
	if id, ok := styles[st]; ok {
		return id, nil
	}
	id, err := f.NewStyle(st.toExcelize())
	if err != nil {
		return 0, err
	}
	styles[st] = id
	return id, nil
}

// writeSheet streams one sheet: column widths first, then rows in ascending
// order, then merges.
func writeSheet(f *excelize.File, s *Sheet, styles map[Style]int) error {
	sw, err := f.NewStreamWriter(s.Title)
	if err != nil {
		return err
	}

	cols := make([]int, 0, len(s.colWidths))
	for c := range s.colWidths {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	for _, c := range cols {
		if err := sw.SetColWidth(c, c, s.colWidths[c]); err != nil {
			return err
		}
	}

	rows, byRow := s.rowsInOrder()
	for _, r := range rows {
		refs := byRow[r]
		width := 0
		if len(refs) > 0 {
			width = refs[len(refs)-1].Col
		}
		values := make([]interface{}, width)
		for _, ref := range refs {
			c := s.cells[ref]
			id, err := styleID(f, styles, c)
			if err != nil {
				return err
			}
			if id == 0 {
				values[ref.Col-1] = c.Value
				continue
			}
			values[ref.Col-1] = excelize.Cell{StyleID: id, Value: c.Value}
		}
		axis, err := excelize.CoordinatesToCellName(1, r)
		if err != nil {
			return err
		}
		var opts []excelize.RowOpts
		if h, ok := s.rowHeights[r]; ok {
			opts = append(opts, excelize.RowOpts{Height: h})
		}
		if err := sw.SetRow(axis, values, opts...); err != nil {
			return err
		}
	}

	for _, m := range s.merges {
		from, err := excelize.CoordinatesToCellName(m.From.Col, m.From.Row)
		if err != nil {
			return err
		}
		to, err := excelize.CoordinatesToCellName(m.To.Col, m.To.Row)
		if err != nil {
			return err
		}
		if err := sw.MergeCell(from, to); err != nil {
			return err
		}
	}
	return sw.Flush()
}
