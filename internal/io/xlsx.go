package io

import (
	"fmt"
	goio "io"
	"strings"

	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/transform"

	"github.com/xuri/excelize/v2"
)

// Source is an xlsx workbook to extract from: a path on disk or a byte stream.
type Source interface {
	Open(opts ...excelize.Options) (*excelize.File, error)
	Name() string
}

// PathSource opens a workbook from the filesystem.
type PathSource string

func (p PathSource) Open(opts ...excelize.Options) (*excelize.File, error) {
	return excelize.OpenFile(string(p), opts...)
}

func (p PathSource) Name() string { return string(p) }

// ReaderSource reads a workbook from a byte stream, e.g. an upload piped on stdin.
type ReaderSource struct {
	Label  string
	Reader goio.Reader
}

func (r ReaderSource) Open(opts ...excelize.Options) (*excelize.File, error) {
	return excelize.OpenReader(r.Reader, opts...)
}

func (r ReaderSource) Name() string {
	if r.Label == "" {
		return "<stream>"
	}
	return r.Label
}

// Loader extracts sheets positionally according to a ColumnMap.
//
// The first HeaderSkipRows rows of a sheet are skipped, the next row is the
// nominal header (kept only as display names) and every later row is data.
// Only the positions named in Columns are read; absent or empty cells are null
// and rows with every mapped cell null are dropped.
type Loader struct {
	// Sheets selects sheets by name. Load uses the first entry (or the
	// workbook's first sheet when empty); LoadSheets uses all of them in order.
	Sheets         []string
	HeaderSkipRows int
	Columns        ColumnMap
}

type compiledColumn struct {
	spec ColumnSpec
	tf   transform.Func
}

func (l *Loader) compile() ([]compiledColumn, error) {
	if l.HeaderSkipRows < 0 {
		return nil, fmt.Errorf("header_skip_rows must be >= 0, got %d", l.HeaderSkipRows)
	}
	if err := l.Columns.Validate(); err != nil {
		return nil, err
	}
	cols := make([]compiledColumn, len(l.Columns))
	for i, spec := range l.Columns {
		cols[i].spec = spec
		if spec.Transform != "" {
			tf, err := transform.Chain(spec.Transform)
			if err != nil {
				return nil, fmt.Errorf("column '%s': %w", spec.Key, err)
			}
			cols[i].tf = tf
		}
	}
	return cols, nil
}

func (l *Loader) open(src Source) (*excelize.File, error) {
	f, err := src.Open(excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook '%s': %w", src.Name(), err)
	}
	if len(f.GetSheetList()) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("workbook '%s' contains no sheets", src.Name())
	}
	return f, nil
}

func closeWorkbook(f *excelize.File, name string) {
	if err := f.Close(); err != nil {
		logging.Logf(logging.Error, "Failed to close workbook '%s': %v", name, err)
	}
}

func hasSheet(f *excelize.File, sheet string) bool {
	for _, name := range f.GetSheetList() {
		if name == sheet {
			return true
		}
	}
	return false
}

// Load extracts one sheet into a Table. A table with no data rows is ErrEmptyFile.
func (l *Loader) Load(src Source) (*Table, error) {
	cols, err := l.compile()
	if err != nil {
		return nil, err
	}
	f, err := l.open(src)
	if err != nil {
		return nil, err
	}
	defer closeWorkbook(f, src.Name())

	sheet := f.GetSheetList()[0]
	if len(l.Sheets) > 0 && l.Sheets[0] != "" {
		sheet = l.Sheets[0]
	}
	table, err := l.readTable(f, sheet, cols)
	if err != nil {
		return nil, err
	}
	if table.Len() == 0 {
		logging.Logf(logging.Warning, "Sheet '%s' of '%s' has no data rows.", sheet, src.Name())
		return nil, ErrEmptyFile
	}
	logging.Logf(logging.Info, "Loaded %d rows from sheet '%s' of '%s'.", table.Len(), sheet, src.Name())
	return table, nil
}

// LoadSheets extracts every selected sheet and returns the tables keyed by
// sheet name together with the sheet order. With no selector every sheet of
// the workbook is loaded. ErrEmptyFile applies to the combined row count.
func (l *Loader) LoadSheets(src Source) (map[string]*Table, []string, error) {
	cols, err := l.compile()
	if err != nil {
		return nil, nil, err
	}
	f, err := l.open(src)
	if err != nil {
		return nil, nil, err
	}
	defer closeWorkbook(f, src.Name())

	order := l.Sheets
	if len(order) == 0 {
		order = f.GetSheetList()
	}
	tables := make(map[string]*Table, len(order))
	total := 0
	for _, sheet := range order {
		table, err := l.readTable(f, sheet, cols)
		if err != nil {
			return nil, nil, err
		}
		tables[sheet] = table
		total += table.Len()
		logging.Logf(logging.Debug, "Sheet '%s': %d data rows.", sheet, table.Len())
	}
	if total == 0 {
		return nil, nil, ErrEmptyFile
	}
	logging.Logf(logging.Info, "Loaded %d rows from %d sheets of '%s'.", total, len(order), src.Name())
	return tables, append([]string(nil), order...), nil
}

// Stream walks the data rows of one sheet without materializing a Table and
// returns the number of rows passed to fn. It does not apply the empty check.
func (l *Loader) Stream(src Source, sheet string, fn func(Row) error) (int, error) {
	cols, err := l.compile()
	if err != nil {
		return 0, err
	}
	f, err := l.open(src)
	if err != nil {
		return 0, err
	}
	defer closeWorkbook(f, src.Name())
	if sheet == "" {
		sheet = f.GetSheetList()[0]
	}
	count := 0
	_, err = l.walk(f, sheet, cols, func(row Row) error {
		count++
		return fn(row)
	})
	return count, err
}

func (l *Loader) readTable(f *excelize.File, sheet string, cols []compiledColumn) (*Table, error) {
	table := NewTable(l.Columns.Keys()...)
	header, err := l.walk(f, sheet, cols, func(row Row) error {
		table.Rows = append(table.Rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	table.UserColumnNames = header
	return table, nil
}

// walk drives the excelize row iterator over one sheet and returns the
// nominal header text per key.
func (l *Loader) walk(f *excelize.File, sheet string, cols []compiledColumn, fn func(Row) error) (map[string]string, error) {
	if !hasSheet(f, sheet) {
		return nil, &SheetNotFoundError{Sheet: sheet}
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate sheet '%s': %w", sheet, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Logf(logging.Warning, "Failed to close row iterator for sheet '%s': %v", sheet, err)
		}
	}()

	header := make(map[string]string, len(cols))
	rowNum := 0
	for rows.Next() {
		rowNum++
		raw, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d of sheet '%s': %w", rowNum, sheet, err)
		}
		if rowNum <= l.HeaderSkipRows {
			continue
		}
		if rowNum == l.HeaderSkipRows+1 {
			for _, c := range cols {
				if c.spec.Position < len(raw) {
					header[c.spec.Key] = strings.TrimSpace(raw[c.spec.Position])
				}
			}
			continue
		}

		row := make(Row, len(cols))
		blank := true
		for i, c := range cols {
			cell := NullCell()
			if c.spec.Position < len(raw) && raw[c.spec.Position] != "" {
				cell = TextCell(raw[c.spec.Position])
			}
			if c.tf != nil {
				cell.Value, cell.Null = c.tf(cell.Value, cell.Null)
				if cell.Null || cell.Value == "" {
					cell = NullCell()
				}
			}
			if !cell.Null {
				blank = false
			}
			row[i] = cell
		}
		if blank {
			continue
		}
		if err := fn(row); err != nil {
			return nil, err
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate sheet '%s': %w", sheet, err)
	}
	return header, nil
}
