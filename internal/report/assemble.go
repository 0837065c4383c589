package report

import (
	"fmt"
	"time"

	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/util"
)

// SheetRows are the query rows destined for one sheet. A title may appear in
// several SheetRows; their rows are appended in order.
type SheetRows struct {
	Title string
	Rows  [][]any
}

// RenderContext carries the dates the header labels are derived from.
type RenderContext struct {
	// AsOf is the requested report date, if any.
	AsOf *time.Time
	// LatestDate is the latest fund date in storage, if any.
	LatestDate *time.Time
}

// Assembler renders templates. The zero value uses the default label format.
type Assembler struct {
	// LabelFormat is a fmt format with one %s for the date, "Статус на %s" by default.
	LabelFormat string
	// LabelDateLayout is the time layout of label dates, "02.01.2006" by default.
	LabelDateLayout string
}

func (a *Assembler) label(t time.Time) string {
	format, layout := "Статус на %s", "02.01.2006"
	if a != nil && a.LabelFormat != "" {
		format = a.LabelFormat
	}
	if a != nil && a.LabelDateLayout != "" {
		layout = a.LabelDateLayout
	}
	return fmt.Sprintf(format, t.Format(layout))
}

func (a *Assembler) labelText(l Label, rc RenderContext) (string, bool) {
	asOf := rc.AsOf
	if asOf == nil {
		asOf = rc.LatestDate
	}
	switch l {
	case LatestDateLabel:
		if rc.LatestDate != nil {
			return a.label(*rc.LatestDate), true
		}
	case AsOfLabel:
		if asOf != nil {
			return a.label(*asOf), true
		}
	case PreviousMonthLabel:
		if asOf != nil {
			return a.label(util.AddMonths(*asOf, -1)), true
		}
	}
	return "", false
}

// Render builds a workbook from tpl: the static cells of every sheet in
// template order, then the data rows, then the date labels. Columns whose
// header carries a DateFormat get it on every appended row.
func (a *Assembler) Render(tpl *ReportTemplate, data []SheetRows, rc RenderContext) (*Workbook, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	wb := &Workbook{Title: tpl.Title}
	specs := make(map[string]WorksheetSpec, len(tpl.Sheets))
	for _, spec := range tpl.Sheets {
		sheet, err := buildSheet(spec)
		if err != nil {
			return nil, fmt.Errorf("sheet '%s': %w", spec.Title, err)
		}
		wb.Sheets = append(wb.Sheets, sheet)
		specs[spec.Title] = spec
	}

	for _, block := range data {
		spec, ok := specs[block.Title]
		if !ok {
			return nil, fmt.Errorf("report '%s' has no sheet '%s'", tpl.Title, block.Title)
		}
		sheet := wb.Sheet(block.Title)
		var dateCols []HeaderCell
		for _, h := range spec.Header {
			if h.DateFormat != "" {
				dateCols = append(dateCols, h)
			}
		}
		for _, values := range block.Rows {
			row := sheet.Append(values...)
			for _, h := range dateCols {
				if err := sheet.SetNumberFormat(row, h.Col, h.DateFormat); err != nil {
					return nil, err
				}
			}
		}
		logging.Logf(logging.Debug, "Appended %d rows to sheet '%s'.", len(block.Rows), block.Title)
	}

	for _, spec := range tpl.Sheets {
		sheet := wb.Sheet(spec.Title)
		for _, h := range spec.Cells() {
			if h.Label == NoLabel {
				continue
			}
			if text, ok := a.labelText(h.Label, rc); ok {
				if _, err := sheet.Set(h.Row, h.Col, text); err != nil {
					return nil, err
				}
			}
		}
	}
	return wb, nil
}

func buildSheet(spec WorksheetSpec) (*Sheet, error) {
	sheet := NewSheet(spec.Title)
	for _, h := range spec.Cells() {
		c, err := sheet.Set(h.Row, h.Col, h.Text)
		if err != nil {
			return nil, err
		}
		c.Style = h.Style
		if h.MergeTo != nil {
			if err := sheet.Merge(CellRef{Row: h.Row, Col: h.Col}, *h.MergeTo); err != nil {
				return nil, err
			}
		}
		if h.Width > 0 {
			if err := sheet.SetColumnWidth(h.Col, h.Width); err != nil {
				return nil, err
			}
		}
	}
	for row, height := range spec.RowHeights {
		if err := sheet.SetRowHeight(row, height); err != nil {
			return nil, err
		}
	}
	return sheet, nil
}
