package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Label marks a header cell whose text is derived from the render dates.
type Label int

const (
	// NoLabel keeps the template text.
	NoLabel Label = iota
	// LatestDateLabel shows the latest fund date.
	LatestDateLabel
	// AsOfLabel shows the requested report date, or the latest fund date.
	AsOfLabel
	// PreviousMonthLabel shows the AsOfLabel date minus one calendar month.
	PreviousMonthLabel
)

// HeaderCell is one static cell of a sheet header or seal.
type HeaderCell struct {
	Row   int `validate:"min=1"`
	Col   int `validate:"min=1"`
	Text  string
	Style *Style
	// Width, when set, is the width of the whole column.
	Width float64 `validate:"gte=0"`
	// MergeTo is the inclusive bottom-right corner of a merged block.
	MergeTo *CellRef
	// DateFormat, when set, is applied to this column of every appended row.
	DateFormat string
	Label      Label `validate:"gte=0,lte=3"`
}

func (h HeaderCell) bounds() MergeRange {
	r := MergeRange{From: CellRef{Row: h.Row, Col: h.Col}, To: CellRef{Row: h.Row, Col: h.Col}}
	if h.MergeTo != nil {
		r.To = *h.MergeTo
	}
	return r
}

// WorksheetSpec is the static layout of one sheet.
type WorksheetSpec struct {
	Title      string       `validate:"required,max=31"`
	Header     []HeaderCell `validate:"dive"`
	Seal       []HeaderCell `validate:"dive"`
	RowHeights map[int]float64
}

// Cells returns the seal cells followed by the header cells.
func (w WorksheetSpec) Cells() []HeaderCell {
	return append(append([]HeaderCell(nil), w.Seal...), w.Header...)
}

// ReportTemplate is the ordered list of sheets of one report.
type ReportTemplate struct {
	Title  string          `validate:"required"`
	Sheets []WorksheetSpec `validate:"required,min=1,unique=Title,dive"`
}

// Sheet returns the worksheet titled title.
func (t *ReportTemplate) Sheet(title string) (WorksheetSpec, bool) {
	for _, s := range t.Sheets {
		if s.Title == title {
			return s, true
		}
	}
	return WorksheetSpec{}, false
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that titles are unique, coordinates are 1-based, merge ends
// do not precede their start and no two cells of a sheet cover the same
// coordinate.
func (t *ReportTemplate) Validate() error {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("- %s: failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
			}
			return fmt.Errorf("report template '%s' is invalid:\n%s", t.Title, strings.Join(msgs, "\n"))
		}
		return fmt.Errorf("report template '%s' is invalid: %w", t.Title, err)
	}
	for _, sheet := range t.Sheets {
		owner := make(map[CellRef]string)
		for _, cell := range sheet.Cells() {
			b := cell.bounds()
			if b.To.Row < b.From.Row || b.To.Col < b.From.Col {
				return fmt.Errorf("sheet '%s': merge of (%d,%d) ends before it starts", sheet.Title, cell.Row, cell.Col)
			}
			for r := b.From.Row; r <= b.To.Row; r++ {
				for c := b.From.Col; c <= b.To.Col; c++ {
					ref := CellRef{Row: r, Col: c}
					if prev, taken := owner[ref]; taken {
						return fmt.Errorf("sheet '%s': cell (%d,%d) '%s' overlaps '%s'", sheet.Title, r, c, cell.Text, prev)
					}
					owner[ref] = cell.Text
				}
			}
		}
		for row := range sheet.RowHeights {
			if row < 1 {
				return &InvalidCellAddressError{Row: row, Col: 1}
			}
		}
	}
	return nil
}
