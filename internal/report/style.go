package report

import "github.com/xuri/excelize/v2"

// Style is the subset of cell formatting the reports use. It is comparable
// so equal styles share one excelize style id.
type Style struct {
	FontName     string
	FontSize     float64
	FontColor    string
	ThinBorder   bool
	Horizontal   string
	Vertical     string
	WrapText     bool
	NumberFormat string
}

// HeaderStyle is the table header style: Calibri 11, black, thin borders,
// centered and wrapped.
func HeaderStyle() *Style {
	return &Style{
		FontName:   "Calibri",
		FontSize:   11,
		FontColor:  "000000",
		ThinBorder: true,
		Horizontal: "center",
		Vertical:   "center",
		WrapText:   true,
	}
}

// SealStyle is the font-only style of sheet descriptions.
func SealStyle() *Style {
	return &Style{FontName: "Calibri", FontSize: 11, FontColor: "000000"}
}

func (s Style) toExcelize() *excelize.Style {
	out := &excelize.Style{}
	if s.FontName != "" || s.FontSize > 0 || s.FontColor != "" {
		out.Font = &excelize.Font{Family: s.FontName, Size: s.FontSize, Color: s.FontColor}
	}
	if s.ThinBorder {
		for _, side := range []string{"left", "top", "right", "bottom"} {
			out.Border = append(out.Border, excelize.Border{Type: side, Color: "000000", Style: 1})
		}
	}
	if s.Horizontal != "" || s.Vertical != "" || s.WrapText {
		out.Alignment = &excelize.Alignment{Horizontal: s.Horizontal, Vertical: s.Vertical, WrapText: s.WrapText}
	}
	if s.NumberFormat != "" {
		format := s.NumberFormat
		out.CustomNumFmt = &format
	}
	return out
}

// effective merges the cell's number format into its style. ok is false for
// an unstyled cell.
func (c *Cell) effective() (Style, bool) {
	var s Style
	if c.Style != nil {
		s = *c.Style
	}
	if c.NumberFormat != "" {
		s.NumberFormat = c.NumberFormat
	}
	return s, s != Style{}
}
