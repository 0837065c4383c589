package production

import (
	"fmt"
	"time"

	"fieldops-etl/internal/handbook"
	etlio "fieldops-etl/internal/io"
	"fieldops-etl/internal/transform"
	"fieldops-etl/internal/util"
)

// Combine stamps every sheet with DATE = year-MM-01, taken from the sheet
// name, and concatenates the sheets in the given order. Display names come
// from the header row of the first sheet.
func Combine(sheets map[string]*etlio.Table, order []string, year int) (*etlio.Table, error) {
	if len(order) == 0 {
		return nil, etlio.ErrEmptyFile
	}
	first, ok := sheets[order[0]]
	if !ok || first == nil {
		return nil, &etlio.SheetNotFoundError{Sheet: order[0]}
	}
	for _, key := range RequiredColumns() {
		if _, ok := first.Index(key); !ok {
			return nil, fmt.Errorf("production sheet has no '%s' column", key)
		}
	}

	combined := etlio.NewTable(append(append([]string(nil), first.Columns...), ColDate)...)
	for k, v := range first.UserColumnNames {
		combined.UserColumnNames[k] = v
	}
	for _, name := range order {
		month, err := SheetMonth(name)
		if err != nil {
			return nil, err
		}
		table, ok := sheets[name]
		if !ok || table == nil {
			return nil, &etlio.SheetNotFoundError{Sheet: name}
		}
		date := etlio.TextCell(util.FirstOfMonth(year, month).Format(DateLayout))
		for _, row := range table.Rows {
			out := make(etlio.Row, 0, len(combined.Columns))
			for _, key := range first.Columns {
				out = append(out, table.Get(row, key))
			}
			combined.Append(append(out, date))
		}
	}
	return combined, nil
}

// Scrub nulls the literal "nan", keeps rows whose indicator or pp_m03 is set,
// then normalizes every value except DATE the way handbook names are
// normalized. An empty result is ErrEmptyFile.
func Scrub(table *etlio.Table) (*etlio.Table, error) {
	dateIdx, hasDate := table.Index(ColDate)
	indicatorIdx := table.MustIndex(ColIndicator)
	ppIdx := table.MustIndex(ColPPM03)

	out := etlio.NewTable(table.Columns...)
	for k, v := range table.UserColumnNames {
		out.UserColumnNames[k] = v
	}
	for _, row := range table.Rows {
		cleaned := make(etlio.Row, len(table.Columns))
		for i := range table.Columns {
			cell := etlio.NullCell()
			if i < len(row) {
				cell = row[i]
			}
			if !(hasDate && i == dateIdx) {
				cell.Value, cell.Null = transform.ApplyTransform("nullIfNaN", cell.Value, cell.Null)
			}
			cleaned[i] = cell
		}
		if cleaned[indicatorIdx].Null && cleaned[ppIdx].Null {
			continue
		}
		for i := range cleaned {
			if (hasDate && i == dateIdx) || cleaned[i].Null {
				continue
			}
			v := handbook.Normalize(cleaned[i].Value)
			if v == "" {
				cleaned[i] = etlio.NullCell()
			} else {
				cleaned[i] = etlio.TextCell(v)
			}
		}
		out.Append(cleaned)
	}
	if out.Len() == 0 {
		return nil, etlio.ErrEmptyFile
	}
	return out, nil
}

// RowKind classifies a row of the combined table.
type RowKind int

const (
	// HeaderRow has an empty indicator; its value cells may name type plans.
	HeaderRow RowKind = iota
	// InstallationMarker opens a group of data rows.
	InstallationMarker
	// DataRow holds values for one indicator.
	DataRow
)

func (k RowKind) String() string {
	switch k {
	case HeaderRow:
		return "header"
	case InstallationMarker:
		return "installation"
	case DataRow:
		return "data"
	}
	return "unknown"
}

// ClassifiedRow is one scrubbed row with its kind.
type ClassifiedRow struct {
	Kind      RowKind
	Indicator string
	Date      time.Time
	// Values are aligned with ValueColumns.
	Values []etlio.Cell
}

// Classified is the first pass over the combined table: row kinds plus the
// distinct names to validate against the handbooks.
type Classified struct {
	Rows          []ClassifiedRow
	Installations []string
	Indicators    []string
	TypePlans     []string
	// UserColumnNames maps value column keys to operator-facing names; the
	// nominal header of the monthly sheets is merged title text.
	UserColumnNames map[string]string
}

// Classify scans the scrubbed table once to collect the installation names
// (indicators whose diff_fact_network_graph is empty), the indicator names
// (the rest) and the type-plan names (value cells of rows with an empty
// indicator, skipping rows whose cells are all empty or "0"), then tags every
// row with its kind.
func Classify(table *etlio.Table) (*Classified, error) {
	c := &Classified{UserColumnNames: make(map[string]string, len(ValueColumns))}
	for _, key := range ValueColumns {
		c.UserColumnNames[key] = DisplayNames[key]
	}

	installations := handbook.NewObservedValueSet()
	indicators := handbook.NewObservedValueSet()
	typePlans := handbook.NewObservedValueSet()

	rows := make([]ClassifiedRow, 0, table.Len())
	for i, row := range table.Rows {
		cr := ClassifiedRow{Values: make([]etlio.Cell, len(ValueColumns))}
		for j, key := range ValueColumns {
			cr.Values[j] = table.Get(row, key)
		}
		dateCell := table.Get(row, ColDate)
		if !dateCell.Null {
			d, err := time.Parse(DateLayout, dateCell.Value)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid DATE '%s': %w", i+1, dateCell.Value, err)
			}
			cr.Date = d
		}

		indicator := table.Get(row, ColIndicator)
		if indicator.Null {
			cr.Kind = HeaderRow
			if !allEmptyOrZero(cr.Values) {
				for _, v := range cr.Values {
					if !v.Null {
						typePlans.Add(v.Value)
					}
				}
			}
		} else {
			cr.Kind = DataRow
			cr.Indicator = indicator.Value
			if table.Get(row, ColDiffFactNetworkGraph).Null {
				installations.Add(indicator.Value)
			} else {
				indicators.Add(indicator.Value)
			}
		}
		rows = append(rows, cr)
	}

	markers := make(map[string]bool, installations.Len())
	for _, name := range installations.Values() {
		markers[name] = true
	}
	for i := range rows {
		if rows[i].Kind == DataRow && markers[rows[i].Indicator] {
			rows[i].Kind = InstallationMarker
		}
	}

	c.Rows = rows
	c.Installations = installations.Values()
	c.Indicators = indicators.Values()
	c.TypePlans = typePlans.Values()
	return c, nil
}

func allEmptyOrZero(cells []etlio.Cell) bool {
	for _, c := range cells {
		if !c.Null && c.Value != "0" {
			return false
		}
	}
	return true
}

// Validate checks the collected names against the handbooks in the order
// indicator, installation, type plan. Any issue blocks persistence.
func Validate(c *Classified, refs handbook.References) []handbook.ValidationIssue {
	var issues []handbook.ValidationIssue
	issues = append(issues, handbook.ValidateAgainstReference(c.Indicators, refs.Table(handbook.Indicator), handbook.Indicator.Label())...)
	issues = append(issues, handbook.ValidateAgainstReference(c.Installations, refs.Table(handbook.Installation), handbook.Installation.Label())...)
	issues = append(issues, handbook.ValidateAgainstReference(c.TypePlans, refs.Table(handbook.TypePlan), handbook.TypePlan.Label())...)
	return issues
}
