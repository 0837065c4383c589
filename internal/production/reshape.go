package production

import (
	"fmt"
	"time"

	"fieldops-etl/internal/handbook"
	etlio "fieldops-etl/internal/io"
	"fieldops-etl/internal/transform"
	"fieldops-etl/internal/util"

	"github.com/shopspring/decimal"
)

// LongRow is one unpivoted value still keyed by display names.
type LongRow struct {
	Indicator string
	// Installation is nil for data rows that precede every marker.
	Installation *string
	Date         time.Time
	TypePlan     string
	Value        etlio.Cell
}

// Reshape is the second pass. It forward-fills the installation over the
// ordered rows, drops the markers, renames the value columns from the first
// remaining row and unpivots every data row into one LongRow per named value
// column. Value columns with an empty header cell are dropped; two columns
// with the same header name are an error.
func Reshape(c *Classified) ([]LongRow, error) {
	type filled struct {
		row          ClassifiedRow
		installation *string
	}
	var current *string
	body := make([]filled, 0, len(c.Rows))
	for _, row := range c.Rows {
		if row.Kind == InstallationMarker {
			name := row.Indicator
			current = &name
			continue
		}
		body = append(body, filled{row: row, installation: current})
	}
	if len(body) == 0 {
		return nil, nil
	}

	header := make([]string, len(ValueColumns))
	seen := make(map[string]string, len(ValueColumns))
	for j, cell := range body[0].row.Values {
		if cell.Null {
			continue
		}
		if other, dup := seen[cell.Value]; dup {
			return nil, fmt.Errorf("type plan '%s' heads both '%s' and '%s'", cell.Value, c.UserColumnNames[other], c.UserColumnNames[ValueColumns[j]])
		}
		seen[cell.Value] = ValueColumns[j]
		header[j] = cell.Value
	}

	var out []LongRow
	for _, f := range body {
		if f.row.Kind != DataRow {
			continue
		}
		for j, typePlan := range header {
			if typePlan == "" {
				continue
			}
			out = append(out, LongRow{
				Indicator:    f.row.Indicator,
				Installation: f.installation,
				Date:         f.row.Date,
				TypePlan:     typePlan,
				Value:        f.row.Values[j],
			})
		}
	}
	return out, nil
}

// Record is a production value ready for insertion.
type Record struct {
	Date           time.Time
	IndicatorID    int64
	InstallationID *int64
	TypePlanID     int64
	Value          decimal.NullDecimal
	CreatedByID    int64
}

// Resolve swaps display names for handbook ids and parses values. A name
// missing from its handbook or a value that is not a number is reported as
// an issue, once per distinct offending text, instead of dropping the row.
func Resolve(rows []LongRow, refs handbook.References, userID int64) ([]Record, []handbook.ValidationIssue) {
	var (
		records  = make([]Record, 0, len(rows))
		issues   []handbook.ValidationIssue
		reported = make(map[string]bool)
	)
	report := func(key string, issue handbook.ValidationIssue) {
		if !reported[key] {
			reported[key] = true
			issues = append(issues, issue)
		}
	}
	lookup := func(entity handbook.Entity, name string) (int64, bool) {
		id, ok := refs.Table(entity).Lookup(name)
		if !ok {
			report(string(entity)+"\x00"+name, handbook.MissingNameIssue(name, entity.Label()))
		}
		return id, ok
	}

	for _, r := range rows {
		rec := Record{Date: util.FirstOfMonth(r.Date.Year(), r.Date.Month()), CreatedByID: userID}
		ok := true

		if id, found := lookup(handbook.Indicator, r.Indicator); found {
			rec.IndicatorID = id
		} else {
			ok = false
		}
		if r.Installation != nil {
			if id, found := lookup(handbook.Installation, *r.Installation); found {
				rec.InstallationID = &id
			} else {
				ok = false
			}
		}
		if id, found := lookup(handbook.TypePlan, r.TypePlan); found {
			rec.TypePlanID = id
		} else {
			ok = false
		}

		if !r.Value.Null {
			d, err := transform.ParseDecimal(r.Value.Value)
			if err != nil {
				report("value\x00"+r.Value.Value, handbook.ValidationIssue{
					Type:       handbook.IssueTypeError,
					Column:     handbook.TypePlan.Label(),
					Text:       fmt.Sprintf("Значение '%s' не является числом", util.Snippet(r.Value.Value)),
					NameObject: r.Indicator,
				})
				ok = false
			} else {
				rec.Value = decimal.NullDecimal{Decimal: d, Valid: true}
			}
		}
		if ok {
			records = append(records, rec)
		}
	}
	if len(issues) > 0 {
		return nil, issues
	}
	return records, nil
}
