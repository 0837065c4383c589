package handbook

import (
	"fmt"

	etlio "fieldops-etl/internal/io"
	"fieldops-etl/internal/transform"
)

// DefaultColumns is the layout of the handbook upload: one column per
// handbook, no leading rows before the header.
func DefaultColumns() etlio.ColumnMap {
	return etlio.ColumnMap{
		{Key: string(Indicator), Position: 0, Transform: "trim"},
		{Key: string(Installation), Position: 1, Transform: "trim"},
		{Key: string(TypePlan), Position: 2, Transform: "trim"},
	}
}

// ParseHandbookFile turns a loaded handbook sheet into one observed set per
// handbook. Values are trimmed; null and whitespace-only cells are ignored.
// A handbook whose column has no values gets an empty set.
func ParseHandbookFile(table *etlio.Table) (map[Entity]ObservedValueSet, error) {
	if table == nil || table.Len() == 0 {
		return nil, etlio.ErrEmptyFile
	}
	for _, e := range Entities() {
		if _, ok := table.Index(string(e)); !ok {
			return nil, fmt.Errorf("handbook sheet has no '%s' column", e)
		}
	}

	sets := make(map[Entity]ObservedValueSet, 3)
	for _, e := range Entities() {
		var set ObservedValueSet
		for _, row := range table.Rows {
			cell := table.Get(row, string(e))
			if cell.Null {
				continue
			}
			v, _ := transform.ApplyTransform("trim", cell.Value, false)
			if v == "" {
				continue
			}
			set.Add(v)
		}
		sets[e] = set
	}
	return sets, nil
}
