// Package handbook reconciles names found in uploaded spreadsheets with the
// reference tables ("handbooks") of indicators, installations and type plans.
package handbook

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Entity identifies one handbook.
type Entity string

const (
	Indicator    Entity = "indicator"
	Installation Entity = "installation"
	TypePlan     Entity = "type_plan"
)

// Entities lists the handbooks in validation order.
func Entities() []Entity {
	return []Entity{Indicator, Installation, TypePlan}
}

// Label is the handbook name shown to the uploader.
func (e Entity) Label() string {
	switch e {
	case Indicator:
		return "Показатель"
	case Installation:
		return "Установка"
	case TypePlan:
		return "Тип плана"
	default:
		return string(e)
	}
}

// Valid reports whether e is one of the known handbooks.
func (e Entity) Valid() bool {
	switch e {
	case Indicator, Installation, TypePlan:
		return true
	}
	return false
}

// Normalize trims surrounding whitespace and lower-cases s with Unicode rules.
func Normalize(s string) string {
	// A Caser keeps state, so one is made per call.
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}

// Reference is one handbook row.
type Reference struct {
	ID   int64
	Name string
}

// ReferenceTable is a read-only snapshot of one handbook, indexed by
// normalized name. An empty table is a valid, non-nil value.
type ReferenceTable struct {
	Entity  Entity
	entries []Reference
	index   map[string]int64
}

// NewReferenceTable normalizes every name and rejects two entries that
// normalize to the same name.
func NewReferenceTable(entity Entity, refs []Reference) (*ReferenceTable, error) {
	t := &ReferenceTable{
		Entity:  entity,
		entries: make([]Reference, 0, len(refs)),
		index:   make(map[string]int64, len(refs)),
	}
	for _, ref := range refs {
		name := Normalize(ref.Name)
		if prev, dup := t.index[name]; dup {
			return nil, fmt.Errorf("handbook '%s': ids %d and %d share normalized name '%s'", entity, prev, ref.ID, name)
		}
		t.index[name] = ref.ID
		t.entries = append(t.entries, Reference{ID: ref.ID, Name: name})
	}
	return t, nil
}

// Empty returns a table with no entries.
func Empty(entity Entity) *ReferenceTable {
	t, _ := NewReferenceTable(entity, nil)
	return t
}

// Lookup returns the id of name, compared after normalization.
func (t *ReferenceTable) Lookup(name string) (int64, bool) {
	if t == nil {
		return 0, false
	}
	id, ok := t.index[Normalize(name)]
	return id, ok
}

// Contains reports whether name is known.
func (t *ReferenceTable) Contains(name string) bool {
	_, ok := t.Lookup(name)
	return ok
}

// Len returns the number of entries.
func (t *ReferenceTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns a copy of the normalized entries.
func (t *ReferenceTable) Entries() []Reference {
	if t == nil {
		return nil
	}
	return append([]Reference(nil), t.entries...)
}

// References holds one snapshot per handbook, fetched once per job.
type References map[Entity]*ReferenceTable

// Table returns the snapshot for entity, or an empty table when absent.
func (r References) Table(entity Entity) *ReferenceTable {
	if t, ok := r[entity]; ok && t != nil {
		return t
	}
	return Empty(entity)
}
