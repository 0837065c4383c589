package handbook

import (
	"fmt"

	etlio "fieldops-etl/internal/io"
)

// ObservedValueSet holds display strings from a sheet column in order of
// first occurrence, deduplicated by exact text.
type ObservedValueSet struct {
	values []string
	seen   map[string]struct{}
}

// NewObservedValueSet builds a set from values.
func NewObservedValueSet(values ...string) ObservedValueSet {
	var s ObservedValueSet
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// ObservedFromCells builds a set from a column, skipping null cells.
func ObservedFromCells(cells []etlio.Cell) ObservedValueSet {
	var s ObservedValueSet
	for _, c := range cells {
		if !c.Null {
			s.Add(c.Value)
		}
	}
	return s
}

// Add inserts v unless it is already present.
func (s *ObservedValueSet) Add(v string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.values = append(s.values, v)
}

// Values returns the members in first-occurrence order.
func (s ObservedValueSet) Values() []string {
	return append([]string(nil), s.values...)
}

// Len returns the number of members.
func (s ObservedValueSet) Len() int { return len(s.values) }

// ReconciliationResult partitions an observed set against a reference table.
type ReconciliationResult struct {
	AlreadyKnown ObservedValueSet
	// ToCreate holds one value per new normalized name, in the casing of its
	// first occurrence.
	ToCreate ObservedValueSet
}

// Partition splits observed into values already in ref and values to insert.
// Membership is decided on normalized names; ref is not modified.
func Partition(observed ObservedValueSet, ref *ReferenceTable) ReconciliationResult {
	var result ReconciliationResult
	pending := make(map[string]struct{})
	for _, v := range observed.values {
		if ref.Contains(v) {
			result.AlreadyKnown.Add(v)
			continue
		}
		norm := Normalize(v)
		if _, dup := pending[norm]; dup {
			continue
		}
		pending[norm] = struct{}{}
		result.ToCreate.Add(v)
	}
	return result
}

// MissingFromReference returns the values of observed that must be created.
func MissingFromReference(observed ObservedValueSet, ref *ReferenceTable) ObservedValueSet {
	return Partition(observed, ref).ToCreate
}

// IssueTypeError is the severity shown for handbook mismatches.
const IssueTypeError = "Ошибка"

// ValidationIssue is a non-fatal, per-value problem returned to the uploader.
type ValidationIssue struct {
	Text       string `json:"text"`
	Type       string `json:"type"`
	Column     string `json:"column"`
	NameObject string `json:"name_object"`
}

// IssueFields returns the issue in issues-file column order.
func (v ValidationIssue) IssueFields() []string {
	return []string{v.Text, v.Type, v.Column, v.NameObject}
}

// MissingNameIssue reports value absent from the handbook labelled label.
func MissingNameIssue(value, label string) ValidationIssue {
	return ValidationIssue{
		Type:   IssueTypeError,
		Column: label,
		Text:   fmt.Sprintf("Наименование '%s' отсутвует в справочнике '%s'", value, label),
	}
}

// ValidateAgainstReference emits one issue per observed value with no match in
// ref, in the given order and including repeated values.
func ValidateAgainstReference(observed []string, ref *ReferenceTable, label string) []ValidationIssue {
	var issues []ValidationIssue
	for _, v := range observed {
		if !ref.Contains(v) {
			issues = append(issues, MissingNameIssue(v, label))
		}
	}
	return issues
}
