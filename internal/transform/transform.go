package transform

import (
	"fmt"
	"sort"
	"strings"

	"fieldops-etl/internal/logging"

	"github.com/shopspring/decimal"
)

// Func transforms a single spreadsheet cell. The null flag marks an empty or
// absent cell; a transform may turn a value into null but never the reverse.
type Func func(value string, null bool) (string, bool)

// registry maps lowercase transform names to implementations.
var registry = map[string]Func{
	"trim":        trim,
	"tolowercase": toLowerCase,
	"touppercase": toUpperCase,
	"nullifnan":   nullIfNaN,
	"nullifzero":  nullIfZero,
}

// Names returns the registered transform names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidTransform reports whether name (case-insensitive) is a registered transform.
func ValidTransform(name string) bool {
	_, ok := registry[normalizeName(name)]
	return ok
}

// ApplyTransform runs the named transform on one cell. An unknown name logs a
// warning and returns the cell unchanged.
func ApplyTransform(name string, value string, null bool) (string, bool) {
	if name == "" {
		return value, null
	}
	tf, ok := registry[normalizeName(name)]
	if !ok {
		logging.Logf(logging.Warning, "Transformation function '%s' not found; using original value.", name)
		return value, null
	}
	return tf(value, null)
}

// Chain composes the named transforms left to right. The argument may be a single
// name or several separated by '|', e.g. "trim|toLowerCase".
func Chain(spec string) (Func, error) {
	var funcs []Func
	for _, part := range strings.Split(spec, "|") {
		name := normalizeName(part)
		if name == "" {
			continue
		}
		tf, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown transform '%s' (known: %s)", strings.TrimSpace(part), strings.Join(Names(), ", "))
		}
		funcs = append(funcs, tf)
	}
	return func(value string, null bool) (string, bool) {
		for _, tf := range funcs {
			value, null = tf(value, null)
		}
		return value, null
	}, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func trim(value string, null bool) (string, bool) {
	if null {
		return value, null
	}
	return strings.TrimSpace(value), false
}

func toLowerCase(value string, null bool) (string, bool) {
	if null {
		return value, null
	}
	return strings.ToLower(value), false
}

func toUpperCase(value string, null bool) (string, bool) {
	if null {
		return value, null
	}
	return strings.ToUpper(value), false
}

// nullIfNaN turns the literal "nan" left behind by numeric-to-text coercion into null.
func nullIfNaN(value string, null bool) (string, bool) {
	if null || strings.EqualFold(strings.TrimSpace(value), "nan") {
		return "", true
	}
	return value, false
}

func nullIfZero(value string, null bool) (string, bool) {
	if null {
		return value, null
	}
	if d, err := ParseDecimal(value); err == nil && d.IsZero() {
		return "", true
	}
	return value, false
}

var numberCleaner = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "\t", "")

// ParseDecimal parses a number as it appears in operator spreadsheets:
// "1 234,5", "1234.5", "1,234.5", "-0,25" and exponent forms like "1e3".
func ParseDecimal(s string) (decimal.Decimal, error) {
	cleaned := numberCleaner.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty numeric value")
	}
	if strings.Contains(cleaned, ",") {
		if strings.Contains(cleaned, ".") {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		}
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cannot parse '%s' as a number: %w", s, err)
	}
	return d, nil
}
