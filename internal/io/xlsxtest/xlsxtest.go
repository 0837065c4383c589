// Package xlsxtest builds throwaway workbooks for tests.
package xlsxtest

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// Sheet is one worksheet of a fixture. A nil cell is left empty.
type Sheet struct {
	Name string
	Rows [][]interface{}
}

// Build returns a workbook containing sheets in order.
func Build(t testing.TB, sheets ...Sheet) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	const defaultSheet = "Sheet1"
	keepDefault := false
	for i, sheet := range sheets {
		if sheet.Name == defaultSheet {
			keepDefault = true
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			t.Fatalf("Failed to create sheet '%s': %v", sheet.Name, err)
		}
		for r, row := range sheet.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				t.Fatalf("Failed to get cell coordinates for row %d: %v", r+1, err)
			}
			values := make([]interface{}, len(row))
			copy(values, row)
			if err := f.SetSheetRow(sheet.Name, cell, &values); err != nil {
				t.Fatalf("Failed to set row %d on sheet '%s': %v", r+1, sheet.Name, err)
			}
		}
		if i == 0 {
			idx, _ := f.GetSheetIndex(sheet.Name)
			f.SetActiveSheet(idx)
		}
	}
	if !keepDefault && len(sheets) > 0 {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			t.Fatalf("Failed to delete default sheet: %v", err)
		}
	}
	return f
}

// WriteFile saves the sheets as an .xlsx file in a fresh temp dir and
// returns its path.
func WriteFile(t testing.TB, sheets ...Sheet) string {
	t.Helper()
	f := Build(t, sheets...)
	path := filepath.Join(t.TempDir(), "fixture.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("Failed to save temp XLSX file %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close excelize file object: %v", err)
	}
	return path
}

// Bytes returns the sheets serialized as an .xlsx byte stream.
func Bytes(t testing.TB, sheets ...Sheet) []byte {
	t.Helper()
	f := Build(t, sheets...)
	defer f.Close()
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("Failed to serialize workbook: %v", err)
	}
	return buf.Bytes()
}
