package io

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"fieldops-etl/internal/io/xlsxtest"
)

func cellValues(row Row) []string {
	out := make([]string, len(row))
	for i, c := range row {
		if c.Null {
			out[i] = "<null>"
		} else {
			out[i] = c.Value
		}
	}
	return out
}

var handbookColumns = ColumnMap{
	{Key: "indicator", Position: 0, Transform: "trim"},
	{Key: "installation", Position: 1, Transform: "trim"},
	{Key: "type_plan", Position: 2, Transform: "trim"},
}

func TestLoader_Load(t *testing.T) {
	path := xlsxtest.WriteFile(t, xlsxtest.Sheet{
		Name: "Справочники",
		Rows: [][]interface{}{
			{"Показатель", "Установка", "Тип плана"},
			{" Добыча нефти ", "УПСВ-1", "ПП М03"},
			{nil, nil, nil},
			{"Закачка", nil, "ФАКТ"},
		},
	})

	loader := &Loader{Columns: handbookColumns}
	table, err := loader.Load(PathSource(path))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !reflect.DeepEqual(table.Columns, []string{"indicator", "installation", "type_plan"}) {
		t.Errorf("Columns = %v", table.Columns)
	}
	want := [][]string{
		{"Добыча нефти", "УПСВ-1", "ПП М03"},
		{"Закачка", "<null>", "ФАКТ"},
	}
	if table.Len() != len(want) {
		t.Fatalf("got %d rows, want %d", table.Len(), len(want))
	}
	for i, row := range table.Rows {
		if got := cellValues(row); !reflect.DeepEqual(got, want[i]) {
			t.Errorf("row %d = %v, want %v", i, got, want[i])
		}
	}
	if table.UserColumnNames["installation"] != "Установка" {
		t.Errorf("UserColumnNames = %v", table.UserColumnNames)
	}
}

func TestLoader_LoadPositionalWithSkip(t *testing.T) {
	path := xlsxtest.WriteFile(t, xlsxtest.Sheet{
		Name: "01",
		Rows: [][]interface{}{
			{"Отчет"},
			{nil},
			{"Январь"},
			{"№", "", "Показатель", "ПП М03", "СГ"},
			{1, "x", "Установка 1", nil, nil},
			{2, "y", "Нефть", 10.5, 11},
		},
	})

	loader := &Loader{
		Sheets:         []string{"01"},
		HeaderSkipRows: 3,
		Columns: ColumnMap{
			{Key: "indicator", Position: 2},
			{Key: "pp_m03", Position: 3},
			{Key: "network_graph", Position: 4},
		},
	}
	table, err := loader.Load(PathSource(path))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("got %d rows, want 2", table.Len())
	}
	if got := cellValues(table.Rows[0]); !reflect.DeepEqual(got, []string{"Установка 1", "<null>", "<null>"}) {
		t.Errorf("row 0 = %v", got)
	}
	if got := cellValues(table.Rows[1]); !reflect.DeepEqual(got, []string{"Нефть", "10.5", "11"}) {
		t.Errorf("row 1 = %v", got)
	}
	if table.UserColumnNames["pp_m03"] != "ПП М03" {
		t.Errorf("header text not captured: %v", table.UserColumnNames)
	}
}

func TestLoader_Errors(t *testing.T) {
	headerOnly := xlsxtest.WriteFile(t, xlsxtest.Sheet{Name: "Sheet1", Rows: [][]interface{}{{"a", "b", "c"}}})

	t.Run("missing sheet", func(t *testing.T) {
		loader := &Loader{Sheets: []string{"07"}, Columns: handbookColumns}
		_, err := loader.Load(PathSource(headerOnly))
		var notFound *SheetNotFoundError
		if !errors.As(err, &notFound) || notFound.Sheet != "07" {
			t.Fatalf("expected SheetNotFoundError for '07', got %v", err)
		}
		if !errors.Is(err, ErrSheetNotFound) {
			t.Error("SheetNotFoundError should match ErrSheetNotFound")
		}
	})

	t.Run("no data rows", func(t *testing.T) {
		loader := &Loader{Columns: handbookColumns}
		if _, err := loader.Load(PathSource(headerOnly)); !errors.Is(err, ErrEmptyFile) {
			t.Fatalf("expected ErrEmptyFile, got %v", err)
		}
	})

	t.Run("invalid column map", func(t *testing.T) {
		loader := &Loader{Columns: ColumnMap{{Key: "a", Position: 0}, {Key: "b", Position: 0}}}
		if _, err := loader.Load(PathSource(headerOnly)); err == nil {
			t.Fatal("expected column map error")
		}
	})

	t.Run("unknown transform", func(t *testing.T) {
		loader := &Loader{Columns: ColumnMap{{Key: "a", Position: 0, Transform: "shout"}}}
		if _, err := loader.Load(PathSource(headerOnly)); err == nil {
			t.Fatal("expected transform error")
		}
	})

	t.Run("negative skip", func(t *testing.T) {
		loader := &Loader{HeaderSkipRows: -1, Columns: handbookColumns}
		if _, err := loader.Load(PathSource(headerOnly)); err == nil {
			t.Fatal("expected skip rows error")
		}
	})

	t.Run("not a workbook", func(t *testing.T) {
		loader := &Loader{Columns: handbookColumns}
		src := ReaderSource{Label: "junk", Reader: bytes.NewBufferString("not a zip")}
		if _, err := loader.Load(src); err == nil {
			t.Fatal("expected open error")
		}
	})
}

func TestLoader_LoadSheets(t *testing.T) {
	data := xlsxtest.Bytes(t,
		xlsxtest.Sheet{Name: "01", Rows: [][]interface{}{{"h"}, {"январь"}}},
		xlsxtest.Sheet{Name: "02", Rows: [][]interface{}{{"h"}}},
		xlsxtest.Sheet{Name: "03", Rows: [][]interface{}{{"h"}, {"март-1"}, {"март-2"}}},
	)
	loader := &Loader{Sheets: []string{"01", "02", "03"}, Columns: ColumnMap{{Key: "v", Position: 0}}}

	tables, order, err := loader.LoadSheets(ReaderSource{Label: "upload", Reader: bytes.NewReader(data)})
	if err != nil {
		t.Fatalf("LoadSheets returned error: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"01", "02", "03"}) {
		t.Errorf("order = %v", order)
	}
	if tables["01"].Len() != 1 || tables["02"].Len() != 0 || tables["03"].Len() != 2 {
		t.Errorf("unexpected row counts: %d %d %d", tables["01"].Len(), tables["02"].Len(), tables["03"].Len())
	}

	empty := xlsxtest.Bytes(t, xlsxtest.Sheet{Name: "01", Rows: [][]interface{}{{"h"}}})
	loader.Sheets = []string{"01"}
	if _, _, err := loader.LoadSheets(ReaderSource{Reader: bytes.NewReader(empty)}); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("expected ErrEmptyFile for combined empty sheets, got %v", err)
	}

	loader.Sheets = []string{"01", "12"}
	if _, _, err := loader.LoadSheets(ReaderSource{Reader: bytes.NewReader(data)}); !errors.Is(err, ErrSheetNotFound) {
		t.Errorf("expected ErrSheetNotFound, got %v", err)
	}
}

func TestLoader_Stream(t *testing.T) {
	path := xlsxtest.WriteFile(t, xlsxtest.Sheet{Name: "Лист1", Rows: [][]interface{}{
		{"name"}, {"nan"}, {" a "}, {"b"},
	}})
	loader := &Loader{Columns: ColumnMap{{Key: "name", Position: 0, Transform: "nullIfNaN|trim"}}}

	var got []string
	n, err := loader.Stream(PathSource(path), "", func(row Row) error {
		got = append(got, row[0].Value)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if n != 2 || !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Stream visited %d rows: %v", n, got)
	}

	stop := errors.New("stop")
	if _, err := loader.Stream(PathSource(path), "Лист1", func(Row) error { return stop }); !errors.Is(err, stop) {
		t.Errorf("callback error not propagated: %v", err)
	}
}
