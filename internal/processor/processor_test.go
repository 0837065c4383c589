package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldops-etl/internal/config"
	"fieldops-etl/internal/handbook"
	etlio "fieldops-etl/internal/io"
	"fieldops-etl/internal/io/xlsxtest"
	"fieldops-etl/internal/lock"
	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/metrics"
	"fieldops-etl/internal/production"
	"fieldops-etl/internal/report"
	"fieldops-etl/internal/store"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/xuri/excelize/v2"
)

// --- Test doubles ---

type fakeStore struct {
	mu sync.Mutex

	refs    handbook.References
	refsErr error

	inserted  map[handbook.Entity][]string
	insertBy  *int64
	insertErr error

	replaced   []production.Record
	replaceN   int
	replaceErr error

	wells      map[store.Category][]store.WellRecord
	wellsErr   error
	leaving    []store.LeavingRecord
	leavingAt  *time.Time
	latestDate *time.Time
}

func (s *fakeStore) References(context.Context) (handbook.References, error) {
	return s.refs, s.refsErr
}

func (s *fakeStore) InsertHandbooks(_ context.Context, toCreate map[handbook.Entity][]string, userID *int64) (map[handbook.Entity]int64, error) {
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.inserted, s.insertBy = toCreate, userID
	counts := make(map[handbook.Entity]int64, len(toCreate))
	for e, names := range toCreate {
		counts[e] = int64(len(names))
	}
	return counts, nil
}

func (s *fakeStore) ReplaceProduction(_ context.Context, records []production.Record) (int64, error) {
	s.replaceN++
	if s.replaceErr != nil {
		return 0, s.replaceErr
	}
	s.replaced = records
	return int64(len(records)), nil
}

func (s *fakeStore) WellsBySheet(_ context.Context, c store.Category) ([]store.WellRecord, error) {
	if s.wellsErr != nil {
		return nil, s.wellsErr
	}
	return s.wells[c], nil
}

func (s *fakeStore) WellsLeavingSuspension(_ context.Context, asOf *time.Time) ([]store.LeavingRecord, error) {
	s.mu.Lock()
	s.leavingAt = asOf
	s.mu.Unlock()
	return s.leaving, nil
}

func (s *fakeStore) LatestFundDate(context.Context) (*time.Time, error) {
	return s.latestDate, nil
}

type fakeLocker struct {
	keys     []string
	err      error
	released int
}

type fakeLock struct{ l *fakeLocker }

func (f fakeLock) Release(context.Context) error { f.l.released++; return nil }

func (l *fakeLocker) Obtain(_ context.Context, key string) (lock.Lock, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.keys = append(l.keys, key)
	return fakeLock{l}, nil
}

type memoryIssueWriter struct {
	rows [][]string
}

func (w *memoryIssueWriter) Write(issue etlio.IssueRecord) error {
	w.rows = append(w.rows, issue.IssueFields())
	return nil
}

func (w *memoryIssueWriter) Close() error { return nil }

// --- Helpers ---

func fixedClock(t *testing.T) {
	t.Helper()
	origNow, origID := nowFunc, newJobIDFunc
	t.Cleanup(func() { nowFunc, newJobIDFunc = origNow, origID })
	nowFunc = func() time.Time { return time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC) }
	newJobIDFunc = func() string { return "job-1" }
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	uploads := filepath.Join(t.TempDir(), "uploads")
	cfg.Imports.Handbook.UploadsDir = uploads
	cfg.Imports.Production.UploadsDir = uploads
	cfg.Imports.Production.Sheets = []string{"03"}
	cfg.Report.OutputDir = filepath.Join(t.TempDir(), "files")
	return cfg
}

func refs(t *testing.T, names map[handbook.Entity][]string) handbook.References {
	t.Helper()
	out := handbook.References{}
	for entity, list := range names {
		var entries []handbook.Reference
		for i, n := range list {
			entries = append(entries, handbook.Reference{ID: int64(i + 1), Name: n})
		}
		table, err := handbook.NewReferenceTable(entity, entries)
		if err != nil {
			t.Fatalf("NewReferenceTable(%s) error: %v", entity, err)
		}
		out[entity] = table
	}
	return out
}

func assertUploadsReleased(t *testing.T, cfg *config.Config) {
	t.Helper()
	entries, err := os.ReadDir(cfg.Imports.Handbook.UploadsDir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staged uploads left behind: %v", entries)
	}
}

func jobCount(t *testing.T, m *metrics.Metrics) int {
	t.Helper()
	n, err := testutil.GatherAndCount(m.Registry(), "fieldops_jobs_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error: %v", err)
	}
	return n
}

func handbookFixture(t *testing.T, rows ...[]interface{}) string {
	t.Helper()
	all := append([][]interface{}{{"Показатель", "Установка", "Тип плана"}}, rows...)
	return xlsxtest.WriteFile(t, xlsxtest.Sheet{Name: "Справочники", Rows: all})
}

// productionFixture is one March sheet: three title rows, the nominal
// header, the type-plan row, a marker and a data row.
func productionFixture(t *testing.T, indicator string) string {
	t.Helper()
	return xlsxtest.WriteFile(t, xlsxtest.Sheet{Name: "03", Rows: [][]interface{}{
		{"Выработка продукции"},
		{nil},
		{"март"},
		{"№", "", "Показатель", "ПП М03", "СГ", "ФАКТ", "ФАКТ-ПП М03", "ФАКТ-СГ"},
		{nil, nil, nil, "PlanA", "PlanB"},
		{1, nil, "Station 1", nil, nil, nil, nil, nil},
		{2, nil, indicator, 10, nil, nil, nil, 1},
	}})
}

// --- Handbook import ---

func TestImportHandbooks(t *testing.T) {
	fixedClock(t)
	cfg := testConfig(t)
	st := &fakeStore{refs: refs(t, map[handbook.Entity][]string{handbook.Indicator: {"Нефть"}})}
	locker := &fakeLocker{}
	m := metrics.New()
	p := New(cfg, st, locker, m)

	path := handbookFixture(t,
		[]interface{}{"Нефть ", "УПН-1", "План"},
		[]interface{}{"нефть", "упн-1", "факт"},
		[]interface{}{nil, "УПН-2", nil},
	)
	user := int64(7)
	res, err := p.ImportHandbooks(context.Background(), ImportRequest{Path: path, UserID: &user})
	if err != nil {
		t.Fatalf("ImportHandbooks() error: %v", err)
	}
	if res.Warning || res.Text != TextLoaded || res.LogErrors == nil {
		t.Errorf("result = %+v", res)
	}

	want := map[handbook.Entity][]string{
		handbook.Installation: {"УПН-1", "УПН-2"},
		handbook.TypePlan:     {"План", "факт"},
	}
	if !reflect.DeepEqual(st.inserted, want) {
		t.Errorf("inserted = %v, want %v", st.inserted, want)
	}
	if st.insertBy == nil || *st.insertBy != 7 {
		t.Errorf("created_by = %v", st.insertBy)
	}
	if !reflect.DeepEqual(locker.keys, []string{"fieldops:import:handbook"}) || locker.released != 1 {
		t.Errorf("lock keys = %v, released = %d", locker.keys, locker.released)
	}
	assertUploadsReleased(t, cfg)
	if n, _ := testutil.GatherAndCount(m.Registry(), "fieldops_rows_persisted_total"); n != 2 {
		t.Errorf("rows_persisted series = %d, want 2", n)
	}
}

func TestImportHandbooks_DryRunAndFilter(t *testing.T) {
	fixedClock(t)
	cfg := testConfig(t)
	cfg.Imports.Handbook.Filter = "indicator != 'Итого'"
	st := &fakeStore{refs: handbook.References{}}
	p := New(cfg, st, nil, nil)

	path := handbookFixture(t,
		[]interface{}{"Газ", nil, nil},
		[]interface{}{"Итого", nil, nil},
	)
	res, err := p.ImportHandbooks(context.Background(), ImportRequest{Path: path, DryRun: true})
	if err != nil {
		t.Fatalf("ImportHandbooks() error: %v", err)
	}
	if res.Text != TextDryRunLoaded {
		t.Errorf("Text = %q", res.Text)
	}
	if st.inserted != nil {
		t.Errorf("dry run must not insert, got %v", st.inserted)
	}
	assertUploadsReleased(t, cfg)

	// Same upload, real run: the filtered row never reaches the store.
	res, err = p.ImportHandbooks(context.Background(), ImportRequest{Path: path})
	if err != nil {
		t.Fatalf("ImportHandbooks() error: %v", err)
	}
	if !reflect.DeepEqual(st.inserted, map[handbook.Entity][]string{handbook.Indicator: {"Газ"}}) {
		t.Errorf("inserted = %v", st.inserted)
	}
	if res.Text != TextLoaded {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestImportHandbooks_Failures(t *testing.T) {
	fixedClock(t)

	t.Run("lock held", func(t *testing.T) {
		cfg := testConfig(t)
		m := metrics.New()
		p := New(cfg, &fakeStore{}, &fakeLocker{err: lock.ErrNotObtained}, m)
		_, err := p.ImportHandbooks(context.Background(), ImportRequest{Path: handbookFixture(t, []interface{}{"Газ"})})
		if !errors.Is(err, lock.ErrNotObtained) {
			t.Errorf("error = %v, want ErrNotObtained", err)
		}
		if jobCount(t, m) != 1 {
			t.Error("failed job should be counted")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		cfg := testConfig(t)
		p := New(cfg, &fakeStore{}, nil, nil)
		_, err := p.ImportHandbooks(context.Background(), ImportRequest{Path: handbookFixture(t)})
		if !errors.Is(err, etlio.ErrEmptyFile) {
			t.Errorf("error = %v, want ErrEmptyFile", err)
		}
		assertUploadsReleased(t, cfg)
	})

	t.Run("insert fails", func(t *testing.T) {
		cfg := testConfig(t)
		boom := errors.New("tx aborted")
		p := New(cfg, &fakeStore{refs: handbook.References{}, insertErr: boom}, nil, nil)
		_, err := p.ImportHandbooks(context.Background(), ImportRequest{Path: handbookFixture(t, []interface{}{"Газ"})})
		if !errors.Is(err, boom) {
			t.Errorf("error = %v", err)
		}
		assertUploadsReleased(t, cfg)
	})

	t.Run("no input", func(t *testing.T) {
		p := New(testConfig(t), &fakeStore{}, nil, nil)
		if _, err := p.ImportHandbooks(context.Background(), ImportRequest{}); err == nil {
			t.Error("expected error without path or input")
		}
	})
}

// --- Production import ---

func TestImportProduction(t *testing.T) {
	fixedClock(t)
	cfg := testConfig(t)
	st := &fakeStore{refs: refs(t, map[handbook.Entity][]string{
		handbook.Indicator:    {"Indicator X"},
		handbook.Installation: {"Station 1"},
		handbook.TypePlan:     {"PlanA", "PlanB"},
	})}
	locker := &fakeLocker{}
	p := New(cfg, st, locker, metrics.New())

	f, err := os.Open(productionFixture(t, "Indicator X"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	user := int64(7)
	res, err := p.ImportProduction(context.Background(), ImportRequest{Input: f, Name: "production.xlsx", UserID: &user})
	if err != nil {
		t.Fatalf("ImportProduction() error: %v", err)
	}
	if res.Warning || res.Text != TextLoaded || len(res.LogErrors) != 0 {
		t.Errorf("result = %+v", res)
	}
	if !reflect.DeepEqual(locker.keys, []string{"fieldops:import:production"}) {
		t.Errorf("lock keys = %v", locker.keys)
	}

	if len(st.replaced) != 2 {
		t.Fatalf("replaced %d records, want 2", len(st.replaced))
	}
	march := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	first, second := st.replaced[0], st.replaced[1]
	if !first.Date.Equal(march) || first.IndicatorID != 1 || first.InstallationID == nil || *first.InstallationID != 1 || first.TypePlanID != 1 || first.CreatedByID != 7 {
		t.Errorf("first record = %+v", first)
	}
	if !first.Value.Valid || first.Value.Decimal.IntPart() != 10 {
		t.Errorf("first value = %v", first.Value)
	}
	if second.TypePlanID != 2 || second.Value.Valid {
		t.Errorf("second record = %+v", second)
	}
	assertUploadsReleased(t, cfg)
}

func TestImportProduction_ValidationGate(t *testing.T) {
	fixedClock(t)
	cfg := testConfig(t)
	st := &fakeStore{refs: refs(t, map[handbook.Entity][]string{
		handbook.Indicator:    {"Indicator X"},
		handbook.Installation: {"Station 1"},
		handbook.TypePlan:     {"PlanA", "PlanB"},
	})}
	m := metrics.New()
	p := New(cfg, st, nil, m)
	issues := &memoryIssueWriter{}

	res, err := p.ImportProduction(context.Background(), ImportRequest{Path: productionFixture(t, "Indicator Y"), Issues: issues})
	if err != nil {
		t.Fatalf("ImportProduction() error: %v", err)
	}
	if !res.Warning || res.Text != TextHasErrors {
		t.Errorf("result = %+v", res)
	}
	wantIssue := handbook.ValidationIssue{
		Type:   handbook.IssueTypeError,
		Column: "Показатель",
		Text:   "Наименование 'indicator y' отсутвует в справочнике 'Показатель'",
	}
	if !reflect.DeepEqual(res.LogErrors, []handbook.ValidationIssue{wantIssue}) {
		t.Errorf("LogErrors = %+v", res.LogErrors)
	}
	if len(issues.rows) != 1 || issues.rows[0][0] != wantIssue.Text {
		t.Errorf("issues file rows = %v", issues.rows)
	}
	if st.replaceN != 0 {
		t.Error("nothing may be persisted when validation fails")
	}
	if jobCount(t, m) != 1 {
		t.Error("warning job should be counted")
	}
	assertUploadsReleased(t, cfg)
}

func TestImportProduction_Failures(t *testing.T) {
	fixedClock(t)
	known := map[handbook.Entity][]string{
		handbook.Indicator:    {"Indicator X"},
		handbook.Installation: {"Station 1"},
		handbook.TypePlan:     {"PlanA", "PlanB"},
	}

	t.Run("missing sheet", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Imports.Production.Sheets = []string{"03", "04"}
		p := New(cfg, &fakeStore{refs: refs(t, known)}, nil, nil)
		_, err := p.ImportProduction(context.Background(), ImportRequest{Path: productionFixture(t, "Indicator X")})
		if !errors.Is(err, etlio.ErrSheetNotFound) {
			t.Errorf("error = %v, want ErrSheetNotFound", err)
		}
		assertUploadsReleased(t, cfg)
	})

	t.Run("references fail", func(t *testing.T) {
		cfg := testConfig(t)
		boom := errors.New("connection refused")
		p := New(cfg, &fakeStore{refsErr: boom}, nil, nil)
		_, err := p.ImportProduction(context.Background(), ImportRequest{Path: productionFixture(t, "Indicator X")})
		if !errors.Is(err, boom) {
			t.Errorf("error = %v", err)
		}
		assertUploadsReleased(t, cfg)
	})

	t.Run("replace fails", func(t *testing.T) {
		cfg := testConfig(t)
		boom := errors.New("deadlock detected")
		st := &fakeStore{refs: refs(t, known), replaceErr: boom}
		p := New(cfg, st, nil, nil)
		_, err := p.ImportProduction(context.Background(), ImportRequest{Path: productionFixture(t, "Indicator X")})
		if !errors.Is(err, boom) || st.replaceN != 1 {
			t.Errorf("error = %v, calls = %d", err, st.replaceN)
		}
	})

	t.Run("markers only", func(t *testing.T) {
		cfg := testConfig(t)
		st := &fakeStore{refs: refs(t, known)}
		path := xlsxtest.WriteFile(t, xlsxtest.Sheet{Name: "03", Rows: [][]interface{}{
			{"Выработка продукции"},
			{nil},
			{"март"},
			{"№", "", "Показатель", "ПП М03", "СГ", "ФАКТ", "ФАКТ-ПП М03", "ФАКТ-СГ"},
			{nil, nil, nil, "PlanA", "PlanB"},
			{1, nil, "Station 1", nil, nil, nil, nil, nil},
		}})
		p := New(cfg, st, nil, nil)
		_, err := p.ImportProduction(context.Background(), ImportRequest{Path: path})
		if !errors.Is(err, etlio.ErrEmptyFile) {
			t.Errorf("error = %v, want ErrEmptyFile", err)
		}
		if st.replaceN != 0 {
			t.Error("the table must not be replaced when no values were found")
		}
		assertUploadsReleased(t, cfg)
	})

	t.Run("dry run", func(t *testing.T) {
		cfg := testConfig(t)
		st := &fakeStore{refs: refs(t, known)}
		p := New(cfg, st, nil, nil)
		res, err := p.ImportProduction(context.Background(), ImportRequest{Path: productionFixture(t, "Indicator X"), DryRun: true})
		if err != nil || res.Text != TextDryRunLoaded || st.replaceN != 0 {
			t.Errorf("res = %+v, err = %v, calls = %d", res, err, st.replaceN)
		}
	})
}

// --- Filter ---

type stubEvaluator struct{ result interface{} }

func (s stubEvaluator) Evaluate(map[string]interface{}) (interface{}, error) { return s.result, nil }

func TestApplyFilter_NonBoolDropsRows(t *testing.T) {
	orig := newExpressionEvaluatorFunc
	t.Cleanup(func() { newExpressionEvaluatorFunc = orig })
	newExpressionEvaluatorFunc = func(string) (expressionEvaluator, error) { return stubEvaluator{result: "yes"}, nil }

	table := etlio.NewTable("indicator")
	table.Append(etlio.Row{etlio.TextCell("a")})
	table.Append(etlio.Row{etlio.TextCell("b")})
	if err := applyFilter(&jobRun{log: logging.WithFields(logging.Fields{"job": "test"})}, table, "indicator"); err != nil {
		t.Fatalf("applyFilter() error: %v", err)
	}
	if table.Len() != 0 {
		t.Errorf("rows kept = %d, want 0", table.Len())
	}
}

// --- Export ---

func str(s string) *string { return &s }

func TestExportSuspensionReport(t *testing.T) {
	fixedClock(t)
	cfg := testConfig(t)
	latest := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	st := &fakeStore{
		wells: map[store.Category][]store.WellRecord{
			store.CategoryFund:               {{LicenseName: str("ЛУ-1"), WellNumber: str("101")}},
			store.CategorySuspendedLate:      {{LicenseName: str("ЛУ-late")}},
			store.CategorySuspendedOpenEnded: {{LicenseName: str("ЛУ-open")}},
		},
		leaving:    []store.LeavingRecord{{LicenseName: str("ЛУ-9"), PreviousStatus: str("Бездействие"), LastStatus: str("В работе")}},
		latestDate: &latest,
	}
	p := New(cfg, st, nil, metrics.New())

	res, err := p.ExportSuspensionReport(context.Background(), ExportRequest{})
	if err != nil {
		t.Fatalf("ExportSuspensionReport() error: %v", err)
	}
	wantPath := filepath.Join(cfg.Report.OutputDir, "job-1.xlsx")
	if res.File != wantPath || res.Text != TextReportSaved {
		t.Errorf("result = %+v", res)
	}
	if st.leavingAt != nil {
		t.Errorf("no as-of date was requested, got %v", st.leavingAt)
	}

	f, err := excelize.OpenFile(wantPath)
	if err != nil {
		t.Fatalf("OpenFile() error: %v", err)
	}
	defer f.Close()

	wantSheets := []string{report.SheetFund, report.SheetSuspendedFirst, report.SheetSuspendedExtension, report.SheetSuspendedLate, report.SheetLeavingSuspension}
	if got := f.GetSheetList(); !reflect.DeepEqual(got, wantSheets) {
		t.Errorf("sheets = %v", got)
	}
	checks := []struct{ sheet, cell, want string }{
		{report.SheetFund, "A5", "ЛУ-1"},
		{report.SheetFund, "C5", "101"},
		{report.SheetSuspendedLate, "A5", "ЛУ-late"},
		{report.SheetSuspendedLate, "A6", "ЛУ-open"},
		{report.SheetLeavingSuspension, "F5", "Бездействие"},
		{report.SheetLeavingSuspension, "G5", "В работе"},
	}
	for _, c := range checks {
		got, err := f.GetCellValue(c.sheet, c.cell)
		if err != nil || got != c.want {
			t.Errorf("%s!%s = %q (%v), want %q", c.sheet, c.cell, got, err, c.want)
		}
	}
	label, _ := f.GetCellValue(report.SheetFund, "F4")
	if !strings.Contains(label, "01.05.2024") {
		t.Errorf("status label = %q", label)
	}
}

func TestExportSuspensionReport_AsOfAndFailure(t *testing.T) {
	fixedClock(t)

	t.Run("config as-of date", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Report.AsOfDate = "31.03.2024"
		st := &fakeStore{}
		p := New(cfg, st, nil, nil)
		outDir := filepath.Join(t.TempDir(), "override")
		res, err := p.ExportSuspensionReport(context.Background(), ExportRequest{OutputDir: outDir})
		if err != nil {
			t.Fatalf("ExportSuspensionReport() error: %v", err)
		}
		if st.leavingAt == nil || !st.leavingAt.Equal(time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("as-of passed to store = %v", st.leavingAt)
		}
		if filepath.Dir(res.File) != outDir {
			t.Errorf("File = %q", res.File)
		}
	})

	t.Run("query fails", func(t *testing.T) {
		cfg := testConfig(t)
		boom := errors.New("relation does not exist")
		p := New(cfg, &fakeStore{wellsErr: boom}, nil, nil)
		if _, err := p.ExportSuspensionReport(context.Background(), ExportRequest{}); !errors.Is(err, boom) {
			t.Errorf("error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(cfg.Report.OutputDir, "job-1.xlsx")); !os.IsNotExist(err) {
			t.Error("no report may be written when a query fails")
		}
	})
}
