package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fieldops-etl/internal/config"
	"fieldops-etl/internal/handbook"
	etlio "fieldops-etl/internal/io"
	"fieldops-etl/internal/io/xlsxtest"
	"fieldops-etl/internal/lock"
	"fieldops-etl/internal/processor"
	"fieldops-etl/internal/production"
	"fieldops-etl/internal/store"
)

// --- Mock Implementations ---

type mockStore struct {
	inserted map[handbook.Entity][]string
	asOf     *time.Time
}

func (m *mockStore) References(context.Context) (handbook.References, error) {
	return handbook.References{}, nil
}

func (m *mockStore) InsertHandbooks(_ context.Context, toCreate map[handbook.Entity][]string, _ *int64) (map[handbook.Entity]int64, error) {
	m.inserted = toCreate
	return map[handbook.Entity]int64{}, nil
}

func (m *mockStore) ReplaceProduction(context.Context, []production.Record) (int64, error) {
	return 0, nil
}

func (m *mockStore) WellsBySheet(context.Context, store.Category) ([]store.WellRecord, error) {
	return nil, nil
}

func (m *mockStore) WellsLeavingSuspension(_ context.Context, asOf *time.Time) ([]store.LeavingRecord, error) {
	m.asOf = asOf
	return nil, nil
}

func (m *mockStore) LatestFundDate(context.Context) (*time.Time, error) { return nil, nil }

type testEnv struct {
	store    *mockStore
	dsn      string
	migrated int
	opened   int
}

// --- Test Helper Functions ---

func createTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Write temp file: %v", err)
	}
	return path
}

// setupTestEnv swaps every factory for an in-memory double and restores
// them when the test ends.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{store: &mockStore{}}

	origOpen, origMigrate, origLocker := openStoreFunc, migrateFunc, newLockerFunc
	origIssues, origStdin, origNotify := newCSVIssueWriterFunc, stdin, notifyContextFunc
	t.Cleanup(func() {
		openStoreFunc, migrateFunc, newLockerFunc = origOpen, origMigrate, origLocker
		newCSVIssueWriterFunc, stdin, notifyContextFunc = origIssues, origStdin, origNotify
	})

	openStoreFunc = func(_ context.Context, dsn string, _ config.DatabaseConfig) (processor.Store, func(), error) {
		env.dsn = dsn
		env.opened++
		return env.store, func() {}, nil
	}
	migrateFunc = func(_ context.Context, dsn string) (int, error) {
		env.dsn = dsn
		env.migrated++
		return 3, nil
	}
	newLockerFunc = func(config.LockConfig) (lock.Locker, func(), error) {
		return lock.NopLocker{}, func() {}, nil
	}
	t.Setenv("DB_CREDENTIALS", "postgres://env:pw@db/fieldops")
	return env
}

// baseConfig points uploads and reports into the test temp dir.
func baseConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	return createTempYAML(t, `
imports:
  handbook:
    uploads_dir: `+filepath.Join(dir, "uploads")+`
  production:
    uploads_dir: `+filepath.Join(dir, "uploads")+`
report:
  output_dir: `+filepath.Join(dir, "files")+`
`+extra)
}

func readResult(t *testing.T, path string) processor.Result {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error: %v", path, err)
	}
	var res processor.Result
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, data)
	}
	return res
}

// --- Tests ---

func TestRun_UsageAndArgumentErrors(t *testing.T) {
	setupTestEnv(t)
	runner := NewAppRunner()
	cfgFile := baseConfig(t, "")

	testCases := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"help", []string{"-help"}, nil},
		{"no args", nil, nil},
		{"unknown flag", []string{"-bogus"}, ErrUsage},
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "nope.yaml"), "-job", "export"}, ErrConfigNotFound},
		{"missing job", []string{"-config", cfgFile}, ErrMissingArgs},
		{"unknown job", []string{"-config", cfgFile, "-job", "purge"}, ErrUsage},
		{"import without input", []string{"-config", cfgFile, "-job", "production"}, ErrMissingArgs},
		{"bad date", []string{"-config", cfgFile, "-job", "export", "-date", "May 1"}, ErrUsage},
		{"schedule without spec", []string{"-config", cfgFile, "-job", "schedule"}, ErrMissingArgs},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := runner.Run(tc.args)
			if tc.wantErr == nil {
				if err != nil {
					t.Errorf("Run() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Run() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	setupTestEnv(t)
	err := NewAppRunner().Run([]string{"-config", createTempYAML(t, "logging:\n  level: loud\n"), "-job", "export"})
	if err == nil || !strings.Contains(err.Error(), "configuration validation failed") {
		t.Errorf("Run() error = %v", err)
	}
}

func TestRun_Migrate(t *testing.T) {
	env := setupTestEnv(t)
	if err := NewAppRunner().Run([]string{"-config", baseConfig(t, ""), "-job", "migrate"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if env.migrated != 1 || env.opened != 0 {
		t.Errorf("migrated = %d, opened = %d", env.migrated, env.opened)
	}
	if env.dsn != "postgres://env:pw@db/fieldops" {
		t.Errorf("DSN = %q, want DB_CREDENTIALS fallback", env.dsn)
	}
}

func TestRun_MigrateOnStartAndDBFlag(t *testing.T) {
	env := setupTestEnv(t)
	cfgFile := baseConfig(t, "database:\n  migrate_on_start: true\n")
	args := []string{"-config", cfgFile, "-job", "export", "-db", "postgres://flag@db/x", "-result", filepath.Join(t.TempDir(), "r.json")}
	if err := NewAppRunner().Run(args); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if env.migrated != 1 || env.opened != 1 || env.dsn != "postgres://flag@db/x" {
		t.Errorf("migrated = %d, opened = %d, dsn = %q", env.migrated, env.opened, env.dsn)
	}
}

func TestRun_HandbookFromStdin(t *testing.T) {
	env := setupTestEnv(t)
	fixture := xlsxtest.WriteFile(t, xlsxtest.Sheet{Name: "Лист1", Rows: [][]interface{}{
		{"Показатель", "Установка", "Тип плана"},
		{"Нефть", "УПН-1", "План"},
	}})
	f, err := os.Open(fixture)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	stdin = f

	resultFile := filepath.Join(t.TempDir(), "out", "result.json")
	args := []string{"-config", baseConfig(t, ""), "-job", "handbook", "-input", "-", "-user", "7", "-result", resultFile}
	if err := NewAppRunner().Run(args); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	res := readResult(t, resultFile)
	if res.Warning || res.Text != processor.TextLoaded {
		t.Errorf("result = %+v", res)
	}
	if got := env.store.inserted[handbook.Installation]; len(got) != 1 || got[0] != "УПН-1" {
		t.Errorf("inserted = %v", env.store.inserted)
	}
}

func TestRun_ProductionIssuesFile(t *testing.T) {
	setupTestEnv(t)
	var issuesPath string
	newCSVIssueWriterFunc = func(path string) (etlio.IssueWriter, error) {
		issuesPath = path
		return etlio.NewCSVIssueWriter(path)
	}
	fixture := xlsxtest.WriteFile(t, xlsxtest.Sheet{Name: "01", Rows: [][]interface{}{
		{"title"}, {nil}, {"month"},
		{"№", "", "Показатель", "ПП М03", "СГ", "ФАКТ", "ФАКТ-ПП М03", "ФАКТ-СГ"},
		{nil, nil, nil, "План"},
		{1, nil, "Неизвестный", 5, nil, nil, nil, 1},
	}})
	cfgFile := baseConfig(t, "")
	// Only sheet 01 exists in the fixture.
	cfgText, _ := os.ReadFile(cfgFile)
	cfgFile = createTempYAML(t, strings.Replace(string(cfgText), "  production:\n", "  production:\n    sheets: [\"01\"]\n", 1))

	issues := filepath.Join(t.TempDir(), "issues.csv")
	resultFile := filepath.Join(t.TempDir(), "result.json")
	args := []string{"-config", cfgFile, "-job", "production", "-input", fixture, "-issues", issues, "-result", resultFile}
	if err := NewAppRunner().Run(args); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	res := readResult(t, resultFile)
	if !res.Warning || res.Text != processor.TextHasErrors || len(res.LogErrors) == 0 {
		t.Errorf("result = %+v", res)
	}
	data, err := os.ReadFile(issuesPath)
	if err != nil {
		t.Fatalf("issues file not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "text,type,column,name_object\n") || !strings.Contains(string(data), "неизвестный") {
		t.Errorf("issues file = %q", data)
	}
}

func TestRun_ExportWithDateAndOutput(t *testing.T) {
	env := setupTestEnv(t)
	outDir := filepath.Join(t.TempDir(), "reports")
	resultFile := filepath.Join(t.TempDir(), "result.json")
	args := []string{"-config", baseConfig(t, ""), "-job", "export", "-date", "01.05.2024", "-output", outDir, "-result", resultFile}
	if err := NewAppRunner().Run(args); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	res := readResult(t, resultFile)
	if filepath.Dir(res.File) != outDir || filepath.Ext(res.File) != ".xlsx" {
		t.Errorf("File = %q", res.File)
	}
	if _, err := os.Stat(res.File); err != nil {
		t.Errorf("report not saved: %v", err)
	}
	if env.store.asOf == nil || !env.store.asOf.Equal(time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("as-of = %v", env.store.asOf)
	}
}

func TestRun_ScheduleStopsOnSignal(t *testing.T) {
	setupTestEnv(t)
	notifyContextFunc = func(parent context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		ctx, cancel := context.WithCancel(parent)
		cancel()
		return ctx, cancel
	}
	cfgFile := baseConfig(t, "  schedule: \"0 6 1 * *\"\nmetrics:\n  addr: \"127.0.0.1:0\"\n")
	done := make(chan error, 1)
	go func() { done <- NewAppRunner().Run([]string{"-config", cfgFile, "-job", "schedule"}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("schedule mode did not stop after the context was cancelled")
	}
}

func TestUsage(t *testing.T) {
	runner := NewAppRunner()
	var sb strings.Builder
	runner.Usage(&sb)
	for _, want := range []string{"-job string", "-input string", "DB_CREDENTIALS"} {
		if !strings.Contains(sb.String(), want) {
			t.Errorf("usage missing %q", want)
		}
	}
}
