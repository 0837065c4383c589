// Package processor runs the import and export jobs end to end: staging the
// upload, extraction, reconciliation, persistence and the result payload.
package processor

import (
	"context"
	"fmt"
	goio "io"
	"time"

	"fieldops-etl/internal/config"
	"fieldops-etl/internal/handbook"
	etlio "fieldops-etl/internal/io"
	"fieldops-etl/internal/lock"
	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/metrics"
	"fieldops-etl/internal/production"
	"fieldops-etl/internal/store"

	"github.com/Knetic/govaluate"
	"github.com/google/uuid"
)

// Job names used in logs, metrics and lock keys.
const (
	JobHandbook   = "handbook"
	JobProduction = "production"
	JobExport     = "export"
)

// Result texts shown to the uploader.
const (
	TextLoaded       = "Файл загружен"
	TextHasErrors    = "При загрузке обнаружены ошибки, исправьте их и загрузите файл снова"
	TextReportSaved  = "Отчет сформирован"
	TextDryRunLoaded = "Файл проверен, данные не сохранены"
)

// Result is the job payload returned to the caller.
type Result struct {
	Warning   bool                       `json:"warning"`
	Text      string                     `json:"text"`
	LogErrors []handbook.ValidationIssue `json:"log_errors"`
	// File is the saved report, for export jobs.
	File string `json:"file,omitempty"`
}

func newResult(text string) *Result {
	return &Result{Text: text, LogErrors: []handbook.ValidationIssue{}}
}

// Store is the persistence the jobs need.
type Store interface {
	References(ctx context.Context) (handbook.References, error)
	InsertHandbooks(ctx context.Context, toCreate map[handbook.Entity][]string, userID *int64) (map[handbook.Entity]int64, error)
	ReplaceProduction(ctx context.Context, records []production.Record) (int64, error)
	WellsBySheet(ctx context.Context, c store.Category) ([]store.WellRecord, error)
	WellsLeavingSuspension(ctx context.Context, asOf *time.Time) ([]store.LeavingRecord, error)
	LatestFundDate(ctx context.Context) (*time.Time, error)
}

// ImportRequest describes one upload.
type ImportRequest struct {
	// Path is an upload already on disk. When empty, Input is staged instead.
	Path  string
	Input goio.Reader
	// Name is the original file name of Input.
	Name   string
	UserID *int64
	// DryRun validates without writing to the database.
	DryRun bool
	// Issues, when set, also receives every validation issue.
	Issues etlio.IssueWriter
}

// ExportRequest describes one report export.
type ExportRequest struct {
	AsOf      *time.Time
	OutputDir string
}

// expressionEvaluator defines the interface for evaluating filter expressions.
// This allows mocking the govaluate dependency.
type expressionEvaluator interface {
	Evaluate(map[string]interface{}) (interface{}, error)
}

var (
	newExpressionEvaluatorFunc = func(expr string) (expressionEvaluator, error) {
		evalExpr, err := govaluate.NewEvaluableExpression(expr)
		if err != nil {
			return nil, err
		}
		return evalExpr, nil
	}

	newJobIDFunc = uuid.NewString
	nowFunc      = time.Now
)

// Processor runs jobs against one store.
type Processor struct {
	cfg     *config.Config
	store   Store
	locker  lock.Locker
	metrics *metrics.Metrics
}

// New returns a Processor. A nil locker means imports are not serialized;
// nil metrics are not recorded.
func New(cfg *config.Config, st Store, locker lock.Locker, m *metrics.Metrics) *Processor {
	if cfg == nil {
		cfg = config.Default()
	}
	if locker == nil {
		locker = lock.NopLocker{}
	}
	return &Processor{cfg: cfg, store: st, locker: locker, metrics: m}
}

// jobRun tracks one job for logging and metrics.
type jobRun struct {
	name  string
	id    string
	start time.Time
	log   *logging.Entry
}

func (p *Processor) begin(name string) *jobRun {
	id := newJobIDFunc()
	run := &jobRun{
		name:  name,
		id:    id,
		start: nowFunc(),
		log:   logging.WithFields(logging.Fields{"job": name, "job_id": id}),
	}
	run.log.Logf(logging.Info, "Job started.")
	return run
}

// finish records the outcome of run. res may be nil when err is set.
func (p *Processor) finish(run *jobRun, res *Result, err error) {
	took := nowFunc().Sub(run.start)
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailure
		run.log.Logf(logging.Error, "Job failed after %s: %v", took.Round(time.Millisecond), err)
	case res != nil && res.Warning:
		outcome = metrics.OutcomeWarning
		run.log.Logf(logging.Warning, "Job finished with %d issue(s) in %s.", len(res.LogErrors), took.Round(time.Millisecond))
	default:
		run.log.Logf(logging.Info, "Job finished in %s.", took.Round(time.Millisecond))
	}
	p.metrics.ObserveJob(run.name, outcome, took)
}

// stage copies the upload into dir for the lifetime of the job.
func (p *Processor) stage(ctx context.Context, req ImportRequest, dir, jobID string) (*etlio.Upload, error) {
	if req.Path != "" {
		return etlio.StageFile(ctx, req.Path, dir, jobID)
	}
	if req.Input == nil {
		return nil, fmt.Errorf("import request has neither a path nor an input stream")
	}
	return etlio.Stage(ctx, req.Input, req.Name, dir, jobID)
}

// acquire takes the import lock for kind. The caller must release it.
func (p *Processor) acquire(ctx context.Context, kind string) (lock.Lock, error) {
	held, err := p.locker.Obtain(ctx, lock.ImportKey(p.cfg.Lock.KeyPrefix, kind))
	if err != nil {
		return nil, fmt.Errorf("another %s import is running or the lock is unavailable: %w", kind, err)
	}
	return held, nil
}

func release(run *jobRun, held lock.Lock) {
	if err := held.Release(context.Background()); err != nil {
		run.log.Logf(logging.Warning, "Failed to release import lock: %v", err)
	}
}

// applyFilter drops rows of table for which expr is false. Rows whose
// evaluation fails or yields a non-boolean are dropped and logged.
func applyFilter(run *jobRun, table *etlio.Table, expr string) error {
	if expr == "" || table == nil {
		return nil
	}
	evaluator, err := newExpressionEvaluatorFunc(expr)
	if err != nil {
		return fmt.Errorf("invalid filter expression '%s': %w", expr, err)
	}
	before, i := table.Len(), 0
	err = table.Filter(func(row etlio.Row) (bool, error) {
		i++
		result, evalErr := evaluator.Evaluate(table.Record(row))
		if evalErr != nil {
			run.log.Logf(logging.Error, "Filter failed on row %d: %v. Skipping.", i, evalErr)
			return false, nil
		}
		keep, isBool := result.(bool)
		if !isBool {
			run.log.Logf(logging.Error, "Filter returned non-bool on row %d (type %T): %v. Skipping.", i, result, result)
			return false, nil
		}
		return keep, nil
	})
	if err != nil {
		return err
	}
	run.log.Logf(logging.Info, "Filter applied: %d kept, %d skipped.", table.Len(), before-table.Len())
	return nil
}

// writeIssues copies issues to w, logging write failures.
func writeIssues(run *jobRun, w etlio.IssueWriter, issues []handbook.ValidationIssue) {
	if w == nil {
		return
	}
	for _, issue := range issues {
		if err := w.Write(issue); err != nil {
			run.log.Logf(logging.Error, "Failed to write issue: %v", err)
			return
		}
	}
}

func releaseUpload(run *jobRun, upload *etlio.Upload) {
	if err := upload.Release(); err != nil {
		run.log.Logf(logging.Warning, "%v", err)
	}
}
