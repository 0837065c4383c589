package processor

import (
	"context"
	"fmt"

	"fieldops-etl/internal/handbook"
	etlio "fieldops-etl/internal/io"
	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/production"
	"fieldops-etl/internal/store"
)

// ImportProduction replaces the production-product table with the twelve
// monthly sheets of the upload. Every name is checked against the handbooks
// fetched once at job start; any mismatch is returned as a warning and
// nothing is written.
func (p *Processor) ImportProduction(ctx context.Context, req ImportRequest) (res *Result, err error) {
	run := p.begin(JobProduction)
	defer func() { p.finish(run, res, err) }()

	held, err := p.acquire(ctx, JobProduction)
	if err != nil {
		return nil, err
	}
	defer release(run, held)

	cfg := p.cfg.Imports.Production
	upload, err := p.stage(ctx, req, cfg.UploadsDir, run.id)
	if err != nil {
		return nil, err
	}
	defer releaseUpload(run, upload)

	refs, err := p.store.References(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch handbooks: %w", err)
	}

	loader := etlio.Loader{Sheets: cfg.Sheets, HeaderSkipRows: cfg.SkipRows(), Columns: cfg.ColumnMap()}
	sheets, order, err := loader.LoadSheets(upload.Source())
	if err != nil {
		return nil, err
	}
	for _, name := range order {
		if err := applyFilter(run, sheets[name], cfg.Filter); err != nil {
			return nil, err
		}
	}

	combined, err := production.Combine(sheets, order, nowFunc().Year())
	if err != nil {
		return nil, err
	}
	scrubbed, err := production.Scrub(combined)
	if err != nil {
		return nil, err
	}
	classified, err := production.Classify(scrubbed)
	if err != nil {
		return nil, err
	}
	run.log.Logf(logging.Debug, "Classified %d rows: %d indicators, %d installations, %d type plans.",
		len(classified.Rows), len(classified.Indicators), len(classified.Installations), len(classified.TypePlans))

	if issues := production.Validate(classified, refs); len(issues) > 0 {
		return p.rejected(run, req, issues), nil
	}

	long, err := production.Reshape(classified)
	if err != nil {
		return nil, err
	}
	var userID int64
	if req.UserID != nil {
		userID = *req.UserID
	}
	records, issues := production.Resolve(long, refs, userID)
	if len(issues) > 0 {
		return p.rejected(run, req, issues), nil
	}
	if len(records) == 0 {
		run.log.Logf(logging.Warning, "No production values found; keeping the existing table.")
		return nil, etlio.ErrEmptyFile
	}
	run.log.Logf(logging.Info, "Resolved %d production records.", len(records))

	if req.DryRun {
		run.log.Logf(logging.Info, "Dry run: skipping replace of %d records.", len(records))
		return newResult(TextDryRunLoaded), nil
	}
	n, err := p.store.ReplaceProduction(ctx, records)
	if err != nil {
		return nil, err
	}
	p.metrics.AddRows(store.ProductionEntity.Table, n)
	return newResult(TextLoaded), nil
}

func (p *Processor) rejected(run *jobRun, req ImportRequest, issues []handbook.ValidationIssue) *Result {
	writeIssues(run, req.Issues, issues)
	res := newResult(TextHasErrors)
	res.Warning = true
	res.LogErrors = issues
	return res
}
