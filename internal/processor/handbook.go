package processor

import (
	"context"
	"fmt"

	"fieldops-etl/internal/handbook"
	etlio "fieldops-etl/internal/io"
	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/store"
)

// ImportHandbooks adds every indicator, installation and type-plan name of
// the upload that its handbook does not know yet. Names are compared trimmed
// and lower-cased; new names keep the casing of their first occurrence.
func (p *Processor) ImportHandbooks(ctx context.Context, req ImportRequest) (res *Result, err error) {
	run := p.begin(JobHandbook)
	defer func() { p.finish(run, res, err) }()

	held, err := p.acquire(ctx, JobHandbook)
	if err != nil {
		return nil, err
	}
	defer release(run, held)

	cfg := p.cfg.Imports.Handbook
	upload, err := p.stage(ctx, req, cfg.UploadsDir, run.id)
	if err != nil {
		return nil, err
	}
	defer releaseUpload(run, upload)

	loader := etlio.Loader{Sheets: cfg.Sheets, HeaderSkipRows: cfg.SkipRows(), Columns: cfg.ColumnMap()}
	table, err := loader.Load(upload.Source())
	if err != nil {
		return nil, err
	}
	if err := applyFilter(run, table, cfg.Filter); err != nil {
		return nil, err
	}
	observed, err := handbook.ParseHandbookFile(table)
	if err != nil {
		return nil, err
	}

	refs, err := p.store.References(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch handbooks: %w", err)
	}

	toCreate := make(map[handbook.Entity][]string, len(observed))
	for _, e := range handbook.Entities() {
		part := handbook.Partition(observed[e], refs.Table(e))
		run.log.Logf(logging.Info, "Handbook '%s': %d known, %d new.", e, part.AlreadyKnown.Len(), part.ToCreate.Len())
		if part.ToCreate.Len() > 0 {
			toCreate[e] = part.ToCreate.Values()
		}
	}

	if req.DryRun {
		run.log.Logf(logging.Info, "Dry run: skipping insert.")
		return newResult(TextDryRunLoaded), nil
	}
	counts, err := p.store.InsertHandbooks(ctx, toCreate, req.UserID)
	if err != nil {
		return nil, err
	}
	for e, n := range counts {
		table, tErr := store.HandbookTable(e)
		if tErr != nil {
			continue
		}
		p.metrics.AddRows(table.Table, n)
	}
	return newResult(TextLoaded), nil
}
