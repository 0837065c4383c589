package processor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/report"
	"fieldops-etl/internal/store"
	"fieldops-etl/internal/util"

	"golang.org/x/sync/errgroup"
)

// sheetOfCategory places each well category on its report sheet. Late and
// open-ended suspensions share a sheet, late ones first.
var sheetOfCategory = []struct {
	category store.Category
	sheet    string
}{
	{store.CategoryFund, report.SheetFund},
	{store.CategorySuspendedFirst, report.SheetSuspendedFirst},
	{store.CategorySuspendedExtension, report.SheetSuspendedExtension},
	{store.CategorySuspendedLate, report.SheetSuspendedLate},
	{store.CategorySuspendedOpenEnded, report.SheetSuspendedLate},
}

// ExportSuspensionReport builds the temporary-suspension workbook and saves
// it as "<output dir>/<job id>.xlsx". The queries run concurrently.
func (p *Processor) ExportSuspensionReport(ctx context.Context, req ExportRequest) (res *Result, err error) {
	run := p.begin(JobExport)
	defer func() { p.finish(run, res, err) }()

	asOf := req.AsOf
	if asOf == nil && p.cfg.Report.AsOfDate != "" {
		d, err := util.ParseDate(p.cfg.Report.AsOfDate)
		if err != nil {
			return nil, err
		}
		asOf = &d
	}
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = p.cfg.Report.OutputDir
	}

	wells := make([][]store.WellRecord, len(sheetOfCategory))
	var (
		leaving []store.LeavingRecord
		latest  *time.Time
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range sheetOfCategory {
		i, sc := i, sc
		g.Go(func() error {
			rows, err := p.store.WellsBySheet(gctx, sc.category)
			if err != nil {
				return fmt.Errorf("failed to fetch '%s' wells: %w", sc.category, err)
			}
			wells[i] = rows
			return nil
		})
	}
	g.Go(func() error {
		rows, err := p.store.WellsLeavingSuspension(gctx, asOf)
		if err != nil {
			return fmt.Errorf("failed to fetch wells leaving suspension: %w", err)
		}
		leaving = rows
		return nil
	})
	g.Go(func() error {
		d, err := p.store.LatestFundDate(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch latest fund date: %w", err)
		}
		latest = d
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := make([]report.SheetRows, 0, len(sheetOfCategory)+1)
	for i, sc := range sheetOfCategory {
		rows := make([][]any, len(wells[i]))
		for j, w := range wells[i] {
			rows[j] = w.Values()
		}
		run.log.Logf(logging.Debug, "Sheet '%s' gets %d '%s' wells.", sc.sheet, len(rows), sc.category)
		data = append(data, report.SheetRows{Title: sc.sheet, Rows: rows})
	}
	leavingRows := make([][]any, len(leaving))
	for j, l := range leaving {
		leavingRows[j] = l.Values()
	}
	data = append(data, report.SheetRows{Title: report.SheetLeavingSuspension, Rows: leavingRows})

	var assembler report.Assembler
	wb, err := assembler.Render(report.TemporarySuspensionTemplate(), data, report.RenderContext{AsOf: asOf, LatestDate: latest})
	if err != nil {
		return nil, err
	}
	path := filepath.Join(outputDir, run.id+".xlsx")
	if err := wb.SaveAs(path); err != nil {
		return nil, err
	}
	run.log.Logf(logging.Info, "Report saved to %s", path)

	res = newResult(TextReportSaved)
	res.File = path
	return res, nil
}
