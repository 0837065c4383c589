// Package production turns the twelve monthly sheets of the production-product
// workbook into normalized (date, indicator, installation, type plan, value)
// records.
//
// Each sheet mixes three kinds of rows in its indicator column: installation
// markers that open a group, data rows that belong to the last marker, and
// rows with an empty indicator whose value cells carry type-plan names. The
// pipeline is explicit: Combine, Scrub, Classify, Validate, Reshape, Resolve.
package production

import (
	"fmt"
	"strconv"
	"time"

	etlio "fieldops-etl/internal/io"
)

// Column keys of the production layout.
const (
	ColIndicator            = "indicator"
	ColPPM03                = "pp_m03"
	ColNetworkGraph         = "network_graph"
	ColFact                 = "fact"
	ColDiffFactPPM03        = "diff_fact_pp_m03"
	ColDiffFactNetworkGraph = "diff_fact_network_graph"
	ColDate                 = "DATE"
)

// HeaderSkipRows is the number of title rows above the nominal header.
const HeaderSkipRows = 3

// DateLayout is the text form of the DATE column.
const DateLayout = "2006-01-02"

// ValueColumns are the wide value columns, in sheet order.
var ValueColumns = []string{ColPPM03, ColNetworkGraph, ColFact, ColDiffFactPPM03, ColDiffFactNetworkGraph}

// DisplayNames are the operator-facing names of ValueColumns.
var DisplayNames = map[string]string{
	ColPPM03:                "ПП М03",
	ColNetworkGraph:         "Сетевой график (СГ)",
	ColFact:                 "ФАКТ",
	ColDiffFactPPM03:        "ФАКТ-ПП М03",
	ColDiffFactNetworkGraph: "ФАКТ-СГ",
}

// DefaultColumns is the positional layout of a monthly sheet.
func DefaultColumns() etlio.ColumnMap {
	return etlio.ColumnMap{
		{Key: ColIndicator, Position: 2},
		{Key: ColPPM03, Position: 3},
		{Key: ColNetworkGraph, Position: 4},
		{Key: ColFact, Position: 5},
		{Key: ColDiffFactPPM03, Position: 6},
		{Key: ColDiffFactNetworkGraph, Position: 7},
	}
}

// MonthSheets returns the sheet names "01".."12".
func MonthSheets() []string {
	sheets := make([]string, 12)
	for i := range sheets {
		sheets[i] = fmt.Sprintf("%02d", i+1)
	}
	return sheets
}

// RequiredColumns lists the keys the pipeline reads from the loaded table.
func RequiredColumns() []string {
	return append([]string{ColIndicator}, ValueColumns...)
}

// SheetMonth parses a monthly sheet name such as "03".
func SheetMonth(name string) (time.Month, error) {
	month, err := strconv.Atoi(name)
	if err != nil || month < 1 || month > 12 {
		return 0, fmt.Errorf("sheet name '%s' is not a month number 01..12", name)
	}
	return time.Month(month), nil
}
