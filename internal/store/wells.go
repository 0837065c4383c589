package store

import (
	"context"
	"fmt"
	"time"

	"fieldops-etl/internal/logging"

	"github.com/jackc/pgx/v5"
)

// Category selects the wells of one report sheet.
type Category string

const (
	// CategoryFund is every idle or awaiting-development well.
	CategoryFund Category = "fund"
	// CategorySuspendedFirst are wells whose suspension starts on the latest fund date.
	CategorySuspendedFirst Category = "suspended_first"
	// CategorySuspendedExtension are wells whose suspension ends one month after the latest fund date.
	CategorySuspendedExtension Category = "suspended_extension"
	// CategorySuspendedLate are wells whose suspension period has run out.
	CategorySuspendedLate Category = "suspended_late"
	// CategorySuspendedOpenEnded are wells suspended before the latest fund date with no period.
	CategorySuspendedOpenEnded Category = "suspended_open_ended"
)

// Categories lists the categories in report order.
func Categories() []Category {
	return []Category{CategoryFund, CategorySuspendedFirst, CategorySuspendedExtension, CategorySuspendedLate, CategorySuspendedOpenEnded}
}

var delayConditions = map[Category]string{
	CategoryFund:               "",
	CategorySuspendedFirst:     "cbf.delay_start = lwbf.latest_date AND",
	CategorySuspendedExtension: "lwbf.latest_date = cbf.delay_period - INTERVAL '1 month' AND",
	CategorySuspendedLate:      "cbf.delay_period <= lwbf.latest_date AND",
	CategorySuspendedOpenEnded: "cbf.delay_start < lwbf.latest_date AND cbf.delay_period IS NULL AND",
}

// IdleStatuses are the well states a temporary suspension applies to.
var IdleStatuses = []string{
	"В ож.освоения",
	"Бездействие текущего года",
	"Бездействие прошлых лет",
	"Бездействующая",
}

// WorkingStatuses are the states of a well brought back into operation.
var WorkingStatuses = []string{"В работе", "Простой"}

const wellsQuery = `
WITH LatestWellsBaseFund AS (
    SELECT well_id, MAX(date) AS latest_date
    FROM wells_base_fund
    GROUP BY well_id
)
SELECT
    d.short_name AS license_name,
    f.short_name AS field_name,
    SPLIT_PART(w.name, '_', 2) AS well_number,
    w.name,
    p.name AS pad_name,
    ws.name AS status_name,
    cbf.building_end_date AS end_date,
    cbf.delay_period AS delay_period,
    cbf.delay_start AS delay_start
FROM wells_base_fund wbf
JOIN well w ON wbf.well_id = w.id
JOIN pad p ON w.wellpad_id = p.id
JOIN field f ON p.field_id = f.id
JOIN district d ON p.license_id = d.id
JOIN well_status ws ON wbf.status_id = ws.id
JOIN well_state wss ON ws.status_id = wss.id
JOIN characteristic_base_fund cbf ON wbf.well_id = cbf.well_id
JOIN LatestWellsBaseFund lwbf ON wbf.well_id = lwbf.well_id AND wbf.date = lwbf.latest_date
WHERE
    %s
    wss.name = ANY($1)`

// WellsQuery returns the SQL of one category. It takes the idle statuses as $1.
func WellsQuery(c Category) (string, error) {
	cond, ok := delayConditions[c]
	if !ok {
		return "", fmt.Errorf("unknown wells category '%s'", c)
	}
	return fmt.Sprintf(wellsQuery, cond), nil
}

const statusInfoCTE = `
WITH StatusInfo AS (
    SELECT wbf.well_id, wbf.date, wss.name AS status_name, ws.name AS status_fund
    FROM wells_base_fund wbf
    JOIN well_status ws ON wbf.status_id = ws.id
    JOIN well_state wss ON ws.status_id = wss.id
),`

const leavingSelect = `
SELECT
    d.short_name AS license_name,
    f.short_name AS field_name,
    SPLIT_PART(w.name, '_', 2) AS well_number,
    w.name AS well_name,
    p.name AS pad_name,
    pwbf.previous_status,
    lwdf.last_status
FROM LatestWellsBaseFund lwdf
JOIN PreviousWellsBaseFund pwbf ON lwdf.well_id = pwbf.well_id
JOIN well w ON lwdf.well_id = w.id
JOIN pad p ON w.wellpad_id = p.id
JOIN field f ON p.field_id = f.id
JOIN district d ON p.license_id = d.id
JOIN characteristic_base_fund cbf ON lwdf.well_id = cbf.well_id
WHERE
    cbf.delay_period IS NOT NULL`

// leavingOnDate compares the fund on $3 with the month before it.
const leavingOnDate = statusInfoCTE + `
LatestWellsBaseFund AS (
    SELECT si.well_id, si.status_fund AS last_status
    FROM StatusInfo si
    WHERE si.date = $3::date
      AND si.status_name = ANY($1)
),
PreviousWellsBaseFund AS (
    SELECT si.well_id, si.status_fund AS previous_status
    FROM StatusInfo si
    WHERE si.date + INTERVAL '1 month' = $3::date
      AND si.status_name = ANY($2)
)` + leavingSelect

// leavingLatest compares each well's latest fund row with its second latest.
const leavingLatest = statusInfoCTE + `
LatestWellsBaseFund AS (
    SELECT si.well_id, si.status_fund AS last_status
    FROM StatusInfo si
    WHERE (si.well_id, si.date) IN (
        SELECT well_id, MAX(date) AS latest_date
        FROM wells_base_fund
        GROUP BY well_id
    )
      AND si.status_name = ANY($1)
),
PreviousWellsBaseFund AS (
    SELECT si.well_id, si.previous_status
    FROM (
        SELECT
            well_id,
            ROW_NUMBER() OVER (PARTITION BY well_id ORDER BY date DESC) AS rank,
            status_name,
            status_fund AS previous_status
        FROM StatusInfo
    ) si
    WHERE si.rank = 2
      AND si.status_name = ANY($2)
)` + leavingSelect

// WellRecord is one row of the fund and suspension sheets.
type WellRecord struct {
	LicenseName *string
	FieldName   *string
	WellNumber  *string
	WellName    *string
	PadName     *string
	StatusName  *string
	EndDate     *time.Time
	DelayPeriod *time.Time
	DelayStart  *time.Time
}

// Values returns the record in sheet column order; NULLs are nil.
func (w WellRecord) Values() []any {
	return []any{
		deref(w.LicenseName), deref(w.FieldName), deref(w.WellNumber), deref(w.WellName), deref(w.PadName),
		deref(w.StatusName), derefTime(w.EndDate), derefTime(w.DelayPeriod), derefTime(w.DelayStart),
	}
}

// LeavingRecord is one row of the sheet of wells brought out of suspension.
type LeavingRecord struct {
	LicenseName    *string
	FieldName      *string
	WellNumber     *string
	WellName       *string
	PadName        *string
	PreviousStatus *string
	LastStatus     *string
}

// Values returns the record in sheet column order; NULLs are nil.
func (l LeavingRecord) Values() []any {
	return []any{
		deref(l.LicenseName), deref(l.FieldName), deref(l.WellNumber), deref(l.WellName), deref(l.PadName),
		deref(l.PreviousStatus), deref(l.LastStatus),
	}
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func derefTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// WellsBySheet returns the wells of one category.
func (s *Store) WellsBySheet(ctx context.Context, c Category) ([]WellRecord, error) {
	query, err := WellsQuery(c)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx, 2)
	defer cancel()

	rows, err := s.db.Query(ctx, query, IdleStatuses)
	if err != nil {
		return nil, wrapPgError(ctx, fmt.Sprintf("wells query '%s'", c), err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (WellRecord, error) {
		var w WellRecord
		err := row.Scan(&w.LicenseName, &w.FieldName, &w.WellNumber, &w.WellName, &w.PadName,
			&w.StatusName, &w.EndDate, &w.DelayPeriod, &w.DelayStart)
		return w, err
	})
	if err != nil {
		return nil, wrapPgError(ctx, fmt.Sprintf("wells query '%s'", c), err)
	}
	logging.Logf(logging.Debug, "Wells query '%s' returned %d rows.", c, len(out))
	return out, nil
}

// WellsLeavingSuspension returns the suspended wells that went from an idle
// state to a working one. With asOf it compares the fund on asOf with the
// month before; otherwise each well's two latest fund rows.
func (s *Store) WellsLeavingSuspension(ctx context.Context, asOf *time.Time) ([]LeavingRecord, error) {
	ctx, cancel := s.withTimeout(ctx, 2)
	defer cancel()

	var (
		rows pgx.Rows
		err  error
	)
	if asOf != nil {
		rows, err = s.db.Query(ctx, leavingOnDate, WorkingStatuses, IdleStatuses, *asOf)
	} else {
		rows, err = s.db.Query(ctx, leavingLatest, WorkingStatuses, IdleStatuses)
	}
	if err != nil {
		return nil, wrapPgError(ctx, "wells leaving suspension query", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LeavingRecord, error) {
		var l LeavingRecord
		err := row.Scan(&l.LicenseName, &l.FieldName, &l.WellNumber, &l.WellName, &l.PadName, &l.PreviousStatus, &l.LastStatus)
		return l, err
	})
	if err != nil {
		return nil, wrapPgError(ctx, "wells leaving suspension query", err)
	}
	return out, nil
}

// LatestFundDate returns the latest date of the wells base fund, or nil when
// the fund is empty.
func (s *Store) LatestFundDate(ctx context.Context) (*time.Time, error) {
	ctx, cancel := s.withTimeout(ctx, 1)
	defer cancel()

	var latest *time.Time
	if err := s.db.QueryRow(ctx, "SELECT MAX(date) FROM wells_base_fund").Scan(&latest); err != nil {
		return nil, wrapPgError(ctx, "latest fund date query", err)
	}
	return latest, nil
}
