package store

import (
	"context"

	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/production"

	"github.com/jackc/pgx/v5"
)

// ProductionEntity is the long-format production table.
var ProductionEntity = Entity{
	Table: "gs_production_product",
	Columns: []Column{
		{Name: "date", Type: "date"},
		{Name: "indicator_id", Type: "bigint"},
		{Name: "installation_id", Type: "bigint"},
		{Name: "type_plan_id", Type: "bigint"},
		{Name: "value", Type: "double precision"},
		{Name: "created_by_id", Type: "bigint"},
	},
}

// copyThreshold is the record count above which ReplaceProduction switches
// from multi-row INSERTs to COPY.
const copyThreshold = 20 * DefaultBatchSize

func productionRow(r production.Record) []any {
	var value *float64
	if r.Value.Valid {
		v := r.Value.Decimal.InexactFloat64()
		value = &v
	}
	var createdBy *int64
	if r.CreatedByID != 0 {
		id := r.CreatedByID
		createdBy = &id
	}
	return []any{r.Date, r.IndicatorID, r.InstallationID, r.TypePlanID, value, createdBy}
}

// ReplaceProduction deletes every production row and inserts records in one
// transaction. Readers never observe a partial table.
func (s *Store) ReplaceProduction(ctx context.Context, records []production.Record) (int64, error) {
	ctx, cancel := s.withTimeout(ctx, 10)
	defer cancel()

	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = productionRow(r)
	}

	var inserted int64
	err := WithTx(ctx, s.db, func(tx pgx.Tx) error {
		deleted, err := s.creator.DeleteAll(ctx, tx, ProductionEntity)
		if err != nil {
			return err
		}
		logging.Logf(logging.Debug, "Deleted %d production rows.", deleted)
		if len(rows) > copyThreshold {
			inserted, err = s.creator.CopyCreate(ctx, tx, ProductionEntity, rows)
		} else {
			inserted, err = s.creator.Create(ctx, tx, ProductionEntity, rows)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	logging.Logf(logging.Info, "Replaced production data with %d rows.", inserted)
	return inserted, nil
}
