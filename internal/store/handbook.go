package store

import (
	"context"
	"fmt"

	"fieldops-etl/internal/handbook"
	"fieldops-etl/internal/logging"

	"github.com/jackc/pgx/v5"
)

// HandbookTable returns the table behind a handbook.
func HandbookTable(e handbook.Entity) (Entity, error) {
	var table string
	switch e {
	case handbook.Indicator:
		table = "gs_indicator"
	case handbook.Installation:
		table = "gs_installation"
	case handbook.TypePlan:
		table = "gs_type_plan"
	default:
		return Entity{}, fmt.Errorf("unknown handbook '%s'", e)
	}
	return Entity{Table: table, Columns: []Column{{Name: "name"}, {Name: "created_by_id"}}}, nil
}

// ReferenceTable reads one handbook as (id, trimmed lower-case name). An
// empty handbook is an empty table.
func (s *Store) ReferenceTable(ctx context.Context, e handbook.Entity) (*handbook.ReferenceTable, error) {
	entity, err := HandbookTable(e)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx, 1)
	defer cancel()

	rows, err := s.db.Query(ctx, fmt.Sprintf("SELECT id, trim(lower(name)) FROM %s", entity.identifier()))
	if err != nil {
		return nil, wrapPgError(ctx, fmt.Sprintf("read handbook '%s'", entity.Table), err)
	}
	defer rows.Close()

	var refs []handbook.Reference
	for rows.Next() {
		var ref handbook.Reference
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("failed to scan handbook '%s' row: %w", entity.Table, err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError(ctx, fmt.Sprintf("read handbook '%s'", entity.Table), err)
	}
	logging.Logf(logging.Debug, "Read %d entries from handbook '%s'.", len(refs), entity.Table)
	return handbook.NewReferenceTable(e, refs)
}

// References reads every handbook.
func (s *Store) References(ctx context.Context) (handbook.References, error) {
	refs := make(handbook.References, len(handbook.Entities()))
	for _, e := range handbook.Entities() {
		table, err := s.ReferenceTable(ctx, e)
		if err != nil {
			return nil, err
		}
		refs[e] = table
	}
	return refs, nil
}

// InsertHandbooks creates the given names in all handbooks within one
// transaction and returns the number of rows inserted per handbook.
func (s *Store) InsertHandbooks(ctx context.Context, toCreate map[handbook.Entity][]string, userID *int64) (map[handbook.Entity]int64, error) {
	ctx, cancel := s.withTimeout(ctx, 4)
	defer cancel()

	counts := make(map[handbook.Entity]int64, len(toCreate))
	err := WithTx(ctx, s.db, func(tx pgx.Tx) error {
		for _, e := range handbook.Entities() {
			names := toCreate[e]
			if len(names) == 0 {
				continue
			}
			entity, err := HandbookTable(e)
			if err != nil {
				return err
			}
			rows := make([][]any, len(names))
			for i, name := range names {
				rows[i] = []any{name, userID}
			}
			n, err := s.creator.Create(ctx, tx, entity, rows)
			if err != nil {
				return err
			}
			counts[e] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
