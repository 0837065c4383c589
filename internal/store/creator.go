package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fieldops-etl/internal/logging"

	"github.com/jackc/pgx/v5"
)

// DefaultBatchSize is the number of rows per INSERT statement or UPDATE batch.
const DefaultBatchSize = 300

// Column is one target column. Type, when set, is used as a cast on UPDATE
// parameters.
type Column struct {
	Name string
	Type string
}

// Entity describes a target table and the column order of the rows passed to
// Creator.
type Entity struct {
	Table   string
	Columns []Column
}

// ColumnNames returns the column names in order.
func (e Entity) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = c.Name
	}
	return names
}

func (e Entity) column(name string) (Column, bool) {
	for _, c := range e.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (e Entity) identifier() string {
	return pgx.Identifier(strings.Split(e.Table, ".")).Sanitize()
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Creator performs chunked bulk writes. Every method takes the DB (usually a
// transaction) to run on.
type Creator struct {
	BatchSize int
}

// NewCreator returns a Creator; batchSize <= 0 selects DefaultBatchSize.
func NewCreator(batchSize int) *Creator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Creator{BatchSize: batchSize}
}

func (c *Creator) batchSize() int {
	if c == nil || c.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return c.BatchSize
}

// Create inserts rows with multi-row INSERT statements of at most BatchSize
// rows each. Every row must have one value per entity column.
func (c *Creator) Create(ctx context.Context, db DB, entity Entity, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols := entity.ColumnNames()
	quoted := make([]string, len(cols))
	for i, name := range cols {
		quoted[i] = quote(name)
	}
	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", entity.identifier(), strings.Join(quoted, ", "))

	var inserted int64
	size := c.batchSize()
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		var sb strings.Builder
		sb.WriteString(head)
		args := make([]any, 0, len(chunk)*len(cols))
		for i, row := range chunk {
			if len(row) != len(cols) {
				return inserted, fmt.Errorf("row %d for table '%s' has %d values, want %d", start+i, entity.Table, len(row), len(cols))
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(")
			for j := range cols {
				if j > 0 {
					sb.WriteString(", ")
				}
				args = append(args, row[j])
				fmt.Fprintf(&sb, "$%d", len(args))
			}
			sb.WriteString(")")
		}

		tag, err := db.Exec(ctx, sb.String(), args...)
		if err != nil {
			return inserted, wrapPgError(ctx, fmt.Sprintf("insert into '%s' (rows %d-%d)", entity.Table, start, end-1), err)
		}
		inserted += tag.RowsAffected()
		logging.Logf(logging.Debug, "Inserted rows %d-%d into '%s'.", start, end-1, entity.Table)
	}
	return inserted, nil
}

// CopyCreate streams rows into the table with COPY FROM.
func (c *Creator) CopyCreate(ctx context.Context, db DB, entity Entity, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	table := pgx.Identifier(strings.Split(entity.Table, "."))
	n, err := db.CopyFrom(ctx, table, entity.ColumnNames(), pgx.CopyFromRows(rows))
	if err != nil {
		return n, wrapPgError(ctx, fmt.Sprintf("copy into '%s'", entity.Table), err)
	}
	if n != int64(len(rows)) {
		logging.Logf(logging.Warning, "Expected to copy %d rows to table '%s', but driver reported %d rows copied.", len(rows), entity.Table, n)
	}
	return n, nil
}

// Update sends one UPDATE per row, keyed by the row's "id", in pgx batches
// of at most BatchSize statements. Only fields are written.
func (c *Creator) Update(ctx context.Context, db DB, entity Entity, rows []map[string]any, fields []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(fields) == 0 {
		return 0, fmt.Errorf("update of '%s' names no fields", entity.Table)
	}
	sets := make([]string, len(fields))
	for i, f := range fields {
		col, ok := entity.column(f)
		if !ok {
			return 0, fmt.Errorf("table '%s' has no column '%s'", entity.Table, f)
		}
		param := fmt.Sprintf("$%d", i+1)
		if col.Type != "" {
			param += "::" + col.Type
		}
		sets[i] = quote(f) + " = " + param
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", entity.identifier(), strings.Join(sets, ", "), quote("id"), len(fields)+1)

	var updated int64
	size := c.batchSize()
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		batch := &pgx.Batch{}
		for i, row := range rows[start:end] {
			id, ok := row["id"]
			if !ok {
				return updated, fmt.Errorf("update row %d for table '%s' has no id", start+i, entity.Table)
			}
			args := make([]any, 0, len(fields)+1)
			for _, f := range fields {
				args = append(args, row[f])
			}
			batch.Queue(stmt, append(args, id)...)
		}

		br := db.SendBatch(ctx, batch)
		var firstErr error
		for k := 0; k < batch.Len(); k++ {
			tag, err := br.Exec()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("update for row %d: %w", start+k, err)
				}
				continue
			}
			updated += tag.RowsAffected()
		}
		if closeErr := br.Close(); closeErr != nil && firstErr == nil {
			firstErr = closeErr
		}
		if firstErr != nil {
			return updated, wrapPgError(ctx, fmt.Sprintf("update batch %d-%d of '%s'", start, end-1, entity.Table), firstErr)
		}
	}
	return updated, nil
}

// Delete removes the rows matching any of filters with one statement. Each
// filter is an AND of column equalities, nil matching NULL. No filters is a
// no-op.
func (c *Creator) Delete(ctx context.Context, db DB, entity Entity, filters []map[string]any) (int64, error) {
	if len(filters) == 0 {
		return 0, nil
	}
	var (
		args    []any
		clauses = make([]string, 0, len(filters))
	)
	for i, filter := range filters {
		if len(filter) == 0 {
			return 0, fmt.Errorf("delete filter %d for table '%s' is empty", i, entity.Table)
		}
		keys := make([]string, 0, len(filter))
		for k := range filter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		conds := make([]string, len(keys))
		for j, k := range keys {
			if filter[k] == nil {
				conds[j] = quote(k) + " IS NULL"
				continue
			}
			args = append(args, filter[k])
			conds[j] = fmt.Sprintf("%s = $%d", quote(k), len(args))
		}
		clauses = append(clauses, "("+strings.Join(conds, " AND ")+")")
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", entity.identifier(), strings.Join(clauses, " OR "))
	tag, err := db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, wrapPgError(ctx, fmt.Sprintf("delete from '%s'", entity.Table), err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAll empties the table.
func (c *Creator) DeleteAll(ctx context.Context, db DB, entity Entity) (int64, error) {
	tag, err := db.Exec(ctx, "DELETE FROM "+entity.identifier())
	if err != nil {
		return 0, wrapPgError(ctx, fmt.Sprintf("delete all from '%s'", entity.Table), err)
	}
	return tag.RowsAffected(), nil
}
