package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/ai16z/agentmemory/store"
)

func (d *DB) EnsureMemoryTable(ctx context.Context, category string) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			document TEXT NOT NULL,
			embedding VECTOR(%d)
		)`, ident(store.TableName(category)), d.dimensions)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to ensure table for category %s", category)
	}
	return nil
}

func (d *DB) EnsureMetadataColumns(ctx context.Context, category string, keys []string) error {
	tableName := store.TableName(category)
	for _, key := range keys {
		var exists bool
		err := d.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
			)`, tableName, key).Scan(&exists)
		if err != nil {
			return errors.Wrapf(err, "failed to check column %s on %s", key, tableName)
		}
		if exists {
			continue
		}
		// IF NOT EXISTS absorbs the race against a concurrent writer adding
		// the same column between the check and the ALTER.
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s TEXT",
			ident(tableName), ident(key))
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to add column %s on %s", key, tableName)
		}
	}
	return nil
}

func (d *DB) ListMemoryTables(ctx context.Context) ([]string, error) {
	pattern := strings.ReplaceAll(store.TablePrefix, "_", `\_`) + "%"
	rows, err := d.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE' AND table_name LIKE $1`,
		pattern)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory tables")
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, errors.Wrap(err, "failed to scan table name")
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

func (d *DB) DropMemoryTable(ctx context.Context, category string) error {
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", ident(store.TableName(category)))
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to drop table for category %s", category)
	}
	return nil
}

func (d *DB) CountMemories(ctx context.Context, category string) (int64, error) {
	var count int64
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s", ident(store.TableName(category)))
	if err := d.db.QueryRowContext(ctx, stmt).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "failed to count memories in category %s", category)
	}
	return count, nil
}

func (d *DB) InsertMemories(ctx context.Context, category string, creates []*store.InsertMemoryParams, replace bool) ([]int64, error) {
	tableName := store.TableName(category)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(creates))
	explicitID := false
	for _, create := range creates {
		columns := []string{"document", "embedding"}
		args := []any{create.Document, pgvector.NewVector(create.Embedding)}
		if create.ID != nil {
			explicitID = true
			columns = append([]string{"id"}, columns...)
			args = append([]any{*create.ID}, args...)
		}
		for _, key := range sortedKeys(create.Metadata) {
			columns = append(columns, key)
			args = append(args, create.Metadata[key])
		}

		quoted := make([]string, 0, len(columns))
		for _, column := range columns {
			quoted = append(quoted, ident(column))
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			ident(tableName), strings.Join(quoted, ", "), placeholders(1, len(args)))
		if replace && create.ID != nil {
			set := []string{"document = EXCLUDED.document", "embedding = EXCLUDED.embedding"}
			for _, key := range sortedKeys(create.Metadata) {
				set = append(set, ident(key)+" = EXCLUDED."+ident(key))
			}
			stmt += " ON CONFLICT (id) DO UPDATE SET " + strings.Join(set, ", ")
		}
		stmt += " RETURNING id"

		var id int64
		if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&id); err != nil {
			return nil, errors.Wrapf(err, "failed to insert memory into category %s", category)
		}
		ids = append(ids, id)
	}

	if explicitID {
		if _, err := tx.ExecContext(ctx, serialSequenceStmt(tableName)); err != nil {
			return nil, errors.Wrap(err, "failed to advance id sequence")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit insert batch")
	}
	return ids, nil
}

// serialSequenceStmt keeps the identity sequence ahead of explicitly supplied
// ids so later engine-assigned ids cannot collide. The table name goes into
// pg_get_serial_sequence as a quoted identifier; an unquoted name would be
// case-folded and miss mixed-case tables.
func serialSequenceStmt(tableName string) string {
	return fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%s', 'id'), (SELECT GREATEST(COALESCE(MAX(id), 0), 1) FROM %s))",
		ident(tableName), ident(tableName))
}

func (d *DB) ListMemories(ctx context.Context, category string, params *store.ListMemoriesParams) ([]*store.MemoryRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if len(params.IDs) > 0 {
		where, args = append(where, "id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(params.IDs))
	}
	for _, key := range sortedKeys(params.MetadataEquals) {
		where, args = append(where, ident(key)+" = "+placeholder(len(args)+1)), append(args, params.MetadataEquals[key])
	}
	if params.DocumentContains != nil {
		where, args = append(where, "document LIKE "+placeholder(len(args)+1)), append(args, "%"+*params.DocumentContains+"%")
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY id LIMIT %s OFFSET %s",
		ident(store.TableName(category)), strings.Join(where, " AND "),
		placeholder(len(args)+1), placeholder(len(args)+2))
	args = append(args, params.Limit, params.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list memories in category %s", category)
	}
	defer rows.Close()

	records, _, err := scanMemoryRows(rows, false)
	return records, err
}

func (d *DB) SearchMemories(ctx context.Context, category string, vector []float32, limit int) ([]*store.MemoryMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	query := fmt.Sprintf(`
		SELECT *, embedding <-> $1 AS distance
		FROM %s
		WHERE embedding IS NOT NULL
		ORDER BY embedding <-> $2
		LIMIT $3`, ident(store.TableName(category)))

	queryVector := pgvector.NewVector(vector)
	rows, err := d.db.QueryContext(ctx, query, queryVector, queryVector, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search memories in category %s", category)
	}
	defer rows.Close()

	records, distances, err := scanMemoryRows(rows, true)
	if err != nil {
		return nil, err
	}

	matches := make([]*store.MemoryMatch, 0, len(records))
	for i, record := range records {
		matches = append(matches, &store.MemoryMatch{
			MemoryRecord: *record,
			Distance:     distances[i],
		})
	}
	return matches, nil
}

func (d *DB) UpdateMemory(ctx context.Context, category string, update *store.UpdateMemoryParams) error {
	set, args := []string{}, []any{}

	if update.Document != nil {
		set, args = append(set, "document = "+placeholder(len(args)+1)), append(args, *update.Document)
	}
	if update.Embedding != nil {
		set, args = append(set, "embedding = "+placeholder(len(args)+1)), append(args, pgvector.NewVector(update.Embedding))
	}
	for _, key := range sortedKeys(update.Metadata) {
		set, args = append(set, ident(key)+" = "+placeholder(len(args)+1)), append(args, update.Metadata[key])
	}
	if len(set) == 0 {
		return errors.New("nothing to update")
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		ident(store.TableName(category)), strings.Join(set, ", "), placeholder(len(args)+1))
	args = append(args, update.ID)

	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrapf(err, "failed to update memory %d in category %s", update.ID, category)
	}
	return nil
}

func (d *DB) DeleteMemories(ctx context.Context, category string, params *store.DeleteMemoriesParams) (int64, error) {
	where, args := []string{}, []any{}

	if len(params.IDs) > 0 {
		where, args = append(where, "id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(params.IDs))
	}
	for _, key := range sortedKeys(params.MetadataEquals) {
		where, args = append(where, ident(key)+" = "+placeholder(len(args)+1)), append(args, params.MetadataEquals[key])
	}
	if params.DocumentContains != nil {
		where, args = append(where, "document LIKE "+placeholder(len(args)+1)), append(args, "%"+*params.DocumentContains+"%")
	}
	if len(where) == 0 {
		return 0, errors.New("no condition to delete memories")
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s",
		ident(store.TableName(category)), strings.Join(where, " AND "))
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to delete memories in category %s", category)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return deleted, nil
}

// scanMemoryRows maps rows of a SELECT * projection to records. Reserved
// columns bind to the record fields; every other column is metadata, with
// NULL values omitted. withDistance expects the search projection's trailing
// distance column.
func scanMemoryRows(rows *sql.Rows, withDistance bool) ([]*store.MemoryRecord, []float64, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read result columns")
	}

	records := []*store.MemoryRecord{}
	distances := []float64{}
	for rows.Next() {
		var (
			id           int64
			document     string
			embedding    pgvector.Vector
			embeddingRaw sql.RawBytes
			distance     sql.NullFloat64
		)
		metadata := make([]sql.NullString, len(columns))

		dests := make([]any, 0, len(columns))
		for i, column := range columns {
			switch column {
			case "id":
				dests = append(dests, &id)
			case "document":
				dests = append(dests, &document)
			case "embedding":
				// The search projection filters NULL embeddings and decodes
				// the vector; the default projection discards it.
				if withDistance {
					dests = append(dests, &embedding)
				} else {
					dests = append(dests, &embeddingRaw)
				}
			case "distance":
				dests = append(dests, &distance)
			default:
				dests = append(dests, &metadata[i])
			}
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, nil, errors.Wrap(err, "failed to scan memory row")
		}

		record := &store.MemoryRecord{
			ID:       id,
			Document: document,
			Metadata: map[string]string{},
		}
		for i, column := range columns {
			if _, reserved := reservedResultColumns[column]; reserved {
				continue
			}
			if metadata[i].Valid {
				record.Metadata[column] = metadata[i].String
			}
		}
		if withDistance {
			record.Embedding = embedding.Slice()
			distances = append(distances, distance.Float64)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return records, distances, nil
}

var reservedResultColumns = map[string]struct{}{
	"id":        {},
	"document":  {},
	"embedding": {},
	"distance":  {},
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
