package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/ai16z/agentmemory/store"
)

func (d *DB) EnsureMemoryTable(ctx context.Context, category string) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document TEXT NOT NULL,
			embedding TEXT
		)`, ident(store.TableName(category)))
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to ensure table for category %s", category)
	}
	return nil
}

func (d *DB) EnsureMetadataColumns(ctx context.Context, category string, keys []string) error {
	tableName := store.TableName(category)

	existing, err := d.tableColumns(ctx, tableName)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if _, ok := existing[key]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", ident(tableName), ident(key))
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			// A concurrent writer may have added the column between the
			// catalog check and the ALTER; that race is benign.
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return errors.Wrapf(err, "failed to add column %s on %s", key, tableName)
		}
	}
	return nil
}

// tableColumns reads the current column set from the engine catalog.
func (d *DB) tableColumns(ctx context.Context, tableName string) (map[string]struct{}, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", tableName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to introspect table %s", tableName)
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "failed to scan column name")
		}
		columns[name] = struct{}{}
	}
	return columns, rows.Err()
}

func (d *DB) ListMemoryTables(ctx context.Context) ([]string, error) {
	pattern := strings.ReplaceAll(store.TablePrefix, "_", `\_`) + "%"
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ? ESCAPE '\'`,
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
	for _, create := range creates {
		encoded, err := json.Marshal(create.Embedding)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode embedding")
		}

		columns := []string{"document", "embedding"}
		args := []any{create.Document, string(encoded)}
		if create.ID != nil {
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
			ident(tableName), strings.Join(quoted, ", "), placeholders(len(args)))
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

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit insert batch")
	}
	return ids, nil
}

func (d *DB) ListMemories(ctx context.Context, category string, params *store.ListMemoriesParams) ([]*store.MemoryRecord, error) {
	where, args := []string{"1 = 1"}, []any{}

	if len(params.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(params.IDs))+")")
		for _, id := range params.IDs {
			args = append(args, id)
		}
	}
	for _, key := range sortedKeys(params.MetadataEquals) {
		where, args = append(where, ident(key)+" = ?"), append(args, params.MetadataEquals[key])
	}
	if params.DocumentContains != nil {
		where, args = append(where, "document LIKE ?"), append(args, "%"+*params.DocumentContains+"%")
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY id LIMIT ? OFFSET ?",
		ident(store.TableName(category)), strings.Join(where, " AND "))
	args = append(args, params.Limit, params.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list memories in category %s", category)
	}
	defer rows.Close()

	records, _, err := scanMemoryRows(rows, false)
	return records, err
}

// SearchMemories computes distances in-process: SQLite has no vector
// operator, so candidate rows are scanned and ranked by Euclidean distance.
func (d *DB) SearchMemories(ctx context.Context, category string, vector []float32, limit int) ([]*store.MemoryMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE embedding IS NOT NULL",
		ident(store.TableName(category)))
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search memories in category %s", category)
	}
	defer rows.Close()

	records, embeddings, err := scanMemoryRows(rows, true)
	if err != nil {
		return nil, err
	}

	matches := make([]*store.MemoryMatch, 0, len(records))
	for i, record := range records {
		if len(embeddings[i]) != len(vector) {
			continue
		}
		record.Embedding = embeddings[i]
		matches = append(matches, &store.MemoryMatch{
			MemoryRecord: *record,
			Distance:     euclideanDistance(vector, embeddings[i]),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (d *DB) UpdateMemory(ctx context.Context, category string, update *store.UpdateMemoryParams) error {
	set, args := []string{}, []any{}

	if update.Document != nil {
		set, args = append(set, "document = ?"), append(args, *update.Document)
	}
	if update.Embedding != nil {
		encoded, err := json.Marshal(update.Embedding)
		if err != nil {
			return errors.Wrap(err, "failed to encode embedding")
		}
		set, args = append(set, "embedding = ?"), append(args, string(encoded))
	}
	for _, key := range sortedKeys(update.Metadata) {
		set, args = append(set, ident(key)+" = ?"), append(args, update.Metadata[key])
	}
	if len(set) == 0 {
		return errors.New("nothing to update")
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
		ident(store.TableName(category)), strings.Join(set, ", "))
	args = append(args, update.ID)

	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrapf(err, "failed to update memory %d in category %s", update.ID, category)
	}
	return nil
}

func (d *DB) DeleteMemories(ctx context.Context, category string, params *store.DeleteMemoriesParams) (int64, error) {
	where, args := []string{}, []any{}

	if len(params.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(params.IDs))+")")
		for _, id := range params.IDs {
			args = append(args, id)
		}
	}
	for _, key := range sortedKeys(params.MetadataEquals) {
		where, args = append(where, ident(key)+" = ?"), append(args, params.MetadataEquals[key])
	}
	if params.DocumentContains != nil {
		where, args = append(where, "document LIKE ?"), append(args, "%"+*params.DocumentContains+"%")
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
// columns bind to record fields; everything else is metadata, with NULL
// values omitted. withEmbeddings also decodes the stored vectors.
func scanMemoryRows(rows *sql.Rows, withEmbeddings bool) ([]*store.MemoryRecord, [][]float32, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read result columns")
	}

	records := []*store.MemoryRecord{}
	embeddings := [][]float32{}
	for rows.Next() {
		var (
			id       int64
			document string
			encoded  sql.NullString
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
				dests = append(dests, &encoded)
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
			if column == "id" || column == "document" || column == "embedding" {
				continue
			}
			if metadata[i].Valid {
				record.Metadata[column] = metadata[i].String
			}
		}

		if withEmbeddings {
			var vector []float32
			if encoded.Valid {
				if err := json.Unmarshal([]byte(encoded.String), &vector); err != nil {
					return nil, nil, errors.Wrap(err, "failed to decode embedding")
				}
			}
			embeddings = append(embeddings, vector)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return records, embeddings, nil
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		delta := float64(a[i]) - float64(b[i])
		sum += delta * delta
	}
	return math.Sqrt(sum)
}
