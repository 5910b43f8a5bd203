package store

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ai16z/agentmemory/internal/observability"
)

const (
	defaultGetLimit   = 100
	defaultPeekLimit  = 10
	defaultQueryLimit = 10
)

// Collection is the CRUD and similarity-search surface of one category.
// Instances are cheap handles over the owning Store and safe to discard.
type Collection struct {
	store    *Store
	category string
}

func (c *Collection) Category() string {
	return c.category
}

// Count ensures the backing table exists and returns its row count. Counting
// a fresh category materializes an empty table.
func (c *Collection) Count(ctx context.Context) (int64, error) {
	if err := c.store.ensureTable(ctx, c.category); err != nil {
		return 0, err
	}
	return c.store.driver.CountMemories(ctx, c.category)
}

// Add inserts the given records as one transactional batch and returns the
// ids in batch order. Missing embeddings are derived from the document; a
// colliding explicit id fails the whole batch. See Upsert for
// insert-or-replace semantics.
func (c *Collection) Add(ctx context.Context, adds []*AddMemory) ([]int64, error) {
	return c.insert(ctx, "memory_add", adds, false)
}

// Upsert behaves like Add but replaces the row when an explicit id already
// exists, using the engine's native conflict handling.
func (c *Collection) Upsert(ctx context.Context, adds []*AddMemory) ([]int64, error) {
	return c.insert(ctx, "memory_upsert", adds, true)
}

func (c *Collection) insert(ctx context.Context, opName string, adds []*AddMemory, replace bool) ([]int64, error) {
	if len(adds) == 0 {
		return []int64{}, nil
	}

	metadatas := make([]map[string]string, 0, len(adds))
	for _, add := range adds {
		if add == nil || strings.TrimSpace(add.Document) == "" {
			return nil, newValidationError("document is required")
		}
		if add.Embedding != nil && len(add.Embedding) != c.store.profile.Dimensions() {
			return nil, newValidationError("embedding must have %d dimensions, got %d",
				c.store.profile.Dimensions(), len(add.Embedding))
		}
		metadatas = append(metadatas, add.Metadata)
	}

	if err := c.store.ensureTable(ctx, c.category); err != nil {
		return nil, err
	}
	if err := c.store.ensureMetadataColumns(ctx, c.category, metadatas...); err != nil {
		return nil, err
	}

	op := observability.StartOp(c.store.logger, opName,
		slog.String(observability.LogFieldCategory, c.category),
		slog.Int(observability.LogFieldRows, len(adds)))

	creates := make([]*InsertMemoryParams, 0, len(adds))
	for _, add := range adds {
		embedding := add.Embedding
		if embedding == nil {
			var err error
			if embedding, err = c.store.embed(ctx, add.Document); err != nil {
				op.Done(err)
				return nil, err
			}
		}
		creates = append(creates, &InsertMemoryParams{
			ID:        add.ID,
			Document:  add.Document,
			Embedding: embedding,
			Metadata:  add.Metadata,
		})
	}

	ids, err := c.store.driver.InsertMemories(ctx, c.category, creates, replace)
	op.Done(err)
	return ids, err
}

// Get fetches records by id or as a paginated scan (default limit 100).
// Returned records carry the document and the metadata reconstructed from all
// non-reserved columns; NULL metadata values are omitted. The embedding is
// excluded from the projection.
func (c *Collection) Get(ctx context.Context, find *FindMemory) ([]*MemoryRecord, error) {
	if find == nil {
		find = &FindMemory{}
	}

	params := &ListMemoriesParams{
		MetadataEquals:   find.MetadataEquals,
		DocumentContains: find.DocumentContains,
	}
	for key := range find.MetadataEquals {
		if err := ValidateMetadataKey(key); err != nil {
			return nil, err
		}
	}

	var err error
	if params.IDs, err = parseIDs(find.IDs); err != nil {
		return nil, err
	}

	params.Limit = defaultGetLimit
	if len(params.IDs) > 0 {
		params.Limit = len(params.IDs)
	}
	if find.Limit != nil {
		if *find.Limit <= 0 {
			return nil, newValidationError("limit must be positive, got %d", *find.Limit)
		}
		params.Limit = *find.Limit
	}
	if find.Offset != nil {
		if *find.Offset < 0 {
			return nil, newValidationError("offset must not be negative, got %d", *find.Offset)
		}
		params.Offset = *find.Offset
	}

	if err := c.store.ensureTable(ctx, c.category); err != nil {
		return nil, err
	}
	return c.store.driver.ListMemories(ctx, c.category, params)
}

// Peek returns up to limit records from a scan; limit defaults to 10.
func (c *Collection) Peek(ctx context.Context, limit int) ([]*MemoryRecord, error) {
	if limit <= 0 {
		limit = defaultPeekLimit
	}
	return c.Get(ctx, &FindMemory{Limit: &limit})
}

// Query runs one nearest-neighbor search per input text (or pre-computed
// vector) and returns one batch per input, each ordered by ascending
// distance and capped at NResults (default 10). Batches are not merged.
func (c *Collection) Query(ctx context.Context, query *QueryMemory) ([]*QueryResult, error) {
	if query == nil || (len(query.Texts) == 0 && len(query.Embeddings) == 0) {
		return nil, newValidationError("query requires at least one text or embedding")
	}

	// One search per input: a nil (or absent) embedding slot falls back to
	// embedding the text at the same index.
	vectors := query.Embeddings
	if len(query.Texts) > len(vectors) {
		vectors = make([][]float32, len(query.Texts))
		copy(vectors, query.Embeddings)
	}
	for _, vector := range query.Embeddings {
		if vector != nil && len(vector) != c.store.profile.Dimensions() {
			return nil, newValidationError("query embedding must have %d dimensions, got %d",
				c.store.profile.Dimensions(), len(vector))
		}
	}

	limit := query.NResults
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	if err := c.store.ensureTable(ctx, c.category); err != nil {
		return nil, err
	}

	op := observability.StartOp(c.store.logger, "memory_query",
		slog.String(observability.LogFieldCategory, c.category),
		slog.Int(observability.LogFieldRows, len(vectors)))

	results := make([]*QueryResult, 0, len(vectors))
	for i, vector := range vectors {
		if vector == nil {
			if i >= len(query.Texts) {
				err := newValidationError("query embedding %d is missing and has no text to embed", i)
				op.Done(err)
				return nil, err
			}
			var err error
			if vector, err = c.store.embed(ctx, query.Texts[i]); err != nil {
				op.Done(err)
				return nil, err
			}
		}
		matches, err := c.store.driver.SearchMemories(ctx, c.category, vector, limit)
		if err != nil {
			op.Done(err)
			return nil, err
		}
		results = append(results, &QueryResult{Matches: matches})
	}

	op.Done(nil)
	return results, nil
}

// Update applies per-record partial updates. Updating the document without
// supplying an embedding recomputes the embedding in the same statement, so
// the two never visibly diverge. Updating an absent id is a no-op.
func (c *Collection) Update(ctx context.Context, updates []*UpdateMemory) error {
	if len(updates) == 0 {
		return nil
	}

	metadatas := make([]map[string]string, 0, len(updates))
	for _, update := range updates {
		if update == nil || (update.Document == nil && update.Metadata == nil && update.Embedding == nil) {
			return newValidationError("update requires a document, metadata, or embedding")
		}
		if update.Document != nil && strings.TrimSpace(*update.Document) == "" {
			return newValidationError("document is required")
		}
		if update.Embedding != nil && len(update.Embedding) != c.store.profile.Dimensions() {
			return newValidationError("embedding must have %d dimensions, got %d",
				c.store.profile.Dimensions(), len(update.Embedding))
		}
		metadatas = append(metadatas, update.Metadata)
	}

	if err := c.store.ensureTable(ctx, c.category); err != nil {
		return err
	}
	if err := c.store.ensureMetadataColumns(ctx, c.category, metadatas...); err != nil {
		return err
	}

	op := observability.StartOp(c.store.logger, "memory_update",
		slog.String(observability.LogFieldCategory, c.category),
		slog.Int(observability.LogFieldRows, len(updates)))

	for _, update := range updates {
		embedding := update.Embedding
		if update.Document != nil && embedding == nil {
			var err error
			if embedding, err = c.store.embed(ctx, *update.Document); err != nil {
				op.Done(err)
				return err
			}
		}
		err := c.store.driver.UpdateMemory(ctx, c.category, &UpdateMemoryParams{
			ID:        update.ID,
			Document:  update.Document,
			Embedding: embedding,
			Metadata:  update.Metadata,
		})
		if err != nil {
			op.Done(err)
			return err
		}
	}

	op.Done(nil)
	return nil
}

// Delete removes the records matching the conjunction of the supplied
// predicates and returns the number of rows removed. At least one predicate
// is required.
func (c *Collection) Delete(ctx context.Context, delete *DeleteMemory) (int64, error) {
	if delete == nil || (len(delete.IDs) == 0 && len(delete.MetadataEquals) == 0 && delete.DocumentContains == nil) {
		return 0, newValidationError("delete requires at least one predicate")
	}
	for key := range delete.MetadataEquals {
		if err := ValidateMetadataKey(key); err != nil {
			return 0, err
		}
	}

	params := &DeleteMemoriesParams{
		MetadataEquals:   delete.MetadataEquals,
		DocumentContains: delete.DocumentContains,
	}
	var err error
	if params.IDs, err = parseIDs(delete.IDs); err != nil {
		return 0, err
	}

	if err := c.store.ensureTable(ctx, c.category); err != nil {
		return 0, err
	}

	op := observability.StartOp(c.store.logger, "memory_delete",
		slog.String(observability.LogFieldCategory, c.category))
	deleted, err := c.store.driver.DeleteMemories(ctx, c.category, params)
	op.Done(err, slog.Int64(observability.LogFieldRows, deleted))
	return deleted, err
}

// parseIDs converts decimal-string ids to integers, failing validation on
// anything else.
func parseIDs(ids []string) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parsed := make([]int64, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, newValidationError("ids must be integers or strings representing integers, got %q", raw)
		}
		parsed = append(parsed, id)
	}
	return parsed, nil
}
