package test

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ai16z/agentmemory/store"
)

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }

func TestEnsureTableIdempotent(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	driver := ts.GetDriver()

	require.NoError(t, driver.EnsureMemoryTable(ctx, "notes"))
	require.NoError(t, driver.EnsureMemoryTable(ctx, "notes"))

	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)
	count, err := collection.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCountMaterializesTable(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)

	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	count, err := collection.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	categories, err := ts.ListCollections(ctx)
	require.NoError(t, err)
	require.Contains(t, categories, "notes")
}

func TestAddGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	ids, err := collection.Add(ctx, []*store.AddMemory{{
		ID:       int64Ptr(1),
		Document: "x",
		Metadata: map[string]string{"tag": "a"},
	}})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)

	records, err := collection.Get(ctx, &store.FindMemory{IDs: []string{"1"}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(1), records[0].ID)
	require.Equal(t, "x", records[0].Document)
	require.Equal(t, map[string]string{"tag": "a"}, records[0].Metadata)
	// The default projection excludes the embedding.
	require.Nil(t, records[0].Embedding)
}

func TestEngineAssignedIDs(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	ids, err := collection.Add(ctx, []*store.AddMemory{
		{Document: "first"},
		{Document: "second"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Greater(t, ids[1], ids[0])

	count, err := collection.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestEngineAssignedIDsAfterExplicitID(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{{ID: int64Ptr(10), Document: "explicit"}})
	require.NoError(t, err)

	ids, err := collection.Add(ctx, []*store.AddMemory{{Document: "assigned"}})
	require.NoError(t, err)
	require.Greater(t, ids[0], int64(10))
}

func TestMixedCaseCategoryExplicitID(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("Notes")
	require.NoError(t, err)

	// Mixed-case categories produce case-sensitive table names; the explicit-id
	// path must resolve the same relation everywhere it names it.
	ids, err := collection.Add(ctx, []*store.AddMemory{{ID: int64Ptr(7), Document: "explicit"}})
	require.NoError(t, err)
	require.Equal(t, []int64{7}, ids)

	ids, err = collection.Add(ctx, []*store.AddMemory{{Document: "assigned"}})
	require.NoError(t, err)
	require.Greater(t, ids[0], int64(7))

	count, err := collection.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestConcurrentAddsSharedMetadataKey(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	// Parallel writers all introducing the same new key: the column must be
	// added exactly once and every insert must land.
	const writers = 8
	var group errgroup.Group
	for i := 0; i < writers; i++ {
		i := i
		group.Go(func() error {
			_, err := collection.Add(ctx, []*store.AddMemory{{
				Document: fmt.Sprintf("doc %d", i),
				Metadata: map[string]string{"source": "import", "batch": strconv.Itoa(i)},
			}})
			return err
		})
	}
	require.NoError(t, group.Wait())

	count, err := collection.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, writers, count)

	records, err := collection.Get(ctx, &store.FindMemory{
		MetadataEquals: map[string]string{"source": "import"},
	})
	require.NoError(t, err)
	require.Len(t, records, writers)
}

func TestMetadataSchemaEvolution(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{{
		ID:       int64Ptr(1),
		Document: "first",
		Metadata: map[string]string{"source": "chat"},
	}})
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{{
		ID:       int64Ptr(2),
		Document: "second",
		Metadata: map[string]string{"mood": "calm"},
	}})
	require.NoError(t, err)

	records, err := collection.Get(ctx, &store.FindMemory{IDs: []string{"1", "2"}})
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Each row carries only the keys it supplied; the column added after a
	// row was written reads as absent for that row.
	require.Equal(t, map[string]string{"source": "chat"}, records[0].Metadata)
	require.Equal(t, map[string]string{"mood": "calm"}, records[1].Metadata)
}

func TestAddRejectsInvalidMetadataKey(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	for _, key := range []string{"id", "embedding", "bad-key", `k"; DROP TABLE x; --`} {
		_, err := collection.Add(ctx, []*store.AddMemory{{
			Document: "x",
			Metadata: map[string]string{key: "v"},
		}})
		require.Error(t, err, key)
		require.True(t, store.IsValidation(err), key)
	}
}

func TestAddRequiresDocument(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{{Document: "   "}})
	require.True(t, store.IsValidation(err))
}

func TestGetValidatesIDs(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Get(ctx, &store.FindMemory{IDs: []string{"one"}})
	require.True(t, store.IsValidation(err))
}

func TestGetPagination(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	adds := []*store.AddMemory{}
	for i := int64(1); i <= 5; i++ {
		adds = append(adds, &store.AddMemory{ID: int64Ptr(i), Document: "doc"})
	}
	_, err = collection.Add(ctx, adds)
	require.NoError(t, err)

	records, err := collection.Get(ctx, &store.FindMemory{Limit: intPtr(2), Offset: intPtr(2)})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(3), records[0].ID)
	require.Equal(t, int64(4), records[1].ID)
}

func TestPeek(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	adds := []*store.AddMemory{}
	for i := 0; i < 15; i++ {
		adds = append(adds, &store.AddMemory{Document: "doc"})
	}
	_, err = collection.Add(ctx, adds)
	require.NoError(t, err)

	records, err := collection.Peek(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 10)
}

func TestGetByPredicates(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{
		{Document: "grocery list", Metadata: map[string]string{"kind": "list"}},
		{Document: "grocery receipt", Metadata: map[string]string{"kind": "receipt"}},
		{Document: "todo list", Metadata: map[string]string{"kind": "list"}},
	})
	require.NoError(t, err)

	records, err := collection.Get(ctx, &store.FindMemory{
		MetadataEquals:   map[string]string{"kind": "list"},
		DocumentContains: strPtr("grocery"),
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "grocery list", records[0].Document)
}

func TestQuerySemanticNeighbor(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{
		{Document: "cat sat on mat"},
		{Document: "dog ran in park"},
	})
	require.NoError(t, err)

	count, err := collection.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	results, err := collection.Query(ctx, &store.QueryMemory{
		Texts:    []string{"feline on rug"},
		NResults: 1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Matches, 1)
	require.Equal(t, "cat sat on mat", results[0].Matches[0].Document)
	require.NotEmpty(t, results[0].Matches[0].Embedding)
}

func TestQueryOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	adds := []*store.AddMemory{
		{Document: "cat sat on mat"},
		{Document: "cat on mat"},
		{Document: "dog ran in park"},
		{Document: "dog in park"},
	}
	_, err = collection.Add(ctx, adds)
	require.NoError(t, err)

	results, err := collection.Query(ctx, &store.QueryMemory{
		Texts:    []string{"cat on mat", "dog in park"},
		NResults: 3,
	})
	require.NoError(t, err)
	// One batch per query text, not a merged top-k.
	require.Len(t, results, 2)

	for _, result := range results {
		require.LessOrEqual(t, len(result.Matches), 3)
		for i := 1; i < len(result.Matches); i++ {
			require.GreaterOrEqual(t, result.Matches[i].Distance, result.Matches[i-1].Distance)
		}
	}
	require.Equal(t, "cat on mat", results[0].Matches[0].Document)
	require.Equal(t, "dog in park", results[1].Matches[0].Document)
}

func TestQueryWithSuppliedEmbedding(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	embedding := make([]float32, testDimensions)
	embedding[0] = 1
	_, err = collection.Add(ctx, []*store.AddMemory{{Document: "pinned", Embedding: embedding}})
	require.NoError(t, err)

	results, err := collection.Query(ctx, &store.QueryMemory{
		Embeddings: [][]float32{embedding},
		NResults:   1,
	})
	require.NoError(t, err)
	require.Len(t, results[0].Matches, 1)
	require.Equal(t, "pinned", results[0].Matches[0].Document)
	require.InDelta(t, 0, results[0].Matches[0].Distance, 1e-6)
}

func TestQueryTextsAndEmbeddingsTogether(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	embedding := make([]float32, testDimensions)
	embedding[0] = 1
	_, err = collection.Add(ctx, []*store.AddMemory{
		{Document: "pinned", Embedding: embedding},
		{Document: "dog ran in park"},
	})
	require.NoError(t, err)

	// Fewer embeddings than texts: every input still yields a batch, with the
	// uncovered slot embedded from its text.
	results, err := collection.Query(ctx, &store.QueryMemory{
		Texts:      []string{"unused", "dog ran in park"},
		Embeddings: [][]float32{embedding},
		NResults:   1,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, results[0].Matches, 1)
	require.Equal(t, "pinned", results[0].Matches[0].Document)
	require.Len(t, results[1].Matches, 1)
	require.Equal(t, "dog ran in park", results[1].Matches[0].Document)
}

func TestQueryValidation(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Query(ctx, nil)
	require.True(t, store.IsValidation(err))

	_, err = collection.Query(ctx, &store.QueryMemory{
		Embeddings: [][]float32{make([]float32, testDimensions+1)},
	})
	require.True(t, store.IsValidation(err))

	// A nil embedding slot needs a text at the same index to fall back to.
	_, err = collection.Query(ctx, &store.QueryMemory{
		Embeddings: [][]float32{nil},
	})
	require.True(t, store.IsValidation(err))
}

func TestUpdateMetadataOnly(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{{
		ID:       int64Ptr(1),
		Document: "x",
		Metadata: map[string]string{"tag": "a"},
	}})
	require.NoError(t, err)

	err = collection.Update(ctx, []*store.UpdateMemory{{
		ID:       1,
		Metadata: map[string]string{"tag": "b"},
	}})
	require.NoError(t, err)

	records, err := collection.Get(ctx, &store.FindMemory{IDs: []string{"1"}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "x", records[0].Document)
	require.Equal(t, map[string]string{"tag": "b"}, records[0].Metadata)
}

func TestUpdateDocumentRecomputesEmbedding(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{
		{ID: int64Ptr(1), Document: "cat sat on mat"},
		{ID: int64Ptr(2), Document: "dog ran in park"},
	})
	require.NoError(t, err)

	// Re-point record 1 at dog-ish text; its embedding must follow the
	// document, so a dog query now returns it first.
	err = collection.Update(ctx, []*store.UpdateMemory{{
		ID:       1,
		Document: strPtr("dog dog dog in park"),
	}})
	require.NoError(t, err)

	results, err := collection.Query(ctx, &store.QueryMemory{
		Texts:    []string{"dog dog dog in park"},
		NResults: 1,
	})
	require.NoError(t, err)
	require.Len(t, results[0].Matches, 1)
	require.Equal(t, int64(1), results[0].Matches[0].ID)
}

func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	err = collection.Update(ctx, []*store.UpdateMemory{{ID: 1}})
	require.True(t, store.IsValidation(err))
}

func TestUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{{
		ID:       int64Ptr(1),
		Document: "original",
		Metadata: map[string]string{"tag": "a"},
	}})
	require.NoError(t, err)

	// A plain Add with a colliding id fails the batch.
	_, err = collection.Add(ctx, []*store.AddMemory{{ID: int64Ptr(1), Document: "collision"}})
	require.Error(t, err)

	ids, err := collection.Upsert(ctx, []*store.AddMemory{{
		ID:       int64Ptr(1),
		Document: "replaced",
		Metadata: map[string]string{"tag": "b"},
	}})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)

	count, err := collection.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	records, err := collection.Get(ctx, &store.FindMemory{IDs: []string{"1"}})
	require.NoError(t, err)
	require.Equal(t, "replaced", records[0].Document)
	require.Equal(t, map[string]string{"tag": "b"}, records[0].Metadata)
}

func TestDeleteByID(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{
		{ID: int64Ptr(1), Document: "keep"},
		{ID: int64Ptr(2), Document: "drop"},
	})
	require.NoError(t, err)

	deleted, err := collection.Delete(ctx, &store.DeleteMemory{IDs: []string{"2"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	records, err := collection.Get(ctx, &store.FindMemory{IDs: []string{"2"}})
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestDeleteRequiresPredicate(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{{Document: "survivor"}})
	require.NoError(t, err)

	_, err = collection.Delete(ctx, &store.DeleteMemory{})
	require.True(t, store.IsValidation(err))
	_, err = collection.Delete(ctx, nil)
	require.True(t, store.IsValidation(err))

	count, err := collection.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestDeleteConjunction(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Add(ctx, []*store.AddMemory{
		{Document: "grocery list", Metadata: map[string]string{"kind": "list"}},
		{Document: "grocery receipt", Metadata: map[string]string{"kind": "receipt"}},
		{Document: "todo list", Metadata: map[string]string{"kind": "list"}},
	})
	require.NoError(t, err)

	deleted, err := collection.Delete(ctx, &store.DeleteMemory{
		MetadataEquals:   map[string]string{"kind": "list"},
		DocumentContains: strPtr("grocery"),
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	count, err := collection.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestDeleteValidatesIDs(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(t)
	collection, err := ts.GetOrCreateCollection("notes")
	require.NoError(t, err)

	_, err = collection.Delete(ctx, &store.DeleteMemory{IDs: []string{"12x"}})
	require.True(t, store.IsValidation(err))
}
