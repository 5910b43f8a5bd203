package store

// MemoryRecord is one stored memory row.
type MemoryRecord struct {
	ID       int64
	Document string
	// Embedding is populated by Query results; Get leaves it nil.
	Embedding []float32
	Metadata  map[string]string
}

// AddMemory describes one record to insert. A nil ID lets the engine assign
// the next identity value. A nil Embedding is derived from Document via the
// store's embedder.
type AddMemory struct {
	ID        *int64
	Document  string
	Metadata  map[string]string
	Embedding []float32
}

// FindMemory selects records to fetch. IDs are decimal strings; anything else
// fails validation. With no IDs the fetch is a paginated scan.
type FindMemory struct {
	IDs              []string
	Limit            *int
	Offset           *int
	MetadataEquals   map[string]string
	DocumentContains *string
}

// UpdateMemory describes a partial update of one record. A document update
// without a supplied embedding recomputes the embedding so the two never
// diverge.
type UpdateMemory struct {
	ID        int64
	Document  *string
	Metadata  map[string]string
	Embedding []float32
}

// DeleteMemory is a conjunctive delete filter. At least one predicate is
// required; deleting a whole table is never implicit.
type DeleteMemory struct {
	IDs              []string
	MetadataEquals   map[string]string
	DocumentContains *string
}

// QueryMemory is a nearest-neighbor query. Each entry of Texts (or the
// pre-computed vector at the same index of Embeddings) produces one result
// batch; batches are not merged.
type QueryMemory struct {
	Texts      []string
	Embeddings [][]float32
	NResults   int
}

// MemoryMatch is one nearest-neighbor result.
type MemoryMatch struct {
	MemoryRecord
	Distance float64
}

// QueryResult holds the matches for one query text, ordered by ascending
// distance.
type QueryResult struct {
	Matches []*MemoryMatch
}

// Driver-level parameter structs. IDs arrive here already parsed; input
// validation happens in the store layer.

// InsertMemoryParams is one row for Driver.InsertMemories. Embedding is
// always populated by the time it reaches the driver.
type InsertMemoryParams struct {
	ID        *int64
	Document  string
	Embedding []float32
	Metadata  map[string]string
}

// ListMemoriesParams is the parsed form of FindMemory.
type ListMemoriesParams struct {
	IDs              []int64
	Limit            int
	Offset           int
	MetadataEquals   map[string]string
	DocumentContains *string
}

// UpdateMemoryParams is the resolved form of UpdateMemory.
type UpdateMemoryParams struct {
	ID        int64
	Document  *string
	Embedding []float32
	Metadata  map[string]string
}

// DeleteMemoriesParams is the parsed form of DeleteMemory.
type DeleteMemoriesParams struct {
	IDs              []int64
	MetadataEquals   map[string]string
	DocumentContains *string
}
