package store

import (
	"context"
	"database/sql"
)

// Driver is the interface a store database driver implements. Identifier
// validation happens above the driver; implementations may assume category
// names and metadata keys are safe identifiers.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Schema methods.
	EnsureMemoryTable(ctx context.Context, category string) error
	EnsureMetadataColumns(ctx context.Context, category string, keys []string) error
	ListMemoryTables(ctx context.Context) ([]string, error)
	DropMemoryTable(ctx context.Context, category string) error

	// Memory record methods. InsertMemories runs the whole batch in one
	// transaction; replace selects insert-or-replace conflict handling.
	CountMemories(ctx context.Context, category string) (int64, error)
	InsertMemories(ctx context.Context, category string, creates []*InsertMemoryParams, replace bool) ([]int64, error)
	ListMemories(ctx context.Context, category string, params *ListMemoriesParams) ([]*MemoryRecord, error)
	SearchMemories(ctx context.Context, category string, vector []float32, limit int) ([]*MemoryMatch, error)
	UpdateMemory(ctx context.Context, category string, update *UpdateMemoryParams) error
	DeleteMemories(ctx context.Context, category string, params *DeleteMemoriesParams) (int64, error)
}
