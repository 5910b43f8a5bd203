package store

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/ai16z/agentmemory/internal/observability"
	"github.com/ai16z/agentmemory/internal/profile"
)

// Embedder produces a fixed-dimension vector for a text. The store treats it
// as a black box; failures surface as provider errors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store provides database access to memory collections. One Store per logical
// client; operations are synchronous and run to completion.
type Store struct {
	profile  *profile.Profile
	driver   Driver
	embedder Embedder
	logger   *slog.Logger

	// schemaGroup collapses concurrent ensure-table/ensure-column calls for
	// the same key into a single DDL round trip.
	schemaGroup singleflight.Group
}

// New creates a new instance of Store.
func New(driver Driver, embedder Embedder, profile *profile.Profile) *Store {
	return &Store{
		profile:  profile,
		driver:   driver,
		embedder: embedder,
		logger:   observability.NewLogger(profile.Mode),
	}
}

// SetLogger replaces the store logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// ListCollections enumerates the categories currently materialized as tables.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	op := observability.StartOp(s.logger, "list_collections")
	tables, err := s.driver.ListMemoryTables(ctx)
	if err != nil {
		op.Done(err)
		return nil, err
	}
	categories := []string{}
	for _, table := range tables {
		if category, ok := CategoryFromTable(table); ok {
			categories = append(categories, category)
		}
	}
	op.Done(nil, slog.Int(observability.LogFieldRows, len(categories)))
	return categories, nil
}

// GetOrCreateCollection returns a Collection bound to category. The backing
// table is materialized lazily by the first operation that needs it.
func (s *Store) GetOrCreateCollection(category string) (*Collection, error) {
	if err := ValidateCategory(category); err != nil {
		return nil, err
	}
	return &Collection{store: s, category: category}, nil
}

// GetCollection resolves an existing category against the engine catalog and
// returns a Collection bound to it. A category that was never materialized is
// a not-found error.
func (s *Store) GetCollection(ctx context.Context, category string) (*Collection, error) {
	if err := ValidateCategory(category); err != nil {
		return nil, err
	}
	categories, err := s.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	for _, existing := range categories {
		if existing == category {
			return &Collection{store: s, category: category}, nil
		}
	}
	return nil, newNotFoundError("collection %q does not exist", category)
}

// DeleteCollection drops the category's table and all its rows. Deleting an
// absent collection is a no-op.
func (s *Store) DeleteCollection(ctx context.Context, category string) error {
	if err := ValidateCategory(category); err != nil {
		return err
	}
	op := observability.StartOp(s.logger, "delete_collection",
		slog.String(observability.LogFieldCategory, category))
	err := s.driver.DropMemoryTable(ctx, category)
	op.Done(err)
	return err
}

// embed derives a vector for text via the configured embedder.
func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, newProviderError("no embedding provider configured", nil)
	}
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, newProviderError("failed to compute embedding", err)
	}
	if len(vector) != s.profile.Dimensions() {
		return nil, newProviderError(
			"embedding provider returned a vector of the wrong width", nil)
	}
	return vector, nil
}
