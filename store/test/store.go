// Package test holds the store test suite. It runs against the SQLite driver
// by default, which keeps the suite hermetic; setting POSTGRES_TEST_DSN points
// it at a PostgreSQL instance with the pgvector extension instead.
package test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/ai16z/agentmemory/internal/profile"
	"github.com/ai16z/agentmemory/store"
	"github.com/ai16z/agentmemory/store/db"
)

// testDimensions keeps test vectors small; every word the suite uses gets its
// own axis.
const testDimensions = 32

func getDriverFromEnv() string {
	if os.Getenv("POSTGRES_TEST_DSN") != "" {
		return "postgres"
	}
	return "sqlite"
}

func newTestingProfile(t *testing.T) *profile.Profile {
	p := &profile.Profile{
		Mode:                "dev",
		Driver:              getDriverFromEnv(),
		DSN:                 os.Getenv("POSTGRES_TEST_DSN"),
		EmbeddingProvider:   "local",
		EmbeddingDimensions: testDimensions,
	}
	if p.Driver == "sqlite" {
		p.DSN = filepath.Join(t.TempDir(), "agentmemory.db")
	}
	require.NoError(t, p.Validate())
	return p
}

// NewTestingStore creates a store over a fresh database with a deterministic
// embedder.
func NewTestingStore(t *testing.T) *store.Store {
	p := newTestingProfile(t)

	driver, err := db.NewDBDriver(p)
	require.NoError(t, err)

	s := store.New(driver, newTestEmbedder(testDimensions), p)
	s.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Cleanup(func() {
		// Postgres instances are shared across runs; drop what we created.
		if categories, err := s.ListCollections(context.Background()); err == nil {
			for _, category := range categories {
				_ = s.DeleteCollection(context.Background(), category)
			}
		}
		_ = s.Close()
	})
	return s
}

// testEmbedder assigns each distinct (canonicalized) word its own axis, so
// texts sharing words are provably closer than texts sharing none. Synonyms
// collapse onto one axis to give the suite a notion of relatedness.
type testEmbedder struct {
	dimensions int

	mu   sync.Mutex
	axes map[string]int
}

var testSynonyms = map[string]string{
	"feline": "cat",
	"kitty":  "cat",
	"rug":    "mat",
	"puppy":  "dog",
}

func newTestEmbedder(dimensions int) *testEmbedder {
	return &testEmbedder{dimensions: dimensions, axes: map[string]int{}}
}

func (e *testEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vector := make([]float32, e.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, token := range tokens {
		if canonical, ok := testSynonyms[token]; ok {
			token = canonical
		}
		axis, ok := e.axes[token]
		if !ok {
			axis = len(e.axes) % e.dimensions
			e.axes[token] = axis
		}
		vector[axis]++
	}
	return vector, nil
}
