package sqlite

import (
	"database/sql"

	"github.com/pkg/errors"
	// Import the CGO-free SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/ai16z/agentmemory/internal/profile"
	"github.com/ai16z/agentmemory/store"
)

// DB is the SQLite store driver, intended for development and testing.
// Embeddings are stored as JSON text and nearest-neighbor search runs
// in-process; for production vector search use the PostgreSQL driver.
type DB struct {
	db         *sql.DB
	profile    *profile.Profile
	dimensions int
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("sqlite", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// A single connection sidesteps SQLITE_BUSY between pooled writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{
		db:         db,
		profile:    profile,
		dimensions: profile.Dimensions(),
	}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}
