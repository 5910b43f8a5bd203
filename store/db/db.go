package db

import (
	"github.com/pkg/errors"

	"github.com/ai16z/agentmemory/internal/profile"
	"github.com/ai16z/agentmemory/store"
	"github.com/ai16z/agentmemory/store/db/postgres"
	"github.com/ai16z/agentmemory/store/db/sqlite"
)

// NewDBDriver creates a new db driver based on profile. PostgreSQL is the
// production driver with engine-native vector search; SQLite serves
// development and testing with in-process search.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
