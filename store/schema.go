package store

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// TablePrefix prefixes every category-backed table.
const TablePrefix = "memory_"

// maxIdentifierLength matches the Postgres identifier limit, the tighter of
// the two supported engines.
const maxIdentifierLength = 63

// Reserved column names. Metadata keys may not collide with these; "distance"
// is reserved because search projects it alongside the row columns.
var reservedColumns = map[string]struct{}{
	"id":        {},
	"document":  {},
	"embedding": {},
	"distance":  {},
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableName returns the backing table name for a category.
func TableName(category string) string {
	return TablePrefix + category
}

// CategoryFromTable maps a table name back to its category, reporting whether
// the table follows the memory-table naming convention.
func CategoryFromTable(table string) (string, bool) {
	if !strings.HasPrefix(table, TablePrefix) || len(table) == len(TablePrefix) {
		return "", false
	}
	return strings.TrimPrefix(table, TablePrefix), true
}

// ValidateCategory checks that a category name is a safe table identifier.
func ValidateCategory(category string) error {
	if category == "" {
		return newValidationError("category name is required")
	}
	if !identifierPattern.MatchString(category) {
		return newValidationError("invalid category name %q: must match %s", category, identifierPattern.String())
	}
	if len(TableName(category)) > maxIdentifierLength {
		return newValidationError("category name %q is too long", category)
	}
	return nil
}

// ValidateMetadataKey checks that a metadata key is a safe, non-reserved
// column identifier. Validation is fail-closed: no DDL is issued for a key
// that does not pass.
func ValidateMetadataKey(key string) error {
	if key == "" {
		return newValidationError("metadata key is required")
	}
	if !identifierPattern.MatchString(key) {
		return newValidationError("invalid metadata key %q: must match %s", key, identifierPattern.String())
	}
	if len(key) > maxIdentifierLength {
		return newValidationError("metadata key %q is too long", key)
	}
	if _, ok := reservedColumns[strings.ToLower(key)]; ok {
		return newValidationError("metadata key %q collides with a reserved column", key)
	}
	return nil
}

// metadataKeys collects the sorted union of keys across metadata maps,
// validating each key.
func metadataKeys(metadatas ...map[string]string) ([]string, error) {
	seen := map[string]struct{}{}
	keys := []string{}
	for _, metadata := range metadatas {
		for key := range metadata {
			if err := ValidateMetadataKey(key); err != nil {
				return nil, err
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ensureTable idempotently materializes the category's backing table.
// Concurrent calls for the same category collapse into one DDL round trip.
func (s *Store) ensureTable(ctx context.Context, category string) error {
	if err := ValidateCategory(category); err != nil {
		return err
	}
	_, err, _ := s.schemaGroup.Do("table:"+category, func() (any, error) {
		return nil, s.driver.EnsureMemoryTable(ctx, category)
	})
	if err != nil {
		return newSchemaError("failed to ensure table for category "+category, err)
	}
	return nil
}

// ensureMetadataColumns adds a nullable text column for every not-yet-seen
// key across the given metadata maps. Column existence is determined from the
// engine catalog on every call; a lost race against another writer adding the
// same column is absorbed by the driver.
func (s *Store) ensureMetadataColumns(ctx context.Context, category string, metadatas ...map[string]string) error {
	keys, err := metadataKeys(metadatas...)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	_, err, _ = s.schemaGroup.Do("columns:"+category+":"+strings.Join(keys, ","), func() (any, error) {
		return nil, s.driver.EnsureMetadataColumns(ctx, category, keys)
	})
	if err != nil {
		return newSchemaError("failed to ensure metadata columns for category "+category, err)
	}
	return nil
}
