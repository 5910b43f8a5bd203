package sqlite

import (
	"sort"
	"strings"
)

// placeholder returns a placeholder for SQLite (uses ?).
func placeholder(n int) string {
	return "?"
}

// placeholders returns n placeholders.
func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, "?")
	}
	return strings.Join(list, ", ")
}

// ident quotes a table or column identifier. Identifiers are validated above
// the driver and cannot contain quotes.
func ident(name string) string {
	return `"` + name + `"`
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
