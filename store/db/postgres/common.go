package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// placeholder returns the n-th positional placeholder ($1-based).
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns placeholders $start..$start+n-1.
func placeholders(start, n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, placeholder(start+i))
	}
	return strings.Join(list, ", ")
}

// ident quotes a table or column identifier. Identifiers are validated above
// the driver; quoting keeps dynamically-named metadata columns case-exact.
func ident(name string) string {
	return pq.QuoteIdentifier(name)
}
