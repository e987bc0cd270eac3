package store

import "github.com/lib/pq"

// pqStringArray adapts a []string for use as a Postgres text[] bind
// parameter (status IN-lists on the query facade's filters).
func pqStringArray(ss []string) any {
	return pq.Array(ss)
}
