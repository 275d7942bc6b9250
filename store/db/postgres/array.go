package postgres

import "github.com/lib/pq"

// pqStringArray adapts a []string for use as a driver.Valuer in an ANY($1) clause.
func pqStringArray(ss []string) any { return pq.Array(ss) }
