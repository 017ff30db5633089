// Package migrations holds the embedded SQL migrations for the stash schema.
package migrations

import "embed"

// Files contains every .sql file in this directory. Ordering is by the
// numeric prefix (001, 002, ...).
//
//go:embed *.sql
var Files embed.FS
