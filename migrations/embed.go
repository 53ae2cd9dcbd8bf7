// Package migrations embeds the snapshot schema into the binary.
package migrations

import "embed"

// FS holds every *.sql migration at its root; pass "." as the directory
// to database.Migrate.
//
//go:embed *.sql
var FS embed.FS
