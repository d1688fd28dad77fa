// Package migrations holds the SQL schema of the odin-control database,
// embedded into the binary.
package migrations

import "embed"

// FS contains the migration files at its root, ready for
// database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
