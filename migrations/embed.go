// Package migrations embeds targetd's SQL migration files into the binary.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files, for database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
