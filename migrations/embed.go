// Package migrations embeds SQL migration files applied by internal/migrate.
package migrations

import "embed"

// FS holds the goose migration files.
//
//go:embed *.sql
var FS embed.FS
