// Package migrations embeds the PostgreSQL cache table schema.
package migrations

import "embed"

// FS holds the PostgreSQL migration files.
//
//go:embed *.sql
var FS embed.FS
