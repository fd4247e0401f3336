package migrations

import "embed"

// FS contains embedded SQLite migrations for cache tables. Bodies use the
// {{table}} placeholder for the configured table name.
//
//go:embed *.sql
var FS embed.FS
