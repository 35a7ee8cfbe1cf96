package migrations

import "embed"

// FS contains embedded SQLite migrations for kernel state.
//
//go:embed *.sql
var FS embed.FS
