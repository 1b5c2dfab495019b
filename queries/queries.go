// Package queries embeds the SQL templates run against the metadata mirror.
// Templates use ? placeholders; they are rebound for the pool's driver at
// execution time.
package queries

import "embed"

// FS holds every *.sql template, keyed by file name.
//
//go:embed *.sql
var FS embed.FS
