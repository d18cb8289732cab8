// Package migrations holds the embedded SQL schema
package migrations

import "embed"

// FS contains the versioned migration files
//
//go:embed *.sql
var FS embed.FS
