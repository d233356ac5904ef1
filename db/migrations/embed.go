// Package dbmigrations exposes the embedded SQL migrations for the fill archive.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into mangogate binaries.
//
//go:embed *.sql
var Files embed.FS
