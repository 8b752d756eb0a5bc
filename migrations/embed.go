// Package migrations holds the SQL schema migrations, embedded so the server
// can migrate without a migrations directory on disk.
package migrations

import "embed"

// FS contains every *.sql migration in this directory
//
//go:embed *.sql
var FS embed.FS
