// Package migrations embeds the SQL migrations of the SQLite build repository.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
