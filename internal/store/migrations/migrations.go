// Package migrations embeds the schema migration files applied by the
// store at open time.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
