// Package migrations embeds the SQL schema for the vote graph and the
// question/answer bookkeeping, so migrations run regardless of working
// directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in name order.
//
//go:embed *.sql
var FS embed.FS
