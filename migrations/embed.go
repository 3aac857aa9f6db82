// Package migrations embeds the SQL schema applied by `gatekeeper migrate`.
package migrations

import "embed"

// Dir is the directory inside FS holding the postgres migrations.
const Dir = "postgres"

// FS holds the migration files.
//
//go:embed postgres/*.sql
var FS embed.FS
