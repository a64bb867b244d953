// Package migrations embeds the per-dialect schema migrations.
// Each subdirectory is named after the database driver it targets.
package migrations

import "embed"

//go:embed sqlite3 postgres mysql
var FS embed.FS
