// Package migrations embeds the goose schema for a single user's SyncStore
// database, kept separate from the top-level /migrations package (which
// schemas the shared relational database) because each user gets its own
// SQLite file under stores.root_path (spec.md §4.3, §6).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
