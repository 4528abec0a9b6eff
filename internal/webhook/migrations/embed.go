// Package migrations embeds the goose schema for the webhook durable
// queue database, kept separate from the top-level /migrations package the
// same way internal/syncstore/migrations is: a distinct concern, its own
// schema lifecycle.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
