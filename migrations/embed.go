// Package migrations embeds the goose schema for the shared relational
// database (content, entity_mappings, interactions, profiles, devices,
// playback_sessions, audit_log, experiments/assignments/metrics), applied
// once per process via internal/catalog.RunMigrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
