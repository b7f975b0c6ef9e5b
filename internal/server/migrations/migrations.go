// Package migrations embeds the relay schema for every supported dialect.
package migrations

import "embed"

// Migrations holds one directory of goose SQL files per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS

const (
	PostgresDir = "postgres"
	SQLiteDir   = "sqlite"
)
