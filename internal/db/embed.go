package db

import "embed"

// migrationFS holds the history schema; nothing needs to exist on disk at
// runtime.
//
//go:embed migrations/*.sql
var migrationFS embed.FS
