// Package reportdb archives processing reports in a local sqlite database.
package reportdb

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/cloudscan/internal/pointcloud"
)

// pragmas are applied to every connection opened by Open.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// DB wraps the sqlite handle.
type DB struct {
	*sql.DB

	// Logs receives migration and busy-retry diagnostics. Nil is silent.
	Logs *pointcloud.Logger
}

// Open opens (creating if needed) the database at path. Call MigrateUp
// before using a ReportStore on a fresh file.
func Open(path string, logs *pointcloud.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open report database: %w", err)
	}
	// A single connection keeps PRAGMAs and in-memory databases consistent.
	db.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return &DB{DB: db, Logs: logs}, nil
}

// OpenAndMigrate opens path and applies every pending migration.
func OpenAndMigrate(path string, logs *pointcloud.Logger) (*DB, error) {
	db, err := Open(path, logs)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
