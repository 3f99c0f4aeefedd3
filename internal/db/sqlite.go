package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"fieldtrack-agent/internal/config"

	_ "modernc.org/sqlite"
)

// SQLitePath is the database file used when SQLITE_PATH is not set.
func SQLitePath(cfg config.Config) string {
	if cfg.SQLitePath != "" {
		return cfg.SQLitePath
	}
	return filepath.Join(cfg.DataDir, "points.db")
}

// OpenSQLite opens the on-device database. One connection is kept so the
// queue is a serialized resource and ":memory:" databases behave in tests.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return conn, nil
}
