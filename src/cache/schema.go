package cache

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS frequency (
		kind TEXT NOT NULL,
		item_id TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 1,
		last_used INTEGER NOT NULL,
		PRIMARY KEY (kind, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS recency (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		item_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_frequency_kind ON frequency (kind)`,
	`CREATE INDEX IF NOT EXISTS idx_frequency_count ON frequency (count)`,
	`CREATE INDEX IF NOT EXISTS idx_frequency_last_used ON frequency (last_used)`,
	`CREATE INDEX IF NOT EXISTS idx_recency_kind ON recency (kind)`,
	`CREATE INDEX IF NOT EXISTS idx_recency_timestamp ON recency (timestamp)`,
}

// migrate brings the schema up to schemaVersion. The version lives in
// PRAGMA user_version and is written in the same transaction as the tables.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return unavailable("init", fmt.Errorf("failed to read schema version: %w", err))
	}

	switch {
	case version == schemaVersion:
		return nil
	case version > schemaVersion:
		return unavailable("init", fmt.Errorf("schema version %d is newer than supported version %d", version, schemaVersion))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return txFailed("init", err)
	}
	succeeded := false
	defer func() {
		if !succeeded {
			tx.Rollback()
		}
	}()

	for _, stmt := range schemaV1 {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return txFailed("init", fmt.Errorf("failed to create schema: %w", err))
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return txFailed("init", fmt.Errorf("failed to set schema version: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return txFailed("init", err)
	}
	succeeded = true
	return nil
}
