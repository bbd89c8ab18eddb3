package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	selectFrequency = `SELECT count FROM frequency WHERE kind = ? AND item_id = ?`
	upsertFrequency = `
	INSERT INTO frequency (kind, item_id, count, last_used)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(kind, item_id) DO UPDATE SET
	count = excluded.count, last_used = excluded.last_used
	`
	insertRecency = `INSERT INTO recency (kind, item_id, timestamp) VALUES (?, ?, ?)`
)

// TrackUsage records one selection of itemID. The frequency counter and the
// recency log are updated in one transaction: both changes commit or neither.
//
// The counter is read, incremented in Go and written back. Two writers racing
// on the same key through separate connections can each write the same value
// and lose an increment.
func (c *Cache) TrackUsage(ctx context.Context, itemID string, kind Kind) error {
	const op = "track usage"
	if !kind.Valid() {
		return serialization(op, fmt.Errorf("invalid kind %v", kind))
	}

	// Writes run to completion once issued.
	ctx = context.WithoutCancel(ctx)
	db, err := c.handle(ctx)
	if err != nil {
		return err
	}

	now := c.config.Now().UnixMilli()
	return c.withTx(ctx, db, op, func(tx *sql.Tx) error {
		var count int64
		err := tx.QueryRowContext(ctx, selectFrequency, kind.String(), itemID).Scan(&count)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read frequency: %w", err)
		}

		if _, err := tx.ExecContext(ctx, upsertFrequency, kind.String(), itemID, count+1, now); err != nil {
			return fmt.Errorf("failed to write frequency: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertRecency, kind.String(), itemID, now); err != nil {
			return fmt.Errorf("failed to append recency entry: %w", err)
		}
		return nil
	})
}

// Cleanup deletes recency log rows older than the retention window and
// returns how many were removed. Frequency records are never touched.
func (c *Cache) Cleanup(ctx context.Context) (int64, error) {
	const op = "cleanup"
	ctx = context.WithoutCancel(ctx)
	db, err := c.handle(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := c.config.Now().Add(-c.config.Retention).UnixMilli()
	result, err := db.ExecContext(ctx, `DELETE FROM recency WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, txFailed(op, fmt.Errorf("failed to delete old entries: %w", err))
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, txFailed(op, err)
	}
	if removed > 0 {
		c.logger.Printf("cleanup removed %d recency entries older than %s", removed, c.config.Retention)
	}
	return removed, nil
}

// Clear empties both tables in one transaction.
func (c *Cache) Clear(ctx context.Context) error {
	const op = "clear"
	ctx = context.WithoutCancel(ctx)
	db, err := c.handle(ctx)
	if err != nil {
		return err
	}

	err = c.withTx(ctx, db, op, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM recency"); err != nil {
			return fmt.Errorf("failed to delete recency entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM frequency"); err != nil {
			return fmt.Errorf("failed to delete frequency records: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Printf("cleared all usage data")
	return nil
}

// withTx runs fn in a transaction, rolling back unless fn and the commit both
// succeed. Errors that are not already a *StorageError become
// ErrTransactionFailed.
func (c *Cache) withTx(ctx context.Context, db *sql.DB, op string, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return txFailed(op, fmt.Errorf("failed to start transaction: %w", err))
	}

	succeeded := false
	defer func() {
		if !succeeded {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				c.logger.Printf("%s: rollback failed: %v", op, rollbackErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		var storageErr *StorageError
		if errors.As(err, &storageErr) {
			return err
		}
		return txFailed(op, err)
	}

	if err := tx.Commit(); err != nil {
		return txFailed(op, fmt.Errorf("commit failed: %w", err))
	}
	succeeded = true
	return nil
}
