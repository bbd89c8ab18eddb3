package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

var errClosed = errors.New("cache is closed")

// New returns an uninitialized Cache. Nothing is opened until Init, or the
// first operation, runs.
func New(config CacheConfig) *Cache {
	if config.Driver == "" {
		config.Driver = DriverMattn
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	logger := config.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Cache{
		config: config,
		logger: logger,
	}
}

// Init opens the database and creates the schema on first run. It is safe to
// call repeatedly and concurrently: callers arriving while an initialization
// is in flight wait for it and share its result. A failed Init can be retried.
func (c *Cache) Init(ctx context.Context) error {
	_, err := c.handle(ctx)
	return err
}

// handle returns the open database, initializing it if needed.
func (c *Cache) handle(ctx context.Context) (*sql.DB, error) {
	c.mutex.RLock()
	db, closed := c.db, c.closed
	c.mutex.RUnlock()

	if closed {
		return nil, unavailable("init", errClosed)
	}
	if db != nil {
		return db, nil
	}

	// Initialization is shared, so one caller's cancellation must not abort it.
	_, err, _ := c.inits.Do("init", func() (interface{}, error) {
		return nil, c.open(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}

	c.mutex.RLock()
	db = c.db
	c.mutex.RUnlock()
	if db == nil {
		return nil, unavailable("init", errClosed)
	}
	return db, nil
}

func (c *Cache) open(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return unavailable("init", errClosed)
	}
	if c.db != nil {
		return nil
	}

	path := c.config.Path
	if path == "" {
		return unavailable("init", errors.New("no database path configured"))
	}
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return unavailable("init", fmt.Errorf("failed to create directory: %w", err))
		}
	}

	db, err := sql.Open(c.config.Driver, path)
	if err != nil {
		return unavailable("init", fmt.Errorf("failed to open database: %w", err))
	}

	// One connection: SQLite serializes writers anyway, and a private
	// :memory: database only lives as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return unavailable("init", fmt.Errorf("failed to open database: %w", err))
	}

	if err := c.configurePragmas(ctx, db); err != nil {
		db.Close()
		return unavailable("init", fmt.Errorf("failed to configure pragmas: %w", err))
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return err
	}

	c.db = db
	c.logger.Printf("opened %s (driver %s, schema v%d)", path, c.config.Driver, schemaVersion)
	return nil
}

func (c *Cache) configurePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", c.config.BusyTimeout.Milliseconds()),
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute pragma '%s': %w", pragma, err)
		}
	}

	return nil
}

// Optimize asks SQLite to refresh its query planner statistics.
func (c *Cache) Optimize(ctx context.Context) error {
	db, err := c.handle(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return txFailed("optimize", err)
	}
	return nil
}

// Close releases the database. Every later call fails with ErrStorageUnavailable.
func (c *Cache) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.closed = true
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
