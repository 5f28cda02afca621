// Package catalog is the durable metadata store of the samples cache.
//
// It records which remote files have a local cached copy, their sizes and
// access times, and the resolved file lists of sample definitions. The store
// is an embedded SQLite database; every mutation runs in a single
// transaction so concurrent readers never observe a half-written entry.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Config holds catalog store configuration.
type Config struct {
	// Path is the SQLite database file. ":memory:" creates a private
	// in-memory store, used by tests.
	Path string

	// SQLEcho logs every SQL statement, mirroring the db_sql_echo
	// configuration flag.
	SQLEcho bool
}

// Catalog is the SQLite-backed cache metadata store. It is safe for
// concurrent use; cross-process consistency is provided by SQLite's own
// locking (WAL mode with a busy timeout).
type Catalog struct {
	db *gorm.DB
}

// Open opens or creates the catalog database and migrates its schema.
func Open(cfg Config) (*Catalog, error) {
	dsn := cfg.Path
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create database directory: %w", ErrCatalog, err)
		}
		// WAL for concurrent readers, busy_timeout to ride out writers
		// from sibling jobs on the same host.
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	logMode := gormlogger.Default.LogMode(gormlogger.Silent)
	if cfg.SQLEcho {
		logMode = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logMode})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrCatalog, cfg.Path, err)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("%w: migrate schema: %w", ErrCatalog, err)
	}

	return &Catalog{db: db}, nil
}

// Close releases the underlying database connection.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Lookup returns the cache entry for a logical key.
// Returns ErrEntryNotFound if no entry exists.
func (c *Catalog) Lookup(ctx context.Context, logicalKey string) (*CacheEntry, error) {
	var entry CacheEntry
	if err := c.db.WithContext(ctx).Where("logical_key = ?", logicalKey).First(&entry).Error; err != nil {
		return nil, convertError(err, ErrEntryNotFound, "lookup")
	}
	return &entry, nil
}

// Upsert inserts the entry or replaces the existing row for its logical key.
func (c *Catalog) Upsert(ctx context.Context, entry *CacheEntry) error {
	if entry.LastAccess.IsZero() {
		entry.LastAccess = time.Now()
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "logical_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"local_path", "size_bytes", "cached_at", "last_access", "staged", "pinned",
		}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %w", ErrCatalog, entry.LogicalKey, err)
	}
	return nil
}

// Touch bumps the entry's last access time to now.
// Returns ErrEntryNotFound if no entry exists.
func (c *Catalog) Touch(ctx context.Context, logicalKey string) error {
	result := c.db.WithContext(ctx).
		Model(&CacheEntry{}).
		Where("logical_key = ?", logicalKey).
		Update("last_access", time.Now())
	if result.Error != nil {
		return fmt.Errorf("%w: touch %s: %w", ErrCatalog, logicalKey, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// SetPinned marks or unmarks the entry as pinned. Pinned entries are exempt
// from eviction while a job holds the file open.
func (c *Catalog) SetPinned(ctx context.Context, logicalKey string, pinned bool) error {
	result := c.db.WithContext(ctx).
		Model(&CacheEntry{}).
		Where("logical_key = ?", logicalKey).
		Update("pinned", pinned)
	if result.Error != nil {
		return fmt.Errorf("%w: pin %s: %w", ErrCatalog, logicalKey, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Remove deletes the entry for a logical key.
// Returns ErrEntryNotFound if no entry exists.
func (c *Catalog) Remove(ctx context.Context, logicalKey string) error {
	result := c.db.WithContext(ctx).Where("logical_key = ?", logicalKey).Delete(&CacheEntry{})
	if result.Error != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrCatalog, logicalKey, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// ListEvictable returns the staged, unpinned entries in eviction order:
// least recently used first, larger entries first on equal access time so
// each eviction recovers the most quota.
func (c *Catalog) ListEvictable(ctx context.Context) ([]CacheEntry, error) {
	var entries []CacheEntry
	err := c.db.WithContext(ctx).
		Where("staged = ? AND pinned = ?", true, false).
		Order("last_access ASC, size_bytes DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list evictable: %w", ErrCatalog, err)
	}
	return entries, nil
}

// ListEntries returns every cache entry ordered by logical key.
func (c *Catalog) ListEntries(ctx context.Context) ([]CacheEntry, error) {
	var entries []CacheEntry
	err := c.db.WithContext(ctx).
		Order("logical_key ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %w", ErrCatalog, err)
	}
	return entries, nil
}

// TotalSize returns the summed size of all cache entries in bytes.
func (c *Catalog) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	err := c.db.WithContext(ctx).
		Model(&CacheEntry{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("%w: total size: %w", ErrCatalog, err)
	}
	return total, nil
}

// convertError maps gorm.ErrRecordNotFound to the domain not-found error and
// wraps everything else as a catalog store failure.
func convertError(err error, notFound error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return fmt.Errorf("%w: %s: %w", ErrCatalog, op, err)
}
