// Package evict enforces the byte quota of a site's local file cache.
//
// Eviction is least-recently-used over the catalog's staged, unpinned
// entries; entries with equal access time are evicted largest first so each
// removal recovers the most quota. Pinned entries are never touched: when
// only pinned data remains and the cache is still over quota, the pass ends
// with ErrQuotaUnsatisfiable and the cache keeps operating over quota.
package evict

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/clip-hep/samplecache/internal/logger"
	"github.com/clip-hep/samplecache/internal/metrics"
	"github.com/clip-hep/samplecache/pkg/catalog"
)

// ErrQuotaUnsatisfiable reports that the cache is over quota but nothing
// evictable remains. Surfaced as an alert, never fatal.
var ErrQuotaUnsatisfiable = errors.New("cache over quota with no evictable entries")

// Stats summarizes one eviction pass.
type Stats struct {
	Evicted     int
	BytesFreed  int64
	TotalBefore int64
	TotalAfter  int64
}

// Evictor removes cached files to keep the cache under its quota.
type Evictor struct {
	catalog *catalog.Catalog
	metrics *metrics.Evictions
}

// Option adjusts evictor internals.
type Option func(*Evictor)

// WithMetrics attaches eviction counters.
func WithMetrics(m *metrics.Evictions) Option {
	return func(e *Evictor) { e.metrics = m }
}

// New creates an evictor over the given catalog.
func New(cat *catalog.Catalog, opts ...Option) *Evictor {
	e := &Evictor{catalog: cat}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnforceQuota deletes least-recently-used unpinned entries until the total
// cached size is at or under quotaBytes. A quota of zero or less disables
// enforcement. Returns ErrQuotaUnsatisfiable (with the stats so far) when
// the pass ends still over quota.
func (e *Evictor) EnforceQuota(ctx context.Context, quotaBytes int64) (Stats, error) {
	var stats Stats
	if quotaBytes <= 0 {
		return stats, nil
	}

	total, err := e.catalog.TotalSize(ctx)
	if err != nil {
		return stats, err
	}
	stats.TotalBefore = total
	stats.TotalAfter = total

	if total <= quotaBytes {
		return stats, nil
	}

	candidates, err := e.catalog.ListEvictable(ctx)
	if err != nil {
		return stats, err
	}

	for _, entry := range candidates {
		if total <= quotaBytes {
			break
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if err := e.remove(ctx, &entry); err != nil {
			logger.Error("failed to evict cache entry",
				"key", entry.LogicalKey, "path", entry.LocalPath, "error", err)
			continue
		}

		total -= entry.SizeBytes
		stats.Evicted++
		stats.BytesFreed += entry.SizeBytes
		stats.TotalAfter = total

		if e.metrics != nil {
			e.metrics.Evicted.Inc()
			e.metrics.EvictedBytes.Add(float64(entry.SizeBytes))
		}

		logger.Info("evicted cache entry",
			"key", entry.LogicalKey, "size", entry.SizeBytes, "total", total, "quota", quotaBytes)
	}

	if total > quotaBytes {
		if e.metrics != nil {
			e.metrics.QuotaMisses.Inc()
		}
		return stats, fmt.Errorf("%w: total %d over quota %d", ErrQuotaUnsatisfiable, total, quotaBytes)
	}
	return stats, nil
}

// remove deletes the local file and then the catalog row. A file already
// missing from disk is fine; the row is removed either way.
func (e *Evictor) remove(ctx context.Context, entry *catalog.CacheEntry) error {
	if err := os.Remove(entry.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := e.catalog.Remove(ctx, entry.LogicalKey); err != nil && !errors.Is(err, catalog.ErrEntryNotFound) {
		return err
	}
	return nil
}
