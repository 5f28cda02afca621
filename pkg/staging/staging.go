// Package staging orchestrates the samples cache: it decides whether a
// logical file needs a local copy, serializes staging attempts per target
// path through the lock coordinator, drives the external transfer tool with
// a bounded retry budget and keeps the catalog in step with the files on
// disk.
package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/clip-hep/samplecache/internal/logger"
	"github.com/clip-hep/samplecache/internal/metrics"
	"github.com/clip-hep/samplecache/pkg/catalog"
	"github.com/clip-hep/samplecache/pkg/evict"
	"github.com/clip-hep/samplecache/pkg/lockfile"
	"github.com/clip-hep/samplecache/pkg/site"
)

// ErrStaging marks exhausted transfer attempts.
var ErrStaging = errors.New("staging failed")

// Failure reports that every transfer attempt for a file failed. It wraps
// the last transfer error.
type Failure struct {
	Key      string
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("staging %s failed after %d attempts: %v", f.Key, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() []error { return []error{ErrStaging, f.Err} }

// Copier transfers one file. *grid.CopyClient satisfies it.
type Copier interface {
	Copy(ctx context.Context, src, dst string) error
}

// Config assembles a Controller.
type Config struct {
	Site    site.Site
	Catalog *catalog.Catalog
	Locks   *lockfile.Coordinator
	Copier  Copier
	Evictor *evict.Evictor

	// Retries is the transfer attempt budget per file.
	Retries int

	// Threads bounds concurrent staging in StageAll.
	Threads int
}

// Option configures optional controller behavior.
type Option func(*Controller)

// WithMetrics attaches staging counters.
func WithMetrics(m *metrics.Staging) Option {
	return func(c *Controller) { c.met = m }
}

// Controller owns no durable state; it orchestrates the catalog, the lock
// coordinator and the transfer tool.
type Controller struct {
	site    site.Site
	catalog *catalog.Catalog
	locks   *lockfile.Coordinator
	copier  Copier
	evictor *evict.Evictor
	retries int
	threads int
	met     *metrics.Staging
}

// New returns a staging controller.
func New(cfg Config, opts ...Option) *Controller {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	c := &Controller{
		site:    cfg.Site,
		catalog: cfg.Catalog,
		locks:   cfg.Locks,
		copier:  cfg.Copier,
		evictor: cfg.Evictor,
		retries: cfg.Retries,
		threads: cfg.Threads,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureLocal returns a locally readable path for the logical key, staging
// the file into the site cache first when needed. At a site that does not
// stage, the access URL is returned directly and neither locks nor catalog
// rows are touched.
func (c *Controller) EnsureLocal(ctx context.Context, logicalKey string) (string, error) {
	if !c.site.Stage {
		return c.accessURL(logicalKey), nil
	}

	target := c.targetPath(logicalKey)

	if path, ok := c.cachedPath(ctx, logicalKey); ok {
		if c.met != nil {
			c.met.CacheHits.Inc()
		}
		return path, nil
	}

	// The lock marker lives next to the target, so its directory must
	// exist before acquisition.
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("stage %s: %w", logicalKey, err)
	}

	handle, err := c.locks.Acquire(ctx, target)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", logicalKey, err)
	}
	defer func() {
		if err := handle.Release(); err != nil {
			logger.Warn("lock release failed", "target", target, "error", err)
		}
	}()

	// Another process may have finished the transfer while we waited for
	// the lock.
	if path, ok := c.cachedPath(ctx, logicalKey); ok {
		if c.met != nil {
			c.met.CacheHits.Inc()
		}
		return path, nil
	}

	// Record the transfer in progress. The unstaged row is invisible to
	// cache hits and is flipped to staged once the copy completes.
	pending := &catalog.CacheEntry{
		LogicalKey: logicalKey,
		LocalPath:  target,
		LastAccess: time.Now(),
	}
	if err := c.catalog.Upsert(ctx, pending); err != nil {
		return "", err
	}

	if err := c.transfer(ctx, logicalKey, target); err != nil {
		if rmErr := c.catalog.Remove(ctx, logicalKey); rmErr != nil && !errors.Is(rmErr, catalog.ErrEntryNotFound) {
			logger.Warn("could not drop pending catalog entry", "key", logicalKey, "error", rmErr)
		}
		return "", err
	}

	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("stage %s: verify %s: %w", logicalKey, target, err)
	}

	entry := &catalog.CacheEntry{
		LogicalKey: logicalKey,
		LocalPath:  target,
		SizeBytes:  info.Size(),
		LastAccess: time.Now(),
		Staged:     true,
	}
	if err := c.catalog.Upsert(ctx, entry); err != nil {
		return "", err
	}

	if c.met != nil {
		c.met.Staged.Inc()
		c.met.StagedBytes.Add(float64(info.Size()))
	}
	logger.Info("file staged", "key", logicalKey, "path", target, "bytes", info.Size())

	c.enforceQuota(ctx)
	return target, nil
}

// StageAll stages every key, at most threads transfers in flight. All keys
// are attempted; the combined error reports every failure.
func (c *Controller) StageAll(ctx context.Context, keys []string) error {
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(c.threads)
	for _, key := range keys {
		key := key
		p.Go(func(ctx context.Context) error {
			_, err := c.EnsureLocal(ctx, key)
			return err
		})
	}
	return p.Wait()
}

// transfer drives the copy tool with the configured attempt budget. Partial
// output is removed before every attempt, so a crashed or failed transfer
// never leaks into the cache.
func (c *Controller) transfer(ctx context.Context, logicalKey, target string) error {
	src := c.accessURL(logicalKey)

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stage %s: clean partial output: %w", logicalKey, err)
		}

		start := time.Now()
		lastErr = c.copier.Copy(ctx, src, target)
		if lastErr == nil {
			if c.met != nil {
				c.met.Duration.Observe(time.Since(start).Seconds())
			}
			return nil
		}

		logger.Warn("transfer attempt failed",
			"key", logicalKey, "attempt", attempt, "of", c.retries, "error", lastErr)
		if c.met != nil && attempt < c.retries {
			c.met.Retries.Inc()
		}
	}

	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not remove partial output", "path", target, "error", err)
	}
	if c.met != nil {
		c.met.Failures.Inc()
	}
	return &Failure{Key: logicalKey, Attempts: c.retries, Err: lastErr}
}

// cachedPath returns the staged local path when the catalog entry exists
// and its file is still present with the recorded size. A stale entry falls
// through to re-staging.
func (c *Controller) cachedPath(ctx context.Context, logicalKey string) (string, bool) {
	entry, err := c.catalog.Lookup(ctx, logicalKey)
	if err != nil {
		if !errors.Is(err, catalog.ErrEntryNotFound) {
			logger.Warn("catalog lookup failed", "key", logicalKey, "error", err)
		}
		return "", false
	}
	if !entry.Staged {
		return "", false
	}
	info, err := os.Stat(entry.LocalPath)
	if err != nil || (entry.SizeBytes > 0 && info.Size() != entry.SizeBytes) {
		logger.Warn("cache entry no longer verifiable, restaging",
			"key", logicalKey, "path", entry.LocalPath)
		return "", false
	}
	if err := c.catalog.Touch(ctx, logicalKey); err != nil {
		logger.Warn("catalog touch failed", "key", logicalKey, "error", err)
	}
	return entry.LocalPath, true
}

// enforceQuota runs one synchronous eviction pass after a transfer. The
// staged file itself is never a candidate because its entry was touched
// last. Quota problems do not fail the staging that triggered them.
func (c *Controller) enforceQuota(ctx context.Context) {
	if c.evictor == nil || c.site.FileCacheSize == 0 {
		return
	}
	stats, err := c.evictor.EnforceQuota(ctx, c.site.FileCacheSize.Int64())
	if err != nil {
		logger.Warn("quota enforcement", "error", err)
		return
	}
	if stats.Evicted > 0 {
		logger.Info("cache quota enforced",
			"evicted", stats.Evicted, "bytes_freed", stats.BytesFreed)
	}
}

// targetPath is where the file lives in the site cache.
func (c *Controller) targetPath(logicalKey string) string {
	return filepath.Join(c.site.FileCache, strings.TrimPrefix(logicalKey, "/"))
}

// accessURL is the non-cached way to read the file: through the local
// store when the site holds a copy, through the remote redirector
// otherwise.
func (c *Controller) accessURL(logicalKey string) string {
	if c.site.StorePath != "" {
		local := filepath.Join(c.site.StorePath, strings.TrimPrefix(logicalKey, "/"))
		if _, err := os.Stat(local); err == nil {
			return c.site.LocalPrefix + logicalKey
		}
	}
	return c.site.RemotePrefix + logicalKey
}
