// Package lockfile provides crash-tolerant advisory locking between
// independent hosts that share only a network filesystem.
//
// A lock is a marker file next to its target. Creation must be atomic at the
// filesystem-protocol level because the shared filesystem gives only weakly
// ordered metadata visibility across hosts: the marker is written to a
// uniquely named temp file and hard-linked into the final name, which either
// succeeds exclusively or fails with EEXIST. Check-then-create is never used.
//
// A holder that crashes leaves its marker behind; any contender may remove a
// marker older than the configured maximum age and take the lock itself.
// This is best-effort mutual exclusion suitable for batch jobs, not a
// linearizable lock service.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/clip-hep/samplecache/internal/logger"
	"github.com/clip-hep/samplecache/internal/metrics"
)

// ErrTimeout is matched by errors returned when the acquire backoff budget
// is exhausted.
var ErrTimeout = errors.New("lock acquisition timed out")

// TimeoutError reports an exhausted acquire budget with enough context to
// diagnose the contention.
type TimeoutError struct {
	Target   string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lock acquisition timed out for %s after %d attempts", e.Target, e.Attempts)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Marker is the lock state serialized into the marker file.
type Marker struct {
	Target    string    `yaml:"target"`
	Holder    string    `yaml:"holder"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Config holds lock coordinator tunables.
type Config struct {
	// Enabled turns locking off entirely when false; Acquire then returns
	// a no-op handle.
	Enabled bool

	// MaxAge is the age beyond which a marker is considered abandoned by a
	// crashed holder and may be removed by any contender.
	MaxAge time.Duration

	// MaxCount is the attempt budget. Attempt n backs off a duration drawn
	// uniformly from [0, 2^n-1) units before retrying.
	MaxCount int

	// Unit is the backoff time unit. Defaults to one second.
	Unit time.Duration
}

// Option adjusts coordinator internals, mainly for tests.
type Option func(*Coordinator)

// WithRand injects the jitter source. fn must return a value in [0, 1);
// tests inject a fixed fraction to make backoff deterministic.
func WithRand(fn func() float64) Option {
	return func(c *Coordinator) { c.random = fn }
}

// WithHolder overrides the holder identity string.
func WithHolder(holder string) Option {
	return func(c *Coordinator) { c.holder = holder }
}

// WithMetrics attaches lock counters.
func WithMetrics(m *metrics.Locks) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator acquires and releases filesystem lock markers. It is safe for
// concurrent use.
type Coordinator struct {
	cfg     Config
	holder  string
	random  func() float64
	metrics *metrics.Locks
}

// New creates a lock coordinator. The holder identity defaults to
// host+pid+uuid, so two processes on one host never mistake each other's
// markers for their own.
func New(cfg Config, opts ...Option) *Coordinator {
	if cfg.Unit <= 0 {
		cfg.Unit = time.Second
	}
	hostname, _ := os.Hostname()

	c := &Coordinator{
		cfg:    cfg,
		holder: fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()),
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle represents a held lock. Release is idempotent.
type Handle struct {
	coord  *Coordinator
	target string
	path   string
	noop   bool
}

// Target returns the locked resource path.
func (h *Handle) Target() string { return h.target }

// Acquire takes the lock for target, blocking with jittered exponential
// backoff while another holder's live marker exists. Stale markers are
// reclaimed without consuming an attempt. Exhausting the attempt budget
// returns a *TimeoutError matching ErrTimeout.
func (c *Coordinator) Acquire(ctx context.Context, target string) (*Handle, error) {
	if !c.cfg.Enabled {
		return &Handle{noop: true, target: target}, nil
	}

	path := markerPath(target)

	for attempt := 1; attempt <= c.cfg.MaxCount; attempt++ {
		ok, err := c.tryCreate(target, path)
		if err != nil {
			return nil, err
		}
		if ok {
			if c.metrics != nil {
				c.metrics.Acquired.Inc()
			}
			return &Handle{coord: c, target: target, path: path}, nil
		}

		if c.metrics != nil {
			c.metrics.Contended.Inc()
		}

		if c.reclaimStale(path) {
			// Reclamation does not count against the budget.
			attempt--
			continue
		}

		wait := c.backoff(attempt)
		logger.Debug("waiting for lock", "target", target, "attempt", attempt, "wait", wait)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	if c.metrics != nil {
		c.metrics.Timeouts.Inc()
	}
	return nil, &TimeoutError{Target: target, Attempts: c.cfg.MaxCount}
}

// Release removes the marker if it is still owned by this coordinator.
// Releasing twice, or releasing after another host reclaimed the marker and
// acquired it, is harmless: only a marker carrying our own holder identity
// is ever deleted.
func (h *Handle) Release() error {
	if h.noop || h.coord == nil {
		return nil
	}

	marker, err := readMarker(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release lock %s: %w", h.target, err)
	}

	if marker.Holder != h.coord.holder {
		logger.Warn("lock marker no longer ours, leaving it in place",
			"target", h.target, "holder", marker.Holder)
		return nil
	}

	if err := os.Remove(h.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", h.target, err)
	}
	return nil
}

// tryCreate attempts the atomic marker creation. Returns true when this
// coordinator now holds the lock, false on contention.
func (c *Coordinator) tryCreate(target, path string) (bool, error) {
	marker := Marker{Target: target, Holder: c.holder, CreatedAt: time.Now()}
	data, err := yaml.Marshal(&marker)
	if err != nil {
		return false, fmt.Errorf("encode lock marker: %w", err)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("write lock marker for %s: %w", target, err)
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create lock marker for %s: %w", target, err)
	}
	return true, nil
}

// reclaimStale removes the marker when it is older than MaxAge. Returns true
// when a stale marker was removed and the caller should retry immediately.
func (c *Coordinator) reclaimStale(path string) bool {
	age, ok := markerAge(path)
	if !ok || age <= c.cfg.MaxAge {
		return false
	}

	logger.Warn("removing stale lock marker", "path", path, "age", age, "max_age", c.cfg.MaxAge)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Error("failed to remove stale lock marker", "path", path, "error", err)
		return false
	}
	if c.metrics != nil {
		c.metrics.Reclaimed.Inc()
	}
	return true
}

// backoff draws the wait before attempt+1 uniformly from [0, 2^attempt-1)
// units.
func (c *Coordinator) backoff(attempt int) time.Duration {
	span := float64(uint64(1)<<uint(attempt)) - 1
	return time.Duration(c.random() * span * float64(c.cfg.Unit))
}

// markerAge reads the marker's age, preferring the serialized creation time
// and falling back to the file mtime when the marker cannot be parsed (for
// example a truncated write from a crashed holder).
func markerAge(path string) (time.Duration, bool) {
	if marker, err := readMarker(path); err == nil && !marker.CreatedAt.IsZero() {
		return time.Since(marker.CreatedAt), true
	}

	info, err := os.Lstat(path)
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}

func readMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var marker Marker
	if err := yaml.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("decode lock marker %s: %w", path, err)
	}
	return &marker, nil
}

func markerPath(target string) string {
	return target + ".lock"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
