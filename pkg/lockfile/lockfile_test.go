package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Enabled:  true,
		MaxAge:   time.Minute,
		MaxCount: 6,
		Unit:     time.Millisecond,
	}
}

func TestAcquireRelease(t *testing.T) {
	target := filepath.Join(t.TempDir(), "data.root")
	c := New(testConfig())

	h, err := c.Acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := os.Lstat(target + ".lock"); err != nil {
		t.Fatalf("marker not created: %v", err)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Lstat(target + ".lock"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("marker still present after release")
	}

	// release is idempotent
	if err := h.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestMutualExclusion(t *testing.T) {
	target := filepath.Join(t.TempDir(), "data.root")

	var holders atomic.Int32
	var maxHolders atomic.Int32
	var wg sync.WaitGroup

	// Separate coordinators simulate separate processes.
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := New(Config{Enabled: true, MaxAge: time.Minute, MaxCount: 12, Unit: time.Millisecond})
			h, err := c.Acquire(context.Background(), target)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}

			n := holders.Add(1)
			for {
				max := maxHolders.Load()
				if n <= max || maxHolders.CompareAndSwap(max, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			holders.Add(-1)

			if err := h.Release(); err != nil {
				t.Errorf("Release: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxHolders.Load() != 1 {
		t.Errorf("observed %d concurrent holders, want 1", maxHolders.Load())
	}
}

func TestStaleReclamation(t *testing.T) {
	target := filepath.Join(t.TempDir(), "data.root")

	// A "crashed" process left its marker behind.
	crashed := New(Config{Enabled: true, MaxAge: 10 * time.Millisecond, MaxCount: 3, Unit: time.Millisecond},
		WithHolder("deadhost:1:x"))
	if _, err := crashed.Acquire(context.Background(), target); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	c := New(Config{Enabled: true, MaxAge: 10 * time.Millisecond, MaxCount: 3, Unit: time.Millisecond})
	h, err := c.Acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("waiting contender did not reclaim stale lock: %v", err)
	}
	defer h.Release()

	marker, err := readMarker(target + ".lock")
	if err != nil {
		t.Fatalf("readMarker: %v", err)
	}
	if marker.Holder == "deadhost:1:x" {
		t.Error("marker still owned by crashed holder")
	}
}

func TestAcquireTimeout(t *testing.T) {
	target := filepath.Join(t.TempDir(), "data.root")

	holder := New(testConfig())
	h, err := holder.Acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	contender := New(Config{Enabled: true, MaxAge: time.Hour, MaxCount: 3, Unit: time.Millisecond},
		WithRand(func() float64 { return 0.5 }))
	_, err = contender.Acquire(context.Background(), target)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TimeoutError, got %T", err)
	}
	if te.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", te.Attempts)
	}
}

func TestReleaseOnlyOwnMarker(t *testing.T) {
	target := filepath.Join(t.TempDir(), "data.root")

	a := New(Config{Enabled: true, MaxAge: 5 * time.Millisecond, MaxCount: 4, Unit: time.Millisecond},
		WithHolder("host-a:1:x"))
	ha, err := a.Acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}

	// b reclaims a's marker after it goes stale and takes the lock.
	time.Sleep(10 * time.Millisecond)
	b := New(Config{Enabled: true, MaxAge: 5 * time.Millisecond, MaxCount: 4, Unit: time.Millisecond},
		WithHolder("host-b:2:y"))
	hb, err := b.Acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Acquire b: %v", err)
	}

	// a's late release must not delete b's freshly acquired lock.
	if err := ha.Release(); err != nil {
		t.Fatalf("Release a: %v", err)
	}
	marker, err := readMarker(target + ".lock")
	if err != nil {
		t.Fatalf("marker gone after foreign release: %v", err)
	}
	if marker.Holder != "host-b:2:y" {
		t.Errorf("marker holder = %s, want host-b:2:y", marker.Holder)
	}

	if err := hb.Release(); err != nil {
		t.Fatalf("Release b: %v", err)
	}
}

func TestDisabledLocking(t *testing.T) {
	target := filepath.Join(t.TempDir(), "data.root")
	c := New(Config{Enabled: false})

	h, err := c.Acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Lstat(target + ".lock"); !errors.Is(err, os.ErrNotExist) {
		t.Error("disabled coordinator created a marker")
	}
	if err := h.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	target := filepath.Join(t.TempDir(), "data.root")

	holder := New(testConfig())
	h, err := holder.Acquire(context.Background(), target)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	contender := New(Config{Enabled: true, MaxAge: time.Hour, MaxCount: 10, Unit: time.Second},
		WithRand(func() float64 { return 0.9 }))
	if _, err := contender.Acquire(ctx, target); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffBounds(t *testing.T) {
	c := New(testConfig(), WithRand(func() float64 { return 0.999 }))

	for attempt := 1; attempt <= 6; attempt++ {
		span := time.Duration(float64(uint64(1)<<uint(attempt))-1) * c.cfg.Unit
		got := c.backoff(attempt)
		if got < 0 || got >= span {
			t.Errorf("attempt %d: backoff %v outside [0, %v)", attempt, got, span)
		}
	}
}
