// Package metrics collects Prometheus counters for the samples cache.
//
// Batch jobs usually run without a scrape endpoint; metrics default to a
// private registry so instrumentation is always safe to call. Long-running
// processes can expose the registry via Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Staging holds metrics for the staging controller.
type Staging struct {
	Staged      prometheus.Counter
	StagedBytes prometheus.Counter
	Retries     prometheus.Counter
	Failures    prometheus.Counter
	CacheHits   prometheus.Counter
	Duration    prometheus.Histogram
}

// Locks holds metrics for the lock coordinator.
type Locks struct {
	Acquired  prometheus.Counter
	Contended prometheus.Counter
	Reclaimed prometheus.Counter
	Timeouts  prometheus.Counter
}

// Evictions holds metrics for the cache evictor.
type Evictions struct {
	Evicted      prometheus.Counter
	EvictedBytes prometheus.Counter
	QuotaMisses  prometheus.Counter
}

// Registry bundles all samples cache metrics over one Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	Staging   Staging
	Locks     Locks
	Evictions Evictions
}

// NewRegistry creates a registry with all collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		reg: reg,
		Staging: Staging{
			Staged: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_staged_files_total",
				Help: "Files staged into the local cache",
			}),
			StagedBytes: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_staged_bytes_total",
				Help: "Bytes transferred into the local cache",
			}),
			Retries: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_transfer_retries_total",
				Help: "Transfer attempts beyond the first per file",
			}),
			Failures: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_staging_failures_total",
				Help: "Files whose transfer retry budget was exhausted",
			}),
			CacheHits: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_cache_hits_total",
				Help: "Requests satisfied by an existing staged copy",
			}),
			Duration: f.NewHistogram(prometheus.HistogramOpts{
				Name:    "samplecache_staging_duration_seconds",
				Help:    "Wall time of successful staging operations",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			}),
		},
		Locks: Locks{
			Acquired: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_locks_acquired_total",
				Help: "Lock markers successfully created",
			}),
			Contended: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_lock_contention_total",
				Help: "Acquire attempts that found a live marker",
			}),
			Reclaimed: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_locks_reclaimed_total",
				Help: "Stale lock markers removed from crashed holders",
			}),
			Timeouts: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_lock_timeouts_total",
				Help: "Acquire attempts that exhausted the backoff budget",
			}),
		},
		Evictions: Evictions{
			Evicted: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_evicted_files_total",
				Help: "Cache entries removed by quota enforcement",
			}),
			EvictedBytes: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_evicted_bytes_total",
				Help: "Bytes reclaimed by quota enforcement",
			}),
			QuotaMisses: f.NewCounter(prometheus.CounterOpts{
				Name: "samplecache_quota_unsatisfiable_total",
				Help: "Eviction passes that ended over quota with nothing evictable",
			}),
		},
	}
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
