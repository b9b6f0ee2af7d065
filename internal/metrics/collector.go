// Package metrics is the optional Prometheus exporter: hit/miss/skip
// counters, current entry count and size, and dispatch latency. Purely
// ambient, a listener failure is logged and ignored, since statistics
// are best-effort.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SkipReason labels the internal/dispatch skip counter.
type SkipReason string

const (
	SkipNoSourceFile        SkipReason = "no_source_file"
	SkipMultipleSourceFiles SkipReason = "multiple_source_files"
	SkipPch                 SkipReason = "pch"
	SkipLink                SkipReason = "link"
	SkipExternalDebugInfo   SkipReason = "external_debug_info"
)

// Collector wraps a dedicated Prometheus registry with the gauges/counters
// clcache exposes.
type Collector struct {
	registry *prometheus.Registry

	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheEntries    prometheus.Gauge
	cacheSizeBytes  prometheus.Gauge
	skipTotal       *prometheus.CounterVec
	dispatchSeconds prometheus.Histogram

	server *http.Server
}

// NewCollector builds a Collector registered against a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clcache_cache_hits_total", Help: "Total cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clcache_cache_misses_total", Help: "Total cache misses.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clcache_cache_entries", Help: "Current number of cache entries.",
		}),
		cacheSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clcache_cache_size_bytes", Help: "Current total size of cache entries in bytes.",
		}),
		skipTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clcache_skip_total", Help: "Invocations forwarded uncached, by reason.",
		}, []string{"reason"}),
		dispatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "clcache_dispatch_duration_seconds", Help: "Wall-clock time of one dispatch, hit or miss.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(c.cacheHits, c.cacheMisses, c.cacheEntries, c.cacheSizeBytes, c.skipTotal, c.dispatchSeconds)
	return c
}

// RecordHit increments the cache-hit counter.
func (c *Collector) RecordHit() { c.cacheHits.Inc() }

// RecordMiss increments the cache-miss counter.
func (c *Collector) RecordMiss() { c.cacheMisses.Inc() }

// RecordSkip increments the skip counter for reason.
func (c *Collector) RecordSkip(reason SkipReason) { c.skipTotal.WithLabelValues(string(reason)).Inc() }

// SetCacheEntries sets the current entry-count gauge.
func (c *Collector) SetCacheEntries(n int64) { c.cacheEntries.Set(float64(n)) }

// SetCacheSizeBytes sets the current cache-size gauge.
func (c *Collector) SetCacheSizeBytes(n int64) { c.cacheSizeBytes.Set(float64(n)) }

// ObserveDispatch records one dispatch's wall-clock duration.
func (c *Collector) ObserveDispatch(d time.Duration) { c.dispatchSeconds.Observe(d.Seconds()) }

// Serve starts a /metrics HTTP listener on addr. It returns immediately;
// shut it down via Shutdown. A listener failure is for the caller to log
// and ignore, since metrics are never load-bearing.
func (c *Collector) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.server = &http.Server{Addr: addr, Handler: mux}
	ln, err := newListener(addr)
	if err != nil {
		return err
	}
	go c.server.Serve(ln)
	return nil
}

// Shutdown gracefully stops the metrics listener, if one was started.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
