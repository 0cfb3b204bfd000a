// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for store operations
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_cache_hits_total",
		Help: "Total number of store cache hits",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_cache_misses_total",
		Help: "Total number of store cache misses (backing-store reads)",
	})

	cacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_cache_evictions_total",
		Help: "Total number of cache entries evicted at capacity",
	})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "store_cache_entries",
		Help: "Current number of cached entries",
	})

	flushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_flushes_total",
		Help: "Total number of batched flushes to the backing store",
	})

	flushKeys = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "store_flush_batch_size",
		Help:    "Number of keys per batched flush",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
	})

	flushLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "store_flush_latency_seconds",
		Help:    "Batched flush latency in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

func recordCacheHit()      { cacheHitsTotal.Inc() }
func recordCacheMiss()     { cacheMissesTotal.Inc() }
func recordCacheEviction() { cacheEvictionsTotal.Inc() }

func updateCacheSize(n int) { cacheEntries.Set(float64(n)) }

func recordFlush(keys int, seconds float64) {
	flushesTotal.Inc()
	flushKeys.Observe(float64(keys))
	flushLatency.Observe(seconds)
}
