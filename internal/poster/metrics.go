// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package poster

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	postsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poster_posts_total",
		Help: "Post attempts by final outcome",
	}, []string{"outcome"})

	postDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "poster_post_duration_seconds",
		Help:    "End-to-end post latency including internal retries",
		Buckets: prometheus.DefBuckets,
	})

	networkRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poster_network_retries_total",
		Help: "Transient failures retried within a single post",
	})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poster_circuit_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	})
)

func recordPost(outcome string, elapsed time.Duration) {
	postsTotal.WithLabelValues(outcome).Inc()
	if d := elapsed.Seconds(); d > 0 {
		postDuration.Observe(d)
	}
}

func recordRetry() {
	networkRetries.Inc()
}

func updateBreakerState(state gobreaker.State) {
	switch state {
	case gobreaker.StateClosed:
		breakerState.Set(0)
	case gobreaker.StateHalfOpen:
		breakerState.Set(1)
	case gobreaker.StateOpen:
		breakerState.Set(2)
	}
}
