// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package locking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for lock contention
var (
	waiterDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "locking_waiter_depth",
		Help: "Current number of callers waiting for the queue mutex",
	})

	acquiresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locking_acquires_total",
		Help: "Total number of successful mutex acquisitions",
	})

	releasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locking_releases_total",
		Help: "Total number of mutex releases",
	})
)
