// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for queue operations
var (
	questionsAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_questions_added_total",
		Help: "Total number of questions accepted into the queue",
	})

	questionsDeduplicatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_questions_deduplicated_total",
		Help: "Total number of inserts ignored as duplicates",
	})

	questionsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_questions_evicted_total",
		Help: "Total number of terminal questions evicted at capacity",
	})

	queueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_size",
		Help: "Current number of questions by status",
	}, []string{"status"})
)

func recordAdded()        { questionsAddedTotal.Inc() }
func recordDeduplicated() { questionsDeduplicatedTotal.Inc() }
func recordEvicted()      { questionsEvictedTotal.Inc() }

func updateSizeGauges(questions []Question) {
	counts := map[Status]int{
		StatusPending: 0,
		StatusNext:    0,
		StatusSent:    0,
		StatusSkipped: 0,
	}
	for i := range questions {
		counts[questions[i].Status]++
	}
	for status, n := range counts {
		queueSize.WithLabelValues(string(status)).Set(float64(n))
	}
}
