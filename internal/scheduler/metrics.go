// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_ticks_total",
		Help: "Scheduler ticks by outcome",
	}, []string{"outcome"})

	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_state",
		Help: "Scheduler state (0=stopped, 1=running, 2=paused)",
	})

	timerResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_timer_resets_total",
		Help: "Timer resets triggered by a stale heartbeat",
	})
)

func recordTick(outcome Outcome) {
	ticksTotal.WithLabelValues(string(outcome)).Inc()
}

func updateSchedulerState(state State) {
	switch state {
	case StateStopped:
		stateGauge.Set(0)
	case StateRunning:
		stateGauge.Set(1)
	case StatePaused:
		stateGauge.Set(2)
	}
}

func recordTimerReset() {
	timerResets.Inc()
}
