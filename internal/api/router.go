// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the shared middleware.
type RouterConfig struct {
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// NewRouter assembles the control-plane routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		r.Use(requestMetrics)

		r.Post("/questions", h.AddQuestions)
		r.Get("/questions", h.ListQuestions)
		r.Delete("/questions", h.ClearQuestions)
		r.Delete("/questions/{id}", h.DeleteQuestion)
		r.Post("/questions/{id}/next", h.SetQuestionAsNext)

		r.Post("/post", h.ManualPost)

		r.Post("/scheduler/start", h.StartScheduler)
		r.Post("/scheduler/stop", h.StopScheduler)
		r.Post("/scheduler/pause", h.PauseScheduler)
		r.Post("/scheduler/resume", h.ResumeScheduler)
		r.Put("/scheduler/interval", h.UpdateInterval)

		r.Get("/status", h.SystemStatus)

		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications/{id}/ack", h.AcknowledgeNotification)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
