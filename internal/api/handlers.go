// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tomtom215/askrelay/internal/logging"
	"github.com/tomtom215/askrelay/internal/notify"
	"github.com/tomtom215/askrelay/internal/queue"
	"github.com/tomtom215/askrelay/internal/scheduler"
	"github.com/tomtom215/askrelay/internal/store"
)

// Handler owns the HTTP control plane.
type Handler struct {
	queue     *queue.Manager
	scheduler *scheduler.Scheduler
	notifier  *notify.Notifier
	store     *store.Store
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandler creates the control-plane handler.
func NewHandler(qm *queue.Manager, s *scheduler.Scheduler, n *notify.Notifier, st *store.Store) *Handler {
	return &Handler{
		queue:     qm,
		scheduler: s,
		notifier:  n,
		store:     st,
		logger:    logging.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
}

type incomingItem struct {
	Text       string    `json:"text" validate:"required,max=500"`
	ReceivedAt time.Time `json:"received_at"`
}

type addQuestionsRequest struct {
	Items []incomingItem `json:"items" validate:"required,min=1,max=100,dive"`
}

type itemFailure struct {
	Index int    `json:"index"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type addQuestionsResponse struct {
	Added        []string      `json:"added"`
	Deduplicated int           `json:"deduplicated"`
	Failed       []itemFailure `json:"failed,omitempty"`
}

// AddQuestions ingests a batch of observed items. Duplicates within
// the dedup window are counted, not errored. Every item is attempted;
// failures are reported per item so a mid-batch rejection never hides
// what was already applied.
func (h *Handler) AddQuestions(w http.ResponseWriter, r *http.Request) {
	var req addQuestionsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp := addQuestionsResponse{Added: []string{}}
	for i, item := range req.Items {
		receivedAt := item.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = time.Now()
		}
		id, err := h.queue.AddQuestion(r.Context(), item.Text, receivedAt)
		if err != nil {
			code := "STORAGE_ERROR"
			switch {
			case queue.IsValidation(err):
				code = "VALIDATION_ERROR"
			case errors.Is(err, queue.ErrQueueFull):
				code = "QUEUE_FULL"
			}
			resp.Failed = append(resp.Failed, itemFailure{Index: i, Code: code, Error: err.Error()})
			continue
		}
		if id == "" {
			resp.Deduplicated++
			continue
		}
		resp.Added = append(resp.Added, id)
	}

	if len(resp.Added) == 0 && resp.Deduplicated == 0 && len(resp.Failed) > 0 {
		status := http.StatusInternalServerError
		switch resp.Failed[0].Code {
		case "VALIDATION_ERROR":
			status = http.StatusBadRequest
		case "QUEUE_FULL":
			status = http.StatusConflict
		}
		writeResponse(w, status, &APIResponse{
			Status:   "error",
			Metadata: Metadata{Timestamp: time.Now()},
			Error:    &APIError{Code: resp.Failed[0].Code, Message: "No items were accepted", Details: resp.Failed},
		})
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// ListQuestions returns a snapshot of the queue.
func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.queue.Queue(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to read queue", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

// DeleteQuestion removes one question by id.
func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := h.queue.DeleteQuestion(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to delete question", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Question not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// ClearQuestions empties the queue. Terminal entries are kept unless
// include_terminal=true.
func (h *Handler) ClearQuestions(w http.ResponseWriter, r *http.Request) {
	includeTerminal := r.URL.Query().Get("include_terminal") == "true"
	removed, err := h.queue.ClearQueue(r.Context(), includeTerminal)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to clear queue", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// SetQuestionAsNext promotes a pending question to next.
func (h *Handler) SetQuestionAsNext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := h.queue.SetAsNext(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to promote question", err)
		return
	}
	if !ok {
		respondError(w, http.StatusConflict, "NOT_PROMOTABLE", "Question not found or not pending", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"next": id})
}

// ManualPost runs one posting tick immediately.
func (h *Handler) ManualPost(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.TriggerImmediatePost(r.Context())
	if err != nil {
		if errors.Is(err, scheduler.ErrTooSoon) {
			respondError(w, http.StatusTooManyRequests, "TOO_SOON", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "POST_FAILED", "Manual post failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type startRequest struct {
	IntervalSeconds int  `json:"interval_seconds" validate:"omitempty,min=10"`
	Immediate       bool `json:"immediate"`
}

// StartScheduler begins auto-posting.
func (h *Handler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	interval := time.Duration(req.IntervalSeconds) * time.Second
	if req.IntervalSeconds == 0 {
		interval = time.Duration(h.scheduler.Status().IntervalSeconds) * time.Second
	}

	if err := h.scheduler.StartAutoPosting(r.Context(), interval, req.Immediate); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			respondError(w, http.StatusConflict, "ALREADY_RUNNING", "Scheduler is already running", nil)
		case errors.Is(err, scheduler.ErrIntervalTooShort):
			respondError(w, http.StatusBadRequest, "INTERVAL_TOO_SHORT", err.Error(), nil)
		default:
			respondError(w, http.StatusInternalServerError, "START_FAILED", "Failed to start scheduler", err)
		}
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

// StopScheduler halts auto-posting.
func (h *Handler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.StopAutoPosting(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "STOP_FAILED", "Failed to stop scheduler", err)
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

// PauseScheduler suspends ticks without stopping the timer.
func (h *Handler) PauseScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Pause(); err != nil {
		respondError(w, http.StatusConflict, "NOT_RUNNING", "Scheduler is not running", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

// ResumeScheduler reverses PauseScheduler.
func (h *Handler) ResumeScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Resume(); err != nil {
		respondError(w, http.StatusConflict, "NOT_RUNNING", "Scheduler is not running", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

type intervalRequest struct {
	IntervalSeconds int `json:"interval_seconds" validate:"required,min=10"`
}

// UpdateInterval changes the posting interval.
func (h *Handler) UpdateInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.scheduler.UpdateInterval(r.Context(), time.Duration(req.IntervalSeconds)*time.Second); err != nil {
		if errors.Is(err, scheduler.ErrIntervalTooShort) {
			respondError(w, http.StatusBadRequest, "INTERVAL_TOO_SHORT", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to persist interval", err)
		return
	}
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

// SystemStatus reports queue statistics, scheduler state, and store
// health in one call.
func (h *Handler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.QueueStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to read queue stats", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"queue":          stats,
		"scheduler":      h.scheduler.Status(),
		"store":          h.store.Stats(),
		"uptime_seconds": time.Since(h.startTime).Seconds(),
	})
}

// ListNotifications returns operator notifications, unacknowledged
// only by default.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	includeAcked := r.URL.Query().Get("include_acked") == "true"
	notifications, err := h.notifier.List(r.Context(), includeAcked)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to read notifications", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

// AcknowledgeNotification marks a notification handled.
func (h *Handler) AcknowledgeNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := h.notifier.Acknowledge(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to acknowledge notification", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Notification not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"acknowledged": id})
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady reports whether the store answers reads.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.queue.QueueStats(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "Store is not answering", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
