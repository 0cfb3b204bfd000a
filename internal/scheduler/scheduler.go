// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

// Package scheduler drives periodic posting of queued questions.
//
// The scheduler owns the posting cadence: on each tick it asks the
// queue for the next question, applies the blocklist filter, formats
// the text, calls the posting client, and records the outcome. It is
// the single place that decides retry versus skip versus notify. The
// running flag and interval persist across restarts; pause state and
// statistics do not.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/askrelay/internal/logging"
	"github.com/tomtom215/askrelay/internal/notify"
	"github.com/tomtom215/askrelay/internal/poster"
	"github.com/tomtom215/askrelay/internal/queue"
	"github.com/tomtom215/askrelay/internal/store"
)

// Persisted state keys.
const (
	KeyIsRunning        = "isRunning"
	KeyPostInterval     = "POST_INTERVAL_SEC"
	KeyMaxRetryAttempts = "MAX_RETRY_ATTEMPTS"
	KeyQuestionPrefix   = "QUESTION_PREFIX"
	KeyNGKeywords       = "NG_KEYWORDS"
)

// State is the scheduler lifecycle state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// ErrIntervalTooShort rejects intervals under the configured minimum.
var ErrIntervalTooShort = errors.New("scheduler: interval below minimum")

// ErrNotRunning rejects operations that need an active schedule.
var ErrNotRunning = errors.New("scheduler: not running")

// ErrAlreadyRunning rejects a second start.
var ErrAlreadyRunning = errors.New("scheduler: already running")

// ErrTooSoon rejects a manual post within the minimum spacing of the
// previous post.
var ErrTooSoon = errors.New("scheduler: too soon since last post")

// Poster is the posting client surface the scheduler depends on.
type Poster interface {
	Post(ctx context.Context, text string) (*poster.Result, error)
}

// Config holds scheduler configuration.
type Config struct {
	// Interval is the default posting interval. Default: 60s.
	Interval time.Duration

	// MinInterval is the smallest accepted interval. Default: 10s.
	MinInterval time.Duration

	// MinPostSpacing is the shortest gap allowed between any two
	// posts, including manual triggers. Default: 5s.
	MinPostSpacing time.Duration

	// MaxRetryAttempts is how many failed ticks a question survives
	// before it is skipped. Overridable via the persisted
	// MAX_RETRY_ATTEMPTS key. Default: 3.
	MaxRetryAttempts int

	// Prefix is prepended to every posted text. Overridable via the
	// persisted QUESTION_PREFIX key.
	Prefix string

	// NGKeywords is the default blocklist. Overridable via the
	// persisted NG_KEYWORDS key.
	NGKeywords []string

	// HealthCheckInterval is how often the timer heartbeat is
	// verified. Default: 30s.
	HealthCheckInterval time.Duration

	// CleanupInterval is how often background housekeeping runs.
	// Default: 10m.
	CleanupInterval time.Duration

	// ImmediateDelay is the pause before the optional first post on
	// start. Default: 2s.
	ImmediateDelay time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:            time.Minute,
		MinInterval:         10 * time.Second,
		MinPostSpacing:      5 * time.Second,
		MaxRetryAttempts:    3,
		HealthCheckInterval: 30 * time.Second,
		CleanupInterval:     10 * time.Minute,
		ImmediateDelay:      2 * time.Second,
	}
}

// Outcome describes what a single tick did.
type Outcome string

const (
	OutcomePosted           Outcome = "posted"
	OutcomeNoQuestions      Outcome = "no_questions"
	OutcomeDeferred         Outcome = "deferred"
	OutcomeSkippedBlocklist Outcome = "skipped_blocklist"
	OutcomeSkippedExhausted Outcome = "skipped_exhausted"
	OutcomeFailed           Outcome = "failed"
	OutcomeInactive         Outcome = "inactive"
)

// TickResult reports the outcome of one tick.
type TickResult struct {
	Outcome    Outcome `json:"outcome"`
	QuestionID string  `json:"question_id,omitempty"`
	ExternalID string  `json:"external_id,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Status is the scheduler state exposed to callers.
type Status struct {
	State            State      `json:"state"`
	IntervalSeconds  int        `json:"interval_seconds"`
	TotalPosts       int64      `json:"total_posts"`
	SuccessfulPosts  int64      `json:"successful_posts"`
	FailedPosts      int64      `json:"failed_posts"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	LastPostTime     *time.Time `json:"last_post_time,omitempty"`
	NextPostEstimate *time.Time `json:"next_post_estimate,omitempty"`
	UptimeSeconds    float64    `json:"uptime_seconds"`
}

// Scheduler orchestrates periodic posting.
type Scheduler struct {
	store    *store.Store
	queue    *queue.Manager
	poster   Poster
	notifier *notify.Notifier
	logger   zerolog.Logger
	config   Config

	mu              sync.Mutex
	state           State
	stopping        bool
	interval        time.Duration
	ticker          *time.Ticker
	stopCh          chan struct{}
	doneCh          chan struct{}
	runCancel       context.CancelFunc
	startTime       time.Time
	lastPost        time.Time
	totalPosts      int64
	successfulPosts int64
	failedPosts     int64
	priorUptime     time.Duration

	// lastTick is a unix-nano heartbeat read by the health loop.
	lastTick atomic.Int64

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a scheduler. It starts in the stopped state; call
// StartAutoPosting or ResumePersisted to begin ticking.
func New(st *store.Store, qm *queue.Manager, p Poster, n *notify.Notifier, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MinPostSpacing <= 0 {
		cfg.MinPostSpacing = def.MinPostSpacing
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = def.MaxRetryAttempts
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = def.HealthCheckInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.ImmediateDelay <= 0 {
		cfg.ImmediateDelay = def.ImmediateDelay
	}

	return &Scheduler{
		store:    st,
		queue:    qm,
		poster:   p,
		notifier: n,
		logger:   logging.With().Str("component", "scheduler").Logger(),
		config:   cfg,
		state:    StateStopped,
		interval: cfg.Interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// StartAutoPosting begins the periodic posting loop at the given
// interval and persists the running flag. When immediate is set, one
// post fires after a short delay instead of waiting a full interval.
//
// ctx bounds only the synchronous persistence calls. The loop itself
// runs on a scheduler-owned context so it outlives short-lived callers
// such as HTTP requests; it ends only through StopAutoPosting or
// Shutdown.
func (s *Scheduler) StartAutoPosting(ctx context.Context, interval time.Duration, immediate bool) error {
	if interval < s.config.MinInterval {
		return fmt.Errorf("%w: %s < %s", ErrIntervalTooShort, interval, s.config.MinInterval)
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.state != StateStopped || s.stopping {
		s.mu.Unlock()
		runCancel()
		return ErrAlreadyRunning
	}
	s.state = StateRunning
	s.interval = interval
	s.startTime = s.now()
	s.ticker = time.NewTicker(interval)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.runCancel = runCancel
	s.lastTick.Store(s.now().UnixNano())
	s.mu.Unlock()

	if err := s.store.SetJSON(ctx, KeyIsRunning, true); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist running flag")
	}
	if err := s.store.SetJSON(ctx, KeyPostInterval, int(interval.Seconds())); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist interval")
	}

	s.logger.Info().Dur("interval", interval).Bool("immediate", immediate).Msg("Auto-posting started")
	updateSchedulerState(StateRunning)

	go s.run(runCtx, immediate)
	return nil
}

// halt winds down the run loop. Exactly one caller performs the
// teardown; concurrent callers wait for it to finish instead of
// racing on the stop channel. Returns false when the scheduler was
// already stopped.
func (s *Scheduler) halt() bool {
	s.mu.Lock()
	if s.state == StateStopped && !s.stopping {
		s.mu.Unlock()
		return false
	}
	if s.stopping {
		doneCh := s.doneCh
		s.mu.Unlock()
		<-doneCh
		return true
	}
	s.stopping = true
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.priorUptime += s.now().Sub(s.startTime)
	s.state = StateStopped
	s.stopping = false
	s.ticker.Stop()
	s.ticker = nil
	s.runCancel()
	s.runCancel = nil
	s.mu.Unlock()
	return true
}

// StopAutoPosting halts the loop, persists the stopped flag, and
// folds the session into the uptime total.
func (s *Scheduler) StopAutoPosting(ctx context.Context) error {
	if !s.halt() {
		return nil
	}

	if err := s.store.SetJSON(ctx, KeyIsRunning, false); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist running flag")
	}

	s.logger.Info().Msg("Auto-posting stopped")
	updateSchedulerState(StateStopped)
	return nil
}

// Shutdown halts the loop without touching the persisted running
// flag, so the schedule resumes on the next start. Used for process
// shutdown; operator-initiated stops go through StopAutoPosting.
func (s *Scheduler) Shutdown() {
	if !s.halt() {
		return
	}

	s.logger.Info().Msg("Scheduler shut down, persisted schedule retained")
	updateSchedulerState(StateStopped)
}

// Pause suspends ticking without destroying the timer.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return ErrNotRunning
	}
	s.state = StatePaused
	s.logger.Info().Msg("Auto-posting paused")
	updateSchedulerState(StatePaused)
	return nil
}

// Resume reverses Pause.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return ErrNotRunning
	}
	s.state = StateRunning
	s.logger.Info().Msg("Auto-posting resumed")
	updateSchedulerState(StateRunning)
	return nil
}

// UpdateInterval persists a new interval. A running timer is reset in
// place.
func (s *Scheduler) UpdateInterval(ctx context.Context, interval time.Duration) error {
	if interval < s.config.MinInterval {
		return fmt.Errorf("%w: %s < %s", ErrIntervalTooShort, interval, s.config.MinInterval)
	}

	s.mu.Lock()
	s.interval = interval
	if s.ticker != nil {
		s.ticker.Reset(interval)
	}
	s.mu.Unlock()

	if err := s.store.SetJSON(ctx, KeyPostInterval, int(interval.Seconds())); err != nil {
		return err
	}
	s.logger.Info().Dur("interval", interval).Msg("Posting interval updated")
	return nil
}

// TriggerImmediatePost runs one tick now, bypassing the periodic
// timer and the running gate. The minimum post spacing still applies.
func (s *Scheduler) TriggerImmediatePost(ctx context.Context) (TickResult, error) {
	s.mu.Lock()
	sinceLast := s.now().Sub(s.lastPost)
	if !s.lastPost.IsZero() && sinceLast < s.config.MinPostSpacing {
		s.mu.Unlock()
		return TickResult{Outcome: OutcomeFailed, Error: ErrTooSoon.Error()},
			fmt.Errorf("%w: %s since last post", ErrTooSoon, sinceLast.Round(time.Millisecond))
	}
	s.mu.Unlock()

	return s.tick(ctx, true), nil
}

// ResumePersisted restores a schedule that was running when the
// process last exited. A no-op when the persisted flag is absent or
// false.
func (s *Scheduler) ResumePersisted(ctx context.Context) error {
	var running bool
	if err := s.store.GetJSON(ctx, KeyIsRunning, &running); err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	if !running {
		return nil
	}

	intervalSec := int(s.config.Interval.Seconds())
	if err := s.store.GetJSON(ctx, KeyPostInterval, &intervalSec); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		return err
	}
	interval := time.Duration(intervalSec) * time.Second
	if interval < s.config.MinInterval {
		interval = s.config.Interval
	}

	s.logger.Info().Dur("interval", interval).Msg("Resuming persisted schedule")
	return s.StartAutoPosting(ctx, interval, false)
}

// Status returns a snapshot of scheduler state and statistics.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:           s.state,
		IntervalSeconds: int(s.interval.Seconds()),
		TotalPosts:      s.totalPosts,
		SuccessfulPosts: s.successfulPosts,
		FailedPosts:     s.failedPosts,
		UptimeSeconds:   s.priorUptime.Seconds(),
	}
	if s.state != StateStopped {
		start := s.startTime
		st.StartTime = &start
		st.UptimeSeconds += s.now().Sub(s.startTime).Seconds()
	}
	if !s.lastPost.IsZero() {
		last := s.lastPost
		st.LastPostTime = &last
	}
	if s.state == StateRunning {
		estimate := time.Unix(0, s.lastTick.Load()).Add(s.interval)
		st.NextPostEstimate = &estimate
	}
	return st
}

// IsRunning reports whether the loop is active (running or paused).
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateStopped
}

// run is the main loop plus its background companions.
func (s *Scheduler) run(ctx context.Context, immediate bool) {
	defer close(s.doneCh)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.healthLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.cleanupLoop(ctx)
	}()
	defer wg.Wait()

	if immediate {
		if err := s.sleep(ctx, s.config.ImmediateDelay); err == nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.tick(ctx, false)
			}
		}
	}

	s.mu.Lock()
	tickCh := s.ticker.C
	s.mu.Unlock()

	for {
		select {
		case <-tickCh:
			s.tick(ctx, false)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one posting attempt. manual bypasses the running/paused
// gate.
func (s *Scheduler) tick(ctx context.Context, manual bool) TickResult {
	s.lastTick.Store(s.now().UnixNano())

	if !manual {
		s.mu.Lock()
		state := s.state
		s.mu.Unlock()
		if state != StateRunning {
			return TickResult{Outcome: OutcomeInactive}
		}
	}

	settings := s.loadSettings(ctx)

	q, err := s.queue.GetNextQuestion(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch next question")
		return TickResult{Outcome: OutcomeFailed, Error: err.Error()}
	}
	if q == nil {
		s.logger.Debug().Msg("No questions pending")
		recordTick(OutcomeNoQuestions)
		return TickResult{Outcome: OutcomeNoQuestions}
	}

	result := TickResult{QuestionID: q.ID}

	if q.NextAt != nil && s.now().Before(*q.NextAt) {
		s.logger.Debug().Str("question_id", q.ID).Time("next_at", *q.NextAt).Msg("Post deferred by backoff")
		result.Outcome = OutcomeDeferred
		recordTick(OutcomeDeferred)
		return result
	}

	text := settings.prefix + q.Text

	if keyword := matchBlocklist(text, settings.ngKeywords); keyword != "" {
		s.logger.Warn().Str("question_id", q.ID).Str("keyword", keyword).Msg("Question matched blocklist")
		if _, err := s.queue.MarkAsSkipped(ctx, q.ID, "NG content"); err != nil {
			s.logger.Error().Err(err).Str("question_id", q.ID).Msg("Failed to mark question skipped")
		}
		s.notify(ctx, notify.SeverityWarning, "Question skipped", "Question matched blocklist keyword "+keyword)
		result.Outcome = OutcomeSkippedBlocklist
		recordTick(OutcomeSkippedBlocklist)
		return result
	}

	postResult, err := s.poster.Post(ctx, text)
	if err != nil {
		return s.handlePostFailure(ctx, q, err, settings, result)
	}

	if _, err := s.queue.MarkAsSent(ctx, q.ID); err != nil {
		s.logger.Error().Err(err).Str("question_id", q.ID).Msg("Failed to mark question sent")
	}

	s.mu.Lock()
	s.lastPost = s.now()
	s.totalPosts++
	s.successfulPosts++
	s.mu.Unlock()

	s.logger.Info().Str("question_id", q.ID).Str("external_id", postResult.ExternalID).Msg("Question posted")
	result.Outcome = OutcomePosted
	result.ExternalID = postResult.ExternalID
	recordTick(OutcomePosted)
	return result
}

// handlePostFailure is the single retry-versus-skip decision point.
func (s *Scheduler) handlePostFailure(ctx context.Context, q *queue.Question, postErr error, settings tickSettings, result TickResult) TickResult {
	s.mu.Lock()
	s.totalPosts++
	s.failedPosts++
	s.mu.Unlock()

	result.Error = postErr.Error()

	var (
		authErr *poster.AuthError
		permErr *poster.PermissionError
		reqErr  *poster.BadRequestError
	)
	switch {
	case errors.As(postErr, &authErr):
		s.skipWithNotice(ctx, q.ID, "authentication failed", notify.SeverityCritical, "Posting authentication failed", postErr.Error())
		result.Outcome = OutcomeSkippedExhausted

	case errors.As(postErr, &permErr):
		s.skipWithNotice(ctx, q.ID, "permission denied", notify.SeverityCritical, "Posting permission denied", postErr.Error())
		result.Outcome = OutcomeSkippedExhausted

	case errors.As(postErr, &reqErr):
		s.skipWithNotice(ctx, q.ID, "rejected by target", notify.SeverityWarning, "Question rejected", postErr.Error())
		result.Outcome = OutcomeSkippedExhausted

	default:
		// Rate limits and transport failures get another tick, up to
		// the retry budget.
		count, err := s.queue.IncrementRetry(ctx, q.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("question_id", q.ID).Msg("Failed to increment retry count")
		}
		if count > settings.maxRetryAttempts {
			s.skipWithNotice(ctx, q.ID, "retry attempts exhausted", notify.SeverityWarning,
				"Question skipped after repeated failures", postErr.Error())
			result.Outcome = OutcomeSkippedExhausted
			break
		}

		if wait, ok := poster.RetryAfterHint(postErr); ok {
			until := s.now().Add(wait)
			if _, err := s.queue.DeferNext(ctx, q.ID, until); err != nil {
				s.logger.Error().Err(err).Str("question_id", q.ID).Msg("Failed to defer question")
			}
			s.logger.Warn().Str("question_id", q.ID).Time("until", until).Msg("Rate limited, post deferred")
		} else {
			s.logger.Warn().Err(postErr).Str("question_id", q.ID).Int("retry_count", count).Msg("Post failed, will retry")
		}
		result.Outcome = OutcomeFailed
	}

	recordTick(result.Outcome)
	return result
}

func (s *Scheduler) skipWithNotice(ctx context.Context, id, reason string, severity notify.Severity, title, message string) {
	if _, err := s.queue.MarkAsSkipped(ctx, id, reason); err != nil {
		s.logger.Error().Err(err).Str("question_id", id).Msg("Failed to mark question skipped")
	}
	s.notify(ctx, severity, title, message)
}

func (s *Scheduler) notify(ctx context.Context, severity notify.Severity, title, message string) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, severity, title, message); err != nil {
		s.logger.Error().Err(err).Msg("Failed to record notification")
	}
}

// tickSettings consolidates the dynamic configuration one tick reads.
type tickSettings struct {
	prefix           string
	ngKeywords       []string
	maxRetryAttempts int
}

// loadSettings reads the persisted overrides, falling back to the
// static configuration for absent keys.
func (s *Scheduler) loadSettings(ctx context.Context) tickSettings {
	settings := tickSettings{
		prefix:           s.config.Prefix,
		ngKeywords:       s.config.NGKeywords,
		maxRetryAttempts: s.config.MaxRetryAttempts,
	}
	if err := s.store.GetJSON(ctx, KeyQuestionPrefix, &settings.prefix); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		s.logger.Error().Err(err).Msg("Failed to load question prefix")
	}
	if err := s.store.GetJSON(ctx, KeyNGKeywords, &settings.ngKeywords); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		s.logger.Error().Err(err).Msg("Failed to load blocklist")
	}
	if err := s.store.GetJSON(ctx, KeyMaxRetryAttempts, &settings.maxRetryAttempts); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		s.logger.Error().Err(err).Msg("Failed to load retry budget")
	}
	if settings.maxRetryAttempts <= 0 {
		settings.maxRetryAttempts = s.config.MaxRetryAttempts
	}
	return settings
}

// matchBlocklist returns the first blocklist keyword contained in
// text, case-insensitively, or "" when clean.
func matchBlocklist(text string, keywords []string) string {
	lowered := strings.ToLower(text)
	for _, keyword := range keywords {
		k := strings.TrimSpace(keyword)
		if k == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(k)) {
			return k
		}
	}
	return ""
}

// healthLoop verifies the timer heartbeat. A host suspend can leave
// the ticker stalled well past its interval; when the gap exceeds
// twice the interval the ticker is reset so the cadence recovers.
func (s *Scheduler) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkTimerHealth()
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) checkTimerHealth() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning || s.ticker == nil {
		return
	}
	gap := s.now().Sub(time.Unix(0, s.lastTick.Load()))
	if gap <= 2*s.interval {
		return
	}

	s.logger.Warn().Dur("gap", gap).Dur("interval", s.interval).Msg("Timer heartbeat stale, resetting")
	s.ticker.Reset(s.interval)
	s.lastTick.Store(s.now().UnixNano())
	recordTimerReset()
}

// cleanupLoop runs best-effort housekeeping: notification pruning and
// a store flush so pending writes do not sit indefinitely between
// posts.
func (s *Scheduler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.notifier != nil {
				if removed, err := s.notifier.Prune(ctx); err != nil {
					s.logger.Error().Err(err).Msg("Notification pruning failed")
				} else if removed > 0 {
					s.logger.Debug().Int("removed", removed).Msg("Pruned notifications")
				}
			}
			if err := s.store.Flush(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Background flush failed")
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
