// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/askrelay/internal/locking"
	"github.com/tomtom215/askrelay/internal/notify"
	"github.com/tomtom215/askrelay/internal/poster"
	"github.com/tomtom215/askrelay/internal/queue"
	"github.com/tomtom215/askrelay/internal/store"
)

type fakePoster struct {
	mu    sync.Mutex
	calls []string
	fn    func(text string) (*poster.Result, error)
}

func (f *fakePoster) Post(_ context.Context, text string) (*poster.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(text)
	}
	return &poster.Result{ExternalID: "ext-1", PostedAt: time.Now()}, nil
}

func (f *fakePoster) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testEnv struct {
	scheduler *Scheduler
	queue     *queue.Manager
	store     *store.Store
	notifier  *notify.Notifier
	poster    *fakePoster
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	st, err := store.Open(store.Config{
		InMemory:      true,
		CacheTTL:      time.Minute,
		FlushInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	qm := queue.NewManager(st, locking.New(), queue.Config{})
	n := notify.NewNotifier(st, notify.Config{})
	fp := &fakePoster{}
	s := New(st, qm, fp, n, cfg)
	return &testEnv{scheduler: s, queue: qm, store: st, notifier: n, poster: fp}
}

func TestTick_PostsOldestQuestion(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	base := time.Now()

	_, _ = env.queue.AddQuestion(ctx, "newer question", base.Add(time.Minute))
	oldest, _ := env.queue.AddQuestion(ctx, "oldest question", base)

	result := env.scheduler.tick(ctx, true)
	if result.Outcome != OutcomePosted {
		t.Fatalf("Expected posted, got %s (%s)", result.Outcome, result.Error)
	}
	if result.QuestionID != oldest {
		t.Errorf("Expected oldest question posted, got %s", result.QuestionID)
	}
	if result.ExternalID != "ext-1" {
		t.Errorf("Expected external id recorded, got %q", result.ExternalID)
	}

	questions, _ := env.queue.Queue(ctx)
	for _, q := range questions {
		if q.ID == oldest && q.Status != queue.StatusSent {
			t.Errorf("Expected question marked sent, got %s", q.Status)
		}
	}

	status := env.scheduler.Status()
	if status.TotalPosts != 1 || status.SuccessfulPosts != 1 {
		t.Errorf("Unexpected stats: %+v", status)
	}
}

func TestTick_EmptyQueue(t *testing.T) {
	env := newTestEnv(t, Config{})

	result := env.scheduler.tick(context.Background(), true)
	if result.Outcome != OutcomeNoQuestions {
		t.Errorf("Expected no_questions, got %s", result.Outcome)
	}
	if env.poster.callCount() != 0 {
		t.Error("Nothing should be posted from an empty queue")
	}
}

func TestTick_BlocklistSkips(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	if err := env.store.SetJSON(ctx, KeyNGKeywords, []string{"forbidden"}); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	id, _ := env.queue.AddQuestion(ctx, "This mentions FORBIDDEN topics", time.Now())

	result := env.scheduler.tick(ctx, true)
	if result.Outcome != OutcomeSkippedBlocklist {
		t.Fatalf("Expected skipped_blocklist, got %s", result.Outcome)
	}
	if env.poster.callCount() != 0 {
		t.Error("Blocked question must not be posted")
	}

	questions, _ := env.queue.Queue(ctx)
	for _, q := range questions {
		if q.ID == id {
			if q.Status != queue.StatusSkipped || q.SkippedReason != "NG content" {
				t.Errorf("Expected skipped with NG content reason, got %+v", q)
			}
		}
	}

	notifications, _ := env.notifier.List(ctx, true)
	if len(notifications) == 0 {
		t.Error("Expected a notification for the blocklist skip")
	}
}

func TestTick_PrefixApplied(t *testing.T) {
	env := newTestEnv(t, Config{Prefix: "[Q] "})
	ctx := context.Background()

	_, _ = env.queue.AddQuestion(ctx, "hello", time.Now())
	result := env.scheduler.tick(ctx, true)
	if result.Outcome != OutcomePosted {
		t.Fatalf("Expected posted, got %s", result.Outcome)
	}
	if env.poster.calls[0] != "[Q] hello" {
		t.Errorf("Expected prefixed text, got %q", env.poster.calls[0])
	}

	// A persisted prefix overrides the static one.
	_ = env.store.SetJSON(ctx, KeyQuestionPrefix, ">> ")
	_, _ = env.queue.AddQuestion(ctx, "second", time.Now().Add(time.Second))
	_ = env.scheduler.tick(ctx, true)
	if env.poster.calls[1] != ">> second" {
		t.Errorf("Expected persisted prefix, got %q", env.poster.calls[1])
	}
}

func TestTick_RateLimitedDefers(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.poster.fn = func(string) (*poster.Result, error) {
		return nil, &poster.RateLimitedError{RetryAfter: 30 * time.Second}
	}
	id, _ := env.queue.AddQuestion(ctx, "throttled", time.Now())

	before := time.Now()
	result := env.scheduler.tick(ctx, true)
	if result.Outcome != OutcomeFailed {
		t.Fatalf("Expected failed (retryable), got %s", result.Outcome)
	}

	questions, _ := env.queue.Queue(ctx)
	var q *queue.Question
	for i := range questions {
		if questions[i].ID == id {
			q = &questions[i]
		}
	}
	if q == nil {
		t.Fatal("Question disappeared")
	}
	if q.Status != queue.StatusNext {
		t.Errorf("Rate-limited question must stay next, got %s", q.Status)
	}
	if q.NextAt == nil || q.NextAt.Before(before.Add(30*time.Second)) {
		t.Errorf("Expected next attempt deferred at least 30s, got %v", q.NextAt)
	}

	// The next tick observes the deferral and does not post.
	result = env.scheduler.tick(ctx, true)
	if result.Outcome != OutcomeDeferred {
		t.Errorf("Expected deferred, got %s", result.Outcome)
	}
	if env.poster.callCount() != 1 {
		t.Errorf("Expected exactly one post attempt, got %d", env.poster.callCount())
	}
}

func TestTick_RetryExhaustionSkips(t *testing.T) {
	env := newTestEnv(t, Config{MaxRetryAttempts: 2})
	ctx := context.Background()

	env.poster.fn = func(string) (*poster.Result, error) {
		return nil, &poster.NetworkError{Err: errors.New("connection reset")}
	}
	id, _ := env.queue.AddQuestion(ctx, "doomed", time.Now())

	// Two failures stay within budget.
	for i := 0; i < 2; i++ {
		result := env.scheduler.tick(ctx, true)
		if result.Outcome != OutcomeFailed {
			t.Fatalf("Tick %d: expected failed, got %s", i, result.Outcome)
		}
	}

	// The third exceeds it.
	result := env.scheduler.tick(ctx, true)
	if result.Outcome != OutcomeSkippedExhausted {
		t.Fatalf("Expected skipped_exhausted, got %s", result.Outcome)
	}

	questions, _ := env.queue.Queue(ctx)
	for _, q := range questions {
		if q.ID == id {
			if q.Status != queue.StatusSkipped || q.SkippedReason == "" {
				t.Errorf("Expected skipped with reason, got %+v", q)
			}
		}
	}

	notifications, _ := env.notifier.List(ctx, true)
	if len(notifications) == 0 {
		t.Error("Expected a notification after exhausting retries")
	}
}

func TestTick_AuthErrorSkipsImmediately(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	env.poster.fn = func(string) (*poster.Result, error) {
		return nil, &poster.AuthError{Message: "token rejected"}
	}
	_, _ = env.queue.AddQuestion(ctx, "unauthorized", time.Now())

	result := env.scheduler.tick(ctx, true)
	if result.Outcome != OutcomeSkippedExhausted {
		t.Fatalf("Expected immediate skip on auth error, got %s", result.Outcome)
	}

	notifications, _ := env.notifier.List(ctx, false)
	if len(notifications) == 0 || notifications[0].Severity != notify.SeverityCritical {
		t.Errorf("Expected a critical notification, got %+v", notifications)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	s := env.scheduler

	if err := s.StartAutoPosting(ctx, time.Hour, false); err != nil {
		t.Fatalf("StartAutoPosting failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("Expected scheduler running")
	}
	if err := s.StartAutoPosting(ctx, time.Hour, false); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	var running bool
	if err := env.store.GetJSON(ctx, KeyIsRunning, &running); err != nil || !running {
		t.Errorf("Expected persisted isRunning=true, got %v err=%v", running, err)
	}

	status := s.Status()
	if status.State != StateRunning || status.IntervalSeconds != 3600 {
		t.Errorf("Unexpected status: %+v", status)
	}
	if status.NextPostEstimate == nil {
		t.Error("Expected a next post estimate while running")
	}

	if err := s.StopAutoPosting(ctx); err != nil {
		t.Fatalf("StopAutoPosting failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("Expected scheduler stopped")
	}
	if err := env.store.GetJSON(ctx, KeyIsRunning, &running); err != nil || running {
		t.Errorf("Expected persisted isRunning=false, got %v err=%v", running, err)
	}

	// Stopping again is a no-op.
	if err := s.StopAutoPosting(ctx); err != nil {
		t.Errorf("Second stop must be a no-op, got %v", err)
	}
}

func TestStartAutoPosting_OutlivesCallerContext(t *testing.T) {
	env := newTestEnv(t, Config{MinInterval: 10 * time.Millisecond})
	_, _ = env.queue.AddQuestion(context.Background(), "survives caller", time.Now())

	// The caller's context ends right after start, the way an HTTP
	// request context does. The loop must keep ticking regardless.
	ctx, cancel := context.WithCancel(context.Background())
	if err := env.scheduler.StartAutoPosting(ctx, 20*time.Millisecond, false); err != nil {
		t.Fatalf("StartAutoPosting failed: %v", err)
	}
	defer func() { _ = env.scheduler.StopAutoPosting(context.Background()) }()
	cancel()

	deadline := time.After(2 * time.Second)
	for env.poster.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("Loop died with its caller's context, nothing was posted")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if !env.scheduler.IsRunning() {
		t.Error("Expected scheduler still running after caller context ended")
	}
}

func TestConcurrentStopAndShutdown(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if err := env.scheduler.StartAutoPosting(ctx, time.Hour, false); err != nil {
			t.Fatalf("Iteration %d: start failed: %v", i, err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = env.scheduler.StopAutoPosting(ctx)
		}()
		go func() {
			defer wg.Done()
			env.scheduler.Shutdown()
		}()
		wg.Wait()

		if env.scheduler.IsRunning() {
			t.Fatalf("Iteration %d: scheduler still running after concurrent stops", i)
		}
	}
}

func TestCheckTimerHealth_ResetsStaleTicker(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	s := env.scheduler

	if err := s.StartAutoPosting(ctx, time.Hour, false); err != nil {
		t.Fatalf("StartAutoPosting failed: %v", err)
	}
	defer func() { _ = s.StopAutoPosting(ctx) }()

	// A gap within twice the interval is healthy and left alone.
	recent := time.Now().Add(-time.Minute)
	s.lastTick.Store(recent.UnixNano())
	s.checkTimerHealth()
	if s.lastTick.Load() != recent.UnixNano() {
		t.Error("Healthy heartbeat must not be reset")
	}

	// A host suspend shows up as a heartbeat far older than the
	// interval; the check must reset the ticker and refresh it.
	s.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	s.checkTimerHealth()
	if s.lastTick.Load() == recent.UnixNano() {
		t.Error("Stale heartbeat must reset the ticker")
	}
}

func TestStartAutoPosting_RejectsShortInterval(t *testing.T) {
	env := newTestEnv(t, Config{})
	err := env.scheduler.StartAutoPosting(context.Background(), 5*time.Second, false)
	if !errors.Is(err, ErrIntervalTooShort) {
		t.Errorf("Expected ErrIntervalTooShort, got %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	s := env.scheduler

	if err := s.Pause(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Pause while stopped must fail, got %v", err)
	}

	if err := s.StartAutoPosting(ctx, time.Hour, false); err != nil {
		t.Fatalf("StartAutoPosting failed: %v", err)
	}
	defer func() { _ = s.StopAutoPosting(ctx) }()

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	_, _ = env.queue.AddQuestion(ctx, "held back", time.Now())

	// A periodic tick is gated while paused.
	result := s.tick(ctx, false)
	if result.Outcome != OutcomeInactive {
		t.Errorf("Expected inactive while paused, got %s", result.Outcome)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	result = s.tick(ctx, false)
	if result.Outcome != OutcomePosted {
		t.Errorf("Expected posted after resume, got %s", result.Outcome)
	}
}

func TestTriggerImmediatePost_MinSpacing(t *testing.T) {
	env := newTestEnv(t, Config{MinPostSpacing: time.Hour})
	ctx := context.Background()

	_, _ = env.queue.AddQuestion(ctx, "first", time.Now())
	_, _ = env.queue.AddQuestion(ctx, "second", time.Now().Add(time.Second))

	result, err := env.scheduler.TriggerImmediatePost(ctx)
	if err != nil || result.Outcome != OutcomePosted {
		t.Fatalf("First trigger failed: %+v err=%v", result, err)
	}

	_, err = env.scheduler.TriggerImmediatePost(ctx)
	if !errors.Is(err, ErrTooSoon) {
		t.Errorf("Expected ErrTooSoon, got %v", err)
	}
	if env.poster.callCount() != 1 {
		t.Errorf("Expected 1 post, got %d", env.poster.callCount())
	}
}

func TestUpdateInterval(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	if err := env.scheduler.UpdateInterval(ctx, 5*time.Second); !errors.Is(err, ErrIntervalTooShort) {
		t.Errorf("Expected ErrIntervalTooShort, got %v", err)
	}

	if err := env.scheduler.UpdateInterval(ctx, 30*time.Second); err != nil {
		t.Fatalf("UpdateInterval failed: %v", err)
	}
	var persisted int
	if err := env.store.GetJSON(ctx, KeyPostInterval, &persisted); err != nil || persisted != 30 {
		t.Errorf("Expected persisted interval 30, got %d err=%v", persisted, err)
	}
}

func TestResumePersisted(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	// Nothing persisted: stays stopped.
	if err := env.scheduler.ResumePersisted(ctx); err != nil {
		t.Fatalf("ResumePersisted failed: %v", err)
	}
	if env.scheduler.IsRunning() {
		t.Fatal("Expected stopped with no persisted flag")
	}

	_ = env.store.SetJSON(ctx, KeyIsRunning, true)
	_ = env.store.SetJSON(ctx, KeyPostInterval, 45)

	if err := env.scheduler.ResumePersisted(ctx); err != nil {
		t.Fatalf("ResumePersisted failed: %v", err)
	}
	defer func() { _ = env.scheduler.StopAutoPosting(ctx) }()

	if !env.scheduler.IsRunning() {
		t.Error("Expected scheduler resumed")
	}
	if got := env.scheduler.Status().IntervalSeconds; got != 45 {
		t.Errorf("Expected persisted interval 45, got %d", got)
	}
}

func TestMatchBlocklist(t *testing.T) {
	tests := []struct {
		text     string
		keywords []string
		want     string
	}{
		{"clean text", []string{"bad"}, ""},
		{"contains BAD word", []string{"bad"}, "bad"},
		{"spaced", []string{"  ", "spac"}, "spac"},
		{"no keywords", nil, ""},
	}
	for _, tt := range tests {
		if got := matchBlocklist(tt.text, tt.keywords); got != tt.want {
			t.Errorf("matchBlocklist(%q, %v) = %q, want %q", tt.text, tt.keywords, got, tt.want)
		}
	}
}
