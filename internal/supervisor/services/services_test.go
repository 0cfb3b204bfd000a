// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type fakeScheduler struct {
	resumeErr error
	resumed   atomic.Bool
	shutdowns atomic.Int32
}

func (f *fakeScheduler) ResumePersisted(context.Context) error {
	f.resumed.Store(true)
	return f.resumeErr
}

func (f *fakeScheduler) Shutdown() {
	f.shutdowns.Add(1)
}

func TestSchedulerService_ResumeAndShutdown(t *testing.T) {
	fs := &fakeScheduler{}
	svc := NewSchedulerService(fs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for !fs.resumed.Load() {
		select {
		case <-deadline:
			t.Fatal("Service never resumed the scheduler")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if fs.shutdowns.Load() != 1 {
		t.Errorf("Expected 1 shutdown, got %d", fs.shutdowns.Load())
	}
}

func TestSchedulerService_ResumeFailure(t *testing.T) {
	fs := &fakeScheduler{resumeErr: errors.New("store down")}
	svc := NewSchedulerService(fs)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("Expected resume error surfaced")
	}
	if fs.shutdowns.Load() != 0 {
		t.Error("Shutdown must not run after a failed resume")
	}
}

type fakeHTTPServer struct {
	listenErr error
	closed    chan struct{}
	shutdowns atomic.Int32
}

func newFakeHTTPServer(listenErr error) *fakeHTTPServer {
	return &fakeHTTPServer{listenErr: listenErr, closed: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.closed
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	close(f.closed)
	return nil
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	srv := newFakeHTTPServer(nil)
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if srv.shutdowns.Load() != 1 {
		t.Errorf("Expected 1 shutdown call, got %d", srv.shutdowns.Load())
	}
}

func TestHTTPServerService_ListenFailure(t *testing.T) {
	srv := newFakeHTTPServer(errors.New("port in use"))
	svc := NewHTTPServerService(srv, time.Second)

	if err := svc.Serve(context.Background()); err == nil {
		t.Error("Expected listen error surfaced")
	}
}

type fakeFlusher struct {
	flushes atomic.Int32
	err     error
}

func (f *fakeFlusher) Flush(context.Context) error {
	f.flushes.Add(1)
	return f.err
}

func TestStoreFlusherService_FlushesPeriodically(t *testing.T) {
	f := &fakeFlusher{}
	svc := NewStoreFlusherService(f, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for f.flushes.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("Expected periodic flushes")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	before := f.flushes.Load()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	// A final flush runs on shutdown.
	if f.flushes.Load() <= before {
		t.Error("Expected a final flush on shutdown")
	}
}

func TestStoreFlusherService_SurfacesFlushError(t *testing.T) {
	f := &fakeFlusher{err: errors.New("disk full")}
	svc := NewStoreFlusherService(f, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- svc.Serve(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected flush error surfaced for restart")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return on flush error")
	}
}
