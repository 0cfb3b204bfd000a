// Askrelay - Durable Question Queue and Auto-Posting Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/askrelay

// Package services adapts component lifecycles to suture's Serve
// pattern.
package services

import (
	"context"
	"fmt"
)

// SchedulerManager is the scheduler lifecycle the wrapper adapts.
// Satisfied by *scheduler.Scheduler.
type SchedulerManager interface {
	ResumePersisted(ctx context.Context) error
	Shutdown()
}

// SchedulerService runs the posting scheduler under supervision. On
// start it resumes a persisted schedule; on shutdown it halts the
// loop without clearing the persisted running flag, so the schedule
// survives restarts.
type SchedulerService struct {
	manager SchedulerManager
	name    string
}

// NewSchedulerService wraps a scheduler for supervision.
func NewSchedulerService(manager SchedulerManager) *SchedulerService {
	return &SchedulerService{manager: manager, name: "scheduler"}
}

// Serve implements suture.Service: resume, block, shut down.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.manager.ResumePersisted(ctx); err != nil {
		return fmt.Errorf("scheduler resume failed: %w", err)
	}

	<-ctx.Done()
	s.manager.Shutdown()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (s *SchedulerService) String() string {
	return s.name
}
