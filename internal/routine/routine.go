// Copyright 2025 shiioo
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package routine is the per-routine cron scheduler: one long-lived loop
// per routine computes the next fire time from a cron expression, sleeps
// until it arrives (or the routine is unregistered), invokes the workflow
// executor exactly as an API call would, and records execution history.
package routine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/shiioo-io/controlplane/internal/runindex"
	"github.com/shiioo-io/controlplane/internal/workflowspec"
	"github.com/shiioo-io/controlplane/shared/logger"
)

// Executor is the subset of internal/workflow.Executor the scheduler
// drives. Kept as an interface so routine does not import workflow
// directly.
type Executor interface {
	Execute(ctx context.Context, workItemID string, spec workflowspec.WorkflowSpec) (*runindex.Run, error)
}

// Schedule is a routine's cron trigger. Timezone is carried as an IANA
// string; an empty or unrecognized value falls back to UTC.
type Schedule struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone,omitempty"`
}

// Routine is a workflow plus a cron schedule.
type Routine struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	WorkItemID string               `json:"work_item_id"`
	Schedule   Schedule             `json:"schedule"`
	Workflow   workflowspec.WorkflowSpec `json:"workflow"`
	Enabled    bool                 `json:"enabled"`
	LastRun    *time.Time           `json:"last_run,omitempty"`
	NextRun    time.Time            `json:"next_run"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// ExecutionStatus is the outcome of one scheduled fire.
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "Success"
	ExecutionFailed  ExecutionStatus = "Failed"
)

// Execution is one row of a routine's fire history.
type Execution struct {
	RoutineID   string          `json:"routine_id"`
	RunID       string          `json:"run_id,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	ExecutedAt  time.Time       `json:"executed_at"`
	Status      ExecutionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
}

// parseCron accepts the standard robfig/cron grammar: five fields
// (minute, hour, day of month, month, day of week) with ranges, steps and
// names, plus the "@every"/"@hourly"-style descriptors. A leading seconds
// field is not accepted. Anything it rejects surfaces as InvalidCron.
func parseCron(spec string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, apierr.Newf(apierr.InvalidCron, "invalid cron expression %q: %v", spec, err)
	}
	return sched, nil
}

func locationFor(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc
	}
	return time.UTC
}

// Scheduler owns every registered routine's loop task.
type Scheduler struct {
	executor Executor
	log      *logger.Logger
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) bool

	mu         sync.Mutex
	routines   map[string]*Routine
	executions []Execution
	cancels    map[string]context.CancelFunc
}

// New builds a Scheduler driving executor.
func New(executor Executor, log *logger.Logger) *Scheduler {
	return &Scheduler{
		executor: executor,
		log:      log,
		now:      time.Now,
		wait:     defaultWait,
		routines: make(map[string]*Routine),
		cancels:  make(map[string]context.CancelFunc),
	}
}

func defaultWait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// SetClock overrides the scheduler's time source. Test-only seam.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetWait overrides how the scheduler waits for the next fire time.
// wait returns false if the wait was interrupted by cancellation.
// Test-only seam.
func (s *Scheduler) SetWait(wait func(ctx context.Context, d time.Duration) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wait = wait
}

// Register validates r's cron expression, stores r, and starts its task
// if enabled.
func (s *Scheduler) Register(r Routine) (*Routine, error) {
	if _, err := parseCron(r.Schedule.Cron); err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	now := s.clockNow()
	r.CreatedAt = now
	r.UpdatedAt = now

	s.mu.Lock()
	s.routines[r.ID] = &r
	s.mu.Unlock()

	if r.Enabled {
		s.startTask(r.ID)
	}
	return &r, nil
}

func (s *Scheduler) clockNow() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// Unregister stops id's task (if running) and removes the routine.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	delete(s.cancels, id)
	delete(s.routines, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Get returns a copy of routine id, or (zero, false).
func (s *Scheduler) Get(id string) (Routine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routines[id]
	if !ok {
		return Routine{}, false
	}
	return *r, true
}

// List returns every registered routine.
func (s *Scheduler) List() []Routine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Routine, 0, len(s.routines))
	for _, r := range s.routines {
		out = append(out, *r)
	}
	return out
}

// Enable turns on and (re)starts id's task.
func (s *Scheduler) Enable(id string) error {
	s.mu.Lock()
	r, ok := s.routines[id]
	if !ok {
		s.mu.Unlock()
		return apierr.New(apierr.NotFound, "routine not found")
	}
	already := r.Enabled
	r.Enabled = true
	r.UpdatedAt = s.now()
	s.mu.Unlock()

	if !already {
		s.startTask(id)
	}
	return nil
}

// Disable stops id's task and marks it disabled.
func (s *Scheduler) Disable(id string) error {
	s.mu.Lock()
	r, ok := s.routines[id]
	if !ok {
		s.mu.Unlock()
		return apierr.New(apierr.NotFound, "routine not found")
	}
	r.Enabled = false
	r.UpdatedAt = s.now()
	cancel, running := s.cancels[id]
	delete(s.cancels, id)
	s.mu.Unlock()

	if running {
		cancel()
	}
	return nil
}

// Executions returns id's fire history in recorded order.
func (s *Scheduler) Executions(id string) []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Execution
	for _, e := range s.executions {
		if e.RoutineID == id {
			out = append(out, e)
		}
	}
	return out
}

func (s *Scheduler) startTask(id string) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()
	go s.loop(ctx, id)
}

// loop is the per-routine task body: compute next_run, sleep
// until it fires or the task is cancelled, invoke the executor, record
// history, then exit if the routine was disabled mid-cycle.
func (s *Scheduler) loop(ctx context.Context, id string) {
	for {
		s.mu.Lock()
		r, ok := s.routines[id]
		s.mu.Unlock()
		if !ok {
			return
		}

		sched, err := parseCron(r.Schedule.Cron)
		if err != nil {
			if s.log != nil {
				s.log.Error(logger.Ctx{}, "routine has an invalid cron expression, stopping", map[string]interface{}{"routine_id": id, "error": err.Error()})
			}
			return
		}

		now := s.clockNow().In(locationFor(r.Schedule.Timezone))
		next := sched.Next(now)
		s.setNextRun(id, next)

		if !s.wait(ctx, next.Sub(now)) {
			return
		}
		if ctx.Err() != nil {
			return
		}

		s.fire(ctx, id, next)

		s.mu.Lock()
		r, ok = s.routines[id]
		stillEnabled := ok && r.Enabled
		s.mu.Unlock()
		if !stillEnabled {
			return
		}
	}
}

func (s *Scheduler) setNextRun(id string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.routines[id]; ok {
		r.NextRun = next
	}
}

func (s *Scheduler) fire(ctx context.Context, id string, scheduledAt time.Time) {
	s.mu.Lock()
	r, ok := s.routines[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	workItemID := r.WorkItemID
	if workItemID == "" {
		workItemID = r.ID
	}
	spec := r.Workflow

	run, err := s.executor.Execute(ctx, workItemID, spec)
	executedAt := s.clockNow()

	exec := Execution{RoutineID: id, ScheduledAt: scheduledAt, ExecutedAt: executedAt}
	switch {
	case err != nil:
		exec.Status = ExecutionFailed
		exec.Error = err.Error()
	case run != nil && run.Status == runindex.Completed:
		exec.Status = ExecutionSuccess
		exec.RunID = run.ID
	default:
		exec.Status = ExecutionFailed
		if run != nil {
			exec.RunID = run.ID
			exec.Error = "run did not complete"
		}
	}

	s.mu.Lock()
	s.executions = append(s.executions, exec)
	if r, ok := s.routines[id]; ok {
		lastRun := executedAt
		r.LastRun = &lastRun
	}
	s.mu.Unlock()

	if s.log != nil {
		if exec.Status == ExecutionSuccess {
			s.log.Info(logger.Ctx{RunID: exec.RunID}, "routine fired successfully", map[string]interface{}{"routine_id": id})
		} else {
			s.log.Warn(logger.Ctx{RunID: exec.RunID}, "routine fire failed", map[string]interface{}{"routine_id": id, "error": exec.Error})
		}
	}
}
