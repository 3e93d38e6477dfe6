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

// Package analytics aggregates per-workflow and per-step counts,
// durations, and percentiles from observations pushed by the workflow
// and step executors, and derives the slowest-step bottleneck of a run.
package analytics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// WorkflowStats is the running aggregate for one workflow name.
type WorkflowStats struct {
	WorkflowID      string     `json:"workflow_id"`
	ExecutionCount  uint64     `json:"execution_count"`
	SuccessCount    uint64     `json:"success_count"`
	FailureCount    uint64     `json:"failure_count"`
	TotalDurationS  float64    `json:"total_duration_secs"`
	MinDurationS    float64    `json:"min_duration_secs"`
	MaxDurationS    float64    `json:"max_duration_secs"`
	AvgDurationS    float64    `json:"avg_duration_secs"`
	LastExecution   *time.Time `json:"last_execution,omitempty"`
}

// StepStats is the running aggregate for one step id across every run.
type StepStats struct {
	StepID         string    `json:"step_id"`
	ExecutionCount uint64    `json:"execution_count"`
	SuccessCount   uint64    `json:"success_count"`
	FailureCount   uint64    `json:"failure_count"`
	RetryCount     uint64    `json:"retry_count"`
	TotalDurationS float64   `json:"total_duration_secs"`
	MinDurationS   float64   `json:"min_duration_secs"`
	MaxDurationS   float64   `json:"max_duration_secs"`
	AvgDurationS   float64   `json:"avg_duration_secs"`
	P50DurationS   *float64  `json:"p50_duration_secs,omitempty"`
	P95DurationS   *float64  `json:"p95_duration_secs,omitempty"`
	P99DurationS   *float64  `json:"p99_duration_secs,omitempty"`
	durations      []float64 // ascending, kept for percentile recompute
}

// TraceStatus is the lifecycle state of a run or step trace.
type TraceStatus string

const (
	TraceRunning   TraceStatus = "Running"
	TraceCompleted TraceStatus = "Completed"
	TraceFailed    TraceStatus = "Failed"
	TraceCancelled TraceStatus = "Cancelled"
)

// StepTrace is one step's contribution to an ExecutionTrace.
type StepTrace struct {
	StepID      string      `json:"step_id"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	DurationS   *float64    `json:"duration_secs,omitempty"`
	Status      TraceStatus `json:"status"`
	Attempt     int         `json:"attempt"`
	Error       string      `json:"error,omitempty"`
}

// BottleneckInfo names the slowest step of one run's trace.
type BottleneckInfo struct {
	StepID             string  `json:"step_id"`
	DurationS          float64 `json:"duration_secs"`
	PercentageOfTotal  float64 `json:"percentage_of_total"`
}

// ExecutionTrace is the per-run timeline analytics observes.
type ExecutionTrace struct {
	RunID       string          `json:"run_id"`
	WorkflowID  string          `json:"workflow_id"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationS   *float64        `json:"duration_secs,omitempty"`
	Status      TraceStatus     `json:"status"`
	Steps       []*StepTrace    `json:"steps"`
	Bottleneck  *BottleneckInfo `json:"bottleneck,omitempty"`
}

// BottleneckStep is one row of a workflow-wide bottleneck report.
type BottleneckStep struct {
	StepID              string  `json:"step_id"`
	AvgDurationS        float64 `json:"avg_duration_secs"`
	PercentageOfWorkflow float64 `json:"percentage_of_workflow"`
	ExecutionCount      uint64  `json:"execution_count"`
}

// BottleneckReport ranks a workflow's steps by average duration.
type BottleneckReport struct {
	WorkflowID      string           `json:"workflow_id"`
	TotalExecutions uint64           `json:"total_executions"`
	AvgDurationS    float64          `json:"avg_duration_secs"`
	Bottlenecks     []BottleneckStep `json:"bottlenecks"`
}

// Tracker is the concurrency-safe aggregator. It satisfies the
// workflow.Analytics seam so the workflow executor can push observations
// without importing this package directly.
type Tracker struct {
	now func() time.Time

	mu        sync.Mutex
	workflows map[string]*WorkflowStats
	steps     map[string]*StepStats
	traces    map[string]*ExecutionTrace
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		now:       time.Now,
		workflows: make(map[string]*WorkflowStats),
		steps:     make(map[string]*StepStats),
		traces:    make(map[string]*ExecutionTrace),
	}
}

// SetClock overrides the tracker's time source. Test-only seam.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// StartWorkflow begins a new execution trace for runID.
func (t *Tracker) StartWorkflow(runID, workflowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.traces[runID] = &ExecutionTrace{
		RunID:      runID,
		WorkflowID: workflowID,
		StartedAt:  t.now(),
		Status:     TraceRunning,
	}
}

// StartStep records the start of attempt for stepID within runID's trace.
func (t *Tracker) StartStep(runID, stepID string, attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	trace, ok := t.traces[runID]
	if !ok {
		return
	}
	trace.Steps = append(trace.Steps, &StepTrace{
		StepID:    stepID,
		StartedAt: t.now(),
		Status:    TraceRunning,
		Attempt:   attempt,
	})
}

// CompleteStep closes out the most recent open StepTrace for stepID and
// folds its duration into the step's running StepStats.
func (t *Tracker) CompleteStep(runID, stepID string, success bool, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	trace, ok := t.traces[runID]
	if !ok {
		return
	}
	var step *StepTrace
	for i := len(trace.Steps) - 1; i >= 0; i-- {
		if trace.Steps[i].StepID == stepID && trace.Steps[i].CompletedAt == nil {
			step = trace.Steps[i]
			break
		}
	}
	if step == nil {
		return
	}

	now := t.now()
	duration := now.Sub(step.StartedAt).Seconds()
	step.CompletedAt = &now
	step.DurationS = &duration
	step.Error = errMsg
	if success {
		step.Status = TraceCompleted
	} else {
		step.Status = TraceFailed
	}

	s, ok := t.steps[stepID]
	if !ok {
		s = &StepStats{StepID: stepID, MinDurationS: duration, MaxDurationS: duration}
		t.steps[stepID] = s
	}
	s.ExecutionCount++
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	if step.Attempt > 1 {
		s.RetryCount++
	}
	s.TotalDurationS += duration
	if s.ExecutionCount == 1 || duration < s.MinDurationS {
		s.MinDurationS = duration
	}
	if duration > s.MaxDurationS {
		s.MaxDurationS = duration
	}
	s.AvgDurationS = s.TotalDurationS / float64(s.ExecutionCount)

	s.durations = append(s.durations, duration)
	sort.Float64s(s.durations)
	p50 := percentileAt(s.durations, 0.50)
	p95 := percentileAt(s.durations, 0.95)
	p99 := percentileAt(s.durations, 0.99)
	s.P50DurationS = &p50
	s.P95DurationS = &p95
	s.P99DurationS = &p99
}

// percentileAt returns the value at index ceil(n*p), clamped to n-1, of
// the ascending-sorted sequence.
func percentileAt(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n) * p))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// CompleteWorkflow closes runID's trace, folds its duration into the
// workflow's running WorkflowStats, and detects the run's bottleneck
// step (the one with the largest share of total duration).
func (t *Tracker) CompleteWorkflow(runID string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	trace, ok := t.traces[runID]
	if !ok {
		return
	}
	now := t.now()
	duration := now.Sub(trace.StartedAt).Seconds()
	trace.CompletedAt = &now
	trace.DurationS = &duration
	if success {
		trace.Status = TraceCompleted
	} else {
		trace.Status = TraceFailed
	}

	var slowest *StepTrace
	for _, step := range trace.Steps {
		if step.DurationS == nil {
			continue
		}
		if slowest == nil || *step.DurationS > *slowest.DurationS {
			slowest = step
		}
	}
	if slowest != nil && duration > 0 {
		trace.Bottleneck = &BottleneckInfo{
			StepID:            slowest.StepID,
			DurationS:         *slowest.DurationS,
			PercentageOfTotal: (*slowest.DurationS / duration) * 100,
		}
	}

	s, ok := t.workflows[trace.WorkflowID]
	if !ok {
		s = &WorkflowStats{WorkflowID: trace.WorkflowID, MinDurationS: duration, MaxDurationS: duration}
		t.workflows[trace.WorkflowID] = s
	}
	s.ExecutionCount++
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	s.TotalDurationS += duration
	if s.ExecutionCount == 1 || duration < s.MinDurationS {
		s.MinDurationS = duration
	}
	if duration > s.MaxDurationS {
		s.MaxDurationS = duration
	}
	s.AvgDurationS = s.TotalDurationS / float64(s.ExecutionCount)
	s.LastExecution = &now
}

// Cancel marks an in-flight trace as cancelled without folding it into
// the completed-workflow statistics.
func (t *Tracker) Cancel(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if trace, ok := t.traces[runID]; ok {
		now := t.now()
		trace.CompletedAt = &now
		trace.Status = TraceCancelled
	}
}

// WorkflowStats returns the aggregate for workflowID, or (zero, false).
func (t *Tracker) WorkflowStats(workflowID string) (WorkflowStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.workflows[workflowID]
	if !ok {
		return WorkflowStats{}, false
	}
	return *s, true
}

// AllWorkflowStats returns every workflow's aggregate.
func (t *Tracker) AllWorkflowStats() []WorkflowStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]WorkflowStats, 0, len(t.workflows))
	for _, s := range t.workflows {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out
}

// StepStats returns the aggregate for stepID, or (zero, false).
func (t *Tracker) StepStats(stepID string) (StepStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.steps[stepID]
	if !ok {
		return StepStats{}, false
	}
	cp := *s
	cp.durations = nil
	return cp, true
}

// AllStepStats returns every step's aggregate.
func (t *Tracker) AllStepStats() []StepStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StepStats, 0, len(t.steps))
	for _, s := range t.steps {
		cp := *s
		cp.durations = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out
}

// Trace returns the execution trace for runID, or (zero, false).
func (t *Tracker) Trace(runID string) (ExecutionTrace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traces[runID]
	if !ok {
		return ExecutionTrace{}, false
	}
	return *tr, true
}

// Bottleneck returns the detected bottleneck of runID's trace, if any.
func (t *Tracker) Bottleneck(runID string) (BottleneckInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traces[runID]
	if !ok || tr.Bottleneck == nil {
		return BottleneckInfo{}, false
	}
	return *tr.Bottleneck, true
}

// WorkflowBottlenecks aggregates every completed trace for workflowID
// into a per-step average-duration ranking.
func (t *Tracker) WorkflowBottlenecks(workflowID string) BottleneckReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	totalDur := map[string]float64{}
	count := map[string]uint64{}
	var workflowTotal float64
	var executions uint64

	for _, tr := range t.traces {
		if tr.WorkflowID != workflowID || tr.DurationS == nil {
			continue
		}
		executions++
		workflowTotal += *tr.DurationS
		for _, step := range tr.Steps {
			if step.DurationS == nil {
				continue
			}
			totalDur[step.StepID] += *step.DurationS
			count[step.StepID]++
		}
	}

	report := BottleneckReport{WorkflowID: workflowID, TotalExecutions: executions}
	if executions > 0 {
		report.AvgDurationS = workflowTotal / float64(executions)
	}
	for stepID, total := range totalDur {
		avg := total / float64(count[stepID])
		pct := 0.0
		if report.AvgDurationS > 0 {
			pct = (avg / report.AvgDurationS) * 100
		}
		report.Bottlenecks = append(report.Bottlenecks, BottleneckStep{
			StepID:               stepID,
			AvgDurationS:         avg,
			PercentageOfWorkflow: pct,
			ExecutionCount:       count[stepID],
		})
	}
	sort.Slice(report.Bottlenecks, func(i, j int) bool {
		return report.Bottlenecks[i].AvgDurationS > report.Bottlenecks[j].AvgDurationS
	})
	return report
}
