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

// Package workflow is the run lifecycle: it builds the DAG, drives the
// step executor in topological order, fails fast on the first
// non-retried step failure, marks transitively-dependent steps skipped,
// and honors cooperative cancellation between steps.
package workflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shiioo-io/controlplane/internal/dag"
	"github.com/shiioo-io/controlplane/internal/eventlog"
	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/shiioo-io/controlplane/internal/metrics"
	"github.com/shiioo-io/controlplane/internal/runindex"
	"github.com/shiioo-io/controlplane/internal/stepexec"
	"github.com/shiioo-io/controlplane/internal/workflowspec"
	"github.com/shiioo-io/controlplane/shared/logger"
)

// Analytics is the subset of internal/analytics the executor pushes
// observations to. Kept as an interface so workflow does not import
// analytics directly (analytics instead depends on workflow's output
// shape via this seam).
type Analytics interface {
	StartWorkflow(runID, workflowName string)
	StartStep(runID, stepID string, attempt int)
	CompleteStep(runID, stepID string, success bool, errMsg string)
	CompleteWorkflow(runID string, success bool)
}

// MultiAnalytics fans each observation out to every sink in order.
func MultiAnalytics(sinks ...Analytics) Analytics { return multiAnalytics(sinks) }

type multiAnalytics []Analytics

func (m multiAnalytics) StartWorkflow(runID, name string) {
	for _, s := range m {
		s.StartWorkflow(runID, name)
	}
}

func (m multiAnalytics) StartStep(runID, stepID string, attempt int) {
	for _, s := range m {
		s.StartStep(runID, stepID, attempt)
	}
}

func (m multiAnalytics) CompleteStep(runID, stepID string, success bool, errMsg string) {
	for _, s := range m {
		s.CompleteStep(runID, stepID, success, errMsg)
	}
}

func (m multiAnalytics) CompleteWorkflow(runID string, success bool) {
	for _, s := range m {
		s.CompleteWorkflow(runID, success)
	}
}

type noopAnalytics struct{}

func (noopAnalytics) StartWorkflow(string, string)                 {}
func (noopAnalytics) StartStep(string, string, int)                {}
func (noopAnalytics) CompleteStep(string, string, bool, string)     {}
func (noopAnalytics) CompleteWorkflow(string, bool)                 {}

// Executor drives run lifecycles.
type Executor struct {
	steps   *stepexec.Executor
	events  *eventlog.Log
	index   *runindex.Index
	log     *logger.Logger
	an      Analytics
	metrics *metrics.Registry

	mu        sync.Mutex
	cancelled map[string]bool
}

// New builds a workflow Executor. an may be nil to use a no-op.
func New(steps *stepexec.Executor, events *eventlog.Log, index *runindex.Index, log *logger.Logger, an Analytics) *Executor {
	if an == nil {
		an = noopAnalytics{}
	}
	return &Executor{steps: steps, events: events, index: index, log: log, an: an, cancelled: make(map[string]bool)}
}

// SetMetrics registers reg to receive run/step counters and duration
// observations. A nil registry disables them.
func (e *Executor) SetMetrics(reg *metrics.Registry) { e.metrics = reg }

func (e *Executor) observeStep(stepID, status string, seconds float64) {
	if e.metrics == nil {
		return
	}
	e.metrics.IncCounter("workflow_steps_total", map[string]string{"status": status}, 1)
	e.metrics.Observe("workflow_step_duration_seconds", nil, seconds)
}

func (e *Executor) observeRun(status string, seconds float64) {
	if e.metrics == nil {
		return
	}
	e.metrics.IncCounter("workflow_runs_total", map[string]string{"status": status}, 1)
	e.metrics.Observe("workflow_run_duration_seconds", nil, seconds)
}

func (e *Executor) emit(runID string, typ eventlog.EventType, data map[string]interface{}) {
	_ = e.events.Append(eventlog.Event{
		ID: ids.New(), RunID: runID, Timestamp: time.Now().UTC(), Type: typ, Data: data,
	})
}

// Cancel publishes a cancellation signal for runID, checked between
// steps. In-flight step attempts run to completion.
func (e *Executor) Cancel(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled[runID] = true
}

func (e *Executor) isCancelled(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[runID]
}

func (e *Executor) clearCancel(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancelled, runID)
}

// Execute runs workflow to completion (or failure/cancellation) and
// returns the terminal run record.
func (e *Executor) Execute(ctx context.Context, workItemID string, workflowSpec workflowspec.WorkflowSpec) (*runindex.Run, error) {
	runID := ids.New()
	defer e.clearCancel(runID)

	graph, err := dag.FromWorkflow(workflowSpec)
	if err != nil {
		run := &runindex.Run{ID: runID, WorkItemID: workItemID, Status: runindex.Failed, StartedAt: time.Now().UTC()}
		now := time.Now().UTC()
		run.CompletedAt = &now
		_ = e.index.Put(run)
		return run, err
	}

	startedAt := time.Now().UTC()
	run := &runindex.Run{ID: runID, WorkItemID: workItemID, Status: runindex.Running, StartedAt: startedAt}
	for _, id := range workflowSpec.StepIDs() {
		run.Steps = append(run.Steps, runindex.StepExecution{ID: id, Status: runindex.Pending})
	}
	if err := e.index.Put(run); err != nil {
		return nil, err
	}

	e.emit(runID, eventlog.RunStarted, map[string]interface{}{"work_item_id": workItemID, "workflow": workflowSpec.Name})
	e.an.StartWorkflow(runID, workflowSpec.Name)

	order := graph.TopologicalOrder()
	for _, id := range order {
		e.emit(runID, eventlog.StepScheduled, map[string]interface{}{"step_id": id})
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	success := true

	for _, id := range order {
		if e.isCancelled(runID) {
			e.emit(runID, eventlog.RunCancelled, nil)
			run.Status = runindex.Cancelled
			success = false
			break
		}

		dependencyFailed := false
		for _, dep := range graph.Dependencies(id) {
			if failed[dep] {
				dependencyFailed = true
				break
			}
		}
		if dependencyFailed {
			e.emit(runID, eventlog.StepSkipped, map[string]interface{}{"step_id": id, "reason": "dependency_failed"})
			_ = e.index.UpdateStep(runID, runindex.StepExecution{ID: id, Status: runindex.Skipped})
			failed[id] = true
			continue
		}

		step, _ := workflowSpec.StepByID(id)
		attemptStart := time.Now().UTC()
		e.an.StartStep(runID, id, 1)
		_ = e.index.UpdateStep(runID, runindex.StepExecution{ID: id, Status: runindex.Running, StartedAt: &attemptStart})

		result := e.steps.Execute(ctx, runID, step)
		completedAt := time.Now().UTC()

		if result.Status == "Completed" {
			completed[id] = true
			e.an.CompleteStep(runID, id, true, "")
			e.observeStep(id, "completed", completedAt.Sub(attemptStart).Seconds())
			_ = e.index.UpdateStep(runID, runindex.StepExecution{ID: id, Status: runindex.Completed, StartedAt: &attemptStart, CompletedAt: &completedAt})
			continue
		}

		// Fail-fast: the run becomes Failed; steps not yet reached stay
		// Pending rather than Skipped because the engine never got to them.
		failed[id] = true
		success = false
		e.an.CompleteStep(runID, id, false, result.Error)
		e.observeStep(id, "failed", completedAt.Sub(attemptStart).Seconds())
		_ = e.index.UpdateStep(runID, runindex.StepExecution{ID: id, Status: runindex.Failed, StartedAt: &attemptStart, CompletedAt: &completedAt, Error: result.Error})
		run.Status = runindex.Failed
		break
	}

	now := time.Now().UTC()
	if success {
		run.Status = runindex.Completed
		e.emit(runID, eventlog.RunCompleted, map[string]interface{}{"duration_secs": now.Sub(startedAt).Seconds()})
	} else if run.Status != runindex.Cancelled {
		run.Status = runindex.Failed
		e.emit(runID, eventlog.RunFailed, nil)
	}
	run.CompletedAt = &now
	if err := e.index.UpdateStatus(runID, run.Status, &now); err != nil {
		return nil, err
	}
	e.an.CompleteWorkflow(runID, success)
	e.observeRun(strings.ToLower(string(run.Status)), now.Sub(startedAt).Seconds())

	return run, nil
}
