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

// Package stepexec executes one workflow step: it emits the
// started/completed/failed events, enforces the per-step timeout, and
// retries with exponential backoff. The retry path is a loop rather than
// recursion so attempt counts cannot grow the stack.
package stepexec

import (
	"context"
	"time"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/blobstore"
	"github.com/shiioo-io/controlplane/internal/capacity"
	"github.com/shiioo-io/controlplane/internal/eventlog"
	"github.com/shiioo-io/controlplane/internal/workflowspec"
	"github.com/shiioo-io/controlplane/shared/logger"
)

// ToolRunner executes a ToolSequence action.
type ToolRunner interface {
	RunTools(ctx context.Context, tools []string) (output string, err error)
}

// ScriptRunner executes a Script action.
type ScriptRunner interface {
	RunScript(ctx context.Context, command string, args []string) (output string, err error)
}

// ApprovalWaiter blocks until a step's linked approval resolves (a
// ManualApproval action, or the requires_approval gate on any step),
// returning whether it was approved.
type ApprovalWaiter interface {
	WaitForApproval(ctx context.Context, approvers []string, runID, stepID string) (approved bool, err error)
}

// Result is what a step attempt produced.
type Result struct {
	Status    string // "Completed" or "Failed"
	Output    string
	Artifacts []string
	Error     string
}

// Executor runs one step to completion, including retries.
type Executor struct {
	blobs      *blobstore.Store
	events     *eventlog.Log
	broker     *capacity.Broker
	tools      ToolRunner
	scripts    ScriptRunner
	approvals  ApprovalWaiter
	log        *logger.Logger
	sleep      func(time.Duration)
}

// New builds an Executor. Any of tools/scripts/approvals may be nil if
// the workflow never uses that action kind.
func New(blobs *blobstore.Store, events *eventlog.Log, broker *capacity.Broker, tools ToolRunner, scripts ScriptRunner, approvals ApprovalWaiter, log *logger.Logger) *Executor {
	return &Executor{
		blobs: blobs, events: events, broker: broker,
		tools: tools, scripts: scripts, approvals: approvals,
		log: log, sleep: time.Sleep,
	}
}

// SetSleep overrides the backoff sleep function. Test-only seam.
func (e *Executor) SetSleep(fn func(time.Duration)) { e.sleep = fn }

func (e *Executor) emit(runID string, typ eventlog.EventType, data map[string]interface{}) {
	_ = e.events.Append(eventlog.Event{
		ID: runID + "-" + string(typ) + "-" + time.Now().UTC().Format(time.RFC3339Nano),
		RunID: runID, Timestamp: time.Now().UTC(), Type: typ, Data: data,
	})
}

// Execute runs step for runID until it either completes, exhausts
// retries, or its timeout fires on a non-retried attempt.
func (e *Executor) Execute(ctx context.Context, runID string, step workflowspec.StepSpec) Result {
	maxAttempts := 1
	backoffSecs := 0
	if step.RetryPolicy != nil {
		maxAttempts = step.RetryPolicy.MaxAttempts
		backoffSecs = step.RetryPolicy.BackoffSecs
	}

	for attempt := 1; ; attempt++ {
		e.emit(runID, eventlog.StepStarted, map[string]interface{}{"step_id": step.ID, "attempt": attempt})

		result := e.runOnce(ctx, runID, step)

		if result.Status == "Completed" {
			e.emit(runID, eventlog.StepCompleted, map[string]interface{}{"step_id": step.ID, "attempt": attempt})
			for _, a := range result.Artifacts {
				e.emit(runID, eventlog.ArtifactProduced, map[string]interface{}{"step_id": step.ID, "blob_hash": a})
			}
			return result
		}

		willRetry := attempt < maxAttempts
		e.emit(runID, eventlog.StepFailed, map[string]interface{}{"step_id": step.ID, "attempt": attempt, "error": result.Error, "will_retry": willRetry})

		if !willRetry {
			return result
		}

		backoff := time.Duration(backoffSecs) * time.Second * time.Duration(1<<uint(attempt-1))
		e.sleep(backoff)
	}
}

func (e *Executor) runOnce(ctx context.Context, runID string, step workflowspec.StepSpec) Result {
	runCtx := ctx
	var cancel context.CancelFunc
	if step.TimeoutSecs != nil {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(*step.TimeoutSecs)*time.Second)
		defer cancel()
	}

	done := make(chan Result, 1)
	go func() {
		done <- e.runAction(runCtx, runID, step)
	}()

	select {
	case r := <-done:
		return r
	case <-runCtx.Done():
		if step.TimeoutSecs != nil {
			return Result{Status: "Failed", Error: apierr.Newf(apierr.Timeout, "step timed out after %ds", *step.TimeoutSecs).Error()}
		}
		return Result{Status: "Failed", Error: apierr.New(apierr.Cancelled, "step cancelled").Error()}
	}
}

func (e *Executor) runAction(ctx context.Context, runID string, step workflowspec.StepSpec) Result {
	// A step flagged requires_approval is gated on an approval vote before
	// its action runs. ManualApproval actions skip the pre-gate: the vote
	// IS their action.
	if step.RequiresApproval && step.Action.Kind != workflowspec.ActionManualApproval {
		if e.approvals == nil {
			return Result{Status: "Failed", Error: "step requires approval but no approval waiter configured"}
		}
		approvers := step.Action.Approvers
		if len(approvers) == 0 && step.Role != "" {
			approvers = []string{step.Role}
		}
		e.emit(runID, eventlog.ApprovalRequested, map[string]interface{}{"step_id": step.ID, "approvers": approvers})
		approved, err := e.approvals.WaitForApproval(ctx, approvers, runID, step.ID)
		if err != nil {
			return Result{Status: "Failed", Error: err.Error()}
		}
		if !approved {
			e.emit(runID, eventlog.ApprovalRejected, map[string]interface{}{"step_id": step.ID})
			return Result{Status: "Failed", Error: "step approval rejected"}
		}
		e.emit(runID, eventlog.ApprovalGranted, map[string]interface{}{"step_id": step.ID})
	}

	switch step.Action.Kind {
	case workflowspec.ActionAgentTask:
		return e.runAgentTask(ctx, runID, step)
	case workflowspec.ActionToolSequence:
		if e.tools == nil {
			return Result{Status: "Failed", Error: "no tool runner configured"}
		}
		for _, tool := range step.Action.Tools {
			e.emit(runID, eventlog.ToolCallProposed, map[string]interface{}{"step_id": step.ID, "tool": tool})
		}
		out, err := e.tools.RunTools(ctx, step.Action.Tools)
		if err != nil {
			return Result{Status: "Failed", Error: err.Error()}
		}
		for _, tool := range step.Action.Tools {
			e.emit(runID, eventlog.ToolCallExecuted, map[string]interface{}{"step_id": step.ID, "tool": tool})
		}
		return Result{Status: "Completed", Output: out}
	case workflowspec.ActionScript:
		if e.scripts == nil {
			return Result{Status: "Failed", Error: "no script runner configured"}
		}
		out, err := e.scripts.RunScript(ctx, step.Action.Command, step.Action.Args)
		if err != nil {
			return Result{Status: "Failed", Error: err.Error()}
		}
		return Result{Status: "Completed", Output: out}
	case workflowspec.ActionManualApproval:
		if e.approvals == nil {
			return Result{Status: "Failed", Error: "no approval waiter configured"}
		}
		e.emit(runID, eventlog.ApprovalRequested, map[string]interface{}{"step_id": step.ID, "approvers": step.Action.Approvers})
		approved, err := e.approvals.WaitForApproval(ctx, step.Action.Approvers, runID, step.ID)
		if err != nil {
			return Result{Status: "Failed", Error: err.Error()}
		}
		if !approved {
			e.emit(runID, eventlog.ApprovalRejected, map[string]interface{}{"step_id": step.ID})
			return Result{Status: "Failed", Error: "manual approval rejected"}
		}
		e.emit(runID, eventlog.ApprovalGranted, map[string]interface{}{"step_id": step.ID})
		return Result{Status: "Completed"}
	default:
		return Result{Status: "Failed", Error: "unknown action kind"}
	}
}

// runAgentTask is the common agent path: store the prompt as a blob,
// emit AgentMessage{to_agent}, call the provider via the capacity broker,
// store the response as a blob, emit AgentMessage{from_agent}, expose the
// response as an artifact.
func (e *Executor) runAgentTask(ctx context.Context, runID string, step workflowspec.StepSpec) Result {
	promptHash, err := e.blobs.Put([]byte(step.Action.Prompt))
	if err != nil {
		return Result{Status: "Failed", Error: err.Error()}
	}
	e.emit(runID, eventlog.AgentMessage, map[string]interface{}{"step_id": step.ID, "direction": "to_agent", "content_hash": promptHash})

	maxTokens := 2048
	text, usage, err := e.broker.ExecuteRequest(ctx, capacity.PriorityRequest{
		RunID: runID, StepID: step.ID, Role: step.Role, Prompt: step.Action.Prompt, MaxTokens: maxTokens,
	})
	if err != nil {
		if ae, ok := apierr.As(err); ok && ae.Kind == apierr.RateLimited {
			e.emit(runID, eventlog.CapacitySourceThrottled, map[string]interface{}{"step_id": step.ID})
		}
		return Result{Status: "Failed", Error: err.Error()}
	}
	e.emit(runID, eventlog.CapacitySourceUsed, map[string]interface{}{
		"step_id": step.ID, "source_id": usage.SourceID,
		"input_tokens": usage.InputTokens, "output_tokens": usage.OutputTokens, "cost": usage.Cost,
	})

	responseHash, err := e.blobs.Put([]byte(text))
	if err != nil {
		return Result{Status: "Failed", Error: err.Error()}
	}
	e.emit(runID, eventlog.AgentMessage, map[string]interface{}{"step_id": step.ID, "direction": "from_agent", "content_hash": responseHash, "tokens": usage.InputTokens + usage.OutputTokens})

	return Result{Status: "Completed", Output: text, Artifacts: []string{responseHash}}
}
