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

package main

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/approval"
	"github.com/shiioo-io/controlplane/internal/eventlog"
	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/shiioo-io/controlplane/internal/mcp"
	"github.com/shiioo-io/controlplane/internal/runindex"
)

// approvalWaiter adapts an approval.Manager into stepexec.ApprovalWaiter: a
// ManualApproval step action blocks on an ad hoc board built from the
// step's approver list, polling until a quorum resolves the vote or the
// step's context is cancelled.
type approvalWaiter struct {
	approvals *approval.Manager
	poll      time.Duration
}

func newApprovalWaiter(approvals *approval.Manager) *approvalWaiter {
	return &approvalWaiter{approvals: approvals, poll: time.Second}
}

func (w *approvalWaiter) WaitForApproval(ctx context.Context, approvers []string, runID, stepID string) (bool, error) {
	boardID := fmt.Sprintf("step-%s-%s", runID, stepID)
	w.approvals.CreateBoard(approval.Board{
		ID:     boardID,
		Name:   boardID,
		Voters: approvers,
		Quorum: approval.Quorum{Kind: approval.Majority},
	})

	a, err := w.approvals.CreateApproval(ids.New(), boardID, fmt.Sprintf("run %s step %s", runID, stepID))
	if err != nil {
		return false, err
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
			current, ok := w.approvals.Get(a.ID)
			if !ok {
				return false, apierr.New(apierr.NotFound, "approval vanished while waiting")
			}
			switch current.Status {
			case approval.Approved:
				return true, nil
			case approval.Denied:
				return false, nil
			}
		}
	}
}

// scriptRunner executes a Script step action as a local subprocess. The
// boot wiring always installs it, so any submitted workflow can run
// arbitrary commands with the control plane's own privileges.
type scriptRunner struct{}

func (scriptRunner) RunScript(ctx context.Context, command string, args []string) (string, error) {
	out, err := exec.CommandContext(ctx, command, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("script %s failed: %w", command, err)
	}
	return string(out), nil
}

// mcpRunLister adapts runindex.Index into mcp.RunLister, projecting each
// Run down to the fields the list_runs tool exposes.
type mcpRunLister struct{ index *runindex.Index }

func (a mcpRunLister) ListRuns() []mcp.RunSummary {
	runs := a.index.ListRuns()
	out := make([]mcp.RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, mcp.RunSummary{
			ID:         r.ID,
			WorkItemID: r.WorkItemID,
			Status:     string(r.Status),
			StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// mcpEventReader adapts eventlog.Log into mcp.EventReader, projecting each
// Event down to the fields the get_run_events tool exposes.
type mcpEventReader struct{ events *eventlog.Log }

func (a mcpEventReader) GetRunEvents(runID string) ([]mcp.EventSummary, error) {
	events, err := a.events.GetRunEvents(runID)
	if err != nil {
		return nil, err
	}
	out := make([]mcp.EventSummary, 0, len(events))
	for _, e := range events {
		out = append(out, mcp.EventSummary{
			ID:        e.ID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// newMCPRegistry builds the tool registry bound to the running instance's
// run index and event log: enough to let an MCP client inspect workflow
// runs over stdio.
func newMCPRegistry(index *runindex.Index, events *eventlog.Log) *mcp.Registry {
	registry := mcp.NewRegistry()
	registry.Register(&mcp.ListRunsTool{Runs: mcpRunLister{index: index}})
	registry.Register(&mcp.GetRunEventsTool{Events: mcpEventReader{events: events}})
	return registry
}
