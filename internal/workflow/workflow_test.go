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

package workflow

import (
	"context"
	"testing"

	"github.com/shiioo-io/controlplane/internal/blobstore"
	"github.com/shiioo-io/controlplane/internal/capacity"
	"github.com/shiioo-io/controlplane/internal/eventlog"
	"github.com/shiioo-io/controlplane/internal/runindex"
	"github.com/shiioo-io/controlplane/internal/stepexec"
	"github.com/shiioo-io/controlplane/internal/workflowspec"
	"github.com/stretchr/testify/require"
)

type scriptProvider struct {
	fail map[string]bool
}

func (p scriptProvider) Call(_ context.Context, source capacity.Source, prompt string, maxTokens int) (string, int, int, error) {
	if p.fail[prompt] {
		return "", 0, 0, &capacity.RateLimitedError{}
	}
	return "ok", 5, 5, nil
}

func newTestExecutor(t *testing.T, fail map[string]bool) *Executor {
	blobs, err := blobstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	events, err := eventlog.New(t.TempDir(), nil)
	require.NoError(t, err)
	index, err := runindex.New(t.TempDir())
	require.NoError(t, err)

	broker := capacity.New(scriptProvider{fail: fail}, nil)
	broker.RegisterSource(capacity.Source{ID: "src", Priority: 1, Enabled: true, RateLimits: capacity.RateLimits{RPM: 1000, TPM: 100000}})

	steps := stepexec.New(blobs, events, broker, nil, nil, nil, nil)
	return New(steps, events, index, nil, nil)
}

func linearWorkflow() workflowspec.WorkflowSpec {
	step := func(id string) workflowspec.StepSpec {
		return workflowspec.StepSpec{ID: id, Action: workflowspec.Action{Kind: workflowspec.ActionAgentTask, Prompt: id}}
	}
	return workflowspec.WorkflowSpec{
		Name:  "linear",
		Steps: []workflowspec.StepSpec{step("A"), step("B"), step("C")},
		DepMap: map[string][]string{
			"B": {"A"},
			"C": {"B"},
		},
	}
}

// TestLinearDAGSuccess is the literal S1 scenario.
func TestLinearDAGSuccess(t *testing.T) {
	e := newTestExecutor(t, nil)
	run, err := e.Execute(context.Background(), "work-1", linearWorkflow())
	require.NoError(t, err)
	require.Equal(t, runindex.Completed, run.Status)
	require.NotNil(t, run.CompletedAt)

	events, err := e.events.GetRunEvents(run.ID)
	require.NoError(t, err)
	require.Equal(t, eventlog.RunStarted, events[0].Type)
	require.Equal(t, eventlog.RunCompleted, events[len(events)-1].Type)
}

// TestDiamondWithFailure: B->A, C->A, D->B, D->C; C fails with no retry.
// A and B complete; C fails; the run fails fast, so D is never reached
// and remains Pending.
func TestDiamondWithFailure(t *testing.T) {
	step := func(id string) workflowspec.StepSpec {
		return workflowspec.StepSpec{ID: id, Action: workflowspec.Action{Kind: workflowspec.ActionAgentTask, Prompt: id}}
	}
	wf := workflowspec.WorkflowSpec{
		Name:  "diamond",
		Steps: []workflowspec.StepSpec{step("A"), step("B"), step("C"), step("D")},
		DepMap: map[string][]string{
			"B": {"A"},
			"C": {"A"},
			"D": {"B", "C"},
		},
	}

	e := newTestExecutor(t, map[string]bool{"C": true})
	run, err := e.Execute(context.Background(), "work-2", wf)
	require.NoError(t, err)
	require.Equal(t, runindex.Failed, run.Status)

	byID := map[string]runindex.StepExecution{}
	for _, s := range run.Steps {
		byID[s.ID] = s
	}
	require.Equal(t, runindex.Completed, byID["A"].Status)
	require.Equal(t, runindex.Failed, byID["C"].Status)
	// D was never reached because topo order processes C before D and the
	// executor fails fast on C.
	require.Equal(t, runindex.Pending, byID["D"].Status)
}

func TestCancelSignalIsPerRunAndCleared(t *testing.T) {
	e := newTestExecutor(t, nil)

	e.Cancel("run-x")
	require.True(t, e.isCancelled("run-x"))
	require.False(t, e.isCancelled("run-y"))

	e.clearCancel("run-x")
	require.False(t, e.isCancelled("run-x"))
}

func TestUnknownStepFailsImmediately(t *testing.T) {
	e := newTestExecutor(t, nil)
	wf := workflowspec.WorkflowSpec{
		Name:   "broken",
		Steps:  []workflowspec.StepSpec{{ID: "A"}},
		DepMap: map[string][]string{"A": {"ghost"}},
	}
	run, err := e.Execute(context.Background(), "work-4", wf)
	require.Error(t, err)
	require.Equal(t, runindex.Failed, run.Status)
}
