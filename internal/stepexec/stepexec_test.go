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

package stepexec

import (
	"context"
	"testing"
	"time"

	"github.com/shiioo-io/controlplane/internal/blobstore"
	"github.com/shiioo-io/controlplane/internal/capacity"
	"github.com/shiioo-io/controlplane/internal/eventlog"
	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/shiioo-io/controlplane/internal/workflowspec"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	text string
	err  error
}

func (p scriptedProvider) Call(context.Context, capacity.Source, string, int) (string, int, int, error) {
	return p.text, 10, 5, p.err
}

func newTestExecutor(t *testing.T, broker *capacity.Broker) *Executor {
	blobs, err := blobstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	events, err := eventlog.New(t.TempDir(), nil)
	require.NoError(t, err)
	return New(blobs, events, broker, nil, nil, nil, nil)
}

func TestAgentTaskSuccessEmitsArtifact(t *testing.T) {
	broker := capacity.New(scriptedProvider{text: "the answer"}, nil)
	broker.RegisterSource(capacity.Source{ID: "src", Priority: 1, Enabled: true, RateLimits: capacity.RateLimits{RPM: 60, TPM: 10000}})
	e := newTestExecutor(t, broker)

	step := workflowspec.StepSpec{ID: "s1", Action: workflowspec.Action{Kind: workflowspec.ActionAgentTask, Prompt: "hi"}}
	result := e.Execute(context.Background(), ids.New(), step)

	require.Equal(t, "Completed", result.Status)
	require.Len(t, result.Artifacts, 1)
}

func TestRetryExhaustionAttemptsAndTiming(t *testing.T) {
	broker := capacity.New(scriptedProvider{err: &capacity.RateLimitedError{}}, nil)
	broker.RegisterSource(capacity.Source{ID: "src", Priority: 1, Enabled: true, RateLimits: capacity.RateLimits{RPM: 60, TPM: 10000}})
	e := newTestExecutor(t, broker)

	var sleeps []time.Duration
	e.SetSleep(func(d time.Duration) { sleeps = append(sleeps, d) })

	step := workflowspec.StepSpec{
		ID:          "s1",
		Action:      workflowspec.Action{Kind: workflowspec.ActionAgentTask, Prompt: "hi"},
		RetryPolicy: &workflowspec.RetryPolicy{MaxAttempts: 3, BackoffSecs: 1},
	}
	result := e.Execute(context.Background(), ids.New(), step)

	require.Equal(t, "Failed", result.Status)
	require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, sleeps)
}

func TestTimeoutFailsAttempt(t *testing.T) {
	broker := capacity.New(scriptedProvider{}, nil)
	e := newTestExecutor(t, broker)

	timeout := 0
	step := workflowspec.StepSpec{
		ID:          "s1",
		TimeoutSecs: &timeout,
		Action:      workflowspec.Action{Kind: workflowspec.ActionScript, Command: "sleep"},
	}
	result := e.Execute(context.Background(), ids.New(), step)
	require.Equal(t, "Failed", result.Status)
}

func TestToolSequenceUsesToolRunner(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	events, err := eventlog.New(t.TempDir(), nil)
	require.NoError(t, err)

	tools := stubToolRunner{output: "tool output"}
	e := New(blobs, events, nil, tools, nil, nil, nil)

	step := workflowspec.StepSpec{ID: "s1", Action: workflowspec.Action{Kind: workflowspec.ActionToolSequence, Tools: []string{"search"}}}
	result := e.Execute(context.Background(), ids.New(), step)

	require.Equal(t, "Completed", result.Status)
	require.Equal(t, "tool output", result.Output)
}

type stubToolRunner struct{ output string }

func (s stubToolRunner) RunTools(context.Context, []string) (string, error) { return s.output, nil }

type stubApprovalWaiter struct {
	approve   bool
	approvers []string
}

func (s *stubApprovalWaiter) WaitForApproval(_ context.Context, approvers []string, _, _ string) (bool, error) {
	s.approvers = approvers
	return s.approve, nil
}

func TestRequiresApprovalGatesAction(t *testing.T) {
	blobs, err := blobstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	events, err := eventlog.New(t.TempDir(), nil)
	require.NoError(t, err)

	step := workflowspec.StepSpec{
		ID:               "s1",
		Role:             "reviewer",
		RequiresApproval: true,
		Action:           workflowspec.Action{Kind: workflowspec.ActionToolSequence, Tools: []string{"search"}},
	}

	waiter := &stubApprovalWaiter{approve: true}
	e := New(blobs, events, nil, stubToolRunner{output: "ok"}, nil, waiter, nil)
	result := e.Execute(context.Background(), ids.New(), step)
	require.Equal(t, "Completed", result.Status)
	// No approver list on the action, so the step's role is the roster.
	require.Equal(t, []string{"reviewer"}, waiter.approvers)

	waiter = &stubApprovalWaiter{approve: false}
	e = New(blobs, events, nil, stubToolRunner{output: "ok"}, nil, waiter, nil)
	result = e.Execute(context.Background(), ids.New(), step)
	require.Equal(t, "Failed", result.Status)
	require.Equal(t, "step approval rejected", result.Error)
}
