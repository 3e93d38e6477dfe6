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

package routine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shiioo-io/controlplane/internal/runindex"
	"github.com/shiioo-io/controlplane/internal/workflowspec"
)

type fakeExecutor struct {
	calls int32
	run   *runindex.Run
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, workItemID string, spec workflowspec.WorkflowSpec) (*runindex.Run, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.run, f.err
}

// gatedWait releases one loop iteration each time release is signalled,
// letting tests drive the scheduler's fire cadence deterministically
// instead of racing real or instant timers.
func gatedWait(release <-chan struct{}) func(ctx context.Context, d time.Duration) bool {
	return func(ctx context.Context, d time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-release:
			return true
		}
	}
}

func TestRegisterRejectsInvalidCron(t *testing.T) {
	exec := &fakeExecutor{}
	s := New(exec, nil)
	_, err := s.Register(Routine{Schedule: Schedule{Cron: "not a cron"}})
	require.Error(t, err)
}

func TestEnabledRoutineFiresAndRecordsHistory(t *testing.T) {
	exec := &fakeExecutor{run: &runindex.Run{ID: "run-1", Status: runindex.Completed}}
	s := New(exec, nil)
	release := make(chan struct{}, 4)
	s.SetWait(gatedWait(release))

	r, err := s.Register(Routine{
		Schedule: Schedule{Cron: "* * * * *"},
		Workflow: workflowspec.WorkflowSpec{Name: "wf"},
		Enabled:  true,
	})
	require.NoError(t, err)

	release <- struct{}{}
	require.Eventually(t, func() bool {
		return len(s.Executions(r.ID)) > 0
	}, time.Second, 5*time.Millisecond)

	execs := s.Executions(r.ID)
	require.Equal(t, ExecutionSuccess, execs[0].Status)
	require.Equal(t, "run-1", execs[0].RunID)

	got, ok := s.Get(r.ID)
	require.True(t, ok)
	require.NotNil(t, got.LastRun)

	s.Unregister(r.ID)
}

func TestDisableStopsFurtherFires(t *testing.T) {
	exec := &fakeExecutor{run: &runindex.Run{ID: "run-1", Status: runindex.Completed}}
	s := New(exec, nil)
	release := make(chan struct{}, 4)
	s.SetWait(gatedWait(release))

	r, err := s.Register(Routine{
		Schedule: Schedule{Cron: "* * * * *"},
		Workflow: workflowspec.WorkflowSpec{Name: "wf"},
		Enabled:  true,
	})
	require.NoError(t, err)

	release <- struct{}{}
	require.Eventually(t, func() bool {
		return len(s.Executions(r.ID)) > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Disable(r.ID))

	countAfterDisable := len(s.Executions(r.ID))
	// Signal another release; a stopped task must not consume it.
	select {
	case release <- struct{}{}:
	default:
	}
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, countAfterDisable, len(s.Executions(r.ID)))

	got, ok := s.Get(r.ID)
	require.True(t, ok)
	require.False(t, got.Enabled)
}

func TestExecutionFailureRecordedWhenRunNotCompleted(t *testing.T) {
	exec := &fakeExecutor{run: &runindex.Run{ID: "run-2", Status: runindex.Failed}}
	s := New(exec, nil)
	release := make(chan struct{}, 4)
	s.SetWait(gatedWait(release))

	r, err := s.Register(Routine{
		Schedule: Schedule{Cron: "* * * * *"},
		Workflow: workflowspec.WorkflowSpec{Name: "wf"},
		Enabled:  true,
	})
	require.NoError(t, err)

	release <- struct{}{}
	require.Eventually(t, func() bool {
		return len(s.Executions(r.ID)) > 0
	}, time.Second, 5*time.Millisecond)

	s.Unregister(r.ID)
	execs := s.Executions(r.ID)
	require.Equal(t, ExecutionFailed, execs[0].Status)
}
