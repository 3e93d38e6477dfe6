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

package runindex

import (
	"testing"
	"time"

	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/stretchr/testify/require"
)

func TestPutGetAndListSortedDescending(t *testing.T) {
	idx, err := New(t.TempDir())
	require.NoError(t, err)

	older := &Run{ID: ids.New(), Status: Running, StartedAt: time.Now().Add(-time.Hour)}
	newer := &Run{ID: ids.New(), Status: Running, StartedAt: time.Now()}
	require.NoError(t, idx.Put(older))
	require.NoError(t, idx.Put(newer))

	got, ok := idx.Get(newer.ID)
	require.True(t, ok)
	require.Equal(t, newer.ID, got.ID)

	list := idx.ListRuns()
	require.Len(t, list, 2)
	require.Equal(t, newer.ID, list[0].ID)
	require.Equal(t, older.ID, list[1].ID)
}

func TestUpdateStatusSetsCompletedAt(t *testing.T) {
	idx, err := New(t.TempDir())
	require.NoError(t, err)

	run := &Run{ID: ids.New(), Status: Running, StartedAt: time.Now()}
	require.NoError(t, idx.Put(run))

	now := time.Now()
	require.NoError(t, idx.UpdateStatus(run.ID, Completed, &now))

	got, ok := idx.Get(run.ID)
	require.True(t, ok)
	require.Equal(t, Completed, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestUpdateStatusNotFound(t *testing.T) {
	idx, err := New(t.TempDir())
	require.NoError(t, err)

	err = idx.UpdateStatus(ids.New(), Completed, nil)
	require.Error(t, err)
}

func TestUpdateStepInsertsThenReplaces(t *testing.T) {
	idx, err := New(t.TempDir())
	require.NoError(t, err)

	run := &Run{ID: ids.New(), Status: Running, StartedAt: time.Now()}
	require.NoError(t, idx.Put(run))

	require.NoError(t, idx.UpdateStep(run.ID, StepExecution{ID: "step-a", Status: "Running", Attempt: 1}))
	require.NoError(t, idx.UpdateStep(run.ID, StepExecution{ID: "step-a", Status: "Completed", Attempt: 1}))

	got, ok := idx.Get(run.ID)
	require.True(t, ok)
	require.Len(t, got.Steps, 1)
	require.EqualValues(t, "Completed", got.Steps[0].Status)
}

func TestIndexPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	idx, err := New(dir)
	require.NoError(t, err)

	run := &Run{ID: ids.New(), Status: Running, StartedAt: time.Now()}
	require.NoError(t, idx.Put(run))

	reloaded, err := New(dir)
	require.NoError(t, err)
	got, ok := reloaded.Get(run.ID)
	require.True(t, ok)
	require.Equal(t, run.ID, got.ID)
}
