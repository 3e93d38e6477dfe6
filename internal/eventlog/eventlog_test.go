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

package eventlog

import (
	"testing"
	"time"

	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/stretchr/testify/require"
)

func TestAppendAndGetRunEventsSortedByTimestamp(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	runID := ids.New()
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(Event{ID: ids.New(), RunID: runID, Timestamp: base.Add(3 * time.Second), Type: StepCompleted}))
	require.NoError(t, l.Append(Event{ID: ids.New(), RunID: runID, Timestamp: base, Type: RunStarted}))
	require.NoError(t, l.Append(Event{ID: ids.New(), RunID: runID, Timestamp: base.Add(1 * time.Second), Type: StepStarted}))

	events, err := l.GetRunEvents(runID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, RunStarted, events[0].Type)
	require.Equal(t, StepStarted, events[1].Type)
	require.Equal(t, StepCompleted, events[2].Type)
}

func TestGetRunEventsFlushesBuffer(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	runID := ids.New()
	require.NoError(t, l.Append(Event{ID: ids.New(), RunID: runID, Timestamp: time.Now().UTC(), Type: RunStarted}))

	events, err := l.GetRunEvents(runID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	l.mu.Lock()
	bufLen := len(l.buffer)
	l.mu.Unlock()
	require.Zero(t, bufLen)
}

func TestAppendAcrossDatePartitionsMerges(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	runID := ids.New()
	day1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(Event{ID: ids.New(), RunID: runID, Timestamp: day1, Type: RunStarted}))
	require.NoError(t, l.Flush())
	require.NoError(t, l.Append(Event{ID: ids.New(), RunID: runID, Timestamp: day2, Type: RunCompleted}))

	events, err := l.GetRunEvents(runID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, RunStarted, events[0].Type)
	require.Equal(t, RunCompleted, events[1].Type)
}

func TestGetRunEventsRange(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	runID := ids.New()
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(Event{ID: ids.New(), RunID: runID, Timestamp: base.Add(time.Duration(i) * time.Minute), Type: StepStarted}))
	}

	events, err := l.GetRunEventsRange(runID, base.Add(1*time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestFlushThresholdAutoFlushes(t *testing.T) {
	l, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	runID := ids.New()
	base := time.Now().UTC()
	for i := 0; i < flushThreshold+1; i++ {
		require.NoError(t, l.Append(Event{ID: ids.New(), RunID: runID, Timestamp: base, Type: StepStarted}))
	}

	l.mu.Lock()
	bufLen := len(l.buffer)
	l.mu.Unlock()
	require.Zero(t, bufLen)
}
