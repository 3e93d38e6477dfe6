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

package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterDefaultsToFollowerHealthy(t *testing.T) {
	m := New()
	n := m.Register("node-1", "10.0.0.1:7000")
	require.Equal(t, Healthy, n.Status)
	require.Equal(t, Follower, n.Role)
}

func TestRegisterWithMetadataCarriesRegionAndTags(t *testing.T) {
	m := New()
	n := m.RegisterWithMetadata("node-1", "10.0.0.1:7000", "us-east", map[string]string{"gpu": "true"})
	require.Equal(t, "us-east", n.Region)
	require.Equal(t, "true", n.Metadata["gpu"])

	got, ok := m.Get("node-1")
	require.True(t, ok)
	require.Equal(t, "us-east", got.Region)
}

func TestRemoveDeregistersNode(t *testing.T) {
	m := New()
	m.Register("node-1", "10.0.0.1:7000")
	m.Remove("node-1")
	_, ok := m.Get("node-1")
	require.False(t, ok)
}

func TestHeartbeatUnknownNodeFails(t *testing.T) {
	m := New()
	require.Error(t, m.Heartbeat("ghost"))
}

func TestCheckStaleNodesMarksUnhealthyPastTimeout(t *testing.T) {
	m := New()
	now := time.Now().UTC()
	m.SetClock(func() time.Time { return now })
	m.Register("node-1", "a")

	now = now.Add(2 * time.Minute)
	stale := m.CheckStaleNodes(time.Minute)
	require.Equal(t, []string{"node-1"}, stale)

	n, ok := m.Get("node-1")
	require.True(t, ok)
	require.Equal(t, Unhealthy, n.Status)
}

func TestHeartbeatRevivesUnhealthyNode(t *testing.T) {
	m := New()
	now := time.Now().UTC()
	m.SetClock(func() time.Time { return now })
	m.Register("node-1", "a")

	now = now.Add(2 * time.Minute)
	m.CheckStaleNodes(time.Minute)

	require.NoError(t, m.Heartbeat("node-1"))
	n, _ := m.Get("node-1")
	require.Equal(t, Healthy, n.Status)
}

func TestMemoryLockAcquireReleaseRoundTrip(t *testing.T) {
	l := NewMemoryLock()

	ok, err := l.Acquire("k", "holder-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire("k", "holder-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second holder must not acquire an unexpired lease")

	released, err := l.Release("k", "holder-b")
	require.NoError(t, err)
	require.False(t, released, "non-holder cannot release")

	released, err = l.Release("k", "holder-a")
	require.NoError(t, err)
	require.True(t, released)

	ok, err = l.Acquire("k", "holder-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "lock is free after release")
}

func TestMemoryLockExpiredLeaseIsReacquirable(t *testing.T) {
	l := NewMemoryLock()
	now := time.Now().UTC()
	l.SetClock(func() time.Time { return now })

	ok, err := l.Acquire("k", "holder-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = l.Acquire("k", "holder-b", time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired lease must be reacquirable by another holder")
}

func TestLeaderElectorTryBecomeLeaderAndResign(t *testing.T) {
	lock := NewMemoryLock()
	elector := NewLeaderElector(lock, "node-1", time.Minute)

	won, err := elector.TryBecomeLeader()
	require.NoError(t, err)
	require.True(t, won)

	other := NewLeaderElector(lock, "node-2", time.Minute)
	won, err = other.TryBecomeLeader()
	require.NoError(t, err)
	require.False(t, won)

	renewed, err := elector.Renew()
	require.NoError(t, err)
	require.True(t, renewed)

	resigned, err := elector.Resign()
	require.NoError(t, err)
	require.True(t, resigned)

	won, err = other.TryBecomeLeader()
	require.NoError(t, err)
	require.True(t, won, "lease is free for another node after resign")
}
