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

// Package cluster tracks node health and arbitrates a distributed
// lock used for leader election. The lock defaults to an in-memory
// TTL map; RedisLock provides multi-node backing when a shared Redis
// instance is configured.
package cluster

import (
	"sync"
	"time"

	"github.com/shiioo-io/controlplane/internal/apierr"
)

// Status is a node's health as last observed.
type Status string

const (
	Healthy   Status = "Healthy"
	Degraded  Status = "Degraded"
	Unhealthy Status = "Unhealthy"
	Offline   Status = "Offline"
)

// Role is a node's role in leader election.
type Role string

const (
	Leader    Role = "Leader"
	Follower  Role = "Follower"
	Candidate Role = "Candidate"
)

// Node is one member of the cluster. Region and Metadata are informational
// (region tag, free-form key/value metadata); neither affects health or
// leader-election decisions.
type Node struct {
	ID            string            `json:"id"`
	Address       string            `json:"address"`
	Region        string            `json:"region,omitempty"`
	Status        Status            `json:"status"`
	Role          Role              `json:"role"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Manager owns the node registry.
type Manager struct {
	mu    sync.Mutex
	nodes map[string]*Node
	now   func() time.Time
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{nodes: make(map[string]*Node), now: time.Now}
}

// SetClock overrides the time source. Test-only seam.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Register adds or replaces a node, defaulting to Follower/Healthy.
func (m *Manager) Register(id, address string) *Node {
	return m.RegisterWithMetadata(id, address, "", nil)
}

// RegisterWithMetadata is Register plus an optional region tag and
// free-form metadata.
func (m *Manager) RegisterWithMetadata(id, address, region string, metadata map[string]string) *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := &Node{ID: id, Address: address, Region: region, Metadata: metadata, Status: Healthy, Role: Follower, LastHeartbeat: m.now().UTC()}
	m.nodes[id] = n
	cp := *n
	return &cp
}

// Heartbeat stamps now and marks the node Healthy.
func (m *Manager) Heartbeat(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return apierr.Newf(apierr.NotFound, "node %s not found", id)
	}
	n.LastHeartbeat = m.now().UTC()
	n.Status = Healthy
	return nil
}

// CheckStaleNodes marks any node whose last heartbeat exceeds timeout
// as Unhealthy, returning the ids that changed.
func (m *Manager) CheckStaleNodes(timeout time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	var stale []string
	for id, n := range m.nodes {
		if n.Status != Unhealthy && now.Sub(n.LastHeartbeat) > timeout {
			n.Status = Unhealthy
			stale = append(stale, id)
		}
	}
	return stale
}

// SetRole sets a node's election role directly. LeaderElector does not
// call it; the caller records the elector's result here.
func (m *Manager) SetRole(id string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return apierr.Newf(apierr.NotFound, "node %s not found", id)
	}
	n.Role = role
	return nil
}

// Get returns a node by id.
func (m *Manager) Get(id string) (Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// List returns every node.
func (m *Manager) List() []Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, *n)
	}
	return out
}

// Remove deregisters a node.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
}

// Lock is the distributed lock contract both the in-memory and Redis
// backings satisfy.
type Lock interface {
	Acquire(key, holder string, ttl time.Duration) (bool, error)
	Release(key, holder string) (bool, error)
}

type lease struct {
	holder    string
	expiresAt time.Time
}

// MemoryLock is the default in-memory TTL'd lock map.
type MemoryLock struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewMemoryLock returns an empty MemoryLock.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{leases: make(map[string]lease), now: time.Now}
}

// SetClock overrides the time source. Test-only seam.
func (l *MemoryLock) SetClock(now func() time.Time) { l.now = now }

// Acquire succeeds iff key is unheld, the existing holder's lease has
// expired, or holder already holds it (which renews the lease).
func (l *MemoryLock) Acquire(key, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	existing, held := l.leases[key]
	if held && existing.holder != holder && existing.expiresAt.After(now) {
		return false, nil
	}
	l.leases[key] = lease{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release succeeds only when holder is the recorded holder.
func (l *MemoryLock) Release(key, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, held := l.leases[key]
	if !held || existing.holder != holder {
		return false, nil
	}
	delete(l.leases, key)
	return true, nil
}

const leaderKey = "cluster:leader"

// LeaderElector wraps a Lock to acquire a fixed leader key with a
// lease TTL; Renew re-acquires before the lease expires.
type LeaderElector struct {
	lock   Lock
	nodeID string
	ttl    time.Duration
}

// NewLeaderElector builds an elector for nodeID over lock.
func NewLeaderElector(lock Lock, nodeID string, ttl time.Duration) *LeaderElector {
	return &LeaderElector{lock: lock, nodeID: nodeID, ttl: ttl}
}

// TryBecomeLeader attempts to acquire the leader lease.
func (e *LeaderElector) TryBecomeLeader() (bool, error) {
	return e.lock.Acquire(leaderKey, e.nodeID, e.ttl)
}

// Renew re-acquires the leader lease; it is identical to
// TryBecomeLeader since Acquire is idempotent for the current holder.
func (e *LeaderElector) Renew() (bool, error) {
	return e.lock.Acquire(leaderKey, e.nodeID, e.ttl)
}

// Resign releases the leader lease if held by this node.
func (e *LeaderElector) Resign() (bool, error) {
	return e.lock.Release(leaderKey, e.nodeID)
}
