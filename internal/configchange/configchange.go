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

// Package configchange gates configuration changes behind an optional
// linked approval: a proposal can only be applied once its approval (if
// any) has resolved to Approved.
package configchange

import (
	"sync"
	"time"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/approval"
)

// State is a proposal's lifecycle state.
type State string

const (
	Proposed        State = "Proposed"
	PendingApproval State = "PendingApproval"
	Applied         State = "Applied"
	Approved        State = "Approved"
	Rejected        State = "Rejected"
	Failed          State = "Failed"
)

// Proposal is one pending or resolved configuration change.
type Proposal struct {
	ID         string                 `json:"id"`
	Target     string                 `json:"target"`
	Changes    map[string]interface{} `json:"changes"`
	State      State                  `json:"state"`
	ApprovalID string                 `json:"approval_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

// ApplyFunc performs the actual configuration mutation.
type ApplyFunc func(target string, changes map[string]interface{}) error

// EventSink receives proposal lifecycle notifications
// (ConfigProposalCreated, ConfigDiffGenerated, ConfigApplied,
// ConfigRolledBack). The boot wiring forwards them to the event log
// keyed by proposal id; a nil sink drops them.
type EventSink func(proposalID, eventType string, data map[string]interface{})

// Manager tracks proposals and gates their application on linked
// approvals.
type Manager struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	approvals *approval.Manager
	now       func() time.Time
	events    EventSink
}

// New returns a Manager. approvals may be nil if no proposal in this
// process ever links one.
func New(approvals *approval.Manager) *Manager {
	return &Manager{proposals: make(map[string]*Proposal), approvals: approvals, now: time.Now}
}

// SetClock overrides the time source. Test-only seam.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetEventSink registers sink for proposal lifecycle notifications.
func (m *Manager) SetEventSink(sink EventSink) { m.events = sink }

func (m *Manager) notify(proposalID, eventType string, data map[string]interface{}) {
	if m.events != nil {
		m.events(proposalID, eventType, data)
	}
}

// Propose creates a new Proposed-state change, optionally linked to an
// existing approval.
func (m *Manager) Propose(id, target string, changes map[string]interface{}, approvalID string) *Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := Proposed
	if approvalID != "" {
		state = PendingApproval
	}
	p := &Proposal{ID: id, Target: target, Changes: changes, State: state, ApprovalID: approvalID, CreatedAt: m.now().UTC()}
	m.proposals[id] = p
	cp := *p

	m.notify(id, "ConfigProposalCreated", map[string]interface{}{"target": target, "approval_id": approvalID})
	m.notify(id, "ConfigDiffGenerated", map[string]interface{}{"changes": changes})
	return &cp
}

// Get returns a proposal by id.
func (m *Manager) Get(id string) (Proposal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return Proposal{}, false
	}
	return *p, true
}

// List returns every proposal in no particular order.
func (m *Manager) List() []Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		out = append(out, *p)
	}
	return out
}

// Reject marks a proposal Rejected directly (no linked approval path).
func (m *Manager) Reject(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return apierr.Newf(apierr.NotFound, "proposal %s not found", id)
	}
	now := m.now().UTC()
	p.State = Rejected
	p.Reason = reason
	p.ResolvedAt = &now
	return nil
}

// RefreshState syncs a PendingApproval proposal's state with its linked
// approval's current status, transitioning it to Approved or Rejected
// once the approval resolves.
func (m *Manager) RefreshState(id string) (Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return Proposal{}, apierr.Newf(apierr.NotFound, "proposal %s not found", id)
	}
	if p.State != PendingApproval || p.ApprovalID == "" || m.approvals == nil {
		return *p, nil
	}
	a, ok := m.approvals.Get(p.ApprovalID)
	if !ok {
		return *p, nil
	}
	switch a.Status {
	case approval.Approved:
		p.State = Approved
	case approval.Denied:
		p.State = Rejected
		now := m.now().UTC()
		p.ResolvedAt = &now
	}
	return *p, nil
}

// Apply performs the change via apply. It requires either no linked
// approval (state Proposed) or a linked approval already resolved to
// Approved (state Approved, reached via RefreshState); otherwise it
// fails with NotApproved. A failure from apply itself marks the
// proposal Failed.
func (m *Manager) Apply(id string, apply ApplyFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return apierr.Newf(apierr.NotFound, "proposal %s not found", id)
	}
	if p.State != Proposed && p.State != Approved {
		return apierr.New(apierr.NotApproved, "proposal is not in an applicable state")
	}

	now := m.now().UTC()
	if err := apply(p.Target, p.Changes); err != nil {
		p.State = Failed
		p.Reason = err.Error()
		p.ResolvedAt = &now
		m.notify(id, "ConfigRolledBack", map[string]interface{}{"target": p.Target, "error": err.Error()})
		return apierr.Newf(apierr.Internal, "apply failed: %v", err)
	}
	p.State = Applied
	p.ResolvedAt = &now
	m.notify(id, "ConfigApplied", map[string]interface{}{"target": p.Target})
	return nil
}
