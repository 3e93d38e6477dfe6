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

// Package approval implements approval boards: a fixed voter roster
// votes on a proposal, and a quorum policy decides when the vote
// resolves to Approved or Denied.
package approval

import (
	"sync"
	"time"

	"github.com/shiioo-io/controlplane/internal/apierr"
)

// QuorumKind selects the resolution formula.
type QuorumKind string

const (
	Unanimous  QuorumKind = "Unanimous"
	Majority   QuorumKind = "Majority"
	MinCount   QuorumKind = "MinCount"
	Percentage QuorumKind = "Percentage"
)

// Quorum is a resolution policy; N and P are only meaningful for
// MinCount and Percentage respectively.
type Quorum struct {
	Kind QuorumKind `json:"kind"`
	N    int        `json:"n,omitempty"`
	P    float64    `json:"p,omitempty"`
}

// Board is a named voter roster with a resolution policy.
type Board struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Voters  []string `json:"voters"`
	Quorum  Quorum   `json:"quorum"`
}

// Status is an approval's lifecycle state.
type Status string

const (
	Pending  Status = "Pending"
	Approved Status = "Approved"
	Denied   Status = "Denied"
)

// Decision is one voter's cast decision.
type Decision string

const (
	DecisionApprove Decision = "Approve"
	DecisionReject  Decision = "Reject"
	DecisionAbstain Decision = "Abstain"
)

// Vote is one voter's decision.
type Vote struct {
	VoterID  string    `json:"voter_id"`
	Decision Decision  `json:"decision"`
	Comment  string    `json:"comment,omitempty"`
	CastAt   time.Time `json:"cast_at"`
}

// Approval is one vote in progress against a Board.
type Approval struct {
	ID         string    `json:"id"`
	BoardID    string    `json:"board_id"`
	Subject    string    `json:"subject"`
	Status     Status    `json:"status"`
	Votes      []Vote    `json:"votes"`
	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Manager owns boards and in-flight approvals.
type Manager struct {
	mu         sync.Mutex
	boards     map[string]*Board
	approvals  map[string]*Approval
	now        func() time.Time
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{boards: make(map[string]*Board), approvals: make(map[string]*Approval), now: time.Now}
}

// SetClock overrides the time source. Test-only seam.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// CreateBoard registers a board.
func (m *Manager) CreateBoard(b Board) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[b.ID] = &b
}

// GetBoard returns a board by id.
func (m *Manager) GetBoard(id string) (Board, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[id]
	if !ok {
		return Board{}, false
	}
	return *b, true
}

// ListBoards returns every registered board.
func (m *Manager) ListBoards() []Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Board, 0, len(m.boards))
	for _, b := range m.boards {
		out = append(out, *b)
	}
	return out
}

// DeleteBoard removes a board. Approvals already opened against it are
// left untouched.
func (m *Manager) DeleteBoard(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boards, id)
}

// ListApprovals returns every approval, resolved or pending.
func (m *Manager) ListApprovals() []Approval {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Approval, 0, len(m.approvals))
	for _, a := range m.approvals {
		out = append(out, *a)
	}
	return out
}

// CreateApproval opens a new pending approval against boardID.
func (m *Manager) CreateApproval(id, boardID, subject string) (*Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.boards[boardID]; !ok {
		return nil, apierr.Newf(apierr.NotFound, "board %s not found", boardID)
	}
	a := &Approval{ID: id, BoardID: boardID, Subject: subject, Status: Pending, CreatedAt: m.now().UTC()}
	m.approvals[id] = a
	cp := *a
	return &cp, nil
}

// Get returns an approval by id.
func (m *Manager) Get(id string) (Approval, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return Approval{}, false
	}
	return *a, true
}

// CastVote records voterID's decision on approvalID and, if the
// board's quorum now resolves, transitions the approval to its
// terminal state. Failure modes:
//   - AlreadyResolved if the approval is no longer Pending
//   - NotAVoter if voterID is not on the board's roster
//   - DuplicateVote if voterID already voted
func (m *Manager) CastVote(approvalID, voterID string, decision Decision, comment string) (Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.approvals[approvalID]
	if !ok {
		return Approval{}, apierr.Newf(apierr.NotFound, "approval %s not found", approvalID)
	}
	if a.Status != Pending {
		return Approval{}, apierr.New(apierr.AlreadyResolved, "approval already resolved")
	}
	board, ok := m.boards[a.BoardID]
	if !ok {
		return Approval{}, apierr.Newf(apierr.NotFound, "board %s not found", a.BoardID)
	}
	isVoter := false
	for _, v := range board.Voters {
		if v == voterID {
			isVoter = true
			break
		}
	}
	if !isVoter {
		return Approval{}, apierr.New(apierr.NotAVoter, "voter is not on the board's roster")
	}
	for _, v := range a.Votes {
		if v.VoterID == voterID {
			return Approval{}, apierr.New(apierr.DuplicateVote, "voter already cast a vote")
		}
	}

	a.Votes = append(a.Votes, Vote{VoterID: voterID, Decision: decision, Comment: comment, CastAt: m.now().UTC()})

	if resolved, status := resolve(*board, a.Votes); resolved {
		a.Status = status
		now := m.now().UTC()
		a.ResolvedAt = &now
	}

	return *a, nil
}

// resolve applies the board's quorum rule over the tally
// (approvers=N, approve=A, reject=R, abstain=X). Returns resolved=false
// if more votes are still needed to reach a decision either way.
func resolve(board Board, votes []Vote) (resolved bool, status Status) {
	n := len(board.Voters)
	if n == 0 {
		return false, Pending
	}
	var a, r, x int
	for _, v := range votes {
		switch v.Decision {
		case DecisionApprove:
			a++
		case DecisionReject:
			r++
		default:
			x++
		}
	}

	switch board.Quorum.Kind {
	case Unanimous:
		if a == n {
			return true, Approved
		}
		if r > 0 {
			return true, Denied
		}
		return false, Pending
	case Majority:
		required := n/2 + 1
		if a >= required {
			return true, Approved
		}
		if r >= required {
			return true, Denied
		}
		if a+r+x == n {
			return true, Denied
		}
		return false, Pending
	case MinCount:
		if a >= board.Quorum.N {
			return true, Approved
		}
		if n-r < board.Quorum.N {
			return true, Denied
		}
		return false, Pending
	case Percentage:
		required := ceilDiv(board.Quorum.P*float64(n), 100)
		if a >= required {
			return true, Approved
		}
		if n-r < required {
			return true, Denied
		}
		return false, Pending
	default:
		return false, Pending
	}
}

// ceilDiv computes ⌈num/denom⌉ for the Percentage formula
// required = ⌈N·p/100⌉, where num is already N·p.
func ceilDiv(num, denom float64) int {
	v := num / denom
	iv := int(v)
	if float64(iv) < v {
		return iv + 1
	}
	return iv
}
