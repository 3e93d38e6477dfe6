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

package approval

import (
	"testing"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/stretchr/testify/require"
)

// TestMajorityQuorumResolvesOnSecondApproval is the literal S4 scenario.
func TestMajorityQuorumResolvesOnSecondApproval(t *testing.T) {
	m := New()
	m.CreateBoard(Board{ID: "b1", Voters: []string{"a", "b", "c"}, Quorum: Quorum{Kind: Majority}})
	a, err := m.CreateApproval("ap1", "b1", "deploy-x")
	require.NoError(t, err)
	require.Equal(t, Pending, a.Status)

	a2, err := m.CastVote("ap1", "a", DecisionApprove, "")
	require.NoError(t, err)
	require.Equal(t, Pending, a2.Status)

	a3, err := m.CastVote("ap1", "b", DecisionApprove, "")
	require.NoError(t, err)
	require.Equal(t, Approved, a3.Status)
	require.NotNil(t, a3.ResolvedAt)

	_, err = m.CastVote("ap1", "c", DecisionApprove, "")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.AlreadyResolved, apiErr.Kind)
}

func TestNotAVoterAndDuplicateVote(t *testing.T) {
	m := New()
	m.CreateBoard(Board{ID: "b1", Voters: []string{"a", "b"}, Quorum: Quorum{Kind: Unanimous}})
	_, err := m.CreateApproval("ap1", "b1", "x")
	require.NoError(t, err)

	_, err = m.CastVote("ap1", "stranger", DecisionApprove, "")
	apiErr, _ := apierr.As(err)
	require.Equal(t, apierr.NotAVoter, apiErr.Kind)

	_, err = m.CastVote("ap1", "a", DecisionApprove, "")
	require.NoError(t, err)
	_, err = m.CastVote("ap1", "a", DecisionApprove, "")
	apiErr, _ = apierr.As(err)
	require.Equal(t, apierr.DuplicateVote, apiErr.Kind)
}

func TestUnanimousDeniedOnFirstReject(t *testing.T) {
	m := New()
	m.CreateBoard(Board{ID: "b1", Voters: []string{"a", "b", "c"}, Quorum: Quorum{Kind: Unanimous}})
	m.CreateApproval("ap1", "b1", "x")

	a, err := m.CastVote("ap1", "a", DecisionReject, "")
	require.NoError(t, err)
	require.Equal(t, Denied, a.Status)
}

// TestMajorityThresholdsAcrossN covers invariant 11.
func TestMajorityThresholdsAcrossN(t *testing.T) {
	cases := []struct {
		n        int
		required int
	}{{2, 2}, {3, 2}, {4, 3}}
	for _, c := range cases {
		voters := make([]string, c.n)
		for i := range voters {
			voters[i] = string(rune('a' + i))
		}
		m := New()
		m.CreateBoard(Board{ID: "b", Voters: voters, Quorum: Quorum{Kind: Majority}})
		m.CreateApproval("ap", "b", "x")

		var last Approval
		for i := 0; i < c.required; i++ {
			var err error
			last, err = m.CastVote("ap", voters[i], DecisionApprove, "")
			require.NoError(t, err)
		}
		require.Equal(t, Approved, last.Status)
	}
}

// TestMinCountUnreachableNeverApproves covers invariant 12.
func TestMinCountUnreachableNeverApproves(t *testing.T) {
	m := New()
	m.CreateBoard(Board{ID: "b", Voters: []string{"a", "b"}, Quorum: Quorum{Kind: MinCount, N: 5}})
	m.CreateApproval("ap", "b", "x")

	// N-R = 2-0 = 2 < 5 before any reject, so the first vote already
	// resolves it to Denied; it can never resolve to Approved.
	a, err := m.CastVote("ap", "a", DecisionApprove, "")
	require.NoError(t, err)
	require.Equal(t, Denied, a.Status)

	_, err = m.CastVote("ap", "b", DecisionApprove, "")
	require.Error(t, err)
	apiErr, _ := apierr.As(err)
	require.Equal(t, apierr.AlreadyResolved, apiErr.Kind)
}

func TestPercentageQuorum(t *testing.T) {
	m := New()
	m.CreateBoard(Board{ID: "b", Voters: []string{"a", "b", "c", "d"}, Quorum: Quorum{Kind: Percentage, P: 51}})
	m.CreateApproval("ap", "b", "x")
	// required = ceil(4*51/100) = ceil(2.04) = 3
	m.CastVote("ap", "a", DecisionApprove, "")
	a, _ := m.CastVote("ap", "b", DecisionApprove, "")
	require.Equal(t, Pending, a.Status)
	a, _ = m.CastVote("ap", "c", DecisionApprove, "")
	require.Equal(t, Approved, a.Status)
}

func TestListBoardsListApprovalsAndDeleteBoard(t *testing.T) {
	m := New()
	m.CreateBoard(Board{ID: "b", Voters: []string{"a", "b"}, Quorum: Quorum{Kind: Majority}})
	m.CreateApproval("ap", "b", "x")

	require.Len(t, m.ListBoards(), 1)
	require.Len(t, m.ListApprovals(), 1)

	m.DeleteBoard("b")
	require.Empty(t, m.ListBoards())

	// The approval itself survives board deletion; only new votes against
	// it would now fail to resolve a board lookup.
	require.Len(t, m.ListApprovals(), 1)
}
