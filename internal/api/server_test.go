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

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shiioo-io/controlplane/internal/approval"
	"github.com/shiioo-io/controlplane/internal/cluster"
	"github.com/shiioo-io/controlplane/internal/rbac"
	"github.com/shiioo-io/controlplane/internal/secret"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	s := New(nil)
	s.RBAC = rbac.New()
	s.Approvals = approval.New()
	s.Cluster = cluster.New()
	s.Secrets = secret.New(secret.NewXORCipher([]byte("test-key")))
	return s, s.Router(nil)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPoliciesRouteSharesTheRoleStore(t *testing.T) {
	_, h := newTestServer(t)

	createRec := doJSON(t, h, http.MethodPost, "/api/policies", rbac.Role{
		ID:   "viewer",
		Name: "Viewer",
		Permissions: []rbac.Permission{{Resource: "run", Action: "read"}},
	})
	require.Equal(t, http.StatusCreated, createRec.Code)

	rolesRec := doJSON(t, h, http.MethodGet, "/api/roles", nil)
	require.Equal(t, http.StatusOK, rolesRec.Code)
	var rolesBody struct {
		Roles []rbac.Role `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rolesRec.Body.Bytes(), &rolesBody))
	require.Len(t, rolesBody.Roles, 1)
	require.Equal(t, "viewer", rolesBody.Roles[0].ID)

	policiesRec := doJSON(t, h, http.MethodGet, "/api/policies", nil)
	require.Equal(t, http.StatusOK, policiesRec.Code)
	var policiesBody struct {
		Roles []rbac.Role `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(policiesRec.Body.Bytes(), &policiesBody))
	require.Len(t, policiesBody.Roles, 1)

	delRec := doJSON(t, h, http.MethodDelete, "/api/policies/viewer", nil)
	require.Equal(t, http.StatusOK, delRec.Code)

	getRec := doJSON(t, h, http.MethodGet, "/api/roles/viewer", nil)
	require.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestApprovalBoardListAndDelete(t *testing.T) {
	s, h := newTestServer(t)
	s.Approvals.CreateBoard(approval.Board{
		ID:     "board-1",
		Name:   "Change board",
		Voters: []string{"a", "b", "c"},
		Quorum: approval.Quorum{Kind: approval.Majority},
	})

	listRec := doJSON(t, h, http.MethodGet, "/api/approval-boards", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listBody struct {
		Boards []approval.Board `json:"boards"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listBody))
	require.Len(t, listBody.Boards, 1)

	createApprovalRec := doJSON(t, h, http.MethodPost, "/api/approvals", map[string]string{
		"board_id": "board-1",
		"subject":  "deploy prod config",
	})
	require.Equal(t, http.StatusCreated, createApprovalRec.Code)

	listApprovalsRec := doJSON(t, h, http.MethodGet, "/api/approvals", nil)
	require.Equal(t, http.StatusOK, listApprovalsRec.Code)
	var approvalsBody struct {
		Approvals []approval.Approval `json:"approvals"`
	}
	require.NoError(t, json.Unmarshal(listApprovalsRec.Body.Bytes(), &approvalsBody))
	require.Len(t, approvalsBody.Approvals, 1)
	require.Equal(t, approval.Pending, approvalsBody.Approvals[0].Status)

	delRec := doJSON(t, h, http.MethodDelete, "/api/approval-boards/board-1", nil)
	require.Equal(t, http.StatusOK, delRec.Code)

	getRec := doJSON(t, h, http.MethodGet, "/api/approval-boards/board-1", nil)
	require.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestSecretLifecycleOverHTTP(t *testing.T) {
	_, h := newTestServer(t)

	createRec := doJSON(t, h, http.MethodPost, "/api/secrets", map[string]interface{}{
		"name":  "db-password",
		"value": "hunter2",
		"rotation_policy": map[string]interface{}{
			"enabled":  true,
			"interval": 0,
		},
	})
	require.Equal(t, http.StatusCreated, createRec.Code)
	var created secret.Secret
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	require.Equal(t, 1, created.Version)

	listRec := doJSON(t, h, http.MethodGet, "/api/secrets", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listBody struct {
		Secrets []secret.Secret `json:"secrets"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listBody))
	require.Len(t, listBody.Secrets, 1)

	putRec := doJSON(t, h, http.MethodPut, "/api/secrets/"+created.ID, map[string]interface{}{
		"rotation_policy": map[string]interface{}{
			"enabled":  false,
			"interval": 0,
		},
	})
	require.Equal(t, http.StatusOK, putRec.Code)
	var updated secret.Secret
	require.NoError(t, json.Unmarshal(putRec.Body.Bytes(), &updated))
	require.False(t, updated.RotationPolicy.Enabled)

	delRec := doJSON(t, h, http.MethodDelete, "/api/secrets/"+created.ID, nil)
	require.Equal(t, http.StatusOK, delRec.Code)

	getRec := doJSON(t, h, http.MethodGet, "/api/secrets/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestClusterNodeDelete(t *testing.T) {
	s, h := newTestServer(t)
	s.Cluster.Register("node-1", "10.0.0.1:9000")

	delRec := doJSON(t, h, http.MethodDelete, "/api/cluster/nodes/node-1", nil)
	require.Equal(t, http.StatusOK, delRec.Code)

	getRec := doJSON(t, h, http.MethodGet, "/api/cluster/nodes/node-1", nil)
	require.Equal(t, http.StatusNotFound, getRec.Code)
}
