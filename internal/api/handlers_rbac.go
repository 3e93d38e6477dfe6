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
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/audit"
	"github.com/shiioo-io/controlplane/internal/compliance"
	"github.com/shiioo-io/controlplane/internal/rbac"
)

func (s *Server) mountRBACRoutes(r *mux.Router) {
	r.HandleFunc("/api/roles", s.handleListOrCreateRole).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/roles/{id}", s.handleGetOrDeleteRole).Methods(http.MethodGet, http.MethodDelete)
	// "/api/policies" is an alias of the role store: a Role IS the policy
	// abstraction in this RBAC model (a named set of permissions), so both
	// paths share one handler pair.
	r.HandleFunc("/api/policies", s.handleListOrCreateRole).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/policies/{id}", s.handleGetOrDeleteRole).Methods(http.MethodGet, http.MethodDelete)
	r.HandleFunc("/api/rbac/assign-role", s.handleAssignRole).Methods(http.MethodPost)
	r.HandleFunc("/api/rbac/check-permission", s.handleCheckPermission).Methods(http.MethodPost)
}

func (s *Server) handleListOrCreateRole(w http.ResponseWriter, r *http.Request) {
	if s.RBAC == nil {
		writeError(w, apierr.New(apierr.Internal, "rbac not configured"))
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]interface{}{"roles": s.RBAC.ListRoles()})
		return
	}

	var role rbac.Role
	if err := decodeJSON(r, &role); err != nil {
		writeError(w, err)
		return
	}
	s.RBAC.CreateRole(role)
	writeJSON(w, http.StatusCreated, role)
}

func (s *Server) handleGetOrDeleteRole(w http.ResponseWriter, r *http.Request) {
	if s.RBAC == nil {
		writeError(w, apierr.New(apierr.Internal, "rbac not configured"))
		return
	}
	id := pathVar(r, "id")
	if r.Method == http.MethodDelete {
		s.RBAC.DeleteRole(id)
		writeJSON(w, http.StatusOK, nil)
		return
	}
	role, ok := s.RBAC.GetRole(id)
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "role not found"))
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	if s.RBAC == nil {
		writeError(w, apierr.New(apierr.Internal, "rbac not configured"))
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		RoleID string `json:"role_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.RBAC.AssignRole(req.UserID, req.RoleID); err != nil {
		writeError(w, err)
		return
	}
	s.recordAudit(r, compliance.CategoryAccessControl, audit.SeverityInfo, compliance.ActionRoleAssigned)
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	if s.RBAC == nil {
		writeError(w, apierr.New(apierr.Internal, "rbac not configured"))
		return
	}
	var req struct {
		UserID     string            `json:"user_id"`
		Permission rbac.Permission `json:"permission"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	allowed := s.RBAC.CheckPermission(req.UserID, req.Permission)
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}
