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
	"github.com/shiioo-io/controlplane/internal/ids"
)

func (s *Server) mountConfigChangeRoutes(r *mux.Router) {
	r.HandleFunc("/api/config-changes", s.handleListOrProposeConfigChange).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/config-changes/{id}", s.handleGetConfigChange).Methods(http.MethodGet)
	r.HandleFunc("/api/config-changes/{id}/apply", s.handleApplyConfigChange).Methods(http.MethodPost)
	r.HandleFunc("/api/config-changes/{id}/reject", s.handleRejectConfigChange).Methods(http.MethodPost)
}

func (s *Server) handleListOrProposeConfigChange(w http.ResponseWriter, r *http.Request) {
	if s.ConfigChange == nil {
		writeError(w, apierr.New(apierr.Internal, "config-change manager not configured"))
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]interface{}{"proposals": s.ConfigChange.List()})
		return
	}

	var req struct {
		Target     string                 `json:"target"`
		Changes    map[string]interface{} `json:"changes"`
		ApprovalID string                 `json:"approval_id,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p := s.ConfigChange.Propose(ids.New(), req.Target, req.Changes, req.ApprovalID)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetConfigChange(w http.ResponseWriter, r *http.Request) {
	if s.ConfigChange == nil {
		writeError(w, apierr.New(apierr.Internal, "config-change manager not configured"))
		return
	}
	s.ConfigChange.RefreshState(pathVar(r, "id"))
	p, ok := s.ConfigChange.Get(pathVar(r, "id"))
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "proposal not found"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleApplyConfigChange(w http.ResponseWriter, r *http.Request) {
	if s.ConfigChange == nil {
		writeError(w, apierr.New(apierr.Internal, "config-change manager not configured"))
		return
	}
	id := pathVar(r, "id")
	s.ConfigChange.RefreshState(id)
	err := s.ConfigChange.Apply(id, func(target string, changes map[string]interface{}) error {
		if s.Log != nil {
			s.Log.Info(logCtx(), "config change applied", map[string]interface{}{"target": target})
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordAudit(r, compliance.CategoryDataModification, audit.SeverityInfo, "config_applied")
	p, _ := s.ConfigChange.Get(id)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRejectConfigChange(w http.ResponseWriter, r *http.Request) {
	if s.ConfigChange == nil {
		writeError(w, apierr.New(apierr.Internal, "config-change manager not configured"))
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = decodeJSON(r, &req)
	if err := s.ConfigChange.Reject(pathVar(r, "id"), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	p, _ := s.ConfigChange.Get(pathVar(r, "id"))
	writeJSON(w, http.StatusOK, p)
}
