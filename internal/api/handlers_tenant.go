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
	"github.com/shiioo-io/controlplane/internal/tenant"
)

func (s *Server) mountTenantRoutes(r *mux.Router) {
	r.HandleFunc("/api/tenants", s.handleListOrRegisterTenant).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/tenants/{id}", s.handleGetOrUpdateOrDeleteTenant).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	r.HandleFunc("/api/tenants/{id}/suspend", s.handleSuspendTenant).Methods(http.MethodPost)
	r.HandleFunc("/api/tenants/{id}/activate", s.handleActivateTenant).Methods(http.MethodPost)
	r.HandleFunc("/api/tenants/{id}/storage-stats", s.handleTenantStorageStats).Methods(http.MethodGet)
}

func (s *Server) handleListOrRegisterTenant(w http.ResponseWriter, r *http.Request) {
	if s.Tenants == nil {
		writeError(w, apierr.New(apierr.Internal, "tenant manager not configured"))
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": s.Tenants.List()})
		return
	}

	var t tenant.Tenant
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.Tenants.Register(t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetOrUpdateOrDeleteTenant(w http.ResponseWriter, r *http.Request) {
	if s.Tenants == nil {
		writeError(w, apierr.New(apierr.Internal, "tenant manager not configured"))
		return
	}
	id := pathVar(r, "id")
	switch r.Method {
	case http.MethodDelete:
		if err := s.Tenants.Delete(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
	case http.MethodPut:
		var req struct {
			Name     string                 `json:"name"`
			Quota    tenant.Quota           `json:"quota"`
			Settings map[string]interface{} `json:"settings"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if err := s.Tenants.Update(id, req.Name, req.Quota, req.Settings); err != nil {
			writeError(w, err)
			return
		}
		t, err := s.Tenants.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	default:
		t, err := s.Tenants.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func (s *Server) handleSuspendTenant(w http.ResponseWriter, r *http.Request) {
	if s.Tenants == nil {
		writeError(w, apierr.New(apierr.Internal, "tenant manager not configured"))
		return
	}
	if err := s.Tenants.Suspend(pathVar(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	s.recordAudit(r, compliance.CategoryDataModification, audit.SeverityWarning, "tenant_suspended")
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleActivateTenant(w http.ResponseWriter, r *http.Request) {
	if s.Tenants == nil {
		writeError(w, apierr.New(apierr.Internal, "tenant manager not configured"))
		return
	}
	if err := s.Tenants.Activate(pathVar(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	s.recordAudit(r, compliance.CategoryDataModification, audit.SeverityInfo, "tenant_activated")
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleTenantStorageStats(w http.ResponseWriter, r *http.Request) {
	if s.Tenants == nil {
		writeError(w, apierr.New(apierr.Internal, "tenant manager not configured"))
		return
	}
	stats, err := s.Tenants.StorageStats(pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
