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
	"github.com/shiioo-io/controlplane/internal/org"
)

func (s *Server) mountOrgRoutes(r *mux.Router) {
	r.HandleFunc("/api/organizations", s.handleListOrCreateOrg).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/organizations/{id}", s.handleGetOrDeleteOrg).Methods(http.MethodGet, http.MethodDelete)
}

func (s *Server) handleListOrCreateOrg(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.orgMu.RLock()
		defer s.orgMu.RUnlock()
		out := make([]org.Organization, 0, len(s.orgs))
		for _, m := range s.orgs {
			out = append(out, m.Organization())
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"organizations": out})
		return
	}

	var o org.Organization
	if err := decodeJSON(r, &o); err != nil {
		writeError(w, err)
		return
	}
	mgr, err := org.New(o)
	if err != nil {
		writeError(w, err)
		return
	}
	s.orgMu.Lock()
	s.orgs[o.ID] = mgr
	s.orgMu.Unlock()
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOrDeleteOrg(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if r.Method == http.MethodDelete {
		s.orgMu.Lock()
		delete(s.orgs, id)
		s.orgMu.Unlock()
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s.orgMu.RLock()
	mgr, ok := s.orgs[id]
	s.orgMu.RUnlock()
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "organization not found"))
		return
	}
	writeJSON(w, http.StatusOK, mgr.Organization())
}
