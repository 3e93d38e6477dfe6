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
	"time"

	"github.com/gorilla/mux"

	"github.com/shiioo-io/controlplane/internal/apierr"
)

func (s *Server) mountAuditRoutes(r *mux.Router) {
	r.HandleFunc("/api/audit/entries", s.handleAuditEntries).Methods(http.MethodGet)
	r.HandleFunc("/api/audit/statistics", s.handleAuditStatistics).Methods(http.MethodGet)
	r.HandleFunc("/api/audit/verify-chain", s.handleAuditVerifyChain).Methods(http.MethodGet)
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	start := time.Time{}
	end := time.Now()
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, apierr.New(apierr.InvalidInput, "start must be RFC3339")
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, apierr.New(apierr.InvalidInput, "end must be RFC3339")
		}
		end = t
	}
	return start, end, nil
}

func (s *Server) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		writeError(w, apierr.New(apierr.Internal, "audit log not configured"))
		return
	}
	if r.URL.Query().Get("start") == "" && r.URL.Query().Get("end") == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": s.Audit.Entries()})
		return
	}
	start, end, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": s.Audit.EntriesInWindow(start, end)})
}

func (s *Server) handleAuditStatistics(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		writeError(w, apierr.New(apierr.Internal, "audit log not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.Audit.Stats())
}

func (s *Server) handleAuditVerifyChain(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		writeError(w, apierr.New(apierr.Internal, "audit log not configured"))
		return
	}
	violations := s.Audit.VerifyChain()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"intact":     len(violations) == 0,
		"violations": violations,
	})
}
