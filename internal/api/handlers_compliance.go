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
	"github.com/shiioo-io/controlplane/internal/compliance"
)

func (s *Server) mountComplianceRoutes(r *mux.Router) {
	r.HandleFunc("/api/compliance/report", s.handleGenerateComplianceReport).Methods(http.MethodPost)
}

func (s *Server) handleGenerateComplianceReport(w http.ResponseWriter, r *http.Request) {
	if s.Compliance == nil {
		writeError(w, apierr.New(apierr.Internal, "compliance checker not configured"))
		return
	}
	var req struct {
		Framework   compliance.Framework `json:"framework"`
		PeriodStart time.Time            `json:"period_start"`
		PeriodEnd   time.Time            `json:"period_end"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PeriodEnd.IsZero() {
		req.PeriodEnd = time.Now()
	}
	report := s.Compliance.GenerateReport(req.Framework, req.PeriodStart, req.PeriodEnd)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSecurityScan(w http.ResponseWriter, r *http.Request) {
	if s.Security == nil {
		writeError(w, apierr.New(apierr.Internal, "security scanner not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.Security.Scan())
}
