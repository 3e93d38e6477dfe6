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
)

func (s *Server) mountAnalyticsRoutes(r *mux.Router) {
	r.HandleFunc("/api/analytics/workflows", s.handleAnalyticsWorkflows).Methods(http.MethodGet)
	r.HandleFunc("/api/analytics/steps", s.handleAnalyticsSteps).Methods(http.MethodGet)
	r.HandleFunc("/api/analytics/traces/{run_id}", s.handleAnalyticsTrace).Methods(http.MethodGet)
	r.HandleFunc("/api/analytics/bottlenecks/{workflow_id}", s.handleAnalyticsBottlenecks).Methods(http.MethodGet)
}

func (s *Server) handleAnalyticsWorkflows(w http.ResponseWriter, r *http.Request) {
	if s.Analytics == nil {
		writeError(w, apierr.New(apierr.Internal, "analytics tracker not configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workflows": s.Analytics.AllWorkflowStats()})
}

func (s *Server) handleAnalyticsSteps(w http.ResponseWriter, r *http.Request) {
	if s.Analytics == nil {
		writeError(w, apierr.New(apierr.Internal, "analytics tracker not configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"steps": s.Analytics.AllStepStats()})
}

func (s *Server) handleAnalyticsTrace(w http.ResponseWriter, r *http.Request) {
	if s.Analytics == nil {
		writeError(w, apierr.New(apierr.Internal, "analytics tracker not configured"))
		return
	}
	trace, ok := s.Analytics.Trace(pathVar(r, "run_id"))
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "trace not found"))
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (s *Server) handleAnalyticsBottlenecks(w http.ResponseWriter, r *http.Request) {
	if s.Analytics == nil {
		writeError(w, apierr.New(apierr.Internal, "analytics tracker not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.Analytics.WorkflowBottlenecks(pathVar(r, "workflow_id")))
}
