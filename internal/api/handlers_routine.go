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
	"github.com/shiioo-io/controlplane/internal/routine"
)

func (s *Server) mountRoutineRoutes(r *mux.Router) {
	r.HandleFunc("/api/routines", s.handleListOrRegisterRoutine).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/routines/{id}", s.handleGetOrDeleteRoutine).Methods(http.MethodGet, http.MethodDelete)
	r.HandleFunc("/api/routines/{id}/enable", s.handleEnableRoutine).Methods(http.MethodPost)
	r.HandleFunc("/api/routines/{id}/disable", s.handleDisableRoutine).Methods(http.MethodPost)
	r.HandleFunc("/api/routines/{id}/executions", s.handleRoutineExecutions).Methods(http.MethodGet)
}

func (s *Server) handleListOrRegisterRoutine(w http.ResponseWriter, r *http.Request) {
	if s.Routines == nil {
		writeError(w, apierr.New(apierr.Internal, "routine scheduler not configured"))
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]interface{}{"routines": s.Routines.List()})
		return
	}

	var reg routine.Routine
	if err := decodeJSON(r, &reg); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.Routines.Register(reg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetOrDeleteRoutine(w http.ResponseWriter, r *http.Request) {
	if s.Routines == nil {
		writeError(w, apierr.New(apierr.Internal, "routine scheduler not configured"))
		return
	}
	id := pathVar(r, "id")
	if r.Method == http.MethodDelete {
		s.Routines.Unregister(id)
		writeJSON(w, http.StatusOK, nil)
		return
	}
	routineVal, ok := s.Routines.Get(id)
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "routine not found"))
		return
	}
	writeJSON(w, http.StatusOK, routineVal)
}

func (s *Server) handleEnableRoutine(w http.ResponseWriter, r *http.Request) {
	if s.Routines == nil {
		writeError(w, apierr.New(apierr.Internal, "routine scheduler not configured"))
		return
	}
	if err := s.Routines.Enable(pathVar(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleDisableRoutine(w http.ResponseWriter, r *http.Request) {
	if s.Routines == nil {
		writeError(w, apierr.New(apierr.Internal, "routine scheduler not configured"))
		return
	}
	if err := s.Routines.Disable(pathVar(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleRoutineExecutions(w http.ResponseWriter, r *http.Request) {
	if s.Routines == nil {
		writeError(w, apierr.New(apierr.Internal, "routine scheduler not configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"executions": s.Routines.Executions(pathVar(r, "id"))})
}
