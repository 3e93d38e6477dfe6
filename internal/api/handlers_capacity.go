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
	"github.com/shiioo-io/controlplane/internal/capacity"
)

func (s *Server) mountCapacityRoutes(r *mux.Router) {
	r.HandleFunc("/api/capacity/sources", s.handleListOrRegisterSource).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/capacity/sources/{id}", s.handleRemoveSource).Methods(http.MethodDelete)
	r.HandleFunc("/api/capacity/usage", s.handleCapacityUsage).Methods(http.MethodGet)
	r.HandleFunc("/api/capacity/cost", s.handleCapacityCost).Methods(http.MethodGet)
}

func (s *Server) handleListOrRegisterSource(w http.ResponseWriter, r *http.Request) {
	if s.Capacity == nil {
		writeError(w, apierr.New(apierr.Internal, "capacity broker not configured"))
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]interface{}{"sources": s.Capacity.Sources()})
		return
	}

	var src capacity.Source
	if err := decodeJSON(r, &src); err != nil {
		writeError(w, err)
		return
	}
	s.Capacity.RegisterSource(src)
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	if s.Capacity == nil {
		writeError(w, apierr.New(apierr.Internal, "capacity broker not configured"))
		return
	}
	s.Capacity.RemoveSource(pathVar(r, "id"))
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleCapacityUsage(w http.ResponseWriter, r *http.Request) {
	if s.Capacity == nil {
		writeError(w, apierr.New(apierr.Internal, "capacity broker not configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"usage": s.Capacity.Usage()})
}

func (s *Server) handleCapacityCost(w http.ResponseWriter, r *http.Request) {
	if s.Capacity == nil {
		writeError(w, apierr.New(apierr.Internal, "capacity broker not configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"total_cost": s.Capacity.TotalCost()})
}
