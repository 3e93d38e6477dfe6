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
	"github.com/shiioo-io/controlplane/internal/cluster"
)

func (s *Server) mountClusterRoutes(r *mux.Router) {
	r.HandleFunc("/api/cluster/nodes", s.handleListOrRegisterNode).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/cluster/nodes/{id}", s.handleGetOrDeleteNode).Methods(http.MethodGet, http.MethodDelete)
	r.HandleFunc("/api/cluster/nodes/{id}/heartbeat", s.handleNodeHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/api/cluster/leader", s.handleClusterLeader).Methods(http.MethodGet)
	r.HandleFunc("/api/cluster/health", s.handleClusterHealth).Methods(http.MethodGet)
}

func (s *Server) handleListOrRegisterNode(w http.ResponseWriter, r *http.Request) {
	if s.Cluster == nil {
		writeError(w, apierr.New(apierr.Internal, "cluster manager not configured"))
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": s.Cluster.List()})
		return
	}

	var req struct {
		ID       string            `json:"id"`
		Address  string            `json:"address"`
		Region   string            `json:"region,omitempty"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	node := s.Cluster.RegisterWithMetadata(req.ID, req.Address, req.Region, req.Metadata)
	writeJSON(w, http.StatusCreated, node)
}

func (s *Server) handleGetOrDeleteNode(w http.ResponseWriter, r *http.Request) {
	if s.Cluster == nil {
		writeError(w, apierr.New(apierr.Internal, "cluster manager not configured"))
		return
	}
	id := pathVar(r, "id")
	if r.Method == http.MethodDelete {
		s.Cluster.Remove(id)
		writeJSON(w, http.StatusOK, nil)
		return
	}
	node, ok := s.Cluster.Get(id)
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "node not found"))
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleNodeHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.Cluster == nil {
		writeError(w, apierr.New(apierr.Internal, "cluster manager not configured"))
		return
	}
	if err := s.Cluster.Heartbeat(pathVar(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleClusterLeader(w http.ResponseWriter, r *http.Request) {
	if s.Cluster == nil {
		writeError(w, apierr.New(apierr.Internal, "cluster manager not configured"))
		return
	}
	for _, n := range s.Cluster.List() {
		if n.Role == cluster.Leader {
			writeJSON(w, http.StatusOK, n)
			return
		}
	}
	writeError(w, apierr.New(apierr.NotFound, "no leader elected"))
}

func (s *Server) handleClusterHealth(w http.ResponseWriter, r *http.Request) {
	if s.Cluster == nil {
		writeError(w, apierr.New(apierr.Internal, "cluster manager not configured"))
		return
	}
	nodes := s.Cluster.List()
	counts := map[cluster.Status]int{}
	for _, n := range nodes {
		counts[n.Status]++
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes":        nodes,
		"status_count": counts,
	})
}
