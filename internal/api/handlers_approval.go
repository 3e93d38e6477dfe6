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
	"github.com/shiioo-io/controlplane/internal/approval"
	"github.com/shiioo-io/controlplane/internal/ids"
)

func (s *Server) mountApprovalRoutes(r *mux.Router) {
	r.HandleFunc("/api/approval-boards", s.handleListOrCreateBoard).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/approval-boards/{id}", s.handleGetOrDeleteBoard).Methods(http.MethodGet, http.MethodDelete)
	r.HandleFunc("/api/approvals", s.handleListOrCreateApproval).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/approvals/{id}", s.handleGetApproval).Methods(http.MethodGet)
	r.HandleFunc("/api/approvals/{id}/vote", s.handleCastVote).Methods(http.MethodPost)
}

func (s *Server) handleListOrCreateBoard(w http.ResponseWriter, r *http.Request) {
	if s.Approvals == nil {
		writeError(w, apierr.New(apierr.Internal, "approval manager not configured"))
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]interface{}{"boards": s.Approvals.ListBoards()})
		return
	}

	var b approval.Board
	if err := decodeJSON(r, &b); err != nil {
		writeError(w, err)
		return
	}
	if b.ID == "" {
		b.ID = ids.New()
	}
	s.Approvals.CreateBoard(b)
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetOrDeleteBoard(w http.ResponseWriter, r *http.Request) {
	if s.Approvals == nil {
		writeError(w, apierr.New(apierr.Internal, "approval manager not configured"))
		return
	}
	id := pathVar(r, "id")
	if r.Method == http.MethodDelete {
		s.Approvals.DeleteBoard(id)
		writeJSON(w, http.StatusOK, nil)
		return
	}
	b, ok := s.Approvals.GetBoard(id)
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "board not found"))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListOrCreateApproval(w http.ResponseWriter, r *http.Request) {
	if s.Approvals == nil {
		writeError(w, apierr.New(apierr.Internal, "approval manager not configured"))
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": s.Approvals.ListApprovals()})
		return
	}

	var req struct {
		BoardID string `json:"board_id"`
		Subject string `json:"subject"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.Approvals.CreateApproval(ids.New(), req.BoardID, req.Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	if s.Approvals == nil {
		writeError(w, apierr.New(apierr.Internal, "approval manager not configured"))
		return
	}
	a, ok := s.Approvals.Get(pathVar(r, "id"))
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "approval not found"))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	if s.Approvals == nil {
		writeError(w, apierr.New(apierr.Internal, "approval manager not configured"))
		return
	}
	var req struct {
		VoterID  string            `json:"voter_id"`
		Decision approval.Decision `json:"decision"`
		Comment  string            `json:"comment,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.Approvals.CastVote(pathVar(r, "id"), req.VoterID, req.Decision, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
