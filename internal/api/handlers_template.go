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
	"github.com/shiioo-io/controlplane/internal/template"
)

func (s *Server) mountTemplateRoutes(r *mux.Router) {
	r.HandleFunc("/api/templates", s.handleListOrCreateTemplate).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/templates/{id}", s.handleGetOrDeleteTemplate).Methods(http.MethodGet, http.MethodDelete)
	r.HandleFunc("/api/templates/{id}/instantiate", s.handleInstantiateTemplate).Methods(http.MethodPost)
}

func (s *Server) handleListOrCreateTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.tplMu.RLock()
		defer s.tplMu.RUnlock()
		out := make([]template.Template, 0, len(s.templates))
		for _, t := range s.templates {
			out = append(out, t)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"templates": out})
		return
	}

	var t template.Template
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, err)
		return
	}
	s.tplMu.Lock()
	s.templates[t.ID] = t
	s.tplMu.Unlock()
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetOrDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if r.Method == http.MethodDelete {
		s.tplMu.Lock()
		delete(s.templates, id)
		s.tplMu.Unlock()
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s.tplMu.RLock()
	t, ok := s.templates[id]
	s.tplMu.RUnlock()
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "template not found"))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleInstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	s.tplMu.RLock()
	t, ok := s.templates[pathVar(r, "id")]
	s.tplMu.RUnlock()
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "template not found"))
		return
	}

	var instance template.Instance
	if err := decodeJSON(r, &instance); err != nil {
		writeError(w, err)
		return
	}
	wf, err := template.Instantiate(t, instance)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}
