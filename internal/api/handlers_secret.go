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
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/audit"
	"github.com/shiioo-io/controlplane/internal/compliance"
	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/shiioo-io/controlplane/internal/secret"
)

func (s *Server) mountSecretRoutes(r *mux.Router) {
	r.HandleFunc("/api/secrets", s.handleListOrCreateSecret).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/secrets/{id}", s.handleGetOrUpdateOrDeleteSecret).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	r.HandleFunc("/api/secrets/{id}/rotate", s.handleRotateSecret).Methods(http.MethodPost)
	r.HandleFunc("/api/secrets/{id}/value", s.handleSecretValue).Methods(http.MethodGet)
	r.HandleFunc("/api/secrets/{id}/versions", s.handleSecretVersions).Methods(http.MethodGet)
	r.HandleFunc("/api/secrets/rotation/needed", s.handleSecretsNeedingRotation).Methods(http.MethodGet)
}

func (s *Server) handleListOrCreateSecret(w http.ResponseWriter, r *http.Request) {
	if s.Secrets == nil {
		writeError(w, apierr.New(apierr.Internal, "secret store not configured"))
		return
	}
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]interface{}{"secrets": s.Secrets.List()})
		return
	}

	var req struct {
		Name     string                `json:"name"`
		Value    string                `json:"value"`
		Rotation secret.RotationPolicy `json:"rotation_policy"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sec, err := s.Secrets.Create(ids.New(), req.Name, []byte(req.Value), req.Rotation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sec)
}

func (s *Server) handleGetOrUpdateOrDeleteSecret(w http.ResponseWriter, r *http.Request) {
	if s.Secrets == nil {
		writeError(w, apierr.New(apierr.Internal, "secret store not configured"))
		return
	}
	id := pathVar(r, "id")
	switch r.Method {
	case http.MethodDelete:
		if err := s.Secrets.Delete(id); err != nil {
			writeError(w, err)
			return
		}
		s.recordAudit(r, compliance.CategoryDataModification, audit.SeverityWarning, compliance.ActionDataDeleted)
		writeJSON(w, http.StatusOK, nil)
	case http.MethodPut:
		var req struct {
			Rotation secret.RotationPolicy `json:"rotation_policy"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		sec, err := s.Secrets.UpdatePolicy(id, req.Rotation)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sec)
	default:
		sec, err := s.Secrets.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sec)
	}
}

func (s *Server) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	if s.Secrets == nil {
		writeError(w, apierr.New(apierr.Internal, "secret store not configured"))
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sec, err := s.Secrets.Rotate(pathVar(r, "id"), []byte(req.Value))
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordAudit(r, compliance.CategoryDataModification, audit.SeverityInfo, "secret_rotated")
	writeJSON(w, http.StatusOK, sec)
}

func (s *Server) handleSecretValue(w http.ResponseWriter, r *http.Request) {
	if s.Secrets == nil {
		writeError(w, apierr.New(apierr.Internal, "secret store not configured"))
		return
	}
	id := pathVar(r, "id")
	if v := r.URL.Query().Get("version"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apierr.New(apierr.InvalidInput, "version must be an integer"))
			return
		}
		value, err := s.Secrets.GetValueVersion(id, version)
		if err != nil {
			writeError(w, err)
			return
		}
		s.recordAudit(r, compliance.CategoryAccessControl, audit.SeverityInfo, compliance.ActionSecretAccessed)
		writeJSON(w, http.StatusOK, map[string]string{"value": base64.StdEncoding.EncodeToString(value)})
		return
	}
	value, err := s.Secrets.GetValue(id)
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordAudit(r, compliance.CategoryAccessControl, audit.SeverityInfo, compliance.ActionSecretAccessed)
	writeJSON(w, http.StatusOK, map[string]string{"value": base64.StdEncoding.EncodeToString(value)})
}

func (s *Server) handleSecretVersions(w http.ResponseWriter, r *http.Request) {
	if s.Secrets == nil {
		writeError(w, apierr.New(apierr.Internal, "secret store not configured"))
		return
	}
	versions, err := s.Secrets.VersionHistory(pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

func (s *Server) handleSecretsNeedingRotation(w http.ResponseWriter, r *http.Request) {
	if s.Secrets == nil {
		writeError(w, apierr.New(apierr.Internal, "secret store not configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"secrets": s.Secrets.NeedingRotation()})
}
