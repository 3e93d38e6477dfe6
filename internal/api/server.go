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

// Package api is the control plane's HTTP+WebSocket front-end: every
// manager built elsewhere in this repo is exposed here behind a gorilla/mux
// router wrapped in rs/cors.
package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/shiioo-io/controlplane/internal/analytics"
	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/approval"
	"github.com/shiioo-io/controlplane/internal/audit"
	"github.com/shiioo-io/controlplane/internal/capacity"
	"github.com/shiioo-io/controlplane/internal/cluster"
	"github.com/shiioo-io/controlplane/internal/compliance"
	"github.com/shiioo-io/controlplane/internal/configchange"
	"github.com/shiioo-io/controlplane/internal/eventlog"
	"github.com/shiioo-io/controlplane/internal/metrics"
	"github.com/shiioo-io/controlplane/internal/org"
	"github.com/shiioo-io/controlplane/internal/rbac"
	"github.com/shiioo-io/controlplane/internal/routine"
	"github.com/shiioo-io/controlplane/internal/runindex"
	"github.com/shiioo-io/controlplane/internal/secret"
	"github.com/shiioo-io/controlplane/internal/template"
	"github.com/shiioo-io/controlplane/internal/tenant"
	"github.com/shiioo-io/controlplane/internal/workflow"
	"github.com/shiioo-io/controlplane/shared/logger"
)

// Server wires every manager into one HTTP/WebSocket surface.
type Server struct {
	Log *logger.Logger

	Events    *eventlog.Log
	RunIndex  *runindex.Index
	Workflow  *workflow.Executor
	Analytics *analytics.Tracker
	Audit     *audit.Log

	RBAC         *rbac.Manager
	Approvals    *approval.Manager
	ConfigChange *configchange.Manager
	Capacity     *capacity.Broker
	Routines     *routine.Scheduler
	Secrets      *secret.Store
	Tenants      *tenant.Manager
	Cluster      *cluster.Manager
	Compliance   *compliance.Checker
	Security     *compliance.SecurityScanner
	Metrics      *metrics.Registry

	orgMu sync.RWMutex
	orgs  map[string]*org.Manager

	tplMu     sync.RWMutex
	templates map[string]template.Template

	jobMu sync.Mutex
	jobs  map[string]*jobRecord

	hub *hub
}

type jobRecord struct {
	ID      string `json:"job_id"`
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message"`
}

// New builds a Server. Every pointer field may be filled in by the
// caller before Router is called; routes whose manager is nil stay mounted
// and answer with an error response (mostly a 500 "not configured").
func New(log *logger.Logger) *Server {
	return &Server{
		Log:       log,
		orgs:      make(map[string]*org.Manager),
		templates: make(map[string]template.Template),
		jobs:      make(map[string]*jobRecord),
		hub:       newHub(),
	}
}

// Router builds the gorilla/mux router wrapped in permissive CORS.
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/runs", s.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}/events", s.handleGetRunEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs", s.handleSubmitJob).Methods(http.MethodPost)

	s.mountRBACRoutes(r)
	s.mountConfigChangeRoutes(r)
	s.mountOrgRoutes(r)
	s.mountTemplateRoutes(r)
	s.mountCapacityRoutes(r)
	s.mountRoutineRoutes(r)
	s.mountApprovalRoutes(r)
	s.mountAnalyticsRoutes(r)
	s.mountSecretRoutes(r)
	s.mountTenantRoutes(r)
	s.mountClusterRoutes(r)
	s.mountAuditRoutes(r)
	s.mountComplianceRoutes(r)

	r.HandleFunc("/api/security/scan", s.handleSecurityScan).Methods(http.MethodPost)

	if s.Metrics != nil {
		r.Handle("/api/metrics", promhttp.HandlerFor(s.Metrics.PrometheusGatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/ws", s.handleWebSocket)

	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := apierr.ToBody(err)
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Newf(apierr.InvalidInput, "invalid request body: %v", err)
	}
	return nil
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func tenantHeader(r *http.Request) string {
	return r.Header.Get("x-tenant-id")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// recordAudit appends an audit entry when the audit log is configured.
// Handlers never fail a request on an audit write error; it is logged
// and the response proceeds.
func (s *Server) recordAudit(r *http.Request, category string, severity audit.Severity, action string) {
	if s.Audit == nil {
		return
	}
	user := rbac.BearerSubject(r.Header.Get("Authorization"))
	if _, err := s.Audit.Record(category, severity, action, user, tenantHeader(r), r.RemoteAddr, nil); err != nil && s.Log != nil {
		s.Log.Warn(logCtx(), "failed to record audit entry", map[string]interface{}{"error": err.Error()})
	}
}

func logCtx() logger.Ctx { return logger.Ctx{} }
