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
	"context"
	"net/http"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/shiioo-io/controlplane/internal/tenant"
	"github.com/shiioo-io/controlplane/internal/workflowspec"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.RunIndex == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"runs": []interface{}{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": s.RunIndex.ListRuns()})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.RunIndex == nil {
		writeError(w, apierr.New(apierr.NotFound, "run index not configured"))
		return
	}
	run, ok := s.RunIndex.Get(pathVar(r, "id"))
	if !ok {
		writeError(w, apierr.New(apierr.NotFound, "run not found"))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		writeError(w, apierr.New(apierr.NotFound, "event log not configured"))
		return
	}
	events, err := s.Events.GetRunEvents(pathVar(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

type submitJobRequest struct {
	WorkItemID string                    `json:"work_item_id"`
	Workflow   workflowspec.WorkflowSpec `json:"workflow"`
}

// handleSubmitJob accepts a workflow submission and runs it to
// completion in the background, mirroring how a routine fire invokes
// the same executor. The client gets a job_id immediately; the job
// record is only returned in this response (there is no job status
// route), so progress is followed through /api/runs.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.Workflow == nil {
		writeError(w, apierr.New(apierr.Internal, "workflow executor not configured"))
		return
	}

	var req submitJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.WorkItemID == "" {
		req.WorkItemID = ids.New()
	}

	// Tenant-scoped submissions are gated on tenant status and the
	// tenant's run quota before any run is admitted.
	if tid := tenantHeader(r); tid != "" && s.Tenants != nil {
		t, err := s.Tenants.Get(tid)
		if err != nil {
			writeError(w, err)
			return
		}
		if t.Status != tenant.Active {
			writeError(w, apierr.Newf(apierr.Unauthorized, "tenant %s is %s", tid, t.Status))
			return
		}
		var current int64
		if s.RunIndex != nil {
			current = int64(len(s.RunIndex.ListRuns()))
		}
		if err := s.Tenants.CheckQuota(tid, "runs", current, 1); err != nil {
			writeError(w, err)
			return
		}
	}

	jobID := ids.New()
	job := &jobRecord{ID: jobID, Message: "accepted"}
	s.jobMu.Lock()
	s.jobs[jobID] = job
	s.jobMu.Unlock()

	go func() {
		run, err := s.Workflow.Execute(context.Background(), req.WorkItemID, req.Workflow)
		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		if err != nil {
			job.Message = err.Error()
			return
		}
		job.RunID = run.ID
		job.Message = "completed"
	}()

	writeJSON(w, http.StatusAccepted, job)
}
