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

// Package workflowspec holds the workflow/step declaration types shared
// by the DAG builder, step executor, workflow executor, and template
// instantiator.
package workflowspec

// ActionKind discriminates the StepSpec.Action tagged variant.
type ActionKind string

const (
	ActionAgentTask       ActionKind = "AgentTask"
	ActionToolSequence    ActionKind = "ToolSequence"
	ActionManualApproval  ActionKind = "ManualApproval"
	ActionScript          ActionKind = "Script"
)

// Action is the tagged variant of what a step actually does.
type Action struct {
	Kind ActionKind `json:"kind"`

	Prompt     string   `json:"prompt,omitempty"`      // AgentTask
	Tools      []string `json:"tools,omitempty"`       // ToolSequence
	Approvers  []string `json:"approvers,omitempty"`   // ManualApproval
	Command    string   `json:"command,omitempty"`     // Script
	Args       []string `json:"args,omitempty"`        // Script
}

// RetryPolicy controls step retry behavior.
type RetryPolicy struct {
	MaxAttempts int `json:"max_attempts"`
	BackoffSecs int `json:"backoff_secs"`
}

// StepSpec is one node of a workflow DAG.
type StepSpec struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Role        string       `json:"role"`
	Action      Action       `json:"action"`
	TimeoutSecs *int         `json:"timeout_secs,omitempty"`
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty"`

	// RequiresApproval gates the step's action behind an approval vote
	// before it runs, whatever the action kind. The step executor uses
	// Action.Approvers as the voter roster, falling back to Role when the
	// action carries no approver list.
	RequiresApproval bool `json:"requires_approval"`
}

// WorkflowSpec is the full DAG declaration: an ordered step list plus a
// dependency mapping from step id to its prerequisite step ids.
type WorkflowSpec struct {
	Name   string              `json:"name"`
	Steps  []StepSpec          `json:"steps"`
	DepMap map[string][]string `json:"dependencies"`
}

// StepIDs implements dag.WorkflowLike.
func (w WorkflowSpec) StepIDs() []string {
	ids := make([]string, len(w.Steps))
	for i, s := range w.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Dependencies implements dag.WorkflowLike.
func (w WorkflowSpec) Dependencies() map[string][]string {
	return w.DepMap
}

// StepByID returns the StepSpec with the given id, or (zero, false).
func (w WorkflowSpec) StepByID(id string) (StepSpec, bool) {
	for _, s := range w.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepSpec{}, false
}
