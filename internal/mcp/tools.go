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

package mcp

import (
	"encoding/json"
	"fmt"
)

// Tool is one MCP-callable operation bound to a core read path.
type Tool interface {
	Schema() ToolSchema
	Execute(args json.RawMessage) (CallToolResult, error)
}

// Registry holds the tools a server exposes, keyed by name.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, overwriting any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	name := t.Schema().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ListSchemas returns the registered tools' schemas in registration order.
func (r *Registry) ListSchemas() []ToolSchema {
	schemas := make([]ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}

// RunLister is the subset of the run index a tool needs: list runs, most
// recently started first.
type RunLister interface {
	ListRuns() []RunSummary
}

// RunSummary is the minimal run projection the list_runs tool returns.
type RunSummary struct {
	ID         string `json:"id"`
	WorkItemID string `json:"work_item_id"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
}

// EventReader is the subset of the event log a tool needs: events for one
// run, sorted by timestamp ascending.
type EventReader interface {
	GetRunEvents(runID string) ([]EventSummary, error)
}

// EventSummary is the minimal event projection the get_run_events tool
// returns.
type EventSummary struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// ListRunsTool exposes the run index's ListRuns as an MCP tool.
type ListRunsTool struct {
	Runs RunLister
}

// Schema implements Tool.
func (t *ListRunsTool) Schema() ToolSchema {
	return ToolSchema{
		Name:        "list_runs",
		Description: "List all workflow runs known to the control plane, most recently started first.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}
}

// Execute implements Tool.
func (t *ListRunsTool) Execute(_ json.RawMessage) (CallToolResult, error) {
	runs := t.Runs.ListRuns()
	body, err := json.Marshal(runs)
	if err != nil {
		return CallToolResult{}, err
	}
	return textContent(string(body)), nil
}

// GetRunEventsTool exposes the event log's GetRunEvents as an MCP tool.
type GetRunEventsTool struct {
	Events EventReader
}

type getRunEventsArgs struct {
	RunID string `json:"run_id"`
}

// Schema implements Tool.
func (t *GetRunEventsTool) Schema() ToolSchema {
	return ToolSchema{
		Name:        "get_run_events",
		Description: "Fetch the ordered event stream for one workflow run by id.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"run_id": map[string]interface{}{"type": "string"},
			},
			"required": []string{"run_id"},
		},
	}
}

// Execute implements Tool.
func (t *GetRunEventsTool) Execute(args json.RawMessage) (CallToolResult, error) {
	var parsed getRunEventsArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return errorContent(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if parsed.RunID == "" {
		return errorContent("run_id is required"), nil
	}
	events, err := t.Events.GetRunEvents(parsed.RunID)
	if err != nil {
		return errorContent(err.Error()), nil
	}
	body, err := json.Marshal(events)
	if err != nil {
		return CallToolResult{}, err
	}
	return textContent(string(body)), nil
}
