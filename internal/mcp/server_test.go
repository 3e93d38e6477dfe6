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
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRunLister struct{ runs []RunSummary }

func (f fakeRunLister) ListRuns() []RunSummary { return f.runs }

type fakeEventReader struct {
	events map[string][]EventSummary
}

func (f fakeEventReader) GetRunEvents(runID string) ([]EventSummary, error) {
	return f.events[runID], nil
}

func newTestServer() (*Server, *Registry) {
	registry := NewRegistry()
	registry.Register(&ListRunsTool{Runs: fakeRunLister{runs: []RunSummary{
		{ID: "run-1", WorkItemID: "wi-1", Status: "Completed", StartedAt: "2026-01-01T00:00:00Z"},
	}}})
	registry.Register(&GetRunEventsTool{Events: fakeEventReader{events: map[string][]EventSummary{
		"run-1": {{ID: "evt-1", Type: "RunStarted", Timestamp: "2026-01-01T00:00:00Z"}},
	}}})
	return New(registry, nil), registry
}

func sendLines(t *testing.T, s *Server, lines ...string) []Response {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	require.NoError(t, s.Serve(in, &out))

	var resps []Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var r Response
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		resps = append(resps, r)
	}
	return resps
}

func TestToolsListBeforeInitializeIsRejected(t *testing.T) {
	s, _ := newTestServer()
	resps := sendLines(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	require.Equal(t, -32002, resps[0].Error.Code)
}

func TestInitializeThenListToolsReturnsRegisteredTools(t *testing.T) {
	s, _ := newTestServer()
	resps := sendLines(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	require.Len(t, resps, 2)
	require.Nil(t, resps[0].Error)
	require.Nil(t, resps[1].Error)

	body, err := json.Marshal(resps[1].Result)
	require.NoError(t, err)
	var listResult ListToolsResult
	require.NoError(t, json.Unmarshal(body, &listResult))
	require.Len(t, listResult.Tools, 2)

	names := []string{listResult.Tools[0].Name, listResult.Tools[1].Name}
	require.ElementsMatch(t, []string{"list_runs", "get_run_events"}, names)
}

func TestToolsCallListRuns(t *testing.T) {
	s, _ := newTestServer()
	resps := sendLines(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_runs","arguments":{}}}`,
	)
	require.Len(t, resps, 2)
	require.Nil(t, resps[1].Error)

	body, err := json.Marshal(resps[1].Result)
	require.NoError(t, err)
	var callResult CallToolResult
	require.NoError(t, json.Unmarshal(body, &callResult))
	require.False(t, callResult.IsError)
	require.Len(t, callResult.Content, 1)
	require.Contains(t, callResult.Content[0].Text, "run-1")
}

func TestToolsCallGetRunEventsMissingRunID(t *testing.T) {
	s, _ := newTestServer()
	resps := sendLines(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_run_events","arguments":{}}}`,
	)
	body, err := json.Marshal(resps[1].Result)
	require.NoError(t, err)
	var callResult CallToolResult
	require.NoError(t, json.Unmarshal(body, &callResult))
	require.True(t, callResult.IsError)
}

func TestToolsCallUnknownTool(t *testing.T) {
	s, _ := newTestServer()
	resps := sendLines(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"nonexistent","arguments":{}}}`,
	)
	require.NotNil(t, resps[1].Error)
	require.Equal(t, -32001, resps[1].Error.Code)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s, _ := newTestServer()
	resps := sendLines(t, s, `{"jsonrpc":"2.0","id":1,"method":"bogus"}`)
	require.NotNil(t, resps[0].Error)
	require.Equal(t, -32601, resps[0].Error.Code)
}

func TestMalformedLineReturnsParseError(t *testing.T) {
	s, _ := newTestServer()
	resps := sendLines(t, s, `not json`)
	require.NotNil(t, resps[0].Error)
	require.Equal(t, -32700, resps[0].Error.Code)
}
