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
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/shiioo-io/controlplane/shared/logger"
)

// Server is a JSON-RPC-over-stdio MCP server: it reads one request per
// line, dispatches it, and writes one response per line. The registry is
// fixed at construction; tools/list and tools/call are rejected with
// "server not initialized" until the client sends initialize, mirroring
// the handshake every MCP client performs before issuing tool calls.
type Server struct {
	registry    *Registry
	mu          sync.Mutex
	initialized bool
	log         *logger.Logger
}

// New returns a Server exposing the given registry's tools.
func New(registry *Registry, log *logger.Logger) *Server {
	return &Server{registry: registry, log: log}
}

// Serve reads newline-delimited JSON-RPC requests from r and writes
// newline-delimited responses to w until r is exhausted or returns an
// error other than io.EOF.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		resp := s.handle(line)
		body, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(body, '\n')); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) handle(line string) Response {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return errorResponse(nil, parseError())
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(req)
	default:
		if s.log != nil {
			s.log.Warn(logger.Ctx{}, "mcp: unknown method", map[string]interface{}{"method": req.Method})
		}
		return errorResponse(req.ID, methodNotFound(req.Method))
	}
}

func (s *Server) handleInitialize(req Request) Response {
	if len(req.Params) == 0 {
		return errorResponse(req.ID, invalidParams("missing initialize params"))
	}
	var params InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, invalidParams("invalid initialize params: "+err.Error()))
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	return successResponse(req.ID, InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{ListChanged: false}},
		ServerInfo:      ServerInfo{Name: serverName, Version: serverVersion},
	})
}

func (s *Server) handleToolsList(req Request) Response {
	if !s.isInitialized() {
		return errorResponse(req.ID, notInitialized())
	}
	return successResponse(req.ID, ListToolsResult{Tools: s.registry.ListSchemas()})
}

func (s *Server) handleToolsCall(req Request) Response {
	if !s.isInitialized() {
		return errorResponse(req.ID, notInitialized())
	}
	if len(req.Params) == 0 {
		return errorResponse(req.ID, invalidParams("missing tool call params"))
	}
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, invalidParams("invalid tool call params: "+err.Error()))
	}

	tool, ok := s.registry.Get(params.Name)
	if !ok {
		return errorResponse(req.ID, toolNotFound(params.Name))
	}

	result, err := tool.Execute(params.Arguments)
	if err != nil {
		return successResponse(req.ID, errorContent("tool execution failed: "+err.Error()))
	}
	return successResponse(req.ID, result)
}

func (s *Server) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}
