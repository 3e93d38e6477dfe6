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
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shiioo-io/controlplane/internal/workflow"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMsg is a message sent by a websocket client to change its subscription.
type clientMsg struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
}

// serverMsg is a message pushed by the hub to subscribed clients.
type serverMsg struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

const (
	msgSubscribeAll      = "SubscribeAll"
	msgSubscribeWorkflow = "SubscribeWorkflow"
	msgSubscribeMetrics  = "SubscribeMetrics"
	msgSubscribeHealth   = "SubscribeHealth"
	msgUnsubscribe       = "Unsubscribe"

	msgWorkflowUpdate = "WorkflowUpdate"
	msgStepUpdate     = "StepUpdate"
	msgMetricsUpdate  = "MetricsUpdate"
	msgHealthUpdate   = "HealthUpdate"
	msgSubscribed     = "Subscribed"
	msgError          = "Error"
	msgPing           = "Ping"
	msgPong           = "Pong"
)

type topic struct {
	all      bool
	runID    string
	metrics  bool
	health   bool
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan serverMsg
	mu    sync.Mutex
	topic topic
}

// hub fans out WorkflowUpdate/StepUpdate/MetricsUpdate/HealthUpdate events
// to connected clients according to each client's current subscription.
type hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*wsClient]bool)}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *hub) publishWorkflow(runID string, msgType string, data interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.topic.all || c.topic.runID == runID {
			h.tryDeliver(c, serverMsg{Type: msgType, Data: data})
		}
	}
}

func (h *hub) publishMetrics(data interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.topic.all || c.topic.metrics {
			h.tryDeliver(c, serverMsg{Type: msgMetricsUpdate, Data: data})
		}
	}
}

func (h *hub) publishHealth(data interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.topic.all || c.topic.health {
			h.tryDeliver(c, serverMsg{Type: msgHealthUpdate, Data: data})
		}
	}
}

func (h *hub) tryDeliver(c *wsClient, m serverMsg) {
	select {
	case c.send <- m:
	default:
	}
}

// WorkflowObserver returns a workflow.Analytics sink that streams run
// and step transitions to subscribed websocket clients.
func (s *Server) WorkflowObserver() workflow.Analytics { return runObserver{s} }

type runObserver struct{ s *Server }

func (o runObserver) StartWorkflow(runID, name string) {
	o.s.hub.publishWorkflow(runID, msgWorkflowUpdate, map[string]interface{}{"run_id": runID, "workflow": name, "status": "Running"})
}

func (o runObserver) StartStep(runID, stepID string, attempt int) {
	o.s.hub.publishWorkflow(runID, msgStepUpdate, map[string]interface{}{"run_id": runID, "step_id": stepID, "attempt": attempt, "status": "Running"})
}

func (o runObserver) CompleteStep(runID, stepID string, success bool, errMsg string) {
	status := "Completed"
	if !success {
		status = "Failed"
	}
	data := map[string]interface{}{"run_id": runID, "step_id": stepID, "status": status}
	if errMsg != "" {
		data["error"] = errMsg
	}
	o.s.hub.publishWorkflow(runID, msgStepUpdate, data)
}

func (o runObserver) CompleteWorkflow(runID string, success bool) {
	status := "Completed"
	if !success {
		status = "Failed"
	}
	o.s.hub.publishWorkflow(runID, msgWorkflowUpdate, map[string]interface{}{"run_id": runID, "status": status})
}

// StartBroadcast pushes MetricsUpdate and HealthUpdate snapshots to
// subscribed clients every interval until ctx is done.
func (s *Server) StartBroadcast(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.Metrics != nil {
					s.hub.publishMetrics(s.Metrics.Snapshot())
				}
				s.hub.publishHealth(map[string]string{"status": "ok"})
			}
		}
	}()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsClient{conn: conn, send: make(chan serverMsg, 64)}
	s.hub.register(c)

	go c.writeLoop()
	c.readLoop(s.hub)
}

func (c *wsClient) writeLoop() {
	for m := range c.send {
		c.mu.Lock()
		err := c.conn.WriteJSON(m)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *wsClient) readLoop(h *hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	for {
		var msg clientMsg
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case msgSubscribeAll:
			c.topic = topic{all: true}
			c.send <- serverMsg{Type: msgSubscribed, Data: msg.Type}
		case msgSubscribeWorkflow:
			c.topic = topic{runID: msg.RunID}
			c.send <- serverMsg{Type: msgSubscribed, Data: msg.Type}
		case msgSubscribeMetrics:
			c.topic = topic{metrics: true}
			c.send <- serverMsg{Type: msgSubscribed, Data: msg.Type}
		case msgSubscribeHealth:
			c.topic = topic{health: true}
			c.send <- serverMsg{Type: msgSubscribed, Data: msg.Type}
		case msgUnsubscribe:
			c.topic = topic{}
			c.send <- serverMsg{Type: msgSubscribed, Data: msg.Type}
		case msgPing:
			c.send <- serverMsg{Type: msgPong}
		default:
			c.send <- serverMsg{Type: msgError, Data: "unknown message type"}
		}
	}
}
