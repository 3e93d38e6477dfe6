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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		component      string
		instanceID     string
		expectedInstID string
	}{
		{name: "with instance ID set", component: "test-component", instanceID: "instance-123", expectedInstID: "instance-123"},
		{name: "without instance ID", component: "workflow-executor", instanceID: "", expectedInstID: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.instanceID != "" {
				if err := os.Setenv("INSTANCE_ID", tt.instanceID); err != nil {
					t.Fatalf("failed to set INSTANCE_ID: %v", err)
				}
				defer os.Unsetenv("INSTANCE_ID")
			} else {
				os.Unsetenv("INSTANCE_ID")
			}

			l := New(tt.component)

			if l.Component != tt.component {
				t.Errorf("expected component %s, got %s", tt.component, l.Component)
			}
			if l.InstanceID != tt.expectedInstID {
				t.Errorf("expected instance ID %s, got %s", tt.expectedInstID, l.InstanceID)
			}
			if l.Container == "" {
				t.Error("expected container to be set from hostname")
			}
		})
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*Logger, Ctx, string, map[string]interface{})
		level   Level
	}{
		{name: "Info", logFunc: (*Logger).Info, level: INFO},
		{name: "Error", logFunc: (*Logger).Error, level: ERROR},
		{name: "Warn", logFunc: (*Logger).Warn, level: WARN},
		{name: "Debug", logFunc: (*Logger).Debug, level: DEBUG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log.SetOutput(&buf)
			defer log.SetOutput(os.Stderr)

			l := New("test-component")
			ctx := Ctx{TenantID: "tenant-1", RunID: "run-1", StepID: "step-1"}
			tt.logFunc(l, ctx, "hello", map[string]interface{}{"key": "value"})

			entry := parseEntry(t, buf.String())
			if entry.Level != tt.level {
				t.Errorf("expected level %s, got %s", tt.level, entry.Level)
			}
			if entry.TenantID != "tenant-1" || entry.RunID != "run-1" || entry.StepID != "step-1" {
				t.Errorf("correlation ids not carried through: %+v", entry)
			}
			if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
				t.Errorf("invalid timestamp: %s", entry.Timestamp)
			}
			if entry.Fields["key"] != "value" {
				t.Errorf("expected field key=value, got %v", entry.Fields["key"])
			}
		})
	}
}

func TestErrorWithErr(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	l := New("test-component")
	l.ErrorWithErr(Ctx{RunID: "run-1"}, "step failed", &testError{msg: "boom"}, map[string]interface{}{"attempt": 2})

	entry := parseEntry(t, buf.String())
	if entry.Level != ERROR {
		t.Errorf("expected ERROR level, got %s", entry.Level)
	}
	if entry.Fields["error"] != "boom" {
		t.Errorf("expected error field boom, got %v", entry.Fields["error"])
	}
}

func TestMarshalFailureDoesNotPanic(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	l := New("test-component")
	ch := make(chan int)
	l.Info(Ctx{}, "unmarshalable field", map[string]interface{}{"channel": ch})

	if !strings.Contains(buf.String(), "failed to marshal log entry") {
		t.Error("expected marshal-failure error message")
	}
}

func parseEntry(t *testing.T, output string) Entry {
	t.Helper()
	jsonStart := strings.Index(output, "{")
	if jsonStart == -1 {
		t.Fatalf("no JSON found in log output: %s", output)
	}
	var entry Entry
	if err := json.Unmarshal([]byte(strings.TrimSpace(output[jsonStart:])), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\noutput: %s", err, output)
	}
	return entry
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func BenchmarkLog(b *testing.B) {
	l := New("benchmark-component")
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	fields := map[string]interface{}{"attempt": 1, "duration": 45.67, "success": true}
	ctx := Ctx{TenantID: "tenant-1", RunID: "run-1"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Info(ctx, "processing step", fields)
	}
}
