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

// Package eventlog is the append-only, per-run, date-partitioned event
// stream. Events are buffered in memory and flushed to gzip-compressed
// JSONL files once the buffer crosses a soft threshold or a reader asks
// for a run's events.
package eventlog

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/shared/logger"
)

// EventType is the discriminator of the tagged-variant event alphabet.
type EventType string

const (
	RunStarted             EventType = "RunStarted"
	RunCompleted           EventType = "RunCompleted"
	RunFailed              EventType = "RunFailed"
	RunCancelled           EventType = "RunCancelled"
	StepScheduled          EventType = "StepScheduled"
	StepStarted            EventType = "StepStarted"
	StepCompleted          EventType = "StepCompleted"
	StepFailed             EventType = "StepFailed"
	StepSkipped            EventType = "StepSkipped"
	AgentMessage           EventType = "AgentMessage"
	ToolCallProposed       EventType = "ToolCallProposed"
	ToolCallApproved       EventType = "ToolCallApproved"
	ToolCallDenied         EventType = "ToolCallDenied"
	ToolCallExecuted       EventType = "ToolCallExecuted"
	ApprovalRequested      EventType = "ApprovalRequested"
	ApprovalGranted        EventType = "ApprovalGranted"
	ApprovalRejected       EventType = "ApprovalRejected"
	ArtifactProduced       EventType = "ArtifactProduced"
	ConfigProposalCreated  EventType = "ConfigProposalCreated"
	ConfigDiffGenerated    EventType = "ConfigDiffGenerated"
	ConfigApplied          EventType = "ConfigApplied"
	ConfigRolledBack       EventType = "ConfigRolledBack"
	CapacitySourceUsed     EventType = "CapacitySourceUsed"
	CapacitySourceThrottled EventType = "CapacitySourceThrottled"
)

// Event is one record in the log.
type Event struct {
	ID        string                 `json:"id"`
	RunID     string                 `json:"run_id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"event_type"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

const flushThreshold = 100

// Log is the per-run event log rooted at <dataDir>/events.
type Log struct {
	root string
	log  *logger.Logger

	mu     sync.Mutex
	buffer []Event
}

// New returns a Log rooted at <dataDir>/events.
func New(dataDir string, log *logger.Logger) (*Log, error) {
	root := filepath.Join(dataDir, "events")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apierr.Newf(apierr.StorageError, "create event root: %v", err)
	}
	return &Log{root: root, log: log}, nil
}

// Append adds event to the buffer, flushing if the soft threshold is
// crossed.
func (l *Log) Append(e Event) error {
	l.mu.Lock()
	l.buffer = append(l.buffer, e)
	shouldFlush := len(l.buffer) > flushThreshold
	l.mu.Unlock()

	if shouldFlush {
		return l.Flush()
	}
	return nil
}

// partitionKey groups an event by the date partition and run it belongs
// to.
type partitionKey struct {
	date  string // YYYY/MM/DD
	runID string
}

// Flush persists every buffered event to its date-partitioned file.
func (l *Log) Flush() error {
	l.mu.Lock()
	pending := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	grouped := make(map[partitionKey][]Event)
	for _, e := range pending {
		k := partitionKey{date: e.Timestamp.UTC().Format("2006/01/02"), runID: e.RunID}
		grouped[k] = append(grouped[k], e)
	}

	for k, events := range grouped {
		if err := l.appendToPartition(k, events); err != nil {
			return err
		}
	}

	if l.log != nil {
		l.log.Debug(logger.Ctx{}, "event log flushed", map[string]interface{}{"events": len(pending)})
	}
	return nil
}

func (l *Log) pathFor(k partitionKey) string {
	return filepath.Join(l.root, k.date, k.runID+".jsonl.gz")
}

// appendToPartition decompresses the existing partition file (if any),
// appends the new lines, and rewrites it. Events within a run are small
// in volume for this control plane, so read-modify-rewrite is acceptable.
func (l *Log) appendToPartition(k partitionKey, events []Event) error {
	path := l.pathFor(k)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierr.Newf(apierr.StorageError, "create partition dir: %v", err)
	}

	var existing []string
	if f, err := os.Open(path); err == nil {
		gz, gzErr := gzip.NewReader(f)
		if gzErr == nil {
			scanner := bufio.NewScanner(gz)
			scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
			for scanner.Scan() {
				existing = append(existing, scanner.Text())
			}
			gz.Close()
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return apierr.Newf(apierr.StorageError, "open partition: %v", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return apierr.Newf(apierr.StorageError, "create partition: %v", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	w := bufio.NewWriter(gz)

	for _, line := range existing {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return apierr.Newf(apierr.Internal, "marshal event: %v", err)
		}
		w.Write(b)
		w.WriteByte('\n')
	}
	return w.Flush()
}

// GetRunEvents returns every event ever appended for run, sorted by
// timestamp ascending. It flushes the in-memory buffer first so that a
// read always observes everything appended before the call returns.
func (l *Log) GetRunEvents(runID string) ([]Event, error) {
	if err := l.Flush(); err != nil {
		return nil, err
	}

	var all []Event
	err := filepath.Walk(l.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Base(path) != runID+".jsonl.gz" {
			return nil
		}
		events, err := readPartition(path)
		if err != nil {
			return err
		}
		all = append(all, events...)
		return nil
	})
	if err != nil {
		return nil, apierr.Newf(apierr.StorageError, "walk event root: %v", err)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

// GetRunEventsRange returns events for run within [start, end] inclusive.
func (l *Log) GetRunEventsRange(runID string, start, end time.Time) ([]Event, error) {
	all, err := l.GetRunEvents(runID)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range all {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func readPartition(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apierr.Newf(apierr.StorageError, "open partition: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, apierr.Newf(apierr.StorageError, "open gzip reader: %v", err)
	}
	defer gz.Close()

	var events []Event
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, apierr.Newf(apierr.Internal, "unmarshal event: %v", err)
		}
		events = append(events, e)
	}
	return events, nil
}
