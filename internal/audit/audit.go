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

// Package audit is the tamper-evident, hash-chained audit log. Every
// entry's hash covers its id, timestamp, category, severity, action,
// user and tenant plus the previous entry's hash, so mutating any of
// those fields anywhere in the chain is detectable by VerifyChain. The
// IP and Metadata fields are not hashed.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shiioo-io/controlplane/internal/apierr"
	"github.com/shiioo-io/controlplane/internal/ids"
	"github.com/shiioo-io/controlplane/shared/logger"
)

// Severity of an audit entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Entry is one tamper-evident audit record.
type Entry struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	Category     string                 `json:"category"`
	Severity     Severity               `json:"severity"`
	Action       string                 `json:"action"`
	UserID       string                 `json:"user_id,omitempty"`
	TenantID     string                 `json:"tenant_id,omitempty"`
	IP           string                 `json:"ip,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	PreviousHash string                 `json:"previous_hash,omitempty"`
	EntryHash    string                 `json:"entry_hash"`
}

func computeHash(e Entry) (string, error) {
	actionJSON, err := json.Marshal(e.Action)
	if err != nil {
		return "", apierr.Newf(apierr.Internal, "marshal action: %v", err)
	}
	return ids.HashStrings(
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Category,
		string(e.Severity),
		string(actionJSON),
		e.UserID,
		e.TenantID,
		e.PreviousHash,
	), nil
}

// Log is the single hash-chained audit log, persisted as an append-only
// JSONL file.
type Log struct {
	path string
	log  *logger.Logger

	mu      sync.Mutex
	entries []Entry
}

// New loads (or creates) the audit log at <dataDir>/audit.jsonl.
func New(dataDir string, log *logger.Logger) (*Log, error) {
	path := filepath.Join(dataDir, "audit.jsonl")
	l := &Log{path: path, log: log}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apierr.Newf(apierr.StorageError, "create audit dir: %v", err)
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, apierr.Newf(apierr.StorageError, "open audit log: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, apierr.Newf(apierr.StorageError, "parse audit entry: %v", err)
		}
		l.entries = append(l.entries, e)
	}
	return l, nil
}

// Record appends a new entry whose PreviousHash links to the current
// last entry.
func (l *Log) Record(category string, severity Severity, action, userID, tenantID, ip string, metadata map[string]interface{}) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prevHash string
	if n := len(l.entries); n > 0 {
		prevHash = l.entries[n-1].EntryHash
	}

	e := Entry{
		ID:           ids.New(),
		Timestamp:    time.Now().UTC(),
		Category:     category,
		Severity:     severity,
		Action:       action,
		UserID:       userID,
		TenantID:     tenantID,
		IP:           ip,
		Metadata:     metadata,
		PreviousHash: prevHash,
	}
	hash, err := computeHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.EntryHash = hash

	if err := l.appendToFile(e); err != nil {
		return Entry{}, err
	}
	l.entries = append(l.entries, e)

	if l.log != nil {
		l.log.Info(logger.Ctx{TenantID: tenantID}, "audit entry recorded", map[string]interface{}{"category": category, "action": action})
	}
	return e, nil
}

func (l *Log) appendToFile(e Entry) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apierr.Newf(apierr.StorageError, "open audit log for append: %v", err)
	}
	defer f.Close()

	b, err := json.Marshal(e)
	if err != nil {
		return apierr.Newf(apierr.Internal, "marshal audit entry: %v", err)
	}
	b = append(b, '\n')
	if _, err := f.Write(b); err != nil {
		return apierr.Newf(apierr.StorageError, "write audit entry: %v", err)
	}
	return nil
}

// ViolationKind distinguishes the two ways VerifyChain can fail at an
// entry.
type ViolationKind string

const (
	HashMismatch ViolationKind = "hash_mismatch"
	LinkMismatch ViolationKind = "link_mismatch"
)

// Violation describes one chain-integrity failure.
type Violation struct {
	Index int           `json:"index"`
	Kind  ViolationKind `json:"kind"`
}

// VerifyChain recomputes every entry's hash and checks linkage, returning
// every violation found. An empty (nil) slice means the chain is intact.
func (l *Log) VerifyChain() []Violation {
	l.mu.Lock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	var violations []Violation
	var prevHash string
	for i, e := range entries {
		want, err := computeHash(Entry{
			ID: e.ID, Timestamp: e.Timestamp, Category: e.Category, Severity: e.Severity,
			Action: e.Action, UserID: e.UserID, TenantID: e.TenantID, PreviousHash: e.PreviousHash,
		})
		if err != nil || want != e.EntryHash {
			violations = append(violations, Violation{Index: i, Kind: HashMismatch})
		} else if e.PreviousHash != prevHash {
			violations = append(violations, Violation{Index: i, Kind: LinkMismatch})
		}
		prevHash = e.EntryHash
	}
	return violations
}

// Entries returns every entry in append order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Statistics summarizes counts by category and severity.
type Statistics struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	BySeverity map[string]int `json:"by_severity"`
}

// Stats computes Statistics over the whole chain.
func (l *Log) Stats() Statistics {
	entries := l.Entries()
	s := Statistics{ByCategory: map[string]int{}, BySeverity: map[string]int{}}
	for _, e := range entries {
		s.Total++
		s.ByCategory[e.Category]++
		s.BySeverity[string(e.Severity)]++
	}
	return s
}

// EntriesInWindow returns every entry whose timestamp falls within
// [start, end], sorted by timestamp ascending (the log is already
// append-ordered, but this guards against clock skew between callers).
func (l *Log) EntriesInWindow(start, end time.Time) []Entry {
	entries := l.Entries()
	var out []Entry
	for _, e := range entries {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// CountByCategoryAction counts entries matching category and action
// within [start, end].
func (l *Log) CountByCategoryAction(category, action string, start, end time.Time) int {
	n := 0
	for _, e := range l.EntriesInWindow(start, end) {
		if e.Category == category && (action == "" || e.Action == action) {
			n++
		}
	}
	return n
}
