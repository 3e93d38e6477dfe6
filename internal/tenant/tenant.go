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

// Package tenant manages tenants: status transitions, per-resource
// quota checks, and per-tenant storage namespaces rooted at
// <root>/tenants/<tenant_id>/.
package tenant

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shiioo-io/controlplane/internal/apierr"
)

// Status is a tenant's lifecycle state.
type Status string

const (
	Active    Status = "Active"
	Suspended Status = "Suspended"
	Disabled  Status = "Disabled"
)

// Quota maps a resource name (e.g. "blob_bytes", "runs", "routines",
// "secrets") to its cap. A nil entry, or a resource absent from the
// map, means unlimited.
type Quota map[string]*int64

// Tenant is one isolation boundary for storage and quotas.
type Tenant struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Status   Status                 `json:"status"`
	Quota    Quota                  `json:"quota"`
	Settings map[string]interface{} `json:"settings,omitempty"`
}

// StorageStats reports per-tenant on-disk usage.
type StorageStats struct {
	Bytes int64 `json:"bytes"`
	Files int64 `json:"files"`
}

// Manager owns tenant records and their storage sub-roots.
type Manager struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	root    string
}

// New returns a Manager rooted at dataDir (storage layout lives under
// dataDir/tenants/<id>/).
func New(dataDir string) *Manager {
	return &Manager{tenants: make(map[string]*Tenant), root: dataDir}
}

// Register adds a new tenant and provisions its storage sub-root.
func (m *Manager) Register(t Tenant) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[t.ID]; exists {
		return nil, apierr.Newf(apierr.AlreadyExists, "tenant %s already exists", t.ID)
	}
	if t.Status == "" {
		t.Status = Active
	}
	if err := m.provision(t.ID); err != nil {
		return nil, apierr.Newf(apierr.StorageError, "provisioning tenant storage: %v", err)
	}
	m.tenants[t.ID] = &t
	cp := t
	return &cp, nil
}

func (m *Manager) provision(tenantID string) error {
	base := m.TenantRoot(tenantID)
	if err := os.MkdirAll(filepath.Join(base, "blobs"), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(base, "index"), 0o755); err != nil {
		return err
	}
	events := filepath.Join(base, "events.jsonl")
	if _, err := os.Stat(events); os.IsNotExist(err) {
		f, err := os.Create(events)
		if err != nil {
			return err
		}
		f.Close()
	}
	return nil
}

// TenantRoot returns <root>/tenants/<tenant_id>.
func (m *Manager) TenantRoot(tenantID string) string {
	return filepath.Join(m.root, "tenants", tenantID)
}

// Get returns a tenant by id.
func (m *Manager) Get(id string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return Tenant{}, apierr.Newf(apierr.NotFound, "tenant %s not found", id)
	}
	return *t, nil
}

// List returns every tenant.
func (m *Manager) List() []Tenant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, *t)
	}
	return out
}

// Update replaces name/settings/quota for an existing tenant.
func (m *Manager) Update(id string, name string, quota Quota, settings map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return apierr.Newf(apierr.NotFound, "tenant %s not found", id)
	}
	if name != "" {
		t.Name = name
	}
	if quota != nil {
		t.Quota = quota
	}
	if settings != nil {
		t.Settings = settings
	}
	return nil
}

// Suspend moves a tenant to Suspended.
func (m *Manager) Suspend(id string) error { return m.setStatus(id, Suspended) }

// Activate moves a tenant to Active.
func (m *Manager) Activate(id string) error { return m.setStatus(id, Active) }

// Disable moves a tenant to Disabled.
func (m *Manager) Disable(id string) error { return m.setStatus(id, Disabled) }

func (m *Manager) setStatus(id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return apierr.Newf(apierr.NotFound, "tenant %s not found", id)
	}
	t.Status = status
	return nil
}

// Delete removes a tenant record (storage on disk is left in place for
// audit/retention purposes and is not deleted here).
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[id]; !ok {
		return apierr.Newf(apierr.NotFound, "tenant %s not found", id)
	}
	delete(m.tenants, id)
	return nil
}

// CheckQuota signals QuotaExceeded, naming the limit, when requested
// would cross a non-null cap for resource on tenantID.
func (m *Manager) CheckQuota(tenantID, resource string, currentUse, requested int64) error {
	m.mu.RLock()
	t, ok := m.tenants[tenantID]
	m.mu.RUnlock()
	if !ok {
		return apierr.Newf(apierr.NotFound, "tenant %s not found", tenantID)
	}
	cap, ok := t.Quota[resource]
	if !ok || cap == nil {
		return nil
	}
	if currentUse+requested > *cap {
		return apierr.Newf(apierr.QuotaExceeded, "%s quota exceeded", resource).
			WithDetails(fmt.Sprintf("limit=%d current=%d requested=%d", *cap, currentUse, requested))
	}
	return nil
}

// StorageStats walks the tenant's storage sub-root and sums file
// sizes and counts on demand.
func (m *Manager) StorageStats(tenantID string) (StorageStats, error) {
	m.mu.RLock()
	_, ok := m.tenants[tenantID]
	m.mu.RUnlock()
	if !ok {
		return StorageStats{}, apierr.Newf(apierr.NotFound, "tenant %s not found", tenantID)
	}

	var stats StorageStats
	root := m.TenantRoot(tenantID)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			stats.Bytes += info.Size()
			stats.Files++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return StorageStats{}, apierr.Newf(apierr.StorageError, "walking tenant storage: %v", err)
	}
	return stats, nil
}
