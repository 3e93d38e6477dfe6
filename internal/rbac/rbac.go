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

// Package rbac is role-based access control: roles are sets of
// permissions, permissions match with an All wildcard on resource and
// action, and a grant with no resource id covers every id.
package rbac

import (
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shiioo-io/controlplane/internal/apierr"
)

// All is the wildcard value matching any Resource or Action.
const All = "*"

// Permission is one grant: resource+action, optionally scoped to one
// resource id.
type Permission struct {
	Resource   string  `json:"resource"`
	Action     string  `json:"action"`
	ResourceID *string `json:"resource_id,omitempty"`
}

// Matches reports whether p satisfies the required permission, treating
// the All resource/action as a wildcard on either side. An unscoped
// grant covers any resource id; a scoped grant covers only its own id,
// so it never satisfies an unscoped (any-id) requirement.
func (p Permission) Matches(required Permission) bool {
	resourceOK := p.Resource == All || p.Resource == required.Resource || required.Resource == All
	actionOK := p.Action == All || p.Action == required.Action || required.Action == All
	idOK := p.ResourceID == nil || (required.ResourceID != nil && *p.ResourceID == *required.ResourceID)
	return resourceOK && actionOK && idOK
}

// Role is a named set of permissions.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// User holds the role ids assigned to one subject.
type User struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// Manager owns roles and user-role assignments.
type Manager struct {
	mu    sync.RWMutex
	roles map[string]*Role
	users map[string]*User
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{roles: make(map[string]*Role), users: make(map[string]*User)}
}

// CreateRole adds or replaces a role.
func (m *Manager) CreateRole(r Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.ID] = &r
}

// GetRole returns a role by id.
func (m *Manager) GetRole(id string) (Role, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, false
	}
	return *r, true
}

// DeleteRole removes a role.
func (m *Manager) DeleteRole(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles, id)
}

// ListRoles returns every role.
func (m *Manager) ListRoles() []Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, *r)
	}
	return out
}

// AssignRole grants roleID to userID, creating the user record if needed.
func (m *Manager) AssignRole(userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[roleID]; !ok {
		return apierr.Newf(apierr.NotFound, "role %s not found", roleID)
	}
	u, ok := m.users[userID]
	if !ok {
		u = &User{ID: userID}
		m.users[userID] = u
	}
	for _, r := range u.Roles {
		if r == roleID {
			return nil
		}
	}
	u.Roles = append(u.Roles, roleID)
	return nil
}

// CheckPermission reports whether userID holds any role with a
// permission matching required.
func (m *Manager) CheckPermission(userID string, required Permission) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return false
	}
	for _, roleID := range u.Roles {
		role, ok := m.roles[roleID]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if p.Matches(required) {
				return true
			}
		}
	}
	return false
}

// BearerSubject extracts the subject claim from an opaque bearer token.
// This never verifies a signature: when the token happens to look like a
// JWT it is parsed unverified purely to pull a convenience "sub" claim;
// any other opaque string is returned as-is.
func BearerSubject(token string) string {
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub
		}
	}
	return token
}
