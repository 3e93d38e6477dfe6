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

// Package org validates and queries an organization's people, teams, and
// reporting structure.
package org

import (
	"time"

	"github.com/shiioo-io/controlplane/internal/apierr"
)

// Person is one member of the organization.
type Person struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Role       string   `json:"role"`
	Team       string   `json:"team"`
	ReportsTo  string   `json:"reports_to,omitempty"`
	CanApprove []string `json:"can_approve,omitempty"`
}

// Team is a group of people, optionally nested under a parent team.
type Team struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Lead        string   `json:"lead,omitempty"`
	Members     []string `json:"members,omitempty"`
	ParentTeam  string   `json:"parent_team,omitempty"`
}

// OrgChart records the top of the hierarchy and a flattened reporting map.
type OrgChart struct {
	RootTeam           string            `json:"root_team"`
	ReportingStructure map[string]string `json:"reporting_structure,omitempty"`
}

// Organization is the full declaration a Manager validates and serves.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Teams       []Team    `json:"teams"`
	People      []Person  `json:"people"`
	OrgChart    OrgChart  `json:"org_chart"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Manager validates an Organization once at construction and serves cheap
// lookups against it afterward.
type Manager struct {
	org        Organization
	peopleByID map[string]*Person
	teamsByID  map[string]*Team
}

// New validates org's referential integrity and reporting structure for
// cycles, returning a Manager ready to query.
func New(org Organization) (*Manager, error) {
	m := &Manager{org: org, peopleByID: map[string]*Person{}, teamsByID: map[string]*Team{}}
	for i := range org.People {
		m.peopleByID[org.People[i].ID] = &org.People[i]
	}
	for i := range org.Teams {
		m.teamsByID[org.Teams[i].ID] = &org.Teams[i]
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) validate() error {
	for _, team := range m.org.Teams {
		for _, memberID := range team.Members {
			if _, ok := m.peopleByID[memberID]; !ok {
				return apierr.Newf(apierr.InvalidInput, "team %q references non-existent person %q", team.ID, memberID)
			}
		}
		if team.Lead != "" {
			if _, ok := m.peopleByID[team.Lead]; !ok {
				return apierr.Newf(apierr.InvalidInput, "team %q has non-existent lead %q", team.ID, team.Lead)
			}
		}
		if team.ParentTeam != "" {
			if _, ok := m.teamsByID[team.ParentTeam]; !ok {
				return apierr.Newf(apierr.InvalidInput, "team %q has non-existent parent team %q", team.ID, team.ParentTeam)
			}
		}
	}

	for _, person := range m.org.People {
		if person.Team != "" {
			if _, ok := m.teamsByID[person.Team]; !ok {
				return apierr.Newf(apierr.InvalidInput, "person %q references non-existent team %q", person.ID, person.Team)
			}
		}
		if person.ReportsTo != "" {
			if _, ok := m.peopleByID[person.ReportsTo]; !ok {
				return apierr.Newf(apierr.InvalidInput, "person %q reports to non-existent person %q", person.ID, person.ReportsTo)
			}
		}
	}

	if m.org.OrgChart.RootTeam != "" {
		if _, ok := m.teamsByID[m.org.OrgChart.RootTeam]; !ok {
			return apierr.Newf(apierr.InvalidInput, "org chart references non-existent root team %q", m.org.OrgChart.RootTeam)
		}
	}

	return m.checkReportingCycles()
}

func (m *Manager) checkReportingCycles() error {
	for _, person := range m.org.People {
		visited := map[string]bool{}
		current := person.ID
		for {
			p, ok := m.peopleByID[current]
			if !ok || p.ReportsTo == "" {
				break
			}
			manager := p.ReportsTo
			if visited[current] {
				return apierr.Newf(apierr.InvalidInput, "reporting cycle detected involving person %q", person.ID)
			}
			visited[current] = true
			current = manager
		}
	}
	return nil
}

// GetPerson returns person id, or (zero, false).
func (m *Manager) GetPerson(id string) (Person, bool) {
	p, ok := m.peopleByID[id]
	if !ok {
		return Person{}, false
	}
	return *p, true
}

// GetTeam returns team id, or (zero, false).
func (m *Manager) GetTeam(id string) (Team, bool) {
	t, ok := m.teamsByID[id]
	if !ok {
		return Team{}, false
	}
	return *t, true
}

// DirectReports returns everyone who reports directly to personID.
func (m *Manager) DirectReports(personID string) []Person {
	var out []Person
	for _, p := range m.org.People {
		if p.ReportsTo == personID {
			out = append(out, p)
		}
	}
	return out
}

// AllTeamMembers returns every person belonging to teamID or any of its
// descendant teams.
func (m *Manager) AllTeamMembers(teamID string) []Person {
	var out []Person
	stack := []string{teamID}
	for len(stack) > 0 {
		n := len(stack) - 1
		current := stack[n]
		stack = stack[:n]

		if team, ok := m.teamsByID[current]; ok {
			for _, memberID := range team.Members {
				if p, ok := m.peopleByID[memberID]; ok {
					out = append(out, *p)
				}
			}
			for _, t := range m.org.Teams {
				if t.ParentTeam == current {
					stack = append(stack, t.ID)
				}
			}
		}
	}
	return out
}

// CanApprove reports whether personID is authorized for approvalType.
func (m *Manager) CanApprove(personID, approvalType string) bool {
	p, ok := m.peopleByID[personID]
	if !ok {
		return false
	}
	for _, a := range p.CanApprove {
		if a == approvalType {
			return true
		}
	}
	return false
}

// ManagementChain returns personID followed by each successive manager up
// to (and including) whoever has no ReportsTo.
func (m *Manager) ManagementChain(personID string) []Person {
	var chain []Person
	current := personID
	seen := map[string]bool{}
	for {
		p, ok := m.peopleByID[current]
		if !ok || seen[current] {
			break
		}
		seen[current] = true
		chain = append(chain, *p)
		if p.ReportsTo == "" {
			break
		}
		current = p.ReportsTo
	}
	return chain
}

// Organization returns the validated Organization this Manager serves.
func (m *Manager) Organization() Organization {
	return m.org
}
