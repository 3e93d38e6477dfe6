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

// Package dag builds the dependency graph for a workflow spec and
// provides topological ordering, cycle detection, and reachability
// queries over it.
package dag

import (
	"sort"

	"github.com/shiioo-io/controlplane/internal/apierr"
)

// Graph is a dependency graph of step ids: edges run dependency -> step.
type Graph struct {
	steps        []string
	deps         map[string]map[string]bool // step -> its prerequisites
	dependents   map[string]map[string]bool // step -> steps that depend on it
}

// WorkflowLike is the minimal shape a workflow spec must expose to build
// a Graph from it.
type WorkflowLike interface {
	StepIDs() []string
	Dependencies() map[string][]string
}

// FromWorkflow builds a Graph from spec. It fails with UnknownStep if any
// id named in dependencies does not appear in spec's steps, and with
// CircularDependency if the induced graph has a cycle.
func FromWorkflow(spec WorkflowLike) (*Graph, error) {
	stepSet := make(map[string]bool)
	for _, id := range spec.StepIDs() {
		stepSet[id] = true
	}

	g := &Graph{
		steps:      append([]string(nil), spec.StepIDs()...),
		deps:       make(map[string]map[string]bool),
		dependents: make(map[string]map[string]bool),
	}
	for _, id := range g.steps {
		g.deps[id] = make(map[string]bool)
		g.dependents[id] = make(map[string]bool)
	}

	for stepID, prereqs := range spec.Dependencies() {
		if !stepSet[stepID] {
			return nil, apierr.Newf(apierr.UnknownStep, "dependency map references unknown step %q", stepID)
		}
		for _, dep := range prereqs {
			if !stepSet[dep] {
				return nil, apierr.Newf(apierr.UnknownStep, "step %q depends on unknown step %q", stepID, dep)
			}
			g.deps[stepID][dep] = true
			g.dependents[dep][stepID] = true
		}
	}

	if _, err := g.topoSort(); err != nil {
		return nil, err
	}
	return g, nil
}

// topoSort is Kahn's algorithm; it both validates acyclicity and produces
// the order, so FromWorkflow and TopologicalOrder share it.
func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.steps))
	for _, id := range g.steps {
		inDegree[id] = len(g.deps[id])
	}

	var queue []string
	for _, id := range g.steps {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)

		var freed []string
		for dependent := range g.dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		sort.Strings(freed)
		queue = append(queue, freed...)
	}

	if len(order) != len(g.steps) {
		return nil, apierr.New(apierr.CircularDependency, "workflow dependency graph contains a cycle")
	}
	return order, nil
}

// TopologicalOrder returns a sequence where every prerequisite appears
// before its dependent.
func (g *Graph) TopologicalOrder() []string {
	order, err := g.topoSort()
	if err != nil {
		// FromWorkflow already validated acyclicity; this cannot happen
		// unless the graph is mutated after construction, which this
		// package never does.
		return nil
	}
	return order
}

// Dependencies returns the prerequisite step ids for id.
func (g *Graph) Dependencies(id string) []string {
	return setKeys(g.deps[id])
}

// Dependents returns the step ids that depend on id.
func (g *Graph) Dependents(id string) []string {
	return setKeys(g.dependents[id])
}

// EntrySteps returns every step with no incoming edges (no prerequisites).
func (g *Graph) EntrySteps() []string {
	var out []string
	for _, id := range g.steps {
		if len(g.deps[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// CanExecute reports whether every prerequisite of id is in completed.
func (g *Graph) CanExecute(id string, completed map[string]bool) bool {
	for dep := range g.deps[id] {
		if !completed[dep] {
			return false
		}
	}
	return true
}

func setKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
