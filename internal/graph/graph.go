// Copyright 2025 Tom Barlow
//
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

// Package graph builds and queries the dependency graph for one workflow
// run's steps: cycle detection, execution-level assignment, and per-step
// readiness evaluation against dependency kind rules.
package graph

import (
	"fmt"
	"sort"

	pkgerrors "github.com/flowgrid/flowgrid/pkg/errors"
	"github.com/flowgrid/flowgrid/pkg/workflow"
	"github.com/flowgrid/flowgrid/pkg/workflow/expression"
)

// Node is the graph-internal representation of one step. Dependencies are
// stored as ids only (never back-pointers to other Nodes); Dependents is
// derived from a single pass over every Node's Dependencies, so the
// structure stays a flat table with no reference cycles (see
// SPEC_FULL.md §9 "Shared mutable graphs").
type Node struct {
	StepID          string
	Dependencies    []workflow.Dependency
	Dependents      []string
	BlockedBy       map[string]bool
	ExecutionLevel  int
}

// ResourcePredicate checks whether a named resource marker is currently
// available, for Dependency.Kind == DepResource.
type ResourcePredicate func(resource string) bool

// Graph is the dependency graph for one workflow run.
type Graph struct {
	nodes      map[string]*Node
	evaluator  *expression.Evaluator
	resources  ResourcePredicate
}

// Option configures graph construction.
type Option func(*Graph)

// WithResourcePredicate registers the callback used to satisfy
// Dependency.Kind == DepResource checks. Without one, resource dependencies
// never become ready.
func WithResourcePredicate(p ResourcePredicate) Option {
	return func(g *Graph) { g.resources = p }
}

// Build constructs a Graph from a workflow's step list and validates it:
// every dependency must reference an existing step, and the dependency
// edges must form a DAG. Returns a ValidationError describing the first
// problem found.
func Build(steps []workflow.StepDefinition, opts ...Option) (*Graph, error) {
	g := &Graph{
		nodes:     make(map[string]*Node, len(steps)),
		evaluator: expression.New(),
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, step := range steps {
		blockedBy := make(map[string]bool, len(step.Dependencies))
		for _, dep := range step.Dependencies {
			if dep.Kind == workflow.DepResource {
				continue
			}
			blockedBy[dep.StepID] = true
		}
		g.nodes[step.ID] = &Node{
			StepID:       step.ID,
			Dependencies: step.Dependencies,
			BlockedBy:    blockedBy,
		}
	}

	for id, node := range g.nodes {
		for _, dep := range node.Dependencies {
			if dep.Kind == workflow.DepResource {
				continue
			}
			target, ok := g.nodes[dep.StepID]
			if !ok {
				return nil, &pkgerrors.ValidationError{
					Field:   fmt.Sprintf("steps[%s].dependencies", id),
					Message: fmt.Sprintf("references unknown step %q", dep.StepID),
				}
			}
			target.Dependents = append(target.Dependents, id)
		}
	}

	if cycle := g.detectCycle(); cycle != nil {
		return nil, &pkgerrors.ValidationError{
			Field:      "steps[].dependencies",
			Message:    fmt.Sprintf("cyclic dependency: %v", cycle),
			Suggestion: "break the cycle by removing or redirecting one dependency",
		}
	}

	g.assignLevels()
	return g, nil
}

// detectCycle runs DFS over the dependency edges looking for a back-edge;
// returns the cycle path if one is found, or nil if the graph is a DAG.
func (g *Graph) detectCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		for _, dep := range g.nodes[id].Dependencies {
			if dep.Kind == workflow.DepResource {
				continue
			}
			switch color[dep.StepID] {
			case gray:
				idx := 0
				for i, p := range path {
					if p == dep.StepID {
						idx = i
						break
					}
				}
				cycle = append(append([]string{}, path[idx:]...), dep.StepID)
				return true
			case white:
				if visit(dep.StepID) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	ids := g.sortedIDs()
	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// assignLevels computes ExecutionLevel for every node by iteratively
// peeling off nodes whose BlockedBy set is empty, mirroring the original
// dependency manager's calculate_execution_order. Build() already rejected
// cycles, so this always drains.
func (g *Graph) assignLevels() {
	blockedBy := make(map[string]map[string]bool, len(g.nodes))
	for id, node := range g.nodes {
		copySet := make(map[string]bool, len(node.BlockedBy))
		for k := range node.BlockedBy {
			copySet[k] = true
		}
		blockedBy[id] = copySet
	}

	remaining := make(map[string]bool, len(g.nodes))
	for id := range g.nodes {
		remaining[id] = true
	}

	level := 0
	for len(remaining) > 0 {
		var ready []string
		for id := range remaining {
			if len(blockedBy[id]) == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			// Build() already validated acyclicity; reaching here is a bug.
			panic("graph: level assignment stalled on a graph already validated as acyclic")
		}
		for _, id := range ready {
			g.nodes[id].ExecutionLevel = level
			delete(remaining, id)
			for _, dependent := range g.nodes[id].Dependents {
				delete(blockedBy[dependent], id)
			}
		}
		level++
	}
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Levels returns step ids grouped by execution level, in level order. Each
// group is a maximal set of steps ready at the same moment, independent of
// one another.
func (g *Graph) Levels() [][]string {
	maxLevel := -1
	for _, node := range g.nodes {
		if node.ExecutionLevel > maxLevel {
			maxLevel = node.ExecutionLevel
		}
	}
	levels := make([][]string, maxLevel+1)
	for id, node := range g.nodes {
		levels[node.ExecutionLevel] = append(levels[node.ExecutionLevel], id)
	}
	for _, l := range levels {
		sort.Strings(l)
	}
	return levels
}

// AddDynamicDependency adds a dependency discovered during execution. It is
// rejected with a ValidationError if it would introduce a cycle.
func (g *Graph) AddDynamicDependency(stepID string, dep workflow.Dependency) error {
	node, ok := g.nodes[stepID]
	if !ok {
		return &pkgerrors.ValidationError{Field: "step_id", Message: fmt.Sprintf("unknown step %q", stepID)}
	}
	target, ok := g.nodes[dep.StepID]
	if !ok {
		return &pkgerrors.ValidationError{Field: "step_id", Message: fmt.Sprintf("unknown dependency target %q", dep.StepID)}
	}

	node.Dependencies = append(node.Dependencies, dep)
	node.BlockedBy[dep.StepID] = true
	target.Dependents = append(target.Dependents, stepID)

	if cycle := g.detectCycle(); cycle != nil {
		// Roll back; this dependency would introduce a cycle.
		node.Dependencies = node.Dependencies[:len(node.Dependencies)-1]
		delete(node.BlockedBy, dep.StepID)
		target.Dependents = target.Dependents[:len(target.Dependents)-1]
		return &pkgerrors.ValidationError{
			Field:   "dependencies",
			Message: fmt.Sprintf("dynamic dependency %s -> %s would introduce a cycle: %v", stepID, dep.StepID, cycle),
		}
	}
	g.assignLevels()
	return nil
}

// Ready reports whether every one of a step's dependencies is satisfied,
// given the set of completed step ids and their recorded results.
func (g *Graph) Ready(stepID string, completed map[string]bool, results map[string]*workflow.StepResult) (bool, error) {
	node, ok := g.nodes[stepID]
	if !ok {
		return false, &pkgerrors.ValidationError{Field: "step_id", Message: fmt.Sprintf("unknown step %q", stepID)}
	}
	for _, dep := range node.Dependencies {
		satisfied, err := g.dependencySatisfied(dep, completed, results)
		if err != nil {
			return false, err
		}
		if !satisfied {
			return false, nil
		}
	}
	return true, nil
}

func (g *Graph) dependencySatisfied(dep workflow.Dependency, completed map[string]bool, results map[string]*workflow.StepResult) (bool, error) {
	if dep.Kind == workflow.DepResource {
		if g.resources == nil {
			return false, nil
		}
		return g.resources(dep.Resource), nil
	}

	if !completed[dep.StepID] {
		return false, nil
	}
	result := results[dep.StepID]

	switch dep.Kind {
	case workflow.DepCompletion, "":
		return true, nil
	case workflow.DepSuccess:
		return result != nil && result.Success, nil
	case workflow.DepData:
		if result == nil {
			return false, nil
		}
		_, present := result.OutputData[dep.Key]
		return present, nil
	case workflow.DepConditional:
		if result == nil {
			return false, nil
		}
		ctx := map[string]interface{}{
			"output":  result.OutputData.Native(),
			"success": result.Success,
		}
		return g.evaluator.Evaluate(dep.Expression, ctx)
	default:
		return false, &pkgerrors.ConfigurationError{
			Component: "dependency graph",
			Reason:    fmt.Sprintf("unknown dependency kind %q", dep.Kind),
		}
	}
}

// ReadySteps returns every step id among candidateIDs whose dependencies
// are all satisfied. Used by the engine to collect a readiness level beyond
// the static Levels() ordering, accounting for skipped/failed steps with
// completion-only dependencies.
func (g *Graph) ReadySteps(candidateIDs []string, completed map[string]bool, results map[string]*workflow.StepResult) ([]string, error) {
	var ready []string
	for _, id := range candidateIDs {
		ok, err := g.Ready(id, completed, results)
		if err != nil {
			return nil, err
		}
		if ok {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready, nil
}

// StepIDs returns every step id in the graph, sorted.
func (g *Graph) StepIDs() []string {
	return g.sortedIDs()
}
