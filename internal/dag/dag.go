// # Modified from https://github.com/kro-run/kro/blob/7e437f2fe159a1e1c59d8eefd2bfa55320df4489/pkg/graph/dag/dag.go under Apache 2.0 License
//
// Original License:
//
// Copyright 2025 The Kube Resource Orchestrator Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may
// not use this file except in compliance with the License. A copy of the
// License is located at
//
//     http://aws.amazon.com/apache2.0/
//
// or in the "license" file accompanying this file. This file is distributed
// on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.
//
// We would like to thank the authors of kro for their outstanding work on this code.

// Package dag provides a typed directed acyclic graph of tasks and a
// failure-aware concurrent processor for it.
package dag

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

var ErrSelfReference = fmt.Errorf("self-references are not allowed")

// Vertex is a node of the graph carrying a value.
type Vertex[K cmp.Ordered, V any] struct {
	ID    K
	Value V
	// Edges holds the ids of the vertices that depend on this one.
	Edges map[K]struct{}

	InDegree, OutDegree int
}

// Graph is a directed acyclic graph. An edge from A to B means B depends on
// A. It is not safe for concurrent mutation.
type Graph[K cmp.Ordered, V any] struct {
	Vertices map[K]*Vertex[K, V]
}

// New creates an empty graph.
func New[K cmp.Ordered, V any]() *Graph[K, V] {
	return &Graph[K, V]{Vertices: make(map[K]*Vertex[K, V])}
}

// AddVertex adds a vertex.
func (g *Graph[K, V]) AddVertex(id K, value V) error {
	if _, exists := g.Vertices[id]; exists {
		return fmt.Errorf("node %v already exists", id)
	}
	g.Vertices[id] = &Vertex[K, V]{
		ID:    id,
		Value: value,
		Edges: make(map[K]struct{}),
	}
	return nil
}

type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("the graph would contain a cycle: %s", strings.Join(e.Cycle, " -> "))
}

// AddEdge makes to depend on from. An edge closing a cycle is rejected and
// the graph is left unchanged.
func (g *Graph[K, V]) AddEdge(from, to K) error {
	fromNode, fromExists := g.Vertices[from]
	toNode, toExists := g.Vertices[to]
	if !fromExists {
		return fmt.Errorf("node %v does not exist", from)
	}
	if !toExists {
		return fmt.Errorf("node %v does not exist", to)
	}
	if from == to {
		return ErrSelfReference
	}
	if _, exists := fromNode.Edges[to]; exists {
		return nil
	}

	fromNode.Edges[to] = struct{}{}
	fromNode.OutDegree++
	toNode.InDegree++

	if hasCycle, cycle := g.HasCycle(); hasCycle {
		delete(fromNode.Edges, to)
		fromNode.OutDegree--
		toNode.InDegree--
		return fmt.Errorf("adding an edge from %v to %v would create a cycle: %w", from, to, &CycleError{Cycle: cycle})
	}
	return nil
}

// Contains reports whether id is a vertex.
func (g *Graph[K, V]) Contains(id K) bool {
	_, ok := g.Vertices[id]
	return ok
}

// Roots returns the vertices without dependencies, sorted.
func (g *Graph[K, V]) Roots() []K {
	var roots []K
	for id, v := range g.Vertices {
		if v.InDegree == 0 {
			roots = append(roots, id)
		}
	}
	slices.Sort(roots)
	return roots
}

// Children returns the direct dependents of id, sorted.
func (g *Graph[K, V]) Children(id K) []K {
	v, ok := g.Vertices[id]
	if !ok {
		return nil
	}
	out := make([]K, 0, len(v.Edges))
	for child := range v.Edges {
		out = append(out, child)
	}
	slices.Sort(out)
	return out
}

// Descendants returns every vertex reachable from id, sorted.
func (g *Graph[K, V]) Descendants(id K) []K {
	seen := make(map[K]bool)
	var visit func(K)
	visit = func(k K) {
		for _, child := range g.Children(k) {
			if !seen[child] {
				seen[child] = true
				visit(child)
			}
		}
	}
	visit(id)
	out := make([]K, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// IDs returns every vertex id, sorted.
func (g *Graph[K, V]) IDs() []K {
	out := make([]K, 0, len(g.Vertices))
	for id := range g.Vertices {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// TopologicalSort returns the vertices so that every vertex precedes its
// dependents. The order is deterministic.
func (g *Graph[K, V]) TopologicalSort() ([]K, error) {
	if cyclic, nodes := g.HasCycle(); cyclic {
		return nil, &CycleError{Cycle: nodes}
	}

	visited := make(map[K]bool)
	var order []K
	var dfs func(K)
	dfs = func(node K) {
		visited[node] = true
		for _, child := range g.Children(node) {
			if !visited[child] {
				dfs(child)
			}
		}
		order = append(order, node)
	}
	for _, node := range g.IDs() {
		if !visited[node] {
			dfs(node)
		}
	}
	slices.Reverse(order)
	return order, nil
}

// HasCycle reports whether the graph contains a cycle and, if so, one cycle
// path.
func (g *Graph[K, V]) HasCycle() (bool, []string) {
	visited := make(map[K]bool)
	recStack := make(map[K]bool)
	var cyclePath []string

	var dfs func(K) bool
	dfs = func(node K) bool {
		visited[node] = true
		recStack[node] = true
		cyclePath = append(cyclePath, fmt.Sprintf("%v", node))

		for neighbor := range g.Vertices[node].Edges {
			if !visited[neighbor] {
				if dfs(neighbor) {
					return true
				}
			} else if recStack[neighbor] {
				cyclePath = append(cyclePath, fmt.Sprintf("%v", neighbor))
				return true
			}
		}

		recStack[node] = false
		cyclePath = cyclePath[:len(cyclePath)-1]
		return false
	}

	for _, node := range g.IDs() {
		if !visited[node] {
			cyclePath = []string{}
			if dfs(node) {
				// trim the path to start at the repeated node
				start := 0
				for i, v := range cyclePath[:len(cyclePath)-1] {
					if v == cyclePath[len(cyclePath)-1] {
						start = i
						break
					}
				}
				return true, cyclePath[start:]
			}
		}
	}
	return false, nil
}
