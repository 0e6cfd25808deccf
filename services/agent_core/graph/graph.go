// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph implements the reasoning graph: a node/edge execution
// structure walked by the engine, with decision, tool, stream,
// condition, parallel, and verification node kinds.
package graph

import (
	"fmt"
	"sync"

	"github.com/AleutianAI/AgentCore/services/agent_core/decide"
	"github.com/AleutianAI/AgentCore/services/agent_core/orchestrate"
	"github.com/AleutianAI/AgentCore/services/agent_core/state"
	"github.com/AleutianAI/AgentCore/services/agent_core/stream"
)

// Kind classifies a node.
type Kind string

const (
	// KindStart is the single entry node.
	KindStart Kind = "start"

	// KindEnd terminates traversal.
	KindEnd Kind = "end"

	// KindTool submits tool requests to the orchestrator.
	KindTool Kind = "tool"

	// KindDecision asks the decision engine to pick an outgoing edge.
	KindDecision Kind = "decision"

	// KindCondition evaluates a pure predicate over state.
	KindCondition Kind = "condition"

	// KindParallel fans out to child branches and joins them.
	KindParallel Kind = "parallel"

	// KindStream consumes a stream to completion and folds the result
	// into state.
	KindStream Kind = "stream"

	// KindVerification re-checks an assumption, restoring a checkpoint
	// on failure.
	KindVerification Kind = "verification"
)

// Well-known edge labels.
const (
	// LabelSuccess routes a node's normal outcome. An unlabeled edge
	// matches any outcome without a more specific edge.
	LabelSuccess = "success"

	// LabelFailure is the designated failure edge; tool and
	// verification failures route along it instead of aborting the walk.
	LabelFailure = "failure"

	// LabelFallback routes the decision engine's no-confident-choice
	// result to a clarification or safe no-op path.
	LabelFallback = "fallback"
)

// Node is one unit of the execution graph. Exactly the fields relevant
// to its Kind are consulted.
type Node struct {
	// ID identifies the node within its graph.
	ID string

	// Kind selects the execution behavior.
	Kind Kind

	// Build constructs the tool batch for a Tool node from current
	// state.
	Build func(st *state.ReasoningState) []*orchestrate.Request

	// Options supplies decision candidates. When nil, candidates are
	// derived from the outgoing edge labels.
	Options func(st *state.ReasoningState) []decide.Candidate

	// Predicate returns the edge label to follow for a Condition node.
	// It must be pure: no state mutation.
	Predicate func(st *state.ReasoningState) string

	// Branches lists the entry node IDs of a Parallel node's child
	// subgraphs.
	Branches []string

	// Source feeds a Stream node.
	Source stream.Source

	// SourceName is the circuit-breaker key for the stream source.
	SourceName string

	// StreamClass is stream.ClassToken or stream.ClassProgress.
	StreamClass string

	// FoldKey is the working-memory key the collected stream output is
	// stored under; defaults to the node ID.
	FoldKey string

	// Verify re-checks an assumption for a Verification node.
	Verify func(st *state.ReasoningState) bool
}

// Edge routes from one node to another when the source node's outcome
// matches Label. An empty Label matches any outcome that has no more
// specific edge.
type Edge struct {
	From  string
	To    string
	Label string
}

// Graph is the executable node/edge structure.
//
// Thread Safety: safe for concurrent use; the engine may append nodes
// and edges mid-run (dynamic tool-node generation) while branches walk
// it.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	edges     map[string][]Edge
	failureID string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string][]Edge),
	}
}

// AddNode adds a node.
//
// Outputs:
//
//	error - ErrDuplicateNode if the ID is taken.
func (g *Graph) AddNode(n *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	g.nodes[n.ID] = n
	return nil
}

// AddEdge adds a routing edge.
//
// Outputs:
//
//	error - ErrUnknownNode if either endpoint does not exist.
func (g *Graph) AddEdge(from, to, label string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("%w: edge from %s", ErrUnknownNode, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: edge to %s", ErrUnknownNode, to)
	}
	g.edges[from] = append(g.edges[from], Edge{From: from, To: to, Label: label})
	return nil
}

// SetFailureNode designates the node traversal is forced to when a
// step or revisit ceiling is exceeded.
//
// Outputs:
//
//	error - ErrUnknownNode if the ID does not exist.
func (g *Graph) SetFailureNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("%w: failure node %s", ErrUnknownNode, id)
	}
	g.failureID = id
	return nil
}

// FailureNode returns the designated failure node ID, empty if unset.
func (g *Graph) FailureNode() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.failureID
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Edges returns a copy of a node's outgoing edges in insertion order.
func (g *Graph) Edges(from string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := g.edges[from]
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}

// Start returns the Start node.
func (g *Graph) Start() (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		if n.Kind == KindStart {
			return n, true
		}
	}
	return nil, false
}

// Len returns the node count.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Validate checks structural soundness: exactly one Start, at least
// one End, and every edge endpoint known.
//
// Outputs:
//
//	error - The first violated constraint.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	starts, ends := 0, 0
	for _, n := range g.nodes {
		switch n.Kind {
		case KindStart:
			starts++
		case KindEnd:
			ends++
		}
	}
	if starts == 0 {
		return ErrNoStartNode
	}
	if starts > 1 {
		return fmt.Errorf("%w: found %d", ErrMultipleStartNodes, starts)
	}
	if ends == 0 {
		return ErrNoEndNode
	}

	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("%w: edge from %s", ErrUnknownNode, from)
		}
		for _, e := range edges {
			if _, ok := g.nodes[e.To]; !ok {
				return fmt.Errorf("%w: edge %s -> %s", ErrUnknownNode, e.From, e.To)
			}
		}
	}

	for _, n := range g.nodes {
		if n.Kind == KindParallel {
			for _, entry := range n.Branches {
				if _, ok := g.nodes[entry]; !ok {
					return fmt.Errorf("%w: branch entry %s of %s", ErrUnknownNode, entry, n.ID)
				}
			}
		}
	}
	return nil
}

// route resolves the next node for an outcome label: an exact label
// match wins, then an unlabeled edge.
func (g *Graph) route(from, label string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var wildcard string
	hasWildcard := false
	for _, e := range g.edges[from] {
		if e.Label == label {
			return e.To, true
		}
		if e.Label == "" && !hasWildcard {
			wildcard = e.To
			hasWildcard = true
		}
	}
	return wildcard, hasWildcard
}
