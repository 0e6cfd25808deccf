// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAdd(t *testing.T, g *Graph, n *Node) {
	t.Helper()
	require.NoError(t, g.AddNode(n))
}

func mustEdge(t *testing.T, g *Graph, from, to, label string) {
	t.Helper()
	require.NoError(t, g.AddEdge(from, to, label))
}

func TestValidateRequiresExactlyOneStart(t *testing.T) {
	g := New()
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	assert.ErrorIs(t, g.Validate(), ErrNoStartNode)

	mustAdd(t, g, &Node{ID: "s1", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "s2", Kind: KindStart})
	assert.ErrorIs(t, g.Validate(), ErrMultipleStartNodes)
}

func TestValidateRequiresAnEnd(t *testing.T) {
	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	assert.ErrorIs(t, g.Validate(), ErrNoEndNode)

	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	assert.NoError(t, g.Validate())
}

func TestValidateChecksBranchEntries(t *testing.T) {
	g := New()
	mustAdd(t, g, &Node{ID: "start", Kind: KindStart})
	mustAdd(t, g, &Node{ID: "end", Kind: KindEnd})
	mustAdd(t, g, &Node{ID: "fan", Kind: KindParallel, Branches: []string{"ghost"}})
	assert.ErrorIs(t, g.Validate(), ErrUnknownNode)
}

func TestAddNodeRejectsDuplicates(t *testing.T) {
	g := New()
	mustAdd(t, g, &Node{ID: "a", Kind: KindCondition})
	assert.ErrorIs(t, g.AddNode(&Node{ID: "a", Kind: KindEnd}), ErrDuplicateNode)
}

func TestAddEdgeRequiresKnownEndpoints(t *testing.T) {
	g := New()
	mustAdd(t, g, &Node{ID: "a", Kind: KindStart})
	assert.ErrorIs(t, g.AddEdge("a", "ghost", ""), ErrUnknownNode)
	assert.ErrorIs(t, g.AddEdge("ghost", "a", ""), ErrUnknownNode)
}

func TestRoutePrefersExactLabelOverWildcard(t *testing.T) {
	g := New()
	mustAdd(t, g, &Node{ID: "a", Kind: KindCondition})
	mustAdd(t, g, &Node{ID: "b", Kind: KindEnd})
	mustAdd(t, g, &Node{ID: "c", Kind: KindEnd})
	mustEdge(t, g, "a", "b", "")
	mustEdge(t, g, "a", "c", "special")

	to, ok := g.route("a", "special")
	require.True(t, ok)
	assert.Equal(t, "c", to)

	to, ok = g.route("a", "anything-else")
	require.True(t, ok)
	assert.Equal(t, "b", to)
}

func TestRouteMissing(t *testing.T) {
	g := New()
	mustAdd(t, g, &Node{ID: "a", Kind: KindCondition})
	_, ok := g.route("a", LabelSuccess)
	assert.False(t, ok)
}

func TestSetFailureNodeRequiresExistingNode(t *testing.T) {
	g := New()
	assert.ErrorIs(t, g.SetFailureNode("ghost"), ErrUnknownNode)

	mustAdd(t, g, &Node{ID: "bail", Kind: KindEnd})
	require.NoError(t, g.SetFailureNode("bail"))
	assert.Equal(t, "bail", g.FailureNode())
}
