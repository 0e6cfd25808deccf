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

import "errors"

var (
	// ErrDuplicateNode indicates a node ID was added twice.
	ErrDuplicateNode = errors.New("graph: duplicate node")

	// ErrUnknownNode indicates an edge or lookup referenced a node that
	// does not exist.
	ErrUnknownNode = errors.New("graph: unknown node")

	// ErrNoStartNode indicates validation found no Start node.
	ErrNoStartNode = errors.New("graph: no start node")

	// ErrMultipleStartNodes indicates validation found more than one
	// Start node.
	ErrMultipleStartNodes = errors.New("graph: multiple start nodes")

	// ErrNoEndNode indicates validation found no End node.
	ErrNoEndNode = errors.New("graph: no end node")

	// ErrNoRoute indicates a node produced an outcome label with no
	// matching outgoing edge and no fallback.
	ErrNoRoute = errors.New("graph: no route for outcome")

	// ErrMissingCollaborator indicates a node kind was reached without
	// its required engine collaborator wired (e.g. a Tool node with no
	// tool runner).
	ErrMissingCollaborator = errors.New("graph: missing collaborator")
)
