// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrate

import (
	"fmt"
	"sort"
)

// Plan is a batch topologically sorted into phases. Each phase is a
// maximal set of requests with no remaining inter-dependencies; phases
// execute strictly in order.
type Plan struct {
	// Phases holds the requests of each phase, dispatch-ordered by
	// priority (higher first) then ID for determinism.
	Phases [][]*Request
}

// PhaseIDs returns the request IDs per phase.
func (p *Plan) PhaseIDs() [][]string {
	out := make([][]string, len(p.Phases))
	for i, phase := range p.Phases {
		ids := make([]string, len(phase))
		for j, req := range phase {
			ids[j] = req.ID
		}
		out[i] = ids
	}
	return out
}

// BuildPlan validates a batch and levels it into phases.
//
// Description:
//
//	Kahn's algorithm over the declared dependency edges. A cycle is a
//	fatal configuration error surfaced immediately; nothing from the
//	batch executes.
//
// Outputs:
//
//	*Plan - The phased plan.
//	error - ErrDuplicateRequest, ErrUnknownDependency, or
//	  ErrDependencyCycle.
func BuildPlan(batch []*Request) (*Plan, error) {
	byID := make(map[string]*Request, len(batch))
	for _, req := range batch {
		if _, dup := byID[req.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.ID)
		}
		byID[req.ID] = req
	}

	indegree := make(map[string]int, len(batch))
	dependents := make(map[string][]string, len(batch))
	for _, req := range batch {
		indegree[req.ID] += 0
		for _, dep := range req.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, req.ID, dep)
			}
			indegree[req.ID]++
			dependents[dep] = append(dependents[dep], req.ID)
		}
	}

	// Level-order Kahn: everything currently at indegree zero forms
	// the next phase.
	frontier := make([]string, 0, len(batch))
	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}

	var plan Plan
	placed := 0
	for len(frontier) > 0 {
		phase := make([]*Request, 0, len(frontier))
		for _, id := range frontier {
			phase = append(phase, byID[id])
		}
		sortPhase(phase)
		plan.Phases = append(plan.Phases, phase)
		placed += len(phase)

		var next []string
		for _, id := range frontier {
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	if placed != len(batch) {
		remaining := make([]string, 0)
		for id, deg := range indegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, fmt.Errorf("%w: involving %v", ErrDependencyCycle, remaining)
	}
	return &plan, nil
}

// sortPhase orders a phase by priority (higher first), then ID.
func sortPhase(phase []*Request) {
	sort.Slice(phase, func(i, j int) bool {
		if phase[i].Priority != phase[j].Priority {
			return phase[i].Priority > phase[j].Priority
		}
		return phase[i].ID < phase[j].ID
	})
}
