// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driver

import (
	"time"

	"github.com/AleutianAI/AgentCore/services/agent_core/events"
)

// PhaseEvents bridges orchestrator phase boundaries onto the event
// emitter. Wire it with orchestrate.WithObserver.
type PhaseEvents struct {
	emitter *events.Emitter
}

// NewPhaseEvents creates the bridge.
func NewPhaseEvents(emitter *events.Emitter) *PhaseEvents {
	return &PhaseEvents{emitter: emitter}
}

// PhaseStarted implements orchestrate.PhaseObserver.
func (p *PhaseEvents) PhaseStarted(phase, requests int) {
	p.emitter.Emit(events.TypeToolPhaseStarted, &events.ToolPhaseData{
		Phase:    phase,
		Requests: requests,
	})
}

// PhaseCompleted implements orchestrate.PhaseObserver.
func (p *PhaseEvents) PhaseCompleted(phase, succeeded, failed, skipped int, duration time.Duration) {
	p.emitter.Emit(events.TypeToolPhaseCompleted, &events.ToolPhaseData{
		Phase:     phase,
		Requests:  succeeded + failed + skipped,
		Succeeded: succeeded,
		Failed:    failed,
		Skipped:   skipped,
		Duration:  duration,
	})
}
