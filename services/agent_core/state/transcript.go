// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transcript is the exportable session record: the step history plus
// the goal outcomes and termination reason, in a format people can
// read and diff.
type Transcript struct {
	SessionID         string          `yaml:"session_id"`
	CreatedAt         time.Time       `yaml:"created_at"`
	ExportedAt        time.Time       `yaml:"exported_at"`
	TerminationReason string          `yaml:"termination_reason,omitempty"`
	Goals             []Goal          `yaml:"goals,omitempty"`
	Steps             []ReasoningStep `yaml:"steps"`
}

// BuildTranscript assembles a transcript from the given state.
func BuildTranscript(st *ReasoningState) *Transcript {
	return &Transcript{
		SessionID:         st.SessionID,
		CreatedAt:         st.CreatedAt,
		ExportedAt:        time.Now(),
		TerminationReason: st.TerminationReason,
		Goals:             append([]Goal(nil), st.Goals...),
		Steps:             append([]ReasoningStep(nil), st.Steps...),
	}
}

// WriteTranscript writes the session transcript as YAML.
//
// Inputs:
//
//	w - Destination writer.
//	st - The state to export.
//
// Outputs:
//
//	error - Encoding failure.
func WriteTranscript(w io.Writer, st *ReasoningState) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(BuildTranscript(st)); err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	return enc.Close()
}

// ExportTranscript writes the session transcript to a file.
func ExportTranscript(path string, st *ReasoningState) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create transcript file: %w", err)
	}
	defer f.Close()

	if err := WriteTranscript(f, st); err != nil {
		return err
	}
	return f.Sync()
}
