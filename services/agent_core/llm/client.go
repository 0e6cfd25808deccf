// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm defines the model client boundary of the reasoning core.
//
// The engine never talks to a provider directly; it consumes the
// Client interface and receives a stream of typed chunks. Actual
// provider implementations are injected at runtime.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package llm

import (
	"context"
	"time"
)

// Client is the model boundary consumed by the driver.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Stream sends a request and returns a channel of response chunks.
	//
	// Description:
	//   The channel is closed after the terminal chunk (ChunkEndOfTurn
	//   or ChunkError). Canceling ctx aborts generation; the stream
	//   then terminates with a ChunkError carrying ctx.Err().
	//
	// Inputs:
	//   ctx - Context for cancellation and timeout.
	//   request - The assembled request.
	//
	// Outputs:
	//   <-chan Chunk - The response stream.
	//   error - Non-nil if the request could not start.
	Stream(ctx context.Context, request *Request) (<-chan Chunk, error)

	// Name returns the provider name.
	Name() string

	// Model returns the model being used.
	Model() string
}

// ChunkKind discriminates response chunks.
type ChunkKind string

const (
	// ChunkTextDelta carries an incremental text fragment.
	ChunkTextDelta ChunkKind = "text_delta"

	// ChunkToolCall carries a structured tool invocation request.
	// Tool calls arrive on this side channel, never embedded in text.
	ChunkToolCall ChunkKind = "tool_call"

	// ChunkEndOfTurn terminates a successful stream.
	ChunkEndOfTurn ChunkKind = "end_of_turn"

	// ChunkError terminates a failed stream.
	ChunkError ChunkKind = "error"
)

// Chunk is one element of a model response stream.
type Chunk struct {
	// Kind discriminates the payload.
	Kind ChunkKind `json:"kind"`

	// Text is set for ChunkTextDelta.
	Text string `json:"text,omitempty"`

	// ToolCall is set for ChunkToolCall.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// StopReason is set for ChunkEndOfTurn ("end", "max_tokens",
	// "tool_use", "stop_sequence").
	StopReason string `json:"stop_reason,omitempty"`

	// Usage is set for ChunkEndOfTurn.
	Usage *Usage `json:"usage,omitempty"`

	// Err is set for ChunkError.
	Err error `json:"-"`
}

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	// ID uniquely identifies this call for result correlation.
	ID string `json:"id"`

	// Name is the tool name.
	Name string `json:"name"`

	// Arguments are the tool arguments as JSON.
	Arguments string `json:"arguments"`
}

// Usage reports token accounting for one turn.
type Usage struct {
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
}

// Request is an assembled model request.
type Request struct {
	// SystemPrompt is the system message.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// Tools declares the tools available this turn.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `json:"temperature,omitempty"`
}

// Message is one conversation entry.
type Message struct {
	// Role is "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content.
	Content string `json:"content"`

	// ToolResults carries tool results (for tool messages).
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolResult feeds a tool outcome back to the model.
type ToolResult struct {
	// ToolCallID links back to the originating call.
	ToolCallID string `json:"tool_call_id"`

	// Content is the result content.
	Content string `json:"content"`

	// IsError marks failed executions.
	IsError bool `json:"is_error,omitempty"`
}

// ToolDefinition describes one tool to the model.
type ToolDefinition struct {
	// Name is the tool name.
	Name string `json:"name"`

	// Description tells the model what the tool does.
	Description string `json:"description"`

	// Schema is the JSON schema of the arguments.
	Schema map[string]any `json:"schema,omitempty"`
}

// Collect drains a stream into a flat response, for callers that do
// not need incremental delivery.
//
// Outputs:
//
//	string - Concatenated text.
//	[]ToolCall - Tool calls in arrival order.
//	error - The stream error, if the stream failed.
func Collect(stream <-chan Chunk) (string, []ToolCall, error) {
	var text string
	var calls []ToolCall
	for chunk := range stream {
		switch chunk.Kind {
		case ChunkTextDelta:
			text += chunk.Text
		case ChunkToolCall:
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
		case ChunkError:
			return text, calls, chunk.Err
		}
	}
	return text, calls, nil
}
