// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockClient is a scriptable model client for testing.
//
// Turns are queued ahead of time; each Stream call consumes the next
// queued turn. When the queue is empty the default turn is replayed.
//
// Thread Safety: MockClient is safe for concurrent use.
type MockClient struct {
	mu sync.Mutex

	name  string
	model string

	turns       []scriptedTurn
	defaultTurn scriptedTurn

	// delay spaces out chunk delivery to simulate generation latency.
	delay time.Duration

	// errorToReturn causes Stream to fail immediately.
	errorToReturn error

	// calls records every request passed to Stream.
	calls []*Request
}

type scriptedTurn struct {
	chunks []Chunk
}

// NewMockClient creates a mock client with a benign default turn.
func NewMockClient() *MockClient {
	return &MockClient{
		name:  "mock",
		model: "mock-model",
		defaultTurn: scriptedTurn{chunks: []Chunk{
			{Kind: ChunkTextDelta, Text: "mock response"},
			{Kind: ChunkEndOfTurn, StopReason: "end", Usage: &Usage{InputTokens: 50, OutputTokens: 10}},
		}},
	}
}

// WithName sets the provider name.
func (c *MockClient) WithName(name string) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
	return c
}

// WithModel sets the model name.
func (c *MockClient) WithModel(model string) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
	return c
}

// WithDelay adds artificial latency between chunks.
func (c *MockClient) WithDelay(d time.Duration) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
	return c
}

// WithError makes Stream fail before producing any chunks.
func (c *MockClient) WithError(err error) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorToReturn = err
	return c
}

// QueueTextTurn queues a turn that streams text word by word and ends
// normally.
func (c *MockClient) QueueTextTurn(text string) *MockClient {
	chunks := make([]Chunk, 0, 8)
	for _, word := range strings.SplitAfter(text, " ") {
		if word != "" {
			chunks = append(chunks, Chunk{Kind: ChunkTextDelta, Text: word})
		}
	}
	chunks = append(chunks, Chunk{
		Kind:       ChunkEndOfTurn,
		StopReason: "end",
		Usage:      &Usage{InputTokens: 50, OutputTokens: len(chunks)},
	})
	return c.queue(chunks)
}

// QueueToolCallTurn queues a turn that requests tool invocations and
// stops with reason "tool_use".
func (c *MockClient) QueueToolCallTurn(calls ...ToolCall) *MockClient {
	chunks := make([]Chunk, 0, len(calls)+1)
	for i := range calls {
		call := calls[i]
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", i)
		}
		chunks = append(chunks, Chunk{Kind: ChunkToolCall, ToolCall: &call})
	}
	chunks = append(chunks, Chunk{
		Kind:       ChunkEndOfTurn,
		StopReason: "tool_use",
		Usage:      &Usage{InputTokens: 50, OutputTokens: 20},
	})
	return c.queue(chunks)
}

// QueueErrorTurn queues a turn that fails mid-stream after some text.
func (c *MockClient) QueueErrorTurn(text string, err error) *MockClient {
	chunks := []Chunk{}
	if text != "" {
		chunks = append(chunks, Chunk{Kind: ChunkTextDelta, Text: text})
	}
	chunks = append(chunks, Chunk{Kind: ChunkError, Err: err})
	return c.queue(chunks)
}

func (c *MockClient) queue(chunks []Chunk) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, scriptedTurn{chunks: chunks})
	return c
}

// Stream implements Client.
func (c *MockClient) Stream(ctx context.Context, request *Request) (<-chan Chunk, error) {
	c.mu.Lock()
	c.calls = append(c.calls, request)
	if c.errorToReturn != nil {
		err := c.errorToReturn
		c.mu.Unlock()
		return nil, err
	}
	turn := c.defaultTurn
	if len(c.turns) > 0 {
		turn = c.turns[0]
		c.turns = c.turns[1:]
	}
	delay := c.delay
	c.mu.Unlock()

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for _, chunk := range turn.chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					out <- Chunk{Kind: ChunkError, Err: ctx.Err()}
					return
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				out <- Chunk{Kind: ChunkError, Err: ctx.Err()}
				return
			}
		}
	}()
	return out, nil
}

// Name implements Client.
func (c *MockClient) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Model implements Client.
func (c *MockClient) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// CallCount returns how many Stream calls were made.
func (c *MockClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// LastRequest returns the most recent request, or nil.
func (c *MockClient) LastRequest() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1]
}

// MustArgs marshals arguments for scripted tool calls, panicking on
// failure (test-only convenience).
func MustArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return string(data)
}
