// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the tool execution boundary of the reasoning
// core. The orchestrator consumes the Executor interface; concrete
// tool implementations are injected at runtime.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package tools

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Sentinel errors for tool execution.
var (
	// ErrToolNotFound indicates the requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrExecutionFailed indicates the tool returned an error.
	ErrExecutionFailed = errors.New("tool execution failed")

	// ErrTimeout indicates the tool execution timed out.
	ErrTimeout = errors.New("tool execution timed out")
)

// Invocation is one tool call to execute.
type Invocation struct {
	// ID correlates the invocation with its originating request.
	ID string `json:"id"`

	// Tool is the registered tool name.
	Tool string `json:"tool"`

	// Arguments are the tool arguments as JSON.
	Arguments string `json:"arguments,omitempty"`

	// Timeout bounds the execution. Zero means the executor default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Result is the outcome of one tool execution.
type Result struct {
	// InvocationID links back to the invocation.
	InvocationID string `json:"invocation_id"`

	// Tool is the tool that ran.
	Tool string `json:"tool"`

	// Output is the tool output on success.
	Output string `json:"output,omitempty"`

	// Err is the execution error, nil on success.
	Err error `json:"-"`

	// Duration is how long the execution took.
	Duration time.Duration `json:"duration"`
}

// Success reports whether the execution succeeded.
func (r *Result) Success() bool {
	return r.Err == nil
}

// Executor runs tool invocations.
//
// Implementations must be safe for concurrent use and must honor
// ctx cancellation and the invocation timeout.
type Executor interface {
	// Execute runs one invocation to completion.
	//
	// Outputs:
	//   *Result - Always non-nil; Err carries the failure.
	//   error - ErrToolNotFound for unknown tools; otherwise nil (tool
	//     failures are reported inside the Result).
	Execute(ctx context.Context, invocation *Invocation) (*Result, error)
}

// Definition describes a registered tool, including the resource
// pools it draws on during execution.
type Definition struct {
	// Name is the tool name.
	Name string `json:"name"`

	// Description tells the model what the tool does.
	Description string `json:"description"`

	// Schema is the JSON schema of the arguments.
	Schema map[string]any `json:"schema,omitempty"`

	// Resources names the resource pools the tool consumes
	// (e.g. "filesystem", "network", "process").
	Resources []string `json:"resources,omitempty"`
}

// Registry holds tool definitions.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
}

// Get returns the definition for a tool name.
//
// Outputs:
//
//	Definition - The definition.
//	bool - False if the tool is not registered.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Resources returns the resource pools a tool consumes, sorted.
// Unknown tools consume no pools.
func (r *Registry) Resources(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	if !ok || len(def.Resources) == 0 {
		return nil
	}
	out := append([]string(nil), def.Resources...)
	sort.Strings(out)
	return out
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
