// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agenterr defines the classified error types that cross
// component boundaries in the reasoning core.
//
// The taxonomy has three classes:
//
//   - Transient: timeouts, transient I/O, rate limiting. Retried
//     automatically with backoff up to a limit.
//   - FatalLocal: invalid tool arguments, permission denied, cyclic
//     dependencies. Fails the specific request or phase immediately,
//     surfaced as a normal step outcome so the graph can route around it.
//   - FatalGlobal: model client exhausted, state corruption. Terminates
//     the session with a reason code.
//
// Component-local recoverable errors never leave their component; anything
// crossing a boundary is wrapped in *Error so callers can dispatch on
// class without string matching.
package agenterr

import (
	"context"
	"errors"
	"fmt"
)

// Class categorizes an error for retry and propagation decisions.
type Class int

const (
	// ClassTransient errors may succeed on retry.
	ClassTransient Class = iota

	// ClassFatalLocal errors fail one request or phase; siblings continue.
	ClassFatalLocal

	// ClassFatalGlobal errors terminate the whole session.
	ClassFatalGlobal
)

// String returns the human-readable class name.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatalLocal:
		return "fatal-local"
	case ClassFatalGlobal:
		return "fatal-global"
	default:
		return "unknown"
	}
}

// Error is a classified error crossing a component boundary.
type Error struct {
	// Class determines retry and propagation behavior.
	Class Class

	// Op names the failed operation (e.g. "orchestrate.dispatch").
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
//
// Inputs:
//
//	class - Error class.
//	op - Operation name.
//	err - Underlying cause. Must not be nil.
//
// Outputs:
//
//	*Error - The classified error.
func New(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// Transient wraps err as a transient error.
func Transient(op string, err error) *Error {
	return New(ClassTransient, op, err)
}

// FatalLocal wraps err as a fatal-local error.
func FatalLocal(op string, err error) *Error {
	return New(ClassFatalLocal, op, err)
}

// FatalGlobal wraps err as a fatal-global error.
func FatalGlobal(op string, err error) *Error {
	return New(ClassFatalGlobal, op, err)
}

// ClassOf returns the class of an error.
//
// Description:
//
//	Unwraps to the nearest *Error and returns its class. Unclassified
//	errors default to FatalLocal: a failure we do not understand fails
//	its request but must not silently retry nor take the session down.
//	Context cancellation and deadline expiry classify as transient so
//	per-request timeouts remain retryable.
//
// Inputs:
//
//	err - The error to classify. Must not be nil.
//
// Outputs:
//
//	Class - The resolved class.
func ClassOf(err error) Class {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassFatalLocal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == ClassTransient
}

// IsFatalGlobal reports whether err should terminate the session.
func IsFatalGlobal(err error) bool {
	return err != nil && ClassOf(err) == ClassFatalGlobal
}
