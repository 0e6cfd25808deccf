// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Handler is a function that processes events.
type Handler func(event *Event)

// Filter determines whether an event should be handled.
type Filter func(event *Event) bool

// subscription is one subscriber with its own bounded delivery queue.
//
// Each subscriber gets a dedicated goroutine draining the queue, so a
// slow handler can never block the emitting hot path. When the queue
// fills, events are dropped for that subscriber and counted.
type subscription struct {
	id      string
	handler Handler
	filter  Filter
	types   []Type

	queue   chan *Event
	done    chan struct{}
	dropped atomic.Int64
}

func (s *subscription) matches(event *Event) bool {
	if len(s.types) > 0 {
		found := false
		for _, t := range s.types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.filter != nil && !s.filter(event) {
		return false
	}
	return true
}

// Emitter broadcasts events to subscribers without ever blocking the
// caller.
//
// Thread Safety: Emitter is safe for concurrent use.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	closed        bool

	sessionID string
	iteration atomic.Int64

	queueSize int
	logger    *slog.Logger
	dropLimit *rate.Limiter
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithQueueSize sets the per-subscriber queue depth.
func WithQueueSize(size int) EmitterOption {
	return func(e *Emitter) {
		e.queueSize = size
	}
}

// WithSessionID sets the session ID stamped on all events.
func WithSessionID(id string) EmitterOption {
	return func(e *Emitter) {
		e.sessionID = id
	}
}

// WithLogger sets the logger used for drop warnings.
func WithLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		e.logger = logger
	}
}

// NewEmitter creates an event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*subscription),
		queueSize:     256,
		logger:        slog.Default(),
		// Drop warnings are throttled so a sustained backlog cannot
		// flood the log.
		dropLimit: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers a handler for events of the given types
// (no types = all types).
//
// Outputs:
//
//	string - Subscription ID for Unsubscribe.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	return e.SubscribeWithFilter(handler, nil, types...)
}

// SubscribeWithFilter registers a handler with a custom filter.
func (e *Emitter) SubscribeWithFilter(handler Handler, filter Filter, types ...Type) string {
	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
		filter:  filter,
		types:   types,
		queue:   make(chan *Event, e.queueSize),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	e.subscriptions[sub.id] = sub
	e.mu.Unlock()

	go e.drain(sub)
	return sub.id
}

// Unsubscribe removes a subscription and stops its drain goroutine.
//
// Outputs:
//
//	bool - True if the subscription existed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	sub, ok := e.subscriptions[id]
	if ok {
		delete(e.subscriptions, id)
	}
	e.mu.Unlock()

	if ok {
		close(sub.queue)
		<-sub.done
	}
	return ok
}

// Emit broadcasts an event to all matching subscribers.
//
// Description:
//
//	Never blocks. Delivery is asynchronous through each subscriber's
//	bounded queue; when a queue is full the event is dropped for that
//	subscriber and a throttled warning is logged. Observation is lossy
//	under backpressure, the reasoning hot path is not.
//
// Thread Safety: Safe for concurrent use.
func (e *Emitter) Emit(eventType Type, data any) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: e.sessionID,
		Timestamp: time.Now(),
		Iteration: int(e.iteration.Load()),
		Data:      data,
	}
	for _, sub := range e.subscriptions {
		if !sub.matches(event) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			sub.dropped.Add(1)
			if e.dropLimit.Allow() {
				e.logger.Warn("event dropped: subscriber queue full",
					"subscription_id", sub.id,
					"event_type", eventType,
					"dropped_total", sub.dropped.Load(),
				)
			}
		}
	}
	e.mu.RUnlock()
}

// SetSessionID updates the session ID stamped on future events.
func (e *Emitter) SetSessionID(id string) {
	e.mu.Lock()
	e.sessionID = id
	e.mu.Unlock()
}

// SetIteration updates the driver iteration stamped on future events.
func (e *Emitter) SetIteration(n int) {
	e.iteration.Store(int64(n))
}

// Dropped returns the total events dropped for a subscription.
func (e *Emitter) Dropped(id string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if sub, ok := e.subscriptions[id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}

// Close stops all subscribers after draining their queues. The emitter
// accepts no events after Close.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	subs := make([]*subscription, 0, len(e.subscriptions))
	for _, sub := range e.subscriptions {
		subs = append(subs, sub)
	}
	e.subscriptions = make(map[string]*subscription)
	e.mu.Unlock()

	for _, sub := range subs {
		close(sub.queue)
		<-sub.done
	}
}

// drain delivers queued events to one subscriber until its queue closes.
func (e *Emitter) drain(sub *subscription) {
	defer close(sub.done)
	for event := range sub.queue {
		e.safeInvoke(sub.handler, event)
	}
}

// safeInvoke calls a handler with panic recovery so one misbehaving
// subscriber cannot take down delivery for the rest.
func (e *Emitter) safeInvoke(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}
