// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"context"
	"sync"
)

// Overflow selects the behavior when the buffer is full.
type Overflow int

const (
	// DropOldest discards the oldest buffered element to make room.
	// Suited to progress/telemetry streams where staleness is fine.
	DropOldest Overflow = iota

	// BlockProducer makes Push wait for space. Suited to model-token
	// streams where every element matters.
	BlockProducer
)

// String returns the configuration name of the strategy.
func (o Overflow) String() string {
	switch o {
	case DropOldest:
		return "drop_oldest"
	case BlockProducer:
		return "block_producer"
	default:
		return "unknown"
	}
}

// Buffer is a bounded FIFO ring with a configurable overflow strategy.
//
// Thread Safety: Buffer is safe for one concurrent producer and one
// concurrent consumer, which is how the engine uses it (one pump, one
// reader per stream). The single-slot wake signals do not broadcast,
// so additional blocked producers or consumers may miss a wake-up.
type Buffer struct {
	mu       sync.Mutex
	items    []string
	head     int
	n        int
	capacity int
	overflow Overflow

	dropped uint64
	closed  bool

	// space and data are wake-up signals for blocked Push/Pop.
	space chan struct{}
	data  chan struct{}
}

// NewBuffer creates a buffer with the given capacity and strategy.
func NewBuffer(capacity int, overflow Overflow) *Buffer {
	return &Buffer{
		items:    make([]string, capacity),
		capacity: capacity,
		overflow: overflow,
		space:    make(chan struct{}, 1),
		data:     make(chan struct{}, 1),
	}
}

// Push appends an element.
//
// Description:
//
//	With DropOldest a full buffer sheds its oldest element and Push
//	never blocks. With BlockProducer, Push waits for space or for ctx
//	cancellation.
//
// Outputs:
//
//	bool - True if an element was dropped to make room.
//	error - ErrBufferClosed or ctx.Err().
func (b *Buffer) Push(ctx context.Context, item string) (bool, error) {
	b.mu.Lock()
	for {
		if b.closed {
			b.mu.Unlock()
			return false, ErrBufferClosed
		}
		if b.n < b.capacity {
			b.items[(b.head+b.n)%b.capacity] = item
			b.n++
			b.mu.Unlock()
			b.signal(b.data)
			return false, nil
		}
		if b.overflow == DropOldest {
			b.items[(b.head+b.n)%b.capacity] = item
			b.head = (b.head + 1) % b.capacity
			b.dropped++
			b.mu.Unlock()
			b.signal(b.data)
			return true, nil
		}
		b.mu.Unlock()
		select {
		case <-b.space:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		b.mu.Lock()
	}
}

// Pop removes the oldest element, waiting when the buffer is empty.
//
// Outputs:
//
//	string - The element.
//	error - ErrBufferClosed once the buffer is closed and drained, or
//	  ctx.Err().
func (b *Buffer) Pop(ctx context.Context) (string, error) {
	b.mu.Lock()
	for {
		if b.n > 0 {
			item := b.items[b.head]
			b.items[b.head] = ""
			b.head = (b.head + 1) % b.capacity
			b.n--
			b.mu.Unlock()
			b.signal(b.space)
			return item, nil
		}
		if b.closed {
			b.mu.Unlock()
			return "", ErrBufferClosed
		}
		b.mu.Unlock()
		select {
		case <-b.data:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		b.mu.Lock()
	}
}

// TryPop removes the oldest element without blocking.
func (b *Buffer) TryPop() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n == 0 {
		return "", false
	}
	item := b.items[b.head]
	b.items[b.head] = ""
	b.head = (b.head + 1) % b.capacity
	b.n--
	b.signal(b.space)
	return item, true
}

// Len returns the current occupancy.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Dropped returns the total elements shed by DropOldest.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close rejects further pushes. Buffered elements remain poppable
// until drained; then Pop returns ErrBufferClosed.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	// Wake any waiters so they observe the close.
	b.signal(b.space)
	b.signal(b.data)
}

// signal performs a non-blocking wake-up.
func (b *Buffer) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
