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
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// pool is one named, quota-bounded resource.
type pool struct {
	name  string
	quota int64
	sem   *semaphore.Weighted
	inUse atomic.Int64
}

// ResourceManager owns the named resource pools shared by concurrent
// tool requests. Acquisition is all-or-nothing per request, in a
// globally consistent (sorted) order, so partial acquisition can never
// deadlock two requests against each other.
//
// Thread Safety: ResourceManager is safe for concurrent use.
type ResourceManager struct {
	pools map[string]*pool
}

// NewResourceManager creates pools from quota configuration.
// Resources not named here are unmanaged: requests referencing them
// acquire nothing.
func NewResourceManager(quotas map[string]int) *ResourceManager {
	rm := &ResourceManager{pools: make(map[string]*pool, len(quotas))}
	for name, quota := range quotas {
		if quota <= 0 {
			continue
		}
		rm.pools[name] = &pool{
			name:  name,
			quota: int64(quota),
			sem:   semaphore.NewWeighted(int64(quota)),
		}
	}
	return rm
}

// Acquire obtains one unit from every named pool, or nothing.
//
// Description:
//
//	Pool names are deduplicated and acquired in sorted order. If any
//	acquisition misses the timeout, everything already held is
//	released and the call fails with ErrResourceExhausted.
//
// Inputs:
//
//	ctx - Cancellation signal.
//	resources - Pool names the request declared.
//	timeout - Queue timeout covering the whole acquisition.
//
// Outputs:
//
//	func() - Release closure; safe to call exactly once, never nil.
//	error - ErrResourceExhausted or ctx.Err().
func (rm *ResourceManager) Acquire(ctx context.Context, resources []string, timeout time.Duration) (func(), error) {
	names := dedupeSorted(resources)

	var held []*pool
	release := func() {
		// Reverse order keeps release symmetric with acquisition.
		for i := len(held) - 1; i >= 0; i-- {
			held[i].inUse.Add(-1)
			held[i].sem.Release(1)
		}
	}

	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for _, name := range names {
		p, ok := rm.pools[name]
		if !ok {
			continue
		}
		if err := p.sem.Acquire(acquireCtx, 1); err != nil {
			release()
			if ctx.Err() != nil {
				return func() {}, ctx.Err()
			}
			return func() {}, fmt.Errorf("%w: pool %s (quota %d) within %s",
				ErrResourceExhausted, name, p.quota, timeout)
		}
		p.inUse.Add(1)
		held = append(held, p)
	}
	return release, nil
}

// InUse returns the currently held units of a pool.
func (rm *ResourceManager) InUse(name string) int {
	if p, ok := rm.pools[name]; ok {
		return int(p.inUse.Load())
	}
	return 0
}

// Quota returns a pool's configured quota (0 for unmanaged).
func (rm *ResourceManager) Quota(name string) int {
	if p, ok := rm.pools[name]; ok {
		return int(p.quota)
	}
	return 0
}

// Availability reports the free fraction of a pool in [0,1].
// Unmanaged pools are always fully available.
func (rm *ResourceManager) Availability(name string) float64 {
	p, ok := rm.pools[name]
	if !ok {
		return 1.0
	}
	free := p.quota - p.inUse.Load()
	if free < 0 {
		free = 0
	}
	return float64(free) / float64(p.quota)
}

func dedupeSorted(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := append([]string(nil), names...)
	sort.Strings(out)
	n := 0
	for i, name := range out {
		if i == 0 || name != out[i-1] {
			out[n] = name
			n++
		}
	}
	return out[:n]
}
