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

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes orchestrator observability.
type Metrics struct {
	phaseDuration   *prometheus.HistogramVec
	requestOutcomes *prometheus.CounterVec
	retries         *prometheus.CounterVec
	poolUtilization *prometheus.GaugeVec
}

// NewMetrics creates and registers orchestrator metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentcore",
			Subsystem: "orchestrate",
			Name:      "phase_duration_seconds",
			Help:      "Wall time per executed phase.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"phase"}),
		requestOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "orchestrate",
			Name:      "requests_total",
			Help:      "Tool requests by final status.",
		}, []string{"status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "orchestrate",
			Name:      "retries_total",
			Help:      "Retry attempts by tool.",
		}, []string{"tool"}),
		poolUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentcore",
			Subsystem: "orchestrate",
			Name:      "pool_in_use",
			Help:      "Units currently held per resource pool.",
		}, []string{"pool"}),
	}
	reg.MustRegister(m.phaseDuration, m.requestOutcomes, m.retries, m.poolUtilization)
	return m
}
