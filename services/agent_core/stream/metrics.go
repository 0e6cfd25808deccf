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

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes stream engine observability.
//
// Thread Safety: safe for concurrent use.
type Metrics struct {
	transitions  *prometheus.CounterVec
	published    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	backpressure *prometheus.CounterVec
	occupancy    *prometheus.GaugeVec
	deliveryTime *prometheus.HistogramVec
}

// NewMetrics creates and registers stream metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "stream",
			Name:      "transitions_total",
			Help:      "Stream state transitions, by class and edge.",
		}, []string{"class", "from", "to"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "stream",
			Name:      "published_total",
			Help:      "Elements published, by stream class.",
		}, []string{"class"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "stream",
			Name:      "dropped_total",
			Help:      "Elements shed by drop-oldest overflow, by stream class.",
		}, []string{"class"}),
		backpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "stream",
			Name:      "backpressure_events_total",
			Help:      "Producer pause signals, by stream class.",
		}, []string{"class"}),
		occupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentcore",
			Subsystem: "stream",
			Name:      "buffer_occupancy",
			Help:      "Current buffer occupancy, by stream class.",
		}, []string{"class"}),
		deliveryTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentcore",
			Subsystem: "stream",
			Name:      "delivery_seconds",
			Help:      "Latency from publish to consume, by stream class.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"class"}),
	}
	reg.MustRegister(
		m.transitions, m.published, m.dropped,
		m.backpressure, m.occupancy, m.deliveryTime,
	)
	return m
}
