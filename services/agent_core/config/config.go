// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the configuration surface of the reasoning core.
//
// Configuration is a plain structured value consumed by the components;
// it can be built in code, or loaded from a YAML file via Load. Every
// limit the core enforces (iteration ceilings, concurrency, quotas,
// backoff, confidence floor, buffer sizes) lives here so deployments
// can tune behavior without code changes.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the reasoning core.
type Config struct {
	// Driver configures the iterative driver loop.
	Driver DriverConfig `mapstructure:"driver" yaml:"driver"`

	// Graph configures reasoning graph execution.
	Graph GraphConfig `mapstructure:"graph" yaml:"graph"`

	// Orchestrator configures tool batch execution.
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`

	// Decision configures the decision engine.
	Decision DecisionConfig `mapstructure:"decision" yaml:"decision"`

	// Stream configures stream lifecycle management.
	Stream StreamConfig `mapstructure:"stream" yaml:"stream"`

	// State configures the state store.
	State StateConfig `mapstructure:"state" yaml:"state"`
}

// DriverConfig bounds the top-level process loop.
type DriverConfig struct {
	// MaxIterations caps model-call iterations per session.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`

	// ConfidenceFloor terminates the loop when the decision engine's
	// confidence for continuing drops below it. Range [0,1].
	ConfidenceFloor float64 `mapstructure:"confidence_floor" yaml:"confidence_floor"`

	// IterationTimeout bounds a single iteration (model call plus tools).
	IterationTimeout time.Duration `mapstructure:"iteration_timeout" yaml:"iteration_timeout"`
}

// GraphConfig bounds graph traversal.
type GraphConfig struct {
	// MaxSteps is the global step ceiling independent of graph shape.
	MaxSteps int `mapstructure:"max_steps" yaml:"max_steps"`

	// MaxNodeVisits is the per-node revisit ceiling for cyclic graphs.
	MaxNodeVisits int `mapstructure:"max_node_visits" yaml:"max_node_visits"`

	// ParallelFanOut caps concurrent branches of a Parallel node.
	ParallelFanOut int `mapstructure:"parallel_fan_out" yaml:"parallel_fan_out"`

	// FailFast aborts sibling branches when one Parallel branch fails.
	FailFast bool `mapstructure:"fail_fast" yaml:"fail_fast"`
}

// OrchestratorConfig bounds tool batch execution.
type OrchestratorConfig struct {
	// MaxConcurrency is the global ceiling on in-flight tool requests.
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`

	// PoolQuotas maps resource pool names to their quotas
	// (e.g. filesystem: 4, network: 8).
	PoolQuotas map[string]int `mapstructure:"pool_quotas" yaml:"pool_quotas"`

	// AcquireTimeout bounds how long a request waits for its resources
	// before failing with resource exhaustion.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`

	// DefaultTimeout applies to requests without an explicit timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`

	// Retry configures transient-failure retries.
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`
}

// RetryConfig parameterizes exponential backoff with jitter.
type RetryConfig struct {
	// MaxAttempts is the total attempt cap, counting the first try.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`

	// BaseDelay is the initial backoff delay.
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`

	// Multiplier is the exponential growth factor.
	Multiplier float64 `mapstructure:"multiplier" yaml:"multiplier"`

	// Jitter is the random fraction added to each delay, in [0,1].
	// A delay d becomes d + rand(0, d*Jitter). Zero disables jitter.
	Jitter float64 `mapstructure:"jitter" yaml:"jitter"`
}

// DecisionConfig parameterizes candidate scoring.
type DecisionConfig struct {
	// Weights for the scoring criteria. They need not sum to 1; scores
	// are normalized after summation.
	HistoryWeight  float64 `mapstructure:"history_weight" yaml:"history_weight"`
	ResourceWeight float64 `mapstructure:"resource_weight" yaml:"resource_weight"`
	TimeWeight     float64 `mapstructure:"time_weight" yaml:"time_weight"`
	RiskWeight     float64 `mapstructure:"risk_weight" yaml:"risk_weight"`

	// Epsilon is the score distance within which two candidates tie.
	Epsilon float64 `mapstructure:"epsilon" yaml:"epsilon"`

	// ConfidenceFloor is the minimum confidence for a definite choice;
	// below it the engine returns the distinguished low-confidence result.
	ConfidenceFloor float64 `mapstructure:"confidence_floor" yaml:"confidence_floor"`

	// SimilarityThreshold gates pattern matches against decision history.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`

	// HistoryCap bounds the decision record log (oldest pruned).
	HistoryCap int `mapstructure:"history_cap" yaml:"history_cap"`

	// RecencyHalfLife controls how quickly old outcomes lose influence.
	RecencyHalfLife time.Duration `mapstructure:"recency_half_life" yaml:"recency_half_life"`
}

// OverflowStrategy selects buffer behavior when a stream buffer fills.
type OverflowStrategy string

const (
	// OverflowDropOldest drops the oldest buffered item. For progress
	// and telemetry streams where staleness is acceptable.
	OverflowDropOldest OverflowStrategy = "drop_oldest"

	// OverflowBlockProducer pauses the producer until the buffer drains.
	// For model-token streams where every token matters.
	OverflowBlockProducer OverflowStrategy = "block_producer"
)

// StreamClassConfig configures one class of stream (tokens, progress).
type StreamClassConfig struct {
	// BufferSize is the bounded buffer capacity in items.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`

	// HighWatermark triggers Buffering->Backpressure when occupancy
	// exceeds it. Expressed as an item count <= BufferSize.
	HighWatermark int `mapstructure:"high_watermark" yaml:"high_watermark"`

	// LowWatermark triggers Backpressure->Active when occupancy drains
	// below it.
	LowWatermark int `mapstructure:"low_watermark" yaml:"low_watermark"`

	// Overflow selects the strategy when the buffer is full.
	Overflow OverflowStrategy `mapstructure:"overflow" yaml:"overflow"`
}

// StreamConfig configures the stream engine.
type StreamConfig struct {
	// Token configures model-token streams.
	Token StreamClassConfig `mapstructure:"token" yaml:"token"`

	// Progress configures tool progress/telemetry streams.
	Progress StreamClassConfig `mapstructure:"progress" yaml:"progress"`

	// ReadTimeout bounds a single read from the stream source.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// Retry configures transient-error reconnects.
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// BreakerThreshold is consecutive errors before the circuit opens.
	BreakerThreshold int `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`

	// BreakerCooldown is how long the circuit stays open before a
	// half-open probe is allowed.
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// StateConfig configures the state store.
type StateConfig struct {
	// WorkingMemoryCapacity bounds the working-memory fact set.
	WorkingMemoryCapacity int `mapstructure:"working_memory_capacity" yaml:"working_memory_capacity"`

	// PersistPath enables durable checkpoints at the given SQLite path.
	// Empty means in-memory-only sessions.
	PersistPath string `mapstructure:"persist_path" yaml:"persist_path"`
}

// Default returns the configuration used when no file is provided.
//
// Outputs:
//
//	Config - Complete configuration with production defaults.
func Default() Config {
	return Config{
		Driver: DriverConfig{
			MaxIterations:    20,
			ConfidenceFloor:  0.2,
			IterationTimeout: 5 * time.Minute,
		},
		Graph: GraphConfig{
			MaxSteps:       200,
			MaxNodeVisits:  10,
			ParallelFanOut: 4,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrency: 8,
			PoolQuotas: map[string]int{
				"filesystem": 4,
				"network":    8,
				"process":    2,
			},
			AcquireTimeout: 30 * time.Second,
			DefaultTimeout: 2 * time.Minute,
			Retry:          DefaultRetry(),
		},
		Decision: DecisionConfig{
			HistoryWeight:       0.4,
			ResourceWeight:      0.2,
			TimeWeight:          0.2,
			RiskWeight:          0.2,
			Epsilon:             0.05,
			ConfidenceFloor:     0.3,
			SimilarityThreshold: 0.5,
			HistoryCap:          1000,
			RecencyHalfLife:     time.Hour,
		},
		Stream: StreamConfig{
			Token: StreamClassConfig{
				BufferSize:    1024,
				HighWatermark: 768,
				LowWatermark:  256,
				Overflow:      OverflowBlockProducer,
			},
			Progress: StreamClassConfig{
				BufferSize:    256,
				HighWatermark: 192,
				LowWatermark:  64,
				Overflow:      OverflowDropOldest,
			},
			ReadTimeout:      30 * time.Second,
			Retry:            DefaultRetry(),
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		State: StateConfig{
			WorkingMemoryCapacity: 64,
		},
	}
}

// DefaultRetry returns the default backoff policy.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.5,
	}
}

// Load reads configuration from a YAML file, overlaying Default().
//
// Description:
//
//	Missing keys keep their defaults. The loaded configuration is
//	validated before being returned.
//
// Inputs:
//
//	path - Path to a YAML configuration file.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil on read, parse, or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks internal consistency of the configuration.
//
// Outputs:
//
//	error - Non-nil describing the first violated constraint.
func (c Config) Validate() error {
	if c.Driver.MaxIterations <= 0 {
		return fmt.Errorf("driver.max_iterations must be positive, got %d", c.Driver.MaxIterations)
	}
	if c.Driver.ConfidenceFloor < 0 || c.Driver.ConfidenceFloor > 1 {
		return fmt.Errorf("driver.confidence_floor must be in [0,1], got %v", c.Driver.ConfidenceFloor)
	}
	if c.Graph.MaxSteps <= 0 {
		return fmt.Errorf("graph.max_steps must be positive, got %d", c.Graph.MaxSteps)
	}
	if c.Graph.MaxNodeVisits <= 0 {
		return fmt.Errorf("graph.max_node_visits must be positive, got %d", c.Graph.MaxNodeVisits)
	}
	if c.Graph.ParallelFanOut <= 0 {
		return fmt.Errorf("graph.parallel_fan_out must be positive, got %d", c.Graph.ParallelFanOut)
	}
	if c.Orchestrator.MaxConcurrency <= 0 {
		return fmt.Errorf("orchestrator.max_concurrency must be positive, got %d", c.Orchestrator.MaxConcurrency)
	}
	for name, quota := range c.Orchestrator.PoolQuotas {
		if quota <= 0 {
			return fmt.Errorf("orchestrator.pool_quotas[%s] must be positive, got %d", name, quota)
		}
	}
	if err := c.Orchestrator.Retry.validate("orchestrator.retry"); err != nil {
		return err
	}
	if c.Decision.ConfidenceFloor < 0 || c.Decision.ConfidenceFloor > 1 {
		return fmt.Errorf("decision.confidence_floor must be in [0,1], got %v", c.Decision.ConfidenceFloor)
	}
	if c.Decision.Epsilon < 0 {
		return fmt.Errorf("decision.epsilon must be non-negative, got %v", c.Decision.Epsilon)
	}
	if c.Decision.HistoryCap <= 0 {
		return fmt.Errorf("decision.history_cap must be positive, got %d", c.Decision.HistoryCap)
	}
	if err := c.Stream.Token.validate("stream.token"); err != nil {
		return err
	}
	if err := c.Stream.Progress.validate("stream.progress"); err != nil {
		return err
	}
	if err := c.Stream.Retry.validate("stream.retry"); err != nil {
		return err
	}
	if c.Stream.BreakerThreshold <= 0 {
		return fmt.Errorf("stream.breaker_threshold must be positive, got %d", c.Stream.BreakerThreshold)
	}
	if c.State.WorkingMemoryCapacity <= 0 {
		return fmt.Errorf("state.working_memory_capacity must be positive, got %d", c.State.WorkingMemoryCapacity)
	}
	return nil
}

// validate checks a stream class configuration.
func (s StreamClassConfig) validate(prefix string) error {
	if s.BufferSize <= 0 {
		return fmt.Errorf("%s.buffer_size must be positive, got %d", prefix, s.BufferSize)
	}
	if s.HighWatermark <= 0 || s.HighWatermark > s.BufferSize {
		return fmt.Errorf("%s.high_watermark must be in (0, buffer_size], got %d", prefix, s.HighWatermark)
	}
	if s.LowWatermark < 0 || s.LowWatermark >= s.HighWatermark {
		return fmt.Errorf("%s.low_watermark must be in [0, high_watermark), got %d", prefix, s.LowWatermark)
	}
	switch s.Overflow {
	case OverflowDropOldest, OverflowBlockProducer:
	default:
		return fmt.Errorf("%s.overflow must be drop_oldest or block_producer, got %q", prefix, s.Overflow)
	}
	return nil
}

// validate checks a retry configuration.
func (r RetryConfig) validate(prefix string) error {
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("%s.max_attempts must be positive, got %d", prefix, r.MaxAttempts)
	}
	if r.BaseDelay <= 0 {
		return fmt.Errorf("%s.base_delay must be positive, got %v", prefix, r.BaseDelay)
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("%s.multiplier must be >= 1, got %v", prefix, r.Multiplier)
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return fmt.Errorf("%s.jitter must be in [0,1], got %v", prefix, r.Jitter)
	}
	return nil
}
