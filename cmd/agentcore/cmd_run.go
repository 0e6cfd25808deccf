// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AgentCore/pkg/logging"
	"github.com/AleutianAI/AgentCore/services/agent_core/agenterr"
	"github.com/AleutianAI/AgentCore/services/agent_core/driver"
	"github.com/AleutianAI/AgentCore/services/agent_core/events"
	"github.com/AleutianAI/AgentCore/services/agent_core/llm"
	"github.com/AleutianAI/AgentCore/services/agent_core/orchestrate"
	"github.com/AleutianAI/AgentCore/services/agent_core/state"
	"github.com/AleutianAI/AgentCore/services/agent_core/tools"
)

var (
	verbose        bool
	jsonLogs       bool
	transcriptPath string
	dbPath         string

	runCmd = &cobra.Command{
		Use:   "run [goal]",
		Short: "Run a scripted reasoning session against mock collaborators",
		Long: `Runs the full driver loop with a scripted model and a scripted tool
executor, so the engine's behavior can be observed end to end without
API keys or network access. The session transcript can be exported
with --transcript, and checkpoints persisted with --db.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runSessionCommand,
	}
)

func init() {
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	runCmd.Flags().BoolVar(&jsonLogs, "json", false, "emit JSON logs on stderr")
	runCmd.Flags().StringVar(&transcriptPath, "transcript", "", "export a YAML transcript to this path")
	runCmd.Flags().StringVar(&dbPath, "db", "", "persist checkpoints to this SQLite file")
}

func runSessionCommand(cmd *cobra.Command, args []string) {
	goal := strings.Join(args, " ")

	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "cli",
		JSON:    jsonLogs,
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emitter := events.NewEmitter(events.WithLogger(logger.Slog()))
	emitter.Subscribe(events.LoggingHandler(logger.Slog(), slog.LevelDebug))

	registry := prometheus.NewRegistry()
	collector := events.NewMetricsCollector(registry)
	emitter.Subscribe(collector.Handler())

	storeOpts := []state.StoreOption{state.WithLogger(logger.Slog())}
	if dbPath != "" {
		persistence, err := state.NewSQLiteStore(ctx, dbPath)
		if err != nil {
			logger.Error("opening checkpoint database", "path", dbPath, "error", err)
			os.Exit(1)
		}
		defer persistence.Close()
		storeOpts = append(storeOpts, state.WithPersistence(persistence))
	}
	store := state.NewStore(storeOpts...)

	orchestrator := orchestrate.New(cfg.Orchestrator, demoExecutor(),
		orchestrate.WithLogger(logger.Slog()),
		orchestrate.WithObserver(driver.NewPhaseEvents(emitter)),
	)

	d := driver.New(cfg, demoClient(),
		driver.WithOrchestrator(orchestrator),
		driver.WithRegistry(demoRegistry()),
		driver.WithStore(store),
		driver.WithEmitter(emitter),
		driver.WithLogger(logger.Slog()),
	)

	st, err := d.Process(ctx, goal)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("session failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	printSession(cmd, st)
	printMetrics(cmd, registry)

	if transcriptPath != "" && st != nil {
		if err := state.ExportTranscript(transcriptPath, st); err != nil {
			logger.Error("exporting transcript", "path", transcriptPath, "error", err)
			os.Exit(1)
		}
		cmd.Printf("\nTranscript written to %s\n", transcriptPath)
	}
}

// demoClient scripts a three-turn conversation: inspect the code, run
// the tests, then declare the goal complete.
func demoClient() *llm.MockClient {
	return llm.NewMockClient().
		WithModel("scripted-demo").
		WithDelay(5 * time.Millisecond).
		QueueToolCallTurn(
			llm.ToolCall{Name: "read_file", Arguments: llm.MustArgs(map[string]any{"path": "internal/parser/parser.go"})},
			llm.ToolCall{Name: "grep", Arguments: llm.MustArgs(map[string]any{"pattern": "func Parse"})},
		).
		QueueToolCallTurn(
			llm.ToolCall{Name: "run_tests", Arguments: llm.MustArgs(map[string]any{"package": "./internal/parser"})},
		).
		QueueTextTurn("The parser now handles trailing commas; all package tests pass.")
}

// demoExecutor scripts tool outputs, including one transient failure so
// the orchestrator's retry path is visible in the event log.
func demoExecutor() *tools.MockExecutor {
	return tools.NewMockExecutor().
		Script("read_file", "package parser\n\nfunc Parse(src []byte) (*AST, error) { ... }").
		Script("grep", "internal/parser/parser.go:14:func Parse(src []byte) (*AST, error)").
		ScriptFlaky("run_tests", "ok  \tinternal/parser\t0.31s", 1,
			agenterr.Transient("run_tests", errors.New("test binary port already in use")))
}

func demoRegistry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.Definition{
		Name:        "read_file",
		Description: "Read a file from the workspace",
		Resources:   []string{"filesystem"},
	})
	r.Register(tools.Definition{
		Name:        "grep",
		Description: "Search the workspace for a pattern",
		Resources:   []string{"filesystem"},
	})
	r.Register(tools.Definition{
		Name:        "run_tests",
		Description: "Run the test suite for a package",
		Resources:   []string{"process"},
	})
	return r
}

func printSession(cmd *cobra.Command, st *state.ReasoningState) {
	if st == nil {
		return
	}
	cmd.Printf("\nSession %s terminated: %s (%d steps)\n", st.SessionID, st.TerminationReason, len(st.Steps))
	for _, step := range st.Steps {
		detail := step.Detail
		if len(detail) > 100 {
			detail = detail[:100] + "..."
		}
		cmd.Printf("  [%-7s] %-12s %s\n", step.Outcome, step.Node, detail)
	}
}

func printMetrics(cmd *cobra.Command, registry *prometheus.Registry) {
	families, err := registry.Gather()
	if err != nil {
		return
	}
	cmd.Println("\nMetrics:")
	for _, family := range families {
		for _, metric := range family.Metric {
			var labels []string
			for _, pair := range metric.Label {
				labels = append(labels, fmt.Sprintf("%s=%s", pair.GetName(), pair.GetValue()))
			}
			suffix := ""
			if len(labels) > 0 {
				suffix = "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case metric.Counter != nil:
				cmd.Printf("  %s%s %v\n", family.GetName(), suffix, metric.Counter.GetValue())
			case metric.Histogram != nil:
				cmd.Printf("  %s%s count=%d\n", family.GetName(), suffix, metric.Histogram.GetSampleCount())
			}
		}
	}
}
