// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command agentcore exercises the reasoning core from the terminal.
//
// Usage:
//
//	go run ./cmd/agentcore run "fix the failing parser test"
//	go run ./cmd/agentcore run --verbose --transcript session.yaml "add a retry flag"
//	go run ./cmd/agentcore run --config agentcore.yaml --db sessions.db "refactor"
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AgentCore/services/agent_core/config"
)

// Populated through -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
)

var (
	cfgPath string
	cfg     config.Config

	rootCmd = &cobra.Command{
		Use:   "agentcore",
		Short: "The AgentCore reasoning engine",
		Long: `AgentCore is the reasoning and orchestration core of a coding agent:
a session state store, a decision engine, a stream engine, a tool
orchestrator, a reasoning graph walker, and the iterative driver loop
that ties them together.`,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("agentcore %s (%s)\n", version, commit)
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML configuration file")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if cfgPath == "" {
			cfg = config.Default()
			return
		}
		loaded, err := config.Load(cfgPath)
		if err != nil {
			log.Fatalf("Error loading configuration: %v", err)
		}
		cfg = loaded
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
}
