// Package main provides the CLI entry point for the agent core runtime.
//
// agentcore hosts the Agent Loop, Session Manager, Pairing Manager, and
// Gateway behind a single process.
//
// # Basic Usage
//
// Start the gateway:
//
//	agentcore serve --config agentcore.yaml
//
// Print a sample pairing code from a throwaway, local-only Pairing Manager:
//
//	agentcore pairing generate --label "laptop"
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentcore",
		Short:        "agentcore - personal AI assistant agent core runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildPairingCmd(),
		buildSessionsCmd(),
	)
	return rootCmd
}
