// Package main provides the coday CLI: a multi-agent conversational
// orchestrator driven from the terminal.
//
// Start an interactive session on the current directory:
//
//	coday run
//
// Fire a single prompt and exit:
//
//	coday prompt "summarise the README"
//
// Configuration lives in coday.yaml at the project root and in the
// per-user directory (~/.coday by default). API keys come from user.yml
// or the ANTHROPIC_API_KEY / OPENAI_API_KEY environment variables.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var verbose bool

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coday",
		Short: "Coday - multi-agent conversational orchestrator",
		Long: `Coday runs named agents over persistent conversation threads, with
project-jailed file tools, user and project memories, MCP server tools
and agent-to-agent delegation.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			}))
			slog.SetDefault(logger)
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildPromptCmd(),
		buildValidateCmd(),
		buildThreadsCmd(),
		buildScheduleCmd(),
	)
	return rootCmd
}

// defaultConfigDir returns the per-user coday directory.
func defaultConfigDir() string {
	if dir := os.Getenv("CODAY_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coday"
	}
	return filepath.Join(home, ".coday")
}
