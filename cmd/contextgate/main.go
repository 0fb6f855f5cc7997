// Package main provides the CLI entry point for the contextgate
// conversational AI gateway.
//
// Contextgate fronts LLM providers (Anthropic, OpenAI, Google) with
// Bayesian context optimization, content safety, tool execution, and
// shared-conversation publishing.
//
// # Basic Usage
//
// Start the gateway:
//
//	contextgate serve --config contextgate.yaml
//
// Validate a configuration file:
//
//	contextgate validate --config contextgate.yaml
//
// # Environment Variables
//
//   - LLM_PROVIDER: provider kind (anthropic, openai, google)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY / GOOGLE_API_KEY
//   - LLM_MODEL, LLM_MAX_TOKENS, LLM_TEMPERATURE: provider overrides
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "contextgate",
		Short: "Contextgate - conversational AI gateway",
		Long: `Contextgate fronts LLM providers with context optimization and safety.

Supported providers: Anthropic (Claude), OpenAI (GPT), Google (Gemini)
Core features: Bayesian context selection, running summarization,
content safety, tool execution, shared conversations.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildValidateCmd(),
	)
	return rootCmd
}
