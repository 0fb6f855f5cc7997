// commands.go contains the cobra command definitions and their flag
// configurations. Each builder creates a command and wires it to its
// handler.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tranvh/contextgate/internal/config"
)

// buildServeCmd creates the "serve" command that starts the gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the contextgate gateway",
		Long: `Start the gateway with the configured provider and stores.

The server will:
1. Load configuration from the specified file (or built-in defaults)
2. Open the conversation store and the vector store
3. Initialize the LLM provider from config or environment
4. Start the HTTP endpoint for health checks and metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  contextgate serve

  # Start with custom config
  contextgate serve --config /etc/contextgate/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

// buildValidateCmd creates the "validate" command that checks a
// configuration file without starting anything.
func buildValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"config ok: provider=%s http_port=%d vector_backend=%s storage=%s\n",
				cfg.LLM.DefaultProvider, cfg.Server.HTTPPort,
				cfg.Memory.VectorBackend, cfg.Storage.Path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	return cmd
}
