// Package cmd holds the command line entry points of the segment engine
package cmd

import (
	"fmt"
	"os"

	"github.com/amirphl/segment-engine/config"
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command. Without a subcommand it serves the API.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "segment-engine",
		Short:         "Multi-tenant customer segmentation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewRecomputeCommand())
	cmd.AddCommand(NewMigrateCommand())

	return cmd
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.ProductionConfig, error) {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
