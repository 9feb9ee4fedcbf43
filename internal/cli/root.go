/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package cli provides the guardian command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
}

// NewRootCommand creates the guardian root command with all subcommands.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "guardian",
		Short:         "Request rate limiter for HTTP services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"path to the YAML configuration file (GUARDIAN_* environment variables override it)")

	rootCmd.AddCommand(
		newServeCommand(flags),
		newRateLimitCommand(flags),
		newVersionCommand(),
	)
	return rootCmd
}
