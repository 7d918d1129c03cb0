// Package cmd implements the aqh command line interface.
package cmd

import "github.com/spf13/cobra"

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "aqh",
		Short:         "Antigravity Quota Hub: account state and quota change propagation",
		Long:          "aqh watches the Antigravity accounts registry, derives per-account rate-limit status, polls remaining model quota, and streams changes to subscribers over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
