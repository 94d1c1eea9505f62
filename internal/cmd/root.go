// Package cmd holds the autopilot command line.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd returns the root command for the autopilot binary.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "autopilot",
		Short:         "Social autopilot: hunt, score, draft and publish replies",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $AUTOPILOT_CONFIG)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newHuntCmd())
	rootCmd.AddCommand(newSyncMetricsCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newThresholdReportCmd())
	rootCmd.AddCommand(newMigrateCmd())

	return rootCmd
}
