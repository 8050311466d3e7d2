// Package cmd defines and implements the CLI commands for the linksentry
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linksentry",
		Short: "Scheduled broken-link scanning for websites.",
		Long: `linksentry crawls websites on a schedule, classifies every outbound
link it finds (ok, broken, blocked, no response), and keeps the findings
queryable per scan run. Ignore rules route known noise out of the results.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (environment variables override)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newEnqueueCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
