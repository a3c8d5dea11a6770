package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	logLevel  string
	logFormat string

	rootCmd = &cobra.Command{
		Use:   "coverline",
		Short: "Coverline server - insurance lead generation and CRM backend",
		Long: `Coverline server ingests insurance leads from partner sources,
deduplicates them, routes them to licensed agents, and tracks the
resulting pipeline.

The server supports:
- Lead intake with idempotent replay and duplicate detection
- Score-based lead-to-agent routing with pluggable strategies
- Carrier quote requests behind per-carrier circuit breakers
- Segments, automations, and agent notifications
- A hash-chained audit log and DSAR export/erasure`,
		// Run serve by default when no subcommand is given.
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd.RunE(cmd, args)
		},
	}
)

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console) (default: json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
}
