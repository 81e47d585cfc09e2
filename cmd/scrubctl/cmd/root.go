package cmd

import (
	"github.com/spf13/cobra"
)

var controlAddr string

var rootCmd = &cobra.Command{
	Use:   "scrubctl",
	Short: "Control a background btrfs-style data scrub",
	Long: `scrubctl drives the scrub engine's operator API: serve starts a run and
hosts its control endpoint, while pause/resume/cancel/progress talk to an
already-running serve process.`,
}

// Execute runs the CLI, returning the first error any subcommand reports.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&controlAddr, "addr", "127.0.0.1:7777", "control endpoint of a running 'scrubctl serve'")
}
