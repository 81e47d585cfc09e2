package cmd

import "github.com/spf13/cobra"

var cancelID string

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a running or paused scrub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postControl("cancel", cancelID)
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelID, "id", "", "run id printed by 'scrubctl serve'")
	rootCmd.AddCommand(cancelCmd)
}
