package cmd

import "github.com/spf13/cobra"

var resumeID string

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused scrub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postControl("resume", resumeID)
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeID, "id", "", "run id printed by 'scrubctl serve'")
	rootCmd.AddCommand(resumeCmd)
}
