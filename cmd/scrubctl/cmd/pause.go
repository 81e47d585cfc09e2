package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var pauseID string

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause a running scrub",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postControl("pause", pauseID)
	},
}

func init() {
	pauseCmd.Flags().StringVar(&pauseID, "id", "", "run id printed by 'scrubctl serve'")
	rootCmd.AddCommand(pauseCmd)
}

// postControl issues a bodiless POST to path?id=id against the running
// serve process's control endpoint, the same request shape resume/cancel
// use.
func postControl(path, id string) error {
	if id == "" {
		return fmt.Errorf("scrubctl: --id is required")
	}
	url := fmt.Sprintf("http://%s/%s?id=%s", controlAddr, path, id)
	resp, err := http.Post(url, "", nil)
	if err != nil {
		return fmt.Errorf("scrubctl: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("scrubctl: %s: server returned %s", path, resp.Status)
	}
	fmt.Printf("%s: ok\n", path)
	return nil
}
