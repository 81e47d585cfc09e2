package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/NVIDIA/btrfs-scrub/scrub"
)

var progressID string

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Print a scrub run's statistics snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printProgress(progressID)
	},
}

func init() {
	progressCmd.Flags().StringVar(&progressID, "id", "", "run id printed by 'scrubctl serve'")
	rootCmd.AddCommand(progressCmd)
}

func printProgress(id string) error {
	if id == "" {
		return fmt.Errorf("scrubctl: --id is required")
	}
	url := fmt.Sprintf("http://%s/progress?id=%s", controlAddr, id)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("scrubctl: progress: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scrubctl: progress: server returned %s", resp.Status)
	}

	var stats scrub.Statistics
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("scrubctl: progress: decoding response: %w", err)
	}

	fmt.Printf("data scrubbed:  %s (%s verified)\n", humanize.Bytes(stats.DataBytesScrubbed), humanize.Bytes(stats.DataBytesVerified))
	fmt.Printf("tree scrubbed:  %s (%s verified)\n", humanize.Bytes(stats.TreeBytesScrubbed), humanize.Bytes(stats.TreeBytesVerified))
	fmt.Printf("csum errors:    %d (corrected %d, uncorrectable %d, unverified %d)\n",
		stats.CsumErrors, stats.CorrectedErrors, stats.UncorrectableErrors, stats.UnverifiedErrors)
	fmt.Printf("read errors:    %d\n", stats.ReadErrors)
	fmt.Printf("last physical:  %s\n", humanize.Bytes(stats.LastPhysical))
	return nil
}
