// Command scrubctl is the operator-facing CLI over package scrub's
// transport-agnostic Manager: start, pause, resume, cancel and progress.
// serve runs the long-lived agent process; the other subcommands are
// short-lived commands that poke at it over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/NVIDIA/btrfs-scrub/cmd/scrubctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
