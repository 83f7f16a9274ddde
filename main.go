// Librarian - code knowledge with calibrated confidence
// Workspace-local store for code knowledge and outcome-calibrated confidence
package main

import (
	"fmt"
	"os"

	"github.com/CanopyHQ/librarian/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
