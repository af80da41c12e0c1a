// Package cli is the operator-facing command tree: validate the item
// bank, run the offline analyzer, run the weekly re-fit placeholder,
// and serve the HTTP API. Commands register themselves onto rootCmd
// from init(), flags are read with cmd.Flags().GetString, and a RunE
// returns a plain error that cobra prints and turns into a non-zero
// exit code.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "studyengine",
	Short: "Adaptive study engine operator CLI",
	Long: `studyengine validates the item bank, runs the offline analytics
pass, runs the weekly re-fit placeholder job, and serves the HTTP API.`,
}

// Execute runs the command tree against os.Args, printing any error to
// stderr and returning a non-zero process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
