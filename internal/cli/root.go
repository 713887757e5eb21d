// Package cli implements the backend node's command-line interface using
// Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "nexusbackend",
	Short: "nexusbackend — GPU-backed inference serving node",
	Long: `nexusbackend runs one backend node of a GPU inference cluster: it
registers with the cluster scheduler, serves models the scheduler assigns
it, and relays overflow queries to backup peers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
