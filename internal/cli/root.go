// Package cli implements the cerastesd command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cerastesd",
	Short: "Cerastes — asynchronous AI inference task service",
	Long: `Cerastes runs AI inference as asynchronous tasks.
Submit text analysis, transcription or video analysis work over HTTP,
poll for progress, and fetch results when they are ready. Models are
loaded lazily under a memory budget and shared across tasks.`,
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
