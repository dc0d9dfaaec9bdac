// Package cli implements the transferd command-line interface using
// Cobra. Each subcommand drives the Orchestrator through a freshly
// constructed Daemon: download, seed, status, list, cancel, resume, serve.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "transferd",
	Short: "transferd — multi-source peer-to-peer file transfer engine",
	Long: `transferd downloads a single logical file by concurrently fetching
disjoint byte ranges from BitTorrent swarms, ED2K servers and peers,
FTP/FTPS servers, plain HTTP(S) servers, and direct WebRTC data channels,
verifying per-chunk integrity and persisting transfer state so
interrupted downloads resume across process restarts.`,
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
