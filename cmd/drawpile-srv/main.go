package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "drawpile-srv",
		Short: "Stand-alone relay server for collaborative drawing sessions",
		Long: `drawpile-srv relays drawing commands between clients sharing
a canvas. It speaks the binary protocol over raw TCP and over
WebSocket, and exposes prometheus metrics and a read-only
status API over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
