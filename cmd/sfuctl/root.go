package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "sfuctl",
	Short: "Inspect a running meetsfu conference server",
	Long: `sfuctl queries the introspection API of a meetsfu server: media workers,
rooms and their members, and the live media handles with their dumps and stats.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Base URL of the conference server")
	rootCmd.PersistentFlags().StringVarP(&authToken, "token", "t", os.Getenv("SFUCTL_TOKEN"), "Host token sent as a bearer token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
