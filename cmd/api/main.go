package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "api",
	Short:         "Event ingestion service",
	SilenceUsage:  true,
	SilenceErrors: true,
	// no subcommand means serve, so `docker compose up` needs no arguments
	RunE: runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
