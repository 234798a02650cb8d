package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PratikDhanave/event-ingestion-service/internal/auth"
)

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}

// hashKeyCmd prints the value to store in api_keys.key_hash for a raw key.
var hashKeyCmd = &cobra.Command{
	Use:   "hash-key <raw-key>",
	Short: "Print the stored hash of an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), auth.HashKey(args[0]))
		return err
	},
}
