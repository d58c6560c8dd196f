// cmd/nutrition-engine/version.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mcp-nutrition-engine/internal/server"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	// Skips config loading.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", server.Info.Name, server.Info.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
