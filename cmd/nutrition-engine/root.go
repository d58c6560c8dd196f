// cmd/nutrition-engine/root.go
package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcp-nutrition-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "nutrition-engine",
	Short: "Adaptive nutrition estimation engine",
	Long:  "Estimates calories and macros for detected foods, learns per-food baselines from user corrections, and serves both as MCP tools over HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
