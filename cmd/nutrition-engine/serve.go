// cmd/nutrition-engine/serve.go
package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcp-nutrition-engine/internal/learning"
	"mcp-nutrition-engine/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the nutrition tools over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		st, err := openStore(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer st.Close()

		engine, err := newEngine(cfg, st)
		if err != nil {
			return err
		}
		oracle, err := newOracle(cfg)
		if err != nil {
			return err
		}

		agg := newAggregator(cfg, st, engine)
		queue := learning.NewQueue(agg, cfg.Learning.Workers, cfg.Learning.QueueSize)
		// Runs after the server has stopped taking requests.
		defer queue.Close()

		srv, err := server.NewNutritionServer(&server.Config{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
		}, server.Deps{
			Store:      st,
			Engine:     engine,
			Oracle:     oracle,
			Queue:      queue,
			Aggregator: agg,
		})
		if err != nil {
			return err
		}

		zap.L().Info("starting nutrition engine",
			zap.String("store", cfg.Store.Driver),
			zap.String("vision", cfg.Vision.Provider),
			zap.Int("learning_workers", cfg.Learning.Workers),
		)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
