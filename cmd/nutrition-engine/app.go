// cmd/nutrition-engine/app.go
package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"mcp-nutrition-engine/internal/config"
	"mcp-nutrition-engine/internal/learning"
	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/nutrition"
	"mcp-nutrition-engine/internal/reference"
	"mcp-nutrition-engine/internal/storage"
	"mcp-nutrition-engine/internal/vision"
)

// openStore validates cfg for mode and opens the configured store.
func openStore(ctx context.Context, c *config.Config, mode string) (storage.Store, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}
	st, err := storage.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	zap.L().Debug("store opened", zap.String("driver", c.Store.Driver))
	return st, nil
}

// newEngine builds the estimation engine over the built-in reference data,
// extended by the configured reference file.
func newEngine(c *config.Config, learned nutrition.LearnedReader) (*nutrition.Engine, error) {
	table, pieces, err := reference.LoadFile(c.Reference.Path, reference.Default(), reference.DefaultPieceWeights())
	if err != nil {
		return nil, err
	}
	if c.Reference.Path != "" {
		zap.L().Info("reference extension loaded",
			zap.String("path", c.Reference.Path),
			zap.Int("foods", table.Len()),
			zap.Int("piece_weights", pieces.Len()),
		)
	}

	return nutrition.NewEngine(nutrition.EngineConfig{
		Table:          table,
		Pieces:         pieces,
		Learned:        learned,
		Threshold:      c.Estimator.ConfidenceThreshold,
		SnapshotLimit:  c.Estimator.SnapshotLimit,
		MaxConcurrency: c.Estimator.MaxConcurrency,
	}), nil
}

func newAggregator(c *config.Config, st storage.Store, engine *nutrition.Engine) *learning.Aggregator {
	return learning.NewAggregator(st, engine.Parser(), learning.Config{
		PriorStrength: c.Learning.PriorStrength,
		MaxAttempts:   c.Learning.MaxAttempts,
	})
}

func newOracle(c *config.Config) (vision.Oracle, error) {
	switch c.Vision.Provider {
	case "none":
		return vision.Static{Observation: models.Observation{}}, nil
	default:
		return vision.NewAnthropicOracle(vision.AnthropicConfig{
			APIKey:            c.Vision.APIKey,
			Model:             c.Vision.Model,
			MaxTokens:         c.Vision.MaxTokens,
			RequestsPerMinute: c.Vision.RequestsPerMinute,
			Timeout:           time.Duration(c.Vision.TimeoutSecs) * time.Second,
		})
	}
}
