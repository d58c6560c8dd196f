// internal/nutrition/engine.go
package nutrition

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/reference"
	"mcp-nutrition-engine/internal/storage"
)

// LearnedReader is the read side of the learned baseline store.
type LearnedReader interface {
	ListLearnedFoods(ctx context.Context, f storage.LearnedFilter) ([]models.LearnedFood, error)
}

type EngineConfig struct {
	Table  *reference.Table
	Pieces reference.PieceWeights
	// Learned may be nil, in which case only the reference table is used.
	Learned        LearnedReader
	Threshold      float64
	SnapshotLimit  int
	MaxConcurrency int
}

// Engine runs the estimation path for whole requests.
type Engine struct {
	cfg    EngineConfig
	parser *QuantityParser
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Table == nil {
		cfg.Table = reference.Default()
	}
	if cfg.Pieces.Len() == 0 {
		cfg.Pieces = reference.DefaultPieceWeights()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Engine{cfg: cfg, parser: NewQuantityParser(cfg.Pieces)}
}

// Parser exposes the engine's quantity parser, shared with the learning path
// so corrections are converted to grams the same way estimates are.
func (e *Engine) Parser() *QuantityParser {
	return e.parser
}

func (e *Engine) Table() *reference.Table {
	return e.cfg.Table
}

// Source builds the effective nutrition source. A failing learned store is
// treated as having no learned data.
func (e *Engine) Source(ctx context.Context) *Source {
	if e.cfg.Learned == nil {
		return NewSource(e.cfg.Table, nil, e.cfg.Threshold)
	}
	learned, err := e.cfg.Learned.ListLearnedFoods(ctx, storage.LearnedFilter{
		MinConfidence: e.cfg.Threshold,
		Limit:         e.cfg.SnapshotLimit,
	})
	if err != nil {
		zap.L().Warn("nutrition: learned snapshot unavailable, using reference table",
			zap.Error(err),
		)
		learned = nil
	}
	return NewSource(e.cfg.Table, learned, e.cfg.Threshold)
}

// EstimateAll estimates every detection, in input order.
func (e *Engine) EstimateAll(ctx context.Context, detections []models.RawDetection) []models.FoodItem {
	return items(e.explainWith(e.Source(ctx), detections))
}

// ExplainAll is EstimateAll with resolution details.
func (e *Engine) ExplainAll(ctx context.Context, detections []models.RawDetection) []Estimation {
	return e.explainWith(e.Source(ctx), detections)
}

// Extract runs the description extractor against the current source.
func (e *Engine) Extract(ctx context.Context, caption string) []models.RawDetection {
	return NewExtractor(e.Source(ctx)).Extract(caption)
}

// Analyze estimates an oracle observation. Structured detections win; a
// caption is only used when there are none.
func (e *Engine) Analyze(ctx context.Context, obs *models.Observation) models.Analysis {
	source := e.Source(ctx)

	var detections []models.RawDetection
	if obs != nil {
		detections = obs.Detections
		if len(detections) == 0 && obs.Caption != "" {
			detections = NewExtractor(source).Extract(obs.Caption)
			zap.L().Debug("nutrition: extracted detections from caption",
				zap.Int("count", len(detections)),
			)
		}
	}

	list := items(e.explainWith(source, detections))
	return models.Analysis{Items: list, Totals: Sum(list)}
}

func (e *Engine) explainWith(source *Source, detections []models.RawDetection) []Estimation {
	est := NewEstimator(source, e.parser)
	out := make([]Estimation, len(detections))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, d := range detections {
		i, d := i, d
		g.Go(func() error {
			out[i] = est.Explain(d)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func items(ests []Estimation) []models.FoodItem {
	out := make([]models.FoodItem, len(ests))
	for i, es := range ests {
		out[i] = es.Item
	}
	return out
}
