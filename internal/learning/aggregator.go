// internal/learning/aggregator.go
package learning

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/nutrition"
	"mcp-nutrition-engine/internal/reference"
	"mcp-nutrition-engine/internal/resilience"
	"mcp-nutrition-engine/internal/storage"
)

// ErrInvalidCorrection is returned for corrections that cannot be learned
// from. Nothing is stored for them.
var ErrInvalidCorrection = errors.New("learning: invalid correction")

type Config struct {
	PriorStrength float64
	// MaxAttempts bounds the read-fold-write cycles per correction when
	// concurrent writers keep winning.
	MaxAttempts int
}

// Aggregator is the CorrectionAggregator: it records each correction and
// folds it into the learned baseline of its food.
type Aggregator struct {
	store  storage.Store
	parser *nutrition.QuantityParser
	k      float64
	retry  resilience.RetryConfig
	now    func() time.Time
}

func NewAggregator(store storage.Store, parser *nutrition.QuantityParser, cfg Config) *Aggregator {
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	retry.ShouldRetry = func(err error) bool { return errors.Is(err, storage.ErrConflict) }

	k := cfg.PriorStrength
	if k <= 0 {
		k = DefaultPriorStrength
	}
	return &Aggregator{
		store:  store,
		parser: parser,
		k:      k,
		retry:  retry,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Validate checks that c names a food and carries usable corrected values.
func Validate(c *models.Correction) error {
	if c == nil || reference.Normalize(c.FoodName) == "" {
		return eris.Wrap(ErrInvalidCorrection, "food name is required")
	}
	if c.CorrectedCalories == nil {
		return eris.Wrap(ErrInvalidCorrection, "corrected calories are required")
	}
	cal, protein, carbs, fat := c.CorrectedValues()
	for _, v := range []float64{cal, protein, carbs, fat} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.Wrap(ErrInvalidCorrection, "corrected values must be finite and non-negative")
		}
	}
	return nil
}

// SampleDensity converts the corrected totals of c back to a per-100g
// density, using the corrected quantity when there is one.
func (a *Aggregator) SampleDensity(c *models.Correction) models.NutrientDensity {
	quantity := strings.TrimSpace(c.CorrectedQuantity)
	if quantity == "" {
		quantity = strings.TrimSpace(c.OriginalQuantity)
	}
	if quantity == "" {
		quantity = nutrition.DefaultQuantity
	}
	grams := a.parser.ParseGrams(quantity, c.FoodName)

	cal, protein, carbs, fat := c.CorrectedValues()
	return models.NutrientDensity{
		CaloriesPer100g: cal,
		ProteinPer100g:  protein,
		CarbsPer100g:    carbs,
		FatPer100g:      fat,
	}.Scale(100 / grams)
}

// Apply records c in the correction history and folds it into the learned
// baseline for its food. Concurrent writers for the same food are resolved
// by re-reading and folding again.
func (a *Aggregator) Apply(ctx context.Context, c *models.Correction) (*models.LearnedFood, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = a.now()
	}
	if err := a.store.RecordCorrection(ctx, c); err != nil {
		return nil, eris.Wrap(err, "learning: record correction")
	}

	key := reference.Normalize(c.FoodName)
	sample := a.SampleDensity(c)

	retry := a.retry
	retry.OnRetry = resilience.RetryLogger("learned food update", zap.String("food", key))
	lf, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*models.LearnedFood, error) {
		prev, err := a.store.GetLearnedFood(ctx, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		prevCount := 0
		if prev != nil {
			prevCount = prev.SampleCount
		}

		next := Fold(prev, c.FoodName, sample, a.k, a.now())
		if err := a.store.SaveLearnedFood(ctx, &next, prevCount); err != nil {
			return nil, err
		}
		return &next, nil
	})
	if err != nil {
		zap.L().Error("learning: correction not applied",
			zap.String("food", key),
			zap.String("correction_id", c.ID),
			zap.Error(err),
		)
		return nil, eris.Wrapf(err, "learning: update learned food %s", key)
	}

	zap.L().Info("learning: correction applied",
		zap.String("food", key),
		zap.String("correction_id", c.ID),
		zap.Float64("sample_calories_per_100g", sample.CaloriesPer100g),
		zap.Float64("avg_calories_per_100g", lf.AvgCaloriesPer100g),
		zap.Int("sample_count", lf.SampleCount),
		zap.Float64("confidence", lf.ConfidenceScore),
	)
	return lf, nil
}
