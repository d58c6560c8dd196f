// internal/learning/confidence.go

// Package learning folds user corrections into learned per-food baselines.
package learning

import (
	"math"
	"strings"
	"time"

	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/reference"
)

// DefaultPriorStrength is the number of agreeing samples at which a learned
// baseline reaches a confidence of one half.
const DefaultPriorStrength = 4.0

// target is the confidence a baseline with n fully agreeing samples reaches:
// n / (n + k). It rises with n and never reaches 1.
func target(n int, k float64) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / (float64(n) + k)
}

// agreement scores how well sample matches the running average, from 1
// (identical) down to 0 (off by 100% or more).
func agreement(sample, avg float64) float64 {
	if avg <= 0 {
		if sample <= 0 {
			return 1
		}
		return 0
	}
	return clamp01(1 - math.Abs(sample-avg)/avg)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Fold merges one sample density into the baseline prev (nil when the food
// has no baseline yet) and returns the new baseline. Averages use the
// incremental mean. Confidence moves toward target(n) in proportion to how
// well the sample's calories agree with the average so far, so it never
// decreases and stays within [0, 1].
func Fold(prev *models.LearnedFood, foodName string, sample models.NutrientDensity, k float64, now time.Time) models.LearnedFood {
	if k <= 0 {
		k = DefaultPriorStrength
	}
	if prev == nil || prev.SampleCount <= 0 {
		return models.LearnedFood{
			FoodName:           strings.TrimSpace(foodName),
			FoodNameNormalized: reference.Normalize(foodName),
			AvgCaloriesPer100g: sample.CaloriesPer100g,
			AvgProteinPer100g:  sample.ProteinPer100g,
			AvgCarbsPer100g:    sample.CarbsPer100g,
			AvgFatPer100g:      sample.FatPer100g,
			SampleCount:        1,
			ConfidenceScore:    target(1, k),
			LastUpdated:        now,
		}
	}

	next := *prev
	n := prev.SampleCount + 1
	mean := func(avg, s float64) float64 { return avg + (s-avg)/float64(n) }

	next.AvgCaloriesPer100g = mean(prev.AvgCaloriesPer100g, sample.CaloriesPer100g)
	next.AvgProteinPer100g = mean(prev.AvgProteinPer100g, sample.ProteinPer100g)
	next.AvgCarbsPer100g = mean(prev.AvgCarbsPer100g, sample.CarbsPer100g)
	next.AvgFatPer100g = mean(prev.AvgFatPer100g, sample.FatPer100g)
	next.SampleCount = n

	c := clamp01(prev.ConfidenceScore)
	moved := c + (target(n, k)-c)*agreement(sample.CaloriesPer100g, prev.AvgCaloriesPer100g)
	next.ConfidenceScore = clamp01(math.Max(c, moved))
	next.LastUpdated = now
	return next
}
