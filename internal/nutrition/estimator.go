// internal/nutrition/estimator.go
package nutrition

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"mcp-nutrition-engine/internal/models"
)

// DefaultQuantity is shown, and parsed, when a detection carries no quantity.
const DefaultQuantity = "1 serving"

// highLearnedConfidence is the learned confidence score reported as high.
const highLearnedConfidence = 0.8

// Estimation is an estimate together with how it was reached.
type Estimation struct {
	Item       models.FoodItem
	Resolution Resolution
	Basis      Basis
	Quantity   Quantity
}

// Estimator scales densities from a Source by parsed quantities. It is
// stateless beyond its inputs and safe for concurrent use.
type Estimator struct {
	source *Source
	parser *QuantityParser
}

func NewEstimator(source *Source, parser *QuantityParser) *Estimator {
	return &Estimator{source: source, parser: parser}
}

// Estimate produces the FoodItem for one detection. It never fails.
func (e *Estimator) Estimate(d models.RawDetection) models.FoodItem {
	return e.Explain(d).Item
}

// Explain is Estimate with the resolution path exposed.
func (e *Estimator) Explain(d models.RawDetection) Estimation {
	quantityText := strings.TrimSpace(d.Quantity)
	if quantityText == "" {
		quantityText = DefaultQuantity
	}

	res := e.source.Resolve(d.Name)
	dens, basis := FallbackDensity, BasisFallback
	if res.Found() {
		if found, b, ok := e.source.Density(res.Key); ok {
			dens, basis = found, b
		}
	}

	q := e.parser.Parse(quantityText, d.Name)
	multiplier := q.Grams / 100
	scaled := dens.Scale(multiplier)

	item := models.FoodItem{
		Name:            strings.TrimSpace(d.Name),
		Quantity:        quantityText,
		Calories:        wholeCalories(scaled.CaloriesPer100g),
		Protein:         round1(scaled.ProteinPer100g),
		Carbs:           round1(scaled.CarbsPer100g),
		Fat:             round1(scaled.FatPer100g),
		CaloriesPer100g: dens.CaloriesPer100g,
		ProteinPer100g:  dens.ProteinPer100g,
		CarbsPer100g:    dens.CarbsPer100g,
		FatPer100g:      dens.FatPer100g,
	}
	item.Confidence = e.confidence(res, basis, q)

	zap.L().Debug("nutrition: estimated",
		zap.String("food", d.Name),
		zap.String("key", res.Key),
		zap.Stringer("match", res.Match),
		zap.Stringer("basis", basis),
		zap.Float64("grams", q.Grams),
		zap.Int("calories", item.Calories),
	)

	return Estimation{Item: item, Resolution: res, Basis: basis, Quantity: q}
}

func (e *Estimator) confidence(res Resolution, basis Basis, q Quantity) models.ConfidenceLevel {
	var level models.ConfidenceLevel
	switch basis {
	case BasisLearned:
		level = models.MediumConfidence
		if lf, ok := e.source.Learned(res.Key); ok && lf.ConfidenceScore >= highLearnedConfidence {
			level = models.HighConfidence
		}
	case BasisReference:
		level = models.MediumConfidence
		if res.Match == MatchExact {
			level = models.HighConfidence
		}
	default:
		return models.LowConfidence
	}
	if q.Kind == UnitNone && level == models.HighConfidence {
		level = models.MediumConfidence
	}
	return level
}

// wholeCalories rounds to a non-negative int, saturating instead of wrapping.
func wholeCalories(v float64) int {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	}
	return int(math.Round(v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Sum totals a list of estimates; macros are rounded to one decimal.
func Sum(items []models.FoodItem) models.Totals {
	var t models.Totals
	for _, it := range items {
		t.Calories += it.Calories
		t.Protein += it.Protein
		t.Carbs += it.Carbs
		t.Fat += it.Fat
	}
	t.Protein = round1(t.Protein)
	t.Carbs = round1(t.Carbs)
	t.Fat = round1(t.Fat)
	return t
}
