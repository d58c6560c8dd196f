// internal/models/nutrition.go
package models

import (
	"time"
)

// NutrientDensity is the nutrient content of 100 grams of a food.
type NutrientDensity struct {
	CaloriesPer100g float64 `json:"calories_per_100g" yaml:"calories"`
	ProteinPer100g  float64 `json:"protein_per_100g" yaml:"protein"`
	CarbsPer100g    float64 `json:"carbs_per_100g" yaml:"carbs"`
	FatPer100g      float64 `json:"fat_per_100g" yaml:"fat"`
}

// Scale returns the density multiplied by factor, unrounded.
func (d NutrientDensity) Scale(factor float64) NutrientDensity {
	return NutrientDensity{
		CaloriesPer100g: d.CaloriesPer100g * factor,
		ProteinPer100g:  d.ProteinPer100g * factor,
		CarbsPer100g:    d.CarbsPer100g * factor,
		FatPer100g:      d.FatPer100g * factor,
	}
}

// RawDetection is one food the vision stage believes is in the picture.
type RawDetection struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
}

// Observation is what the vision oracle returned for one image: either a
// structured list of detections or only a free-text caption.
type Observation struct {
	Detections []RawDetection `json:"detections,omitempty"`
	Caption    string         `json:"caption,omitempty"`
}

type ConfidenceLevel string

const (
	HighConfidence   ConfidenceLevel = "high"
	MediumConfidence ConfidenceLevel = "medium"
	LowConfidence    ConfidenceLevel = "low"
)

// FoodItem is the per-food estimate handed back to the caller. The per-100g
// fields let a client recompute the estimate when the user edits the quantity.
type FoodItem struct {
	Name            string          `json:"name"`
	Quantity        string          `json:"quantity"`
	Calories        int             `json:"calories"`
	Protein         float64         `json:"protein"`
	Carbs           float64         `json:"carbs"`
	Fat             float64         `json:"fat"`
	CaloriesPer100g float64         `json:"calories_per_100g"`
	ProteinPer100g  float64         `json:"protein_per_100g"`
	CarbsPer100g    float64         `json:"carbs_per_100g"`
	FatPer100g      float64         `json:"fat_per_100g"`
	Confidence      ConfidenceLevel `json:"confidence"`
}

// Totals sums a list of estimates.
type Totals struct {
	Calories int     `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

type Analysis struct {
	Items  []FoodItem `json:"food_items"`
	Totals Totals     `json:"totals"`
}

// Correction is a user edit of a displayed FoodItem. Corrected values are
// optional except calories; a missing corrected macro means the user kept the
// original value.
type Correction struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id,omitempty"`
	FoodName          string    `json:"food_name"`
	OriginalQuantity  string    `json:"original_quantity"`
	CorrectedQuantity string    `json:"corrected_quantity"`
	OriginalCalories  float64   `json:"original_calories"`
	CorrectedCalories *float64  `json:"corrected_calories"`
	OriginalProtein   float64   `json:"original_protein"`
	CorrectedProtein  *float64  `json:"corrected_protein,omitempty"`
	OriginalCarbs     float64   `json:"original_carbs"`
	CorrectedCarbs    *float64  `json:"corrected_carbs,omitempty"`
	OriginalFat       float64   `json:"original_fat"`
	CorrectedFat      *float64  `json:"corrected_fat,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// CorrectedValues returns the corrected nutrient totals, substituting the
// original value for any macro the user left untouched.
func (c Correction) CorrectedValues() (calories, protein, carbs, fat float64) {
	pick := func(corrected *float64, original float64) float64 {
		if corrected != nil {
			return *corrected
		}
		return original
	}
	return pick(c.CorrectedCalories, c.OriginalCalories),
		pick(c.CorrectedProtein, c.OriginalProtein),
		pick(c.CorrectedCarbs, c.OriginalCarbs),
		pick(c.CorrectedFat, c.OriginalFat)
}

// LearnedFood is the per-food baseline aggregated from corrections.
type LearnedFood struct {
	FoodName           string    `json:"food_name"`
	FoodNameNormalized string    `json:"food_name_normalized"`
	AvgCaloriesPer100g float64   `json:"avg_calories_per_100g"`
	AvgProteinPer100g  float64   `json:"avg_protein_per_100g"`
	AvgCarbsPer100g    float64   `json:"avg_carbs_per_100g"`
	AvgFatPer100g      float64   `json:"avg_fat_per_100g"`
	SampleCount        int       `json:"sample_count"`
	ConfidenceScore    float64   `json:"confidence_score"`
	LastUpdated        time.Time `json:"last_updated"`
}

func (lf LearnedFood) Density() NutrientDensity {
	return NutrientDensity{
		CaloriesPer100g: lf.AvgCaloriesPer100g,
		ProteinPer100g:  lf.AvgProteinPer100g,
		CarbsPer100g:    lf.AvgCarbsPer100g,
		FatPer100g:      lf.AvgFatPer100g,
	}
}

// Feedback records whether a user judged an analysis accurate.
type Feedback struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	AnalysisID string    `json:"analysis_id,omitempty"`
	IsAccurate bool      `json:"is_accurate"`
	Text       string    `json:"feedback_text,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type FeedbackStats struct {
	Total        int     `json:"total"`
	Accurate     int     `json:"accurate"`
	AccuracyRate float64 `json:"accuracy_rate"` // percent, one decimal
}
