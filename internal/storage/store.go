// internal/storage/store.go

// Package storage persists learned baselines, the correction history and
// analysis feedback.
package storage

import (
	"context"
	"errors"
	"math"

	"github.com/rotisserie/eris"

	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/reference"
)

var (
	// ErrConflict is returned by SaveLearnedFood when another writer changed
	// the record since it was read.
	ErrConflict = errors.New("storage: learned food changed concurrently")
	ErrNotFound = errors.New("storage: not found")
)

// LearnedFilter narrows ListLearnedFoods. Zero values mean no filter.
type LearnedFilter struct {
	MinConfidence float64
	Limit         int
}

type CorrectionFilter struct {
	FoodName string // normalized key
	UserID   string
	Limit    int
}

// Store is the LearnedBaselineStore together with the append-only
// correction and feedback history.
type Store interface {
	// GetLearnedFood returns the baseline stored under key, or ErrNotFound.
	GetLearnedFood(ctx context.Context, key string) (*models.LearnedFood, error)
	// FindLearnedFood tries an exact key match, then a partial match with
	// the most confident candidate first.
	FindLearnedFood(ctx context.Context, name string) (*models.LearnedFood, error)
	// ListLearnedFoods orders by sample count, largest first.
	ListLearnedFoods(ctx context.Context, f LearnedFilter) ([]models.LearnedFood, error)
	// SaveLearnedFood writes lf only if the stored sample count still equals
	// prevSampleCount (0 meaning "not yet stored"). Otherwise it returns
	// ErrConflict and writes nothing.
	SaveLearnedFood(ctx context.Context, lf *models.LearnedFood, prevSampleCount int) error

	RecordCorrection(ctx context.Context, c *models.Correction) error
	ListCorrections(ctx context.Context, f CorrectionFilter) ([]models.Correction, error)

	RecordFeedback(ctx context.Context, fb *models.Feedback) error
	FeedbackStats(ctx context.Context) (*models.FeedbackStats, error)

	Migrate(ctx context.Context) error
	Close() error
}

// accuracyRate is the share of accurate feedback as a percentage with one
// decimal.
func accuracyRate(accurate, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(accurate)*1000/float64(total)) / 10
}

func normalizedName(name string) string {
	return reference.Normalize(name)
}

// Open returns the store selected by driver: "sqlite", "postgres" or
// "memory".
func Open(ctx context.Context, driver, databaseURL string) (Store, error) {
	switch driver {
	case "sqlite", "":
		s, err := NewSQLiteStore(databaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, eris.Errorf("storage: unknown driver %q", driver)
	}
}
