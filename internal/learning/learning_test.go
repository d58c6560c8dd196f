package learning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/nutrition"
	"mcp-nutrition-engine/internal/reference"
	"mcp-nutrition-engine/internal/storage"
)

func floatPtr(v float64) *float64 { return &v }

func newAggregator(st storage.Store) *Aggregator {
	parser := nutrition.NewQuantityParser(reference.DefaultPieceWeights())
	return NewAggregator(st, parser, Config{PriorStrength: 4, MaxAttempts: 5})
}

// paneerCorrection implies 280 kcal per 100g.
func paneerCorrection(user string) *models.Correction {
	return &models.Correction{
		UserID:            user,
		FoodName:          "Paneer",
		OriginalQuantity:  "150g",
		CorrectedQuantity: "150g",
		OriginalCalories:  398,
		CorrectedCalories: floatPtr(420),
		OriginalProtein:   27,
		CorrectedProtein:  floatPtr(28.5),
		OriginalCarbs:     1.8,
		OriginalFat:       31.5,
		CorrectedFat:      floatPtr(33),
	}
}

func TestTargetAndAgreement(t *testing.T) {
	assert.Equal(t, 0.0, target(0, 4))
	assert.Equal(t, 0.2, target(1, 4))
	assert.Equal(t, 0.5, target(4, 4))
	assert.Less(t, target(1000, 4), 1.0)

	assert.Equal(t, 1.0, agreement(280, 280))
	assert.InDelta(t, 0.9, agreement(252, 280), 1e-9)
	assert.Equal(t, 0.0, agreement(600, 280))
	assert.Equal(t, 1.0, agreement(0, 0))
	assert.Equal(t, 0.0, agreement(10, 0))
}

func TestFold_FirstSample(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sample := models.NutrientDensity{CaloriesPer100g: 280, ProteinPer100g: 19, CarbsPer100g: 1.2, FatPer100g: 22}

	lf := Fold(nil, " Paneer ", sample, 4, now)
	assert.Equal(t, "Paneer", lf.FoodName)
	assert.Equal(t, "paneer", lf.FoodNameNormalized)
	assert.Equal(t, 1, lf.SampleCount)
	assert.Equal(t, 0.2, lf.ConfidenceScore)
	assert.Equal(t, sample, lf.Density())
	assert.Equal(t, now, lf.LastUpdated)
}

func TestFold_IncrementalMean(t *testing.T) {
	now := time.Now()
	lf := Fold(nil, "dal", models.NutrientDensity{CaloriesPer100g: 100, ProteinPer100g: 8}, 4, now)
	lf = Fold(&lf, "dal", models.NutrientDensity{CaloriesPer100g: 140, ProteinPer100g: 10}, 4, now)
	lf = Fold(&lf, "dal", models.NutrientDensity{CaloriesPer100g: 120, ProteinPer100g: 12}, 4, now)

	assert.Equal(t, 3, lf.SampleCount)
	assert.InDelta(t, 120, lf.AvgCaloriesPer100g, 1e-9)
	assert.InDelta(t, 10, lf.AvgProteinPer100g, 1e-9)
}

func TestFold_ConfidenceIsMonotonicAndBounded(t *testing.T) {
	patterns := map[string][]float64{
		"agreeing":    {280, 280, 281, 279, 280, 280, 280, 280, 280, 280, 280, 280},
		"noisy":       {280, 150, 400, 90, 1000, 0, 280, 320, 5, 280},
		"zero":        {0, 0, 0, 10, 0},
		"disagreeing": {100, 900, 20, 4000, 1},
	}
	for name, samples := range patterns {
		t.Run(name, func(t *testing.T) {
			var lf *models.LearnedFood
			prevCount, prevConfidence := 0, 0.0
			for _, s := range samples {
				next := Fold(lf, "x", models.NutrientDensity{CaloriesPer100g: s}, 4, time.Now())
				assert.Equal(t, prevCount+1, next.SampleCount)
				assert.GreaterOrEqual(t, next.ConfidenceScore, prevConfidence)
				assert.GreaterOrEqual(t, next.ConfidenceScore, 0.0)
				assert.LessOrEqual(t, next.ConfidenceScore, 1.0)
				prevCount, prevConfidence = next.SampleCount, next.ConfidenceScore
				lf = &next
			}
		})
	}
}

func TestFold_DisagreementSlowsConfidence(t *testing.T) {
	now := time.Now()
	first := Fold(nil, "paneer", models.NutrientDensity{CaloriesPer100g: 280}, 4, now)

	agree := Fold(&first, "paneer", models.NutrientDensity{CaloriesPer100g: 280}, 4, now)
	disagree := Fold(&first, "paneer", models.NutrientDensity{CaloriesPer100g: 500}, 4, now)

	assert.InDelta(t, target(2, 4), agree.ConfidenceScore, 1e-9)
	assert.Less(t, disagree.ConfidenceScore, agree.ConfidenceScore)
	assert.GreaterOrEqual(t, disagree.ConfidenceScore, first.ConfidenceScore)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(paneerCorrection("u1")))

	tests := map[string]*models.Correction{
		"nil":          nil,
		"no name":      {FoodName: "  ", CorrectedCalories: floatPtr(100)},
		"no calories":  {FoodName: "rice"},
		"negative":     {FoodName: "rice", CorrectedCalories: floatPtr(-1)},
		"negative fat": {FoodName: "rice", CorrectedCalories: floatPtr(100), CorrectedFat: floatPtr(-2)},
	}
	for name, c := range tests {
		assert.ErrorIs(t, Validate(c), ErrInvalidCorrection, name)
	}
}

func TestAggregator_SampleDensity(t *testing.T) {
	agg := newAggregator(storage.NewMemoryStore())

	d := agg.SampleDensity(paneerCorrection(""))
	assert.InDelta(t, 280, d.CaloriesPer100g, 1e-9)
	assert.InDelta(t, 19, d.ProteinPer100g, 1e-9)
	assert.InDelta(t, 1.2, d.CarbsPer100g, 1e-9, "untouched macro keeps the original value")
	assert.InDelta(t, 22, d.FatPer100g, 1e-9)

	// Missing corrected quantity falls back to the original one.
	c := &models.Correction{FoodName: "roti", OriginalQuantity: "2 pieces", CorrectedCalories: floatPtr(100)}
	assert.InDelta(t, 125, agg.SampleDensity(c).CaloriesPer100g, 1e-9)

	// No quantity at all means one serving.
	c = &models.Correction{FoodName: "curry", CorrectedCalories: floatPtr(180)}
	assert.InDelta(t, 180, agg.SampleDensity(c).CaloriesPer100g, 1e-9)
}

func TestAggregator_FirstPaneerCorrectionStaysBelowThreshold(t *testing.T) {
	st := storage.NewMemoryStore()
	agg := newAggregator(st)
	ctx := context.Background()

	lf, err := agg.Apply(ctx, paneerCorrection("u1"))
	require.NoError(t, err)
	assert.Equal(t, 1, lf.SampleCount)
	assert.InDelta(t, 280, lf.AvgCaloriesPer100g, 1e-9)
	assert.Less(t, lf.ConfidenceScore, 0.5)

	engine := nutrition.NewEngine(nutrition.EngineConfig{Learned: st, Threshold: 0.5, MaxConcurrency: 1})
	items := engine.EstimateAll(ctx, []models.RawDetection{{Name: "paneer", Quantity: "100g"}})
	assert.Equal(t, 265, items[0].Calories)

	history, err := st.ListCorrections(ctx, storage.CorrectionFilter{FoodName: "paneer"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
	assert.False(t, history[0].CreatedAt.IsZero())
}

func TestAggregator_TenthPaneerCorrectionWins(t *testing.T) {
	st := storage.NewMemoryStore()
	agg := newAggregator(st)
	ctx := context.Background()

	var lf *models.LearnedFood
	for i := 0; i < 10; i++ {
		var err error
		lf, err = agg.Apply(ctx, paneerCorrection(fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
	}
	assert.Equal(t, 10, lf.SampleCount)
	assert.GreaterOrEqual(t, lf.ConfidenceScore, 0.5)
	assert.InDelta(t, 10.0/14.0, lf.ConfidenceScore, 1e-9)

	engine := nutrition.NewEngine(nutrition.EngineConfig{Learned: st, Threshold: 0.5, MaxConcurrency: 1})
	items := engine.EstimateAll(ctx, []models.RawDetection{{Name: "paneer", Quantity: "100g"}})
	assert.Equal(t, 280, items[0].Calories)
}

func TestAggregator_InvalidCorrectionIsNotStored(t *testing.T) {
	st := storage.NewMemoryStore()
	agg := newAggregator(st)

	_, err := agg.Apply(context.Background(), &models.Correction{FoodName: "rice"})
	assert.ErrorIs(t, err, ErrInvalidCorrection)

	history, err := st.ListCorrections(context.Background(), storage.CorrectionFilter{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

// racingStore makes the first conflicts saves fail as if another writer got
// there first.
type racingStore struct {
	*storage.MemoryStore
	conflicts int32
	saves     atomic.Int32
}

func (r *racingStore) SaveLearnedFood(ctx context.Context, lf *models.LearnedFood, prev int) error {
	if r.saves.Add(1) <= r.conflicts {
		return storage.ErrConflict
	}
	return r.MemoryStore.SaveLearnedFood(ctx, lf, prev)
}

func TestAggregator_RetriesConflicts(t *testing.T) {
	st := &racingStore{MemoryStore: storage.NewMemoryStore(), conflicts: 2}
	agg := newAggregator(st)

	lf, err := agg.Apply(context.Background(), paneerCorrection("u1"))
	require.NoError(t, err)
	assert.Equal(t, 1, lf.SampleCount)
	assert.Equal(t, int32(3), st.saves.Load())
}

func TestAggregator_GivesUpAfterMaxAttempts(t *testing.T) {
	st := &racingStore{MemoryStore: storage.NewMemoryStore(), conflicts: 100}
	agg := newAggregator(st)

	_, err := agg.Apply(context.Background(), paneerCorrection("u1"))
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, int32(5), st.saves.Load())
}

type failingStore struct {
	*storage.MemoryStore
}

func (failingStore) RecordCorrection(context.Context, *models.Correction) error {
	return errors.New("disk full")
}

func TestAggregator_ReportsWriteFailures(t *testing.T) {
	agg := newAggregator(failingStore{storage.NewMemoryStore()})
	_, err := agg.Apply(context.Background(), paneerCorrection("u1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record correction")
}

func TestAggregator_ConcurrentCorrectionsAreNotLost(t *testing.T) {
	st := storage.NewMemoryStore()
	agg := newAggregator(st)
	agg.retry.MaxAttempts = 100

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.Apply(context.Background(), paneerCorrection(fmt.Sprintf("u%d", i)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lf, err := st.GetLearnedFood(context.Background(), "paneer")
	require.NoError(t, err)
	assert.Equal(t, 20, lf.SampleCount)
}

type recordingApplier struct {
	mu    sync.Mutex
	order map[string][]string
	delay time.Duration
}

func (r *recordingApplier) Apply(_ context.Context, c *models.Correction) (*models.LearnedFood, error) {
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	key := reference.Normalize(c.FoodName)
	r.order[key] = append(r.order[key], c.UserID)
	return &models.LearnedFood{FoodNameNormalized: key}, nil
}

func TestQueue_AppliesPerFoodInOrder(t *testing.T) {
	rec := &recordingApplier{order: map[string][]string{}}
	q := NewQueue(rec, 4, 256)

	var want []string
	for i := 0; i < 30; i++ {
		user := fmt.Sprintf("u%02d", i)
		want = append(want, user)
		name := "Paneer"
		if i%2 == 1 {
			name = " paneer "
		}
		require.NoError(t, q.Submit(models.Correction{FoodName: name, UserID: user, CorrectedCalories: floatPtr(280)}))
		require.NoError(t, q.Submit(models.Correction{FoodName: "rice", UserID: user, CorrectedCalories: floatPtr(130)}))
	}
	q.Close()

	assert.Equal(t, want, rec.order["paneer"])
	assert.Equal(t, want, rec.order["rice"])
}

func TestQueue_FullAndClosed(t *testing.T) {
	rec := &recordingApplier{order: map[string][]string{}, delay: 50 * time.Millisecond}
	q := NewQueue(rec, 1, 1)

	c := models.Correction{FoodName: "rice", CorrectedCalories: floatPtr(130)}
	var full bool
	for i := 0; i < 10; i++ {
		if errors.Is(q.Submit(c), ErrQueueFull) {
			full = true
			break
		}
	}
	assert.True(t, full)

	assert.ErrorIs(t, q.Submit(models.Correction{FoodName: "rice"}), ErrInvalidCorrection)

	q.Close()
	assert.ErrorIs(t, q.Submit(c), ErrQueueClosed)
	q.Close()
}

func TestQueue_WithAggregator(t *testing.T) {
	st := storage.NewMemoryStore()
	q := NewQueue(newAggregator(st), 3, 64)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Submit(*paneerCorrection(fmt.Sprintf("u%d", i))))
	}
	q.Close()

	lf, err := st.GetLearnedFood(context.Background(), "paneer")
	require.NoError(t, err)
	assert.Equal(t, 10, lf.SampleCount)
	assert.GreaterOrEqual(t, lf.ConfidenceScore, 0.5)
}
