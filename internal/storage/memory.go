// internal/storage/memory.go
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"mcp-nutrition-engine/internal/models"
)

// MemoryStore keeps everything in process memory. It backs tests and the
// "memory" store driver.
type MemoryStore struct {
	mu          sync.RWMutex
	learned     map[string]models.LearnedFood
	corrections []models.Correction
	feedback    []models.Feedback
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{learned: make(map[string]models.LearnedFood)}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) GetLearnedFood(_ context.Context, key string) (*models.LearnedFood, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lf, ok := m.learned[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &lf, nil
}

func (m *MemoryStore) FindLearnedFood(ctx context.Context, name string) (*models.LearnedFood, error) {
	name = normalizedName(name)
	if name == "" {
		return nil, ErrNotFound
	}
	if lf, err := m.GetLearnedFood(ctx, name); err == nil {
		return lf, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *models.LearnedFood
	for key, lf := range m.learned {
		if !strings.Contains(key, name) {
			continue
		}
		if best == nil || better(lf, *best) {
			c := lf
			best = &c
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func better(a, b models.LearnedFood) bool {
	if a.ConfidenceScore != b.ConfidenceScore {
		return a.ConfidenceScore > b.ConfidenceScore
	}
	if a.SampleCount != b.SampleCount {
		return a.SampleCount > b.SampleCount
	}
	return a.FoodNameNormalized < b.FoodNameNormalized
}

func (m *MemoryStore) ListLearnedFoods(_ context.Context, f LearnedFilter) ([]models.LearnedFood, error) {
	m.mu.RLock()
	out := make([]models.LearnedFood, 0, len(m.learned))
	for _, lf := range m.learned {
		if lf.ConfidenceScore >= f.MinConfidence {
			out = append(out, lf)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SampleCount != out[j].SampleCount {
			return out[i].SampleCount > out[j].SampleCount
		}
		return out[i].FoodNameNormalized < out[j].FoodNameNormalized
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveLearnedFood(_ context.Context, lf *models.LearnedFood, prevSampleCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.learned[lf.FoodNameNormalized]
	switch {
	case prevSampleCount == 0 && exists:
		return ErrConflict
	case prevSampleCount != 0 && (!exists || current.SampleCount != prevSampleCount):
		return ErrConflict
	}
	m.learned[lf.FoodNameNormalized] = *lf
	return nil
}

func (m *MemoryStore) RecordCorrection(_ context.Context, c *models.Correction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrections = append(m.corrections, *c)
	return nil
}

// ListCorrections returns the newest corrections first.
func (m *MemoryStore) ListCorrections(_ context.Context, f CorrectionFilter) ([]models.Correction, error) {
	key := normalizedName(f.FoodName)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Correction
	for i := len(m.corrections) - 1; i >= 0; i-- {
		c := m.corrections[i]
		if key != "" && normalizedName(c.FoodName) != key {
			continue
		}
		if f.UserID != "" && c.UserID != f.UserID {
			continue
		}
		out = append(out, c)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) RecordFeedback(_ context.Context, fb *models.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, *fb)
	return nil
}

func (m *MemoryStore) FeedbackStats(context.Context) (*models.FeedbackStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	accurate := 0
	for _, fb := range m.feedback {
		if fb.IsAccurate {
			accurate++
		}
	}
	total := len(m.feedback)
	return &models.FeedbackStats{Total: total, Accurate: accurate, AccuracyRate: accuracyRate(accurate, total)}, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
