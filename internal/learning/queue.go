// internal/learning/queue.go
package learning

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"mcp-nutrition-engine/internal/models"
	"mcp-nutrition-engine/internal/reference"
)

var (
	ErrQueueFull   = errors.New("learning: correction queue is full")
	ErrQueueClosed = errors.New("learning: correction queue is closed")
)

// applyTimeout bounds one correction's storage work inside a worker.
const applyTimeout = 30 * time.Second

// Applier is satisfied by *Aggregator.
type Applier interface {
	Apply(ctx context.Context, c *models.Correction) (*models.LearnedFood, error)
}

// Queue applies corrections in the background. Corrections for the same
// food always land on the same worker, so they are applied one at a time
// and in submission order; different foods proceed in parallel.
type Queue struct {
	applier Applier
	shards  []chan models.Correction
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts workers goroutines sharing a total buffer of size.
func NewQueue(applier Applier, workers, size int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	perShard := size / workers
	if perShard < 1 {
		perShard = 1
	}

	q := &Queue{applier: applier, shards: make([]chan models.Correction, workers)}
	for i := range q.shards {
		q.shards[i] = make(chan models.Correction, perShard)
		q.wg.Add(1)
		go q.work(q.shards[i])
	}
	return q
}

// Submit enqueues c without waiting for it to be applied.
func (q *Queue) Submit(c models.Correction) error {
	if err := Validate(&c); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.shards[q.shard(c.FoodName)] <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) shard(foodName string) int {
	h := fnv.New32a()
	h.Write([]byte(reference.Normalize(foodName)))
	return int(h.Sum32() % uint32(len(q.shards)))
}

// Close stops accepting corrections and waits for the queued ones to be
// applied.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.shards {
		close(ch)
	}
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) work(ch <-chan models.Correction) {
	defer q.wg.Done()
	for c := range ch {
		ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
		if _, err := q.applier.Apply(ctx, &c); err != nil {
			zap.L().Warn("learning: queued correction failed",
				zap.String("food", c.FoodName),
				zap.Error(err),
			)
		}
		cancel()
	}
}
