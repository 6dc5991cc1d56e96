package embedding

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// job is one pending fire-and-forget embed request.
type job struct {
	observationID int64
	text          string
}

// Queue serializes embedding calls off the request-serving path (spec §5:
// "The Embedder call... MUST be invoked off the request-serving path
// (fire-and-forget)"). It is bounded; once full, the oldest pending job is
// dropped to make room, with a warning, rather than blocking the caller or
// growing without limit (spec §9).
type Queue struct {
	embedder   *Embedder
	onResult   func(observationID int64, vector []float32)
	sem        *semaphore.Weighted
	maxPending int

	mu      sync.Mutex
	pending []job
	closed  bool
	wg      sync.WaitGroup
}

// NewQueue creates a bounded embedding queue. capacity <= 0 falls back to
// DefaultEmbeddingQueueSize-equivalent behavior of 1024 (spec §9).
func NewQueue(embedder *Embedder, capacity int, onResult func(observationID int64, vector []float32)) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		embedder:   embedder,
		onResult:   onResult,
		sem:        semaphore.NewWeighted(1), // the embedder is single-threaded from the engine's perspective (spec §4.5)
		maxPending: capacity,
		pending:    make([]job, 0, capacity),
	}
}

// capacity returns the configured bound; exposed for tests. Tracked
// explicitly rather than via cap(q.pending), since the drop-oldest reslice
// in Submit shrinks and later regrows that capacity as jobs are dropped.
func (q *Queue) capacity() int {
	return q.maxPending
}

// Submit enqueues an embedding job for observationID, dropping the oldest
// pending job if the queue is full. A no-op if the embedder is unavailable
// or the queue has been stopped.
func (q *Queue) Submit(observationID int64, text string) {
	if q == nil || !q.embedder.IsAvailable() {
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.pending) >= q.capacity() {
		dropped := q.pending[0]
		q.pending = q.pending[1:]
		log.Warn().Int64("observation_id", dropped.observationID).Msg("embedding queue full, dropping oldest pending job")
	}
	q.pending = append(q.pending, job{observationID: observationID, text: text})
	q.mu.Unlock()

	q.wg.Add(1)
	go q.drainOne()
}

func (q *Queue) drainOne() {
	defer q.wg.Done()

	if err := q.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer q.sem.Release(1)

	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	j := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()

	vec := q.embedder.Embed(j.text)
	if vec == nil {
		return
	}
	if q.onResult != nil {
		q.onResult(j.observationID, vec)
	}
}

// Stop stops accepting new jobs and waits for in-flight goroutines to
// finish draining the pending set.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}

// Len reports the number of jobs currently pending, for observability.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
