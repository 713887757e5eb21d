// Package queue implements the per-model task queue: an unbounded FIFO with
// non-blocking push and bounded-wait pop, plus the request-rate/drop-rate
// meters an executor reports to the heartbeat daemon.
package queue

import (
	"sync"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
)

// BatchQueue is the per-model FIFO of pending Tasks.
type BatchQueue struct {
	mu     sync.Mutex
	items  []*domain.Task
	notify chan struct{} // doorbell: non-blocking send on Push, drained by Pop
	rate   *rateMeter
	drop   *rateMeter
	now    func() time.Time
}

// NewBatchQueue creates an empty queue.
func NewBatchQueue() *BatchQueue {
	q := &BatchQueue{now: time.Now, notify: make(chan struct{}, 1)}
	q.rate = newRateMeter(q.now)
	q.drop = newRateMeter(q.now)
	return q
}

// Push enqueues a task without blocking and records it for rate metering.
func (q *BatchQueue) Push(t *domain.Task) {
	q.mu.Lock()
	t.EnqueuedAt = q.now()
	t.Status = domain.TaskQueued
	q.items = append(q.items, t)
	q.mu.Unlock()
	q.rate.Record()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop waits up to timeout for at least one task, then dequeues up to
// maxBatch of them. Tasks whose deadline has already passed are removed,
// marked TIMEOUT, counted as a drop, and never included in the returned
// batch — they do not count against maxBatch either.
func (q *BatchQueue) Pop(maxBatch int, timeout time.Duration) []*domain.Task {
	deadline := q.now().Add(timeout)

	for {
		if batch := q.drain(maxBatch); batch != nil {
			return batch
		}
		remaining := deadline.Sub(q.now())
		if remaining <= 0 {
			return nil
		}
		select {
		case <-q.notify:
		case <-time.After(remaining):
			return q.drain(maxBatch)
		}
	}
}

// drain removes up to maxBatch live tasks from the front of the queue,
// dropping any expired ones along the way. Returns nil if nothing is ready.
func (q *BatchQueue) drain(maxBatch int) []*domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	now := q.now()
	var batch []*domain.Task
	kept := q.items[:0]
	for _, t := range q.items {
		switch {
		case len(batch) >= maxBatch:
			kept = append(kept, t)
		case t.Expired(now):
			t.Status = domain.TaskTimeout
			q.drop.Record()
		default:
			batch = append(batch, t)
		}
	}
	q.items = kept
	if len(batch) == 0 {
		return nil
	}
	return batch
}

// TryPop dequeues up to maxBatch ready tasks without waiting, dropping any
// expired ones along the way. Returns nil if nothing is ready.
func (q *BatchQueue) TryPop(maxBatch int) []*domain.Task {
	return q.drain(maxBatch)
}

// Len returns the current queue depth.
func (q *BatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// RequestRate returns the EWMA-estimated requests/sec.
func (q *BatchQueue) RequestRate() float64 { return q.rate.Rate() }

// DropRate returns the EWMA-estimated drops/sec.
func (q *BatchQueue) DropRate() float64 { return q.drop.Rate() }
