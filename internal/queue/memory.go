package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue with the same dedup semantics as the
// Redis one. Used in tests and single-process deployments.
type MemoryQueue struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	items  []Job
	dead   []Job
	notify chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		seen:   map[string]struct{}{},
		notify: make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	q.mu.Lock()
	if _, ok := q.seen[job.JobID]; ok {
		q.mu.Unlock()
		return false, nil
	}
	q.seen[job.JobID] = struct{}{}
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.wake()
	return true, nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, job Job) error {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return &job, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, job Job) error {
	q.mu.Lock()
	q.dead = append(q.dead, job)
	q.mu.Unlock()
	return nil
}

// Pending returns a snapshot of queued jobs, oldest first.
func (q *MemoryQueue) Pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.items))
	copy(out, q.items)
	return out
}

// Dead returns a snapshot of dead-lettered jobs.
func (q *MemoryQueue) Dead() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.dead))
	copy(out, q.dead)
	return out
}

// Accepted reports whether a job id passed dedup at some point.
func (q *MemoryQueue) Accepted(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.seen[jobID]
	return ok
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
