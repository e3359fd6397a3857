package swarm

import (
	"context"
	"sync"
)

// jobQueue is an unbounded FIFO with a single consumer.
type jobQueue struct {
	mu    sync.Mutex
	items []*job
	ready chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{ready: make(chan struct{}, 1)}
}

func (q *jobQueue) push(j *job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks for the next job. It returns false once stop is closed or ctx
// ends, even when jobs are still queued.
func (q *jobQueue) pop(ctx context.Context, stop <-chan struct{}) (*job, bool) {
	for {
		select {
		case <-stop:
			return nil, false
		case <-ctx.Done():
			return nil, false
		default:
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			j := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-stop:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// drain removes and returns every queued job.
func (q *jobQueue) drain() []*job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
