// Package memory provides a named in-memory job queue for local runs and
// tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/changhorizon/content-collector/internal/collector"
	"github.com/changhorizon/content-collector/internal/metrics"
)

// Queue is a set of bounded in-memory queues keyed by name. Channels are
// created lazily on first use so callers never have to pre-register queue
// names.
type Queue struct {
	capacity int

	mu     sync.Mutex
	queues map[string]chan collector.Job
	depths map[string]int
	closed bool
}

// NewQueue constructs a queue set; each named queue holds up to capacity
// jobs.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		queues:   make(map[string]chan collector.Job),
		depths:   make(map[string]int),
	}
}

func (q *Queue) channel(name string) (chan collector.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.New("queue closed")
	}
	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan collector.Job, q.capacity)
		q.queues[name] = ch
	}
	return ch, nil
}

func (q *Queue) trackDepth(name string, delta int) {
	q.mu.Lock()
	q.depths[name] += delta
	depth := q.depths[name]
	q.mu.Unlock()
	metrics.SetQueueDepth(name, depth)
}

// Enqueue pushes a job onto the named queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, queue string, job collector.Job) error {
	ch, err := q.channel(queue)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case ch <- job:
		q.trackDepth(queue, 1)
		return nil
	}
}

// Dequeue pops the next job from the named queue, respecting context
// cancellation.
func (q *Queue) Dequeue(ctx context.Context, queue string) (collector.Job, error) {
	ch, err := q.channel(queue)
	if err != nil {
		return collector.Job{}, err
	}
	select {
	case <-ctx.Done():
		return collector.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-ch:
		if !ok {
			return collector.Job{}, errors.New("queue closed")
		}
		q.trackDepth(queue, -1)
		return job, nil
	}
}

// Close closes every named channel for shutdown. Safe to call twice.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for _, ch := range q.queues {
		close(ch)
	}
	q.closed = true
}
