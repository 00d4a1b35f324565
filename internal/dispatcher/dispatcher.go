// Package dispatcher manages worker fan-out over the named job queues.
package dispatcher

import (
	"context"
	"sync"

	"github.com/changhorizon/content-collector/internal/worker"
)

// Dispatcher runs one worker pool per named queue so media backpressure
// cannot stall page crawling.
type Dispatcher struct {
	workers []*worker.Worker
}

// New creates a Dispatcher over the given workers.
func New(workers ...*worker.Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts all workers and blocks until the context finishes and every
// worker has drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
