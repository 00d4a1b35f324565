package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/changhorizon/content-collector/internal/collector"
	"github.com/changhorizon/content-collector/internal/queue/memory"
	"github.com/changhorizon/content-collector/internal/worker"
)

type countingHandler struct {
	mu    sync.Mutex
	count int
}

func (h *countingHandler) Handle(context.Context, collector.PageContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	return nil
}

func (h *countingHandler) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func TestDispatcherRunsWorkersPerQueue(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	crawlHandler := &countingHandler{}
	parseHandler := &countingHandler{}

	crawlWorker := worker.New(q, crawlHandler, nil, nil, worker.Config{Queue: "crawl"}, nil)
	parseWorker := worker.New(q, nil, parseHandler, nil, worker.Config{Queue: "parse"}, nil)
	d := New(crawlWorker, parseWorker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.NoError(t, q.Enqueue(ctx, "crawl", collector.Job{Kind: collector.JobFetch}))
	require.NoError(t, q.Enqueue(ctx, "parse", collector.Job{Kind: collector.JobParse}))

	deadline := time.After(2 * time.Second)
	for crawlHandler.total() < 1 || parseHandler.total() < 1 {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("dispatcher did not process both queues in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
