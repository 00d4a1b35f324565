package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/changhorizon/content-collector/internal/collector"
	"github.com/changhorizon/content-collector/internal/pipeline"
	"github.com/changhorizon/content-collector/internal/queue/memory"
)

type fakePageHandler struct {
	mu    sync.Mutex
	calls []collector.PageContext
	errs  []error
}

func (h *fakePageHandler) Handle(_ context.Context, pageCtx collector.PageContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, pageCtx)
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return err
	}
	return nil
}

func (h *fakePageHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type fakeMediaHandler struct {
	mu    sync.Mutex
	calls []collector.MediaContext
	errs  []error
}

func (h *fakeMediaHandler) Handle(_ context.Context, mediaCtx collector.MediaContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, mediaCtx)
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return err
	}
	return nil
}

func (h *fakeMediaHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func runWorkerUntil(t *testing.T, w *Worker, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(finished)
	}()

	deadline := time.After(2 * time.Second)
	for !done() {
		select {
		case <-deadline:
			cancel()
			<-finished
			t.Fatal("worker did not reach expected state in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-finished
}

func TestWorkerRoutesByKind(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	fetch := &fakePageHandler{}
	parse := &fakePageHandler{}
	media := &fakeMediaHandler{}
	w := New(q, fetch, parse, media, Config{Queue: "crawl"}, nil)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "crawl", collector.Job{
		Kind: collector.JobFetch,
		Page: collector.PageContext{URL: "https://example.com/a"},
	}))
	require.NoError(t, q.Enqueue(ctx, "crawl", collector.Job{
		Kind: collector.JobParse,
		Page: collector.PageContext{URL: "https://example.com/b"},
	}))
	require.NoError(t, q.Enqueue(ctx, "crawl", collector.Job{
		Kind:  collector.JobMedia,
		Media: collector.MediaContext{MediaURL: "https://example.com/img.png"},
	}))

	runWorkerUntil(t, w, func() bool {
		return fetch.callCount() == 1 && parse.callCount() == 1 && media.callCount() == 1
	})

	require.Equal(t, "https://example.com/a", fetch.calls[0].URL)
	require.Equal(t, "https://example.com/b", parse.calls[0].URL)
	require.Equal(t, "https://example.com/img.png", media.calls[0].MediaURL)
}

func TestWorkerRetriesUpToMaxAttempts(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	fetch := &fakePageHandler{errs: []error{
		errors.New("boom"),
		errors.New("boom"),
		errors.New("boom"),
	}}
	w := New(q, fetch, nil, nil, Config{
		Queue:       "crawl",
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, nil)

	require.NoError(t, q.Enqueue(context.Background(), "crawl", collector.Job{
		Kind: collector.JobFetch,
		Page: collector.PageContext{URL: "https://example.com/flaky"},
	}))

	runWorkerUntil(t, w, func() bool { return fetch.callCount() == 3 })

	// Give the worker a moment to prove it does not requeue a fourth time.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 3, fetch.callCount())
}

func TestWorkerSucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	parse := &fakePageHandler{errs: []error{errors.New("transient")}}
	w := New(q, nil, parse, nil, Config{
		Queue:       "parse",
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, nil)

	require.NoError(t, q.Enqueue(context.Background(), "parse", collector.Job{
		Kind: collector.JobParse,
		Page: collector.PageContext{URL: "https://example.com/retry"},
	}))

	runWorkerUntil(t, w, func() bool { return parse.callCount() == 2 })
	require.Equal(t, "https://example.com/retry", parse.calls[1].URL)
}

func TestWorkerRequeuesOnSlotRefusalWithoutBurningAttempts(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	media := &fakeMediaHandler{errs: []error{
		pipeline.ErrSlotRefused,
		pipeline.ErrSlotRefused,
		pipeline.ErrSlotRefused,
		nil,
	}}
	w := New(q, nil, nil, media, Config{
		Queue:       "media",
		MaxAttempts: 2,
		RetryDelay:  time.Millisecond,
	}, nil)

	require.NoError(t, q.Enqueue(context.Background(), "media", collector.Job{
		Kind:  collector.JobMedia,
		Media: collector.MediaContext{MediaURL: "https://example.com/big.png"},
	}))

	// Three refusals exceed MaxAttempts; the job must still reach the
	// fourth, successful delivery.
	runWorkerUntil(t, w, func() bool { return media.callCount() == 4 })
}
