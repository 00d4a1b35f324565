// Package worker implements the pipeline execution loop. A Worker drains
// one named queue and routes each job to its stage by kind.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
	"github.com/changhorizon/content-collector/internal/pipeline"
)

// Config controls Worker behavior.
type Config struct {
	// Queue is the named queue this worker drains.
	Queue string
	// Concurrency is the number of parallel consumer goroutines.
	Concurrency int
	// MaxAttempts bounds delivery attempts per job, including the first.
	MaxAttempts int
	// JobTimeout bounds one attempt's wall time.
	JobTimeout time.Duration
	// RetryDelay is the pause before a failed job is requeued.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	return c
}

// PageHandler processes one page-scoped job.
type PageHandler interface {
	Handle(ctx context.Context, pageCtx collector.PageContext) error
}

// MediaHandler processes one media-scoped job.
type MediaHandler interface {
	Handle(ctx context.Context, mediaCtx collector.MediaContext) error
}

// Worker consumes jobs from a named queue and executes the pipeline stage
// matching each job's kind. Delivery is at-least-once; stages are
// idempotent so redelivery is safe.
type Worker struct {
	queue  collector.Queue
	fetch  PageHandler
	parse  PageHandler
	media  MediaHandler
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker. Handlers for kinds the worker's queue never
// carries may be nil.
func New(
	queue collector.Queue,
	fetch PageHandler,
	parse PageHandler,
	media MediaHandler,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		fetch:  fetch,
		parse:  parse,
		media:  media,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Run blocks, consuming jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx, w.cfg.Queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.String("queue", w.cfg.Queue), zap.Error(err))
			return
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job collector.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	err := w.dispatch(jobCtx, job)
	cancel()
	if err == nil {
		return
	}

	// A refused concurrency slot is backpressure, not a failure; the job
	// goes back on the queue without burning an attempt.
	if errors.Is(err, pipeline.ErrSlotRefused) {
		w.logger.Debug("slot refused, requeueing",
			zap.String("queue", w.cfg.Queue),
			zap.String("url", jobURL(job)),
		)
		w.requeue(ctx, job)
		return
	}

	if job.Attempt+1 >= w.cfg.MaxAttempts {
		w.logger.Error("job failed permanently",
			zap.String("queue", w.cfg.Queue),
			zap.String("kind", string(job.Kind)),
			zap.String("url", jobURL(job)),
			zap.Int("attempts", job.Attempt+1),
			zap.Error(err),
		)
		return
	}

	w.logger.Warn("job failed, retrying",
		zap.String("queue", w.cfg.Queue),
		zap.String("kind", string(job.Kind)),
		zap.String("url", jobURL(job)),
		zap.Int("attempt", job.Attempt+1),
		zap.Error(err),
	)
	job.Attempt++
	w.requeue(ctx, job)
}

func (w *Worker) requeue(ctx context.Context, job collector.Job) {
	timer := time.NewTimer(w.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if err := w.queue.Enqueue(ctx, w.cfg.Queue, job); err != nil && ctx.Err() == nil {
		w.logger.Error("requeue failed", zap.String("queue", w.cfg.Queue), zap.Error(err))
	}
}

func (w *Worker) dispatch(ctx context.Context, job collector.Job) error {
	switch job.Kind {
	case collector.JobFetch:
		if w.fetch == nil {
			return fmt.Errorf("no fetch handler configured")
		}
		return w.fetch.Handle(ctx, job.Page)
	case collector.JobParse:
		if w.parse == nil {
			return fmt.Errorf("no parse handler configured")
		}
		return w.parse.Handle(ctx, job.Page)
	case collector.JobMedia:
		if w.media == nil {
			return fmt.Errorf("no media handler configured")
		}
		return w.media.Handle(ctx, job.Media)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func jobURL(job collector.Job) string {
	if job.Kind == collector.JobMedia {
		return job.Media.MediaURL
	}
	return job.Page.URL
}
