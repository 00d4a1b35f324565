package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
)

const (
	entryProbeAttempts = 3
	entryProbeInterval = time.Second
)

// Starter creates crawl tasks and seeds them with their entry URL.
type Starter struct {
	tasks   collector.TaskStore
	ledger  collector.LedgerStore
	fetcher collector.Fetcher
	queue   collector.Queue
	ids     collector.IDGenerator
	clock   collector.Clock
	logger  *zap.Logger
}

// NewStarter creates a Starter.
func NewStarter(
	tasks collector.TaskStore,
	ledger collector.LedgerStore,
	fetcher collector.Fetcher,
	queue collector.Queue,
	ids collector.IDGenerator,
	clock collector.Clock,
	logger *zap.Logger,
) *Starter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Starter{
		tasks:   tasks,
		ledger:  ledger,
		fetcher: fetcher,
		queue:   queue,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}
}

// Run creates a running task for the host, probes the entry URL, records
// the entry in the ledger, and enqueues the first fetch job. An entry
// that stays unreachable marks the task failed and stops everything.
func (s *Starter) Run(ctx context.Context, host string, params collector.Params) (string, error) {
	entry, err := collector.NormalizeURL(params.Site.Entry)
	if err != nil {
		return "", fmt.Errorf("normalize entry url: %w", err)
	}

	taskID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}

	now := s.clock.Now()
	if err := s.tasks.CreateTask(ctx, collector.Task{
		TaskID:    taskID,
		Host:      host,
		Status:    collector.TaskStatusRunning,
		StartedAt: now,
	}); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	if !s.entryReachable(ctx, entry, taskID, params) {
		if err := s.tasks.FailTask(ctx, taskID, s.clock.Now()); err != nil {
			return "", fmt.Errorf("fail task: %w", err)
		}
		return taskID, fmt.Errorf("entry %s unreachable after %d attempts", entry, entryProbeAttempts)
	}

	if _, err := s.ledger.Discover(ctx, taskID, host, entry, s.clock.Now()); err != nil {
		return "", fmt.Errorf("record entry url: %w", err)
	}

	job := collector.Job{
		Kind: collector.JobFetch,
		Page: collector.PageContext{
			TaskID: taskID,
			Host:   host,
			Params: params,
			URL:    entry,
		},
	}
	if err := s.queue.Enqueue(ctx, params.Queues.Crawl, job); err != nil {
		return "", fmt.Errorf("enqueue entry fetch: %w", err)
	}

	s.logger.Info("crawl task started",
		zap.String("task_id", taskID),
		zap.String("host", host),
		zap.String("entry", entry),
	)
	return taskID, nil
}

func (s *Starter) entryReachable(ctx context.Context, entry, taskID string, params collector.Params) bool {
	for attempt := 1; attempt <= entryProbeAttempts; attempt++ {
		result, err := s.fetcher.Fetch(ctx, entry, buildFetchRequest(params, ""))
		if err == nil && result.StatusCode == http.StatusOK {
			return true
		}
		if err != nil {
			s.logger.Warn("entry probe error",
				zap.String("task_id", taskID),
				zap.String("entry", entry),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		} else {
			s.logger.Warn("entry probe bad status",
				zap.String("task_id", taskID),
				zap.String("entry", entry),
				zap.Int("attempt", attempt),
				zap.Int("status", result.StatusCode),
			)
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(entryProbeInterval):
		}
	}
	return false
}
