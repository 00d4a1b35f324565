package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
	"github.com/changhorizon/content-collector/internal/metrics"
)

// TaskFinalizer detects that a task has no more unresolved ledger rows
// and transitions it to a terminal status exactly once.
type TaskFinalizer struct {
	ledger    collector.LedgerStore
	tasks     collector.TaskStore
	publisher collector.Publisher
	topic     string
	clock     collector.Clock
	logger    *zap.Logger
}

// NewTaskFinalizer creates a TaskFinalizer.
func NewTaskFinalizer(
	ledger collector.LedgerStore,
	tasks collector.TaskStore,
	publisher collector.Publisher,
	topic string,
	clock collector.Clock,
	logger *zap.Logger,
) *TaskFinalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskFinalizer{
		ledger:    ledger,
		tasks:     tasks,
		publisher: publisher,
		topic:     topic,
		clock:     clock,
		logger:    logger,
	}
}

// TryFinish no-ops while any ledger row is still pending. Otherwise it
// attempts the conditional running→finished transition; losing that race
// is an idempotent no-op. Only the winner publishes the completion event.
func (f *TaskFinalizer) TryFinish(ctx context.Context, taskID string) error {
	pending, err := f.ledger.HasPending(ctx, taskID)
	if err != nil {
		return fmt.Errorf("check pending rows: %w", err)
	}
	if pending {
		return nil
	}

	won, err := f.tasks.FinishTask(ctx, taskID, f.clock.Now())
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	if !won {
		return nil
	}

	task, err := f.tasks.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("reload task: %w", err)
	}

	event := collector.TaskEvent{
		TaskID:     task.TaskID,
		Host:       task.Host,
		Status:     task.Status,
		StartedAt:  task.StartedAt,
		FinishedAt: task.FinishedAt,
	}
	if f.publisher != nil && f.topic != "" {
		if _, err := f.publisher.Publish(ctx, f.topic, event); err != nil {
			return fmt.Errorf("publish task event: %w", err)
		}
	}

	metrics.TaskFinished(task.Host)
	f.logger.Info("task finished",
		zap.String("task_id", task.TaskID),
		zap.String("host", task.Host),
	)
	return nil
}
