package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/changhorizon/content-collector/internal/collector"
)

// CreateTask inserts a new task row.
func (s *Store) CreateTask(ctx context.Context, task collector.Task) error {
	query := `
		INSERT INTO tasks (task_id, host, status, started_at)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := s.db.Exec(ctx, query, task.TaskID, task.Host, string(task.Status), task.StartedAt); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// FinishTask attempts the conditional running→finished transition. Zero
// rows affected means another worker already finalized.
func (s *Store) FinishTask(ctx context.Context, taskID string, at time.Time) (bool, error) {
	query := `
		UPDATE tasks SET status = $2, finished_at = $3
		WHERE task_id = $1 AND status = $4;
	`
	tag, err := s.db.Exec(ctx, query, taskID,
		string(collector.TaskStatusFinished), at, string(collector.TaskStatusRunning))
	if err != nil {
		return false, fmt.Errorf("finish task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailTask marks a running task failed. Used when the entry URL stays
// unreachable; individual URL failures never fail the task.
func (s *Store) FailTask(ctx context.Context, taskID string, at time.Time) error {
	query := `
		UPDATE tasks SET status = $2, finished_at = $3
		WHERE task_id = $1 AND status = $4;
	`
	if _, err := s.db.Exec(ctx, query, taskID,
		string(collector.TaskStatusFailed), at, string(collector.TaskStatusRunning)); err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}

// GetTask loads one task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (collector.Task, error) {
	query := `
		SELECT task_id, host, status, started_at, finished_at
		FROM tasks WHERE task_id = $1;
	`
	var task collector.Task
	err := s.db.QueryRow(ctx, query, taskID).Scan(
		&task.TaskID,
		&task.Host,
		&task.Status,
		&task.StartedAt,
		&task.FinishedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return collector.Task{}, collector.ErrNotFound
		}
		return collector.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}
