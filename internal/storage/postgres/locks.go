package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AcquireSlot tries to take one concurrency slot for (host, task). The
// compare-and-increment runs under a row lock so concurrent workers never
// overshoot the limit. Returns false when the limit is reached.
func (s *Store) AcquireSlot(ctx context.Context, host, taskID string, limit int) (bool, error) {
	var acquired bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		seed := `
			INSERT INTO task_locks (host, task_id, slot_count)
			VALUES ($1, $2, 0)
			ON CONFLICT (host, task_id) DO NOTHING;
		`
		if _, err := tx.Exec(ctx, seed, host, taskID); err != nil {
			return fmt.Errorf("seed lock row: %w", err)
		}

		var count int
		lock := `
			SELECT slot_count FROM task_locks
			WHERE host = $1 AND task_id = $2
			FOR UPDATE;
		`
		if err := tx.QueryRow(ctx, lock, host, taskID).Scan(&count); err != nil {
			return fmt.Errorf("lock slot row: %w", err)
		}
		if count >= limit {
			return nil
		}

		bump := `
			UPDATE task_locks SET slot_count = slot_count + 1, updated_at = now()
			WHERE host = $1 AND task_id = $2;
		`
		if _, err := tx.Exec(ctx, bump, host, taskID); err != nil {
			return fmt.Errorf("increment slot: %w", err)
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseSlot returns one slot, never dropping below zero.
func (s *Store) ReleaseSlot(ctx context.Context, host, taskID string) error {
	query := `
		UPDATE task_locks
		SET slot_count = GREATEST(slot_count - 1, 0), updated_at = now()
		WHERE host = $1 AND task_id = $2;
	`
	if _, err := s.db.Exec(ctx, query, host, taskID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}
