package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/changhorizon/content-collector/internal/collector"
)

// Discover upserts the ledger row for (task, host, url). The no-op
// DO UPDATE makes RETURNING yield the row's current final_result without
// resetting anything on re-discovery.
func (s *Store) Discover(
	ctx context.Context,
	taskID, host, url string,
	at time.Time,
) (collector.DiscoverOutcome, error) {
	query := `
		INSERT INTO url_ledger (task_id, host, url, discovered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id, host, url) DO UPDATE SET url = excluded.url
		RETURNING final_result;
	`
	var finalResult *string
	if err := s.db.QueryRow(ctx, query, taskID, host, url, at).Scan(&finalResult); err != nil {
		return collector.DiscoverOutcome{}, fmt.Errorf("discover url: %w", err)
	}

	outcome := collector.DiscoverOutcome{}
	if finalResult != nil {
		outcome.AlreadyFinal = true
		outcome.FinalResult = collector.LedgerResult(*finalResult)
	}
	return outcome, nil
}

// DiscoverDenied inserts a row directly in the denied terminal state.
// An existing row is left untouched.
func (s *Store) DiscoverDenied(
	ctx context.Context,
	taskID, host, url, reason string,
	at time.Time,
) error {
	query := `
		INSERT INTO url_ledger (task_id, host, url, discovered_at, final_result, final_reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id, host, url) DO NOTHING;
	`
	if _, err := s.db.Exec(ctx, query, taskID, host, url, at, string(collector.LedgerDenied), reason); err != nil {
		return fmt.Errorf("insert denied ledger row: %w", err)
	}
	return nil
}

// MarkScheduled stamps scheduled_at only if still null.
func (s *Store) MarkScheduled(ctx context.Context, taskID, host, url string, at time.Time) error {
	query := `
		UPDATE url_ledger SET scheduled_at = $4
		WHERE task_id = $1 AND host = $2 AND url = $3 AND scheduled_at IS NULL;
	`
	if _, err := s.db.Exec(ctx, query, taskID, host, url, at); err != nil {
		return fmt.Errorf("mark scheduled: %w", err)
	}
	return nil
}

// ClaimFetch atomically claims the fetch step for one URL. Exactly one
// concurrent caller sees true.
func (s *Store) ClaimFetch(ctx context.Context, taskID, host, url string, at time.Time) (bool, error) {
	query := `
		UPDATE url_ledger SET fetched_at = $4
		WHERE task_id = $1 AND host = $2 AND url = $3 AND fetched_at IS NULL;
	`
	tag, err := s.db.Exec(ctx, query, taskID, host, url, at)
	if err != nil {
		return false, fmt.Errorf("claim fetch: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkParsed stamps parsed_at.
func (s *Store) MarkParsed(ctx context.Context, taskID, host, url string, at time.Time) error {
	query := `
		UPDATE url_ledger SET parsed_at = $4
		WHERE task_id = $1 AND host = $2 AND url = $3;
	`
	if _, err := s.db.Exec(ctx, query, taskID, host, url, at); err != nil {
		return fmt.Errorf("mark parsed: %w", err)
	}
	return nil
}

// Finalize stamps the terminal result at most once per row.
func (s *Store) Finalize(
	ctx context.Context,
	taskID, host, url string,
	result collector.LedgerResult,
	reason string,
) (bool, error) {
	query := `
		UPDATE url_ledger SET final_result = $4, final_reason = $5
		WHERE task_id = $1 AND host = $2 AND url = $3 AND final_result IS NULL;
	`
	tag, err := s.db.Exec(ctx, query, taskID, host, url, string(result), reason)
	if err != nil {
		return false, fmt.Errorf("finalize ledger row: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountFetched counts the task's rows with a non-null fetched_at.
func (s *Store) CountFetched(ctx context.Context, taskID string) (int, error) {
	query := `SELECT COUNT(*) FROM url_ledger WHERE task_id = $1 AND fetched_at IS NOT NULL;`
	var count int
	if err := s.db.QueryRow(ctx, query, taskID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count fetched: %w", err)
	}
	return count, nil
}

// IsParsed reports whether the row has a non-null parsed_at.
func (s *Store) IsParsed(ctx context.Context, taskID, host, url string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM url_ledger
			WHERE task_id = $1 AND host = $2 AND url = $3 AND parsed_at IS NOT NULL
		);
	`
	var exists bool
	if err := s.db.QueryRow(ctx, query, taskID, host, url).Scan(&exists); err != nil {
		return false, fmt.Errorf("check parsed: %w", err)
	}
	return exists, nil
}

// IsFinal reports whether the row has a non-null final_result.
func (s *Store) IsFinal(ctx context.Context, taskID, host, url string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM url_ledger
			WHERE task_id = $1 AND host = $2 AND url = $3 AND final_result IS NOT NULL
		);
	`
	var exists bool
	if err := s.db.QueryRow(ctx, query, taskID, host, url).Scan(&exists); err != nil {
		return false, fmt.Errorf("check final: %w", err)
	}
	return exists, nil
}

// HasPending reports whether any of the task's rows lacks a final_result.
func (s *Store) HasPending(ctx context.Context, taskID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM url_ledger WHERE task_id = $1 AND final_result IS NULL
		);
	`
	var exists bool
	if err := s.db.QueryRow(ctx, query, taskID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	return exists, nil
}

// Summary aggregates the task's row counts per final result; rows still
// in flight are reported under "pending".
func (s *Store) Summary(ctx context.Context, taskID string) (map[string]int, error) {
	query := `
		SELECT COALESCE(final_result, 'pending') AS result, COUNT(*)
		FROM url_ledger WHERE task_id = $1 GROUP BY 1;
	`
	rows, err := s.db.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("ledger summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[string]int)
	for rows.Next() {
		var result string
		var count int
		if err := rows.Scan(&result, &count); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		summary[result] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return summary, nil
}
