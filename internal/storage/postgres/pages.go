package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/changhorizon/content-collector/internal/collector"
)

// ParsedPageExists reports whether parsed content from this task already
// exists for the URL.
func (s *Store) ParsedPageExists(ctx context.Context, taskID, host, url string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM parsed_pages pp
			JOIN raw_pages rp ON rp.id = pp.raw_page_id
			WHERE rp.task_id = $1 AND rp.host = $2 AND rp.url = $3
		);
	`
	var exists bool
	if err := s.db.QueryRow(ctx, query, taskID, host, url).Scan(&exists); err != nil {
		return false, fmt.Errorf("check parsed page: %w", err)
	}
	return exists, nil
}

// SaveFetchedPage persists the RawPage fact and stamps the ledger's
// fetched_at in one transaction, returning the raw page id. The upsert
// keeps re-fetches for the same key idempotent.
func (s *Store) SaveFetchedPage(ctx context.Context, page collector.RawPage) (int64, error) {
	headersJSON, err := json.Marshal(page.Headers)
	if err != nil {
		return 0, fmt.Errorf("marshal headers: %w", err)
	}

	var id int64
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		insert := `
			INSERT INTO raw_pages (task_id, host, url, http_code, http_headers, raw_html, raw_html_hash, fetched_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (task_id, host, url) DO UPDATE
			SET http_code = excluded.http_code,
				http_headers = excluded.http_headers,
				raw_html = excluded.raw_html,
				raw_html_hash = excluded.raw_html_hash,
				fetched_at = excluded.fetched_at
			RETURNING id;
		`
		if err := tx.QueryRow(ctx, insert,
			page.TaskID, page.Host, page.URL,
			page.HTTPCode, headersJSON, page.Body, page.BodyHash, page.FetchedAt,
		).Scan(&id); err != nil {
			return fmt.Errorf("insert raw page: %w", err)
		}

		stamp := `
			UPDATE url_ledger SET fetched_at = $4
			WHERE task_id = $1 AND host = $2 AND url = $3;
		`
		if _, err := tx.Exec(ctx, stamp, page.TaskID, page.Host, page.URL, page.FetchedAt); err != nil {
			return fmt.Errorf("stamp fetched_at: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetRawPage loads the RawPage fact for (task, host, url).
func (s *Store) GetRawPage(ctx context.Context, taskID, host, url string) (collector.RawPage, error) {
	query := `
		SELECT id, task_id, host, url, http_code, http_headers, raw_html, raw_html_hash, fetched_at
		FROM raw_pages WHERE task_id = $1 AND host = $2 AND url = $3;
	`
	var page collector.RawPage
	var headersJSON []byte
	err := s.db.QueryRow(ctx, query, taskID, host, url).Scan(
		&page.ID,
		&page.TaskID,
		&page.Host,
		&page.URL,
		&page.HTTPCode,
		&headersJSON,
		&page.Body,
		&page.BodyHash,
		&page.FetchedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return collector.RawPage{}, collector.ErrNotFound
		}
		return collector.RawPage{}, fmt.Errorf("get raw page: %w", err)
	}

	if len(headersJSON) > 0 {
		var headers http.Header
		if err := json.Unmarshal(headersJSON, &headers); err != nil {
			return collector.RawPage{}, fmt.Errorf("unmarshal headers: %w", err)
		}
		page.Headers = headers
	}
	return page, nil
}

// SaveParsedPage upserts the ParsedPage, records one page→page reference
// per distinct link whose target RawPage is known on this host, and
// finalizes the ledger row as success, all in one transaction.
// References describe known-fetched targets only.
func (s *Store) SaveParsedPage(
	ctx context.Context,
	page collector.ParsedPage,
	links []string,
) (int64, error) {
	metaJSON, err := json.Marshal(page.Meta)
	if err != nil {
		return 0, fmt.Errorf("marshal meta: %w", err)
	}

	var id int64
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		upsert := `
			INSERT INTO parsed_pages (raw_page_id, host, url, html_title, html_body, html_meta, parsed_at, last_task_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (raw_page_id) DO UPDATE
			SET html_title = excluded.html_title,
				html_body = excluded.html_body,
				html_meta = excluded.html_meta,
				parsed_at = excluded.parsed_at,
				last_task_id = excluded.last_task_id
			RETURNING id;
		`
		if err := tx.QueryRow(ctx, upsert,
			page.RawPageID, page.Host, page.URL,
			page.Title, page.BodyHTML, metaJSON, page.ParsedAt, page.LastTaskID,
		).Scan(&id); err != nil {
			return fmt.Errorf("upsert parsed page: %w", err)
		}

		ref := `
			INSERT INTO page_references (raw_page_id, target_id, target_type, source_tag, source_attr, relation)
			SELECT $1, rp.id, $3, '', '', $4
			FROM raw_pages rp
			WHERE rp.host = $2 AND rp.url = $5
			ON CONFLICT (raw_page_id, target_id, target_type, source_tag, source_attr) DO NOTHING;
		`
		for _, link := range links {
			if _, err := tx.Exec(ctx, ref,
				page.RawPageID, page.Host,
				string(collector.TargetPage), string(collector.RelationLink), link,
			); err != nil {
				return fmt.Errorf("insert page reference: %w", err)
			}
		}

		finalize := `
			UPDATE url_ledger SET final_result = $4, final_reason = $5
			WHERE task_id = $1 AND host = $2 AND url = $3 AND final_result IS NULL;
		`
		if _, err := tx.Exec(ctx, finalize,
			page.LastTaskID, page.Host, page.URL,
			string(collector.LedgerSuccess), "parsed",
		); err != nil {
			return fmt.Errorf("finalize success: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetParsedPage loads a ParsedPage by id.
func (s *Store) GetParsedPage(ctx context.Context, id int64) (collector.ParsedPage, error) {
	query := `
		SELECT id, raw_page_id, host, url, html_title, html_body, html_meta, parsed_at, last_task_id
		FROM parsed_pages WHERE id = $1;
	`
	var page collector.ParsedPage
	var metaJSON []byte
	err := s.db.QueryRow(ctx, query, id).Scan(
		&page.ID,
		&page.RawPageID,
		&page.Host,
		&page.URL,
		&page.Title,
		&page.BodyHTML,
		&metaJSON,
		&page.ParsedAt,
		&page.LastTaskID,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return collector.ParsedPage{}, collector.ErrNotFound
		}
		return collector.ParsedPage{}, fmt.Errorf("get parsed page: %w", err)
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &page.Meta); err != nil {
			return collector.ParsedPage{}, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	return page, nil
}
