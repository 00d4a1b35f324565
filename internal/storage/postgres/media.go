package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/changhorizon/content-collector/internal/collector"
)

// MediaExists reports whether a media fact already exists for (host, url).
// Media facts are shared across tasks.
func (s *Store) MediaExists(ctx context.Context, host, url string) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM media WHERE host = $1 AND url = $2);
	`
	var exists bool
	if err := s.db.QueryRow(ctx, query, host, url).Scan(&exists); err != nil {
		return false, fmt.Errorf("check media: %w", err)
	}
	return exists, nil
}

// SaveMedia upserts the media fact and records the page→media embed
// reference from the discovering page in one transaction, returning the
// media id.
func (s *Store) SaveMedia(ctx context.Context, media collector.Media, sourceRawPageID int64) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		upsert := `
			INSERT INTO media (host, url, source_path, source_filename, source_query,
				http_code, http_content_type, content_size, content_hash, storage_path,
				stored_at, last_task_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (host, url) DO UPDATE
			SET http_code = excluded.http_code,
				http_content_type = excluded.http_content_type,
				content_size = excluded.content_size,
				content_hash = excluded.content_hash,
				storage_path = excluded.storage_path,
				stored_at = excluded.stored_at,
				last_task_id = excluded.last_task_id
			RETURNING id;
		`
		if err := tx.QueryRow(ctx, upsert,
			media.Host, media.URL,
			media.SourcePath, media.SourceFilename, media.SourceQuery,
			media.HTTPCode, media.ContentType, media.ContentSize, media.ContentHash,
			media.StoragePath, media.StoredAt, media.LastTaskID,
		).Scan(&id); err != nil {
			return fmt.Errorf("upsert media: %w", err)
		}

		ref := `
			INSERT INTO page_references (raw_page_id, target_id, target_type, source_tag, source_attr, relation)
			VALUES ($1, $2, $3, '', '', $4)
			ON CONFLICT (raw_page_id, target_id, target_type, source_tag, source_attr) DO NOTHING;
		`
		if _, err := tx.Exec(ctx, ref,
			sourceRawPageID, id,
			string(collector.TargetMedia), string(collector.RelationEmbed),
		); err != nil {
			return fmt.Errorf("insert media reference: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}
