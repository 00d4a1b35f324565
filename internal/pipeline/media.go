package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"

	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
	"github.com/changhorizon/content-collector/internal/limiter"
	"github.com/changhorizon/content-collector/internal/metrics"
)

// ErrSlotRefused signals that the per-host concurrency limit refused a
// download slot. The worker requeues the job with backoff instead of
// treating it as a failure.
var ErrSlotRefused = errors.New("concurrency slot refused")

// MediaStage downloads one media resource and persists the Media fact
// plus its page→media reference.
type MediaStage struct {
	pages      collector.PageStore
	media      collector.MediaStore
	limiter    collector.Limiter
	downloader collector.MediaDownloader
	hasher     collector.Hasher
	clock      collector.Clock
	logger     *zap.Logger
}

// NewMediaStage creates a MediaStage.
func NewMediaStage(
	pages collector.PageStore,
	media collector.MediaStore,
	lim collector.Limiter,
	downloader collector.MediaDownloader,
	hasher collector.Hasher,
	clock collector.Clock,
	logger *zap.Logger,
) *MediaStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaStage{
		pages:      pages,
		media:      media,
		limiter:    lim,
		downloader: downloader,
		hasher:     hasher,
		clock:      clock,
		logger:     logger,
	}
}

// Handle runs the media stage for one URL. Idempotent on (host, url):
// media already stored is a successful no-op.
func (s *MediaStage) Handle(ctx context.Context, mediaCtx collector.MediaContext) error {
	parsed, err := s.pages.GetParsedPage(ctx, mediaCtx.ParsedPageID)
	if err != nil {
		if err == collector.ErrNotFound {
			// The discovering page is gone; the job has no semantic source.
			return nil
		}
		return fmt.Errorf("load parsed page: %w", err)
	}

	exists, err := s.media.MediaExists(ctx, mediaCtx.Host, mediaCtx.MediaURL)
	if err != nil {
		return fmt.Errorf("check media: %w", err)
	}
	if exists {
		return nil
	}

	acquired, err := limiter.WithLock(ctx, s.limiter, mediaCtx.Params, mediaCtx.TaskID, func(ctx context.Context) error {
		return s.downloadAndPersist(ctx, mediaCtx, parsed)
	})
	if err != nil {
		return err
	}
	if !acquired {
		return ErrSlotRefused
	}
	return nil
}

func (s *MediaStage) downloadAndPersist(
	ctx context.Context,
	mediaCtx collector.MediaContext,
	parsed collector.ParsedPage,
) error {
	urlHash, err := s.hasher.Hash([]byte(mediaCtx.MediaURL))
	if err != nil {
		return fmt.Errorf("hash media url: %w", err)
	}
	basePath := fmt.Sprintf("%s/%s", mediaCtx.Host, urlHash)

	req := buildFetchRequest(mediaCtx.Params, parsed.URL)
	req.Headers.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")

	stored, err := s.downloader.Download(ctx, mediaCtx.MediaURL, basePath, req)
	if err != nil {
		return fmt.Errorf("download media: %w", err)
	}
	if stored.Skipped {
		s.logger.Info("media download skipped",
			zap.String("url", mediaCtx.MediaURL),
			zap.String("reason", stored.SkipReason),
		)
		return nil
	}

	srcPath, srcFile, srcQuery := splitSourceURL(mediaCtx.MediaURL)
	_, err = s.media.SaveMedia(ctx, collector.Media{
		Host:           mediaCtx.Host,
		URL:            mediaCtx.MediaURL,
		SourcePath:     srcPath,
		SourceFilename: srcFile,
		SourceQuery:    srcQuery,
		HTTPCode:       stored.HTTPStatus,
		ContentType:    stored.ContentType,
		ContentSize:    stored.Bytes,
		ContentHash:    stored.Hash,
		StoragePath:    stored.Path,
		StoredAt:       s.clock.Now(),
		LastTaskID:     mediaCtx.TaskID,
	}, parsed.RawPageID)
	if err != nil {
		return fmt.Errorf("save media: %w", err)
	}

	metrics.MediaStored(mediaCtx.Host)
	return nil
}

func splitSourceURL(rawURL string) (srcPath, srcFile, srcQuery string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", ""
	}
	return u.Path, path.Base(u.Path), u.RawQuery
}
