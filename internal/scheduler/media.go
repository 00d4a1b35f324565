package scheduler

import (
	"context"
	"fmt"

	"github.com/changhorizon/content-collector/internal/collector"
)

// MediaScheduler emits one download job per discovered media URL, scoped
// to the parsed page that referenced it.
type MediaScheduler struct {
	queue collector.Queue
}

// NewMediaScheduler creates a MediaScheduler.
func NewMediaScheduler(queue collector.Queue) *MediaScheduler {
	return &MediaScheduler{queue: queue}
}

// Schedule enqueues one media job per URL on the media queue.
func (s *MediaScheduler) Schedule(
	ctx context.Context,
	mediaCtx collector.MediaContext,
	mediaURLs []string,
) error {
	for _, url := range mediaURLs {
		job := collector.Job{
			Kind: collector.JobMedia,
			Media: collector.MediaContext{
				TaskID:       mediaCtx.TaskID,
				Host:         mediaCtx.Host,
				Params:       mediaCtx.Params,
				ParsedPageID: mediaCtx.ParsedPageID,
				PageURL:      mediaCtx.PageURL,
				MediaURL:     url,
			},
		}
		if err := s.queue.Enqueue(ctx, mediaCtx.Params.Queues.Media, job); err != nil {
			return fmt.Errorf("enqueue media job for %s: %w", url, err)
		}
	}
	return nil
}
