// Package scheduler turns parse results into the next generation of work.
package scheduler

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
	"github.com/changhorizon/content-collector/internal/policy"
)

// PageScheduler consumes a parsed page's outbound links and emits fetch
// contexts for the ones that may be crawled, claiming ledger rows as it
// goes. It never dispatches work itself: the caller dispatches the
// returned contexts only after its enclosing transaction has committed.
type PageScheduler struct {
	ledger   collector.LedgerStore
	policy   *policy.CrawlPolicy
	counters collector.CounterProvider
	clock    collector.Clock
	logger   *zap.Logger
}

// NewPageScheduler creates a PageScheduler.
func NewPageScheduler(
	ledger collector.LedgerStore,
	crawlPolicy *policy.CrawlPolicy,
	counters collector.CounterProvider,
	clock collector.Clock,
	logger *zap.Logger,
) *PageScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageScheduler{
		ledger:   ledger,
		policy:   crawlPolicy,
		counters: counters,
		clock:    clock,
		logger:   logger,
	}
}

// Schedule processes links in input order. Links are assumed normalized
// and deduplicated by the link extractor; Schedule normalizes defensively
// and drops what fails. It stops entirely once the task counter reaches
// the max_urls budget.
func (s *PageScheduler) Schedule(
	ctx context.Context,
	pageCtx collector.PageContext,
	links []string,
) ([]collector.PageContext, error) {
	if len(links) == 0 {
		return nil, nil
	}

	maxURLs := pageCtx.Params.Confine.MaxURLs
	if maxURLs <= 0 {
		maxURLs = math.MaxInt
	}
	counter := s.counters.For(pageCtx.Host, pageCtx.TaskID)
	now := s.clock.Now()

	var next []collector.PageContext
	seen := make(map[string]struct{}, len(links))

	for _, link := range links {
		url, err := collector.NormalizeURL(link)
		if err != nil {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}

		current, err := counter.Current(ctx)
		if err != nil {
			return next, fmt.Errorf("read task counter: %w", err)
		}
		if current >= maxURLs {
			s.logger.Debug("task url budget reached, stopping discovery",
				zap.String("task_id", pageCtx.TaskID),
				zap.Int("max_urls", maxURLs),
			)
			break
		}

		eligible, err := s.policy.ShouldCrawl(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.Params, url)
		if err != nil {
			return next, fmt.Errorf("crawl policy: %w", err)
		}
		if !eligible {
			if err := s.ledger.DiscoverDenied(ctx, pageCtx.TaskID, pageCtx.Host, url, "policy_denied", now); err != nil {
				return next, fmt.Errorf("record denied url: %w", err)
			}
			continue
		}

		outcome, err := s.ledger.Discover(ctx, pageCtx.TaskID, pageCtx.Host, url, now)
		if err != nil {
			return next, fmt.Errorf("discover url: %w", err)
		}
		if outcome.AlreadyFinal {
			continue
		}

		if err := s.ledger.MarkScheduled(ctx, pageCtx.TaskID, pageCtx.Host, url, now); err != nil {
			return next, fmt.Errorf("mark scheduled: %w", err)
		}

		next = append(next, collector.PageContext{
			TaskID:  pageCtx.TaskID,
			Host:    pageCtx.Host,
			Params:  pageCtx.Params,
			URL:     url,
			FromURL: pageCtx.URL,
		})

		if _, err := counter.Increment(ctx); err != nil {
			return next, fmt.Errorf("increment task counter: %w", err)
		}
	}

	return next, nil
}
