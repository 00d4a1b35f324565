package policy

import (
	"context"
	"fmt"
	"math"

	"github.com/changhorizon/content-collector/internal/collector"
)

// CrawlPolicy decides whether fetch/parse work may proceed for a URL.
// Crawl is the process, persist is the result; this policy never touches
// content rules.
type CrawlPolicy struct {
	ledger collector.LedgerStore
}

// NewCrawlPolicy creates a CrawlPolicy.
func NewCrawlPolicy(ledger collector.LedgerStore) *CrawlPolicy {
	return &CrawlPolicy{ledger: ledger}
}

// ShouldCrawl returns false once the task's fetched count has reached the
// configured max_urls budget, or when this exact (task, host, url) has
// already been parsed in this task. Callers must bypass this check for
// entry URLs.
func (p *CrawlPolicy) ShouldCrawl(
	ctx context.Context,
	taskID, host string,
	params collector.Params,
	url string,
) (bool, error) {
	maxURLs := params.Confine.MaxURLs
	if maxURLs <= 0 {
		maxURLs = math.MaxInt
	}

	fetched, err := p.ledger.CountFetched(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("count fetched: %w", err)
	}
	if fetched >= maxURLs {
		return false, nil
	}

	parsed, err := p.ledger.IsParsed(ctx, taskID, host, url)
	if err != nil {
		return false, fmt.Errorf("check parsed: %w", err)
	}
	return !parsed, nil
}
