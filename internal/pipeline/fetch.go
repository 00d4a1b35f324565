// Package pipeline implements the Fetch → Parse → Media stages of the
// crawl workflow and the task finalizer. Each stage persists its fact,
// advances the ledger, and hands off to the next stage only after its
// transaction has committed.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
	"github.com/changhorizon/content-collector/internal/metrics"
	"github.com/changhorizon/content-collector/internal/policy"
)

// FetchStage claims a ledger row, fetches the page, and persists the
// RawPage fact.
type FetchStage struct {
	ledger    collector.LedgerStore
	pages     collector.PageStore
	policy    *policy.CrawlPolicy
	persist   *policy.PersistencePolicy
	fetcher   collector.Fetcher
	finalizer *TaskFinalizer
	queue     collector.Queue
	clock     collector.Clock
	logger    *zap.Logger
}

// NewFetchStage creates a FetchStage.
func NewFetchStage(
	ledger collector.LedgerStore,
	pages collector.PageStore,
	crawlPolicy *policy.CrawlPolicy,
	persistPolicy *policy.PersistencePolicy,
	fetcher collector.Fetcher,
	finalizer *TaskFinalizer,
	queue collector.Queue,
	clock collector.Clock,
	logger *zap.Logger,
) *FetchStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FetchStage{
		ledger:    ledger,
		pages:     pages,
		policy:    crawlPolicy,
		persist:   persistPolicy,
		fetcher:   fetcher,
		finalizer: finalizer,
		queue:     queue,
		clock:     clock,
		logger:    logger,
	}
}

// Handle runs the fetch stage for one URL. Losing the fetch claim is a
// silent, successful exit: another worker owns this URL.
func (s *FetchStage) Handle(ctx context.Context, pageCtx collector.PageContext) error {
	now := s.clock.Now()

	if err := s.ledger.MarkScheduled(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.URL, now); err != nil {
		return fmt.Errorf("mark scheduled: %w", err)
	}

	claimed, err := s.ledger.ClaimFetch(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.URL, now)
	if err != nil {
		return fmt.Errorf("claim fetch: %w", err)
	}
	if !claimed {
		s.logger.Debug("fetch claim lost, url already in flight",
			zap.String("task_id", pageCtx.TaskID),
			zap.String("url", pageCtx.URL),
		)
		return nil
	}

	if !pageCtx.IsEntry() {
		eligible, err := s.policy.ShouldCrawl(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.Params, pageCtx.URL)
		if err != nil {
			return fmt.Errorf("crawl policy: %w", err)
		}
		if !eligible {
			return s.finalize(ctx, pageCtx, collector.LedgerSkipped, "crawl_policy_skipped")
		}
	}

	// A deny rule ends the URL here: denied pages are never fetched for
	// content and their links are never followed. Skip verdicts still
	// fetch; only persistence of the content is withheld later.
	decision, err := s.persist.Decide(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.Params, pageCtx.URL)
	if err != nil {
		return fmt.Errorf("persistence policy: %w", err)
	}
	if decision.Verdict == policy.VerdictDeny {
		metrics.PageFetched(pageCtx.Host, "denied")
		return s.finalize(ctx, pageCtx, decision.Result, decision.Reason)
	}

	s.politeDelay(ctx, pageCtx.Params)

	result, err := s.fetcher.Fetch(ctx, pageCtx.URL, buildFetchRequest(pageCtx.Params, pageCtx.FromURL))
	if err != nil {
		s.logger.Warn("page fetch failed",
			zap.String("task_id", pageCtx.TaskID),
			zap.String("url", pageCtx.URL),
			zap.Error(err),
		)
		metrics.PageFetched(pageCtx.Host, "failed")
		return s.finalize(ctx, pageCtx, collector.LedgerFailed, "fetch_failed")
	}

	if result.ContentKind != collector.ContentHTML {
		metrics.PageFetched(pageCtx.Host, "non_html")
		return s.finalize(ctx, pageCtx, collector.LedgerSkipped, "non_html_content")
	}

	rawPageID, err := s.pages.SaveFetchedPage(ctx, collector.RawPage{
		TaskID:    pageCtx.TaskID,
		Host:      pageCtx.Host,
		URL:       pageCtx.URL,
		HTTPCode:  result.StatusCode,
		Headers:   result.Headers,
		Body:      result.Body,
		BodyHash:  result.BodyHash,
		FetchedAt: s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("save fetched page: %w", err)
	}
	metrics.PageFetched(pageCtx.Host, "ok")

	// Transaction committed; announcing the parse job is now safe.
	parseCtx := pageCtx
	parseCtx.RawPageID = rawPageID
	job := collector.Job{Kind: collector.JobParse, Page: parseCtx}
	if err := s.queue.Enqueue(ctx, pageCtx.Params.Queues.Parse, job); err != nil {
		return fmt.Errorf("enqueue parse job: %w", err)
	}
	return nil
}

// finalize stamps the row terminal and lets the finalizer run: no parse
// job follows this row, so it may be the one that empties the task's
// pending set.
func (s *FetchStage) finalize(
	ctx context.Context,
	pageCtx collector.PageContext,
	result collector.LedgerResult,
	reason string,
) error {
	if _, err := s.ledger.Finalize(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.URL, result, reason); err != nil {
		return fmt.Errorf("finalize ledger row: %w", err)
	}
	if err := s.finalizer.TryFinish(ctx, pageCtx.TaskID); err != nil {
		return fmt.Errorf("try finish task: %w", err)
	}
	return nil
}

func (s *FetchStage) politeDelay(ctx context.Context, params collector.Params) {
	delay := time.Duration(params.Confine.DelayMs) * time.Millisecond
	if params.Confine.JitterMs > 0 {
		delay += time.Duration(rand.Intn(params.Confine.JitterMs)) * time.Millisecond
	}
	if delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// buildFetchRequest assembles per-request client options, picking a
// User-Agent from the configured pool at random.
func buildFetchRequest(params collector.Params, referer string) collector.FetchRequest {
	headers := http.Header{}
	if len(params.Client.UserAgents) > 0 {
		headers.Set("User-Agent", params.Client.UserAgents[rand.Intn(len(params.Client.UserAgents))])
	}
	if referer != "" {
		headers.Set("Referer", referer)
	}

	timeout := time.Duration(params.Client.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return collector.FetchRequest{
		Headers: headers,
		Timeout: timeout,
		Proxy:   params.Client.Proxy,
	}
}
