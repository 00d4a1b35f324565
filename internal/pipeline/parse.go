package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
	"github.com/changhorizon/content-collector/internal/metrics"
	"github.com/changhorizon/content-collector/internal/policy"
	"github.com/changhorizon/content-collector/internal/scheduler"
)

// ParseStage extracts structured content from a fetched RawPage, applies
// the persistence policy, and feeds the schedulers.
type ParseStage struct {
	ledger    collector.LedgerStore
	pages     collector.PageStore
	policy    *policy.PersistencePolicy
	parser    collector.Parser
	pageSched *scheduler.PageScheduler
	media     *scheduler.MediaScheduler
	finalizer *TaskFinalizer
	queue     collector.Queue
	clock     collector.Clock
	logger    *zap.Logger
}

// NewParseStage creates a ParseStage.
func NewParseStage(
	ledger collector.LedgerStore,
	pages collector.PageStore,
	persistPolicy *policy.PersistencePolicy,
	parser collector.Parser,
	pageSched *scheduler.PageScheduler,
	media *scheduler.MediaScheduler,
	finalizer *TaskFinalizer,
	queue collector.Queue,
	clock collector.Clock,
	logger *zap.Logger,
) *ParseStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParseStage{
		ledger:    ledger,
		pages:     pages,
		policy:    persistPolicy,
		parser:    parser,
		pageSched: pageSched,
		media:     media,
		finalizer: finalizer,
		queue:     queue,
		clock:     clock,
		logger:    logger,
	}
}

// Handle runs the parse stage for one fetched URL. It is idempotent:
// re-entry on an already-terminal ledger row is a no-op. The finalizer
// runs after every completion path because any of them can be the one
// that empties the task's pending set.
func (s *ParseStage) Handle(ctx context.Context, pageCtx collector.PageContext) error {
	next, err := s.process(ctx, pageCtx)
	if err != nil {
		return err
	}

	// All transactions are committed; dispatching is now safe.
	for _, nextCtx := range next {
		job := collector.Job{Kind: collector.JobFetch, Page: nextCtx}
		if err := s.queue.Enqueue(ctx, pageCtx.Params.Queues.Crawl, job); err != nil {
			return fmt.Errorf("enqueue fetch job: %w", err)
		}
	}

	if err := s.finalizer.TryFinish(ctx, pageCtx.TaskID); err != nil {
		return fmt.Errorf("try finish task: %w", err)
	}
	return nil
}

func (s *ParseStage) process(ctx context.Context, pageCtx collector.PageContext) ([]collector.PageContext, error) {
	final, err := s.ledger.IsFinal(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.URL)
	if err != nil {
		return nil, fmt.Errorf("check ledger row: %w", err)
	}
	if final {
		return nil, nil
	}

	// The RawPage is the only source of truth here; never re-fetch.
	raw, err := s.pages.GetRawPage(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.URL)
	if err != nil {
		if err == collector.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load raw page: %w", err)
	}
	if len(raw.Body) == 0 {
		return nil, nil
	}

	result, err := s.parser.Parse(raw.Body, pageCtx.URL)
	if err != nil {
		s.logger.Warn("page parse failed",
			zap.String("task_id", pageCtx.TaskID),
			zap.String("url", pageCtx.URL),
			zap.Error(err),
		)
		if _, err := s.ledger.Finalize(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.URL, collector.LedgerFailed, "parse_failed"); err != nil {
			return nil, fmt.Errorf("finalize failed parse: %w", err)
		}
		return nil, nil
	}

	if err := s.ledger.MarkParsed(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.URL, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("mark parsed: %w", err)
	}

	extractor := collector.NewLinkExtractor(pageCtx.Host)
	links := extractor.Extract(result.Links, pageCtx.URL)

	decision, err := s.policy.Decide(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.Params, pageCtx.URL)
	if err != nil {
		return nil, fmt.Errorf("persistence policy: %w", err)
	}

	// Deny normally ends the URL before fetch; seeing it here means the
	// rules changed mid-flight. A denied page's links are not followed.
	if decision.Verdict == policy.VerdictDeny {
		if _, err := s.ledger.Finalize(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.URL, decision.Result, decision.Reason); err != nil {
			return nil, fmt.Errorf("finalize denied: %w", err)
		}
		metrics.PageParsed(pageCtx.Host, string(decision.Result))
		return nil, nil
	}

	var parsedPageID int64
	if decision.ShouldPersist() {
		parsedPageID, err = s.pages.SaveParsedPage(ctx, collector.ParsedPage{
			RawPageID:  raw.ID,
			Host:       pageCtx.Host,
			URL:        pageCtx.URL,
			Title:      result.Title,
			BodyHTML:   result.BodyHTML,
			Meta:       result.Meta,
			ParsedAt:   s.clock.Now(),
			LastTaskID: pageCtx.TaskID,
		}, links)
		if err != nil {
			return nil, fmt.Errorf("save parsed page: %w", err)
		}
		metrics.PageParsed(pageCtx.Host, "success")
	} else {
		if _, err := s.ledger.Finalize(ctx, pageCtx.TaskID, pageCtx.Host, pageCtx.URL, decision.Result, decision.Reason); err != nil {
			return nil, fmt.Errorf("finalize %s: %w", decision.Verdict, err)
		}
		metrics.PageParsed(pageCtx.Host, string(decision.Result))
	}

	if parsedPageID != 0 {
		mediaURLs := extractor.Extract(result.MediaURLs, pageCtx.URL)
		if len(mediaURLs) > 0 {
			err := s.media.Schedule(ctx, collector.MediaContext{
				TaskID:       pageCtx.TaskID,
				Host:         pageCtx.Host,
				Params:       pageCtx.Params,
				ParsedPageID: parsedPageID,
				PageURL:      pageCtx.URL,
			}, mediaURLs)
			if err != nil {
				return nil, fmt.Errorf("schedule media: %w", err)
			}
		}
	}

	// Persistence and discovery stay decoupled for skips: a skipped
	// page still feeds the frontier.
	return s.pageSched.Schedule(ctx, pageCtx, links)
}
