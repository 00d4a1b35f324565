package collector

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// DiscoverOutcome reports what the ledger knew about a URL before a
// discovery upsert. Re-discovery never resets an existing row.
type DiscoverOutcome struct {
	AlreadyFinal bool
	FinalResult  LedgerResult
}

// LedgerStore is the authoritative record of each URL's lifecycle within
// one task. All mutual exclusion in the system is expressed through its
// conditional single-row updates.
type LedgerStore interface {
	// Discover upserts a (task, host, url) row stamping discovered_at,
	// idempotently. The outcome reports whether the row was already
	// terminal before the call.
	Discover(ctx context.Context, taskID, host, url string, at time.Time) (DiscoverOutcome, error)
	// DiscoverDenied inserts a row directly in the denied terminal state.
	DiscoverDenied(ctx context.Context, taskID, host, url, reason string, at time.Time) error
	// MarkScheduled stamps scheduled_at only if currently null.
	MarkScheduled(ctx context.Context, taskID, host, url string, at time.Time) error
	// ClaimFetch stamps fetched_at only if currently null and reports
	// whether this caller won the claim. Exactly one concurrent caller
	// wins; losers must not fetch.
	ClaimFetch(ctx context.Context, taskID, host, url string, at time.Time) (bool, error)
	// MarkParsed stamps parsed_at.
	MarkParsed(ctx context.Context, taskID, host, url string, at time.Time) error
	// Finalize sets final_result/final_reason only if final_result is
	// currently null, and reports whether this call performed the write.
	Finalize(ctx context.Context, taskID, host, url string, result LedgerResult, reason string) (bool, error)
	// CountFetched counts rows with non-null fetched_at for a task.
	CountFetched(ctx context.Context, taskID string) (int, error)
	// IsParsed reports whether the row has a non-null parsed_at.
	IsParsed(ctx context.Context, taskID, host, url string) (bool, error)
	// IsFinal reports whether the row has a non-null final_result.
	IsFinal(ctx context.Context, taskID, host, url string) (bool, error)
	// HasPending reports whether any row for the task lacks a final_result.
	HasPending(ctx context.Context, taskID string) (bool, error)
	// Summary aggregates row counts per final result for a task.
	Summary(ctx context.Context, taskID string) (map[string]int, error)
}

// TaskStore persists task rows.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	// FinishTask attempts the conditional running→finished transition and
	// reports whether this call won it. Zero rows affected means another
	// worker already finalized.
	FinishTask(ctx context.Context, taskID string, at time.Time) (bool, error)
	FailTask(ctx context.Context, taskID string, at time.Time) error
	GetTask(ctx context.Context, taskID string) (Task, error)
}

// PageStore persists raw and parsed page facts. The transactional methods
// span the fact table and the ledger in one commit.
type PageStore interface {
	// ParsedPageExists reports whether this task has already persisted
	// parsed content for the URL.
	ParsedPageExists(ctx context.Context, taskID, host, url string) (bool, error)
	// SaveFetchedPage inserts the RawPage and stamps the ledger's
	// fetched_at in a single transaction, returning the raw page id.
	SaveFetchedPage(ctx context.Context, page RawPage) (int64, error)
	GetRawPage(ctx context.Context, taskID, host, url string) (RawPage, error)
	// SaveParsedPage upserts the ParsedPage, inserts one page→page
	// Reference per distinct link whose target RawPage exists on this
	// host, and finalizes the ledger row as success, in one transaction.
	SaveParsedPage(ctx context.Context, page ParsedPage, links []string) (int64, error)
	GetParsedPage(ctx context.Context, id int64) (ParsedPage, error)
}

// MediaStore persists media facts and their embed references.
type MediaStore interface {
	MediaExists(ctx context.Context, host, url string) (bool, error)
	// SaveMedia upserts the Media row and its page→media Reference in one
	// transaction, returning the media id.
	SaveMedia(ctx context.Context, media Media, sourceRawPageID int64) (int64, error)
}

// LockStore is the durable fallback for the per-host concurrency limiter.
// Implementations must perform the compare-and-increment under a row lock.
type LockStore interface {
	AcquireSlot(ctx context.Context, host, taskID string, limit int) (bool, error)
	ReleaseSlot(ctx context.Context, host, taskID string) error
}

// Fetcher fetches one URL, classifying content purely from response
// headers.
type Fetcher interface {
	Fetch(ctx context.Context, url string, req FetchRequest) (FetchResult, error)
}

// Parser extracts structured content from an HTML document. Links and
// media URLs come back raw; resolution against the base URL is the
// caller's concern.
type Parser interface {
	Parse(html []byte, baseURL string) (ParseResult, error)
}

// MediaDownloader streams a media resource to basePath, writing through a
// temporary file and renaming atomically once the bytes and hash are
// complete. HTML/XHTML content-types are reported as skipped, not media.
type MediaDownloader interface {
	Download(ctx context.Context, url, basePath string, req FetchRequest) (StoredMedia, error)
}

// JobKind routes a queued job to its pipeline stage.
type JobKind string

// Job kinds.
const (
	JobFetch JobKind = "fetch"
	JobParse JobKind = "parse"
	JobMedia JobKind = "media"
)

// Job is one unit of queued work. Exactly one of Page/Media is meaningful
// depending on Kind.
type Job struct {
	Kind    JobKind      `json:"kind"`
	Page    PageContext  `json:"page,omitempty"`
	Media   MediaContext `json:"media,omitempty"`
	Attempt int          `json:"attempt"`
}

// Queue provides at-least-once named-queue delivery.
type Queue interface {
	Enqueue(ctx context.Context, queue string, job Job) error
	Dequeue(ctx context.Context, queue string) (Job, error)
}

// Publisher pushes task-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Counter is a monotonic per-(host, task) URL counter.
type Counter interface {
	Current(ctx context.Context) (int, error)
	Increment(ctx context.Context) (int, error)
}

// CounterProvider builds counters scoped to a (host, task) key.
type CounterProvider interface {
	For(host, taskID string) Counter
}

// Limiter bounds simultaneous in-flight media downloads per (host, task).
type Limiter interface {
	Acquire(ctx context.Context, params Params, taskID string) (bool, error)
	Release(ctx context.Context, params Params, taskID string) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
