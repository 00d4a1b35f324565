package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/changhorizon/content-collector/internal/collector"
)

// memLedger is an in-memory LedgerStore with the same conditional-write
// semantics as the SQL implementation.
type memLedger struct {
	mu   sync.Mutex
	rows map[string]*memLedgerRow
}

type memLedgerRow struct {
	discoveredAt *time.Time
	scheduledAt  *time.Time
	fetchedAt    *time.Time
	parsedAt     *time.Time
	finalResult  *collector.LedgerResult
	finalReason  string
}

func newMemLedger() *memLedger {
	return &memLedger{rows: make(map[string]*memLedgerRow)}
}

func ledgerKey(taskID, host, url string) string {
	return taskID + "|" + host + "|" + url
}

func (l *memLedger) row(taskID, host, url string) *memLedgerRow {
	key := ledgerKey(taskID, host, url)
	r, ok := l.rows[key]
	if !ok {
		r = &memLedgerRow{}
		l.rows[key] = r
	}
	return r
}

func (l *memLedger) Discover(_ context.Context, taskID, host, url string, at time.Time) (collector.DiscoverOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.row(taskID, host, url)
	if r.discoveredAt == nil {
		r.discoveredAt = &at
	}
	out := collector.DiscoverOutcome{AlreadyFinal: r.finalResult != nil}
	if r.finalResult != nil {
		out.FinalResult = *r.finalResult
	}
	return out, nil
}

func (l *memLedger) DiscoverDenied(_ context.Context, taskID, host, url, reason string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.row(taskID, host, url)
	if r.discoveredAt == nil {
		r.discoveredAt = &at
	}
	if r.finalResult == nil {
		denied := collector.LedgerDenied
		r.finalResult = &denied
		r.finalReason = reason
	}
	return nil
}

func (l *memLedger) MarkScheduled(_ context.Context, taskID, host, url string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.row(taskID, host, url)
	if r.scheduledAt == nil {
		r.scheduledAt = &at
	}
	return nil
}

func (l *memLedger) ClaimFetch(_ context.Context, taskID, host, url string, at time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.row(taskID, host, url)
	if r.fetchedAt != nil {
		return false, nil
	}
	r.fetchedAt = &at
	return true, nil
}

func (l *memLedger) MarkParsed(_ context.Context, taskID, host, url string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.row(taskID, host, url).parsedAt = &at
	return nil
}

func (l *memLedger) Finalize(_ context.Context, taskID, host, url string, result collector.LedgerResult, reason string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.row(taskID, host, url)
	if r.finalResult != nil {
		return false, nil
	}
	r.finalResult = &result
	r.finalReason = reason
	return true, nil
}

func (l *memLedger) CountFetched(_ context.Context, taskID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for key, r := range l.rows {
		if len(key) >= len(taskID) && key[:len(taskID)] == taskID && r.fetchedAt != nil {
			count++
		}
	}
	return count, nil
}

func (l *memLedger) IsParsed(_ context.Context, taskID, host, url string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[ledgerKey(taskID, host, url)]
	return ok && r.parsedAt != nil, nil
}

func (l *memLedger) IsFinal(_ context.Context, taskID, host, url string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[ledgerKey(taskID, host, url)]
	return ok && r.finalResult != nil, nil
}

func (l *memLedger) HasPending(_ context.Context, taskID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, r := range l.rows {
		if len(key) >= len(taskID) && key[:len(taskID)] == taskID && r.finalResult == nil {
			return true, nil
		}
	}
	return false, nil
}

func (l *memLedger) Summary(_ context.Context, taskID string) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int)
	for key, r := range l.rows {
		if len(key) < len(taskID) || key[:len(taskID)] != taskID {
			continue
		}
		if r.finalResult == nil {
			out["pending"]++
		} else {
			out[string(*r.finalResult)]++
		}
	}
	return out, nil
}

func (l *memLedger) finalOf(taskID, host, url string) (collector.LedgerResult, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[ledgerKey(taskID, host, url)]
	if !ok || r.finalResult == nil {
		return "", "", false
	}
	return *r.finalResult, r.finalReason, true
}

// memTasks is an in-memory TaskStore.
type memTasks struct {
	mu    sync.Mutex
	tasks map[string]collector.Task
}

func newMemTasks() *memTasks {
	return &memTasks{tasks: make(map[string]collector.Task)}
}

func (s *memTasks) CreateTask(_ context.Context, task collector.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.TaskID] = task
	return nil
}

func (s *memTasks) FinishTask(_ context.Context, taskID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status != collector.TaskStatusRunning {
		return false, nil
	}
	task.Status = collector.TaskStatusFinished
	task.FinishedAt = &at
	s.tasks[taskID] = task
	return true, nil
}

func (s *memTasks) FailTask(_ context.Context, taskID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return collector.ErrNotFound
	}
	task.Status = collector.TaskStatusFailed
	task.FinishedAt = &at
	s.tasks[taskID] = task
	return nil
}

func (s *memTasks) GetTask(_ context.Context, taskID string) (collector.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return collector.Task{}, collector.ErrNotFound
	}
	return task, nil
}

// memPages is an in-memory PageStore. Its transactional methods mirror
// the SQL implementation's ledger side effects when wired to a ledger.
type memPages struct {
	mu     sync.Mutex
	ledger *memLedger
	nextID int64
	raw    map[string]collector.RawPage
	parsed map[int64]collector.ParsedPage
	links  map[int64][]string
}

func newMemPages(ledger *memLedger) *memPages {
	return &memPages{
		ledger: ledger,
		raw:    make(map[string]collector.RawPage),
		parsed: make(map[int64]collector.ParsedPage),
		links:  make(map[int64][]string),
	}
}

func (s *memPages) ParsedPageExists(_ context.Context, taskID, host, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, page := range s.parsed {
		if page.LastTaskID == taskID && page.Host == host && page.URL == url {
			return true, nil
		}
	}
	return false, nil
}

func (s *memPages) SaveFetchedPage(_ context.Context, page collector.RawPage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	page.ID = s.nextID
	s.raw[ledgerKey(page.TaskID, page.Host, page.URL)] = page
	return page.ID, nil
}

func (s *memPages) GetRawPage(_ context.Context, taskID, host, url string) (collector.RawPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.raw[ledgerKey(taskID, host, url)]
	if !ok {
		return collector.RawPage{}, collector.ErrNotFound
	}
	return page, nil
}

func (s *memPages) SaveParsedPage(ctx context.Context, page collector.ParsedPage, links []string) (int64, error) {
	s.mu.Lock()
	s.nextID++
	page.ID = s.nextID
	s.parsed[page.ID] = page
	s.links[page.ID] = links
	s.mu.Unlock()

	if s.ledger != nil {
		if _, err := s.ledger.Finalize(ctx, page.LastTaskID, page.Host, page.URL, collector.LedgerSuccess, "parsed"); err != nil {
			return 0, err
		}
	}
	return page.ID, nil
}

func (s *memPages) GetParsedPage(_ context.Context, id int64) (collector.ParsedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.parsed[id]
	if !ok {
		return collector.ParsedPage{}, collector.ErrNotFound
	}
	return page, nil
}

// memMedia is an in-memory MediaStore.
type memMedia struct {
	mu     sync.Mutex
	nextID int64
	stored map[string]collector.Media
	refs   []int64
}

func newMemMedia() *memMedia {
	return &memMedia{stored: make(map[string]collector.Media)}
}

func (s *memMedia) MediaExists(_ context.Context, host, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stored[host+"|"+url]
	return ok, nil
}

func (s *memMedia) SaveMedia(_ context.Context, media collector.Media, sourceRawPageID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	media.ID = s.nextID
	s.stored[media.Host+"|"+media.URL] = media
	s.refs = append(s.refs, sourceRawPageID)
	return media.ID, nil
}

// stubFetcher returns canned results keyed by URL, or a default.
type stubFetcher struct {
	mu      sync.Mutex
	results map[string]collector.FetchResult
	errs    map[string]error
	calls   []string
	reqs    []collector.FetchRequest
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		results: make(map[string]collector.FetchResult),
		errs:    make(map[string]error),
	}
}

func (f *stubFetcher) Fetch(_ context.Context, url string, req collector.FetchRequest) (collector.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	f.reqs = append(f.reqs, req)
	if err, ok := f.errs[url]; ok {
		return collector.FetchResult{}, err
	}
	if result, ok := f.results[url]; ok {
		return result, nil
	}
	return collector.FetchResult{}, errors.New("no canned result for " + url)
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func htmlResult(body string) collector.FetchResult {
	sum := sha256.Sum256([]byte(body))
	return collector.FetchResult{
		StatusCode:  200,
		ContentKind: collector.ContentHTML,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(body),
		BodyHash:    hex.EncodeToString(sum[:]),
	}
}

// stubParser returns one canned result for every document.
type stubParser struct {
	result collector.ParseResult
	err    error
	calls  int
}

func (p *stubParser) Parse(_ []byte, _ string) (collector.ParseResult, error) {
	p.calls++
	if p.err != nil {
		return collector.ParseResult{}, p.err
	}
	return p.result, nil
}

// recordQueue records enqueued jobs.
type recordQueue struct {
	mu     sync.Mutex
	queues []string
	jobs   []collector.Job
	err    error
}

func (q *recordQueue) Enqueue(_ context.Context, queue string, job collector.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.queues = append(q.queues, queue)
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordQueue) Dequeue(context.Context, string) (collector.Job, error) {
	return collector.Job{}, errors.New("not implemented")
}

func (q *recordQueue) jobsOf(kind collector.JobKind) []collector.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []collector.Job
	for _, job := range q.jobs {
		if job.Kind == kind {
			out = append(out, job)
		}
	}
	return out
}

// stubLimiter grants or refuses every slot.
type stubLimiter struct {
	grant    bool
	acquires int
	releases int
}

func (l *stubLimiter) Acquire(context.Context, collector.Params, string) (bool, error) {
	l.acquires++
	return l.grant, nil
}

func (l *stubLimiter) Release(context.Context, collector.Params, string) error {
	l.releases++
	return nil
}

// stubDownloader returns one canned StoredMedia.
type stubDownloader struct {
	stored collector.StoredMedia
	err    error
	urls   []string
	paths  []string
	reqs   []collector.FetchRequest
}

func (d *stubDownloader) Download(_ context.Context, url, basePath string, req collector.FetchRequest) (collector.StoredMedia, error) {
	d.urls = append(d.urls, url)
	d.paths = append(d.paths, basePath)
	d.reqs = append(d.reqs, req)
	if d.err != nil {
		return collector.StoredMedia{}, d.err
	}
	return d.stored, nil
}

type stubHasher struct{}

func (stubHasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type stubClock struct{ at time.Time }

func (c stubClock) Now() time.Time { return c.at }

type stubIDs struct{ id string }

func (g stubIDs) NewID() (string, error) { return g.id, nil }

// recordPublisher records published events.
type recordPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (p *recordPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return "pub-1", nil
}

func (p *recordPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

func testClock() stubClock {
	return stubClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}
