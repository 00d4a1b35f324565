// Package collector defines core types shared across subsystems.
package collector

import (
	"net/http"
	"time"
)

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values persisted in the task store.
const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusFinished  TaskStatus = "finished"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task represents one crawl run for one host.
type Task struct {
	TaskID     string     `json:"task_id"`
	Host       string     `json:"host"`
	Status     TaskStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// LedgerResult is the terminal outcome of a ledger row.
type LedgerResult string

// Terminal ledger results. Once set, the row accepts no further writes.
const (
	LedgerSuccess LedgerResult = "success"
	LedgerFailed  LedgerResult = "failed"
	LedgerSkipped LedgerResult = "skipped"
	LedgerDenied  LedgerResult = "denied"
)

// LedgerEntry is one row of the URL lifecycle ledger, unique per
// (task_id, host, url). Nullable timestamps record forward progress.
type LedgerEntry struct {
	ID           int64         `json:"id"`
	TaskID       string        `json:"task_id"`
	Host         string        `json:"host"`
	URL          string        `json:"url"`
	DiscoveredAt *time.Time    `json:"discovered_at,omitempty"`
	ScheduledAt  *time.Time    `json:"scheduled_at,omitempty"`
	FetchedAt    *time.Time    `json:"fetched_at,omitempty"`
	ParsedAt     *time.Time    `json:"parsed_at,omitempty"`
	FinalResult  *LedgerResult `json:"final_result,omitempty"`
	FinalReason  string        `json:"final_reason,omitempty"`
}

// RawPage is the fact row for one successfully fetched document.
type RawPage struct {
	ID        int64       `json:"id"`
	TaskID    string      `json:"task_id"`
	Host      string      `json:"host"`
	URL       string      `json:"url"`
	HTTPCode  int         `json:"http_code"`
	Headers   http.Header `json:"http_headers"`
	Body      []byte      `json:"-"`
	BodyHash  string      `json:"raw_html_hash"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// ParsedPage holds structured content extracted from one RawPage.
type ParsedPage struct {
	ID         int64             `json:"id"`
	RawPageID  int64             `json:"raw_page_id"`
	Host       string            `json:"host"`
	URL        string            `json:"url"`
	Title      string            `json:"html_title"`
	BodyHTML   string            `json:"html_body"`
	Meta       map[string]string `json:"html_meta"`
	ParsedAt   time.Time         `json:"parsed_at"`
	LastTaskID string            `json:"last_task_id"`
}

// Media is the fact row for one downloaded media resource, unique per
// (host, url) across tasks.
type Media struct {
	ID             int64     `json:"id"`
	Host           string    `json:"host"`
	URL            string    `json:"url"`
	SourcePath     string    `json:"source_path"`
	SourceFilename string    `json:"source_filename"`
	SourceQuery    string    `json:"source_query"`
	HTTPCode       int       `json:"http_code"`
	ContentType    string    `json:"http_content_type"`
	ContentSize    int64     `json:"content_size"`
	ContentHash    string    `json:"content_hash"`
	StoragePath    string    `json:"storage_path"`
	StoredAt       time.Time `json:"stored_at"`
	LastTaskID     string    `json:"last_task_id"`
}

// ReferenceTarget discriminates what a Reference points at.
type ReferenceTarget string

// Reference target types.
const (
	TargetPage  ReferenceTarget = "page"
	TargetMedia ReferenceTarget = "media"
)

// ReferenceRelation tags the semantics of a page→target edge.
type ReferenceRelation string

// Reference relations.
const (
	RelationLink      ReferenceRelation = "link"
	RelationEmbed     ReferenceRelation = "embed"
	RelationImport    ReferenceRelation = "import"
	RelationPreload   ReferenceRelation = "preload"
	RelationRedirect  ReferenceRelation = "redirect"
	RelationCanonical ReferenceRelation = "canonical"
)

// Reference is one directed page→page or page→media edge. Append-only.
type Reference struct {
	ID         int64             `json:"id"`
	RawPageID  int64             `json:"raw_page_id"`
	TargetID   int64             `json:"target_id"`
	TargetType ReferenceTarget   `json:"target_type"`
	SourceTag  string            `json:"source_tag"`
	SourceAttr string            `json:"source_attr"`
	Relation   ReferenceRelation `json:"relation"`
}

// SiteParams holds per-host allow/deny crawl rules.
type SiteParams struct {
	Entry    string   `mapstructure:"entry"`
	Priority string   `mapstructure:"priority"`
	Allow    []string `mapstructure:"allow"`
	Deny     []string `mapstructure:"deny"`
}

// ConfineParams bounds how much and how fast a task may crawl.
type ConfineParams struct {
	MaxURLs  int `mapstructure:"max_urls"`
	DelayMs  int `mapstructure:"delay_ms"`
	JitterMs int `mapstructure:"jitter_ms"`
}

// ClientParams configures the outbound HTTP behavior.
type ClientParams struct {
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	UserAgents     []string `mapstructure:"user_agents"`
	Proxy          string   `mapstructure:"proxy"`
}

// RedisParams configures the fast shared counter/limiter backend.
type RedisParams struct {
	Enabled              bool   `mapstructure:"enabled"`
	Addr                 string `mapstructure:"addr"`
	HostKeyPrefix        string `mapstructure:"host_key_prefix"`
	TaskCountPrefix      string `mapstructure:"task_count_prefix"`
	MaxConcurrentPerHost int    `mapstructure:"max_concurrent_per_host"`
	SlotTTLSeconds       int    `mapstructure:"slot_ttl_seconds"`
}

// QueueNames routes the three pipeline stages to distinct queues so media
// backpressure cannot starve page crawling.
type QueueNames struct {
	Crawl string `mapstructure:"crawl"`
	Parse string `mapstructure:"parse"`
	Media string `mapstructure:"media"`
}

// Params is the per-host parameter bundle threaded through every job
// context. It is built once at crawl start from configuration.
type Params struct {
	Site    SiteParams    `mapstructure:"site"`
	Confine ConfineParams `mapstructure:"confine"`
	Client  ClientParams  `mapstructure:"client"`
	Redis   RedisParams   `mapstructure:"redis"`
	Queues  QueueNames    `mapstructure:"queues"`
}

// PageContext identifies one URL's position in the crawl. A context with
// an empty FromURL is the task's entry URL and bypasses eligibility checks.
type PageContext struct {
	TaskID    string `json:"task_id"`
	Host      string `json:"host"`
	Params    Params `json:"params"`
	URL       string `json:"url"`
	FromURL   string `json:"from_url,omitempty"`
	RawPageID int64  `json:"raw_page_id,omitempty"`
}

// IsEntry reports whether this context is the task's entry URL.
func (c PageContext) IsEntry() bool {
	return c.FromURL == ""
}

// MediaContext scopes one media download to its discovering parsed page.
type MediaContext struct {
	TaskID       string `json:"task_id"`
	Host         string `json:"host"`
	Params       Params `json:"params"`
	ParsedPageID int64  `json:"parsed_page_id"`
	PageURL      string `json:"page_url"`
	MediaURL     string `json:"media_url"`
}

// FetchRequest carries per-request client options to a Fetcher.
type FetchRequest struct {
	Headers http.Header
	Timeout time.Duration
	Proxy   string
}

// FetchContentKind classifies a response body from its headers only.
type FetchContentKind string

// Content kinds a fetch can report.
const (
	ContentHTML   FetchContentKind = "html"
	ContentStream FetchContentKind = "stream"
)

// FetchResult is what a Fetcher returns for one URL.
type FetchResult struct {
	StatusCode  int
	ContentKind FetchContentKind
	ContentType string
	Headers     http.Header
	Body        []byte
	BodyHash    string
}

// ParseResult is the structured output of one parse attempt. Links and
// MediaURLs are raw, unresolved strings; resolution happens in the link
// extractor.
type ParseResult struct {
	Title     string
	BodyHTML  string
	Links     []string
	MediaURLs []string
	Meta      map[string]string
}

// StoredMedia describes the outcome of one media download.
type StoredMedia struct {
	Path        string
	Bytes       int64
	Hash        string
	HTTPStatus  int
	ContentType string
	Extension   string
	Skipped     bool
	SkipReason  string
}

// TaskEvent is the completion notification published when a task reaches
// a terminal status.
type TaskEvent struct {
	TaskID     string     `json:"task_id"`
	Host       string     `json:"host"`
	Status     TaskStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
