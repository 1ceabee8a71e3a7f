// Package focus defines core types shared across subsystems.
package focus

import (
	"time"
)

// RunStatus represents the lifecycle state of a query run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// SourceKind tags the polymorphic source variants. Kind is immutable once a
// source is created.
type SourceKind string

// Supported source kinds.
const (
	SourceKindWeb     SourceKind = "web"
	SourceKindDarknet SourceKind = "darknet"
	SourceKindSocial  SourceKind = "social_media"
	SourceKindSearch  SourceKind = "search_engine"
)

// KeywordLang is the language tag attached to a keyword.
type KeywordLang string

// Supported keyword language tags.
const (
	LangZH   KeywordLang = "zh"
	LangEN   KeywordLang = "en"
	LangJA   KeywordLang = "ja"
	LangAuto KeywordLang = "auto"
)

// Keyword carries the include/exclude term sets used for matching. Inactive
// keywords are skipped entirely.
type Keyword struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Lang           KeywordLang `json:"lang"`
	IncludeTerms   []string    `json:"include_terms"`
	ExcludeTerms   []string    `json:"exclude_terms"`
	Synonyms       []string    `json:"synonyms,omitempty"`
	EnableAIExpand bool        `json:"enable_ai_expand"`
	Active         bool        `json:"active"`
}

// ProxyProtocol enumerates supported egress protocols.
type ProxyProtocol string

// Supported proxy protocols.
const (
	ProxyHTTP   ProxyProtocol = "http"
	ProxyHTTPS  ProxyProtocol = "https"
	ProxySOCKS5 ProxyProtocol = "socks5"
)

// Proxy is a configured network egress. Read-only during a run.
type Proxy struct {
	ID       string        `json:"id"`
	Protocol ProxyProtocol `json:"protocol"`
	Address  string        `json:"address"`
	Region   string        `json:"region,omitempty"`
}

// URL renders the proxy as a URL usable by HTTP transports.
func (p Proxy) URL() string {
	return string(p.Protocol) + "://" + p.Address
}

// SourceConfig carries kind-specific settings. Only the fields relevant to
// the source's kind are populated.
type SourceConfig struct {
	URL           string `json:"url,omitempty"`
	Render        bool   `json:"render,omitempty"`
	MaxCandidates int    `json:"max_candidates,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
	APIKey        string `json:"api_key,omitempty"`
	Token         string `json:"token,omitempty"`
	Feed          string `json:"feed,omitempty"`
}

// Source is a configured external origin bound to a query.
type Source struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Kind    SourceKind   `json:"kind"`
	Config  SourceConfig `json:"config"`
	ProxyID string       `json:"proxy_id,omitempty"`
	Region  string       `json:"region,omitempty"`
}

// Query is the standing definition a run executes. Mutated only by the CRUD
// collaborator; the pipeline reads it.
type Query struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Enabled  bool      `json:"enabled"`
	Keywords []Keyword `json:"keywords"`
	Sources  []Source  `json:"sources"`
}

// QueryRun is the unit of execution. Status transitions are monotonic and
// progress never decreases within a run.
type QueryRun struct {
	ID         string     `json:"id"`
	QueryID    string     `json:"query_id"`
	Status     RunStatus  `json:"status"`
	Progress   int        `json:"progress"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Candidate is one raw content item produced by a source adapter, before
// sanitization and matching.
type Candidate struct {
	Title    string         `json:"title,omitempty"`
	Text     string         `json:"text"`
	URL      string         `json:"url,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ContentRecord is a sanitized candidate that matched the query's keywords.
type ContentRecord struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	QueryID      string    `json:"query_id"`
	SourceID     string    `json:"source_id"`
	Title        string    `json:"title,omitempty"`
	Text         string    `json:"text"`
	URL          string    `json:"url,omitempty"`
	MatchedTerms []string  `json:"matched_terms,omitempty"`
	CollectedAt  time.Time `json:"collected_at"`
}

// CollectionResult summarizes one collector execution.
type CollectionResult struct {
	TotalSources   int `json:"total_sources"`
	FailedSources  int `json:"failed_sources"`
	MatchedRecords int `json:"matched_records"`
}

// Job is one queue entry referencing a pending run. Attempt is maintained by
// the queue on redelivery.
type Job struct {
	RunID    string `json:"run_id"`
	QueryID  string `json:"query_id"`
	Attempt  int    `json:"attempt"`
	Enqueued int64  `json:"enqueued_at"`
}
