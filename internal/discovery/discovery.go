// Package discovery orchestrates search providers, dedup against the
// resource pool and document store, and optional pool persistence and
// ingestion triggering.
package discovery

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/signalhouse/ingest-cli/internal/pool"
)

// ErrAllProvidersFailed is returned when every configured provider errored
// and the run produced nothing to work with. A single provider failing only
// degrades the run.
var ErrAllProvidersFailed = eris.New("discovery: all providers failed")

// Candidate is one raw discovery hit.
type Candidate struct {
	Title    string `json:"title,omitempty"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet,omitempty"`
	Provider string `json:"provider"`
}

// Query is the provider-facing search input.
type Query struct {
	Terms string
	Site  string
	Limit int
}

// Provider is a search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Candidate, error)
}

// SmartProvider additionally supports a reranked or query-expanded search.
type SmartProvider interface {
	Provider
	SmartSearch(ctx context.Context, q Query) ([]Candidate, error)
}

// DeepResult is the structured output of following one site beyond its
// landing page.
type DeepResult struct {
	Root       string      `json:"root"`
	Candidates []Candidate `json:"candidates"`
	Content    string      `json:"content,omitempty"`
}

// DeepProvider additionally supports deep crawls.
type DeepProvider interface {
	Provider
	DeepSearch(ctx context.Context, q Query) (*DeepResult, error)
}

// Request configures one pipeline run.
type Request struct {
	Query   Query
	JobType string
	Scope   pool.Scope
	// Provider restricts the run to one named provider. Empty fans out
	// over every configured provider.
	Provider    string
	Smart       bool
	WriteToPool bool
	AutoIngest  bool
	IngestLimit int
}

// Result summarizes one pipeline run. Partial success is a normal outcome:
// per-provider and per-URL failures land in Warnings and IngestFailures, not
// in the error return.
type Result struct {
	RunID           string   `json:"run_id,omitempty"`
	Candidates      int      `json:"candidates"`
	Deduped         int      `json:"deduped"`
	Written         int64    `json:"written"`
	CaptureDisabled bool     `json:"capture_disabled,omitempty"`
	IngestAttempted int      `json:"ingest_attempted"`
	IngestSucceeded int      `json:"ingest_succeeded"`
	IngestFailures  []string `json:"ingest_failures,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}
