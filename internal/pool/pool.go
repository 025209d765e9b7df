// Package pool implements the append-only, deduplicated registry of
// discovered resources, scoped either to one project's partition or to the
// shared scope visible to all projects.
package pool

import (
	"time"
)

// Scope selects which physical pool an operation targets.
type Scope string

const (
	// ScopeShared is the pool visible to every project.
	ScopeShared Scope = "shared"
	// ScopeTenant is the bound project's private pool.
	ScopeTenant Scope = "tenant"
)

// Entry types recognised by the pool.
const (
	EntryTypeSite    = "site"
	EntryTypeRSS     = "rss"
	EntryTypeSitemap = "sitemap"
)

// Provenance values for Entry.Source.
const (
	SourceManual     = "manual"
	SourceDiscovered = "discovered"
)

// Capabilities describes what a pool entry supports.
type Capabilities struct {
	Search  bool `json:"supports_search,omitempty"`
	Feed    bool `json:"supports_feed,omitempty"`
	Sitemap bool `json:"supports_sitemap,omitempty"`
}

// SourceRef records which run produced an auto-discovered entry.
type SourceRef struct {
	JobType  string `json:"job_type,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Entry is one discovered network resource. URL is unique within its scope;
// entries are disabled rather than deleted.
type Entry struct {
	ID           int64          `json:"id"`
	URL          string         `json:"url"`
	Domain       string         `json:"domain,omitempty"`
	EntryType    string         `json:"entry_type"`
	URLTemplate  string         `json:"url_template,omitempty"`
	DisplayName  string         `json:"display_name,omitempty"`
	Capabilities Capabilities   `json:"capabilities"`
	Source       string         `json:"source"`
	SourceRef    SourceRef      `json:"source_ref"`
	Tags         []string       `json:"tags,omitempty"`
	Enabled      bool           `json:"enabled"`
	Extra        map[string]any `json:"extra,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Filter narrows ListEffective results.
type Filter struct {
	EntryType string
	Domain    string
	Tag       string
	Enabled   *bool
}

// Page controls pagination for listing operations.
type Page struct {
	Limit  int
	Offset int
}

// AppendOutcome reports what an automatic append actually did. A disabled
// capture config is a recorded no-op, not an error.
type AppendOutcome struct {
	Written         int64  `json:"written"`
	CaptureDisabled bool   `json:"capture_disabled,omitempty"`
	Reason          string `json:"reason,omitempty"`
}
