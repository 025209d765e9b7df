package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/signalhouse/ingest-cli/internal/db"
	"github.com/signalhouse/ingest-cli/internal/tenant"
)

// Store is the resource pool backed by one shared table plus one table per
// project partition. Writes target exactly one physical table, and the
// tenant table is only reachable through the caller's context binding, so a
// write can never land in a foreign partition.
type Store struct {
	pool    db.Pool
	capture *CaptureStore
}

// NewStore creates a pool Store.
func NewStore(pool db.Pool, capture *CaptureStore) *Store {
	return &Store{pool: pool, capture: capture}
}

const entryColumns = `id, url, domain, entry_type, url_template, display_name,
	capabilities, source, source_ref, tags, enabled, extra, created_at`

// tableFor returns the schema-qualified pool table for a scope. Tenant scope
// requires a context binding.
func (s *Store) tableFor(ctx context.Context, scope Scope) (string, error) {
	switch scope {
	case ScopeShared:
		return `"shared".resource_pool`, nil
	case ScopeTenant:
		schema, err := tenant.PartitionFromContext(ctx)
		if err != nil {
			return "", err
		}
		return pgx.Identifier{schema}.Sanitize() + ".resource_pool", nil
	default:
		return "", eris.Errorf("pool: unknown scope %q", scope)
	}
}

// rawTableFor is tableFor without identifier quoting, for the bulk helper.
func (s *Store) rawTableFor(ctx context.Context, scope Scope) (string, error) {
	if scope == ScopeShared {
		return "shared.resource_pool", nil
	}
	schema, err := tenant.PartitionFromContext(ctx)
	if err != nil {
		return "", err
	}
	return schema + ".resource_pool", nil
}

// AppendIfCaptureEnabled inserts auto-discovered entries, gated by the
// project's capture config. Existing URLs are left untouched: the insert is
// ON CONFLICT DO NOTHING, so a concurrent or repeated append of the same URL
// is absorbed as "already exists" and manually curated entries are never
// overwritten by discovery.
func (s *Store) AppendIfCaptureEnabled(ctx context.Context, scope Scope, jobType string, entries []Entry) (AppendOutcome, error) {
	captureKey := DefaultScopeKey
	if scope == ScopeTenant {
		p := tenant.FromContext(ctx)
		if p == nil {
			return AppendOutcome{}, tenant.ErrTenantRequired
		}
		captureKey = p.Key
	}

	cfg, err := s.capture.Get(ctx, captureKey)
	if err != nil {
		return AppendOutcome{}, err
	}
	if !cfg.Allows(jobType) {
		reason := "capture disabled"
		if cfg != nil && cfg.Enabled {
			reason = fmt.Sprintf("job type %q not allowed", jobType)
		}
		return AppendOutcome{CaptureDisabled: true, Reason: reason}, nil
	}

	if len(entries) == 0 {
		return AppendOutcome{}, nil
	}

	table, err := s.rawTableFor(ctx, scope)
	if err != nil {
		return AppendOutcome{}, err
	}

	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		row, err := entryRow(e, SourceDiscovered)
		if err != nil {
			return AppendOutcome{}, err
		}
		rows = append(rows, row)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        table,
		Columns:      insertColumns(),
		ConflictKeys: []string{"url"},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return AppendOutcome{}, eris.Wrap(err, "pool: append entries")
	}

	return AppendOutcome{Written: n}, nil
}

// UpsertManual writes an administratively curated entry. It is always
// allowed and wins over auto-discovered rows on URL collision.
func (s *Store) UpsertManual(ctx context.Context, scope Scope, e Entry) error {
	table, err := s.tableFor(ctx, scope)
	if err != nil {
		return err
	}

	row, err := entryRow(e, SourceManual)
	if err != nil {
		return err
	}
	row[9] = e.Enabled

	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (url, domain, entry_type, url_template, display_name, capabilities, source, source_ref, tags, enabled, extra)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (url) DO UPDATE SET
			domain = $2, entry_type = $3, url_template = $4, display_name = $5,
			capabilities = $6, source = $7, tags = $9, enabled = $10, extra = $11`,
		table),
		row...,
	)
	return eris.Wrapf(err, "pool: upsert manual entry %s", e.URL)
}

// SetEnabled flips an entry's enabled flag. Entries are never hard-deleted
// in normal operation.
func (s *Store) SetEnabled(ctx context.Context, scope Scope, url string, enabled bool) error {
	table, err := s.tableFor(ctx, scope)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET enabled = $2 WHERE url = $1`, table),
		url, enabled,
	)
	if err != nil {
		return eris.Wrapf(err, "pool: set enabled %s", url)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pool: entry not found: %s", url)
	}
	return nil
}

// ListEffective merges shared and tenant-scoped entries, tenant entries
// shadowing shared ones on equal URL, newest first.
func (s *Store) ListEffective(ctx context.Context, filter Filter, page Page) ([]Entry, error) {
	tenantTable, err := s.tableFor(ctx, ScopeTenant)
	if err != nil {
		return nil, err
	}

	var conditions []string
	var args []any
	argIdx := 1

	addCond := func(expr string, val any) {
		conditions = append(conditions, fmt.Sprintf(expr, argIdx))
		args = append(args, val)
		argIdx++
	}

	if filter.EntryType != "" {
		addCond("entry_type = $%d", filter.EntryType)
	}
	if filter.Domain != "" {
		addCond("domain = $%d", filter.Domain)
	}
	if filter.Tag != "" {
		addCond("$%d = ANY(tags)", filter.Tag)
	}
	if filter.Enabled != nil {
		addCond("enabled = $%d", *filter.Enabled)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM (
			SELECT DISTINCT ON (url) %s FROM (
				SELECT 0 AS prio, t.* FROM %s t
				UNION ALL
				SELECT 1 AS prio, sh.* FROM "shared".resource_pool sh
			) merged
			ORDER BY url, prio
		) eff
		%s
		ORDER BY id DESC
		LIMIT $%d OFFSET $%d`,
		entryColumns, entryColumns, tenantTable, where, argIdx, argIdx+1,
	)
	args = append(args, limit, page.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "pool: list effective")
	}
	defer rows.Close()

	return scanEntries(rows)
}

// KnownURLs returns which of the given URLs already exist in the effective
// pool (tenant or shared scope) for the bound project.
func (s *Store) KnownURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	if len(urls) == 0 {
		return map[string]struct{}{}, nil
	}

	tenantTable, err := s.tableFor(ctx, ScopeTenant)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT url FROM %s WHERE url = ANY($1)
		UNION
		SELECT url FROM "shared".resource_pool WHERE url = ANY($1)`,
		tenantTable,
	)

	rows, err := s.pool.Query(ctx, query, urls)
	if err != nil {
		return nil, eris.Wrap(err, "pool: known urls")
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "pool: scan known url")
		}
		known[u] = struct{}{}
	}
	return known, rows.Err()
}

func insertColumns() []string {
	return []string{
		"url", "domain", "entry_type", "url_template", "display_name",
		"capabilities", "source", "source_ref", "tags", "enabled", "extra",
	}
}

// entryRow serializes an Entry into insert column order, forcing the
// provenance source for the write path in use.
func entryRow(e Entry, source string) ([]any, error) {
	capsJSON, err := json.Marshal(e.Capabilities)
	if err != nil {
		return nil, eris.Wrap(err, "pool: marshal capabilities")
	}
	refJSON, err := json.Marshal(e.SourceRef)
	if err != nil {
		return nil, eris.Wrap(err, "pool: marshal source ref")
	}
	extra := e.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return nil, eris.Wrap(err, "pool: marshal extra")
	}

	entryType := e.EntryType
	if entryType == "" {
		entryType = EntryTypeSite
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}

	return []any{
		e.URL, e.Domain, entryType, e.URLTemplate, e.DisplayName,
		capsJSON, source, refJSON, tags, true, extraJSON,
	}, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var capsJSON, refJSON, extraJSON []byte
		if err := rows.Scan(
			&e.ID, &e.URL, &e.Domain, &e.EntryType, &e.URLTemplate, &e.DisplayName,
			&capsJSON, &e.Source, &refJSON, &e.Tags, &e.Enabled, &extraJSON, &e.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "pool: scan entry")
		}
		if err := json.Unmarshal(capsJSON, &e.Capabilities); err != nil {
			return nil, eris.Wrap(err, "pool: unmarshal capabilities")
		}
		if err := json.Unmarshal(refJSON, &e.SourceRef); err != nil {
			return nil, eris.Wrap(err, "pool: unmarshal source ref")
		}
		if len(extraJSON) > 0 {
			if err := json.Unmarshal(extraJSON, &e.Extra); err != nil {
				return nil, eris.Wrap(err, "pool: unmarshal extra")
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
