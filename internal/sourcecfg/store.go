package sourcecfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/signalhouse/ingest-cli/internal/db"
	"github.com/signalhouse/ingest-cli/internal/pool"
	"github.com/signalhouse/ingest-cli/internal/tenant"
)

// Store persists channels and source items in both scopes. The shared scope
// is a fixed schema, the tenant scope is resolved from the context binding.
type Store struct {
	pool db.Pool
}

// NewStore creates a sourcecfg Store.
func NewStore(p db.Pool) *Store {
	return &Store{pool: p}
}

const channelColumns = `key, display_name, kind, provider, credential_ref, params, param_schema, extends, enabled`
const itemColumns = `key, display_name, channel_key, params, tags, schedule, extends, enabled`

func (s *Store) tableFor(ctx context.Context, scope pool.Scope, name string) (string, error) {
	switch scope {
	case pool.ScopeShared:
		return `"shared".` + name, nil
	case pool.ScopeTenant:
		schema, err := tenant.PartitionFromContext(ctx)
		if err != nil {
			return "", err
		}
		return pgx.Identifier{schema}.Sanitize() + "." + name, nil
	default:
		return "", eris.Errorf("sourcecfg: unknown scope %q", scope)
	}
}

// UpsertChannel writes a channel definition into the given scope.
func (s *Store) UpsertChannel(ctx context.Context, scope pool.Scope, ch Channel) error {
	table, err := s.tableFor(ctx, scope, "channels")
	if err != nil {
		return err
	}
	paramsJSON, err := json.Marshal(ch.Params)
	if err != nil {
		return eris.Wrap(err, "sourcecfg: marshal channel params")
	}
	var schema any
	if len(ch.ParamSchema) > 0 {
		schema = []byte(ch.ParamSchema)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO UPDATE SET
			display_name = $2, kind = $3, provider = $4, credential_ref = $5,
			params = $6, param_schema = $7, extends = $8, enabled = $9`,
		table, channelColumns)
	_, err = s.pool.Exec(ctx, query,
		ch.Key, ch.DisplayName, ch.Kind, ch.Provider, ch.CredentialRef,
		paramsJSON, schema, ch.Extends, ch.Enabled)
	return eris.Wrap(err, "sourcecfg: upsert channel")
}

// GetChannel fetches one channel from one scope, nil when absent.
func (s *Store) GetChannel(ctx context.Context, scope pool.Scope, key string) (*Channel, error) {
	table, err := s.tableFor(ctx, scope, "channels")
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE key = $1`, channelColumns, table), key)
	ch, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sourcecfg: get channel")
	}
	return ch, nil
}

// ListChannels returns all channels in one scope ordered by key.
func (s *Store) ListChannels(ctx context.Context, scope pool.Scope) ([]Channel, error) {
	table, err := s.tableFor(ctx, scope, "channels")
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY key`, channelColumns, table))
	if err != nil {
		return nil, eris.Wrap(err, "sourcecfg: list channels")
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sourcecfg: scan channel")
		}
		out = append(out, *ch)
	}
	return out, eris.Wrap(rows.Err(), "sourcecfg: list channels")
}

// DeleteChannel removes a channel from one scope.
func (s *Store) DeleteChannel(ctx context.Context, scope pool.Scope, key string) error {
	table, err := s.tableFor(ctx, scope, "channels")
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, table), key)
	if err != nil {
		return eris.Wrap(err, "sourcecfg: delete channel")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConfigNotFound, "channel %q", key)
	}
	return nil
}

// UpsertItem writes a source item into the given scope.
func (s *Store) UpsertItem(ctx context.Context, scope pool.Scope, it SourceItem) error {
	table, err := s.tableFor(ctx, scope, "source_items")
	if err != nil {
		return err
	}
	paramsJSON, err := json.Marshal(it.Params)
	if err != nil {
		return eris.Wrap(err, "sourcecfg: marshal item params")
	}
	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			display_name = $2, channel_key = $3, params = $4, tags = $5,
			schedule = $6, extends = $7, enabled = $8`,
		table, itemColumns)
	_, err = s.pool.Exec(ctx, query,
		it.Key, it.DisplayName, it.ChannelKey, paramsJSON, tags,
		it.Schedule, it.Extends, it.Enabled)
	return eris.Wrap(err, "sourcecfg: upsert item")
}

// GetItem fetches one source item from one scope, nil when absent.
func (s *Store) GetItem(ctx context.Context, scope pool.Scope, key string) (*SourceItem, error) {
	table, err := s.tableFor(ctx, scope, "source_items")
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE key = $1`, itemColumns, table), key)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sourcecfg: get item")
	}
	return it, nil
}

// ListItems returns all source items in one scope ordered by key.
func (s *Store) ListItems(ctx context.Context, scope pool.Scope) ([]SourceItem, error) {
	table, err := s.tableFor(ctx, scope, "source_items")
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY key`, itemColumns, table))
	if err != nil {
		return nil, eris.Wrap(err, "sourcecfg: list items")
	}
	defer rows.Close()

	var out []SourceItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sourcecfg: scan item")
		}
		out = append(out, *it)
	}
	return out, eris.Wrap(rows.Err(), "sourcecfg: list items")
}

// DeleteItem removes a source item from one scope.
func (s *Store) DeleteItem(ctx context.Context, scope pool.Scope, key string) error {
	table, err := s.tableFor(ctx, scope, "source_items")
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, table), key)
	if err != nil {
		return eris.Wrap(err, "sourcecfg: delete item")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrConfigNotFound, "source item %q", key)
	}
	return nil
}

// LookupChannel resolves one key across scopes: a tenant row overlays the
// shared row of the same key field by field. With no tenant binding only the
// shared scope is consulted.
func (s *Store) LookupChannel(ctx context.Context, key string) (*Channel, error) {
	shared, err := s.GetChannel(ctx, pool.ScopeShared, key)
	if err != nil {
		return nil, err
	}
	if tenant.FromContext(ctx) == nil {
		return shared, nil
	}
	local, err := s.GetChannel(ctx, pool.ScopeTenant, key)
	if err != nil {
		return nil, err
	}
	switch {
	case local == nil:
		return shared, nil
	case shared == nil:
		return local, nil
	default:
		merged := mergeChannel(*shared, *local)
		return &merged, nil
	}
}

// LookupItem is LookupChannel for source items.
func (s *Store) LookupItem(ctx context.Context, key string) (*SourceItem, error) {
	shared, err := s.GetItem(ctx, pool.ScopeShared, key)
	if err != nil {
		return nil, err
	}
	if tenant.FromContext(ctx) == nil {
		return shared, nil
	}
	local, err := s.GetItem(ctx, pool.ScopeTenant, key)
	if err != nil {
		return nil, err
	}
	switch {
	case local == nil:
		return shared, nil
	case shared == nil:
		return local, nil
	default:
		merged := mergeItem(*shared, *local)
		return &merged, nil
	}
}

func scanChannel(row pgx.Row) (*Channel, error) {
	var ch Channel
	var paramsJSON []byte
	var schemaJSON []byte
	if err := row.Scan(&ch.Key, &ch.DisplayName, &ch.Kind, &ch.Provider,
		&ch.CredentialRef, &paramsJSON, &schemaJSON, &ch.Extends, &ch.Enabled); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(paramsJSON, &ch.Params); err != nil {
		return nil, eris.Wrap(err, "sourcecfg: unmarshal channel params")
	}
	if len(schemaJSON) > 0 {
		ch.ParamSchema = json.RawMessage(schemaJSON)
	}
	return &ch, nil
}

func scanItem(row pgx.Row) (*SourceItem, error) {
	var it SourceItem
	var paramsJSON []byte
	if err := row.Scan(&it.Key, &it.DisplayName, &it.ChannelKey, &paramsJSON,
		&it.Tags, &it.Schedule, &it.Extends, &it.Enabled); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(paramsJSON, &it.Params); err != nil {
		return nil, eris.Wrap(err, "sourcecfg: unmarshal item params")
	}
	return &it, nil
}
