package sourcecfg

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/ingest-cli/internal/pool"
	"github.com/signalhouse/ingest-cli/internal/tenant"
)

func boundCtx() context.Context {
	return tenant.Bind(context.Background(), &tenant.Project{
		Key:        "demo_proj",
		SchemaName: "proj_demo",
		Enabled:    true,
	})
}

func channelCols() []string {
	return []string{"key", "display_name", "kind", "provider", "credential_ref",
		"params", "param_schema", "extends", "enabled"}
}

func itemCols() []string {
	return []string{"key", "display_name", "channel_key", "params", "tags",
		"schedule", "extends", "enabled"}
}

func TestUpsertChannel_SharedScope(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO "shared".channels`).
		WithArgs("rss", "RSS feeds", "feed", "jina", "", []byte(`{"interval":"1h"}`),
			nil, "", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewStore(mock).UpsertChannel(context.Background(), pool.ScopeShared, Channel{
		Key:         "rss",
		DisplayName: "RSS feeds",
		Kind:        "feed",
		Provider:    "jina",
		Params:      map[string]any{"interval": "1h"},
		Enabled:     true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertItem_TenantScopeRequiresBinding(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	err = NewStore(mock).UpsertItem(context.Background(), pool.ScopeTenant, SourceItem{
		Key: "acme-news",
	})
	assert.True(t, errors.Is(err, tenant.ErrTenantRequired))
}

func TestGetChannel_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT key, display_name, kind`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(channelCols()))

	ch, err := NewStore(mock).GetChannel(context.Background(), pool.ScopeShared, "missing")
	require.NoError(t, err)
	assert.Nil(t, ch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupChannel_TenantOverlaysShared(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Shared row carries the definition, tenant row overrides one param.
	mock.ExpectQuery(`SELECT key, display_name, kind`).
		WithArgs("rss").
		WillReturnRows(pgxmock.NewRows(channelCols()).
			AddRow("rss", "RSS feeds", "feed", "jina", "",
				[]byte(`{"interval":"1h","limit":10}`), nil, "", true))
	mock.ExpectQuery(`SELECT key, display_name, kind`).
		WithArgs("rss").
		WillReturnRows(pgxmock.NewRows(channelCols()).
			AddRow("rss", "", "", "", "",
				[]byte(`{"limit":50}`), nil, "", true))

	ch, err := NewStore(mock).LookupChannel(boundCtx(), "rss")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, "RSS feeds", ch.DisplayName)
	assert.Equal(t, "jina", ch.Provider)
	assert.Equal(t, map[string]any{"interval": "1h", "limit": float64(50)}, ch.Params)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupItem_NoTenantBindingUsesSharedOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT key, display_name, channel_key`).
		WithArgs("acme-news").
		WillReturnRows(pgxmock.NewRows(itemCols()).
			AddRow("acme-news", "Acme", "rss", []byte(`{}`), []string{"news"},
				"@hourly", "", true))

	it, err := NewStore(mock).LookupItem(context.Background(), "acme-news")
	require.NoError(t, err)
	require.NotNil(t, it)
	assert.Equal(t, "rss", it.ChannelKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteItem_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM "proj_demo".source_items`).
		WithArgs("gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err = NewStore(mock).DeleteItem(boundCtx(), pool.ScopeTenant, "gone")
	assert.True(t, errors.Is(err, ErrConfigNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExport_WritesBundle(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT key, display_name, kind`).
		WillReturnRows(pgxmock.NewRows(channelCols()).
			AddRow("rss", "RSS feeds", "feed", "jina", "", []byte(`{}`), nil, "", true))
	mock.ExpectQuery(`SELECT key, display_name, channel_key`).
		WillReturnRows(pgxmock.NewRows(itemCols()).
			AddRow("acme-news", "Acme", "rss", []byte(`{}`), []string{},
				"@hourly", "", true))

	var buf bytes.Buffer
	err = NewStore(mock).Export(context.Background(), pool.ScopeShared, &buf)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "channels:")
	assert.Contains(t, out, "key: rss")
	assert.Contains(t, out, "key: acme-news")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImport_UpsertsChannelsThenItems(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO "shared".channels`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO "shared".source_items`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	doc := `
channels:
  - key: rss
    kind: feed
    enabled: true
items:
  - key: acme-news
    channel_key: rss
    enabled: true
`
	n, err := NewStore(mock).Import(context.Background(), pool.ScopeShared, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImport_RejectsEmptyKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewStore(mock).Import(context.Background(), pool.ScopeShared,
		strings.NewReader("channels:\n  - kind: feed\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty key")
}
