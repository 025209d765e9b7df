package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/ingest-cli/pkg/jina"
	"github.com/signalhouse/ingest-cli/pkg/serper"
)

type stubJina struct {
	search jina.SearchResponse
	read   jina.ReadResponse
}

func (s *stubJina) Read(_ context.Context, _ string, _ ...jina.ReadOption) (*jina.ReadResponse, error) {
	return &s.read, nil
}

func (s *stubJina) Search(_ context.Context, _ string, _ ...jina.SearchOption) (*jina.SearchResponse, error) {
	return &s.search, nil
}

type stubSerper struct {
	resp serper.SearchResponse
}

func (s *stubSerper) Search(_ context.Context, _ string, _ ...serper.SearchOption) (*serper.SearchResponse, error) {
	return &s.resp, nil
}

func TestJinaProvider_SearchMapsResults(t *testing.T) {
	client := &stubJina{search: jina.SearchResponse{
		Code: 200,
		Data: []jina.SearchResult{
			{Title: "Acme", URL: "https://acme.com", Description: "corp site"},
			{Title: "Acme News", URL: "https://acme.com/news"},
		},
	}}

	hits, err := NewJinaProvider(client).Search(context.Background(), Query{Terms: "acme"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "jina", hits[0].Provider)
	assert.Equal(t, "corp site", hits[0].Snippet)
}

func TestJinaProvider_DeepSearchReadsRoot(t *testing.T) {
	client := &stubJina{read: jina.ReadResponse{
		Code: 200,
		Data: jina.ReadData{Title: "Acme", URL: "https://acme.com", Content: "# Acme"},
	}}

	deep, err := NewJinaProvider(client).DeepSearch(context.Background(),
		Query{Site: "https://acme.com"})
	require.NoError(t, err)
	assert.Equal(t, "https://acme.com", deep.Root)
	assert.Equal(t, "# Acme", deep.Content)
	require.Len(t, deep.Candidates, 1)
}

func TestSerperProvider_SearchMapsResults(t *testing.T) {
	client := &stubSerper{resp: serper.SearchResponse{
		Organic: []serper.OrganicResult{
			{Title: "Acme filing", Link: "https://sec.gov/acme", Snippet: "10-K", Position: 1},
		},
	}}

	hits, err := NewSerperProvider(client).Search(context.Background(), Query{Terms: "acme 10-K"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "serper", hits[0].Provider)
	assert.Equal(t, "https://sec.gov/acme", hits[0].URL)
}

func TestLimitCandidates(t *testing.T) {
	hits := nCandidates(5, "jina")
	assert.Len(t, limitCandidates(hits, 3), 3)
	assert.Len(t, limitCandidates(hits, 0), 5)
	assert.Len(t, limitCandidates(hits, 10), 5)
}
