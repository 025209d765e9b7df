package discovery

import (
	"context"

	"github.com/signalhouse/ingest-cli/pkg/jina"
	"github.com/signalhouse/ingest-cli/pkg/serper"
)

// JinaProvider adapts the Jina search and reader APIs. Its deep search reads
// the site root through the reader and reports the page's outbound value as
// content rather than crawling.
type JinaProvider struct {
	client jina.Client
}

// NewJinaProvider creates a JinaProvider.
func NewJinaProvider(c jina.Client) *JinaProvider {
	return &JinaProvider{client: c}
}

func (p *JinaProvider) Name() string { return "jina" }

func (p *JinaProvider) Search(ctx context.Context, q Query) ([]Candidate, error) {
	var opts []jina.SearchOption
	if q.Site != "" {
		opts = append(opts, jina.WithSiteFilter(q.Site))
	}
	resp, err := p.client.Search(ctx, q.Terms, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(resp.Data))
	for _, r := range resp.Data {
		out = append(out, Candidate{
			Title:    r.Title,
			URL:      r.URL,
			Snippet:  r.Description,
			Provider: p.Name(),
		})
	}
	return limitCandidates(out, q.Limit), nil
}

func (p *JinaProvider) DeepSearch(ctx context.Context, q Query) (*DeepResult, error) {
	root := q.Site
	if root == "" {
		root = q.Terms
	}
	resp, err := p.client.Read(ctx, root)
	if err != nil {
		return nil, err
	}
	return &DeepResult{
		Root:    resp.Data.URL,
		Content: resp.Data.Content,
		Candidates: []Candidate{{
			Title:    resp.Data.Title,
			URL:      resp.Data.URL,
			Provider: p.Name(),
		}},
	}, nil
}

// SerperProvider adapts the Serper.dev Google search API. Its smart search
// widens the result window and restricts to the query's site when one is
// set.
type SerperProvider struct {
	client serper.Client
}

// NewSerperProvider creates a SerperProvider.
func NewSerperProvider(c serper.Client) *SerperProvider {
	return &SerperProvider{client: c}
}

func (p *SerperProvider) Name() string { return "serper" }

func (p *SerperProvider) Search(ctx context.Context, q Query) ([]Candidate, error) {
	return p.search(ctx, q, 10)
}

func (p *SerperProvider) SmartSearch(ctx context.Context, q Query) ([]Candidate, error) {
	return p.search(ctx, q, 30)
}

func (p *SerperProvider) search(ctx context.Context, q Query, num int) ([]Candidate, error) {
	if q.Limit > 0 && q.Limit < num {
		num = q.Limit
	}
	opts := []serper.SearchOption{serper.WithNum(num)}
	if q.Site != "" {
		opts = append(opts, serper.WithSiteFilter(q.Site))
	}
	resp, err := p.client.Search(ctx, q.Terms, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		out = append(out, Candidate{
			Title:    r.Title,
			URL:      r.Link,
			Snippet:  r.Snippet,
			Provider: p.Name(),
		})
	}
	return limitCandidates(out, q.Limit), nil
}

func limitCandidates(in []Candidate, limit int) []Candidate {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
