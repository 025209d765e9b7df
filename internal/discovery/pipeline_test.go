package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/ingest-cli/internal/docstore"
	"github.com/signalhouse/ingest-cli/internal/ingest"
	"github.com/signalhouse/ingest-cli/internal/jobs"
	"github.com/signalhouse/ingest-cli/internal/metrics"
	"github.com/signalhouse/ingest-cli/internal/pool"
	"github.com/signalhouse/ingest-cli/internal/tenant"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

func boundCtx() context.Context {
	return tenant.Bind(context.Background(), &tenant.Project{
		Key:        "demo_proj",
		SchemaName: "proj_demo",
		Enabled:    true,
	})
}

type fakeProvider struct {
	name      string
	hits      []Candidate
	err       error
	smartHits []Candidate
	smartUsed bool
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(_ context.Context, _ Query) ([]Candidate, error) {
	return f.hits, f.err
}

func (f *fakeProvider) SmartSearch(_ context.Context, _ Query) ([]Candidate, error) {
	f.smartUsed = true
	return f.smartHits, f.err
}

type fakePool struct {
	known           map[string]struct{}
	captureDisabled bool
	appended        []pool.Entry
	jobType         string
	scope           pool.Scope
}

func (f *fakePool) KnownURLs(_ context.Context, urls []string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, u := range urls {
		if _, ok := f.known[u]; ok {
			out[u] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakePool) AppendIfCaptureEnabled(_ context.Context, scope pool.Scope, jobType string, entries []pool.Entry) (pool.AppendOutcome, error) {
	if f.captureDisabled {
		return pool.AppendOutcome{CaptureDisabled: true, Reason: "capture disabled"}, nil
	}
	f.scope = scope
	f.jobType = jobType
	f.appended = append(f.appended, entries...)
	return pool.AppendOutcome{Written: int64(len(entries))}, nil
}

type fakeDocs struct {
	known map[string]bool
}

func (f *fakeDocs) Exists(_ context.Context, url string) (bool, error) {
	return f.known[url], nil
}

func (f *fakeDocs) ExistsBatch(_ context.Context, urls []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, u := range urls {
		if f.known[u] {
			out[u] = true
		}
	}
	return out, nil
}

func (f *fakeDocs) Store(_ context.Context, doc docstore.Document) (string, error) {
	return doc.URL, nil
}

type fakeIngestor struct {
	urls []string
}

func (f *fakeIngestor) Ingest(_ context.Context, urls []string) (ingest.Summary, error) {
	f.urls = urls
	return ingest.Summary{Attempted: len(urls), Succeeded: len(urls)}, nil
}

type fakeTracker struct {
	created   []string
	running   []string
	finished  []string
	failed    map[string]string
	nextID    int
	createErr error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{failed: map[string]string{}}
}

func (f *fakeTracker) Create(_ context.Context, jobType string, _ map[string]any) (*jobs.Run, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("run-%d", f.nextID)
	f.created = append(f.created, jobType)
	return &jobs.Run{ID: id, JobType: jobType, Status: jobs.StatusQueued}, nil
}

func (f *fakeTracker) MarkRunning(_ context.Context, id string) error {
	f.running = append(f.running, id)
	return nil
}

func (f *fakeTracker) MarkFinished(_ context.Context, id string) error {
	f.finished = append(f.finished, id)
	return nil
}

func (f *fakeTracker) MarkFailed(_ context.Context, id string, msg string) error {
	f.failed[id] = msg
	return nil
}

func nCandidates(n int, provider string) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{
			Title:    fmt.Sprintf("Page %d", i),
			URL:      fmt.Sprintf("https://site%d.com/page", i),
			Provider: provider,
		}
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	hits := nCandidates(10, "jina")
	pw := &fakePool{known: map[string]struct{}{
		hits[0].URL: {},
		hits[1].URL: {},
	}}
	docs := &fakeDocs{known: map[string]bool{
		hits[2].URL: true,
		hits[3].URL: true,
		hits[4].URL: true,
	}}
	ing := &fakeIngestor{}
	tracker := newFakeTracker()

	p := NewPipeline([]Provider{&fakeProvider{name: "jina", hits: hits}},
		pw, docs, ing, tracker)

	result, err := p.Run(boundCtx(), Request{
		Query:       Query{Terms: "acme"},
		JobType:     "web_discovery",
		Scope:       pool.ScopeTenant,
		WriteToPool: true,
		AutoIngest:  true,
		IngestLimit: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, result.Candidates)
	assert.Equal(t, 5, result.Deduped)
	assert.Equal(t, int64(5), result.Written)
	assert.Equal(t, 5, result.IngestAttempted)
	assert.Equal(t, 5, result.IngestSucceeded)
	assert.Empty(t, result.IngestFailures)

	assert.Equal(t, "web_discovery", pw.jobType)
	assert.Len(t, pw.appended, 5)
	for _, e := range pw.appended {
		assert.Equal(t, pool.SourceDiscovered, e.Source)
		assert.Equal(t, result.RunID, e.SourceRef.RunID)
		assert.Equal(t, "web_discovery", e.SourceRef.JobType)
	}

	assert.Equal(t, []string{result.RunID}, tracker.finished)
	assert.Empty(t, tracker.failed)
}

func TestRun_OneProviderFailingDegrades(t *testing.T) {
	good := &fakeProvider{name: "serper", hits: nCandidates(3, "serper")}
	bad := &fakeProvider{name: "jina", err: errors.New("upstream 503")}

	p := NewPipeline([]Provider{bad, good},
		&fakePool{}, &fakeDocs{}, &fakeIngestor{}, newFakeTracker())

	result, err := p.Run(boundCtx(), Request{
		Query: Query{Terms: "acme"}, JobType: "web_discovery", Scope: pool.ScopeTenant,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Candidates)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "jina")
}

func TestRun_AllProvidersFailed(t *testing.T) {
	tracker := newFakeTracker()
	p := NewPipeline([]Provider{
		&fakeProvider{name: "jina", err: errors.New("down")},
		&fakeProvider{name: "serper", err: errors.New("also down")},
	}, &fakePool{}, &fakeDocs{}, &fakeIngestor{}, tracker)

	result, err := p.Run(boundCtx(), Request{
		Query: Query{Terms: "acme"}, JobType: "web_discovery", Scope: pool.ScopeTenant,
	})
	assert.True(t, errors.Is(err, ErrAllProvidersFailed))
	assert.Len(t, result.Warnings, 2)
	assert.Len(t, tracker.failed, 1)
}

func TestRun_CaptureDisabledIsNotAnError(t *testing.T) {
	tracker := newFakeTracker()
	p := NewPipeline([]Provider{&fakeProvider{name: "jina", hits: nCandidates(4, "jina")}},
		&fakePool{captureDisabled: true}, &fakeDocs{}, &fakeIngestor{}, tracker)

	result, err := p.Run(boundCtx(), Request{
		Query: Query{Terms: "acme"}, JobType: "web_discovery",
		Scope: pool.ScopeTenant, WriteToPool: true,
	})
	require.NoError(t, err)
	assert.True(t, result.CaptureDisabled)
	assert.Equal(t, int64(0), result.Written)
	assert.Len(t, tracker.finished, 1)
}

func TestRun_TenantScopeRequiresBinding(t *testing.T) {
	p := NewPipeline(nil, &fakePool{}, &fakeDocs{}, &fakeIngestor{}, newFakeTracker())
	_, err := p.Run(context.Background(), Request{Scope: pool.ScopeTenant})
	assert.True(t, errors.Is(err, tenant.ErrTenantRequired))
}

func TestRun_SmartSearchPreferred(t *testing.T) {
	prov := &fakeProvider{name: "serper", smartHits: nCandidates(2, "serper")}
	p := NewPipeline([]Provider{prov}, &fakePool{}, &fakeDocs{}, &fakeIngestor{}, newFakeTracker())

	result, err := p.Run(boundCtx(), Request{
		Query: Query{Terms: "acme"}, JobType: "web_discovery",
		Scope: pool.ScopeTenant, Smart: true,
	})
	require.NoError(t, err)
	assert.True(t, prov.smartUsed)
	assert.Equal(t, 2, result.Candidates)
}

func TestRun_InBatchDuplicatesCollapse(t *testing.T) {
	hits := []Candidate{
		{URL: "https://acme.com/news", Provider: "jina"},
		{URL: "https://ACME.com/news/", Provider: "serper"},
		{URL: "https://acme.com/news?utm_source=x", Provider: "serper"},
	}
	pw := &fakePool{}
	p := NewPipeline([]Provider{&fakeProvider{name: "jina", hits: hits}},
		pw, &fakeDocs{}, &fakeIngestor{}, newFakeTracker())

	result, err := p.Run(boundCtx(), Request{
		Query: Query{Terms: "acme"}, JobType: "web_discovery",
		Scope: pool.ScopeTenant, WriteToPool: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Candidates)
	assert.Equal(t, 2, result.Deduped)
	require.Len(t, pw.appended, 1)
	assert.Equal(t, "https://acme.com/news", pw.appended[0].URL)
}

func TestRun_NearDuplicateQueriesCollapse(t *testing.T) {
	hits := []Candidate{
		{URL: "https://acme.com/story?tab=comments", Provider: "jina"},
		{URL: "https://acme.com/story?tab=related", Provider: "serper"},
		{URL: "https://acme.com/other", Provider: "serper"},
	}
	pw := &fakePool{}
	p := NewPipeline([]Provider{&fakeProvider{name: "jina", hits: hits}},
		pw, &fakeDocs{}, &fakeIngestor{}, newFakeTracker())

	result, err := p.Run(boundCtx(), Request{
		Query: Query{Terms: "acme"}, JobType: "web_discovery",
		Scope: pool.ScopeTenant, WriteToPool: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deduped)
	require.Len(t, pw.appended, 2)
	assert.Equal(t, "https://acme.com/story?tab=comments", pw.appended[0].URL)
}

func TestRun_ProviderFilterRestrictsFanOut(t *testing.T) {
	jina := &fakeProvider{name: "jina", hits: []Candidate{
		{URL: "https://from-jina.com/a", Provider: "jina"},
	}}
	serper := &fakeProvider{name: "serper", hits: []Candidate{
		{URL: "https://from-serper.com/a", Provider: "serper"},
	}}
	pw := &fakePool{}
	p := NewPipeline([]Provider{jina, serper}, pw, &fakeDocs{}, &fakeIngestor{}, newFakeTracker())

	result, err := p.Run(boundCtx(), Request{
		Query: Query{Terms: "acme"}, JobType: "web_discovery",
		Scope: pool.ScopeTenant, Provider: "serper", WriteToPool: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Candidates)
	require.Len(t, pw.appended, 1)
	assert.Equal(t, "https://from-serper.com/a", pw.appended[0].URL)
}

func TestRun_UnknownProviderRejected(t *testing.T) {
	tracker := newFakeTracker()
	p := NewPipeline([]Provider{&fakeProvider{name: "jina"}},
		&fakePool{}, &fakeDocs{}, &fakeIngestor{}, tracker)

	_, err := p.Run(boundCtx(), Request{
		Query: Query{Terms: "acme"}, JobType: "web_discovery",
		Scope: pool.ScopeTenant, Provider: "bing",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `provider "bing" is not configured`)
	assert.Empty(t, tracker.created)
}

func TestRun_StoresCanonicalURL(t *testing.T) {
	hits := []Candidate{
		{URL: "https://ACME.com/News/?utm_source=x&b=2&a=1", Provider: "jina"},
	}
	pw := &fakePool{}
	p := NewPipeline([]Provider{&fakeProvider{name: "jina", hits: hits}},
		pw, &fakeDocs{}, &fakeIngestor{}, newFakeTracker())

	_, err := p.Run(boundCtx(), Request{
		Query: Query{Terms: "acme"}, JobType: "web_discovery",
		Scope: pool.ScopeTenant, WriteToPool: true,
	})
	require.NoError(t, err)

	// The pool row carries the canonical form: lowercased host, tracking
	// params gone, remaining query sorted, trailing slash dropped. Later
	// runs dedup by comparing canonical URLs against this stored value.
	require.Len(t, pw.appended, 1)
	assert.Equal(t, "https://acme.com/News?a=1&b=2", pw.appended[0].URL)
	assert.Equal(t, "acme.com", pw.appended[0].Domain)
}

func TestRun_IngestLimitCapsSubmissions(t *testing.T) {
	ing := &fakeIngestor{}
	p := NewPipeline([]Provider{&fakeProvider{name: "jina", hits: nCandidates(8, "jina")}},
		&fakePool{}, &fakeDocs{}, ing, newFakeTracker())

	result, err := p.Run(boundCtx(), Request{
		Query: Query{Terms: "acme"}, JobType: "web_discovery",
		Scope: pool.ScopeTenant, AutoIngest: true, IngestLimit: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.IngestAttempted)
	assert.Len(t, ing.urls, 3)
}
