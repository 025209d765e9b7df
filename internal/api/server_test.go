package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/ingest-cli/internal/discovery"
	"github.com/signalhouse/ingest-cli/internal/jobs"
	"github.com/signalhouse/ingest-cli/internal/metrics"
	"github.com/signalhouse/ingest-cli/internal/pool"
	"github.com/signalhouse/ingest-cli/internal/sourcecfg"
	"github.com/signalhouse/ingest-cli/internal/tenant"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeDirectory struct {
	projects   map[string]*tenant.Project
	defaultKey string
}

func (d *fakeDirectory) GetByKey(_ context.Context, key string) (*tenant.Project, error) {
	return d.projects[key], nil
}

func (d *fakeDirectory) GetDefault(context.Context) (*tenant.Project, error) {
	return d.projects[d.defaultKey], nil
}

type fakeRunner struct {
	req    *discovery.Request
	boundP string
	result *discovery.Result
	err    error
}

func (r *fakeRunner) Run(ctx context.Context, req discovery.Request) (*discovery.Result, error) {
	r.req = &req
	if p := tenant.FromContext(ctx); p != nil {
		r.boundP = p.Key
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

type fakePoolReader struct {
	entries []pool.Entry
	filter  pool.Filter
	page    pool.Page
}

func (p *fakePoolReader) ListEffective(_ context.Context, filter pool.Filter, page pool.Page) ([]pool.Entry, error) {
	p.filter = filter
	p.page = page
	return p.entries, nil
}

type fakeJobReader struct {
	runs []jobs.Run
}

func (j *fakeJobReader) List(context.Context, jobs.Filter) ([]jobs.Run, error) {
	return j.runs, nil
}

func (j *fakeJobReader) Get(_ context.Context, id string) (*jobs.Run, error) {
	for i := range j.runs {
		if j.runs[i].ID == id {
			return &j.runs[i], nil
		}
	}
	return nil, nil
}

type fakeSourceResolver struct {
	items map[string]*sourcecfg.ResolvedItem
}

func (f *fakeSourceResolver) ResolveItem(_ context.Context, key string) (*sourcecfg.ResolvedItem, error) {
	if res, ok := f.items[key]; ok {
		return res, nil
	}
	return nil, eris.Wrapf(sourcecfg.ErrConfigNotFound, "source item %q", key)
}

func newTestServer(t *testing.T) (*Server, *fakeRunner, *fakePoolReader, *fakeJobReader) {
	t.Helper()
	dir := &fakeDirectory{projects: map[string]*tenant.Project{
		"acme": {ID: 1, Key: "acme", SchemaName: "proj_acme", Enabled: true},
		"off":  {ID: 2, Key: "off", SchemaName: "proj_off", Enabled: false},
	}}
	runner := &fakeRunner{result: &discovery.Result{RunID: "run-1", Candidates: 3, Written: 2}}
	poolReader := &fakePoolReader{}
	jobReader := &fakeJobReader{}
	sources := &fakeSourceResolver{items: map[string]*sourcecfg.ResolvedItem{
		"acme-news": {
			SourceItem: sourcecfg.SourceItem{Key: "acme-news", ChannelKey: "web-search", Enabled: true},
			Channel:    sourcecfg.Channel{Key: "web-search", Kind: "web_discovery", Provider: "serper", Enabled: true},
			EffectiveParams: map[string]any{
				"terms": "acme press releases",
				"site":  "acme.com",
			},
		},
	}}
	s := NewServer(tenant.NewResolver(dir, true), runner, poolReader, jobReader, sources)
	return s, runner, poolReader, jobReader
}

func TestHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestDiscover_BindsProjectFromHeader(t *testing.T) {
	s, runner, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/discover",
		strings.NewReader(`{"terms":"solar news","site":"example.com","write_to_pool":true}`))
	req.Header.Set(ProjectKeyHeader, "acme")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", runner.boundP)
	require.NotNil(t, runner.req)
	assert.Equal(t, "solar news", runner.req.Query.Terms)
	assert.Equal(t, "example.com", runner.req.Query.Site)
	assert.True(t, runner.req.WriteToPool)
	assert.Equal(t, "discovery", runner.req.JobType)

	var result discovery.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "run-1", result.RunID)
	assert.EqualValues(t, 2, result.Written)
}

func TestDiscover_ProjectFromQueryParam(t *testing.T) {
	s, runner, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/discover?project_key=acme",
		strings.NewReader(`{"terms":"grid storage"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", runner.boundP)
}

func TestDiscover_MissingProject(t *testing.T) {
	s, runner, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/discover",
		strings.NewReader(`{"terms":"anything"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, runner.req)
}

func TestDiscover_UnknownProject(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/discover",
		strings.NewReader(`{"terms":"anything"}`))
	req.Header.Set(ProjectKeyHeader, "nope")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiscover_DisabledProjectRejected(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/discover",
		strings.NewReader(`{"terms":"anything"}`))
	req.Header.Set(ProjectKeyHeader, "off")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiscover_EmptyTerms(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/discover", strings.NewReader(`{}`))
	req.Header.Set(ProjectKeyHeader, "acme")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiscover_FromSourceItem(t *testing.T) {
	s, runner, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/discover",
		strings.NewReader(`{"item":"acme-news","write_to_pool":true,"ingest_limit":5}`))
	req.Header.Set(ProjectKeyHeader, "acme")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, runner.req)
	assert.Equal(t, "acme press releases", runner.req.Query.Terms)
	assert.Equal(t, "acme.com", runner.req.Query.Site)
	assert.Equal(t, "serper", runner.req.Provider)
	assert.Equal(t, "web_discovery", runner.req.JobType)
	assert.True(t, runner.req.WriteToPool)
	assert.Equal(t, 5, runner.req.IngestLimit)
	assert.Equal(t, pool.ScopeTenant, runner.req.Scope)
}

func TestDiscover_UnknownSourceItem(t *testing.T) {
	s, runner, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/discover",
		strings.NewReader(`{"item":"no-such-item"}`))
	req.Header.Set(ProjectKeyHeader, "acme")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Nil(t, runner.req)
}

func TestDiscover_DisabledSourceItem(t *testing.T) {
	s, runner, _, _ := newTestServer(t)
	s.sources.(*fakeSourceResolver).items["acme-news"].Enabled = false

	req := httptest.NewRequest(http.MethodPost, "/v1/discover",
		strings.NewReader(`{"item":"acme-news"}`))
	req.Header.Set(ProjectKeyHeader, "acme")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, runner.req)
}

func TestDiscover_AllProvidersFailed(t *testing.T) {
	s, runner, _, _ := newTestServer(t)
	runner.err = discovery.ErrAllProvidersFailed

	req := httptest.NewRequest(http.MethodPost, "/v1/discover",
		strings.NewReader(`{"terms":"anything"}`))
	req.Header.Set(ProjectKeyHeader, "acme")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestListPool(t *testing.T) {
	s, _, poolReader, _ := newTestServer(t)
	poolReader.entries = []pool.Entry{
		{URL: "https://example.com", EntryType: pool.EntryTypeSite, Enabled: true},
		{URL: "https://example.org/feed", EntryType: pool.EntryTypeRSS, Enabled: true},
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/pool?type=rss&limit=10", nil)
	req.Header.Set(ProjectKeyHeader, "acme")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pool.EntryTypeRSS, poolReader.filter.EntryType)
	assert.Equal(t, 10, poolReader.page.Limit)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestGetJob(t *testing.T) {
	s, _, _, jobReader := newTestServer(t)
	jobReader.runs = []jobs.Run{{ID: "run-7", JobType: "discovery", Status: jobs.StatusFinished}}

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/run-7", nil)
	req.Header.Set(ProjectKeyHeader, "acme")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var run jobs.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, jobs.StatusFinished, run.Status)
}

func TestGetJob_NotFound(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	req.Header.Set(ProjectKeyHeader, "acme")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
