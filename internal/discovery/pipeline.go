package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signalhouse/ingest-cli/internal/docstore"
	"github.com/signalhouse/ingest-cli/internal/ingest"
	"github.com/signalhouse/ingest-cli/internal/jobs"
	"github.com/signalhouse/ingest-cli/internal/metrics"
	"github.com/signalhouse/ingest-cli/internal/pool"
	"github.com/signalhouse/ingest-cli/internal/resilience"
	"github.com/signalhouse/ingest-cli/internal/tenant"
	"github.com/signalhouse/ingest-cli/internal/urlnorm"
)

// PoolWriter is the resource pool surface the pipeline needs.
type PoolWriter interface {
	KnownURLs(ctx context.Context, urls []string) (map[string]struct{}, error)
	AppendIfCaptureEnabled(ctx context.Context, scope pool.Scope, jobType string, entries []pool.Entry) (pool.AppendOutcome, error)
}

// RunTracker records the pipeline's job lifecycle. jobs.Tracker satisfies it.
type RunTracker interface {
	Create(ctx context.Context, jobType string, params map[string]any) (*jobs.Run, error)
	MarkRunning(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// Pipeline coordinates providers, dedup, pool writes and ingestion for one
// tenant-bound discovery run.
type Pipeline struct {
	providers   []Provider
	pool        PoolWriter
	docs        docstore.Docs
	ingestor    ingest.Ingestor
	tracker     RunTracker
	limiter     *rate.Limiter
	callTimeout time.Duration
	retry       resilience.RetryConfig
	breakers    *resilience.ServiceBreakers
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRateLimit caps provider calls per second.
func WithRateLimit(perSecond float64) Option {
	return func(p *Pipeline) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithCallTimeout bounds each individual provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.callTimeout = d
		}
	}
}

// WithRetry overrides the retry policy for transient provider failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Pipeline) {
		p.retry = cfg
	}
}

// WithBreakerConfig overrides the per-provider circuit breaker settings.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(p *Pipeline) {
		p.breakers = resilience.NewServiceBreakers(cfg)
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(providers []Provider, pw PoolWriter, docs docstore.Docs,
	ing ingest.Ingestor, tracker RunTracker, opts ...Option) *Pipeline {
	p := &Pipeline{
		providers:   providers,
		pool:        pw,
		docs:        docs,
		ingestor:    ing,
		tracker:     tracker,
		limiter:     rate.NewLimiter(rate.Limit(5), 1),
		callTimeout: 30 * time.Second,
		retry:       resilience.DefaultRetryConfig(),
		breakers:    resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one discovery run for the bound tenant. Provider failures
// degrade the run and are recorded as warnings; only a run where every
// provider fails, or where the tenant binding or a storage write is broken,
// returns an error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Scope == pool.ScopeTenant {
		if tenant.FromContext(ctx) == nil {
			return nil, tenant.ErrTenantRequired
		}
	}
	providers := p.providersFor(req)
	if len(providers) == 0 && req.Provider != "" {
		return nil, eris.Errorf("discovery: provider %q is not configured", req.Provider)
	}

	run, err := p.tracker.Create(ctx, req.JobType, map[string]any{
		"terms": req.Query.Terms,
		"site":  req.Query.Site,
	})
	if err != nil {
		return nil, err
	}
	if err := p.tracker.MarkRunning(ctx, run.ID); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("run_id", run.ID), zap.String("job_type", req.JobType))
	result := &Result{RunID: run.ID}

	candidates, warnings := p.collect(ctx, providers, req, log)
	result.Warnings = warnings
	result.Candidates = len(candidates)
	if len(candidates) == 0 && len(warnings) >= len(providers) && len(providers) > 0 {
		reason := "all providers failed"
		if err := p.tracker.MarkFailed(ctx, run.ID, reason); err != nil {
			log.Warn("mark failed", zap.Error(err))
		}
		metrics.ObserveJobRun(req.JobType, string(jobs.StatusFailed))
		return result, ErrAllProvidersFailed
	}

	survivors, dropped, err := p.dedup(ctx, candidates)
	if err != nil {
		p.failRun(ctx, run.ID, req.JobType, err, log)
		return result, err
	}
	result.Deduped = dropped

	if req.WriteToPool && len(survivors) > 0 {
		outcome, err := p.pool.AppendIfCaptureEnabled(ctx, req.Scope, req.JobType,
			p.entries(run.ID, req.JobType, survivors))
		if err != nil {
			p.failRun(ctx, run.ID, req.JobType, err, log)
			return result, err
		}
		result.Written = outcome.Written
		result.CaptureDisabled = outcome.CaptureDisabled
		metrics.ObservePoolWrites(poolWriteLabel(ctx, req.Scope), string(pool.SourceDiscovered), outcome.Written)
		if outcome.CaptureDisabled {
			result.Warnings = append(result.Warnings, "capture disabled: "+outcome.Reason)
		}
	}

	if req.AutoIngest && len(survivors) > 0 {
		limit := req.IngestLimit
		if limit <= 0 || limit > len(survivors) {
			limit = len(survivors)
		}
		urls := make([]string, 0, limit)
		for _, c := range survivors[:limit] {
			urls = append(urls, c.URL)
		}
		sum, err := p.ingestor.Ingest(ctx, urls)
		if err != nil {
			p.failRun(ctx, run.ID, req.JobType, err, log)
			return result, err
		}
		result.IngestAttempted = sum.Attempted
		result.IngestSucceeded = sum.Succeeded
		result.IngestFailures = sum.Failures
	}

	if err := p.tracker.MarkFinished(ctx, run.ID); err != nil {
		log.Warn("mark finished", zap.Error(err))
	}
	metrics.ObserveJobRun(req.JobType, string(jobs.StatusFinished))

	log.Info("discovery run complete",
		zap.Int("candidates", result.Candidates),
		zap.Int("deduped", result.Deduped),
		zap.Int64("written", result.Written),
		zap.Int("ingest_attempted", result.IngestAttempted),
	)
	return result, nil
}

// collect fans out over the providers, one rate-limited, timeout-bounded
// call each. A failing provider contributes zero candidates and a warning.
// Transient failures are retried; a provider whose breaker has opened is
// skipped without being called.
func (p *Pipeline) collect(ctx context.Context, providers []Provider, req Request, log *zap.Logger) ([]Candidate, []string) {
	var out []Candidate
	var warnings []string
	for _, prov := range providers {
		if err := p.limiter.Wait(ctx); err != nil {
			warnings = append(warnings, prov.Name()+": "+err.Error())
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
		hits, err := p.searchGuarded(cctx, prov, req)
		cancel()
		if err != nil {
			log.Warn("provider failed", zap.String("provider", prov.Name()), zap.Error(err))
			metrics.ObserveProviderCall(prov.Name(), "error")
			warnings = append(warnings, prov.Name()+": "+err.Error())
			continue
		}
		metrics.ObserveProviderCall(prov.Name(), "ok")
		metrics.ObserveCandidates(prov.Name(), len(hits))
		out = append(out, hits...)
	}
	return out, warnings
}

// providersFor narrows the fan-out when the request names one provider.
func (p *Pipeline) providersFor(req Request) []Provider {
	if req.Provider == "" {
		return p.providers
	}
	var out []Provider
	for _, prov := range p.providers {
		if prov.Name() == req.Provider {
			out = append(out, prov)
		}
	}
	return out
}

func (p *Pipeline) searchGuarded(ctx context.Context, prov Provider, req Request) ([]Candidate, error) {
	breaker := p.breakers.Get(prov.Name())
	return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) ([]Candidate, error) {
		var hits []Candidate
		err := resilience.Do(ctx, p.retry, func(ctx context.Context) error {
			var searchErr error
			hits, searchErr = p.searchOne(ctx, prov, req)
			return searchErr
		})
		return hits, err
	})
}

func (p *Pipeline) searchOne(ctx context.Context, prov Provider, req Request) ([]Candidate, error) {
	if req.Smart {
		if sp, ok := prov.(SmartProvider); ok {
			return sp.SmartSearch(ctx, req.Query)
		}
	}
	return prov.Search(ctx, req.Query)
}

// dedup canonicalizes candidate URLs and drops everything already present in
// the pool or the document store. Returns the survivors and the drop count.
func (p *Pipeline) dedup(ctx context.Context, candidates []Candidate) ([]Candidate, int, error) {
	seen := make(map[string]bool, len(candidates))
	seenPages := make(map[string]bool, len(candidates))
	var batch []Candidate
	dropped := 0
	for _, c := range candidates {
		canon, err := urlnorm.Canonical(c.URL)
		if err != nil {
			dropped++
			continue
		}
		if seen[canon] {
			dropped++
			continue
		}
		// Near-duplicate: same page reached with a different query string.
		if key := urlnorm.PageKey(canon); key != "" {
			if seenPages[key] {
				dropped++
				continue
			}
			seenPages[key] = true
		}
		seen[canon] = true
		c.URL = canon
		batch = append(batch, c)
	}
	if len(batch) == 0 {
		return nil, dropped, nil
	}

	urls := make([]string, len(batch))
	for i, c := range batch {
		urls[i] = c.URL
	}
	inPool, err := p.pool.KnownURLs(ctx, urls)
	if err != nil {
		return nil, 0, err
	}
	inDocs, err := p.docs.ExistsBatch(ctx, urls)
	if err != nil {
		return nil, 0, err
	}

	var survivors []Candidate
	poolDropped, docDropped := 0, 0
	for _, c := range batch {
		if _, ok := inPool[c.URL]; ok {
			poolDropped++
			continue
		}
		if inDocs[c.URL] {
			docDropped++
			continue
		}
		survivors = append(survivors, c)
	}
	metrics.ObserveDeduped("pool", poolDropped)
	metrics.ObserveDeduped("document", docDropped)
	return survivors, dropped + poolDropped + docDropped, nil
}

func (p *Pipeline) entries(runID, jobType string, survivors []Candidate) []pool.Entry {
	entries := make([]pool.Entry, len(survivors))
	for i, c := range survivors {
		entries[i] = pool.Entry{
			URL:         c.URL,
			Domain:      urlnorm.Domain(c.URL),
			EntryType:   pool.EntryTypeSite,
			DisplayName: c.Title,
			Source:      pool.SourceDiscovered,
			SourceRef:   pool.SourceRef{JobType: jobType, RunID: runID, Provider: c.Provider},
			Enabled:     true,
		}
	}
	return entries
}

// poolWriteLabel is the project label on pool-write metrics: the bound
// project for tenant writes, "shared" otherwise.
func poolWriteLabel(ctx context.Context, scope pool.Scope) string {
	if scope == pool.ScopeTenant {
		if p := tenant.FromContext(ctx); p != nil {
			return p.Key
		}
	}
	return "shared"
}

func (p *Pipeline) failRun(ctx context.Context, id, jobType string, cause error, log *zap.Logger) {
	if err := p.tracker.MarkFailed(ctx, id, cause.Error()); err != nil {
		log.Warn("mark failed", zap.Error(err))
	}
	metrics.ObserveJobRun(jobType, string(jobs.StatusFailed))
}
