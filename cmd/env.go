package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/signalhouse/ingest-cli/internal/db"
	"github.com/signalhouse/ingest-cli/internal/discovery"
	"github.com/signalhouse/ingest-cli/internal/docstore"
	"github.com/signalhouse/ingest-cli/internal/ingest"
	"github.com/signalhouse/ingest-cli/internal/jobs"
	"github.com/signalhouse/ingest-cli/internal/pool"
	"github.com/signalhouse/ingest-cli/internal/resilience"
	"github.com/signalhouse/ingest-cli/internal/sourcecfg"
	"github.com/signalhouse/ingest-cli/internal/tenant"
	"github.com/signalhouse/ingest-cli/pkg/jina"
	"github.com/signalhouse/ingest-cli/pkg/serper"
)

// env bundles the wired stores and services every command builds on.
type env struct {
	db       *pgxpool.Pool
	projects *tenant.Store
	resolver *tenant.Resolver
	pool     *pool.Store
	capture  *pool.CaptureStore
	jobs     *jobs.Tracker
	sources  *sourcecfg.Store
	docs     *docstore.Store
	cursors  *tenant.CursorStore
}

func initEnv(ctx context.Context) (*env, error) {
	dbpool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "connect database")
	}

	projects := tenant.NewStore(dbpool)
	if err := projects.Migrate(ctx); err != nil {
		dbpool.Close()
		return nil, err
	}

	capture := pool.NewCaptureStore(dbpool)
	if err := capture.Migrate(ctx); err != nil {
		dbpool.Close()
		return nil, err
	}
	return &env{
		db:       dbpool,
		projects: projects,
		resolver: tenant.NewResolver(projects, cfg.Tenant.Strict),
		pool:     pool.NewStore(dbpool, capture),
		capture:  capture,
		jobs:     jobs.NewTracker(dbpool),
		sources:  sourcecfg.NewStore(dbpool),
		docs:     docstore.NewStore(dbpool),
		cursors:  tenant.NewCursorStore(dbpool),
	}, nil
}

func (e *env) Close() {
	e.db.Close()
}

// bindProject resolves a project key and returns a context bound to its
// partition. An empty key falls back to the default project unless strict
// mode is on.
func (e *env) bindProject(ctx context.Context, key string) (context.Context, error) {
	p, err := e.resolver.Resolve(ctx, key, "", "")
	if err != nil {
		return nil, err
	}
	return tenant.Bind(ctx, p), nil
}

func (e *env) newReader() jina.Client {
	var opts []jina.Option
	if cfg.Jina.BaseURL != "" {
		opts = append(opts, jina.WithBaseURL(cfg.Jina.BaseURL))
	}
	if cfg.Jina.SearchBaseURL != "" {
		opts = append(opts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	return jina.NewClient(cfg.Jina.Key, opts...)
}

func (e *env) newProviders() []discovery.Provider {
	var providers []discovery.Provider
	if cfg.Jina.Key != "" {
		providers = append(providers, discovery.NewJinaProvider(e.newReader()))
	}
	if cfg.Serper.Key != "" {
		var opts []serper.Option
		if cfg.Serper.BaseURL != "" {
			opts = append(opts, serper.WithBaseURL(cfg.Serper.BaseURL))
		}
		providers = append(providers, discovery.NewSerperProvider(
			serper.NewClient(cfg.Serper.Key, opts...)))
	}
	return providers
}

func (e *env) newIngestor(force bool) ingest.Ingestor {
	opts := []ingest.Option{
		ingest.WithConcurrency(cfg.Ingest.Concurrency),
		ingest.WithTimeout(time.Duration(cfg.Ingest.FetchTimeoutSecs) * time.Second),
	}
	if force {
		opts = append(opts, ingest.WithForceRefresh())
	}
	return ingest.NewFetcher(e.newReader(), e.docs, opts...)
}

func (e *env) newPipeline() *discovery.Pipeline {
	return discovery.NewPipeline(
		e.newProviders(), e.pool, e.docs, e.newIngestor(false), e.jobs,
		discovery.WithRateLimit(cfg.Discovery.ProviderRateLimit),
		discovery.WithCallTimeout(time.Duration(cfg.Discovery.CallTimeoutSecs)*time.Second),
		discovery.WithRetry(resilience.FromRetryConfig(
			cfg.Discovery.RetryMaxAttempts, cfg.Discovery.RetryBackoffMs, 0, 0, -1)),
		discovery.WithBreakerConfig(resilience.FromCircuitConfig(
			cfg.Discovery.BreakerThreshold, cfg.Discovery.BreakerResetSecs)),
	)
}

// scopeFromFlag maps the --shared flag onto a pool scope.
func scopeFromFlag(shared bool) pool.Scope {
	if shared {
		return pool.ScopeShared
	}
	return pool.ScopeTenant
}

var _ db.Pool = (*pgxpool.Pool)(nil)
