// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/signalhouse/ingest-cli/internal/discovery"
	"github.com/signalhouse/ingest-cli/internal/jobs"
	"github.com/signalhouse/ingest-cli/internal/metrics"
	"github.com/signalhouse/ingest-cli/internal/pool"
	"github.com/signalhouse/ingest-cli/internal/sourcecfg"
	"github.com/signalhouse/ingest-cli/internal/tenant"
)

// ProjectKeyHeader carries the tenant key on API requests. A project query
// parameter is accepted as a fallback.
const ProjectKeyHeader = "X-Project-Key"

// Runner starts one discovery run.
type Runner interface {
	Run(ctx context.Context, req discovery.Request) (*discovery.Result, error)
}

// PoolReader lists effective pool entries for the bound project.
type PoolReader interface {
	ListEffective(ctx context.Context, filter pool.Filter, page pool.Page) ([]pool.Entry, error)
}

// JobReader lists job runs for the bound project.
type JobReader interface {
	List(ctx context.Context, filter jobs.Filter) ([]jobs.Run, error)
	Get(ctx context.Context, id string) (*jobs.Run, error)
}

// SourceResolver flattens configured source items. sourcecfg.Resolver
// satisfies it.
type SourceResolver interface {
	ResolveItem(ctx context.Context, key string) (*sourcecfg.ResolvedItem, error)
}

// Server wires HTTP handlers to the discovery pipeline and stores.
type Server struct {
	router   chi.Router
	resolver *tenant.Resolver
	runner   Runner
	pool     PoolReader
	jobs     JobReader
	sources  SourceResolver
}

// NewServer constructs a Server with middleware and routes.
func NewServer(resolver *tenant.Resolver, runner Runner, poolReader PoolReader,
	jobReader JobReader, sources SourceResolver) *Server {
	s := &Server{
		resolver: resolver,
		runner:   runner,
		pool:     poolReader,
		jobs:     jobReader,
		sources:  sources,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", ProjectKeyHeader},
		MaxAge:         300,
	}))
	r.Use(requestMetrics)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.projectBinding)
		r.Post("/discover", s.discover)
		r.Get("/pool", s.listPool)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{run_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// projectBinding resolves the tenant key from the request and binds the
// project onto the request context. Requests without a resolvable project
// get 400 (none supplied) or 404 (unknown key).
func (s *Server) projectBinding(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project, err := s.resolver.Resolve(r.Context(),
			"", r.Header.Get(ProjectKeyHeader), r.URL.Query().Get("project_key"))
		if err != nil {
			switch {
			case errors.Is(err, tenant.ErrTenantRequired):
				writeError(w, http.StatusBadRequest, "project key required")
			case errors.Is(err, tenant.ErrTenantUnknown):
				writeError(w, http.StatusNotFound, "unknown project")
			default:
				zap.L().Error("project resolution failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "project resolution failed")
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(tenant.Bind(r.Context(), project)))
	})
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
