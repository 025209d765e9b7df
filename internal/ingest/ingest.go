// Package ingest fetches documents for URLs and stores them in the bound
// project's partition.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signalhouse/ingest-cli/internal/docstore"
	"github.com/signalhouse/ingest-cli/internal/metrics"
	"github.com/signalhouse/ingest-cli/internal/tenant"
	"github.com/signalhouse/ingest-cli/pkg/jina"
)

// Summary reports one ingest batch. Individual fetch failures are recorded
// here, not returned as the batch error.
type Summary struct {
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failures  []string `json:"failures,omitempty"`
}

// Ingestor fetches and stores a batch of URLs.
type Ingestor interface {
	Ingest(ctx context.Context, urls []string) (Summary, error)
}

// Fetcher is the reader-backed Ingestor.
type Fetcher struct {
	reader      jina.Client
	docs        docstore.Docs
	concurrency int
	timeout     time.Duration
	force       bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithConcurrency bounds parallel fetches.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithTimeout bounds each individual fetch.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithForceRefresh bypasses the reader's cache and re-stores documents that
// already exist.
func WithForceRefresh() Option {
	return func(f *Fetcher) {
		f.force = true
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(reader jina.Client, docs docstore.Docs, opts ...Option) *Fetcher {
	f := &Fetcher{
		reader:      reader,
		docs:        docs,
		concurrency: 4,
		timeout:     45 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Ingest fetches each URL and stores the document. Already-stored URLs are
// skipped unless force refresh is on. One URL failing does not abort the
// batch; the error return is reserved for batch-level problems such as a
// missing tenant binding or a cancelled context.
func (f *Fetcher) Ingest(ctx context.Context, urls []string) (Summary, error) {
	project := tenant.FromContext(ctx)
	if project == nil {
		return Summary{}, tenant.ErrTenantRequired
	}
	if len(urls) == 0 {
		return Summary{}, nil
	}

	known, err := f.docs.ExistsBatch(ctx, urls)
	if err != nil {
		return Summary{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	var attempted, succeeded atomic.Int64
	var mu sync.Mutex
	var failures []string

	for _, u := range urls {
		if known[u] && !f.force {
			continue
		}
		g.Go(func() error {
			log := zap.L().With(zap.String("project", project.Key), zap.String("url", u))
			attempted.Add(1)
			metrics.IncActiveIngestWorkers()
			defer metrics.DecActiveIngestWorkers()

			if err := f.fetchOne(gctx, u); err != nil {
				log.Warn("ingest failed", zap.Error(err))
				metrics.ObserveIngest(project.Key, "error")
				mu.Lock()
				failures = append(failures, u+": "+err.Error())
				mu.Unlock()
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			metrics.ObserveIngest(project.Key, "ok")
			log.Debug("document stored")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Summary{}, eris.Wrap(err, "ingest: batch")
	}

	return Summary{
		Attempted: int(attempted.Load()),
		Succeeded: int(succeeded.Load()),
		Failures:  failures,
	}, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, u string) error {
	fctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var opts []jina.ReadOption
	if f.force {
		opts = append(opts, jina.WithNoCache())
	}
	resp, err := f.reader.Read(fctx, u, opts...)
	if err != nil {
		return err
	}
	if resp.Data.Content == "" {
		return eris.Errorf("ingest: empty content for %s", u)
	}

	_, err = f.docs.Store(ctx, docstore.Document{
		URL:     u,
		Title:   resp.Data.Title,
		Content: resp.Data.Content,
		Source:  "jina",
	})
	return err
}
