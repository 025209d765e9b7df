package pool

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/signalhouse/ingest-cli/internal/db"
)

// DefaultScopeKey is the capture_configs row that applies when a project has
// no row of its own.
const DefaultScopeKey = ""

// CaptureConfig gates automatic pool writes per project and per job type.
type CaptureConfig struct {
	ProjectKey string    `json:"project_key"`
	Enabled    bool      `json:"enabled"`
	JobTypes   []string  `json:"job_types"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Allows reports whether automatic capture is permitted for the job type.
func (c *CaptureConfig) Allows(jobType string) bool {
	if c == nil || !c.Enabled {
		return false
	}
	for _, jt := range c.JobTypes {
		if jt == jobType {
			return true
		}
	}
	return false
}

// CaptureStore reads and writes capture configuration rows.
type CaptureStore struct {
	pool db.Pool
}

// NewCaptureStore creates a CaptureStore backed by the given pool.
func NewCaptureStore(pool db.Pool) *CaptureStore {
	return &CaptureStore{pool: pool}
}

const captureMigration = `
CREATE TABLE IF NOT EXISTS capture_configs (
	project_key TEXT PRIMARY KEY,
	enabled     BOOLEAN NOT NULL DEFAULT false,
	job_types   TEXT[] NOT NULL DEFAULT '{}',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate creates the capture_configs table.
func (s *CaptureStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, captureMigration)
	return eris.Wrap(err, "pool: migrate capture configs")
}

// Get returns the effective capture config for a project: the project's own
// row if present, otherwise the default-scope row, otherwise nil (capture
// disabled by default).
func (s *CaptureStore) Get(ctx context.Context, projectKey string) (*CaptureConfig, error) {
	cfg, err := s.get(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	if cfg != nil || projectKey == DefaultScopeKey {
		return cfg, nil
	}
	return s.get(ctx, DefaultScopeKey)
}

func (s *CaptureStore) get(ctx context.Context, projectKey string) (*CaptureConfig, error) {
	var cfg CaptureConfig
	err := s.pool.QueryRow(ctx,
		`SELECT project_key, enabled, job_types, updated_at
		 FROM capture_configs WHERE project_key = $1`,
		projectKey,
	).Scan(&cfg.ProjectKey, &cfg.Enabled, &cfg.JobTypes, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "pool: get capture config %q", projectKey)
	}
	return &cfg, nil
}

// Set upserts a capture config row.
func (s *CaptureStore) Set(ctx context.Context, cfg CaptureConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO capture_configs (project_key, enabled, job_types, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (project_key) DO UPDATE SET enabled = $2, job_types = $3, updated_at = now()`,
		cfg.ProjectKey, cfg.Enabled, cfg.JobTypes,
	)
	return eris.Wrapf(err, "pool: set capture config %q", cfg.ProjectKey)
}
