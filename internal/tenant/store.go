package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/signalhouse/ingest-cli/internal/db"
)

// Store provides access to the project directory and provisions partitions.
type Store struct {
	pool db.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

const directoryMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	key         TEXT NOT NULL UNIQUE,
	schema_name TEXT NOT NULL UNIQUE,
	enabled     BOOLEAN NOT NULL DEFAULT true,
	is_default  BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_single_default
	ON projects(is_default) WHERE is_default;

CREATE SCHEMA IF NOT EXISTS shared;
`

// partitionDDL is the per-tenant table set, applied inside a freshly created
// schema. The shared schema gets the same resource_pool/channels/source_items
// shape minus the tenant-only tables.
const partitionDDL = `
CREATE TABLE IF NOT EXISTS %[1]s.resource_pool (
	id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	url          TEXT NOT NULL UNIQUE,
	domain       TEXT NOT NULL DEFAULT '',
	entry_type   TEXT NOT NULL DEFAULT 'site',
	url_template TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	capabilities JSONB NOT NULL DEFAULT '{}',
	source       TEXT NOT NULL DEFAULT 'manual',
	source_ref   JSONB NOT NULL DEFAULT '{}',
	tags         TEXT[] NOT NULL DEFAULT '{}',
	enabled      BOOLEAN NOT NULL DEFAULT true,
	extra        JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[1]s.etl_job_runs (
	id          TEXT PRIMARY KEY,
	job_type    VARCHAR(64) NOT NULL,
	params      JSONB NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL DEFAULT 'queued',
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_job_runs_status ON %[1]s.etl_job_runs(status);

CREATE TABLE IF NOT EXISTS %[1]s.channels (
	key            TEXT PRIMARY KEY,
	display_name   TEXT NOT NULL DEFAULT '',
	kind           TEXT NOT NULL DEFAULT '',
	provider       TEXT NOT NULL DEFAULT '',
	credential_ref TEXT NOT NULL DEFAULT '',
	params         JSONB NOT NULL DEFAULT '{}',
	param_schema   JSONB,
	extends        TEXT NOT NULL DEFAULT '',
	enabled        BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS %[1]s.source_items (
	key          TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	channel_key  TEXT NOT NULL DEFAULT '',
	params       JSONB NOT NULL DEFAULT '{}',
	tags         TEXT[] NOT NULL DEFAULT '{}',
	schedule     TEXT NOT NULL DEFAULT '',
	extends      TEXT NOT NULL DEFAULT '',
	enabled      BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS %[1]s.documents (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL UNIQUE,
	fingerprint TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_fingerprint ON %[1]s.documents(fingerprint);

CREATE TABLE IF NOT EXISTS %[1]s.sync_state (
	object_name TEXT PRIMARY KEY,
	cursor      TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// sharedDDL is the subset of the partition tables that exist in the shared
// scope visible to every tenant.
const sharedDDL = `
CREATE TABLE IF NOT EXISTS shared.resource_pool (
	id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	url          TEXT NOT NULL UNIQUE,
	domain       TEXT NOT NULL DEFAULT '',
	entry_type   TEXT NOT NULL DEFAULT 'site',
	url_template TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	capabilities JSONB NOT NULL DEFAULT '{}',
	source       TEXT NOT NULL DEFAULT 'manual',
	source_ref   JSONB NOT NULL DEFAULT '{}',
	tags         TEXT[] NOT NULL DEFAULT '{}',
	enabled      BOOLEAN NOT NULL DEFAULT true,
	extra        JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS shared.channels (
	key            TEXT PRIMARY KEY,
	display_name   TEXT NOT NULL DEFAULT '',
	kind           TEXT NOT NULL DEFAULT '',
	provider       TEXT NOT NULL DEFAULT '',
	credential_ref TEXT NOT NULL DEFAULT '',
	params         JSONB NOT NULL DEFAULT '{}',
	param_schema   JSONB,
	extends        TEXT NOT NULL DEFAULT '',
	enabled        BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS shared.source_items (
	key          TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	channel_key  TEXT NOT NULL DEFAULT '',
	params       JSONB NOT NULL DEFAULT '{}',
	tags         TEXT[] NOT NULL DEFAULT '{}',
	schedule     TEXT NOT NULL DEFAULT '',
	extends      TEXT NOT NULL DEFAULT '',
	enabled      BOOLEAN NOT NULL DEFAULT true
);
`

// Migrate creates the project directory and the shared scope tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, directoryMigration); err != nil {
		return eris.Wrap(err, "tenant: migrate directory")
	}
	if _, err := s.pool.Exec(ctx, sharedDDL); err != nil {
		return eris.Wrap(err, "tenant: migrate shared scope")
	}
	return nil
}

// Create inserts a project and provisions its schema partition in one
// transaction. The schema name is immutable once created; changing it would
// orphan the partition's data.
func (s *Store) Create(ctx context.Context, key, schemaName string) (*Project, error) {
	if key == "" {
		return nil, eris.New("tenant: project key is required")
	}
	if schemaName == "" {
		schemaName = "proj_" + key
	}
	if !ValidSchemaName(schemaName) {
		return nil, eris.Errorf("tenant: invalid schema name %q", schemaName)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "tenant: begin create")
	}
	defer tx.Rollback(ctx)

	var p Project
	err = tx.QueryRow(ctx,
		`INSERT INTO projects (key, schema_name) VALUES ($1, $2)
		 RETURNING id, key, schema_name, enabled, is_default, created_at`,
		key, schemaName,
	).Scan(&p.ID, &p.Key, &p.SchemaName, &p.Enabled, &p.IsDefault, &p.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "tenant: insert project %s", key)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{schemaName}.Sanitize())); err != nil {
		return nil, eris.Wrapf(err, "tenant: create schema %s", schemaName)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(partitionDDL, pgx.Identifier{schemaName}.Sanitize())); err != nil {
		return nil, eris.Wrapf(err, "tenant: provision partition %s", schemaName)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "tenant: commit create")
	}
	return &p, nil
}

// GetByKey returns the project with the given key, or nil if none exists.
func (s *Store) GetByKey(ctx context.Context, key string) (*Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, key, schema_name, enabled, is_default, created_at
		 FROM projects WHERE key = $1`,
		key,
	).Scan(&p.ID, &p.Key, &p.SchemaName, &p.Enabled, &p.IsDefault, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "tenant: get project %s", key)
	}
	return &p, nil
}

// GetDefault returns the process-wide default project, or nil if none is set.
func (s *Store) GetDefault(ctx context.Context) (*Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, key, schema_name, enabled, is_default, created_at
		 FROM projects WHERE is_default LIMIT 1`,
	).Scan(&p.ID, &p.Key, &p.SchemaName, &p.Enabled, &p.IsDefault, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "tenant: get default project")
	}
	return &p, nil
}

// List returns all projects ordered by key.
func (s *Store) List(ctx context.Context) ([]Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, key, schema_name, enabled, is_default, created_at
		 FROM projects ORDER BY key`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "tenant: list projects")
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Key, &p.SchemaName, &p.Enabled, &p.IsDefault, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "tenant: scan project")
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SetDefault makes the given project the process-wide default, clearing any
// previous default in the same transaction.
func (s *Store) SetDefault(ctx context.Context, key string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "tenant: begin set default")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE projects SET is_default = false WHERE is_default`); err != nil {
		return eris.Wrap(err, "tenant: clear default")
	}

	tag, err := tx.Exec(ctx, `UPDATE projects SET is_default = true WHERE key = $1`, key)
	if err != nil {
		return eris.Wrapf(err, "tenant: set default %s", key)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrTenantUnknown, "key %q", key)
	}

	return eris.Wrap(tx.Commit(ctx), "tenant: commit set default")
}

// SetEnabled flips a project's enabled flag. Disabled projects stop resolving
// but keep their partition intact.
func (s *Store) SetEnabled(ctx context.Context, key string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET enabled = $2 WHERE key = $1`, key, enabled)
	if err != nil {
		return eris.Wrapf(err, "tenant: set enabled %s", key)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrTenantUnknown, "key %q", key)
	}
	return nil
}
