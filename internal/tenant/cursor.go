package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/signalhouse/ingest-cli/internal/db"
)

// Cursor records per-object ingestion progress for one project.
type Cursor struct {
	ObjectName string    `json:"object_name"`
	Value      string    `json:"cursor"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CursorStore reads and writes sync cursors in the bound project's partition.
type CursorStore struct {
	pool db.Pool
}

// NewCursorStore creates a CursorStore backed by the given pool.
func NewCursorStore(pool db.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Get returns the cursor for an object name, or nil if the object has never
// been synced. The partition comes from the context binding.
func (s *CursorStore) Get(ctx context.Context, objectName string) (*Cursor, error) {
	schema, err := PartitionFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var c Cursor
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT object_name, cursor, updated_at FROM %s.sync_state WHERE object_name = $1`,
			pgx.Identifier{schema}.Sanitize()),
		objectName,
	).Scan(&c.ObjectName, &c.Value, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "tenant: get cursor %s", objectName)
	}
	return &c, nil
}

// Set upserts the cursor for an object name.
func (s *CursorStore) Set(ctx context.Context, objectName, value string) error {
	schema, err := PartitionFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s.sync_state (object_name, cursor, updated_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (object_name) DO UPDATE SET cursor = $2, updated_at = now()`,
			pgx.Identifier{schema}.Sanitize()),
		objectName, value,
	)
	return eris.Wrapf(err, "tenant: set cursor %s", objectName)
}
