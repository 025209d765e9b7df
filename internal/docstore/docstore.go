// Package docstore persists fetched documents per project partition and
// answers the "have we already ingested this URL" question the discovery
// dedup pass asks.
package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/signalhouse/ingest-cli/internal/db"
	"github.com/signalhouse/ingest-cli/internal/tenant"
)

// Document is one fetched page stored in a project partition.
type Document struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Fingerprint string    `json:"fingerprint"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Source      string    `json:"source"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Docs is the capability surface the pipeline needs: existence checks for
// dedup and writes for ingestion.
type Docs interface {
	Exists(ctx context.Context, url string) (bool, error)
	ExistsBatch(ctx context.Context, urls []string) (map[string]bool, error)
	Store(ctx context.Context, doc Document) (string, error)
}

// Store is the postgres-backed Docs implementation.
type Store struct {
	pool db.Pool
}

// NewStore creates a document Store.
func NewStore(p db.Pool) *Store {
	return &Store{pool: p}
}

func (s *Store) table(ctx context.Context) (string, error) {
	schema, err := tenant.PartitionFromContext(ctx)
	if err != nil {
		return "", err
	}
	return pgx.Identifier{schema}.Sanitize() + ".documents", nil
}

// Exists reports whether a document with this URL is already stored.
func (s *Store) Exists(ctx context.Context, url string) (bool, error) {
	table, err := s.table(ctx)
	if err != nil {
		return false, err
	}
	var found bool
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE url = $1)`, table), url).
		Scan(&found)
	return found, eris.Wrap(err, "docstore: exists")
}

// ExistsBatch answers Exists for many URLs in one round trip. URLs absent
// from the result map are unknown.
func (s *Store) ExistsBatch(ctx context.Context, urls []string) (map[string]bool, error) {
	out := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return out, nil
	}
	table, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT url FROM %s WHERE url = ANY($1)`, table), urls)
	if err != nil {
		return nil, eris.Wrap(err, "docstore: exists batch")
	}
	defer rows.Close()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "docstore: scan url")
		}
		out[u] = true
	}
	return out, eris.Wrap(rows.Err(), "docstore: exists batch")
}

// Store writes a document, replacing any previous capture of the same URL.
// Returns the document id.
func (s *Store) Store(ctx context.Context, doc Document) (string, error) {
	table, err := s.table(ctx)
	if err != nil {
		return "", err
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Fingerprint == "" {
		doc.Fingerprint = Fingerprint(doc.Content)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (id, url, fingerprint, title, content, source, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (url) DO UPDATE SET
			fingerprint = $3, title = $4, content = $5, source = $6, fetched_at = now()
		RETURNING id`, table)
	var id string
	err = s.pool.QueryRow(ctx, query,
		doc.ID, doc.URL, doc.Fingerprint, doc.Title, doc.Content, doc.Source).
		Scan(&id)
	return id, eris.Wrap(err, "docstore: store document")
}

// CountMatching returns how many stored documents have a URL matching the
// SQL LIKE pattern. Used as the purge preview.
func (s *Store) CountMatching(ctx context.Context, pattern string) (int64, error) {
	table, err := s.table(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s WHERE url LIKE $1`, table), pattern).
		Scan(&n)
	return n, eris.Wrap(err, "docstore: count matching")
}

// DeleteMatching removes documents whose URL matches the SQL LIKE pattern
// and returns the number deleted.
func (s *Store) DeleteMatching(ctx context.Context, pattern string) (int64, error) {
	table, err := s.table(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE url LIKE $1`, table), pattern)
	if err != nil {
		return 0, eris.Wrap(err, "docstore: delete matching")
	}
	return tag.RowsAffected(), nil
}

// Fingerprint is the content hash used for change detection.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
