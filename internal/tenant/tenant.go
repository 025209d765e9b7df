// Package tenant resolves which project a unit of work belongs to and binds
// storage operations to that project's schema partition.
package tenant

import (
	"context"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
)

// Resolution and binding failures surfaced to callers.
var (
	// ErrTenantRequired means no project key was resolvable and no default
	// project is configured.
	ErrTenantRequired = eris.New("tenant: project required")
	// ErrTenantUnknown means the supplied key does not map to an enabled project.
	ErrTenantUnknown = eris.New("tenant: unknown project")
)

// Project is an isolated logical workspace with its own schema partition.
type Project struct {
	ID         int64     `json:"id"`
	Key        string    `json:"key"`
	SchemaName string    `json:"schema_name"`
	Enabled    bool      `json:"enabled"`
	IsDefault  bool      `json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
}

// ctxKey is the private context key type for the project binding.
type ctxKey struct{}

// Bind returns a context carrying the project binding. All tenant-scoped
// stores read the partition from the context, so the schema switch happens
// once at the boundary rather than as a per-query filter. Nested binds shadow
// the outer binding; discarding the inner context restores the outer one on
// every exit path, since context values are immutable.
func Bind(ctx context.Context, p *Project) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the bound project, or nil if the context is unbound.
func FromContext(ctx context.Context) *Project {
	p, _ := ctx.Value(ctxKey{}).(*Project)
	return p
}

// PartitionFromContext returns the schema partition of the bound project.
// It fails with ErrTenantRequired when the context carries no binding, so a
// tenant-scoped store can never silently fall through to another partition.
func PartitionFromContext(ctx context.Context) (string, error) {
	p := FromContext(ctx)
	if p == nil {
		return "", ErrTenantRequired
	}
	return p.SchemaName, nil
}

var schemaNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidSchemaName reports whether s is usable as a partition identifier.
func ValidSchemaName(s string) bool {
	return schemaNameRe.MatchString(s)
}
