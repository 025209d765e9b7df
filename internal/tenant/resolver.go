package tenant

import (
	"context"

	"github.com/rotisserie/eris"
)

// Directory is the project lookup surface the resolver needs.
type Directory interface {
	GetByKey(ctx context.Context, key string) (*Project, error)
	GetDefault(ctx context.Context) (*Project, error)
}

// Resolver maps request input to a project. Precedence: explicit argument,
// then request header, then query parameter, then the process-wide default
// project. Strict mode disables the default fallback entirely.
type Resolver struct {
	dir    Directory
	strict bool
}

// NewResolver creates a Resolver backed by the given project directory.
func NewResolver(dir Directory, strict bool) *Resolver {
	return &Resolver{dir: dir, strict: strict}
}

// Resolve returns the project for the first non-empty key in precedence
// order. An unknown or disabled key fails with ErrTenantUnknown rather than
// falling through to the next source; silently recovering from a wrong key
// risks writing to the wrong partition.
func (r *Resolver) Resolve(ctx context.Context, explicitKey, headerKey, queryKey string) (*Project, error) {
	for _, key := range []string{explicitKey, headerKey, queryKey} {
		if key == "" {
			continue
		}
		p, err := r.dir.GetByKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if p == nil || !p.Enabled {
			return nil, eris.Wrapf(ErrTenantUnknown, "key %q", key)
		}
		return p, nil
	}

	if r.strict {
		return nil, ErrTenantRequired
	}

	p, err := r.dir.GetDefault(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Enabled {
		return nil, ErrTenantRequired
	}
	return p, nil
}
