package sourcecfg

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
)

// Catalog is the lookup surface the resolver walks. Store satisfies it.
type Catalog interface {
	LookupChannel(ctx context.Context, key string) (*Channel, error)
	LookupItem(ctx context.Context, key string) (*SourceItem, error)
}

// Resolver flattens extends chains and merges channel defaults into source
// items. Resolution is read-only and never mutates stored rows.
type Resolver struct {
	catalog Catalog
}

// NewResolver creates a Resolver over a catalog.
func NewResolver(c Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// ResolveChannel returns the channel with its full extends chain folded in,
// nearest definition winning. A missing link anywhere in the chain is
// ErrConfigNotFound; a cycle or a chain deeper than the bound is
// ErrConfigCycle.
func (r *Resolver) ResolveChannel(ctx context.Context, key string) (*Channel, error) {
	cur, err := r.catalog.LookupChannel(ctx, key)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, eris.Wrapf(ErrConfigNotFound, "channel %q", key)
	}

	eff := *cur
	visited := map[string]bool{key: true}
	for depth := 0; cur.Extends != ""; depth++ {
		if depth >= maxExtendsDepth || visited[cur.Extends] {
			return nil, eris.Wrapf(ErrConfigCycle, "channel %q via %q", key, cur.Extends)
		}
		visited[cur.Extends] = true
		parent, err := r.catalog.LookupChannel(ctx, cur.Extends)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, eris.Wrapf(ErrConfigNotFound, "channel %q extends missing %q", key, cur.Extends)
		}
		eff = mergeChannel(*parent, eff)
		cur = parent
	}
	eff.Extends = ""
	return &eff, nil
}

// ResolveItem returns the fully flattened view of a source item: its own
// extends chain folded, its channel resolved, and effective params computed
// with the item overriding the channel defaults. When the channel declares a
// param schema the effective params are validated against it.
func (r *Resolver) ResolveItem(ctx context.Context, key string) (*ResolvedItem, error) {
	cur, err := r.catalog.LookupItem(ctx, key)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, eris.Wrapf(ErrConfigNotFound, "source item %q", key)
	}

	eff := *cur
	visited := map[string]bool{key: true}
	for depth := 0; cur.Extends != ""; depth++ {
		if depth >= maxExtendsDepth || visited[cur.Extends] {
			return nil, eris.Wrapf(ErrConfigCycle, "source item %q via %q", key, cur.Extends)
		}
		visited[cur.Extends] = true
		parent, err := r.catalog.LookupItem(ctx, cur.Extends)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, eris.Wrapf(ErrConfigNotFound, "source item %q extends missing %q", key, cur.Extends)
		}
		eff = mergeItem(*parent, eff)
		cur = parent
	}
	eff.Extends = ""

	if eff.ChannelKey == "" {
		return nil, eris.Wrapf(ErrConfigNotFound, "source item %q has no channel", key)
	}
	ch, err := r.ResolveChannel(ctx, eff.ChannelKey)
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedItem{
		SourceItem:      eff,
		Channel:         *ch,
		EffectiveParams: mergeParams(ch.Params, eff.Params),
	}
	if len(ch.ParamSchema) > 0 {
		if err := validateParams(ch.ParamSchema, resolved.EffectiveParams); err != nil {
			return nil, eris.Wrapf(err, "source item %q", key)
		}
	}
	return resolved, nil
}

// validateParams checks params against a JSON schema document.
func validateParams(schema json.RawMessage, params map[string]any) error {
	doc, err := json.Marshal(params)
	if err != nil {
		return eris.Wrap(err, "sourcecfg: marshal params for validation")
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return eris.Wrap(err, "sourcecfg: validate params")
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return eris.Errorf("sourcecfg: params rejected by schema: %s", strings.Join(msgs, "; "))
}
