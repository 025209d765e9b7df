// Package sourcecfg holds the layered connector configuration: reusable
// Channel definitions and concrete SourceItem instances, resolvable across
// shared and tenant scope with extends-style inheritance.
package sourcecfg

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Configuration resolution failures. These indicate bad setup, not bad
// input, and propagate immediately.
var (
	ErrConfigNotFound = eris.New("sourcecfg: config not found")
	ErrConfigCycle    = eris.New("sourcecfg: extends chain too deep or cyclic")
)

// maxExtendsDepth bounds extends-chain walking. A deeper chain is a
// configuration error, not a silent infinite loop.
const maxExtendsDepth = 10

// Channel is a reusable connector definition.
type Channel struct {
	Key           string          `json:"key" yaml:"key"`
	DisplayName   string          `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Kind          string          `json:"kind,omitempty" yaml:"kind,omitempty"`
	Provider      string          `json:"provider,omitempty" yaml:"provider,omitempty"`
	CredentialRef string          `json:"credential_ref,omitempty" yaml:"credential_ref,omitempty"`
	Params        map[string]any  `json:"params,omitempty" yaml:"params,omitempty"`
	ParamSchema   json.RawMessage `json:"param_schema,omitempty" yaml:"param_schema,omitempty"`
	Extends       string          `json:"extends,omitempty" yaml:"extends,omitempty"`
	Enabled       bool            `json:"enabled" yaml:"enabled"`
}

// SourceItem is a concrete configured instance of a channel.
type SourceItem struct {
	Key         string         `json:"key" yaml:"key"`
	DisplayName string         `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	ChannelKey  string         `json:"channel_key,omitempty" yaml:"channel_key,omitempty"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Schedule    string         `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Extends     string         `json:"extends,omitempty" yaml:"extends,omitempty"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
}

// ResolvedItem is a flattened source item with its channel's definition
// merged in.
type ResolvedItem struct {
	SourceItem
	Channel Channel `json:"channel"`
	// EffectiveParams is the item's params merged over the channel's
	// default params, child winning on conflict.
	EffectiveParams map[string]any `json:"effective_params"`
}

// mergeParams merges override into base, child values winning. Nested maps
// merge recursively; everything else replaces wholesale.
func mergeParams(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				out[k] = mergeParams(bm, om)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// mergeChannel overlays child onto parent, child's explicit fields winning.
func mergeChannel(parent, child Channel) Channel {
	out := child
	if out.DisplayName == "" {
		out.DisplayName = parent.DisplayName
	}
	if out.Kind == "" {
		out.Kind = parent.Kind
	}
	if out.Provider == "" {
		out.Provider = parent.Provider
	}
	if out.CredentialRef == "" {
		out.CredentialRef = parent.CredentialRef
	}
	if out.ParamSchema == nil {
		out.ParamSchema = parent.ParamSchema
	}
	if out.Extends == "" {
		out.Extends = parent.Extends
	}
	out.Params = mergeParams(parent.Params, child.Params)
	return out
}

// mergeItem overlays child onto parent, child's explicit fields winning.
func mergeItem(parent, child SourceItem) SourceItem {
	out := child
	if out.DisplayName == "" {
		out.DisplayName = parent.DisplayName
	}
	if out.ChannelKey == "" {
		out.ChannelKey = parent.ChannelKey
	}
	if out.Schedule == "" {
		out.Schedule = parent.Schedule
	}
	if len(out.Tags) == 0 {
		out.Tags = parent.Tags
	}
	if out.Extends == "" {
		out.Extends = parent.Extends
	}
	out.Params = mergeParams(parent.Params, child.Params)
	return out
}
