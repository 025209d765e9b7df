package discovery

import (
	"github.com/rotisserie/eris"

	"github.com/signalhouse/ingest-cli/internal/sourcecfg"
)

// ErrSourceDisabled is returned when a discovery run is requested for a
// source item (or its channel) that is switched off.
var ErrSourceDisabled = eris.New("discovery: source item is disabled")

// RequestFromItem maps a resolved source item onto a pipeline request. The
// channel supplies the provider and job type, the effective params supply
// the query. Scope, pool writing and ingestion stay with the caller.
func RequestFromItem(res *sourcecfg.ResolvedItem) (Request, error) {
	if res == nil {
		return Request{}, eris.New("discovery: nil source item")
	}
	if !res.Enabled || !res.Channel.Enabled {
		return Request{}, eris.Wrapf(ErrSourceDisabled, "source item %q", res.Key)
	}

	req := Request{
		Query: Query{
			Terms: paramString(res.EffectiveParams, "terms"),
			Site:  paramString(res.EffectiveParams, "site"),
			Limit: paramInt(res.EffectiveParams, "limit"),
		},
		JobType:  res.Channel.Kind,
		Provider: res.Channel.Provider,
		Smart:    paramBool(res.EffectiveParams, "smart"),
	}
	if req.JobType == "" {
		req.JobType = "web_discovery"
	}
	if req.Query.Terms == "" && req.Query.Site == "" {
		return Request{}, eris.Errorf("discovery: source item %q defines neither terms nor site", res.Key)
	}
	return req, nil
}

func paramString(params map[string]any, key string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}

// paramInt reads a numeric param. Values arrive as int from yaml bundles
// and float64 from json columns.
func paramInt(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func paramBool(params map[string]any, key string) bool {
	if b, ok := params[key].(bool); ok {
		return b
	}
	return false
}
