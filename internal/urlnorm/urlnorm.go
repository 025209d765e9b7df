// Package urlnorm canonicalizes URLs for deduplication. Pool entries are
// stored under the canonical form so that later runs can dedup by comparing
// canonical URLs directly against stored rows.
//
// Policy: lowercase scheme and host, strip default ports and fragments, drop
// known tracking parameters, sort the remaining query, collapse duplicate
// slashes, strip the trailing slash except at the root, and NFC-normalize
// the path.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// trackingParams are query parameters that never change the identity of the
// underlying resource.
var trackingParams = map[string]bool{
	"gclid":   true,
	"fbclid":  true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref":     true,
	"ref_src": true,
}

func isTrackingParam(name string) bool {
	return trackingParams[name] || strings.HasPrefix(name, "utm_")
}

// Canonical returns the canonical comparison form of rawURL.
func Canonical(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", eris.Wrapf(err, "urlnorm: parse %q", rawURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", eris.Errorf("urlnorm: not an absolute URL: %q", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.User = nil

	// Default ports carry no information.
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}

	u.Path = canonicalPath(u.Path)
	u.RawQuery = canonicalQuery(u.Query())

	return u.String(), nil
}

// Domain returns the lowercased host of rawURL without a port, or "" when
// the URL does not parse.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// PageKey returns the canonical host and path of rawURL with the query
// ignored, or "" when the URL does not canonicalize. Two URLs sharing a key
// are treated as near-duplicates of the same page.
func PageKey(rawURL string) string {
	canon, err := Canonical(rawURL)
	if err != nil {
		return ""
	}
	u, err := url.Parse(canon)
	if err != nil {
		return ""
	}
	return u.Hostname() + u.EscapedPath()
}

// SamePage reports whether two URLs canonicalize to the same resource. It is
// the best-effort near-duplicate check: both must parse, and their canonical
// forms must be equal.
func SamePage(a, b string) bool {
	ca, err := Canonical(a)
	if err != nil {
		return false
	}
	cb, err := Canonical(b)
	if err != nil {
		return false
	}
	return ca == cb
}

func canonicalPath(p string) string {
	p = norm.NFC.String(p)

	// Collapse duplicate slashes.
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}

	if p == "" {
		return "/"
	}
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func canonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		if isTrackingParam(strings.ToLower(k)) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
