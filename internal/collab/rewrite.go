package collab

import "strings"

// PrefixRewriter maps raw storage references to their public CDN form.
// Two shapes are handled: full origin URLs whose prefix is swapped, and bare
// bucket keys that get the CDN base prepended. Anything else passes through
// unchanged; rewriting is fail-open by contract.
type PrefixRewriter struct {
	// OriginPrefix is the internal storage origin ("https://bucket.r2.dev").
	OriginPrefix string
	// CDNPrefix is the public base URL ("https://cdn.example.com").
	CDNPrefix string
}

// Rewrite returns the public form of raw.
func (p *PrefixRewriter) Rewrite(raw string) (string, error) {
	if p.CDNPrefix == "" || raw == "" {
		return raw, nil
	}
	if p.OriginPrefix != "" && strings.HasPrefix(raw, p.OriginPrefix) {
		return p.CDNPrefix + strings.TrimPrefix(raw, p.OriginPrefix), nil
	}
	// Bare bucket keys carry no scheme.
	if !strings.Contains(raw, "://") {
		return strings.TrimSuffix(p.CDNPrefix, "/") + "/" + strings.TrimPrefix(raw, "/"), nil
	}
	return raw, nil
}
