package services

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/language"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
)

// doubledScheme matches URLs whose scheme was glued on twice by a client-side
// concatenation bug ("https://https://..." and the host-only variant
// "https://https:/...").
var doubledScheme = regexp.MustCompile(`^(https?://)(https?:/?/?)`)

// canonicalizeSourceURL normalizes an inbound media URL: trims whitespace and
// repairs the doubled-protocol artifact. Repairs are fail-open; anything the
// pattern does not recognize passes through untouched.
func canonicalizeSourceURL(raw string) string {
	u := strings.TrimSpace(raw)
	for doubledScheme.MatchString(u) {
		u = doubledScheme.ReplaceAllString(u, "$1")
	}
	return u
}

// sourceHash derives the stable correlation key for a source. Job records
// carry the hash, not the raw URL alone, so logs and lookups never need the
// full address.
func sourceHash(t domain.SourceType, canonicalURL string) string {
	sum := sha256.Sum256([]byte(string(t) + "\x00" + canonicalURL))
	return hex.EncodeToString(sum[:])
}

// normalizeLanguage canonicalizes a BCP 47 tag ("EN-us" → "en-US"). Invalid
// or empty input yields "" and the supplier auto-detects.
func normalizeLanguage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	return tag.String()
}
