package services

import (
	"testing"

	"github.com/tbourn/go-transcribe-backend/internal/domain"
)

func TestCanonicalizeSourceURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://cdn.example.com/a.mp3", "https://cdn.example.com/a.mp3"},
		{"  https://cdn.example.com/a.mp3  ", "https://cdn.example.com/a.mp3"},
		{"https://https://cdn.example.com/a.mp3", "https://cdn.example.com/a.mp3"},
		{"https://http://cdn.example.com/a.mp3", "https://cdn.example.com/a.mp3"},
		{"https://https:/cdn.example.com/a.mp3", "https://cdn.example.com/a.mp3"},
		{"https://https://https://cdn.example.com/a.mp3", "https://cdn.example.com/a.mp3"},
		{"not a url", "not a url"},
	}
	for _, c := range cases {
		if got := canonicalizeSourceURL(c.in); got != c.want {
			t.Errorf("canonicalizeSourceURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSourceHash_StableAndTypeScoped(t *testing.T) {
	a := sourceHash(domain.SourceAudioURL, "https://cdn/a.mp3")
	b := sourceHash(domain.SourceAudioURL, "https://cdn/a.mp3")
	if a != b {
		t.Fatal("hash not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
	if a == sourceHash(domain.SourceFileUpload, "https://cdn/a.mp3") {
		t.Fatal("hash ignores the source type")
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"en", "en"},
		{"EN-us", "en-US"},
		{" el ", "el"},
		{"definitely-not-a-tag!!", ""},
	}
	for _, c := range cases {
		if got := normalizeLanguage(c.in); got != c.want {
			t.Errorf("normalizeLanguage(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
