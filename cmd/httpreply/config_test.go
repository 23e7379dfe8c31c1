package main

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/always-cache/httpreply"
)

func TestGetConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yml")
	err := os.WriteFile(filename, []byte(`
db: memory
maxRedirects: 5
maxConcurrentExchanges: 2
progressInterval: 250ms
followCacheUpdates: true
rules:
  - prefix: /static/
    default: max-age=3600
`), 0644)
	if err != nil {
		t.Fatal(err)
	}

	config, err := getConfig(filename)
	if err != nil {
		t.Fatal(err)
	}
	if config.DB != "memory" || config.MaxRedirects != 5 || config.MaxConcurrentExchanges != 2 {
		t.Fatalf("Unexpected config %+v", config)
	}
	if config.ProgressInterval != 250*time.Millisecond || !config.FollowCacheUpdates {
		t.Fatalf("Unexpected config %+v", config)
	}
	if len(config.Rules) != 1 {
		t.Fatalf("Expected one rule, got %d", len(config.Rules))
	}

	u, _ := url.Parse("http://example.com/static/app.js")
	header := http.Header{}
	if !config.Rules.Apply("GET", u, http.StatusOK, header) || header.Get("Cache-Control") != "max-age=3600" {
		t.Fatalf("Rule not applied: %v", header)
	}
}

func TestParseCacheLoad(t *testing.T) {
	cases := map[string]httpreply.CacheLoadControl{
		"":               httpreply.PreferNetwork,
		"always-network": httpreply.AlwaysNetwork,
		"prefer-cache":   httpreply.PreferCache,
		"always-cache":   httpreply.AlwaysCache,
	}
	for value, want := range cases {
		got, err := parseCacheLoad(value)
		if err != nil || got != want {
			t.Fatalf("%q: got %v, %v", value, got, err)
		}
	}
	if _, err := parseCacheLoad("sometimes"); err == nil {
		t.Fatalf("Unknown value accepted")
	}
}
