package cacheupdate

import (
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestGetCacheUpdates(t *testing.T) {
	target, _ := url.Parse("https://example.com/items/new")
	header := http.Header{}
	header.Add("Cache-Update", "/items; delay=5, list#top")
	header.Add("Cache-Update", "https://other.example/items")

	updates := GetCacheUpdates("POST", target, header)
	if len(updates) != 2 {
		t.Fatalf("Expected 2 updates, got %v", updates)
	}
	if updates[0].URL.String() != "https://example.com/items" || updates[0].Delay != 5*time.Second {
		t.Fatalf("First update is %v after %s", updates[0].URL, updates[0].Delay)
	}
	if updates[1].URL.String() != "https://example.com/items/list" || updates[1].Delay != 0 {
		t.Fatalf("Second update is %v after %s", updates[1].URL, updates[1].Delay)
	}
}

func TestNoUpdatesForSafeMethods(t *testing.T) {
	target, _ := url.Parse("https://example.com/")
	header := http.Header{"Cache-Update": {"/items"}}
	if updates := GetCacheUpdates("GET", target, header); len(updates) != 0 {
		t.Fatalf("GET produced updates %v", updates)
	}
}

func TestGetDelay(t *testing.T) {
	cases := map[string]time.Duration{
		"/a":             0,
		"/a; delay=10":   10 * time.Second,
		"/a;DELAY=3;x=1": 3 * time.Second,
		"/a; delay=x":    0,
	}
	for value, want := range cases {
		if got := getDelay(value); got != want {
			t.Fatalf("%q: got %s, expected %s", value, got, want)
		}
	}
}
