package rfc9111

import (
	"net/http"
	"net/url"
	"testing"
)

func TestGetInvalidateURIs(t *testing.T) {
	target, _ := url.Parse("http://x/items/1")
	h := http.Header{}
	h.Set("Location", "/items")
	h.Set("Content-Location", "http://elsewhere/items/1")

	uris := GetInvalidateURIs("POST", target, 201, h)
	if len(uris) != 2 {
		t.Fatalf("URIs are %v", uris)
	}
	if uris[1].String() != "http://x/items" {
		t.Fatalf("Location resolved to %s", uris[1])
	}
	if uris := GetInvalidateURIs("GET", target, 200, h); uris != nil {
		t.Fatal("Safe methods never invalidate")
	}
	if uris := GetInvalidateURIs("DELETE", target, 500, h); uris != nil {
		t.Fatal("Error responses never invalidate")
	}
}

func TestFreshenHeader(t *testing.T) {
	stored := http.Header{}
	stored.Set("ETag", "\"v1\"")
	stored.Set("Date", "Mon, 03 Oct 2022 10:00:00 GMT")
	stored.Set("Age", "100")
	validation := http.Header{}
	validation.Set("Date", "Tue, 04 Oct 2022 10:00:00 GMT")
	validation.Set("ETag", "\"v2\"")

	h := FreshenHeader(stored, validation)
	if h.Get("Date") != "Tue, 04 Oct 2022 10:00:00 GMT" {
		t.Fatalf("Date is %s", h.Get("Date"))
	}
	if h.Get("Age") != "" {
		t.Fatal("Stale Age kept")
	}
	if h.Get("ETag") != "\"v1\"" {
		t.Fatal("Only Date and Age may change")
	}
}

func TestAddConditionalHeaders(t *testing.T) {
	stored := http.Header{}
	stored.Set("ETag", "\"v1\"")
	stored.Set("Last-Modified", "Mon, 03 Oct 2022 10:00:00 GMT")
	req := http.Header{}
	req.Set("If-Modified-Since", "caller")
	AddConditionalHeaders(req, stored)
	if req.Get("If-None-Match") != "\"v1\"" {
		t.Fatal("If-None-Match missing")
	}
	if req.Get("If-Modified-Since") != "caller" {
		t.Fatal("Caller precondition overwritten")
	}
}
