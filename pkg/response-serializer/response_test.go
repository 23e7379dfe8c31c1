package serializer

import (
	"net/http"
	"testing"
	"time"
)

func TestStoredResponseSerialization(t *testing.T) {
	header := http.Header{}
	header.Add("Test", "-ing")
	header.Set("Content-Length", "999")
	storedAt := time.Unix(time.Now().Unix(), 0)
	expires := storedAt.Add(time.Minute)

	bts, err := StoredResponseToBytes(StoredResponse{
		URL:            "http://x/a",
		StatusCode:     301,
		Header:         header,
		Expires:        expires,
		RedirectTarget: "http://x/b",
		SaveToDisk:     true,
		StoredAt:       storedAt,
		Body:           []byte("This is the body\r\n\r\nwith a blank line"),
	})
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}

	sRes, err := BytesToStoredResponse(bts)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if sRes.Header.Get("Test") != "-ing" {
		t.Fatalf("Test header wrong %+v", sRes.Header)
	}
	if sRes.Header.Get(urlHeaderName) != "" || sRes.Header.Get(storedAtHeaderName) != "" {
		t.Fatalf("Internal headers leaked %+v", sRes.Header)
	}
	if sRes.StatusCode != 301 || sRes.ReasonPhrase != "Moved Permanently" {
		t.Fatalf("Status is %d %s", sRes.StatusCode, sRes.ReasonPhrase)
	}
	if sRes.URL != "http://x/a" || sRes.RedirectTarget != "http://x/b" || !sRes.SaveToDisk {
		t.Fatalf("Bookkeeping wrong %+v", sRes)
	}
	if !sRes.Expires.Equal(expires) || !sRes.StoredAt.Equal(storedAt) {
		t.Fatalf("Times wrong %v %v", sRes.Expires, sRes.StoredAt)
	}
	if string(sRes.Body) != "This is the body\r\n\r\nwith a blank line" {
		t.Fatalf("Body: %q", sRes.Body)
	}
}

func TestNoExpiration(t *testing.T) {
	bts, err := StoredResponseToBytes(StoredResponse{URL: "http://x/", StatusCode: 200})
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	sRes, err := BytesToStoredResponse(bts)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if !sRes.Expires.IsZero() {
		t.Fatalf("Expires is %v", sRes.Expires)
	}
	if len(sRes.Body) != 0 {
		t.Fatalf("Body: %q", sRes.Body)
	}
}

func TestMalformed(t *testing.T) {
	if _, err := BytesToStoredResponse([]byte("garbage\r\n\r\n")); err == nil {
		t.Fatal("Expected error")
	}
}
