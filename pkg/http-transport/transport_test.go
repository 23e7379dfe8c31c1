package httptransport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/always-cache/httpreply"
	"github.com/always-cache/httpreply/bytesource"
	"github.com/always-cache/httpreply/cache"
)

func newManager(t *testing.T, store cache.Store) *httpreply.Manager {
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
	transport, err := New(Config{Logger: &logger, ChunkSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	return httpreply.NewManager(httpreply.Config{
		Transport: transport,
		Cache:     store,
		Logger:    &logger,
	})
}

func get(t *testing.T, m *httpreply.Manager, rawURL string, hooks *httpreply.Hooks) (*httpreply.Reply, string) {
	req, err := httpreply.NewRequest("GET", rawURL)
	if err != nil {
		t.Fatal(err)
	}
	req.Attributes.Synchronous = true
	r := m.Do(req, hooks)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	body, _ := r.ReadAll(ctx)
	return r, string(body)
}

func TestFetchAndCache(t *testing.T) {
	var hits atomic.Int32
	origin := chi.NewRouter()
	origin.Get("/page", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("X-Origin", "yes")
		w.Write([]byte("a longer body that spans several chunks"))
	})
	server := httptest.NewServer(origin)
	defer server.Close()

	m := newManager(t, cache.NewMemStore())
	r, body := get(t, m, server.URL+"/page", nil)
	if err := r.Err(); err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if body != "a longer body that spans several chunks" || r.Header("X-Origin") != "yes" {
		t.Fatalf("Body %q, header %v", body, r.Headers())
	}
	if r.Status().Reason != "OK" {
		t.Fatalf("Reason phrase is %q", r.Status().Reason)
	}

	r, body = get(t, m, server.URL+"/page", nil)
	if body != "a longer body that spans several chunks" || !r.ServedFromCache() {
		t.Fatalf("Second fetch: body %q, from cache %v", body, r.ServedFromCache())
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("Origin hit %d times", n)
	}
}

func TestFollowRedirects(t *testing.T) {
	origin := chi.NewRouter()
	origin.Get("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	origin.Get("/stream", func(w http.ResponseWriter, r *http.Request) {
		// no Content-Length
		w.Header().Set("Location", "/new")
		w.WriteHeader(http.StatusFound)
		w.(http.Flusher).Flush()
		w.Write([]byte("moved"))
	})
	origin.Get("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new place"))
	})
	server := httptest.NewServer(origin)
	defer server.Close()

	m := newManager(t, nil)
	for _, path := range []string{"/old", "/stream"} {
		r, body := get(t, m, server.URL+path, nil)
		if body != "new place" || r.Err() != nil {
			t.Fatalf("%s: body %q, error %v", path, body, r.Err())
		}
		if r.URL().Path != "/new" {
			t.Fatalf("%s: final URL is %s", path, r.URL())
		}
	}
}

func TestRedirectNotFollowed(t *testing.T) {
	origin := chi.NewRouter()
	origin.Get("/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/new")
		w.WriteHeader(http.StatusFound)
		w.(http.Flusher).Flush()
		w.Write([]byte("moved"))
	})
	origin.Get("/new", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("Redirect followed")
	})
	server := httptest.NewServer(origin)
	defer server.Close()

	m := newManager(t, nil)
	req, _ := httpreply.NewRequest("GET", server.URL+"/stream")
	req.Attributes.FollowRedirects = false
	r := m.Do(req, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	body, err := r.ReadAll(ctx)
	if err != nil || string(body) != "moved" {
		t.Fatalf("Body %q, error %v", body, err)
	}
	select {
	case <-r.Done():
	case <-ctx.Done():
		t.Fatalf("Reply did not finish")
	}
	if r.StatusCode() != http.StatusFound {
		t.Fatalf("Status is %d", r.StatusCode())
	}
	if r.Header("Location") != "/new" {
		t.Fatalf("Location is %q", r.Header("Location"))
	}
}

func TestBasicAuthRetryResendsBody(t *testing.T) {
	origin := chi.NewRouter()
	origin.Post("/private", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		user, password, ok := r.BasicAuth()
		if !ok || user != "alice" || password != "secret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="vault"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, "%s:%s", user, body)
	})
	server := httptest.NewServer(origin)
	defer server.Close()

	m := newManager(t, nil)
	var realms []string
	hooks := &httpreply.Hooks{AuthenticationRequired: func(r *httpreply.Reply, a *httpreply.Authenticator) {
		realms = append(realms, a.Realm)
		a.User, a.Password = "alice", "secret"
	}}
	req, _ := httpreply.NewRequest("POST", server.URL+"/private")
	req.Attributes.Synchronous = true
	req.Body = bytesource.FromString("payload")
	r := m.Do(req, hooks)
	body, err := r.ReadAll(context.Background())
	if err != nil || string(body) != "alice:payload" {
		t.Fatalf("Body %q, error %v", body, err)
	}
	if len(realms) != 1 || realms[0] != "vault" {
		t.Fatalf("Realms asked for: %v", realms)
	}

	req, _ = httpreply.NewRequest("POST", server.URL+"/private")
	req.Attributes.Synchronous = true
	req.Body = bytesource.FromString("payload")
	r = m.Do(req, nil)
	if !httpreply.IsCode(r.Err(), httpreply.AuthenticationRequiredError) {
		t.Fatalf("Error is %v", r.Err())
	}
}

func TestStreamedUpload(t *testing.T) {
	origin := chi.NewRouter()
	origin.Put("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "%d:%s", r.ContentLength, body)
	})
	server := httptest.NewServer(origin)
	defer server.Close()

	m := newManager(t, nil)
	req, _ := httpreply.NewRequest("PUT", server.URL+"/echo")
	req.Attributes.Synchronous = true
	req.Body = bytesource.FromReader(strings.NewReader("streamed"))
	r := m.Do(req, nil)
	body, err := r.ReadAll(context.Background())
	if err != nil || string(body) != "8:streamed" {
		t.Fatalf("Body %q, error %v", body, err)
	}
}

func TestCertificateErrors(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secure"))
	}))
	defer server.Close()

	m := newManager(t, nil)
	r, _ := get(t, m, server.URL+"/", nil)
	if !httpreply.IsCode(r.Err(), httpreply.SslHandshakeFailedError) {
		t.Fatalf("Error is %v", r.Err())
	}

	var reported int
	hooks := &httpreply.Hooks{SSLErrors: func(r *httpreply.Reply, errs []error) bool {
		reported += len(errs)
		return true
	}}
	r, body := get(t, m, server.URL+"/again", hooks)
	if body != "secure" || r.Err() != nil {
		t.Fatalf("Body %q, error %v", body, r.Err())
	}
	if reported == 0 {
		t.Fatalf("Certificate errors not reported")
	}
	if encrypted, _ := r.Attribute(httpreply.ConnectionEncryptedAttribute); encrypted != true {
		t.Fatalf("Connection not reported as encrypted")
	}
}

func TestAbortCancelsExchange(t *testing.T) {
	canceled := make(chan struct{})
	origin := chi.NewRouter()
	origin.Get("/hang", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(canceled)
	})
	server := httptest.NewServer(origin)
	defer server.Close()

	m := newManager(t, nil)
	headers := make(chan struct{})
	hooks := &httpreply.Hooks{MetaDataChanged: func(r *httpreply.Reply) { close(headers) }}
	req, _ := httpreply.NewRequest("GET", server.URL+"/hang")
	r := m.Do(req, hooks)
	<-headers
	r.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-r.Done():
	case <-ctx.Done():
		t.Fatalf("Reply did not finish")
	}
	if !httpreply.IsCode(r.Err(), httpreply.OperationCanceledError) {
		t.Fatalf("Error is %v", r.Err())
	}
	select {
	case <-canceled:
	case <-ctx.Done():
		t.Fatalf("Origin request not canceled")
	}
}

func TestConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	m := newManager(t, nil)
	r, _ := get(t, m, addr+"/", nil)
	if !httpreply.IsCode(r.Err(), httpreply.ConnectionRefusedError) {
		t.Fatalf("Error is %v", r.Err())
	}
}

func TestBasicRealm(t *testing.T) {
	cases := []struct {
		challenge string
		realm     string
		basic     bool
	}{
		{`Basic realm="vault"`, "vault", true},
		{`basic charset="UTF-8", realm="x y"`, "x y", true},
		{`Basic`, "", true},
		{`Bearer realm="api"`, "", false},
		{``, "", false},
	}
	for _, c := range cases {
		realm, basic := basicRealm(c.challenge)
		if realm != c.realm || basic != c.basic {
			t.Fatalf("%q: got %q %v", c.challenge, realm, basic)
		}
	}
}
