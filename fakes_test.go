package httpreply

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/httpreply/cache"
)

// handlerFunc plays the origin for one exchange. It runs on its own
// goroutine, like a real transport worker.
type handlerFunc func(item *WorkItem, d *Delegate)

type fakeTransport struct {
	handler handlerFunc
	mu      sync.Mutex
	items   []*WorkItem
	aborted atomic.Int32
}

func (t *fakeTransport) Open(item *WorkItem, d *Delegate) Exchange {
	t.mu.Lock()
	t.items = append(t.items, item)
	t.mu.Unlock()
	go t.handler(item, d)
	return &fakeExchange{t: t}
}

func (t *fakeTransport) opened() []*WorkItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*WorkItem(nil), t.items...)
}

type fakeExchange struct {
	t    *fakeTransport
	once sync.Once
}

func (x *fakeExchange) Abort() {
	x.once.Do(func() { x.t.aborted.Add(1) })
}

func respond(d *Delegate, status int, header http.Header, body string) {
	if header == nil {
		header = http.Header{}
	}
	d.StatusAndHeaders(ResponseInfo{
		StatusCode:    status,
		Header:        header,
		ContentLength: int64(len(body)),
	})
	if body != "" {
		d.BodyChunk([]byte(body))
	}
	d.Finished()
}

func noNetwork(t *testing.T) handlerFunc {
	return func(item *WorkItem, d *Delegate) {
		t.Errorf("Unexpected request to %s", item.URL)
		d.Fail(newError(UnknownNetworkError, "unexpected request"))
	}
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, handler handlerFunc, store cache.Store) (*Manager, *fakeTransport) {
	transport := &fakeTransport{handler: handler}
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
	m := NewManager(Config{
		Transport: transport,
		Cache:     store,
		Logger:    &logger,
		Now:       func() time.Time { return testNow },
	})
	return m, transport
}

func mustRequest(t *testing.T, method, rawURL string) *Request {
	req, err := NewRequest(method, rawURL)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func syncRequest(t *testing.T, method, rawURL string) *Request {
	req := mustRequest(t, method, rawURL)
	req.Attributes.Synchronous = true
	return req
}

func readBody(t *testing.T, r *Reply) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, _ := r.ReadAll(ctx)
	return string(b)
}

func wait(t *testing.T, r *Reply) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-r.Done():
	case <-ctx.Done():
		t.Fatalf("Reply did not finish")
	}
}

// storeEntry puts a response into the store as if it had been saved earlier.
func storeEntry(t *testing.T, store cache.Store, rawURL string, status int, header http.Header, expiration time.Time, body string) {
	u, _ := url.Parse(rawURL)
	w, err := store.Prepare(cache.Metadata{
		URL:        u,
		Header:     header,
		Expiration: expiration,
		SaveToDisk: true,
		Attributes: cache.Attributes{StatusCode: status},
	})
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte(body))
	if err := store.Insert(w); err != nil {
		t.Fatal(err)
	}
}

func storedBody(t *testing.T, store cache.Store, rawURL string) (string, bool) {
	u, _ := url.Parse(rawURL)
	rc, ok := store.Open(u)
	if !ok {
		return "", false
	}
	defer rc.Close()
	b := make([]byte, 0, 64)
	buf := make([]byte, 64)
	for {
		n, err := rc.Read(buf)
		b = append(b, buf[:n]...)
		if err != nil {
			break
		}
	}
	return string(b), true
}

// hookCounter records notifications.
type hookCounter struct {
	mu        sync.Mutex
	finished  int
	errors    int
	readyRead int
	redirects []string
	order     []string
}

func (c *hookCounter) hooks() *Hooks {
	return &Hooks{
		ReadyRead: func(r *Reply) {
			c.mu.Lock()
			c.readyRead++
			c.mu.Unlock()
		},
		Redirected: func(r *Reply, target *url.URL) {
			c.mu.Lock()
			c.redirects = append(c.redirects, target.String())
			c.mu.Unlock()
		},
		Error: func(r *Reply, err error) {
			c.mu.Lock()
			c.errors++
			c.order = append(c.order, "error")
			c.mu.Unlock()
		},
		Finished: func(r *Reply) {
			c.mu.Lock()
			c.finished++
			c.order = append(c.order, "finished")
			c.mu.Unlock()
		},
	}
}

type fakeSession struct {
	mu     sync.Mutex
	open   bool
	delay  time.Duration
	err    error
	opened chan struct{}
	once   sync.Once
	noBg   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{opened: make(chan struct{})}
}

func (s *fakeSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSession) Open(ctx context.Context) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.opened) })
	return nil
}

func (s *fakeSession) Opened() <-chan struct{} {
	return s.opened
}

func (s *fakeSession) BackgroundRequestsAllowed() bool {
	return !s.noBg
}
