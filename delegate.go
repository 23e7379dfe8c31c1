package httpreply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
)

// WorkItem is what a Transport needs to perform one exchange.
type WorkItem struct {
	// Context is canceled when the engine gives up on the exchange.
	Context context.Context
	Method  string
	URL     *url.URL
	Header  http.Header
	// HasBody is set when the body must be pulled through Delegate.Upload.
	HasBody bool
	// BodySize is -1 when the body length is unknown.
	BodySize int64
	// Proxy is nil for a direct connection.
	Proxy       *url.URL
	Priority    Priority
	Synchronous bool
	// FollowRedirects is false when redirect responses are the final reply.
	FollowRedirects    bool
	RedirectsRemaining int
	ReplyID            string
}

// ResponseInfo is the parsed status line and header of a response.
type ResponseInfo struct {
	StatusCode     int
	ReasonPhrase   string
	Header         http.Header
	PipeliningUsed bool
	// ContentLength is -1 when unknown.
	ContentLength int64
	Encrypted     bool
}

type eventKind int

const (
	evHeaders eventKind = iota
	evData
	evProgress
	evRedirect
	evFail
	evFinished
	evAuth
	evProxyAuth
	evSSLErrors
	evPreSharedKey
	evWantData
	evProcessed
	evResetUpload
)

type event struct {
	kind eventKind
	d    *Delegate

	info   ResponseInfo
	target *url.URL
	status int
	err    error
	n      int64

	proxy  *url.URL
	auth   *Authenticator
	psk    *PreSharedKeyAuthenticator
	errs   []error
	answer chan answer
}

// answer is the engine's reply to a blocking request from the worker.
type answer struct {
	ok   bool
	data []byte
	pos  int64
	err  error
}

// Delegate is the worker side of one exchange. A Transport reports what
// happens on the wire through it. Every method may be called from any
// goroutine except the engine's own.
type Delegate struct {
	item   *WorkItem
	events chan<- event
	reply  *Reply
	done   chan struct{}
	once   sync.Once

	// pending-emission flags shared with the engine
	pendingData     atomic.Int32
	pendingProgress atomic.Int32

	mu       sync.Mutex
	holding  []byte
	zeroCopy []byte
	zeroMax  int64

	received atomic.Int64
	total    atomic.Int64

	// worker-side upload position
	uploadPos int64
}

func newDelegate(item *WorkItem, events chan<- event, reply *Reply, zeroMax int64) *Delegate {
	d := &Delegate{
		item:    item,
		events:  events,
		reply:   reply,
		done:    make(chan struct{}),
		zeroMax: zeroMax,
	}
	d.total.Store(-1)
	return d
}

// Item returns the work item the delegate was created for.
func (d *Delegate) Item() *WorkItem { return d.item }

// Done is closed when the engine no longer listens to this delegate.
func (d *Delegate) Done() <-chan struct{} { return d.done }

func (d *Delegate) release() {
	d.once.Do(func() { close(d.done) })
}

func (d *Delegate) send(ev event) bool {
	ev.d = d
	select {
	case d.events <- ev:
		return true
	case <-d.done:
		return false
	}
}

// request sends a blocking request and waits for the engine's answer.
func (d *Delegate) request(ev event) (answer, bool) {
	ev.answer = make(chan answer, 1)
	if !d.send(ev) {
		return answer{}, false
	}
	select {
	case a := <-ev.answer:
		return a, true
	case <-d.done:
		return answer{}, false
	}
}

// StatusAndHeaders reports the response status line and header.
func (d *Delegate) StatusAndHeaders(info ResponseInfo) {
	if info.ContentLength >= 0 && d.zeroMax > 0 && info.ContentLength <= d.zeroMax {
		d.mu.Lock()
		d.zeroCopy = make([]byte, 0, info.ContentLength)
		d.mu.Unlock()
	}
	if info.ContentLength >= 0 {
		d.total.Store(info.ContentLength)
	}
	d.send(event{kind: evHeaders, info: info})
}

// BodyChunk hands over body bytes. p may be reused after the call returns.
// Only one notification is outstanding at any time; chunks that arrive
// while one is pending are merged into it.
func (d *Delegate) BodyChunk(p []byte) {
	if len(p) == 0 {
		return
	}
	d.mu.Lock()
	pending := len(d.holding)
	d.mu.Unlock()
	if !d.reply.waitForRoom(pending, d.done) {
		return
	}

	d.mu.Lock()
	if d.zeroCopy != nil {
		if len(d.zeroCopy)+len(p) > cap(d.zeroCopy) {
			d.mu.Unlock()
			d.Fail(newError(ProtocolFailure, "body longer than announced %d bytes", cap(d.zeroCopy)))
			return
		}
		d.zeroCopy = append(d.zeroCopy, p...)
	} else {
		d.holding = append(d.holding, p...)
	}
	d.mu.Unlock()

	if d.pendingData.CompareAndSwap(0, 1) {
		d.send(event{kind: evData})
	}
}

// takeData is called by the engine. It clears the pending flag before
// taking the held bytes so that chunks arriving meanwhile raise a new
// notification.
func (d *Delegate) takeData() (held []byte, zeroCopy []byte) {
	d.pendingData.Store(0)
	d.mu.Lock()
	defer d.mu.Unlock()
	held = d.holding
	d.holding = nil
	return held, d.zeroCopy
}

// Progress reports download progress. total is -1 when unknown.
func (d *Delegate) Progress(received, total int64) {
	d.received.Store(received)
	d.total.Store(total)
	if d.pendingProgress.CompareAndSwap(0, 1) {
		d.send(event{kind: evProgress})
	}
}

func (d *Delegate) takeProgress() (int64, int64) {
	d.pendingProgress.Store(0)
	return d.received.Load(), d.total.Load()
}

// RedirectSeen reports that the response is a redirect to target.
func (d *Delegate) RedirectSeen(target *url.URL, statusCode int, redirectsRemaining int) {
	d.send(event{kind: evRedirect, target: target, status: statusCode, n: int64(redirectsRemaining)})
}

// Fail ends the exchange with an error.
func (d *Delegate) Fail(err error) {
	if err == nil {
		err = errors.New("transport failed without an error")
	}
	d.send(event{kind: evFail, err: err})
}

// Finished ends the exchange successfully. No events may follow.
func (d *Delegate) Finished() {
	d.send(event{kind: evFinished})
}

// AuthenticationRequired asks for server credentials and blocks until
// they are supplied or declined.
func (d *Delegate) AuthenticationRequired(realm string) (user, password string, ok bool) {
	a := &Authenticator{Realm: realm}
	if _, sent := d.request(event{kind: evAuth, auth: a}); !sent || a.User == "" {
		return "", "", false
	}
	return a.User, a.Password, true
}

// ProxyAuthenticationRequired asks for proxy credentials.
func (d *Delegate) ProxyAuthenticationRequired(proxy *url.URL, realm string) (user, password string, ok bool) {
	a := &Authenticator{Realm: realm}
	if _, sent := d.request(event{kind: evProxyAuth, auth: a, proxy: proxy}); !sent || a.User == "" {
		return "", "", false
	}
	return a.User, a.Password, true
}

// SSLErrors reports certificate problems and returns whether to continue.
func (d *Delegate) SSLErrors(errs []error) bool {
	a, ok := d.request(event{kind: evSSLErrors, errs: errs})
	return ok && a.ok
}

// PreSharedKey asks for a TLS pre-shared key identity and key.
func (d *Delegate) PreSharedKey(identityHint string) (*PreSharedKeyAuthenticator, bool) {
	a := &PreSharedKeyAuthenticator{IdentityHint: identityHint}
	if _, ok := d.request(event{kind: evPreSharedKey, psk: a}); !ok || len(a.Identity) == 0 {
		return nil, false
	}
	return a, true
}

// Upload returns a reader that pulls the request body from the engine.
func (d *Delegate) Upload() io.Reader {
	return uploadReader{d}
}

// ResetUpload rewinds the request body so it can be sent again. It blocks
// until the engine has tried, and reports whether that worked.
func (d *Delegate) ResetUpload() bool {
	a, ok := d.request(event{kind: evResetUpload})
	if !ok || !a.ok {
		return false
	}
	d.uploadPos = 0
	return true
}

type uploadReader struct {
	d *Delegate
}

// Read asks the engine for at most len(p) bytes, copies them and reports
// them as processed. The engine's position must match ours.
func (u uploadReader) Read(p []byte) (int, error) {
	d := u.d
	if len(p) == 0 {
		return 0, nil
	}
	a, ok := d.request(event{kind: evWantData, n: int64(len(p))})
	if !ok {
		return 0, context.Canceled
	}
	if a.err != nil {
		return 0, a.err
	}
	if a.pos != d.uploadPos {
		return 0, fmt.Errorf("upload position mismatch: engine at %d, sent %d", a.pos, d.uploadPos)
	}
	if len(a.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, a.data)
	d.uploadPos += int64(n)
	d.send(event{kind: evProcessed, n: int64(n)})
	return n, nil
}
