package httpreply

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
)

// Attribute names a reply attribute.
type Attribute int

const (
	HTTPStatusCodeAttribute Attribute = iota
	HTTPReasonPhraseAttribute
	ServedFromCacheAttribute
	RedirectionTargetAttribute
	ConnectionEncryptedAttribute
	CacheStatusAttribute
	HTTPPipeliningWasUsedAttribute
)

type Status struct {
	Code   int
	Reason string
}

// Hooks receive reply notifications. They run on the goroutine processing
// the reply, in order, and never concurrently for one reply. A hook must
// not block on the reply finishing.
type Hooks struct {
	MetaDataChanged  func(r *Reply)
	ReadyRead        func(r *Reply)
	DownloadProgress func(r *Reply, received, total int64)
	UploadProgress   func(r *Reply, sent, total int64)
	Redirected       func(r *Reply, target *url.URL)
	Error            func(r *Reply, err error)
	Finished         func(r *Reply)

	// Blocking decisions asked for by the transport.
	AuthenticationRequired      func(r *Reply, a *Authenticator)
	ProxyAuthenticationRequired func(r *Reply, proxy *url.URL, a *Authenticator)
	// SSLErrors returns true to continue despite the errors.
	SSLErrors    func(r *Reply, errs []error) bool
	PreSharedKey func(r *Reply, a *PreSharedKeyAuthenticator)
}

// Authenticator carries a challenge and receives credentials.
// Leaving User empty declines the challenge.
type Authenticator struct {
	Realm    string
	User     string
	Password string
}

type PreSharedKeyAuthenticator struct {
	IdentityHint string
	Identity     []byte
	Key          []byte
}

// Reply is the caller's handle to a request in progress. It is an io.Reader
// over the response body.
type Reply struct {
	id      string
	request *Request
	hooks   Hooks

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	cond       *sync.Cond
	url        *url.URL
	status     Status
	header     http.Header
	attributes map[Attribute]any
	buf        bytes.Buffer
	zeroCopy   []byte
	zeroRead   int
	err        error
	finished   bool
	downloaded int64

	// the body was fully received even though err is set
	bodyComplete bool

	readBufferSize atomic.Int64
	drained        chan struct{}
	// closed when the body is complete, before the finish hooks run
	complete chan struct{}
	// closed after the finish hooks ran
	done chan struct{}
}

func newReply(id string, req *Request, hooks *Hooks) *Reply {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reply{
		id:         id,
		request:    req,
		ctx:        ctx,
		cancel:     cancel,
		url:        req.URL,
		header:     http.Header{},
		attributes: map[Attribute]any{},
		drained:    make(chan struct{}, 1),
		complete:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	if hooks != nil {
		r.hooks = *hooks
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// ID identifies the reply in logs.
func (r *Reply) ID() string { return r.id }

// Request returns the request the reply was created for.
func (r *Reply) Request() *Request { return r.request }

// URL is the URL of the last hop, after redirects.
func (r *Reply) URL() *url.URL {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

func (r *Reply) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Reply) StatusCode() int {
	return r.Status().Code
}

func (r *Reply) Header(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.Get(name)
}

// Headers returns a copy of the response header.
func (r *Reply) Headers() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.Clone()
}

func (r *Reply) Attribute(a Attribute) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.attributes[a]
	return v, ok
}

// ServedFromCache reports whether the body came from the cache.
func (r *Reply) ServedFromCache() bool {
	v, _ := r.Attribute(ServedFromCacheAttribute)
	b, _ := v.(bool)
	return b
}

// Err returns the terminal error, if any.
func (r *Reply) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Reply) IsFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Done is closed when the reply has finished.
func (r *Reply) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the reply finishes or ctx is done.
func (r *Reply) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BytesDownloaded is the number of body bytes received so far, including
// bytes received before a resumed connection was lost.
func (r *Reply) BytesDownloaded() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.downloaded
}

func (r *Reply) BytesAvailable() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available()
}

func (r *Reply) available() int64 {
	if r.zeroCopy != nil {
		return int64(len(r.zeroCopy) - r.zeroRead)
	}
	return int64(r.buf.Len())
}

// ZeroCopyBuffer returns the caller-visible download buffer, or nil when
// the body is not being received into one.
func (r *Reply) ZeroCopyBuffer() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zeroCopy
}

// SetReadBufferSize limits how many unread bytes the reply holds before the
// transport stops reading from the network. Zero means unlimited.
func (r *Reply) SetReadBufferSize(n int64) {
	r.readBufferSize.Store(n)
	r.signalDrained()
}

func (r *Reply) ReadBufferSize() int64 {
	return r.readBufferSize.Load()
}

// Read reads body bytes, blocking until some are available or the reply
// finishes. After the body is drained it returns the reply error, or io.EOF.
func (r *Reply) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.available() == 0 && !r.finished {
		r.cond.Wait()
	}
	if r.available() == 0 {
		if r.err != nil && !r.bodyComplete {
			return 0, r.err
		}
		return 0, io.EOF
	}
	var n int
	if r.zeroCopy != nil {
		n = copy(p, r.zeroCopy[r.zeroRead:])
		r.zeroRead += n
	} else {
		n, _ = r.buf.Read(p)
	}
	r.signalDrained()
	return n, nil
}

// ReadAll waits for the body to be complete and returns all unread bytes.
// It may be called from a Finished hook.
func (r *Reply) ReadAll(ctx context.Context) ([]byte, error) {
	select {
	case <-r.complete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return b, err
	}
	return b, r.Err()
}

// Abort cancels the request. It is safe to call at any time and more than
// once.
func (r *Reply) Abort() {
	r.cancel()
}

func (r *Reply) signalDrained() {
	select {
	case r.drained <- struct{}{}:
	default:
	}
}

// waitForRoom blocks while the unread data is at the read buffer limit.
func (r *Reply) waitForRoom(pending int, stop <-chan struct{}) bool {
	for {
		limit := r.readBufferSize.Load()
		if limit <= 0 || r.BytesAvailable()+int64(pending) < limit {
			return true
		}
		select {
		case <-r.drained:
		case <-stop:
			return false
		}
	}
}

// The methods below are only called by the engine.

func (r *Reply) setURL(u *url.URL) {
	r.mu.Lock()
	r.url = u
	r.mu.Unlock()
}

func (r *Reply) setStatus(code int, reason string, header http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reason == "" {
		reason = http.StatusText(code)
	}
	r.status = Status{Code: code, Reason: reason}
	r.header = header
	r.attributes[HTTPStatusCodeAttribute] = code
	r.attributes[HTTPReasonPhraseAttribute] = reason
}

func (r *Reply) setAttribute(a Attribute, v any) {
	r.mu.Lock()
	r.attributes[a] = v
	r.mu.Unlock()
}

func (r *Reply) appendData(p []byte) {
	r.mu.Lock()
	r.buf.Write(p)
	r.downloaded += int64(len(p))
	r.mu.Unlock()
	r.cond.Broadcast()
}

// setZeroCopy exposes buf as the download buffer. Its length is the number
// of bytes received so far.
func (r *Reply) setZeroCopy(buf []byte) {
	r.mu.Lock()
	grown := int64(len(buf) - len(r.zeroCopy))
	r.zeroCopy = buf
	r.downloaded += grown
	r.mu.Unlock()
	r.cond.Broadcast()
}

// discardData drops unread data that has not been handed out yet. Used when
// a hop's body turns out not to be the reply's body.
func (r *Reply) discardData() {
	r.mu.Lock()
	r.downloaded -= int64(r.buf.Len())
	r.buf.Reset()
	r.zeroCopy = nil
	r.zeroRead = 0
	r.mu.Unlock()
}

func (r *Reply) setError(err error, bodyComplete bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false
	}
	r.err = err
	r.bodyComplete = bodyComplete
	return true
}

func (r *Reply) markFinished() bool {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return false
	}
	r.finished = true
	close(r.complete)
	r.mu.Unlock()
	r.cond.Broadcast()
	return true
}

// closeDone is called once the finish hooks have run.
func (r *Reply) closeDone() {
	close(r.done)
	r.cancel()
}
