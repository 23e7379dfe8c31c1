// Package httpreply runs HTTP requests as asynchronous replies with an
// RFC 9111 cache in front of the network.
package httpreply

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/always-cache/httpreply/bytesource"
	"github.com/always-cache/httpreply/cache"
	responsetransformer "github.com/always-cache/httpreply/pkg/response-transformer"
)

// Transport performs HTTP exchanges on behalf of the engine.
type Transport interface {
	// Open starts the exchange described by item and returns immediately.
	// Everything that happens is reported through d.
	Open(item *WorkItem, d *Delegate) Exchange
}

// Exchange is an exchange in progress.
type Exchange interface {
	// Abort stops the exchange. The delegate must not be used afterwards.
	Abort()
}

// Session is the network session (bearer) requests go out over.
type Session interface {
	IsOpen() bool
	// Open brings the session up, blocking until it is open or failed.
	// It may be called by several replies at once.
	Open(ctx context.Context) error
	// Opened is closed once the session is open.
	Opened() <-chan struct{}
}

// BackgroundPolicy is implemented by sessions that can refuse background
// requests.
type BackgroundPolicy interface {
	BackgroundRequestsAllowed() bool
}

// ErrProxyNotFound is returned by a ProxyResolver that cannot pick a proxy.
var ErrProxyNotFound = errors.New("proxy not found")

// ProxyResolver picks the proxy for a URL. A nil URL means a direct
// connection.
type ProxyResolver func(u *url.URL) (*url.URL, error)

// CredentialsFunc supplies credentials when no AuthenticationRequired hook
// does.
type CredentialsFunc func(u *url.URL, realm string) (user, password string, ok bool)

type ByteSource = bytesource.Source

type Config struct {
	// Transport performing the exchanges. Required.
	Transport Transport
	// Storage for cached responses. Caching is off if nil.
	Cache cache.Store
	// Session requests need to go out. Always open if nil.
	Session Session
	// Proxy resolution. Direct connections if nil.
	Proxy ProxyResolver
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Number of replies processed concurrently. Synchronous requests are not
	// counted.
	MaxConcurrentExchanges int64
	// Rules applied to response headers before deciding to cache them.
	Rules responsetransformer.Rules
	// Minimum time between progress notifications.
	ProgressInterval time.Duration
	Credentials      CredentialsFunc
	// Clock used for freshness decisions.
	Now func() time.Time
	// Fetch the resources listed in Cache-Update response headers of unsafe
	// requests, refreshing their stored copies.
	FollowCacheUpdates bool
}

const (
	defaultMaxConcurrentExchanges = 6
	defaultProgressInterval       = 100 * time.Millisecond
)

// Manager dispatches requests and owns the resources they share.
type Manager struct {
	config Config
	log    zerolog.Logger
	sem    *semaphore.Weighted
}

func NewManager(config Config) *Manager {
	if config.Transport == nil {
		panic("httpreply: Config.Transport is required")
	}
	if config.MaxConcurrentExchanges <= 0 {
		config.MaxConcurrentExchanges = defaultMaxConcurrentExchanges
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = defaultProgressInterval
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Manager{
		config: config,
		log:    logger,
		sem:    semaphore.NewWeighted(config.MaxConcurrentExchanges),
	}
}

// Do starts processing req and returns its reply. The request must not be
// modified afterwards. Synchronous requests return a finished reply.
func (m *Manager) Do(req *Request, hooks *Hooks) *Reply {
	id := uuid.NewString()
	reply := newReply(id, req, hooks)
	logger := m.log.With().
		Str("reply", id).
		Str("method", req.Method()).
		Stringer("url", req.URL).
		Logger()
	e := newEngine(m, reply, logger)

	if req.Attributes.Synchronous {
		e.run()
		return reply
	}
	go func() {
		if err := m.sem.Acquire(reply.ctx, 1); err != nil {
			// aborted while queued
			e.run()
			return
		}
		defer m.sem.Release(1)
		e.run()
	}()
	return reply
}

func (m *Manager) Get(req *Request, hooks *Hooks) *Reply {
	return m.Send(req, "GET", nil, hooks)
}

func (m *Manager) Head(req *Request, hooks *Hooks) *Reply {
	return m.Send(req, "HEAD", nil, hooks)
}

func (m *Manager) Post(req *Request, body ByteSource, hooks *Hooks) *Reply {
	return m.Send(req, "POST", body, hooks)
}

func (m *Manager) Put(req *Request, body ByteSource, hooks *Hooks) *Reply {
	return m.Send(req, "PUT", body, hooks)
}

func (m *Manager) Delete(req *Request, hooks *Hooks) *Reply {
	return m.Send(req, "DELETE", nil, hooks)
}

// Send issues req with an arbitrary method.
func (m *Manager) Send(req *Request, method string, body ByteSource, hooks *Hooks) *Reply {
	r := req.Clone()
	r.SetMethod(method)
	if body != nil {
		r.Body = body
	}
	return m.Do(r, hooks)
}

// refresh fetches u from the network after delay so that the cache holds
// its current version.
func (m *Manager) refresh(u *url.URL, delay time.Duration) {
	start := func() {
		req := &Request{
			URL:        u,
			Operation:  Get,
			Header:     http.Header{},
			Known:      map[KnownHeader]string{},
			Attributes: DefaultAttributes(),
		}
		req.Attributes.CacheLoadControl = AlwaysNetwork
		req.Attributes.Background = true
		m.Do(req, nil)
	}
	if delay > 0 {
		time.AfterFunc(delay, start)
		return
	}
	start()
}
