package httptransport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"

	"github.com/always-cache/httpreply"
	"github.com/always-cache/httpreply/rfc9111"
)

const (
	defaultChunkSize = 32 * 1024
	// redirect bodies up to this size are read so the redirect can be cached
	maxRedirectBody = 64 * 1024
	maxAuthAttempts = 3
)

var errNotRewindable = errors.New("request body cannot be sent again")

type Config struct {
	// TLS settings for origin connections. Certificates are verified
	// against RootCAs, or the system pool when nil.
	TLSConfig *tls.Config
	// Cookie jar shared by all exchanges. Cookies are off if nil.
	Jar http.CookieJar
	// Size of the body chunks handed to the engine.
	ChunkSize   int
	DialTimeout time.Duration
	// Disable HTTP/2 negotiation.
	DisableHTTP2 bool
	Logger       *zerolog.Logger
}

// Transport performs exchanges with net/http.
type Transport struct {
	client    *http.Client
	tlsConfig *tls.Config
	dialer    *net.Dialer
	chunkSize int
	log       zerolog.Logger
}

// exchange is one request in flight. It travels in the request context so
// the dialer and proxy function can reach the delegate.
type exchange struct {
	item   *httpreply.WorkItem
	d      *httpreply.Delegate
	cancel context.CancelFunc

	mu    sync.Mutex
	proxy *url.URL
}

type exchangeKey struct{}

func (x *exchange) Abort() {
	x.cancel()
}

func (x *exchange) proxyURL() *url.URL {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.proxy
}

func (x *exchange) setProxy(u *url.URL) {
	x.mu.Lock()
	x.proxy = u
	x.mu.Unlock()
}

func New(config Config) (*Transport, error) {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	tlsConfig := &tls.Config{}
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 30 * time.Second
	}

	t := &Transport{
		tlsConfig: tlsConfig,
		dialer:    &net.Dialer{Timeout: config.DialTimeout, KeepAlive: 30 * time.Second},
		chunkSize: config.ChunkSize,
		log:       logger.With().Str("component", "http-transport").Logger(),
	}
	rt := &http.Transport{
		Proxy:                 proxyFromContext,
		DialContext:           t.dialer.DialContext,
		DialTLSContext:        t.dialTLS,
		TLSClientConfig:       tlsConfig.Clone(),
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		// the engine decodes nothing, bodies are cached as received
		DisableCompression: true,
	}
	if !config.DisableHTTP2 {
		if err := http2.ConfigureTransport(rt); err != nil {
			return nil, fmt.Errorf("configuring http2: %w", err)
		}
	}
	t.client = &http.Client{
		Transport: rt,
		Jar:       config.Jar,
		// redirects are followed by the engine
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return t, nil
}

// Open starts the exchange on its own goroutine.
func (t *Transport) Open(item *httpreply.WorkItem, d *httpreply.Delegate) httpreply.Exchange {
	parent := item.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	x := &exchange{item: item, d: d, cancel: cancel, proxy: item.Proxy}
	ctx = context.WithValue(ctx, exchangeKey{}, x)
	go t.run(ctx, x)
	return x
}

func proxyFromContext(req *http.Request) (*url.URL, error) {
	if x, ok := req.Context().Value(exchangeKey{}).(*exchange); ok {
		return x.proxyURL(), nil
	}
	return nil, nil
}

func (t *Transport) run(ctx context.Context, x *exchange) {
	defer x.cancel()
	item, d := x.item, x.d
	logger := t.log.With().Str("reply", item.ReplyID).Str("method", item.Method).Stringer("url", item.URL).Logger()

	var user, password string
	for attempt := 0; ; attempt++ {
		req, err := t.newRequest(ctx, x)
		if err != nil {
			d.Fail(err)
			return
		}
		if user != "" {
			req.SetBasicAuth(user, password)
		}
		logger.Trace().Int("attempt", attempt).Msg("Sending request")
		res, err := t.client.Do(req)
		if err != nil {
			logger.Debug().Err(err).Msg("Request failed")
			d.Fail(err)
			return
		}
		if attempt < maxAuthAttempts && t.retryWithCredentials(res, x, &user, &password) {
			drain(res.Body)
			continue
		}
		t.deliver(ctx, res, x, logger)
		return
	}
}

// retryWithCredentials asks for credentials after a Basic challenge and
// reports whether the request should be sent again.
func (t *Transport) retryWithCredentials(res *http.Response, x *exchange, user, password *string) bool {
	var ok bool
	switch res.StatusCode {
	case http.StatusUnauthorized:
		realm, basic := basicRealm(res.Header.Get("WWW-Authenticate"))
		if !basic {
			return false
		}
		*user, *password, ok = x.d.AuthenticationRequired(realm)
	case http.StatusProxyAuthRequired:
		proxy := x.proxyURL()
		realm, basic := basicRealm(res.Header.Get("Proxy-Authenticate"))
		if proxy == nil || !basic {
			return false
		}
		var u, p string
		if u, p, ok = x.d.ProxyAuthenticationRequired(proxy, realm); ok {
			withAuth := *proxy
			withAuth.User = url.UserPassword(u, p)
			x.setProxy(&withAuth)
		}
	default:
		return false
	}
	if !ok {
		return false
	}
	return !x.item.HasBody || x.d.ResetUpload()
}

func (t *Transport) newRequest(ctx context.Context, x *exchange) (*http.Request, error) {
	item, d := x.item, x.d
	var body io.Reader
	if item.HasBody {
		body = d.Upload()
		if item.BodySize == 0 {
			body = http.NoBody
		}
	}
	req, err := http.NewRequestWithContext(ctx, item.Method, item.URL.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header = item.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
		req.Header.Del("Host")
	}
	if item.HasBody {
		req.ContentLength = item.BodySize
		if item.BodySize != 0 {
			req.Body = io.NopCloser(body)
		}
		// used by net/http when a reused connection fails before the body
		// went out
		req.GetBody = func() (io.ReadCloser, error) {
			if !d.ResetUpload() {
				return nil, errNotRewindable
			}
			return io.NopCloser(d.Upload()), nil
		}
	}
	return req, nil
}

// deliver streams the response to the delegate.
func (t *Transport) deliver(ctx context.Context, res *http.Response, x *exchange, logger zerolog.Logger) {
	defer res.Body.Close()
	d := x.d
	d.StatusAndHeaders(httpreply.ResponseInfo{
		StatusCode:    res.StatusCode,
		ReasonPhrase:  reasonPhrase(res),
		Header:        res.Header,
		ContentLength: res.ContentLength,
		Encrypted:     res.TLS != nil,
	})
	logger.Debug().Int("status", res.StatusCode).Str("proto", res.Proto).Msg("Received response")

	if loc := res.Header.Get("Location"); loc != "" && x.item.FollowRedirects &&
		rfc9111.IsRedirect(res.StatusCode) && (res.ContentLength < 0 || res.ContentLength > maxRedirectBody) {
		if target, err := x.item.URL.Parse(loc); err == nil {
			// not worth downloading a body that is thrown away
			d.RedirectSeen(target, res.StatusCode, x.item.RedirectsRemaining-1)
			return
		}
	}

	buf := make([]byte, t.chunkSize)
	var received int64
	for {
		n, err := res.Body.Read(buf)
		if n > 0 {
			received += int64(n)
			d.BodyChunk(buf[:n])
			d.Progress(received, res.ContentLength)
		}
		if errors.Is(err, io.EOF) {
			d.Finished()
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				logger.Debug().Err(err).Int64("received", received).Msg("Response body interrupted")
			}
			d.Fail(err)
			return
		}
	}
}

// dialTLS performs the handshake itself so that certificate problems can be
// put to the reply before giving up.
func (t *Transport) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	raw, err := t.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	config := t.tlsConfig.Clone()
	if config.ServerName == "" {
		config.ServerName = host
	}
	if len(config.NextProtos) == 0 {
		config.NextProtos = []string{"h2", "http/1.1"}
	}
	x, _ := ctx.Value(exchangeKey{}).(*exchange)
	verify := !config.InsecureSkipVerify
	config.InsecureSkipVerify = true
	if verify {
		roots, serverName := config.RootCAs, config.ServerName
		config.VerifyConnection = func(cs tls.ConnectionState) error {
			return verifyPeer(cs, roots, serverName, x)
		}
	}
	conn := tls.Client(raw, config)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

func verifyPeer(cs tls.ConnectionState, roots *x509.CertPool, serverName string, x *exchange) error {
	if len(cs.PeerCertificates) == 0 {
		return errors.New("no peer certificate")
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		DNSName:       serverName,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := cs.PeerCertificates[0].Verify(opts)
	if err == nil {
		return nil
	}
	if x != nil && x.d.SSLErrors([]error{err}) {
		return nil
	}
	return err
}

func reasonPhrase(res *http.Response) string {
	return strings.TrimSpace(strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode)))
}

// basicRealm extracts the realm of a Basic challenge.
func basicRealm(challenge string) (string, bool) {
	scheme, params, _ := strings.Cut(strings.TrimSpace(challenge), " ")
	if !strings.EqualFold(scheme, "Basic") {
		return "", false
	}
	for _, param := range strings.Split(params, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if found && strings.EqualFold(name, "realm") {
			return strings.Trim(value, `"`), true
		}
	}
	return "", true
}

func drain(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, maxRedirectBody))
	body.Close()
}
