package httpreply

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/httpreply/bytesource"
	"github.com/always-cache/httpreply/cache"
	"github.com/always-cache/httpreply/rfc9211"
)

const (
	eventQueueSize = 64
	maxMigrations  = 3
	// how often sources without ReadyRead notifications are polled
	sourcePollInterval = 10 * time.Millisecond
)

// engine drives one reply from dispatch to completion. All of its state is
// owned by the goroutine running run; transports talk to it through the
// events channel only.
type engine struct {
	m     *Manager
	reply *Reply
	hooks Hooks
	log   zerolog.Logger
	store cache.Store

	state  ReplyState
	events chan event
	// set once the reply is finished; the loop stops
	finished bool

	// current hop
	req        *Request
	hopHeader  http.Header
	delegate   *Delegate
	exchange   Exchange
	hopCancel  context.CancelFunc
	proxy      *url.URL
	info       ResponseInfo
	gotHeaders bool
	// the body of this hop is not the reply's body
	discardBody  bool
	acceptRanges bool
	redirecting  bool
	zeroCopySeen int

	// cache
	cached      *cache.Metadata
	fromCache   bool
	cacheWriter cache.Writer
	cacheStatus rfc9211.CacheStatus

	redirectsLeft int

	// migration; resumeFrom is -1 unless the hop resumes a download
	migrations int
	resumeFrom int64

	// upload
	upload     bytesource.Source
	uploadBase int64
	ring       *bytesource.Ring
	want       *event

	sessionOpened <-chan struct{}
	sessionErr    chan error

	download throttle
	uploaded throttle
}

func newEngine(m *Manager, reply *Reply, logger zerolog.Logger) *engine {
	req := reply.request
	return &engine{
		m:             m,
		reply:         reply,
		hooks:         reply.hooks,
		log:           logger,
		store:         m.config.Cache,
		events:        make(chan event, eventQueueSize),
		req:           req,
		redirectsLeft: req.Attributes.MaxRedirects,
		resumeFrom:    -1,
		download:      throttle{interval: m.config.ProgressInterval},
		uploaded:      throttle{interval: m.config.ProgressInterval},
	}
}

func (e *engine) now() time.Time {
	return e.m.config.Now()
}

func (e *engine) run() {
	if e.reply.ctx.Err() != nil {
		e.abort()
		return
	}
	e.log.Trace().Msg("Starting request")
	e.start()
	for !e.finished {
		select {
		case ev := <-e.events:
			e.handle(ev)
		case <-e.reply.ctx.Done():
			e.abort()
		case <-e.sourceReady():
			e.onSourceReady()
		case <-e.sessionOpened:
			e.onSessionOpened()
		case err := <-e.sessionErr:
			e.fail(e.sessionError(err))
		}
	}
}

func (e *engine) setState(s ReplyState) {
	if e.state == s && s != Working {
		return
	}
	if !e.state.canMoveTo(s) {
		e.log.Warn().Stringer("from", e.state).Stringer("to", s).Msg("Invalid state transition")
		return
	}
	e.log.Trace().Stringer("from", e.state).Stringer("to", s).Msg("State change")
	e.state = s
}

func (e *engine) start() {
	req := e.req
	if req.URL == nil || (req.URL.Scheme != "http" && req.URL.Scheme != "https") {
		e.fail(newError(ProtocolUnknownError, "unsupported URL %v", req.URL))
		return
	}
	if req.Operation == Custom && req.CustomVerb == "" {
		e.fail(newError(ProtocolInvalidOperationError, "custom operation without a verb"))
		return
	}
	if req.Attributes.Background {
		if bp, ok := e.m.config.Session.(BackgroundPolicy); ok && !bp.BackgroundRequestsAllowed() {
			e.fail(newError(BackgroundRequestNotAllowedError, "session does not allow background requests"))
			return
		}
	}
	if e.m.config.Proxy != nil {
		proxy, err := e.m.config.Proxy(req.URL)
		if errors.Is(err, ErrProxyNotFound) {
			e.fail(wrapError(ProxyNotFoundError, err, "no proxy for %s", req.URL.Host))
			return
		} else if err != nil {
			e.fail(wrapError(UnknownProxyError, err, ""))
			return
		}
		e.proxy = proxy
	}
	if req.Body != nil {
		if req.Body.Sequential() && !req.Attributes.AllowUnbufferedUpload {
			e.setState(Buffering)
			e.ring = bytesource.NewRing(0)
			e.bufferUpload()
			return
		}
		e.upload = req.Body
	}
	e.afterBuffering()
}

func (e *engine) afterBuffering() {
	e.newHop()
	if e.loadFromCacheIfAllowed() {
		return
	}
	s := e.m.config.Session
	if s != nil && !s.IsOpen() {
		if e.req.Attributes.Synchronous {
			if err := s.Open(e.reply.ctx); err != nil {
				e.fail(e.sessionError(err))
				return
			}
		} else {
			e.setState(WaitingForSession)
			e.sessionOpened = s.Opened()
			e.sessionErr = make(chan error, 1)
			ctx := e.reply.ctx
			go func(errc chan<- error) {
				if err := s.Open(ctx); err != nil {
					errc <- err
				}
			}(e.sessionErr)
			e.log.Debug().Msg("Waiting for network session")
			return
		}
	}
	e.dispatch()
}

func (e *engine) onSessionOpened() {
	e.sessionOpened = nil
	e.sessionErr = nil
	e.log.Debug().Msg("Network session opened")
	e.dispatch()
}

func (e *engine) sessionError(err error) *Error {
	if errors.Is(err, context.Canceled) {
		return wrapError(OperationCanceledError, err, "")
	}
	return wrapError(NetworkSessionFailedError, err, "")
}

// newHop clears the per-response state before a request goes to the cache
// or the network for the first time.
func (e *engine) newHop() {
	e.hopHeader = e.req.rawHeader()
	e.info = ResponseInfo{}
	e.gotHeaders = false
	e.discardBody = false
	e.acceptRanges = false
	e.redirecting = false
	e.zeroCopySeen = 0
	e.cached = nil
	e.fromCache = false
	e.cacheWriter = nil
	e.cacheStatus = rfc9211.CacheStatus{}
	e.resumeFrom = -1
}

// dispatch hands the current request to the transport.
func (e *engine) dispatch() {
	ctx, cancel := context.WithCancel(e.reply.ctx)
	item := &WorkItem{
		Context:            ctx,
		Method:             e.req.Method(),
		URL:                e.req.URL,
		Header:             e.hopHeader.Clone(),
		Proxy:              e.proxy,
		Priority:           e.req.Attributes.Priority,
		Synchronous:        e.req.Attributes.Synchronous,
		FollowRedirects:    e.req.Attributes.FollowRedirects,
		RedirectsRemaining: e.redirectsLeft,
		ReplyID:            e.reply.id,
		BodySize:           -1,
	}
	if e.upload != nil {
		item.HasBody = true
		item.BodySize = e.upload.Size()
		e.uploadBase = e.upload.Pos()
	}
	var zeroMax int64
	if e.req.Attributes.ZeroCopy {
		zeroMax = e.req.Attributes.MaximumDownloadBufferSize
	}
	e.delegate = newDelegate(item, e.events, e.reply, zeroMax)
	e.hopCancel = cancel
	e.redirecting = false
	e.setState(Working)
	e.log.Debug().Str("hop", item.URL.String()).Msg("Dispatching request")
	e.exchange = e.m.config.Transport.Open(item, e.delegate)
}

// stopHop disconnects from the current exchange. Events it already queued
// are dropped when they arrive.
func (e *engine) stopHop() {
	if e.delegate != nil {
		e.delegate.release()
		e.delegate = nil
	}
	if e.exchange != nil {
		e.exchange.Abort()
		e.exchange = nil
	}
	if e.hopCancel != nil {
		e.hopCancel()
		e.hopCancel = nil
	}
	e.want = nil
}

func (e *engine) handle(ev event) {
	if ev.d == nil || ev.d != e.delegate {
		// from an exchange we already left
		return
	}
	switch ev.kind {
	case evHeaders:
		e.onHeaders(ev.info)
	case evData:
		e.flushData()
	case evProgress:
		e.onProgress()
	case evRedirect:
		e.onRedirectSeen(ev.target, ev.status)
	case evFail:
		e.onFail(ev.err)
	case evFinished:
		e.onFinished()
	case evAuth:
		e.onAuthenticationRequired(ev)
	case evProxyAuth:
		e.onProxyAuthenticationRequired(ev)
	case evSSLErrors:
		e.onSSLErrors(ev)
	case evPreSharedKey:
		e.onPreSharedKey(ev)
	case evWantData:
		e.onWantData(ev)
	case evProcessed:
		e.onProcessed(ev.n)
	case evResetUpload:
		e.onResetUpload(ev)
	}
}

func (e *engine) onHeaders(info ResponseInfo) {
	if info.Header == nil {
		info.Header = http.Header{}
	} else {
		info.Header = info.Header.Clone()
	}
	status := info.StatusCode
	e.log.Trace().Int("status", status).Msg("Received response header")

	if e.resumeFrom >= 0 {
		// the reply already shows the original response
		if status != http.StatusPartialContent {
			e.fail(newError(TemporaryNetworkFailureError, "server did not resume at byte %d (status %d)", e.resumeFrom, status))
		}
		return
	}

	e.info = info
	e.gotHeaders = true
	ar := info.Header.Get("Accept-Ranges")
	e.acceptRanges = ar != "" && ar != "none"
	e.cacheStatus.FwdStatus = status

	if e.cached != nil && status == http.StatusNotModified {
		e.revalidated(info.Header)
		return
	}
	if e.cached != nil && status >= 500 && !mustRevalidate(e.cached.Header) {
		e.log.Info().Int("status", status).Msg("Origin error, serving stored response")
		e.serveStoredAndComplete(*e.cached)
		return
	}

	e.discardBody = isRedirect(status) && e.req.Attributes.FollowRedirects
	if len(e.m.config.Rules) > 0 && e.m.config.Rules.Apply(e.req.Method(), e.req.URL, status, info.Header) {
		e.log.Trace().Msg("Applied response rule")
	}
	e.reply.setStatus(status, info.ReasonPhrase, info.Header)
	e.reply.setAttribute(ServedFromCacheAttribute, false)
	e.reply.setAttribute(ConnectionEncryptedAttribute, info.Encrypted)
	e.reply.setAttribute(HTTPPipeliningWasUsedAttribute, info.PipeliningUsed)
	e.prepareCacheSave(status, info.ReasonPhrase, info.Header)
	e.emitMetaDataChanged()
}

// flushData takes everything the transport handed over since the last
// flush. Empty flushes do nothing.
func (e *engine) flushData() {
	d := e.delegate
	if d == nil {
		return
	}
	held, zeroCopy := d.takeData()
	if zeroCopy != nil && len(zeroCopy) > e.zeroCopySeen {
		fresh := zeroCopy[e.zeroCopySeen:]
		e.zeroCopySeen = len(zeroCopy)
		e.writeCache(fresh)
		if !e.discardBody {
			e.reply.setZeroCopy(zeroCopy)
			e.emitReadyRead()
		}
	}
	if len(held) == 0 {
		return
	}
	e.writeCache(held)
	if e.discardBody {
		return
	}
	e.reply.appendData(held)
	e.emitReadyRead()
}

func (e *engine) onProgress() {
	received, total := e.delegate.takeProgress()
	if e.discardBody {
		return
	}
	if e.resumeFrom > 0 {
		received += e.resumeFrom
		if total >= 0 {
			total += e.resumeFrom
		}
	}
	e.download.report(e.now(), received, total, false, e.emitDownloadProgress)
}

func (e *engine) onFinished() {
	e.flushData()
	if !e.gotHeaders {
		e.fail(newError(ProtocolFailure, "exchange finished without a response"))
		return
	}
	status := e.info.StatusCode
	if isRedirect(status) && e.req.Attributes.FollowRedirects {
		if loc := e.info.Header.Get("Location"); loc != "" {
			target, err := e.req.URL.Parse(loc)
			if err != nil {
				e.fail(wrapError(ProtocolFailure, err, "invalid Location %q", loc))
				return
			}
			e.redirect(target, status, true)
			return
		}
	}
	e.complete()
}

func (e *engine) onFail(err error) {
	e.flushData()
	code := classify(err)
	if code == OperationCanceledError && e.reply.ctx.Err() != nil {
		e.abort()
		return
	}
	e.log.Debug().Err(err).Stringer("code", code).Msg("Exchange failed")
	if migratable(code) {
		if e.migrate() {
			return
		}
		code = TemporaryNetworkFailureError
	}
	var rerr *Error
	if errors.As(err, &rerr) && rerr.Code == code {
		e.fail(rerr)
		return
	}
	e.fail(wrapError(code, err, ""))
}

// complete ends the reply after its final hop was fully received.
func (e *engine) complete() {
	e.stopHop()
	status := e.reply.StatusCode()
	if !e.fromCache {
		e.invalidate(status)
	}
	if code := statusCodeError(status); code != NoError {
		e.setError(newError(code, "%d %s", status, e.reply.Status().Reason), true)
	} else {
		e.commitCache()
		e.scheduleCacheUpdates()
	}
	e.finish()
}

func (e *engine) fail(err *Error) {
	e.stopHop()
	e.setError(err, false)
	e.finish()
}

func (e *engine) abort() {
	if e.finished {
		return
	}
	e.log.Debug().Msg("Aborting request")
	e.stopHop()
	e.setState(Aborted)
	e.setError(newError(OperationCanceledError, ""), false)
	e.finish()
}

// setError records the reply's error. Only the first error counts.
func (e *engine) setError(err *Error, bodyComplete bool) {
	if !e.reply.setError(err, bodyComplete) {
		e.log.Warn().Err(err).Msg("Error already set, ignoring")
		return
	}
	if err.Code == OperationCanceledError {
		e.log.Debug().Err(err).Msg("Request canceled")
	} else {
		e.log.Error().Err(err).Msg("Request failed")
	}
	e.discardCache()
}

// finish marks the reply finished and notifies the caller, exactly once.
func (e *engine) finish() {
	if e.finished {
		return
	}
	e.finished = true
	e.stopHop()
	if e.state != Aborted {
		e.setState(Finished)
	}
	e.ring = nil
	if c, ok := e.reply.Request().Body.(io.Closer); ok {
		// stops a background reader still feeding the body
		c.Close()
	}
	downloaded := e.reply.BytesDownloaded()
	total := e.info.ContentLength
	if total < 0 || e.fromCache || e.reply.Err() != nil {
		total = downloaded
	}
	e.download.report(e.now(), downloaded, total, true, e.emitDownloadProgress)
	e.uploaded.flush(e.emitUploadProgress)

	cs := e.cacheStatus.String()
	e.reply.setAttribute(CacheStatusAttribute, cs)
	e.log.Debug().
		Int("status", e.reply.StatusCode()).
		Int64("bytes", downloaded).
		Str("cache-status", cs).
		Msg("Request finished")

	e.reply.markFinished()
	if err := e.reply.Err(); err != nil && e.hooks.Error != nil {
		e.hooks.Error(e.reply, err)
	}
	if e.hooks.Finished != nil {
		e.hooks.Finished(e.reply)
	}
	e.reply.closeDone()
}

func (e *engine) emitMetaDataChanged() {
	e.reply.setAttribute(CacheStatusAttribute, e.cacheStatus.String())
	if e.hooks.MetaDataChanged != nil {
		e.hooks.MetaDataChanged(e.reply)
	}
}

func (e *engine) emitReadyRead() {
	if e.hooks.ReadyRead != nil {
		e.hooks.ReadyRead(e.reply)
	}
}

func (e *engine) emitDownloadProgress(received, total int64) {
	if e.hooks.DownloadProgress != nil {
		e.hooks.DownloadProgress(e.reply, received, total)
	}
}

func (e *engine) emitUploadProgress(sent, total int64) {
	if e.hooks.UploadProgress != nil {
		e.hooks.UploadProgress(e.reply, sent, total)
	}
}

func (e *engine) onAuthenticationRequired(ev event) {
	a := ev.auth
	if e.hooks.AuthenticationRequired != nil {
		e.hooks.AuthenticationRequired(e.reply, a)
	}
	if a.User == "" && e.m.config.Credentials != nil {
		a.User, a.Password, _ = e.m.config.Credentials(e.req.URL, a.Realm)
	}
	e.log.Debug().Str("realm", a.Realm).Bool("credentials", a.User != "").Msg("Authentication required")
	ev.answer <- answer{ok: a.User != ""}
}

func (e *engine) onProxyAuthenticationRequired(ev event) {
	a := ev.auth
	if e.hooks.ProxyAuthenticationRequired != nil {
		e.hooks.ProxyAuthenticationRequired(e.reply, ev.proxy, a)
	}
	if a.User == "" && e.m.config.Credentials != nil && ev.proxy != nil {
		a.User, a.Password, _ = e.m.config.Credentials(ev.proxy, a.Realm)
	}
	e.log.Debug().Str("realm", a.Realm).Bool("credentials", a.User != "").Msg("Proxy authentication required")
	ev.answer <- answer{ok: a.User != ""}
}

func (e *engine) onSSLErrors(ev event) {
	ignore := e.hooks.SSLErrors != nil && e.hooks.SSLErrors(e.reply, ev.errs)
	e.log.Warn().Errs("errors", ev.errs).Bool("ignored", ignore).Msg("TLS errors")
	ev.answer <- answer{ok: ignore}
}

func (e *engine) onPreSharedKey(ev event) {
	if e.hooks.PreSharedKey != nil {
		e.hooks.PreSharedKey(e.reply, ev.psk)
	}
	ev.answer <- answer{ok: len(ev.psk.Identity) > 0}
}
