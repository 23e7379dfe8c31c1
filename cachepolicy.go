package httpreply

import (
	"io"
	"net/http"

	"github.com/always-cache/httpreply/cache"
	cacheupdate "github.com/always-cache/httpreply/pkg/cache-update"
	"github.com/always-cache/httpreply/rfc9111"
	"github.com/always-cache/httpreply/rfc9211"
)

func mustRevalidate(header http.Header) bool {
	return rfc9111.ResponseCacheControl(header).HasDirective("must-revalidate")
}

// loadFromCacheIfAllowed consults the cache before the current request goes
// to the network. It prepares the request header for revalidation and
// reports true when the request was dealt with: served from the cache, or
// failed because it may only be served from there.
func (e *engine) loadFromCacheIfAllowed() bool {
	cs := &e.cacheStatus
	lc := e.req.Attributes.CacheLoadControl
	if op := e.req.Operation; op != Get && op != Head {
		cs.Forward(rfc9211.FwdReasonMethod)
		return false
	}
	if lc == AlwaysNetwork {
		if e.hopHeader.Get("Cache-Control") == "" {
			e.hopHeader.Set("Cache-Control", "no-cache")
			e.hopHeader.Set("Pragma", "no-cache")
		}
		cs.Forward(rfc9211.FwdReasonRequest)
		return false
	}
	if e.hopHeader.Get("Range") != "" {
		return e.cacheMiss(rfc9211.FwdReasonPartial)
	}
	if e.store == nil {
		return e.cacheMiss(rfc9211.FwdReasonBypass)
	}
	meta, ok := e.store.Metadata(e.req.URL)
	if !ok || !meta.SaveToDisk {
		return e.cacheMiss(rfc9211.FwdReasonUriMiss)
	}
	e.cached = &meta

	if lc == PreferCache || lc == AlwaysCache {
		cs.Hit()
		return e.serveStoredAndComplete(meta) || e.cacheMiss(rfc9211.FwdReasonMiss)
	}

	rfc9111.AddConditionalHeaders(e.hopHeader, meta.Header)
	if mustRevalidate(meta.Header) {
		e.log.Trace().Msg("Stored response must be revalidated")
		cs.Forward(rfc9211.FwdReasonStale)
		return false
	}
	now := e.now()
	if !rfc9111.IsFresh(meta.Header, meta.Expiration, now) {
		e.log.Trace().Msg("Stored response is stale")
		cs.Forward(rfc9211.FwdReasonStale)
		return false
	}
	cs.Hit()
	if !meta.Expiration.IsZero() {
		cs.TimeToLive = int(meta.Expiration.Sub(now).Seconds())
	}
	return e.serveStoredAndComplete(meta) || e.cacheMiss(rfc9211.FwdReasonMiss)
}

// cacheMiss records why the cache could not answer. Requests that may
// only be served from the cache fail here.
func (e *engine) cacheMiss(reason rfc9211.FwdReason) bool {
	e.cacheStatus.Forward(reason)
	e.cached = nil
	if e.req.Attributes.CacheLoadControl == AlwaysCache {
		e.fail(newError(ContentNotFoundError, "%s not in cache", e.req.URL))
		return true
	}
	return false
}

// serveStoredAndComplete makes the stored response the reply and ends the
// hop: the reply completes, or follows the stored redirect.
func (e *engine) serveStoredAndComplete(meta cache.Metadata) bool {
	body, ok := e.store.Open(meta.URL)
	if !ok {
		return false
	}
	defer body.Close()
	// anything still coming from the network is not needed anymore
	e.stopHop()
	e.cacheWriter = nil
	e.fromCache = true
	e.discardBody = true
	e.reply.discardData()

	status := meta.Attributes.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	e.info = ResponseInfo{StatusCode: status, ReasonPhrase: meta.Attributes.ReasonPhrase, Header: meta.Header, ContentLength: -1}
	e.gotHeaders = true
	e.reply.setStatus(status, meta.Attributes.ReasonPhrase, meta.Header.Clone())
	e.reply.setAttribute(ServedFromCacheAttribute, true)
	e.log.Debug().Int("status", status).Msg("Serving stored response")
	e.emitMetaDataChanged()

	b, err := io.ReadAll(body)
	if err != nil {
		e.fail(wrapError(UnknownContentError, err, "reading stored response"))
		return true
	}
	if len(b) > 0 && e.req.Operation != Head {
		e.reply.appendData(b)
		e.emitReadyRead()
	}

	target := meta.Attributes.RedirectionTarget
	if isRedirect(status) && target != nil && e.req.Attributes.FollowRedirects {
		e.redirect(target, status, false)
		return true
	}
	e.complete()
	return true
}

// revalidated handles a 304 to a conditional request: the stored entry gets
// the new Date and Age and is served.
func (e *engine) revalidated(header http.Header) {
	meta := e.cached.Clone()
	meta.Header = rfc9111.FreshenHeader(meta.Header, header)
	if exp := rfc9111.ExpirationDate(meta.Header, e.now()); !exp.IsZero() {
		meta.Expiration = exp
	}
	if err := e.store.Update(meta); err != nil {
		e.log.Warn().Err(err).Msg("Could not update stored response")
	} else {
		e.cacheStatus.Stored = true
	}
	e.log.Debug().Msg("Stored response revalidated")
	if !e.serveStoredAndComplete(meta) {
		e.fail(newError(ContentNotFoundError, "stored response for %s disappeared", e.req.URL))
	}
}

// prepareCacheSave opens a staging entry if the response may be stored.
func (e *engine) prepareCacheSave(status int, reason string, header http.Header) {
	e.cacheWriter = nil
	if e.store == nil || !e.req.Attributes.CacheSaveControl || e.fromCache {
		return
	}
	method := e.req.Method()
	if !rfc9111.MayStore(method, status, header) {
		e.log.Trace().Int("status", status).Msg("Response may not be stored")
		if e.cached != nil && status == http.StatusOK {
			// the stored copy is outdated and can't be replaced
			e.store.Remove(e.req.URL)
		}
		return
	}
	now := e.now()
	meta := cache.Metadata{
		URL:        e.req.URL,
		Header:     rfc9111.StorableHeader(header),
		Expiration: rfc9111.ExpirationDate(header, now),
		SaveToDisk: true,
		Attributes: cache.Attributes{
			StatusCode:   status,
			ReasonPhrase: reason,
		},
	}
	if lm, err := rfc9111.HttpDate(header.Get("Last-Modified")); err == nil {
		meta.LastModified = lm
	}
	if isRedirect(status) {
		if target, err := e.req.URL.Parse(header.Get("Location")); err == nil && header.Get("Location") != "" {
			meta.Attributes.RedirectionTarget = target
		}
	}
	w, err := e.store.Prepare(meta)
	if err != nil {
		e.log.Warn().Err(err).Msg("Could not prepare cache entry")
		return
	}
	e.cacheWriter = w
}

func (e *engine) writeCache(p []byte) {
	if e.cacheWriter == nil {
		return
	}
	if _, err := e.cacheWriter.Write(p); err != nil {
		e.log.Warn().Err(err).Msg("Could not write cache entry")
		e.discardCache()
	}
}

// commitCache makes the staged entry visible.
func (e *engine) commitCache() {
	w := e.cacheWriter
	if w == nil {
		return
	}
	e.cacheWriter = nil
	if err := e.store.Insert(w); err != nil {
		e.log.Error().Err(err).Msg("Could not save response")
		e.store.Remove(e.req.URL)
		return
	}
	e.cacheStatus.Stored = true
	e.log.Debug().Msg("Saved response")
}

// discardCache drops the staged entry. The previous entry for the URL is
// removed as well, since it was about to be replaced.
func (e *engine) discardCache() {
	if e.cacheWriter == nil {
		return
	}
	e.cacheWriter = nil
	if e.store.Remove(e.req.URL) {
		e.log.Debug().Msg("Invalidated stored response")
	}
}

// invalidate removes stored responses an unsafe request may have changed.
func (e *engine) invalidate(status int) {
	if e.store == nil {
		return
	}
	uris := rfc9111.GetInvalidateURIs(e.req.Method(), e.req.URL, status, e.info.Header)
	for _, u := range uris {
		if e.store.Remove(u) {
			e.log.Debug().Stringer("uri", u).Msg("Invalidated stored response")
		}
	}
}

// scheduleCacheUpdates fetches the resources a response to an unsafe
// request lists in Cache-Update, so their stored copies follow the change.
func (e *engine) scheduleCacheUpdates() {
	if !e.m.config.FollowCacheUpdates || e.store == nil || e.fromCache {
		return
	}
	for _, update := range cacheupdate.GetCacheUpdates(e.req.Method(), e.req.URL, e.info.Header) {
		e.log.Trace().Stringer("update", update.URL).Dur("delay", update.Delay).Msg("Updating cache based on header")
		e.m.refresh(update.URL, update.Delay)
	}
}
