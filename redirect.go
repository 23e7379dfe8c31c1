package httpreply

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/always-cache/httpreply/rfc9111"
)

func isRedirect(statusCode int) bool {
	return rfc9111.IsRedirect(statusCode)
}

// onRedirectSeen handles a redirect reported before its body was read. The
// transport sends nothing more for the hop.
func (e *engine) onRedirectSeen(target *url.URL, status int) {
	if e.redirecting {
		return
	}
	e.flushData()
	if !e.req.Attributes.FollowRedirects || target == nil {
		// the body is incomplete, so it is not stored
		e.cacheWriter = nil
		e.complete()
		return
	}
	e.redirect(e.req.URL.ResolveReference(target), status, false)
}

// redirect moves the reply to target. hopComplete is set when the whole
// redirect response was received, in which case it may be cached.
func (e *engine) redirect(target *url.URL, status int, hopComplete bool) {
	if e.redirecting {
		return
	}
	e.redirecting = true
	target = e.req.URL.ResolveReference(target)

	if e.redirectsLeft <= 0 {
		e.fail(newError(TooManyRedirectsError, "more than %d redirects", e.req.Attributes.MaxRedirects))
		return
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		e.fail(newError(ProtocolUnknownError, "redirect to unsupported URL %s", target))
		return
	}
	if e.req.URL.Scheme == "https" && target.Scheme == "http" && !e.req.Attributes.AllowInsecureRedirect {
		e.fail(newError(InsecureRedirectError, "redirect from %s to %s", e.req.URL, target))
		return
	}
	e.redirectsLeft--

	if hopComplete && !e.fromCache {
		e.commitCache()
	} else {
		e.cacheWriter = nil
	}
	e.stopHop()
	e.log.Debug().
		Int("status", status).
		Stringer("target", target).
		Int("remaining", e.redirectsLeft).
		Msg("Following redirect")

	e.reply.setAttribute(RedirectionTargetAttribute, target)
	if e.hooks.Redirected != nil {
		e.hooks.Redirected(e.reply, target)
	}

	e.req = e.req.redirectRequest(target)
	e.upload = nil
	e.reply.setURL(target)
	e.reply.discardData()
	e.newHop()
	if e.loadFromCacheIfAllowed() {
		return
	}
	e.dispatch()
}

// migrate resumes an interrupted download with a range request. It reports
// false when the reply is not eligible.
func (e *engine) migrate() bool {
	if e.migrations >= maxMigrations {
		e.log.Debug().Int("attempts", e.migrations).Msg("Not resuming, too many attempts")
		return false
	}
	if e.req.Operation != Get || !e.gotHeaders || !e.acceptRanges ||
		e.upload != nil || e.fromCache || e.discardBody ||
		e.reply.ZeroCopyBuffer() != nil {
		return false
	}
	// without a validator a changed resource would be spliced onto old bytes
	validator := e.info.Header.Get("ETag")
	if validator == "" || strings.HasPrefix(validator, "W/") {
		validator = e.info.Header.Get("Last-Modified")
	}
	if validator == "" {
		e.log.Debug().Msg("Not resuming, response has no validator")
		return false
	}
	start, end, ok := parseRangeStart(e.req.rawHeader().Get("Range"))
	if !ok {
		return false
	}
	downloaded := e.reply.BytesDownloaded()

	e.migrations++
	e.setState(Reconnecting)
	e.stopHop()
	e.resumeFrom = downloaded
	e.hopHeader.Set("Range", fmt.Sprintf("bytes=%d-%s", start+downloaded, end))
	e.hopHeader.Del("If-None-Match")
	e.hopHeader.Del("If-Modified-Since")
	e.hopHeader.Set("If-Range", validator)
	e.log.Info().Int64("from", downloaded).Int("attempt", e.migrations).Msg("Resuming download")
	e.dispatch()
	return true
}

// parseRangeStart splits a single "bytes=start-[end]" range. An empty header
// starts at 0.
func parseRangeStart(value string) (start int64, end string, ok bool) {
	if value == "" {
		return 0, "", true
	}
	ranges, found := strings.CutPrefix(strings.TrimSpace(value), "bytes=")
	if !found || strings.Contains(ranges, ",") {
		return 0, "", false
	}
	first, last, found := strings.Cut(ranges, "-")
	if !found || first == "" {
		return 0, "", false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, "", false
	}
	return start, strings.TrimSpace(last), true
}
