// Package rfc9211 models the Cache-Status value (RFC 9211) used to describe
// how the reply engine handled its cache for a request.
package rfc9211

import "fmt"

// CacheName identifies this cache in Cache-Status values.
const CacheName = "HttpReply"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

// §  2.2.  The fwd parameter
// §
// §     "fwd" indicates that the request went forward towards the origin, and
// §     why.
type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics (e.g., Cache-Control request
	// directives) did not allow its use.
	FwdReasonRequest FwdReason = "request"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"

	// The cache was able to select a partial response for the
	// request, but it did not contain all of the requested ranges (or
	// the request was for the complete response).
	FwdReasonPartial FwdReason = "partial"
)

// CacheStatus is a single Cache-Status list member.
type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// fwd-status: status code the forwarded request returned
	FwdStatus int
	// the response was stored
	Stored bool
	// seconds of freshness left, only meaningful on hits
	TimeToLive int
	Detail     string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// String renders the value in structured-field form, e.g.
// `HttpReply; fwd=stale; fwd-status=304; stored`.
func (cs CacheStatus) String() string {
	status := CacheName
	switch cs.Status {
	case StatusHit:
		status += "; hit"
		if cs.TimeToLive > 0 {
			status = fmt.Sprintf("%s; ttl=%d", status, cs.TimeToLive)
		}
	case StatusFwd:
		status = fmt.Sprintf("%s; fwd=%s", status, cs.FwdReason)
		if cs.FwdStatus != 0 {
			status = fmt.Sprintf("%s; fwd-status=%d", status, cs.FwdStatus)
		}
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status += "; detail=" + cs.Detail
	}
	return status
}
