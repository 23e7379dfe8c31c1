package rfc9111

import (
	"net/http"
	"time"
)

// §  4.2.2.  Calculating Heuristic Freshness
// §
// §     If the response has a Last-Modified header field (Section 8.8.2 of
// §     [HTTP]), caches are encouraged to use a heuristic expiration value
// §     that is no more than some fraction of the interval since that time.
// §     A typical setting of this fraction might be 10%.

// HeuristicFreshnessLifetime returns (Date - Last-Modified) / 10.
// The boolean is false when either field is missing or unparsable, in which
// case the response has no usable freshness lifetime.
//
// The value is measured against the Date field rather than the time of
// storage; responses without Date are never heuristically fresh.
func HeuristicFreshnessLifetime(header http.Header) (time.Duration, bool) {
	lastModified, err := HttpDate(header.Get("Last-Modified"))
	if err != nil {
		return 0, false
	}
	date, err := HttpDate(header.Get("Date"))
	if err != nil {
		return 0, false
	}
	return date.Sub(lastModified) / 10, true
}
