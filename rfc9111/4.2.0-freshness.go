package rfc9111

import (
	"net/http"
	"time"
)

// §  4.2.  Freshness
// §
// §     A "fresh" response is one whose age has not yet exceeded its
// §     freshness lifetime.  Conversely, a "stale" response is one where it
// §     has.
// §
// §     The calculation to determine if a response is fresh is:
// §
// §        response_is_fresh = (freshness_lifetime > current_age)
// §
// §     freshness_lifetime is defined in Section 4.2.1; current_age is
// §     defined in Section 4.2.3.

// IsFresh reports whether a stored response may be served without
// revalidation at time now.
//
// When an explicit expiration date was derived at storage time it alone
// decides. Otherwise the Last-Modified heuristic of Section 4.2.2 is
// compared against the current age.
func IsFresh(header http.Header, expiration time.Time, now time.Time) bool {
	if !expiration.IsZero() {
		return now.Before(expiration)
	}
	lifetime, ok := HeuristicFreshnessLifetime(header)
	if !ok {
		return false
	}
	return lifetime > CurrentAge(header, now)
}
