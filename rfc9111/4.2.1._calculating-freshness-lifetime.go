package rfc9111

import (
	"net/http"
	"time"
)

// §  4.2.1.  Calculating Freshness Lifetime
// §
// §     A cache can calculate the freshness lifetime (denoted as
// §     freshness_lifetime) of a response by evaluating the following rules
// §     and using the first match:
// §
// §     *  If the max-age response directive (Section 5.2.2.1) is present,
// §        use its value, or
// §
// §     *  If the Expires response header field (Section 5.3) is present, use
// §        its value minus the value of the Date response header field, or
// §
// §     *  Otherwise, no explicit expiration time is present in the response.
// §        A heuristic freshness lifetime might be applicable; see
// §        Section 4.2.2.

// ExpirationDate returns the explicit expiration time of a response received
// at the given time, or the zero time when the response carries neither
// max-age nor Expires.
func ExpirationDate(header http.Header, received time.Time) time.Time {
	if maxAge, ok := ResponseCacheControl(header).MaxAge(); ok {
		return received.Add(maxAge)
	}
	if expires, present := getExpires(header); present {
		return expires
	}
	return time.Time{}
}
