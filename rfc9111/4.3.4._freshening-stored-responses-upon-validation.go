package rfc9111

import "net/http"

// §  4.3.4.  Freshening Stored Responses upon Validation
// §
// §     When a cache receives a 304 (Not Modified) response, it needs to
// §     identify stored responses that are suitable for updating with the new
// §     information provided, and then do so.

// FreshenHeader returns the stored header with Date and Age taken from the
// validation response. No other stored field changes.
func FreshenHeader(stored http.Header, validation http.Header) http.Header {
	h := stored.Clone()
	if h == nil {
		h = http.Header{}
	}
	if date := validation.Get("Date"); date != "" {
		h.Set("Date", date)
	}
	if age := validation.Get("Age"); age != "" {
		h.Set("Age", age)
	} else {
		h.Del("Age")
	}
	return h
}
