package rfc9111

import "net/http"

// §  4.3.1.  Sending a Validation Request
// §
// §     When generating a conditional request for validation, a cache either
// §     starts with a request it is attempting to satisfy or -- if it is
// §     initiating the request independently -- synthesizes a request using
// §     a stored response by copying the method, target URI, and request
// §     header fields identified by the Vary header field (Section 4.1).
// §
// §     It then updates that request with one or more precondition header
// §     fields.  These contain validator metadata sourced from a stored
// §     response(s) that has the same URI.

// AddConditionalHeaders sets If-None-Match and If-Modified-Since on the
// request header from the stored validators. Preconditions the caller set
// explicitly are left alone.
func AddConditionalHeaders(request http.Header, stored http.Header) {
	if etag := stored.Get("ETag"); etag != "" && request.Get("If-None-Match") == "" {
		request.Set("If-None-Match", etag)
	}
	if lm := stored.Get("Last-Modified"); lm != "" && request.Get("If-Modified-Since") == "" {
		request.Set("If-Modified-Since", lm)
	}
}
