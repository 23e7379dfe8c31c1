package rfc9111

import "net/http"

// §  3.  Storing Responses in Caches
// §
// §     A cache MUST NOT store a response to a request unless:
// §
// §     *  the request method is understood by the cache;
// §
// §     *  the response status code is final (see Section 15 of [HTTP]);
// §
// §     *  if the response status code is 206 or 304, or the must-understand
// §        cache directive (see Section 5.2.2.3) is present: the cache
// §        understands the response status code;
// §
// §     *  the no-store cache directive is not present in the response (see
// §        Section 5.2.2.5);

// MayStore reports whether a response to a request with the given method
// may be written to the cache.
//
// GET responses are stored by default. POST responses are stored only when
// they carry an explicit max-age. Every other method is never stored.
// Partial content, 304 and responses marked no-cache or no-store (including
// the HTTP/1.0 Pragma form) are never stored; a 304 only freshens.
func MayStore(method string, statusCode int, header http.Header) bool {
	cc := ResponseCacheControl(header)
	if !requestMethodIsUnderstood(method, cc) {
		return false
	}
	if !responseStatusCodeIsFinal(statusCode) || statusCode == http.StatusPartialContent ||
		statusCode == http.StatusNotModified {
		return false
	}
	if PragmaNoCache(header) || cc.HasDirective("no-cache") || cc.HasDirective("no-store") {
		return false
	}
	return true
}

// §  In this context, a cache has "understood" a request method or a
// §  response status code if it recognizes it and implements all specified
// §  caching-related behavior.
func requestMethodIsUnderstood(method string, cc CacheControl) bool {
	switch method {
	case http.MethodGet:
		return true
	case http.MethodPost:
		return cc.HasDirective("max-age")
	}
	return false
}

func responseStatusCodeIsFinal(statusCode int) bool {
	return statusCode >= 200 && statusCode <= 599
}
