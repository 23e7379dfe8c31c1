package rfc9111

import (
	"net/http"
	"net/url"
)

// §  4.4.  Invalidating Stored Responses
// §
// §     Because unsafe request methods (Section 9.2.1 of [HTTP]) such as PUT,
// §     POST, or DELETE have the potential for changing state on the origin
// §     server, intervening caches are required to invalidate stored
// §     responses to keep their contents up to date.
// §
// §     A cache MUST invalidate the target URI (Section 7.1 of [HTTP]) when
// §     it receives a non-error status code in response to an unsafe request
// §     method (including methods whose safety is unknown).
// §
// §     A cache MAY invalidate other URIs when it receives a non-error status
// §     code in response to an unsafe request method.  In particular, the URI
// §     or URIs in the Location and Content-Location response header fields
// §     (if present) are candidates for invalidation; other URIs might be
// §     discovered through mechanisms not specified in this document.
// §     However, a cache MUST NOT trigger an invalidation under these
// §     conditions if the origin (Section 4.3.1 of [HTTP]) of the URI to be
// §     invalidated differs from that of the target URI.
func GetInvalidateURIs(method string, target *url.URL, statusCode int, header http.Header) []*url.URL {
	if !UnsafeMethod(method) || statusCode < 200 || statusCode >= 400 {
		return nil
	}
	uris := []*url.URL{target}
	for _, field := range []string{"Location", "Content-Location"} {
		value := header.Get(field)
		if value == "" {
			continue
		}
		ref, err := url.Parse(value)
		if err != nil {
			continue
		}
		u := target.ResolveReference(ref)
		if u.Scheme == target.Scheme && u.Host == target.Host {
			uris = append(uris, u)
		}
	}
	return uris
}

// §  Of the request methods defined by this specification, the GET, HEAD,
// §  OPTIONS, and TRACE methods are defined to be safe.
func UnsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}
