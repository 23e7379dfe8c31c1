// Package rfc9111 implements the parts of HTTP Caching (RFC 9111) that the
// reply engine relies on: Cache-Control parsing, freshness and age
// calculation, storable header filtering and invalidation.
//
// File names follow the section numbering of the RFC. Quoted passages are
// marked with `§`.
package rfc9111

import "net/http"

// IsRedirect reports whether the status code is one the engine follows.
func IsRedirect(statusCode int) bool {
	switch statusCode {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect:
		return true
	}
	return false
}
