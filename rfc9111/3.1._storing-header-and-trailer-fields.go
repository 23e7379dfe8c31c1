package rfc9111

import (
	"net/http"
	"strings"
)

// hopByHop lists the fields whose semantics require them to be removed
// before forwarding, and so before storage.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authentication-Info",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// §  3.1.  Storing Header and Trailer Fields
// §
// §     Caches MUST include all received response header fields -- including
// §     unrecognized ones -- when storing a response; this assures that new
// §     HTTP header fields can be successfully deployed.  However, the
// §     following exceptions are made:
// §
// §     *  The Connection header field and fields whose names are listed in
// §        it are required by Section 7.6.1 of [HTTP] to be removed before
// §        forwarding the message.  This MAY be implemented by doing so
// §        before storage.

// StorableHeader returns a copy of the header without the fields that must
// not be written to the cache: hop-by-hop fields (and anything Connection
// nominates), Set-Cookie, and 1xx Warning values.
func StorableHeader(header http.Header) http.Header {
	if header == nil {
		return nil
	}
	h := header.Clone()
	for _, name := range GetListHeader(header, "Connection") {
		h.Del(name)
	}
	for _, name := range hopByHop {
		h.Del(name)
	}
	// cookies belong to the jar, not to the stored representation
	h.Del("Set-Cookie")
	h.Del("Set-Cookie2")

	// §  Warning header fields with a 1xx warn-code describe the freshness
	// §  or revalidation status of the response and MUST be deleted from a
	// §  stored response after validation.
	if warnings := h.Values("Warning"); len(warnings) > 0 {
		h.Del("Warning")
		for _, w := range warnings {
			if !strings.HasPrefix(strings.TrimSpace(w), "1") {
				h.Add("Warning", w)
			}
		}
	}
	return h
}
