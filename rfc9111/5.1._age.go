package rfc9111

import (
	"net/http"
	"time"
)

// §  5.1.  Age
// §
// §     The "Age" response header field conveys the sender's estimate of the
// §     time since the response was generated or successfully validated at
// §     the origin server.
// §
// §       Age = delta-seconds
// §
// §     If the field value is invalid, the cache SHOULD ignore it.
func getAge(header http.Header) (time.Duration, bool) {
	if secondsStr := header.Get("Age"); secondsStr != "" {
		if age, err := deltaSeconds(secondsStr); err == nil {
			return age, true
		}
	}
	return 0, false
}
