package cacheupdate

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/always-cache/httpreply/rfc9111"
)

// CacheUpdate represents a single `Cache-Update` entry.
type CacheUpdate struct {
	// Resource to fetch again, resolved against the request URL.
	URL *url.URL
	// Update delay, i.e. delay update by this duration.
	Delay time.Duration
}

var delayDirective = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// GetCacheUpdates gets the updates listed by a response to an unsafe
// request. Entries resolving to another origin are skipped.
func GetCacheUpdates(method string, target *url.URL, header http.Header) []CacheUpdate {
	if !rfc9111.UnsafeMethod(method) {
		return nil
	}
	var updates []CacheUpdate
	for _, value := range rfc9111.GetListHeader(header, "Cache-Update") {
		u := getURL(target, value)
		if u == nil || u.Scheme != target.Scheme || u.Host != target.Host {
			continue
		}
		updates = append(updates, CacheUpdate{URL: u, Delay: getDelay(value)})
	}
	return updates
}

// getURL returns the URL to update from the `Cache-Update` header parameter.
// The URL is the first parameter in the header value (separated by a semicolon).
func getURL(target *url.URL, update string) *url.URL {
	ref, _, _ := strings.Cut(update, ";")
	u, err := target.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil
	}
	u.Fragment = ""
	return u
}

// getDelay returns the delay to wait before updating from the `Cache-Update` header parameter.
// The delay directive syntax is `delay=N`, where N is the number of seconds to wait.
// If no delay directive is found, it returns 0.
func getDelay(update string) time.Duration {
	if matches := delayDirective.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}
