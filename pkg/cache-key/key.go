package cachekey

import (
	"fmt"
	"net/url"
	"strings"
)

var ErrorMalformedKey = fmt.Errorf("Malformed key")

const namespaceSeparator = "\t"

// CacheKeyer derives cache keys from request URLs.
// Several managers may share one store by using different namespaces.
type CacheKeyer struct {
	// Namespace is prepended to every key; may be empty.
	Namespace string
	// Prefix of all keys in this namespace.
	Prefix string
}

func NewCacheKeyer(namespace string) CacheKeyer {
	return CacheKeyer{
		Namespace: namespace,
		Prefix:    namespace + namespaceSeparator,
	}
}

// Key returns the cache key for the URL.
// The fragment is never sent to the server, so it is not part of the key.
// Scheme and host compare case-insensitively.
func (c CacheKeyer) Key(u *url.URL) string {
	return c.Prefix + Normalize(u).String()
}

// URLFromKey reverses Key.
func (c CacheKeyer) URLFromKey(key string) (*url.URL, error) {
	if !strings.HasPrefix(key, c.Prefix) {
		return nil, fmt.Errorf("Key and namespace do not match")
	}
	u, err := url.Parse(strings.TrimPrefix(key, c.Prefix))
	if err != nil || !u.IsAbs() {
		return nil, ErrorMalformedKey
	}
	return u, nil
}

// Normalize returns a copy of the URL in the form used for cache lookups.
func Normalize(u *url.URL) *url.URL {
	n := *u
	n.Fragment = ""
	n.RawFragment = ""
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	if n.Path == "" && n.Opaque == "" {
		n.Path = "/"
	}
	return &n
}
