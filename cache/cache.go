// Package cache holds the store the reply engine reads cached responses from
// and writes eligible responses to.
package cache

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Store is a url -> metadata + body store.
//
// Implementations must be thread-safe!
type Store interface {
	// Metadata returns the stored metadata for the URL.
	// The boolean is false when nothing is stored.
	Metadata(u *url.URL) (Metadata, bool)
	// Open returns the stored body for the URL.
	Open(u *url.URL) (io.ReadCloser, bool)
	// Prepare returns a staging sink for a new entry.
	// Nothing is visible to readers until the sink is passed to Insert.
	Prepare(meta Metadata) (Writer, error)
	// Insert commits a staged entry, replacing any previous one for the URL.
	Insert(w Writer) error
	// Remove drops the entry for the URL and reports whether one existed.
	Remove(u *url.URL) bool
	// Update replaces the metadata of an existing entry, keeping its body.
	Update(meta Metadata) error
}

// Writer is a staging sink for a cache entry body.
type Writer interface {
	io.Writer
	Metadata() Metadata
}

// Attributes is the snapshot of reply attributes stored with a response.
type Attributes struct {
	StatusCode   int
	ReasonPhrase string
	// Set when the stored response was a redirect.
	RedirectionTarget *url.URL
}

// Metadata describes a stored response.
type Metadata struct {
	URL *url.URL
	// Raw header snapshot, already stripped of unstorable fields.
	Header       http.Header
	LastModified time.Time
	// Explicit expiration derived from max-age or Expires; zero if none.
	Expiration time.Time
	SaveToDisk bool
	Attributes Attributes
}

// IsValid reports whether the metadata names a URL.
func (m Metadata) IsValid() bool {
	return m.URL != nil && m.URL.String() != ""
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	c := m
	if m.URL != nil {
		u := *m.URL
		c.URL = &u
	}
	c.Header = m.Header.Clone()
	if m.Attributes.RedirectionTarget != nil {
		u := *m.Attributes.RedirectionTarget
		c.Attributes.RedirectionTarget = &u
	}
	return c
}

// bufferWriter saves the staged body in memory until it is inserted.
type bufferWriter struct {
	meta Metadata
	b    *bytes.Buffer
}

func newBufferWriter(meta Metadata) *bufferWriter {
	return &bufferWriter{
		meta: meta.Clone(),
		b:    &bytes.Buffer{},
	}
}

// Implementation of io.Writer
func (w *bufferWriter) Write(p []byte) (int, error) {
	return w.b.Write(p)
}

func (w *bufferWriter) Metadata() Metadata {
	return w.meta
}

func (w *bufferWriter) Bytes() []byte {
	return w.b.Bytes()
}
