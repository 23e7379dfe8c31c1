package httpreply

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/always-cache/httpreply/bytesource"
)

// Operation is the HTTP method of a request.
type Operation int

const (
	Get Operation = iota
	Head
	Post
	Put
	Delete
	// Custom uses Request.CustomVerb as the method.
	Custom
)

func (o Operation) String() string {
	switch o {
	case Get:
		return http.MethodGet
	case Head:
		return http.MethodHead
	case Post:
		return http.MethodPost
	case Put:
		return http.MethodPut
	case Delete:
		return http.MethodDelete
	}
	return "CUSTOM"
}

// KnownHeader is a header the request carries in cooked form.
type KnownHeader int

const (
	ContentTypeHeader KnownHeader = iota
	ContentLengthHeader
	ContentDispositionHeader
	LocationHeader
	LastModifiedHeader
	CookieHeader
	UserAgentHeader
	IfModifiedSinceHeader
	IfNoneMatchHeader
	IfMatchHeader
	ETagHeader
)

var knownHeaderNames = map[KnownHeader]string{
	ContentTypeHeader:        "Content-Type",
	ContentLengthHeader:      "Content-Length",
	ContentDispositionHeader: "Content-Disposition",
	LocationHeader:           "Location",
	LastModifiedHeader:       "Last-Modified",
	CookieHeader:             "Cookie",
	UserAgentHeader:          "User-Agent",
	IfModifiedSinceHeader:    "If-Modified-Since",
	IfNoneMatchHeader:        "If-None-Match",
	IfMatchHeader:            "If-Match",
	ETagHeader:               "ETag",
}

func (h KnownHeader) String() string {
	return knownHeaderNames[h]
}

// CacheLoadControl selects how the cache is consulted before dispatch.
type CacheLoadControl int

const (
	// PreferNetwork serves fresh cached responses and revalidates stale ones.
	PreferNetwork CacheLoadControl = iota
	// AlwaysNetwork skips the cache and asks intermediaries to do the same.
	AlwaysNetwork
	// PreferCache serves any cached response, even a stale one.
	PreferCache
	// AlwaysCache never touches the network.
	AlwaysCache
)

type Priority int

const (
	NormalPriority Priority = iota
	LowPriority
	HighPriority
)

const DefaultMaxRedirects = 50

// Attributes tune how one request is processed.
type Attributes struct {
	CacheLoadControl CacheLoadControl
	CacheSaveControl bool
	MaxRedirects     int
	Priority         Priority
	// Synchronous requests are processed on the calling goroutine and the
	// reply is finished when Do returns.
	Synchronous     bool
	FollowRedirects bool
	Background      bool
	// AllowUnbufferedUpload lets a sequential body stream without being
	// drained into memory first.
	AllowUnbufferedUpload bool
	AllowInsecureRedirect bool
	// ZeroCopy has the body written straight into one caller-visible buffer
	// when the announced length is at most MaximumDownloadBufferSize.
	ZeroCopy                  bool
	MaximumDownloadBufferSize int64
}

// DefaultAttributes are the attributes NewRequest starts from.
func DefaultAttributes() Attributes {
	return Attributes{
		CacheSaveControl: true,
		MaxRedirects:     DefaultMaxRedirects,
		FollowRedirects:  true,
	}
}

// Request describes one logical request. Once passed to a Manager it must
// not be modified; redirects produce a new Request.
type Request struct {
	URL        *url.URL
	Operation  Operation
	CustomVerb string
	// Raw header fields. Names are case-insensitive.
	Header     http.Header
	Known      map[KnownHeader]string
	Attributes Attributes
	Body       bytesource.Source
}

// NewRequest creates a request with default attributes.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("URL %q is not absolute", rawURL)
	}
	req := &Request{
		URL:        u,
		Header:     http.Header{},
		Known:      map[KnownHeader]string{},
		Attributes: DefaultAttributes(),
	}
	req.SetMethod(method)
	return req, nil
}

// SetMethod sets Operation and CustomVerb from an HTTP method name.
func (r *Request) SetMethod(method string) {
	r.CustomVerb = ""
	switch strings.ToUpper(method) {
	case "", http.MethodGet:
		r.Operation = Get
	case http.MethodHead:
		r.Operation = Head
	case http.MethodPost:
		r.Operation = Post
	case http.MethodPut:
		r.Operation = Put
	case http.MethodDelete:
		r.Operation = Delete
	default:
		r.Operation = Custom
		r.CustomVerb = method
	}
}

// Method returns the HTTP method name.
func (r *Request) Method() string {
	if r.Operation == Custom {
		return r.CustomVerb
	}
	return r.Operation.String()
}

// SetKnownHeader sets a cooked header. An empty value removes it.
func (r *Request) SetKnownHeader(h KnownHeader, value string) {
	if r.Known == nil {
		r.Known = map[KnownHeader]string{}
	}
	if value == "" {
		delete(r.Known, h)
		return
	}
	r.Known[h] = value
}

// Clone returns a copy of the request. The body source is shared.
func (r *Request) Clone() *Request {
	c := *r
	if r.URL != nil {
		u := *r.URL
		c.URL = &u
	}
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	c.Known = make(map[KnownHeader]string, len(r.Known))
	for k, v := range r.Known {
		c.Known[k] = v
	}
	return &c
}

// rawHeader materializes the cooked headers into a copy of the raw header.
// Raw fields win over cooked ones with the same name.
func (r *Request) rawHeader() http.Header {
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	for k, v := range r.Known {
		name := knownHeaderNames[k]
		if name != "" && h.Get(name) == "" {
			h.Set(name, v)
		}
	}
	return h
}

var bodyHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Encoding",
	"Content-Disposition",
	"Transfer-Encoding",
}

// redirectRequest returns the request to send to target after a redirect.
// HEAD stays HEAD and every other method becomes GET, so the body and the
// headers describing it are dropped.
func (r *Request) redirectRequest(target *url.URL) *Request {
	next := r.Clone()
	next.URL = target
	if r.Operation != Head {
		next.Operation = Get
	}
	next.CustomVerb = ""
	next.Known = map[KnownHeader]string{}
	next.Body = nil
	for _, name := range bodyHeaders {
		next.Header.Del(name)
	}
	return next
}
