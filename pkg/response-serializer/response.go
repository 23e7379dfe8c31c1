package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

const (
	urlHeaderName        = "Httpreply-Url"
	storedAtHeaderName   = "Httpreply-Stored-At"
	expiresHeaderName    = "Httpreply-Expires"
	redirectHeaderName   = "Httpreply-Redirect"
	saveToDiskHeaderName = "Httpreply-Save-To-Disk"
)

var internalHeaders = []string{
	urlHeaderName,
	storedAtHeaderName,
	expiresHeaderName,
	redirectHeaderName,
	saveToDiskHeaderName,
}

// StoredResponse is a cache entry: response metadata and body.
type StoredResponse struct {
	URL          string
	StatusCode   int
	ReasonPhrase string
	Header       http.Header
	// Zero when the response has no explicit expiration.
	Expires time.Time
	// Absolute redirect target, if the response was a redirect.
	RedirectTarget string
	SaveToDisk     bool
	// The value of the clock at the time the entry was written.
	StoredAt time.Time
	Body     []byte
}

// StoredResponseToBytes writes the entry as an HTTP/1.1 response message.
// The entry's bookkeeping travels in extra header fields, which are removed
// again by BytesToStoredResponse.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	if sRes.StatusCode < 100 || sRes.StatusCode > 999 {
		return nil, fmt.Errorf("Invalid status code %d", sRes.StatusCode)
	}
	reason := sRes.ReasonPhrase
	if reason == "" {
		reason = http.StatusText(sRes.StatusCode)
	}

	header := sRes.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(urlHeaderName, sRes.URL)
	header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	if !sRes.Expires.IsZero() {
		header.Set(expiresHeaderName, strconv.FormatInt(sRes.Expires.Unix(), 10))
	}
	if sRes.RedirectTarget != "" {
		header.Set(redirectHeaderName, sRes.RedirectTarget)
	}
	if sRes.SaveToDisk {
		header.Set(saveToDiskHeaderName, "1")
	}

	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "HTTP/1.1 %03d %s\r\n", sRes.StatusCode, reason)
	if err := header.Write(buf); err != nil {
		return nil, err
	}
	buf.WriteString("\r\n")
	buf.Write(sRes.Body)
	return buf.Bytes(), nil
}

// BytesToStoredResponse reverses StoredResponseToBytes.
// Everything after the header block is the body, regardless of any
// Content-Length the stored header carries.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	sRes := StoredResponse{}
	br := bufio.NewReader(bytes.NewReader(b))
	tp := textproto.NewReader(br)

	statusLine, err := tp.ReadLine()
	if err != nil {
		return sRes, err
	}
	proto, status, ok := strings.Cut(statusLine, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return sRes, fmt.Errorf("Malformed status line %q", statusLine)
	}
	code, reason, _ := strings.Cut(status, " ")
	if sRes.StatusCode, err = strconv.Atoi(code); err != nil {
		return sRes, fmt.Errorf("Malformed status code %q", code)
	}
	sRes.ReasonPhrase = reason

	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return sRes, err
	}
	header := http.Header(mimeHeader)
	sRes.URL = header.Get(urlHeaderName)
	if storedAt, err := strconv.ParseInt(header.Get(storedAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.Unix(storedAt, 0)
	}
	if exp := header.Get(expiresHeaderName); exp != "" {
		expInt, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			return sRes, err
		}
		sRes.Expires = time.Unix(expInt, 0)
	}
	sRes.RedirectTarget = header.Get(redirectHeaderName)
	sRes.SaveToDisk = header.Get(saveToDiskHeaderName) == "1"
	// delete extra headers
	for _, name := range internalHeaders {
		header.Del(name)
	}
	sRes.Header = header

	body, err := io.ReadAll(br)
	if err != nil {
		return sRes, err
	}
	sRes.Body = body
	return sRes, nil
}
