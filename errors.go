package httpreply

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// NetworkError classifies why a reply failed.
type NetworkError int

const (
	NoError NetworkError = iota

	// network layer
	ConnectionRefusedError
	RemoteHostClosedError
	HostNotFoundError
	TimeoutError
	OperationCanceledError
	SslHandshakeFailedError
	TemporaryNetworkFailureError
	NetworkSessionFailedError
	BackgroundRequestNotAllowedError
	TooManyRedirectsError
	InsecureRedirectError
	UnknownNetworkError

	// proxy layer
	ProxyConnectionRefusedError
	ProxyConnectionClosedError
	ProxyNotFoundError
	ProxyTimeoutError
	ProxyAuthenticationRequiredError
	UnknownProxyError

	// content layer
	ContentAccessDenied
	ContentOperationNotPermittedError
	ContentNotFoundError
	AuthenticationRequiredError
	ContentReSendError
	ContentConflictError
	ContentGoneError
	UnknownContentError

	// protocol layer
	ProtocolUnknownError
	ProtocolInvalidOperationError
	ProtocolFailure

	// server side
	InternalServerError
	OperationNotImplementedError
	ServiceUnavailableError
	UnknownServerError
)

var networkErrorNames = map[NetworkError]string{
	NoError:                           "no error",
	ConnectionRefusedError:            "connection refused",
	RemoteHostClosedError:             "remote host closed",
	HostNotFoundError:                 "host not found",
	TimeoutError:                      "timeout",
	OperationCanceledError:            "operation canceled",
	SslHandshakeFailedError:           "ssl handshake failed",
	TemporaryNetworkFailureError:      "temporary network failure",
	NetworkSessionFailedError:         "network session failed",
	BackgroundRequestNotAllowedError:  "background request not allowed",
	TooManyRedirectsError:             "too many redirects",
	InsecureRedirectError:             "insecure redirect",
	UnknownNetworkError:               "unknown network error",
	ProxyConnectionRefusedError:       "proxy connection refused",
	ProxyConnectionClosedError:        "proxy connection closed",
	ProxyNotFoundError:                "proxy not found",
	ProxyTimeoutError:                 "proxy timeout",
	ProxyAuthenticationRequiredError:  "proxy authentication required",
	UnknownProxyError:                 "unknown proxy error",
	ContentAccessDenied:               "content access denied",
	ContentOperationNotPermittedError: "content operation not permitted",
	ContentNotFoundError:              "content not found",
	AuthenticationRequiredError:       "authentication required",
	ContentReSendError:                "content re-send failed",
	ContentConflictError:              "content conflict",
	ContentGoneError:                  "content gone",
	UnknownContentError:               "unknown content error",
	ProtocolUnknownError:              "protocol unknown",
	ProtocolInvalidOperationError:     "invalid operation",
	ProtocolFailure:                   "protocol failure",
	InternalServerError:               "internal server error",
	OperationNotImplementedError:      "operation not implemented",
	ServiceUnavailableError:           "service unavailable",
	UnknownServerError:                "unknown server error",
}

func (c NetworkError) String() string {
	if name, ok := networkErrorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("network error %d", int(c))
}

// Error is the terminal error of a reply.
type Error struct {
	Code    NetworkError
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return e.Code.String()
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code NetworkError, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Message: msg}
}

func wrapError(code NetworkError, err error, format string, args ...any) *Error {
	msg := ""
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code carried by err. Errors not produced by this
// package are UnknownNetworkError.
func CodeOf(err error) NetworkError {
	if err == nil {
		return NoError
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return UnknownNetworkError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code NetworkError) bool {
	return err != nil && CodeOf(err) == code
}

// statusCodeError maps a final HTTP status to the error the reply ends with.
func statusCodeError(statusCode int) NetworkError {
	switch statusCode {
	case http.StatusUnauthorized:
		return AuthenticationRequiredError
	case http.StatusForbidden:
		return ContentAccessDenied
	case http.StatusNotFound:
		return ContentNotFoundError
	case http.StatusMethodNotAllowed:
		return ContentOperationNotPermittedError
	case http.StatusProxyAuthRequired:
		return ProxyAuthenticationRequiredError
	case http.StatusConflict:
		return ContentConflictError
	case http.StatusGone:
		return ContentGoneError
	case http.StatusBadRequest, http.StatusTeapot:
		return ProtocolInvalidOperationError
	case http.StatusInternalServerError:
		return InternalServerError
	case http.StatusNotImplemented:
		return OperationNotImplementedError
	case http.StatusServiceUnavailable:
		return ServiceUnavailableError
	}
	switch {
	case statusCode >= 400 && statusCode < 500:
		return UnknownContentError
	case statusCode >= 500 && statusCode < 600:
		return UnknownServerError
	}
	return NoError
}

// classify maps an error reported by a transport to a code.
func classify(err error) NetworkError {
	var e *Error
	var dnsErr *net.DNSError
	var netErr net.Error
	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var recordErr tls.RecordHeaderError
	switch {
	case err == nil:
		return NoError
	case errors.As(err, &e):
		return e.Code
	case errors.Is(err, context.Canceled):
		return OperationCanceledError
	case errors.Is(err, context.DeadlineExceeded):
		return TimeoutError
	case errors.Is(err, ErrProxyNotFound):
		return ProxyNotFoundError
	case errors.As(err, &dnsErr):
		return HostNotFoundError
	case errors.Is(err, syscall.ECONNREFUSED):
		return ConnectionRefusedError
	case errors.As(err, &certErr), errors.As(err, &unknownAuthority),
		errors.As(err, &hostnameErr), errors.As(err, &recordErr):
		return SslHandshakeFailedError
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return RemoteHostClosedError
	case errors.As(err, &netErr) && netErr.Timeout():
		return TimeoutError
	}
	return UnknownNetworkError
}

// migratable reports whether a failure with this code may be resumed with a
// range request.
func migratable(code NetworkError) bool {
	switch code {
	case RemoteHostClosedError, TemporaryNetworkFailureError, NetworkSessionFailedError:
		return true
	}
	return false
}
