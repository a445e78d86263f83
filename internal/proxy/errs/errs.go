// Package errs defines the failure taxonomy for the fetch-and-rewrite pipeline.
//
// Every non-success terminal state of the pipeline maps to exactly one Kind,
// and every Kind maps to exactly one HTTP status. Handlers branch on the kind,
// never on message text.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the failure class of a pipeline error.
type Kind string

const (
	InvalidURL             Kind = "invalid_url"
	BlockedHost            Kind = "blocked_host"
	DNSResolutionFailed    Kind = "dns_resolution_failed"
	UnsupportedContentType Kind = "unsupported_content_type"
	PayloadTooLarge        Kind = "payload_too_large"
	EmptyBody              Kind = "empty_body"
	UpstreamTimeout        Kind = "upstream_timeout"
	UpstreamError          Kind = "upstream_error"
)

// Error is a pipeline failure carrying its kind and, when the upstream
// request got far enough to know it, the final post-redirect URL.
type Error struct {
	Kind     Kind
	Message  string
	FinalURL string
	Err      error
}

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithFinalURL attaches the post-redirect URL to the error.
func (e *Error) WithFinalURL(u string) *Error {
	e.FinalURL = u
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// treated as generic upstream failures.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return UpstreamError
}

// HTTPStatus maps a failure kind to the wire status the embedding client
// depends on. BlockedHost and DNSResolutionFailed are deliberately not
// distinguished at the HTTP layer.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidURL:
		return http.StatusBadRequest
	case UnsupportedContentType:
		return http.StatusUnsupportedMediaType
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case EmptyBody:
		return http.StatusBadGateway
	case BlockedHost, DNSResolutionFailed, UpstreamTimeout, UpstreamError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
