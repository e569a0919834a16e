package client

import (
	"fmt"

	"webclient/application/http"
	"webclient/application/http/semantic"
	"webclient/application/http/semantic/status"
	"webclient/application/util/uri"

	"github.com/pkg/errors"
)

var (
	ErrMalformedURI      = uri.ErrMalformed
	ErrInjectionRejected = http.ErrInjectionRejected
	ErrProtocol          = http.ErrProtocol

	ErrOperationTimedOut = errors.New("operation timed out")
)

// HTTPError is returned for a response which is neither successful nor followed.
type HTTPError struct {
	URI        uri.URI
	Status     string
	StatusCode uint
	Message    string
	Headers    semantic.Headers
	Body       []byte
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = status.Text(e.StatusCode)
	}
	return fmt.Sprintf("%s %s (%s)", e.Status, msg, e.URI)
}

// PageRedirectError is returned for a redirect when following is disabled.
type PageRedirectError struct {
	HTTPError
	Location string
}

func (e *PageRedirectError) Error() string {
	return fmt.Sprintf("%s to %s", e.HTTPError.Error(), e.Location)
}

func (e *PageRedirectError) Unwrap() error { return &e.HTTPError }

// PartialDownloadError is returned when a successful response was cut short.
// Body holds what arrived, unless the body went to a caller's sink.
type PartialDownloadError struct {
	URI        uri.URI
	Status     string
	StatusCode uint
	Message    string
	Body       []byte

	Received, Declared uint64
}

func (e *PartialDownloadError) Error() string {
	return fmt.Sprintf("partial download of %s: %d of %d bytes", e.URI, e.Received, e.Declared)
}

func (e *PartialDownloadError) Unwrap() error { return http.ErrIncompleteBody }

type InfiniteRedirectionError struct {
	URI      uri.URI // The last URI fetched.
	Location string
	Count    uint
}

func (e *InfiniteRedirectionError) Error() string {
	return fmt.Sprintf("infinite redirection: %d redirects, last from %s to %s", e.Count, e.URI, e.Location)
}

// SinkIOError is returned when the download sink fails to write or close.
type SinkIOError struct {
	Op  string
	Err error
}

func (e *SinkIOError) Error() string { return "sink " + e.Op + ": " + e.Err.Error() }
func (e *SinkIOError) Unwrap() error { return e.Err }
