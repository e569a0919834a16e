package client

import (
	"log/slog"
	"time"

	"webclient/application/http"
	"webclient/application/http/semantic"
	"webclient/lib/obs"
	"webclient/transport"

	"github.com/benbjohnson/clock"
)

const (
	DefaultRedirectLimit = 20
	DefaultAgent         = "webclient PageGetter"
)

type Options struct {
	// Dialer connects to http URIs. Defaults to a TCP dialer.
	Dialer transport.ConnDialer
	// SecureDialer connects to https URIs. Defaults to a TLS dialer with system roots.
	SecureDialer transport.ConnDialer

	Clock  clock.Clock
	Logger *slog.Logger
	// Observer receives sink failures. Defaults to Logger.
	Observer obs.Observer

	Send    SendOptions
	Receive ReceiveOptions

	// DefaultAgent is sent as User-Agent unless a request names another one.
	DefaultAgent string

	// CombineAddr turns a host and port into something Dialer understands.
	CombineAddr CombineAddrFunc
}

type SendOptions struct {
	Encode http.EncodeOptions
}

type ReceiveOptions struct {
	Decode http.DecodeOptions

	// ReadBufferSize is the size of every read from the connection.
	ReadBufferSize uint
}

var DefaultReceiveOptions = ReceiveOptions{
	Decode: http.DecodeOptions{
		AllowSoleLF:         true,
		MaxStatusLineLength: 8 << 10,
		MaxFieldLineLength:  8 << 10,
	},
	ReadBufferSize: 4 << 10,
}

// FetchOptions describes one logical fetch. The zero value is a plain GET.
type FetchOptions struct {
	// Method defaults to GET. It is case-sensitive, so only "HEAD" skips the body.
	Method semantic.Method
	// Headers are sent after the computed ones.
	// Host, Content-Length and Connection are never taken from here.
	Headers  semantic.Headers
	PostData []byte // nil means no body.
	Cookies  map[string]string
	// Agent wins over a User-Agent in Headers.
	Agent string

	// Timeout bounds the whole fetch, redirects included. Zero means no limit.
	Timeout time.Duration

	// FollowRedirect defaults to true.
	FollowRedirect *bool
	// AfterFoundGet switches to GET without body after 301, 302 and 303.
	AfterFoundGet bool
	// RedirectLimit defaults to [DefaultRedirectLimit].
	RedirectLimit uint

	// DefaultPort overrides the port implied by the scheme.
	DefaultPort uint16
}

func (o FetchOptions) method() semantic.Method {
	if o.Method == "" {
		return semantic.MethodGet
	}
	return o.Method
}

func (o FetchOptions) followRedirect() bool {
	return o.FollowRedirect == nil || *o.FollowRedirect
}

func (o FetchOptions) redirectLimit() uint {
	if o.RedirectLimit == 0 {
		return DefaultRedirectLimit
	}
	return o.RedirectLimit
}
