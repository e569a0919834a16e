package client

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"webclient/application/http"
	"webclient/application/http/semantic"
	"webclient/application/http/semantic/status"
	"webclient/application/util/rule"
	"webclient/application/util/uri"
	"webclient/lib/obs"
	"webclient/transport"
	"webclient/transport/tcp"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// Client fetches pages with one HTTP/1.0 request per connection.
// It is safe for concurrent use.
type Client struct {
	opts Options

	logger   *slog.Logger
	clock    clock.Clock
	observer obs.Observer

	dialer       transport.ConnDialer
	secureDialer transport.ConnDialer

	combineAddr CombineAddrFunc
}

type CombineAddrFunc func(host string, port uint16) transport.Addr

func New(opts Options) *Client {
	client := &Client{
		opts:         opts,
		logger:       opts.Logger,
		clock:        opts.Clock,
		observer:     opts.Observer,
		dialer:       opts.Dialer,
		secureDialer: opts.SecureDialer,
		combineAddr:  opts.CombineAddr,
	}

	if client.observer == nil {
		if client.logger == nil {
			client.observer = obs.Discard
		} else {
			client.observer = obs.FromSlog(client.logger)
		}
	}
	if client.logger == nil {
		client.logger = slog.New(slog.DiscardHandler)
	}
	if client.clock == nil {
		client.clock = clock.New()
	}
	if client.dialer == nil {
		client.dialer = tcp.NewDialer()
	}
	if client.secureDialer == nil {
		client.secureDialer = tcp.NewTLSDialer(nil)
	}
	if client.combineAddr == nil {
		client.combineAddr = func(host string, port uint16) transport.Addr {
			return tcp.NewAddr(host, port)
		}
	}

	if client.opts.Receive == (ReceiveOptions{}) {
		client.opts.Receive = DefaultReceiveOptions
	}
	if client.opts.Receive.ReadBufferSize == 0 {
		client.opts.Receive.ReadBufferSize = DefaultReceiveOptions.ReadBufferSize
	}
	if client.opts.DefaultAgent == "" {
		client.opts.DefaultAgent = DefaultAgent
	}

	return client
}

// Page is the final response of a fetch.
type Page struct {
	URI        uri.URI
	Version    http.Version
	Status     string
	StatusCode uint
	Message    string
	Headers    semantic.Headers
	// Cookies holds the cookies sent with the request and every cookie received on the way.
	Cookies map[string]string
	// Body is nil when the body went to a sink.
	Body []byte

	Redirects uint
}

// Fetch retrieves the page at rawURI into memory.
func (c *Client) Fetch(ctx context.Context, rawURI string, opts FetchOptions) (*Page, error) {
	sink := &memorySink{}

	page, err := c.fetch(ctx, rawURI, sink, opts)
	if err != nil {
		return nil, err
	}

	page.Body = sink.partial()
	return page, nil
}

// FetchToSink writes the page body at rawURI into sink.
// sink is closed exactly once, whatever the outcome.
func (c *Client) FetchToSink(ctx context.Context, rawURI string, sink io.WriteCloser, opts FetchOptions) (*Page, error) {
	ws := newWriterSink(ctx, sink, c.observer, rawURI)

	page, err := c.fetch(ctx, rawURI, ws, opts)
	if cerr := ws.Close(); cerr != nil && err == nil {
		return nil, cerr
	}
	if err != nil {
		return nil, err
	}

	return page, nil
}

// attempt is one request of a fetch. Only the redirect loop changes it.
type attempt struct {
	method  semantic.Method
	uri     uri.URI
	body    []byte
	cookies map[string]string
}

func (c *Client) fetch(ctx context.Context, rawURI string, sink bodySink, opts FetchOptions) (*Page, error) {
	trimmed := strings.TrimSpace(rawURI)
	if trimmed != "" && !rule.AllVisible(trimmed) {
		return nil, errors.Wrapf(ErrInjectionRejected, "uri: %q", rawURI)
	}

	u, err := uri.Parse(trimmed, uri.WithDefaultPort(opts.DefaultPort))
	if err != nil {
		return nil, errors.Wrap(err, "parsing uri")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = c.clock.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	a := attempt{
		method:  opts.method(),
		uri:     u,
		body:    opts.PostData,
		cookies: semantic.MergeCookies(nil, opts.Cookies),
	}

	page, err := c.redirectLoop(ctx, a, sink, opts)
	if err != nil {
		return nil, c.contextErr(ctx, err, opts)
	}

	return page, nil
}

// contextErr replaces err with the reason ctx ended, if it did.
// A cancelled fetch has no other outcome.
func (c *Client) contextErr(ctx context.Context, err error, opts FetchOptions) error {
	switch ctx.Err() {
	case nil:
		return err
	case context.DeadlineExceeded:
		return errors.Wrapf(ErrOperationTimedOut, "timeout %s", opts.Timeout)
	default:
		return errors.Wrap(ctx.Err(), "fetch cancelled")
	}
}

func (c *Client) redirectLoop(ctx context.Context, a attempt, sink bodySink, opts FetchOptions) (*Page, error) {
	redirects := uint(0)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.logger.DebugContext(ctx, "sending request",
			slog.String("method", string(a.method)),
			slog.String("uri", a.uri.String()),
			slog.Uint64("redirects", uint64(redirects)),
		)

		result, err := c.exchange(ctx, a, sink, opts)
		if cerr := ctx.Err(); cerr != nil {
			// The deadline is the only outcome, even if the response completed meanwhile.
			return nil, cerr
		}
		if result != nil {
			a.cookies = semantic.MergeCookies(a.cookies, result.head.Cookies())
		}

		if err != nil {
			return nil, c.classifyFailure(a, result, sink, err)
		}

		head := result.head
		code := head.StatusCode

		if status.IsSuccessful(code) {
			return &Page{
				URI:        a.uri,
				Version:    head.Version,
				Status:     head.Status(),
				StatusCode: code,
				Message:    head.ReasonPhrase,
				Headers:    semantic.HeadersFrom(head.Headers),
				Cookies:    a.cookies,
				Redirects:  redirects,
			}, nil
		}

		location, ok := result.location()
		if !ok {
			return nil, newHTTPError(a.uri, head, result.errBody.Bytes())
		}

		if !opts.followRedirect() {
			return nil, &PageRedirectError{
				HTTPError: *newHTTPError(a.uri, head, result.errBody.Bytes()),
				Location:  location,
			}
		}

		redirects++
		if redirects >= opts.redirectLimit() {
			return nil, &InfiniteRedirectionError{URI: a.uri, Location: location, Count: redirects}
		}

		next, err := c.nextAttempt(a, code, location, opts)
		if err != nil {
			return nil, err
		}

		c.logger.DebugContext(ctx, "following redirect",
			slog.Uint64("status", uint64(code)),
			slog.String("from", a.uri.String()),
			slog.String("to", next.uri.String()),
		)

		a = next
	}
}

func (c *Client) nextAttempt(a attempt, code uint, location string, opts FetchOptions) (attempt, error) {
	if !rule.AllVisible(location) {
		return attempt{}, errors.Wrapf(ErrInjectionRejected, "location: %q", location)
	}

	next, err := uri.Join(a.uri, []byte(location))
	if err != nil {
		return attempt{}, errors.Wrapf(err, "resolving location %q", location)
	}

	a.uri = next

	if opts.AfterFoundGet && status.IsFoundLike(code) && !a.method.KeepsMethodOnFound() {
		a.method = semantic.MethodGet
		a.body = nil
	}

	return a, nil
}

// classifyFailure turns an exchange failure into the error of the fetch.
func (c *Client) classifyFailure(a attempt, result *exchangeResult, sink bodySink, err error) error {
	if result == nil || !result.headDone || !errors.Is(err, http.ErrIncompleteBody) {
		return err
	}

	head := result.head
	if !status.IsSuccessful(head.StatusCode) {
		// The status says more than the missing bytes.
		return newHTTPError(a.uri, head, result.errBody.Bytes())
	}

	declared, _ := result.declared()
	return &PartialDownloadError{
		URI:        a.uri,
		Status:     head.Status(),
		StatusCode: head.StatusCode,
		Message:    head.ReasonPhrase,
		Body:       sink.partial(),
		Received:   result.received,
		Declared:   declared,
	}
}

func newHTTPError(u uri.URI, head http.ResponseHead, body []byte) *HTTPError {
	return &HTTPError{
		URI:        u,
		Status:     head.Status(),
		StatusCode: head.StatusCode,
		Message:    head.ReasonPhrase,
		Headers:    semantic.HeadersFrom(head.Headers),
		Body:       body,
	}
}

func (c *Client) dialerFor(scheme string) transport.ConnDialer {
	if scheme == "https" {
		return c.secureDialer
	}
	return c.dialer
}
