package client

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"

	"webclient/application/http"
	"webclient/application/http/semantic"
	"webclient/application/http/semantic/status"
	iolib "webclient/lib/io"
	"webclient/transport"

	"github.com/pkg/errors"
)

type exchangeResult struct {
	head     http.ResponseHead
	headDone bool

	// errBody keeps the body of a response which is not delivered to the sink.
	errBody bytes.Buffer

	received       uint64
	declaredLength uint64
	hasLength      bool
}

func (r *exchangeResult) declared() (uint64, bool) { return r.declaredLength, r.hasLength }

// location returns where a redirection response points to.
func (r *exchangeResult) location() (string, bool) {
	if !status.IsRedirection(r.head.StatusCode) {
		return "", false
	}

	values := r.head.Values("Location")
	if len(values) == 0 || values[0] == "" {
		return "", false
	}
	return values[0], true
}

// exchange sends one request on a fresh connection and reads the response.
// The result is nil when nothing was received.
func (c *Client) exchange(ctx context.Context, a attempt, sink bodySink, opts FetchOptions) (*exchangeResult, error) {
	var buf bytes.Buffer
	enc := http.NewRequestEncoder(&buf, c.opts.Send.Encode)
	if err := enc.Encode(c.newRequest(a, opts)); err != nil {
		return nil, errors.Wrap(err, "encoding request")
	}

	addr := c.combineAddr(a.uri.Host, a.uri.Port)

	conn, err := c.dialerFor(a.uri.Scheme).Dial(ctx, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", addr)
	}
	defer conn.Close()

	// Abort the connection once the fetch is cancelled or timed out.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := iolib.WriteFull(conn, buf.Bytes()); err != nil {
		return nil, errors.Wrap(err, "writing request")
	}

	result := &exchangeResult{}
	parser := http.NewResponseParser(c.opts.Receive.Decode, func(head http.ResponseHead) (io.Writer, error) {
		result.head, result.headDone = head, true
		return c.bodyWriter(a, result, sink), nil
	})

	err = c.readResponse(ctx, conn, parser)

	result.received = parser.Received()
	result.declaredLength, result.hasLength = parser.DeclaredLength()

	if !result.headDone {
		return nil, err
	}
	return result, err
}

// bodyWriter decides where the body of a response goes.
// A nil writer means the body is not read at all.
func (c *Client) bodyWriter(a attempt, result *exchangeResult, sink bodySink) io.Writer {
	switch {
	case status.IsSuccessful(result.head.StatusCode):
		if a.method == semantic.MethodHead {
			return nil
		}
		return sink
	default:
		if _, ok := result.location(); ok {
			return nil
		}
		return &result.errBody
	}
}

// readResponse feeds parser until the response is complete.
// A close caused by the abort hook is not the peer finishing a close-delimited body.
func (c *Client) readResponse(ctx context.Context, conn transport.Conn, parser *http.ResponseParser) error {
	b := make([]byte, c.opts.Receive.ReadBufferSize)
	for parser.State() != http.StateComplete {
		n, err := conn.Read(b)
		if n > 0 {
			if ferr := parser.Feed(b[:n]); ferr != nil {
				return errors.Wrap(ferr, "parsing response")
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, transport.ErrConnClosed), errors.Is(err, io.EOF):
			if cerr := ctx.Err(); cerr != nil {
				return errors.Wrap(cerr, "reading response")
			}
			if lerr := parser.ConnectionLost(); lerr != nil {
				return errors.Wrap(lerr, "parsing response")
			}
			return nil
		default:
			return errors.Wrap(err, "reading response")
		}
	}

	return nil
}

// newRequest renders the headers of an attempt in their wire order.
func (c *Client) newRequest(a attempt, opts FetchOptions) http.Request {
	headers := semantic.NewHeaders(
		semantic.Header{Name: "Host", Value: a.uri.HostPort()},
		semantic.Header{Name: "Connection", Value: "close"},
	)

	var body io.Reader
	if a.body != nil {
		headers.Add("Content-Length", strconv.Itoa(len(a.body)))
		body = bytes.NewReader(a.body)
	}

	agent := opts.Agent
	if agent == "" {
		if custom, ok := opts.Headers.Get("User-Agent"); ok {
			agent = custom
		} else {
			agent = c.opts.DefaultAgent
		}
	}
	headers.Add("User-Agent", agent)

	custom, _ := opts.Headers.Get("Cookie")
	if cookie := semantic.CookieHeader(custom, a.cookies); cookie != "" {
		headers.Add("Cookie", cookie)
	}

	for _, h := range opts.Headers.Entries() {
		if isComputedHeader(h.Name) {
			continue
		}
		headers.Add(h.Name, h.Value)
	}

	return http.Request{
		RequestLine: http.RequestLine{
			Method:  string(a.method),
			Target:  a.uri.OriginForm(),
			Version: http.Version10,
		},
		Headers: headers.ToFields(),
		Body:    body,
	}
}

func isComputedHeader(name string) bool {
	switch strings.ToLower(name) {
	case "host", "connection", "content-length", "user-agent", "cookie":
		return true
	}
	return false
}
