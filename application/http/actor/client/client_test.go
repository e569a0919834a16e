package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"webclient/application/http"
	"webclient/application/http/semantic"
	"webclient/application/http/semantic/status"
	"webclient/application/http/transfer"
	"webclient/lib/obs"
	"webclient/lib/types/pointer"
	"webclient/transport"
	"webclient/transport/pipe"
	"webclient/transport/tcp"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

type recordedRequest struct {
	addr    string
	method  string
	target  string
	headers []semantic.Header
	body    string
}

type fixtureResponse struct {
	status  uint
	headers []semantic.Header
	body    string
	chunks  []string // sent with the chunked coding instead of body.

	raw   string // written as is, instead of the fields above.
	stall bool   // keep the connection open until the client closes it.
}

type handler func(req recordedRequest) fixtureResponse

func page(code uint, body string, headers ...semantic.Header) fixtureResponse {
	headers = append(headers, semantic.Header{Name: "Content-Length", Value: strconv.Itoa(len(body))})
	return fixtureResponse{status: code, headers: headers, body: body}
}

func redirect(code uint, location string, headers ...semantic.Header) fixtureResponse {
	headers = append(headers, semantic.Header{Name: "Location", Value: location})
	return page(code, "moved", headers...)
}

type countingDialer struct {
	d transport.ConnDialer
	n atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	d.n.Add(1)
	return d.d.Dial(ctx, addr)
}

type ClientTestSuite struct {
	suite.Suite

	clock     *clock.Mock
	transport *pipe.PipeTransport
	dialer    *countingDialer
	secure    *countingDialer
	client    *Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	listeners []transport.ConnListener

	mu       sync.Mutex
	requests []recordedRequest

	// stalling is signalled when a stalling fixture has written its response.
	stalling chan struct{}
	// clientClosed is closed when a stalling fixture sees the connection closed.
	clientClosed chan struct{}
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) SetupTest() {
	s.clock = clock.NewMock()
	s.transport = pipe.NewPipeTransport(s.clock)
	s.dialer = &countingDialer{d: s.transport}
	s.secure = &countingDialer{d: s.transport}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.listeners = nil
	s.requests = nil
	s.stalling = make(chan struct{}, 1)
	s.clientClosed = make(chan struct{}, 1)

	s.client = s.newClient(Options{})
}

func (s *ClientTestSuite) newClient(opts Options) *Client {
	opts.Dialer = s.dialer
	opts.SecureDialer = s.secure
	opts.Clock = s.clock
	opts.CombineAddr = func(host string, port uint16) transport.Addr {
		return pipe.Addr{Name: tcp.NewAddr(host, port).String()}
	}
	return New(opts)
}

func (s *ClientTestSuite) TearDownTest() {
	s.cancel()
	for _, lis := range s.listeners {
		lis.Close()
	}
	s.wg.Wait()

	goleak.VerifyNone(s.T())
}

func (s *ClientTestSuite) serve(name string, h handler) {
	lis, err := s.transport.Listen(pipe.Addr{Name: name})
	s.Require().NoError(err)
	s.listeners = append(s.listeners, lis)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := lis.Accept(s.ctx)
			if err != nil {
				return
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer conn.Close()
				s.handle(name, conn, h)
			}()
		}
	}()
}

// serveDeaf accepts connections but never reads from them.
func (s *ClientTestSuite) serveDeaf(name string) {
	lis, err := s.transport.Listen(pipe.Addr{Name: name})
	s.Require().NoError(err)
	s.listeners = append(s.listeners, lis)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		conn, err := lis.Accept(s.ctx)
		if err != nil {
			return
		}
		defer conn.Close()

		s.stalling <- struct{}{}
		// Both ends write, so this blocks until the client closes.
		conn.Write([]byte("x"))
		s.clientClosed <- struct{}{}
	}()
}

func (s *ClientTestSuite) handle(name string, conn transport.Conn, h handler) {
	var req http.Request
	if err := http.NewRequestDecoder(conn, http.DefaultDecodeOptions).Decode(&req); err != nil {
		return
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return
	}

	recorded := recordedRequest{
		addr:    name,
		method:  req.Method,
		target:  req.Target,
		headers: semantic.HeadersFrom(req.Headers).Entries(),
		body:    string(body),
	}

	s.mu.Lock()
	s.requests = append(s.requests, recorded)
	s.mu.Unlock()

	res := h(recorded)

	switch {
	case res.raw != "":
		conn.Write([]byte(res.raw))
	case res.status != 0:
		body := []byte(res.body)
		if len(res.chunks) > 0 {
			var buf bytes.Buffer
			cw := transfer.NewChunkedWriter(&buf)
			for _, chunk := range res.chunks {
				cw.Write([]byte(chunk))
			}
			cw.Close()
			body = buf.Bytes()
		}

		http.NewResponseEncoder(conn, http.DefaultEncodeOptions).Encode(http.Response{
			StatusLine: http.StatusLine{
				Version:      http.Version10,
				StatusCode:   res.status,
				ReasonPhrase: status.Text(res.status),
			},
			Headers: semantic.NewHeaders(res.headers...).ToFields(),
			Body:    bytes.NewReader(body),
		})
	}

	if res.stall {
		s.stalling <- struct{}{}
		// Blocks until the client closes.
		conn.Read(make([]byte, 1))
		s.clientClosed <- struct{}{}
	}
}

func (s *ClientTestSuite) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func (s *ClientTestSuite) TestFetch() {
	testcases := []struct {
		desc   string
		uri    string
		addr   string
		host   string
		target string
	}{
		{
			desc:   "host name",
			uri:    "http://example.com/path;p?x=1#frag",
			addr:   "example.com:80",
			host:   "example.com",
			target: "/path;p?x=1",
		},
		{
			desc:   "ipv4 with port",
			uri:    "http://127.0.0.1:8080",
			addr:   "127.0.0.1:8080",
			host:   "127.0.0.1:8080",
			target: "/",
		},
		{
			desc:   "ipv6",
			uri:    "http://[::1]/a/b",
			addr:   "[::1]:80",
			host:   "[::1]",
			target: "/a/b",
		},
		{
			desc:   "ipv6 with port",
			uri:    "http://[::1]:8080/",
			addr:   "[::1]:8080",
			host:   "[::1]:8080",
			target: "/",
		},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.TearDownTest()
			s.SetupTest()

			s.serve(tc.addr, func(recordedRequest) fixtureResponse {
				return page(200, "hello", semantic.Header{Name: "X-Served", Value: "yes"})
			})

			got, err := s.client.Fetch(context.Background(), tc.uri, FetchOptions{})
			s.Require().NoError(err)

			s.Equal("hello", string(got.Body))
			s.Equal(uint(200), got.StatusCode)
			s.Equal("200", got.Status)
			s.Equal("OK", got.Message)
			s.Equal(http.Version10, got.Version)
			s.Equal(tc.uri, got.URI.String())
			s.Zero(got.Redirects)

			served, ok := got.Headers.Get("X-Served")
			s.True(ok)
			s.Equal("yes", served)

			requests := s.recorded()
			s.Require().Len(requests, 1)
			s.Equal("GET", requests[0].method)
			s.Equal(tc.target, requests[0].target)
			s.Equal([]semantic.Header{
				{Name: "Host", Value: tc.host},
				{Name: "Connection", Value: "close"},
				{Name: "User-Agent", Value: DefaultAgent},
			}, requests[0].headers)
		})
	}
}

func (s *ClientTestSuite) TestRequestHeaders() {
	s.serve("example.com:80", func(recordedRequest) fixtureResponse {
		return page(200, "")
	})

	testcases := []struct {
		desc     string
		opts     FetchOptions
		expected []semantic.Header
		body     string
	}{
		{
			desc: "computed headers win",
			opts: FetchOptions{
				Method: semantic.MethodPost,
				Headers: semantic.NewHeaders(
					semantic.Header{Name: "Host", Value: "evil.example"},
					semantic.Header{Name: "Content-Length", Value: "100"},
					semantic.Header{Name: "Connection", Value: "keep-alive"},
					semantic.Header{Name: "X-First", Value: "1"},
					semantic.Header{Name: "X-Second", Value: "2"},
				),
				PostData: []byte("a=1"),
			},
			expected: []semantic.Header{
				{Name: "Host", Value: "example.com"},
				{Name: "Connection", Value: "close"},
				{Name: "Content-Length", Value: "3"},
				{Name: "User-Agent", Value: DefaultAgent},
				{Name: "X-First", Value: "1"},
				{Name: "X-Second", Value: "2"},
			},
			body: "a=1",
		},
		{
			desc: "empty post data",
			opts: FetchOptions{Method: semantic.MethodPost, PostData: []byte{}},
			expected: []semantic.Header{
				{Name: "Host", Value: "example.com"},
				{Name: "Connection", Value: "close"},
				{Name: "Content-Length", Value: "0"},
				{Name: "User-Agent", Value: DefaultAgent},
			},
		},
		{
			desc: "custom user agent header",
			opts: FetchOptions{
				Headers: semantic.NewHeaders(semantic.Header{Name: "user-agent", Value: "custom/1.0"}),
			},
			expected: []semantic.Header{
				{Name: "Host", Value: "example.com"},
				{Name: "Connection", Value: "close"},
				{Name: "User-Agent", Value: "custom/1.0"},
			},
		},
		{
			desc: "explicit agent beats header",
			opts: FetchOptions{
				Agent:   "explicit/2.0",
				Headers: semantic.NewHeaders(semantic.Header{Name: "User-Agent", Value: "custom/1.0"}),
			},
			expected: []semantic.Header{
				{Name: "Host", Value: "example.com"},
				{Name: "Connection", Value: "close"},
				{Name: "User-Agent", Value: "explicit/2.0"},
			},
		},
		{
			desc: "custom cookie first",
			opts: FetchOptions{
				Headers: semantic.NewHeaders(semantic.Header{Name: "Cookie", Value: "blah blah"}),
				Cookies: map[string]string{"foo": "bar", "baz": "quux"},
			},
			expected: []semantic.Header{
				{Name: "Host", Value: "example.com"},
				{Name: "Connection", Value: "close"},
				{Name: "User-Agent", Value: DefaultAgent},
				{Name: "Cookie", Value: "blah blah; baz=quux; foo=bar"},
			},
		},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.mu.Lock()
			s.requests = nil
			s.mu.Unlock()

			_, err := s.client.Fetch(context.Background(), "http://example.com/", tc.opts)
			s.Require().NoError(err)

			requests := s.recorded()
			s.Require().Len(requests, 1)
			s.Equal(tc.expected, requests[0].headers)
			s.Equal(tc.body, requests[0].body)
		})
	}
}

func (s *ClientTestSuite) TestDefaultAgentOption() {
	s.client = s.newClient(Options{DefaultAgent: "configured"})
	s.serve("example.com:80", func(recordedRequest) fixtureResponse { return page(200, "") })

	_, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{})
	s.Require().NoError(err)

	s.Contains(s.recorded()[0].headers, semantic.Header{Name: "User-Agent", Value: "configured"})
}

func (s *ClientTestSuite) TestDefaultPortOverride() {
	s.serve("example.com:8000", func(recordedRequest) fixtureResponse { return page(200, "ok") })

	got, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{DefaultPort: 8000})
	s.Require().NoError(err)
	s.Equal("ok", string(got.Body))
	s.Equal(uint16(8000), got.URI.Port)
}

func (s *ClientTestSuite) TestRedirect() {
	s.serve("example.com:80", func(req recordedRequest) fixtureResponse {
		switch req.target {
		case "/old":
			return redirect(301, "/new?x=1", semantic.Header{Name: "Set-Cookie", Value: "session=abc; Path=/"})
		case "/new?x=1":
			return page(200, "moved here")
		}
		return page(404, "")
	})

	got, err := s.client.Fetch(context.Background(), "http://example.com/old#top", FetchOptions{
		Cookies: map[string]string{"initial": "1"},
	})
	s.Require().NoError(err)

	s.Equal("moved here", string(got.Body))
	s.Equal("http://example.com/new?x=1#top", got.URI.String())
	s.Equal(uint(1), got.Redirects)
	s.Equal(map[string]string{"initial": "1", "session": "abc"}, got.Cookies)

	requests := s.recorded()
	s.Require().Len(requests, 2)
	s.Contains(requests[0].headers, semantic.Header{Name: "Cookie", Value: "initial=1"})
	s.Contains(requests[1].headers, semantic.Header{Name: "Cookie", Value: "initial=1; session=abc"})
}

func (s *ClientTestSuite) TestRedirectAcrossHosts() {
	s.serve("example.com:80", func(recordedRequest) fixtureResponse {
		return redirect(302, "http://other.example:8080/landing")
	})
	s.serve("other.example:8080", func(recordedRequest) fixtureResponse {
		return page(200, "landed")
	})

	got, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{})
	s.Require().NoError(err)
	s.Equal("landed", string(got.Body))

	requests := s.recorded()
	s.Require().Len(requests, 2)
	s.Equal("other.example:8080", requests[1].addr)
	s.Contains(requests[1].headers, semantic.Header{Name: "Host", Value: "other.example:8080"})
}

func (s *ClientTestSuite) TestRedirectAcrossSchemes() {
	s.serve("example.com:80", func(recordedRequest) fixtureResponse {
		return redirect(302, "https://example.com/secure")
	})
	s.serve("example.com:443", func(recordedRequest) fixtureResponse {
		return page(200, "secret")
	})

	got, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{})
	s.Require().NoError(err)

	s.Equal("secret", string(got.Body))
	s.Equal("https", got.URI.Scheme)
	s.Equal(int32(1), s.dialer.n.Load())
	s.Equal(int32(1), s.secure.n.Load())

	requests := s.recorded()
	s.Require().Len(requests, 2)
	s.Contains(requests[1].headers, semantic.Header{Name: "Host", Value: "example.com"})
}

func (s *ClientTestSuite) TestRedirectLimit() {
	s.serve("example.com:80", func(recordedRequest) fixtureResponse {
		return redirect(302, "/loop")
	})

	testcases := []struct {
		desc     string
		limit    uint
		expected uint
	}{
		{desc: "custom limit", limit: 13, expected: 13},
		{desc: "limit of one", limit: 1, expected: 1},
		{desc: "default limit", limit: 0, expected: DefaultRedirectLimit},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.mu.Lock()
			s.requests = nil
			s.mu.Unlock()

			_, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{RedirectLimit: tc.limit})

			var redirErr *InfiniteRedirectionError
			s.Require().ErrorAs(err, &redirErr)
			s.Equal(tc.expected, redirErr.Count)
			s.Equal("/loop", redirErr.Location)
			s.Len(s.recorded(), int(tc.expected))
		})
	}
}

func (s *ClientTestSuite) TestAfterFoundGet() {
	s.serve("example.com:80", func(req recordedRequest) fixtureResponse {
		switch req.target {
		case "/found":
			return redirect(302, "/target")
		case "/see-other":
			return redirect(303, "/target")
		case "/temporary":
			return redirect(307, "/target")
		}
		return page(200, req.method)
	})

	testcases := []struct {
		desc          string
		target        string
		afterFoundGet bool
		method        string
		body          string
	}{
		{desc: "found switches to get", target: "/found", afterFoundGet: true, method: "GET"},
		{desc: "see other switches to get", target: "/see-other", afterFoundGet: true, method: "GET"},
		{desc: "temporary keeps method", target: "/temporary", afterFoundGet: true, method: "POST", body: "data"},
		{desc: "found keeps method without option", target: "/found", method: "POST", body: "data"},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.mu.Lock()
			s.requests = nil
			s.mu.Unlock()

			got, err := s.client.Fetch(context.Background(), "http://example.com"+tc.target, FetchOptions{
				Method:        semantic.MethodPost,
				PostData:      []byte("data"),
				AfterFoundGet: tc.afterFoundGet,
			})
			s.Require().NoError(err)
			s.Equal(tc.method, string(got.Body))

			requests := s.recorded()
			s.Require().Len(requests, 2)
			s.Equal("POST", requests[0].method)
			s.Equal(tc.method, requests[1].method)
			s.Equal(tc.body, requests[1].body)

			_, hasLength := semantic.NewHeaders(requests[1].headers...).Get("Content-Length")
			s.Equal(tc.body != "", hasLength)
		})
	}
}

func (s *ClientTestSuite) TestNoFollowRedirect() {
	s.serve("example.com:80", func(recordedRequest) fixtureResponse {
		return redirect(302, "/elsewhere")
	})

	_, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{
		FollowRedirect: pointer.To(false),
	})

	var redirErr *PageRedirectError
	s.Require().ErrorAs(err, &redirErr)
	s.Equal("/elsewhere", redirErr.Location)
	s.Equal(uint(302), redirErr.StatusCode)

	var httpErr *HTTPError
	s.Require().ErrorAs(err, &httpErr)
	s.Equal("302", httpErr.Status)

	s.Len(s.recorded(), 1)
}

func (s *ClientTestSuite) TestHTTPError() {
	s.serve("example.com:80", func(req recordedRequest) fixtureResponse {
		if req.target == "/no-location" {
			return page(302, "nowhere")
		}
		return page(404, "not here")
	})

	testcases := []struct {
		desc   string
		target string
		code   uint
		body   string
	}{
		{desc: "not found", target: "/missing", code: 404, body: "not here"},
		{desc: "redirect without location", target: "/no-location", code: 302, body: "nowhere"},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			_, err := s.client.Fetch(context.Background(), "http://example.com"+tc.target, FetchOptions{})

			var httpErr *HTTPError
			s.Require().ErrorAs(err, &httpErr)
			s.Equal(tc.code, httpErr.StatusCode)
			s.Equal(tc.body, string(httpErr.Body))
			s.Equal(status.Text(tc.code), httpErr.Message)
		})
	}
}

func (s *ClientTestSuite) TestHTTPErrorBeatsPartialBody() {
	s.serve("example.com:80", func(recordedRequest) fixtureResponse {
		return fixtureResponse{raw: "HTTP/1.0 500 Oops\r\nContent-Length: 10\r\n\r\nabc"}
	})

	_, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{})

	var httpErr *HTTPError
	s.Require().ErrorAs(err, &httpErr)
	s.Equal("Oops", httpErr.Message)
	s.Equal("abc", string(httpErr.Body))

	var partial *PartialDownloadError
	s.False(errors.As(err, &partial))
}

func (s *ClientTestSuite) TestPartialDownload() {
	s.serve("example.com:80", func(recordedRequest) fixtureResponse {
		return fixtureResponse{raw: "HTTP/1.0 200 OK\r\nContent-Length: 5\r\n\r\nabc"}
	})

	_, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{})

	var partial *PartialDownloadError
	s.Require().ErrorAs(err, &partial)
	s.Equal("abc", string(partial.Body))
	s.Equal(uint(200), partial.StatusCode)
	s.Equal("OK", partial.Message)
	s.Equal(uint64(3), partial.Received)
	s.Equal(uint64(5), partial.Declared)
	s.ErrorIs(err, http.ErrIncompleteBody)
}

func (s *ClientTestSuite) TestBodyFraming() {
	testcases := []struct {
		desc string
		res  fixtureResponse
		body string
	}{
		{
			desc: "close delimited",
			res:  fixtureResponse{raw: "HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\n\r\nuntil the end"},
			body: "until the end",
		},
		{
			desc: "chunked",
			res: fixtureResponse{
				status:  200,
				headers: []semantic.Header{{Name: "Transfer-Encoding", Value: "chunked"}},
				chunks:  []string{"abc", "de"},
			},
			body: "abcde",
		},
		{
			desc: "chunked with extension",
			res:  fixtureResponse{raw: "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3;ext=1\r\nabc\r\n0\r\nX-Trailer: 1\r\n\r\n"},
			body: "abc",
		},
		{
			desc: "sole LF",
			res:  fixtureResponse{raw: "HTTP/1.0 200 OK\nContent-Length: 2\n\nhi"},
			body: "hi",
		},
		{
			desc: "no content",
			res:  fixtureResponse{raw: "HTTP/1.0 204 No Content\r\n\r\n"},
			body: "",
		},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.TearDownTest()
			s.SetupTest()

			s.serve("example.com:80", func(recordedRequest) fixtureResponse { return tc.res })

			got, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{})
			s.Require().NoError(err)
			s.Equal(tc.body, string(got.Body))
		})
	}
}

func (s *ClientTestSuite) TestProtocolError() {
	testcases := []struct {
		desc string
		raw  string
	}{
		{desc: "garbage status line", raw: "garbage\r\n\r\n"},
		{desc: "closed in headers", raw: "HTTP/1.0 200 OK\r\nContent-Le"},
		{desc: "conflicting content length", raw: "HTTP/1.0 200 OK\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\nab"},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.TearDownTest()
			s.SetupTest()

			s.serve("example.com:80", func(recordedRequest) fixtureResponse {
				return fixtureResponse{raw: tc.raw}
			})

			_, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{})
			s.ErrorIs(err, ErrProtocol)
		})
	}
}

func (s *ClientTestSuite) TestHead() {
	s.serve("example.com:80", func(recordedRequest) fixtureResponse {
		return page(200, "hello")
	})

	testcases := []struct {
		desc   string
		method semantic.Method
		body   string
	}{
		{desc: "exact head", method: semantic.MethodHead, body: ""},
		{desc: "other casing", method: "Head", body: "hello"},
		{desc: "lower case", method: "head", body: "hello"},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			got, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{Method: tc.method})
			s.Require().NoError(err)
			s.Equal(tc.body, string(got.Body))
		})
	}
}

func (s *ClientTestSuite) TestTimeout() {
	testcases := []struct {
		desc string
		res  fixtureResponse
	}{
		{
			desc: "no bytes",
			res:  fixtureResponse{stall: true},
		},
		{
			desc: "partial bytes",
			res:  fixtureResponse{raw: "HTTP/1.0 200 OK\r\nContent-Length: 10\r\n\r\nabc", stall: true},
		},
		{
			desc: "partial head",
			res:  fixtureResponse{raw: "HTTP/1.0 200 OK\r\nCont", stall: true},
		},
		{
			desc: "body delimited by close",
			res:  fixtureResponse{raw: "HTTP/1.0 200 OK\r\n\r\nabc", stall: true},
		},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.TearDownTest()
			s.SetupTest()

			s.serve("example.com:80", func(recordedRequest) fixtureResponse { return tc.res })

			errc := make(chan error, 1)
			go func() {
				_, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{Timeout: 10 * time.Second})
				errc <- err
			}()

			<-s.stalling
			s.clock.Add(10 * time.Second)

			err := <-errc
			s.ErrorIs(err, ErrOperationTimedOut)

			var partial *PartialDownloadError
			s.False(errors.As(err, &partial))

			// The connection is aborted.
			<-s.clientClosed
		})
	}
}

func (s *ClientTestSuite) TestTimeoutSpansRedirects() {
	s.serve("example.com:80", func(req recordedRequest) fixtureResponse {
		if req.target == "/" {
			return redirect(302, "/stall")
		}
		return fixtureResponse{stall: true}
	})

	errc := make(chan error, 1)
	go func() {
		_, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{Timeout: time.Minute})
		errc <- err
	}()

	<-s.stalling
	s.clock.Add(time.Minute)

	s.ErrorIs(<-errc, ErrOperationTimedOut)
	<-s.clientClosed
	s.Len(s.recorded(), 2)
}

func (s *ClientTestSuite) TestCancel() {
	testcases := []struct {
		desc string
		res  fixtureResponse
	}{
		{
			desc: "no bytes",
			res:  fixtureResponse{stall: true},
		},
		{
			desc: "body delimited by close",
			res:  fixtureResponse{raw: "HTTP/1.0 200 OK\r\n\r\nabc", stall: true},
		},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.TearDownTest()
			s.SetupTest()

			s.serve("example.com:80", func(recordedRequest) fixtureResponse { return tc.res })

			ctx, cancel := context.WithCancel(context.Background())

			errc := make(chan error, 1)
			go func() {
				_, err := s.client.Fetch(ctx, "http://example.com/", FetchOptions{})
				errc <- err
			}()

			<-s.stalling
			cancel()

			err := <-errc
			s.ErrorIs(err, context.Canceled)
			s.NotErrorIs(err, ErrOperationTimedOut)
			<-s.clientClosed
		})
	}
}

func (s *ClientTestSuite) TestFetchToSinkTimeout() {
	testcases := []struct {
		desc    string
		serve   func()
		written string
	}{
		{
			desc: "no bytes",
			serve: func() {
				s.serve("example.com:80", func(recordedRequest) fixtureResponse {
					return fixtureResponse{stall: true}
				})
			},
		},
		{
			desc: "body delimited by close",
			serve: func() {
				s.serve("example.com:80", func(recordedRequest) fixtureResponse {
					return fixtureResponse{raw: "HTTP/1.0 200 OK\r\n\r\nabc", stall: true}
				})
			},
			written: "abc",
		},
		{
			desc:  "peer never reads",
			serve: func() { s.serveDeaf("example.com:80") },
		},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.TearDownTest()
			s.SetupTest()

			tc.serve()

			sink := &stubSink{}

			errc := make(chan error, 1)
			go func() {
				_, err := s.client.FetchToSink(context.Background(), "http://example.com/", sink, FetchOptions{Timeout: 10 * time.Second})
				errc <- err
			}()

			<-s.stalling
			s.clock.Add(10 * time.Second)

			s.ErrorIs(<-errc, ErrOperationTimedOut)
			s.Equal(1, sink.closes)
			s.Equal(tc.written, sink.buf.String())

			// The connection is aborted.
			<-s.clientClosed
		})
	}
}

func (s *ClientTestSuite) TestRejectedBeforeDial() {
	testcases := []struct {
		desc    string
		uri     string
		opts    FetchOptions
		wantErr error
	}{
		{desc: "empty", uri: "", wantErr: ErrMalformedURI},
		{desc: "missing scheme", uri: "example.com/", wantErr: ErrMalformedURI},
		{desc: "unsupported scheme", uri: "ftp://example.com/", wantErr: ErrMalformedURI},
		{desc: "empty host", uri: "http:///path", wantErr: ErrMalformedURI},
		{desc: "bad port", uri: "http://example.com:http/", wantErr: ErrMalformedURI},
		{desc: "CRLF in path", uri: "http://example.com/\r\nX-Evil: 1", wantErr: ErrInjectionRejected},
		{desc: "space in path", uri: "http://example.com/a b", wantErr: ErrInjectionRejected},
		{desc: "NUL in host", uri: "http://exam\x00ple.com/", wantErr: ErrInjectionRejected},
		{
			desc:    "CRLF in method",
			uri:     "http://example.com/",
			opts:    FetchOptions{Method: "GET / HTTP/1.0\r\nX-Evil: 1\r\n"},
			wantErr: ErrInjectionRejected,
		},
		{
			desc:    "space in method",
			uri:     "http://example.com/",
			opts:    FetchOptions{Method: "GET /"},
			wantErr: ErrInjectionRejected,
		},
		{
			desc: "CRLF in header value",
			uri:  "http://example.com/",
			opts: FetchOptions{
				Headers: semantic.NewHeaders(semantic.Header{Name: "X-A", Value: "1\r\nX-Evil: 1"}),
			},
			wantErr: ErrInjectionRejected,
		},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			_, err := s.client.Fetch(context.Background(), tc.uri, tc.opts)
			s.ErrorIs(err, tc.wantErr)
			s.Zero(s.dialer.n.Load())
		})
	}
}

func (s *ClientTestSuite) TestInjectedLocation() {
	s.serve("example.com:80", func(recordedRequest) fixtureResponse {
		return redirect(302, "/a b")
	})

	_, err := s.client.Fetch(context.Background(), "http://example.com/", FetchOptions{})
	s.ErrorIs(err, ErrInjectionRejected)
	s.Len(s.recorded(), 1)
}

func (s *ClientTestSuite) TestDialFailure() {
	_, err := s.client.Fetch(context.Background(), "http://unreachable.example/", FetchOptions{})
	s.ErrorIs(err, transport.ErrNetUnreachable)
}

type stubSink struct {
	buf      bytes.Buffer
	writeErr error
	closeErr error
	closes   int
}

func (s *stubSink) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.buf.Write(p)
}

func (s *stubSink) Close() error {
	s.closes++
	return s.closeErr
}

func (s *ClientTestSuite) TestFetchToSink() {
	s.serve("example.com:80", func(req recordedRequest) fixtureResponse {
		switch req.target {
		case "/partial":
			return fixtureResponse{raw: "HTTP/1.0 200 OK\r\nContent-Length: 5\r\n\r\nabc"}
		case "/missing":
			return page(404, "not here")
		}
		return page(200, "streamed body")
	})

	diskFull := errors.New("no space left on device")

	testcases := []struct {
		desc     string
		target   string
		writeErr error
		closeErr error
		check    func(err error)
		logged   int
		written  string
	}{
		{
			desc:    "success",
			target:  "/",
			check:   func(err error) { s.NoError(err) },
			written: "streamed body",
		},
		{
			desc:     "write failure",
			target:   "/",
			writeErr: diskFull,
			check: func(err error) {
				var sinkErr *SinkIOError
				s.Require().ErrorAs(err, &sinkErr)
				s.Equal("write", sinkErr.Op)
				s.ErrorIs(err, diskFull)
			},
			logged: 1,
		},
		{
			desc:     "close failure",
			target:   "/",
			closeErr: diskFull,
			check: func(err error) {
				var sinkErr *SinkIOError
				s.Require().ErrorAs(err, &sinkErr)
				s.Equal("close", sinkErr.Op)
				s.ErrorIs(err, diskFull)
			},
			logged:  1,
			written: "streamed body",
		},
		{
			desc:     "close failure after partial download",
			target:   "/partial",
			closeErr: diskFull,
			check: func(err error) {
				var partial *PartialDownloadError
				s.Require().ErrorAs(err, &partial)
				s.Nil(partial.Body)
				s.Equal(uint64(3), partial.Received)
			},
			logged:  1,
			written: "abc",
		},
		{
			desc:   "http error",
			target: "/missing",
			check: func(err error) {
				var httpErr *HTTPError
				s.Require().ErrorAs(err, &httpErr)
				s.Equal("not here", string(httpErr.Body))
			},
		},
		{
			desc:   "malformed uri",
			target: ":bad:",
			check:  func(err error) { s.ErrorIs(err, ErrMalformedURI) },
		},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			logger, hook := logtest.NewNullLogger()
			client := s.newClient(Options{Observer: obs.FromLogrus(logger)})

			sink := &stubSink{writeErr: tc.writeErr, closeErr: tc.closeErr}

			got, err := client.FetchToSink(context.Background(), "http://example.com"+tc.target, sink, FetchOptions{})
			tc.check(err)
			if err == nil {
				s.Nil(got.Body)
			}

			s.Equal(1, sink.closes)
			s.Len(hook.AllEntries(), tc.logged)
			s.Equal(tc.written, sink.buf.String())
		})
	}
}

func TestNewObserverDefault(t *testing.T) {
	testcases := []struct {
		desc    string
		opts    Options
		discard bool
	}{
		{desc: "nothing configured", opts: Options{}, discard: true},
		{desc: "logger configured", opts: Options{Logger: slog.New(slog.DiscardHandler)}, discard: false},
		{desc: "observer configured", opts: Options{Observer: obs.FromSlog(nil)}, discard: false},
	}
	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			c := New(tc.opts)
			assert.Equal(t, tc.discard, c.observer == obs.Discard)
			assert.NotNil(t, c.logger)
		})
	}
}
