package uri

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrMalformed = errors.New("malformed URI")

// DefaultPort returns the port implied by scheme, or 0 for unknown schemes.
func DefaultPort(scheme string) uint16 {
	switch scheme {
	case "http":
		return 80
	case "https":
		return 443
	}
	return 0
}

type URI struct {
	Scheme string
	// Host never carries IPv6 brackets. See [URI.Netloc].
	Host string
	Port uint16
	// ExplicitPort tells whether Port was written in the URI.
	ExplicitPort bool

	Path     string
	Params   string // after ';' in the last path segment.
	Query    string
	Fragment string
}

type Option func(*parseOptions)

type parseOptions struct{ defaultPort uint16 }

// WithDefaultPort overrides the scheme's default port when the URI carries none.
// Zero keeps the scheme default.
func WithDefaultPort(port uint16) Option {
	return func(o *parseOptions) { o.defaultPort = port }
}

func Parse(raw string, opts ...Option) (URI, error) {
	return FromBytes([]byte(raw), opts...)
}

// FromBytes parses an absolute http or https URI.
// Surrounding whitespace is ignored.
func FromBytes(raw []byte, opts ...Option) (URI, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := string(bytes.TrimSpace(raw))
	if containsCTL(s) {
		return URI{}, errors.Wrap(ErrMalformed, "URI should not contain CTL bytes")
	}

	scheme, rest, err := cutScheme(s)
	if err != nil {
		return URI{}, errors.Wrap(err, "getting scheme")
	}

	netloc, rest, found := cutNetloc(rest)
	if !found {
		return URI{}, errors.Wrapf(ErrMalformed, "network location not found: %q", s)
	}

	u := URI{Scheme: scheme}
	if err := u.setNetloc(netloc, o.defaultPort); err != nil {
		return URI{}, errors.Wrap(err, "parsing network location")
	}

	u.setPathQueryFrag(rest)

	return u, nil
}

// Netloc returns the network location as written in a URI.
// Port is included only if it was explicit.
func (u URI) Netloc() string {
	host := bracketHost(u.Host)
	if !u.ExplicitPort {
		return host
	}
	return host + ":" + strconv.FormatUint(uint64(u.Port), 10)
}

// HostPort returns the value of Host header for u.
// Port is omitted when it is the scheme's default one.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-7.2
func (u URI) HostPort() string {
	host := bracketHost(u.Host)
	if u.Port == DefaultPort(u.Scheme) {
		return host
	}
	return host + ":" + strconv.FormatUint(uint64(u.Port), 10)
}

// OriginForm returns the request target for u. It is never empty.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.1
func (u URI) OriginForm() string {
	b := new(strings.Builder)
	if u.Path == "" {
		b.WriteByte('/')
	} else {
		b.WriteString(u.Path)
	}
	u.writeTail(b, false)
	return b.String()
}

func (u URI) ToBytes() []byte { return []byte(u.String()) }

func (u URI) String() string {
	b := new(strings.Builder)
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Netloc())
	b.WriteString(u.Path)
	u.writeTail(b, true)
	return b.String()
}

func (u URI) writeTail(b *strings.Builder, withFragment bool) {
	if u.Params != "" {
		b.WriteByte(';')
		b.WriteString(u.Params)
	}
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(u.Query)
	}
	if withFragment && u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
}

func (u *URI) setNetloc(netloc string, defaultPort uint16) error {
	netloc = strings.TrimSpace(netloc)
	if netloc == "" {
		return errors.Wrap(ErrMalformed, "network location is empty")
	}
	if strings.ContainsRune(netloc, '@') {
		return errors.Wrap(ErrMalformed, "user information is not supported")
	}

	host, portPart, err := splitHostPort(netloc)
	if err != nil {
		return err
	}
	u.Host = host

	port, hasPort, err := parsePort(portPart)
	if err != nil {
		return errors.Wrap(err, "parsing port")
	}

	switch {
	case hasPort:
		u.Port, u.ExplicitPort = port, true
	case defaultPort != 0:
		u.Port = defaultPort
	default:
		u.Port = DefaultPort(u.Scheme)
	}

	return nil
}

func (u *URI) setPathQueryFrag(rest string) {
	path, query, frag := splitPathQueryFrag(rest)
	u.Path, u.Params = splitParams(path)
	u.Query = query
	u.Fragment = frag
}

// cutScheme cuts scheme from raw. Only http and https are accepted.
func cutScheme(raw string) (scheme, rest string, err error) {
	before, after, found := strings.Cut(raw, ":")
	if !found {
		return "", "", errors.Wrap(ErrMalformed, "scheme not found")
	}

	if err := assertValidScheme(before); err != nil {
		return "", "", errors.Wrap(ErrMalformed, err.Error())
	}

	// Scheme is case-insensitive.
	// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-3.1
	scheme = strings.ToLower(before)
	if DefaultPort(scheme) == 0 {
		return "", "", errors.Wrapf(ErrMalformed, "unsupported scheme %q", before)
	}

	return scheme, after, nil
}

// cutNetloc splits "//netloc/rest" at the first '/', '?' or '#' after the netloc.
func cutNetloc(raw string) (netloc, rest string, found bool) {
	raw, found = strings.CutPrefix(raw, "//")
	if !found {
		return "", raw, false
	}

	if idx := strings.IndexAny(raw, "/?#"); idx >= 0 {
		return raw[:idx], raw[idx:], true
	}
	return raw, "", true
}

// splitHostPort strips IPv6 brackets from host.
// portPart keeps its leading colon.
func splitHostPort(raw string) (host, portPart string, err error) {
	if strings.HasPrefix(raw, "[") {
		idx := strings.LastIndexByte(raw, ']')
		if idx < 0 {
			return "", "", errors.Wrap(ErrMalformed, "missing ']' in IP literal")
		}

		host, portPart = raw[1:idx], raw[idx+1:]
		if !isIPv6(host) {
			return "", "", errors.Wrapf(ErrMalformed, "invalid IPv6 literal: %q", host)
		}
		return host, portPart, nil
	}

	host = raw
	if idx := strings.LastIndexByte(raw, ':'); idx >= 0 {
		host, portPart = raw[:idx], raw[idx:]
	}

	if err := assertValidHost(host); err != nil {
		return "", "", errors.Wrap(ErrMalformed, err.Error())
	}

	return host, portPart, nil
}

// parsePort parses ":port". An empty port after the colon means no port.
// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-3.2.3
func parsePort(s string) (port uint16, hasPort bool, err error) {
	if s == "" || s == ":" {
		return 0, false, nil
	}

	if s[0] != ':' {
		return 0, false, errors.Wrap(ErrMalformed, "colon delimiter not found on port")
	}

	s = s[1:]
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false, errors.Wrapf(ErrMalformed, "port is not a number: %q", s)
		}
	}

	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, false, errors.Wrapf(ErrMalformed, "port out of range: %q", s)
	}

	return uint16(n), true, nil
}

// splitPathQueryFrag strips the delimiters of query and fragment.
func splitPathQueryFrag(raw string) (path, query, frag string) {
	if idx := strings.IndexByte(raw, '#'); idx >= 0 {
		raw, frag = raw[:idx], raw[idx+1:]
	}

	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		raw, query = raw[:idx], raw[idx+1:]
	}

	return raw, query, frag
}

// splitParams cuts params from the last segment of path.
func splitParams(path string) (string, string) {
	lastSegment := strings.LastIndexByte(path, '/') + 1
	idx := strings.IndexByte(path[lastSegment:], ';')
	if idx < 0 {
		return path, ""
	}

	idx += lastSegment
	return path[:idx], path[idx+1:]
}

func bracketHost(host string) string {
	if strings.IndexByte(host, ':') >= 0 {
		return "[" + host + "]"
	}
	return host
}
