package http

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"webclient/application/util/rule"

	"github.com/pkg/errors"
)

// [Major, Minor]
type Version [2]uint

// Version10 is the only version requests are sent with.
var Version10 = Version{1, 0}

// ParseVersion parses http version text(e.g. "HTTP/1.1") into [Version].
func ParseVersion(b []byte) (Version, error) {
	prefix := []byte("HTTP/")
	if !bytes.HasPrefix(b, prefix) {
		return Version{}, errors.Errorf("http version prefix not found: %s", b)
	}

	// Get major and minor version.
	first, second, found := bytes.Cut(b[len(prefix):], []byte{'.'})
	if !found {
		return Version{}, errors.Errorf("dot seperator not found on version: %s", b)
	}

	major, err1 := strconv.ParseUint(string(first), 10, 64)
	minor, err2 := strconv.ParseUint(string(second), 10, 64)
	if err1 != nil || err2 != nil {
		return Version{}, errors.Errorf("http version is not convertable to int: %s", b)
	}

	return Version{uint(major), uint(minor)}, nil
}

func (ver Version) Text() []byte {
	b := make([]byte, 0, len("HTTP/1.0"))
	b = append(b, "HTTP/"...)
	b = strconv.AppendUint(b, uint64(ver[0]), 10)
	b = append(b, '.')
	b = strconv.AppendUint(b, uint64(ver[1]), 10)
	return b
}

func (ver Version) String() string { return string(ver.Text()) }

type Field struct{ Name, Value []byte }

func ParseField(fieldLine []byte) (Field, error) {
	name, value, found := bytes.Cut(fieldLine, []byte{':'})
	if !found {
		return Field{}, errors.Errorf("colon seperator not found on header: %q", string(fieldLine))
	}

	// No whitespace is allowed between field name and colon.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-2
	if !rule.IsValidToken(string(name)) {
		return Field{}, errors.Errorf("field name is not a token: %q", string(name))
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-3
	value = bytes.Trim(value, string(rule.OWS))

	return Field{Name: name, Value: value}, nil
}

func (f Field) Text() []byte {
	b := make([]byte, 0, len(f.Name)+len(f.Value)+2)
	b = append(b, f.Name...)
	b = append(b, ':', rule.SP)
	b = append(b, f.Value...)
	return b
}

type RequestLine struct {
	Method  string
	Target  string
	Version Version
}

type Request struct {
	RequestLine
	Headers []Field

	Body io.Reader
}

type StatusLine struct {
	Version      Version
	StatusCode   uint
	ReasonPhrase string
}

// Status returns the status code as the three digits sent on the wire.
func (sl StatusLine) Status() string {
	code := strconv.FormatUint(uint64(sl.StatusCode), 10)
	for len(code) < 3 {
		code = "0" + code
	}
	return code
}

type Response struct {
	StatusLine
	Headers []Field

	Body io.Reader
}

// ResponseHead is everything of a response before its body.
// Field names are lower-cased and repeated fields are kept in order.
type ResponseHead struct {
	StatusLine
	Headers []Field
}

// Values returns values of every field named name, in order.
func (h ResponseHead) Values(name string) []string {
	return fieldValues(h.Headers, name)
}

func fieldValues(fields []Field, name string) []string {
	var values []string
	for _, f := range fields {
		if bytes.EqualFold(f.Name, []byte(name)) {
			values = append(values, string(f.Value))
		}
	}
	return values
}

// Cookies returns name-value pairs set by Set-Cookie fields.
// Only the part before the first ';' is used, and a later pair overwrites an earlier one.
// Values without '=' are ignored.
func (h ResponseHead) Cookies() map[string]string {
	cookies := make(map[string]string)
	for _, v := range h.Values("Set-Cookie") {
		pair, _, _ := strings.Cut(v, ";")

		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}

		cookies[strings.TrimLeft(name, string(rule.Whitespaces))] = value
	}
	return cookies
}
