package http

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"webclient/application/util/rule"

	"github.com/pkg/errors"
)

type DecodeOptions struct {
	// AllowSoleLF specifies wheter a single LF character should be recognized as a valid line terminator.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-3
	AllowSoleLF bool

	// LenientWhitespace replaces all [rule.Whitespaces] into [rule.SP].
	// And also trims preceding and trailinig whitespace.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-3
	LenientWhitespace bool

	// MaxFieldLineLength sets the limit of field line length on headers.
	MaxFieldLineLength uint

	// MaxRequestLineLength sets the limit of request line length.
	// Recommended: >= 8000
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-5
	MaxRequestLineLength uint

	// MaxStatusLineLength sets the limit of status line length.
	MaxStatusLineLength uint
}

var DefaultDecodeOptions = DecodeOptions{
	AllowSoleLF:          false,
	LenientWhitespace:    false,
	MaxFieldLineLength:   0,
	MaxRequestLineLength: 0,
	MaxStatusLineLength:  0,
}

var errLineTooLong = errors.New("line length exceeeds limit")

// terminateLine strips the terminator from line, which ends with LF.
func (opts DecodeOptions) terminateLine(line []byte, limit uint) ([]byte, error) {
	if limit > 0 && uint(len(line)) > limit {
		return nil, errLineTooLong
	}

	line = line[:len(line)-1] // Remove LF.

	switch {
	case len(line) > 0 && line[len(line)-1] == rule.CR:
		line = line[:len(line)-1] // Remove CR.
	case !opts.AllowSoleLF:
		return nil, ErrMissingCRBeforeLF
	}

	if opts.LenientWhitespace {
		for _, c := range rule.Whitespaces {
			line = bytes.ReplaceAll(line, []byte{c}, []byte{rule.SP})
		}
		return bytes.Trim(line, string([]byte{rule.SP})), nil
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-4
	return bytes.ReplaceAll(line, []byte{rule.CR}, []byte{rule.SP}), nil
}

// appendField parses fieldLine and appends it to fields.
// A line starting with whitespace continues the previous field.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.2
func appendField(fields []Field, fieldLine []byte, lowerName bool) ([]Field, error) {
	if len(fieldLine) > 0 && bytes.IndexByte(rule.OWS, fieldLine[0]) >= 0 {
		if len(fields) == 0 {
			return nil, ErrMalformedFieldLine
		}

		last := &fields[len(fields)-1]
		cont := bytes.Trim(fieldLine, string(rule.OWS))
		if len(cont) > 0 {
			last.Value = append(append(bytes.Clone(last.Value), rule.SP), cont...)
		}
		return fields, nil
	}

	field, err := ParseField(fieldLine)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedFieldLine, err.Error())
	}

	if lowerName {
		field.Name = bytes.ToLower(field.Name)
	}

	return append(fields, field), nil
}

// contentLength returns the declared body length.
// Repeated fields must agree.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.6
func contentLength(fields []Field) (length uint64, ok bool, err error) {
	for _, raw := range fieldValues(fields, "Content-Length") {
		for _, v := range strings.Split(raw, ",") {
			v = strings.Trim(v, string(rule.OWS))

			n, perr := strconv.ParseUint(v, 10, 63)
			if perr != nil {
				return 0, false, errors.Wrapf(ErrInvalidContentLength, "%q", raw)
			}
			if ok && n != length {
				return 0, false, errors.Wrapf(ErrInvalidContentLength, "conflicting values %d and %d", length, n)
			}

			length, ok = n, true
		}
	}

	return length, ok, nil
}

// isChunked reports whether chunked is the final transfer coding.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.4.1
func isChunked(fields []Field) bool {
	values := fieldValues(fields, "Transfer-Encoding")
	if len(values) == 0 {
		return false
	}

	codings := strings.Split(values[len(values)-1], ",")
	last := strings.Trim(codings[len(codings)-1], string(rule.OWS))
	return strings.EqualFold(last, "chunked")
}

// RequestDecoder reads requests from a stream.
// Request bodies are delimited by Content-Length only.
type RequestDecoder struct {
	br   *bufio.Reader
	opts DecodeOptions
}

func NewRequestDecoder(r io.Reader, opts DecodeOptions) *RequestDecoder {
	return &RequestDecoder{br: bufio.NewReader(r), opts: opts}
}

// r MUST be a non-nil pointer
func (rd *RequestDecoder) Decode(r *Request) error {
	if err := rd.decodeRequestLine(&r.RequestLine); err != nil {
		return errors.Wrap(err, "parsing request line")
	}

	if err := rd.decodeHeaders(&r.Headers); err != nil {
		return errors.Wrap(err, "parsing headers")
	}

	length, _, err := contentLength(r.Headers)
	if err != nil {
		return err
	}
	r.Body = io.LimitReader(rd.br, int64(length))

	return nil
}

func (rd *RequestDecoder) readLine(limit uint) ([]byte, error) {
	b, err := rd.br.ReadBytes(rule.LF)
	if err != nil {
		if errors.Is(err, io.EOF) && len(b) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return rd.opts.terminateLine(b, limit)
}

func (rd *RequestDecoder) decodeRequestLine(reqLine *RequestLine) error {
	var line []byte
	for {
		b, err := rd.readLine(rd.opts.MaxRequestLineLength)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return ErrRequestLineTooLong
			}
			return errors.Wrap(err, "reading line")
		}

		// An empty line can be received before message.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-6
		if len(b) > 0 {
			line = b
			break
		}
	}

	parsed, err := parseRequestLine(line)
	if err != nil {
		return errors.Wrap(ErrMalformedRequestLine, err.Error())
	}

	*reqLine = parsed

	return nil
}

func (rd *RequestDecoder) decodeHeaders(headers *[]Field) error {
	fields := make([]Field, 0)
	for {
		fieldLine, err := rd.readLine(rd.opts.MaxFieldLineLength)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				return ErrFieldLineTooLong
			}
			return errors.Wrap(err, "reading line")
		}

		if len(fieldLine) == 0 {
			// An empty line. This means that there are no more headers.
			break
		}

		if fields, err = appendField(fields, fieldLine, false); err != nil {
			return err
		}
	}

	*headers = fields

	return nil
}

func parseRequestLine(line []byte) (RequestLine, error) {
	parts := bytes.Split(line, []byte{rule.SP})
	if len(parts) != 3 {
		return RequestLine{}, errors.New("request line is malformed")
	}

	method := string(parts[0])
	if !rule.IsValidToken(method) {
		return RequestLine{}, errors.New("method is not a valid token")
	}

	target := string(parts[1])
	if len(target) == 0 {
		return RequestLine{}, errors.New("request target should not be empty")
	}

	ver, err := ParseVersion(parts[2])
	if err != nil {
		return RequestLine{}, errors.Wrap(err, "parsing version")
	}

	return RequestLine{Method: method, Target: target, Version: ver}, nil
}

// parseStatusLine parses "HTTP-version SP status-code [ SP reason-phrase ]".
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-4
func parseStatusLine(line []byte) (StatusLine, error) {
	parts := bytes.SplitN(line, []byte{rule.SP}, 3)
	if len(parts) < 2 {
		return StatusLine{}, errors.New("status line is malformed")
	}

	ver, err := ParseVersion(parts[0])
	if err != nil {
		return StatusLine{}, errors.Wrap(err, "parsing version")
	}

	statusCodeStr := string(parts[1])
	statusCode, err := strconv.ParseUint(statusCodeStr, 10, 64)
	if err != nil || len(statusCodeStr) != 3 {
		return StatusLine{}, errors.Errorf("status code is malformed: %q", statusCodeStr)
	}

	// reason-phrase is optional.
	var reasonPhrase string
	if len(parts) == 3 {
		reasonPhrase = string(parts[2])
	}

	return StatusLine{Version: ver, StatusCode: uint(statusCode), ReasonPhrase: reasonPhrase}, nil
}
