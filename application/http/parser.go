package http

import (
	"bytes"
	"io"

	"webclient/application/http/transfer"
	"webclient/application/util/rule"
	iolib "webclient/lib/io"

	"github.com/pkg/errors"
)

type ParseState uint8

const (
	StateStatusLine ParseState = iota
	StateHeaders
	StateBody
	StateComplete
	StateFailed
)

func (s ParseState) String() string {
	switch s {
	case StateStatusLine:
		return "status-line"
	case StateHeaders:
		return "headers"
	case StateBody:
		return "body"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// HeadHandler is called once, when the response head is complete.
// The body is written to the returned writer. A nil writer means the body is not wanted,
// and the response completes right away.
type HeadHandler func(head ResponseHead) (io.Writer, error)

type framing uint8

const (
	framingLength framing = iota
	framingChunked
	framingClose
)

// ResponseParser parses a response pushed to it in pieces of any size.
// It is not safe for concurrent use.
type ResponseParser struct {
	opts   DecodeOptions
	onHead HeadHandler

	state ParseState
	err   error

	line []byte // carries an incomplete line between Feed calls.
	head ResponseHead

	body      io.Writer
	framing   framing
	declared  uint64
	hasLength bool
	remaining uint64
	received  uint64
	chunks    *transfer.ChunkedDecoder
}

func NewResponseParser(opts DecodeOptions, onHead HeadHandler) *ResponseParser {
	if onHead == nil {
		onHead = func(ResponseHead) (io.Writer, error) { return io.Discard, nil }
	}
	return &ResponseParser{opts: opts, onHead: onHead}
}

func (p *ResponseParser) State() ParseState { return p.state }

// Err returns the error which failed the parser.
func (p *ResponseParser) Err() error { return p.err }

func (p *ResponseParser) Head() ResponseHead { return p.head }

// Received returns how many body bytes were delivered.
func (p *ResponseParser) Received() uint64 { return p.received }

// DeclaredLength returns the body length announced by Content-Length.
func (p *ResponseParser) DeclaredLength() (uint64, bool) {
	return p.declared, p.hasLength
}

// Feed pushes received bytes to the parser.
// Bytes after a complete response are ignored.
func (p *ResponseParser) Feed(b []byte) error {
	for len(b) > 0 {
		switch p.state {
		case StateStatusLine, StateHeaders:
			line, n, ok, err := p.cutLine(b)
			b = b[n:]
			if err != nil {
				return p.fail(err)
			}
			if !ok {
				continue
			}

			if err := p.handleLine(line); err != nil {
				return p.fail(err)
			}
		case StateBody:
			n, err := p.feedBody(b)
			if err != nil {
				return p.fail(err)
			}
			b = b[n:]
		case StateComplete:
			return nil
		case StateFailed:
			return p.err
		}
	}

	if p.state == StateFailed {
		return p.err
	}
	return nil
}

// ConnectionLost tells the parser that the peer closed the connection.
// A body without declared length completes here.
func (p *ResponseParser) ConnectionLost() error {
	switch p.state {
	case StateStatusLine, StateHeaders:
		return p.fail(ErrIncompleteHead)
	case StateBody:
		if p.framing == framingClose {
			p.state = StateComplete
			return nil
		}
		return p.fail(errors.Wrapf(ErrIncompleteBody, "received %d bytes", p.received))
	case StateFailed:
		return p.err
	}

	return nil
}

func (p *ResponseParser) fail(err error) error {
	p.state, p.err = StateFailed, err
	return err
}

func (p *ResponseParser) lineLimit() uint {
	if p.state == StateStatusLine {
		return p.opts.MaxStatusLineLength
	}
	return p.opts.MaxFieldLineLength
}

func (p *ResponseParser) lineTooLong() error {
	if p.state == StateStatusLine {
		return ErrStatusLineTooLong
	}
	return ErrFieldLineTooLong
}

// cutLine returns a terminated line once it is whole, and how many bytes of b it consumed.
func (p *ResponseParser) cutLine(b []byte) (line []byte, consumed int, ok bool, err error) {
	limit := p.lineLimit()

	idx := bytes.IndexByte(b, rule.LF)
	if idx < 0 {
		p.line = append(p.line, b...)
		if limit > 0 && uint(len(p.line)) > limit {
			return nil, len(b), false, p.lineTooLong()
		}
		return nil, len(b), false, nil
	}

	line = append(p.line, b[:idx+1]...)
	p.line = nil

	line, err = p.opts.terminateLine(line, limit)
	if errors.Is(err, errLineTooLong) {
		err = p.lineTooLong()
	}

	return line, idx + 1, err == nil, err
}

func (p *ResponseParser) handleLine(line []byte) error {
	if p.state == StateStatusLine {
		// An empty line can be received before message.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-6
		if len(line) == 0 {
			return nil
		}

		statusLine, err := parseStatusLine(line)
		if err != nil {
			return errors.Wrap(ErrMalformedStatusLine, err.Error())
		}

		p.head.StatusLine = statusLine
		p.state = StateHeaders
		return nil
	}

	if len(line) == 0 {
		return p.endHead()
	}

	fields, err := appendField(p.head.Headers, line, true)
	if err != nil {
		return err
	}
	p.head.Headers = fields

	return nil
}

func (p *ResponseParser) endHead() error {
	if err := p.decideFraming(); err != nil {
		return err
	}

	body, err := p.onHead(p.head)
	if err != nil {
		return errors.Wrap(err, "handling response head")
	}

	if body == nil || !hasBody(p.head.StatusCode) {
		p.state = StateComplete
		return nil
	}

	p.body = body
	p.state = StateBody

	if p.framing == framingLength && p.remaining == 0 {
		p.state = StateComplete
	}

	return nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func (p *ResponseParser) decideFraming() error {
	if isChunked(p.head.Headers) {
		p.framing = framingChunked
		p.chunks = transfer.NewChunkedDecoder(p.opts.MaxFieldLineLength)
		return nil
	}

	length, ok, err := contentLength(p.head.Headers)
	if err != nil {
		return err
	}

	if !ok {
		// The message is finished when server closes connection.
		p.framing = framingClose
		return nil
	}

	p.framing = framingLength
	p.declared, p.hasLength, p.remaining = length, true, length

	return nil
}

// hasBody reports whether a response with code can carry content.
func hasBody(code uint) bool {
	switch {
	case code < 200, code == 204, code == 304:
		return false
	}
	return true
}

func (p *ResponseParser) feedBody(b []byte) (int, error) {
	switch p.framing {
	case framingLength:
		n := uint64(len(b))
		if n > p.remaining {
			n = p.remaining
		}

		if err := p.write(b[:n]); err != nil {
			return 0, err
		}

		p.remaining -= n
		if p.remaining == 0 {
			p.state = StateComplete
			// Anything after the declared length is ignored.
			return len(b), nil
		}
		return int(n), nil

	case framingChunked:
		n, err := p.chunks.Decode(b, writerFunc(func(data []byte) (int, error) {
			return len(data), p.write(data)
		}))
		if err != nil {
			if errors.Is(err, transfer.ErrMalformedChunk) || errors.Is(err, transfer.ErrChunkLineTooLong) {
				return n, errors.Wrap(ErrMalformedChunkedBody, err.Error())
			}
			return n, err
		}

		if p.chunks.Done() {
			p.state = StateComplete
			return len(b), nil
		}
		return n, nil

	default:
		if err := p.write(b); err != nil {
			return 0, err
		}
		return len(b), nil
	}
}

func (p *ResponseParser) write(data []byte) error {
	n, err := iolib.WriteFull(p.body, data)
	p.received += uint64(n)
	if err != nil {
		return errors.Wrap(err, "writing body")
	}
	return nil
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
