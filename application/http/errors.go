package http

import "github.com/pkg/errors"

// ErrProtocol matches every error caused by a peer violating the message syntax.
var ErrProtocol = errors.New("protocol error")

type protocolError string

func (e protocolError) Error() string        { return string(e) }
func (e protocolError) Is(target error) bool { return target == ErrProtocol }

var (
	ErrMissingCRBeforeLF = protocolError("missing CR before LF")

	ErrStatusLineTooLong   = protocolError("status line length exceeds limit")
	ErrMalformedStatusLine = protocolError("status line is malformed")

	ErrRequestLineTooLong   = protocolError("request line length exceeds limit")
	ErrMalformedRequestLine = protocolError("request line is malformed")

	ErrFieldLineTooLong   = protocolError("field line length exceeds limit")
	ErrMalformedFieldLine = protocolError("field line is malformed")

	ErrInvalidContentLength = protocolError("content-length is invalid")
	ErrMalformedChunkedBody = protocolError("chunked body is malformed")
	ErrIncompleteHead       = protocolError("connection closed before response head was complete")
)

// ErrIncompleteBody means the peer closed before the declared body length arrived.
// It is not a protocol error: what was received is still usable.
var ErrIncompleteBody = errors.New("connection closed before body was complete")

// ErrInjectionRejected is returned before anything is written
// when a request would carry bytes able to change the message framing.
var ErrInjectionRejected = errors.New("request contains forbidden bytes")
