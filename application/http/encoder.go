package http

import (
	"bytes"
	"io"
	"strconv"

	"webclient/application/util/rule"
	iolib "webclient/lib/io"

	"github.com/pkg/errors"
)

type EncodeOptions struct {
	// UseSoleLF specifies wheter a single LF character should be used as a line terminator.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-3
	UseSoleLF bool
}

var DefaultEncodeOptions = EncodeOptions{
	UseSoleLF: false,
}

type messageEncoder struct {
	w    io.Writer
	opts EncodeOptions
}

func (me *messageEncoder) writeLine(buf *bytes.Buffer, line []byte) {
	buf.Write(line)

	term := rule.CRLF
	if me.opts.UseSoleLF {
		term = term[1:]
	}
	buf.Write(term)
}

func (me *messageEncoder) writeHeaders(buf *bytes.Buffer, headers []Field) {
	for _, field := range headers {
		me.writeLine(buf, field.Text())
	}

	// Write a empty line as all the headers are written.
	me.writeLine(buf, nil)
}

// RequestEncoder writes a whole request with a single [iolib.WriteFull].
// Nothing is written when the request fails validation.
type RequestEncoder struct{ messageEncoder }

func NewRequestEncoder(w io.Writer, opts EncodeOptions) *RequestEncoder {
	return &RequestEncoder{messageEncoder{w: w, opts: opts}}
}

func (re *RequestEncoder) Encode(request Request) error {
	if err := validateRequest(request); err != nil {
		return err
	}

	buf := bytes.NewBuffer(nil)

	line := make([]byte, 0, len(request.Method)+len(request.Target)+10)
	line = append(line, request.Method...)
	line = append(line, rule.SP)
	line = append(line, request.Target...)
	line = append(line, rule.SP)
	line = append(line, request.Version.Text()...)
	re.writeLine(buf, line)

	re.writeHeaders(buf, request.Headers)

	if request.Body != nil {
		if _, err := io.Copy(buf, request.Body); err != nil {
			return errors.Wrap(err, "reading request body")
		}
	}

	if _, err := iolib.WriteFull(re.w, buf.Bytes()); err != nil {
		return errors.Wrap(err, "writing request")
	}

	return nil
}

// validateRequest rejects anything which could end the request line
// or a field line earlier than intended.
func validateRequest(request Request) error {
	if !rule.IsValidToken(request.Method) {
		return errors.Wrapf(ErrInjectionRejected, "method is not a token: %q", request.Method)
	}
	if !rule.AllVisible(request.Target) {
		return errors.Wrapf(ErrInjectionRejected, "request target has invalid bytes: %q", request.Target)
	}

	for _, field := range request.Headers {
		if !rule.IsValidToken(string(field.Name)) {
			return errors.Wrapf(ErrInjectionRejected, "field name is not a token: %q", field.Name)
		}
		if !rule.IsValidFieldValue(string(field.Value)) {
			return errors.Wrapf(ErrInjectionRejected, "field %s has invalid value: %q", field.Name, field.Value)
		}
	}

	return nil
}

type ResponseEncoder struct{ messageEncoder }

func NewResponseEncoder(w io.Writer, opts EncodeOptions) *ResponseEncoder {
	return &ResponseEncoder{messageEncoder{w: w, opts: opts}}
}

// Encode writes the response head, then copies the body.
func (re *ResponseEncoder) Encode(response Response) error {
	buf := bytes.NewBuffer(nil)

	line := append([]byte(nil), response.Version.Text()...)
	line = append(line, rule.SP)
	line = append(line, strconv.FormatUint(uint64(response.StatusCode), 10)...)
	line = append(line, rule.SP)
	line = append(line, response.ReasonPhrase...)
	re.writeLine(buf, line)

	re.writeHeaders(buf, response.Headers)

	if _, err := iolib.WriteFull(re.w, buf.Bytes()); err != nil {
		return errors.Wrap(err, "writing response head")
	}

	if response.Body == nil {
		return nil
	}

	if _, err := io.Copy(re.w, response.Body); err != nil {
		return errors.Wrap(err, "writing response body")
	}

	return nil
}
