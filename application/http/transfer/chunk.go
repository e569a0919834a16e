// Package transfer implements the chunked transfer coding.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-7.1
package transfer

import (
	"bytes"
	"io"
	"math/big"
	"strconv"

	"webclient/application/util/rule"
	iolib "webclient/lib/io"

	"github.com/pkg/errors"
)

var (
	ErrMalformedChunk   = errors.New("chunk is malformed")
	ErrChunkLineTooLong = errors.New("chunk line length exceeds limit")
)

type chunkState uint8

const (
	stateSize chunkState = iota
	stateData
	stateDataEnd
	stateTrailer
	stateDone
)

// ChunkedDecoder decodes a chunked body pushed in arbitrary pieces.
// Chunk extensions and trailer fields are discarded.
type ChunkedDecoder struct {
	state     chunkState
	line      []byte // carries an incomplete line between calls.
	remaining uint64

	maxLineLength uint
}

// NewChunkedDecoder creates a decoder. Zero maxLineLength means no limit.
func NewChunkedDecoder(maxLineLength uint) *ChunkedDecoder {
	return &ChunkedDecoder{maxLineLength: maxLineLength}
}

// Done reports whether the last chunk and the trailer section were consumed.
func (d *ChunkedDecoder) Done() bool { return d.state == stateDone }

// Decode consumes p and writes chunk data into w.
// It returns how many bytes of p were consumed. Bytes after the end of the body are left.
func (d *ChunkedDecoder) Decode(p []byte, w io.Writer) (int, error) {
	consumed := 0
	for len(p) > 0 && d.state != stateDone {
		if d.state == stateData {
			n := uint64(len(p))
			if n > d.remaining {
				n = d.remaining
			}

			if _, err := iolib.WriteFull(w, p[:n]); err != nil {
				return consumed, errors.Wrap(err, "writing chunk data")
			}

			d.remaining -= n
			consumed += int(n)
			p = p[n:]

			if d.remaining == 0 {
				d.state = stateDataEnd
			}
			continue
		}

		line, n, ok, err := d.cutLine(p)
		consumed += n
		p = p[n:]
		if err != nil {
			return consumed, err
		}
		if !ok {
			continue
		}

		if err := d.handleLine(line); err != nil {
			return consumed, err
		}
	}

	return consumed, nil
}

func (d *ChunkedDecoder) handleLine(line []byte) error {
	switch d.state {
	case stateSize:
		size, err := decodeChunkSizeLine(line)
		if err != nil {
			return errors.Wrap(ErrMalformedChunk, err.Error())
		}

		if size == 0 {
			// Last chunk.
			d.state = stateTrailer
			return nil
		}

		d.remaining = size
		d.state = stateData
	case stateDataEnd:
		if len(line) != 0 {
			return errors.Wrap(ErrMalformedChunk, "CRLF delimiter not found")
		}
		d.state = stateSize
	case stateTrailer:
		if len(line) == 0 {
			d.state = stateDone
		}
	}

	return nil
}

// cutLine returns a line without CRLF once a whole line is available.
func (d *ChunkedDecoder) cutLine(p []byte) (line []byte, consumed int, ok bool, err error) {
	idx := bytes.IndexByte(p, rule.LF)
	if idx < 0 {
		d.line = append(d.line, p...)
		if d.maxLineLength > 0 && uint(len(d.line)) > d.maxLineLength {
			return nil, len(p), false, ErrChunkLineTooLong
		}
		return nil, len(p), false, nil
	}

	line = append(d.line, p[:idx+1]...)
	d.line = nil

	if d.maxLineLength > 0 && uint(len(line)) > d.maxLineLength {
		return nil, idx + 1, false, ErrChunkLineTooLong
	}
	if !bytes.HasSuffix(line, rule.CRLF) {
		return nil, idx + 1, false, errors.Wrap(ErrMalformedChunk, "missing CR before LF")
	}

	return line[:len(line)-2], idx + 1, true, nil
}

// decodeChunkSizeLine parses "chunk-size [ chunk-ext ]".
func decodeChunkSizeLine(line []byte) (uint64, error) {
	sizeRaw, _, _ := bytes.Cut(line, []byte{';'})
	sizeRaw = bytes.TrimFunc(sizeRaw, rule.IsWhitespace)

	return decodeChunkSize(sizeRaw)
}

func decodeChunkSize(b []byte) (uint64, error) {
	for _, c := range b {
		if !rule.IsHex(rune(c)) {
			return 0, errors.Errorf("chunk size is not hex: %q", string(b))
		}
	}

	n, ok := new(big.Int).SetString(string(b), 16)
	if !ok {
		return 0, errors.Errorf("failed to decode hex: %q", string(b))
	}

	if n.BitLen() > 64 {
		return 0, errors.Errorf("chunk size larger than 64bit: %dbits", n.BitLen())
	}

	return n.Uint64(), nil
}

// ChunkedWriter encodes every Write as one chunk.
// Close writes the last chunk and an empty trailer section.
type ChunkedWriter struct {
	w   io.Writer
	buf *bytes.Buffer
}

var _ io.WriteCloser = (*ChunkedWriter)(nil)

func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{w: w, buf: bytes.NewBuffer(nil)}
}

func (cw *ChunkedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		// Zero length chunk means the end of the body.
		return 0, nil
	}

	cw.buf.Reset()
	cw.buf.WriteString(strconv.FormatUint(uint64(len(p)), 16))
	cw.buf.Write(rule.CRLF)
	cw.buf.Write(p)
	cw.buf.Write(rule.CRLF)

	if _, err := iolib.WriteFull(cw.w, cw.buf.Bytes()); err != nil {
		return 0, errors.Wrap(err, "writing chunk")
	}

	return len(p), nil
}

func (cw *ChunkedWriter) Close() error {
	if _, err := iolib.WriteFull(cw.w, []byte("0\r\n\r\n")); err != nil {
		return errors.Wrap(err, "writing last chunk")
	}
	return nil
}
