package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	iolib "webclient/lib/io"
	"webclient/lib/obs"
)

// bodySink receives the body of the final successful response.
type bodySink interface {
	io.Writer
	// partial returns what was written, when the sink keeps it.
	partial() []byte
}

type memorySink struct{ buf bytes.Buffer }

func (s *memorySink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *memorySink) partial() []byte             { return s.buf.Bytes() }

// writerSink streams the body into a caller's writer.
// Failures are reported through the observer once.
type writerSink struct {
	ctx      context.Context
	w        io.Writer
	closer   *iolib.OnceCloser
	observer obs.Observer
	uri      string
}

func newWriterSink(ctx context.Context, w io.WriteCloser, observer obs.Observer, uri string) *writerSink {
	return &writerSink{
		ctx:      ctx,
		w:        w,
		closer:   iolib.NewOnceCloser(w),
		observer: observer,
		uri:      uri,
	}
}

func (s *writerSink) Write(p []byte) (int, error) {
	n, err := iolib.WriteFull(s.w, p)
	if err != nil {
		s.observer.Failure(s.ctx, "writing download sink", err, slog.String("uri", s.uri))
		return n, &SinkIOError{Op: "write", Err: err}
	}
	return n, nil
}

func (s *writerSink) partial() []byte { return nil }

func (s *writerSink) Close() error {
	if err := s.closer.Close(); err != nil {
		s.observer.Failure(s.ctx, "closing download sink", err, slog.String("uri", s.uri))
		return &SinkIOError{Op: "close", Err: err}
	}
	return nil
}
