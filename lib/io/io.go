package iolib

import (
	"io"
	"sync"
)

// WriteFull writes whole buf into w.
// A writer which makes no progress without reporting an error fails with [io.ErrShortWrite].
func WriteFull(w io.Writer, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := w.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// OnceCloser passes only the first Close to the underlying closer.
// Every call returns the result of that first Close.
type OnceCloser struct {
	c io.Closer

	once sync.Once
	err  error
}

func NewOnceCloser(c io.Closer) *OnceCloser {
	return &OnceCloser{c: c}
}

func (oc *OnceCloser) Close() error {
	oc.once.Do(func() { oc.err = oc.c.Close() })
	return oc.err
}
