// Package pipe provides an in-memory [transport.Conn] pair and a transport to dial them by name.
// It is shaped after net.Pipe, with deadlines driven by a [clock.Clock].
package pipe

import (
	"sync"
	"time"

	"webclient/transport"

	"github.com/benbjohnson/clock"
)

type Addr struct {
	Name string
}

var _ transport.Addr = Addr{}

func (a Addr) Identifier() any { return a.Name }
func (a Addr) String() string  { return a.Name }

// end is one side of a connected pair.
type end struct {
	inbox chan []byte // pending writes of the peer.
	acks  chan int    // bytes of our pending write the peer consumed.

	writeMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once

	readDeadline  *deadline
	writeDeadline *deadline

	peer *end
	addr Addr
}

var _ transport.Conn = (*end)(nil)

func newEnd(name string, clock clock.Clock) *end {
	return &end{
		inbox:         make(chan []byte),
		acks:          make(chan int),
		closed:        make(chan struct{}),
		readDeadline:  newDeadline(clock),
		writeDeadline: newDeadline(clock),
		addr:          Addr{Name: name},
	}
}

// NewPair creates a pair of connected ends. Writes are synchronous and unbuffered:
// a Write returns once the other side has read every byte.
func NewPair(name1, name2 string, clock clock.Clock) (c1, c2 *end) {
	c1, c2 = newEnd(name1, clock), newEnd(name2, clock)
	c1.peer, c2.peer = c2, c1
	return c1, c2
}

func (e *end) LocalAddr() transport.Addr  { return e.addr }
func (e *end) RemoteAddr() transport.Addr { return e.peer.addr }

func (e *end) SetReadDeadLine(t time.Time)  { e.readDeadline.set(t) }
func (e *end) SetWriteDeadLine(t time.Time) { e.writeDeadline.set(t) }

func (e *end) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

func (e *end) Read(b []byte) (int, error) {
	if err := e.usable(e.readDeadline); err != nil {
		return 0, err
	}

	select {
	case chunk := <-e.inbox:
		n := copy(b, chunk)
		e.peer.acks <- n
		return n, nil
	case <-e.closed:
		return 0, transport.ErrConnClosed
	case <-e.peer.closed:
		return 0, transport.ErrConnClosed
	case <-e.readDeadline.expired():
		return 0, transport.ErrDeadLineExceeded
	}
}

func (e *end) Write(b []byte) (int, error) {
	if err := e.usable(e.writeDeadline); err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}

	// Concurrent writes are not interleaved.
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	sent := 0
	for sent < len(b) {
		select {
		case e.peer.inbox <- b[sent:]:
			sent += <-e.acks
		case <-e.closed:
			return sent, transport.ErrConnClosed
		case <-e.peer.closed:
			return sent, transport.ErrConnClosed
		case <-e.writeDeadline.expired():
			return sent, transport.ErrDeadLineExceeded
		}
	}

	return sent, nil
}

func (e *end) usable(d *deadline) error {
	switch {
	case isClosed(e.closed), isClosed(e.peer.closed):
		return transport.ErrConnClosed
	case isClosed(d.expired()):
		return transport.ErrDeadLineExceeded
	}
	return nil
}

// deadline exposes a channel closed once the set time passes.
type deadline struct {
	clock clock.Clock

	mu    sync.Mutex
	timer *clock.Timer
	done  chan struct{}
}

func newDeadline(clock clock.Clock) *deadline {
	return &deadline{clock: clock, done: make(chan struct{})}
}

// set replaces the deadline. The zero time means none.
func (d *deadline) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A timer which could not be stopped owns the current channel.
	if (d.timer != nil && !d.timer.Stop()) || isClosed(d.done) {
		d.done = make(chan struct{})
	}
	d.timer = nil

	if t.IsZero() {
		return
	}

	wait := d.clock.Until(t)
	if wait <= 0 {
		close(d.done)
		return
	}

	done := d.done
	d.timer = d.clock.AfterFunc(wait, func() { close(done) })
}

func (d *deadline) expired() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func isClosed(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
