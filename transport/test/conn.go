// Package test holds a suite every [transport.Conn] implementation is expected to pass.
package test

import (
	"bytes"
	"sync"
	"time"

	"webclient/transport"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

// ConnTestSuite runs against C1 and C2, which the embedding suite connects to each other
// in its own SetupTest, after calling this one.
type ConnTestSuite struct {
	suite.Suite
	C1, C2 transport.Conn
	Clock  clock.Clock

	watchdog *time.Timer
	done     chan struct{}
}

func (s *ConnTestSuite) SetupTest() {
	s.Clock = clock.New()
	s.done = make(chan struct{})

	// A blocked conn must not hang the whole run.
	s.watchdog = time.AfterFunc(time.Second, func() {
		select {
		case <-s.done:
		default:
			s.FailNow("conn blocked for too long")
		}
	})
}

func (s *ConnTestSuite) TearDownTest() {
	defer goleak.VerifyNone(s.T())
	s.NoError(s.C1.Close())
	s.NoError(s.C2.Close())
	close(s.done)
	s.watchdog.Stop()
}

func (s *ConnTestSuite) TestReadWrite() {
	data := []byte("Hello, World!")

	var wg sync.WaitGroup
	defer wg.Wait()
	wg.Add(1)

	go func() {
		defer wg.Done()
		n, err := s.C1.Write(data)
		s.NoError(err)
		s.Equal(len(data), n)
	}()

	// A short buffer takes the write in two reads.
	buf := make([]byte, 10)
	var got []byte
	for len(got) < len(data) {
		n, err := s.C2.Read(buf)
		s.Require().NoError(err)
		got = append(got, buf[:n]...)
	}
	s.Equal(data, got)
}

func (s *ConnTestSuite) TestConcurrentWrites() {
	data := []byte("ABCD")
	const writers = 10

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		var wwg sync.WaitGroup
		for range writers {
			wwg.Add(1)
			go func() {
				defer wwg.Done()
				n, err := s.C1.Write(data)
				s.NoError(err)
				s.Equal(len(data), n)
			}()
		}
		wwg.Wait()
		s.NoError(s.C1.Close())
	}()

	var got []byte
	b := make([]byte, 10)
	for {
		n, err := s.C2.Read(b)
		if err != nil {
			s.Require().ErrorIs(err, transport.ErrConnClosed)
			break
		}
		got = append(got, b[:n]...)
	}

	// Writes are not interleaved, so every write lands whole.
	s.Equal(bytes.Repeat(data, writers), got)
}

func (s *ConnTestSuite) TestClosed() {
	s.Require().NoError(s.C1.Close())

	testcases := []struct {
		desc string
		conn func() transport.Conn
	}{
		{desc: "closing side", conn: func() transport.Conn { return s.C1 }},
		{desc: "other side", conn: func() transport.Conn { return s.C2 }},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			buf := make([]byte, 10)

			n, err := tc.conn().Read(buf)
			s.ErrorIs(err, transport.ErrConnClosed)
			s.Zero(n)

			n, err = tc.conn().Write(buf)
			s.ErrorIs(err, transport.ErrConnClosed)
			s.Zero(n)
		})
	}
}

// blockedUntilClose runs op, which must block, and closes C1 under it.
func (s *ConnTestSuite) blockedUntilClose(op func() error) {
	errc := make(chan error, 1)
	go func() { errc <- op() }()

	time.Sleep(50 * time.Millisecond)
	s.Require().NoError(s.C1.Close())

	s.ErrorIs(<-errc, transport.ErrConnClosed)
}

func (s *ConnTestSuite) TestReadBlockedUntilClose() {
	s.blockedUntilClose(func() error {
		_, err := s.C1.Read(nil)
		return err
	})
}

func (s *ConnTestSuite) TestWriteBlockedUntilClose() {
	s.blockedUntilClose(func() error {
		_, err := s.C1.Write([]byte("hey"))
		return err
	})
}

func (s *ConnTestSuite) TestDeadLine() {
	testcases := []struct {
		desc string
		set  func(time.Time)
		op   func() (int, error)
	}{
		{
			desc: "read",
			set:  s.C1.SetReadDeadLine,
			op:   func() (int, error) { return s.C1.Read(make([]byte, 1)) },
		},
		{
			desc: "write",
			set:  s.C1.SetWriteDeadLine,
			op:   func() (int, error) { return s.C1.Write(make([]byte, 1)) },
		},
	}
	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			tc.set(s.Clock.Now().Add(-time.Second))

			n, err := tc.op()
			s.ErrorIs(err, transport.ErrDeadLineExceeded)
			s.Zero(n)

			tc.set(time.Time{})
		})
	}
}

func (s *ConnTestSuite) TestDeadLineReset() {
	s.C1.SetReadDeadLine(s.Clock.Now().Add(-time.Second))
	s.C1.SetReadDeadLine(time.Time{})

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.C2.Write([]byte("ok"))
		s.NoError(err)
	}()

	b := make([]byte, 2)
	n, err := s.C1.Read(b)
	s.NoError(err)
	s.Equal("ok", string(b[:n]))
}

func (s *ConnTestSuite) TestAddr() {
	s.Equal(s.C1.LocalAddr(), s.C2.RemoteAddr())
	s.Equal(s.C2.LocalAddr(), s.C1.RemoteAddr())
}
