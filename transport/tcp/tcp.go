// Package tcp dials [transport.Conn]s over TCP, optionally secured with TLS.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9293
package tcp

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"syscall"
	"time"

	"webclient/transport"

	"github.com/pkg/errors"
)

// Addr is a host name or IP literal, plus a port.
type Addr struct {
	Host string
	Port uint16
}

var _ transport.Addr = Addr{}

func NewAddr(host string, port uint16) Addr {
	return Addr{Host: host, Port: port}
}

// Identifier is the host and port pair.
func (a Addr) Identifier() any { return a }

// String returns "host:port", bracketing IPv6 literals.
func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.FormatUint(uint64(a.Port), 10))
}

func addrFrom(addr net.Addr) transport.Addr {
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return Addr{Host: addr.String()}
	}
	return Addr{Host: ap.Addr().Unmap().String(), Port: ap.Port()}
}

type Dialer struct {
	dialer net.Dialer
}

var _ transport.ConnDialer = (*Dialer)(nil)

func NewDialer() *Dialer { return &Dialer{} }

func (d *Dialer) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	nc, err := d.dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, convertDialErr(err)
	}
	return &conn{nc: nc}, nil
}

// TLSDialer dials TCP and runs a TLS handshake before returning.
type TLSDialer struct {
	dialer net.Dialer
	config *tls.Config
}

var _ transport.ConnDialer = (*TLSDialer)(nil)

// NewTLSDialer creates a dialer verifying peers with config.
// An empty ServerName is filled with the host being dialed.
func NewTLSDialer(config *tls.Config) *TLSDialer {
	if config == nil {
		config = &tls.Config{}
	}
	return &TLSDialer{config: config}
}

func (d *TLSDialer) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	config := d.config.Clone()
	if config.ServerName == "" {
		config.ServerName = hostOf(addr)
	}

	td := tls.Dialer{NetDialer: &d.dialer, Config: config}

	nc, err := td.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, convertDialErr(err)
	}
	return &conn{nc: nc}, nil
}

func hostOf(addr transport.Addr) string {
	if a, ok := addr.(Addr); ok {
		return a.Host
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func convertDialErr(err error) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return errors.Wrap(transport.ErrConnRefused, err.Error())
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return errors.Wrap(transport.ErrNetUnreachable, err.Error())
	}
	return errors.Wrap(err, "dialing")
}

// conn adapts [net.Conn] into [transport.Conn].
type conn struct {
	nc net.Conn
}

var _ transport.Conn = (*conn)(nil)

func (c *conn) Read(p []byte) (int, error) {
	n, err := c.nc.Read(p)
	return n, convertErr(err)
}

func (c *conn) Write(p []byte) (int, error) {
	n, err := c.nc.Write(p)
	return n, convertErr(err)
}

func (c *conn) Close() error {
	if err := c.nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *conn) LocalAddr() transport.Addr  { return addrFrom(c.nc.LocalAddr()) }
func (c *conn) RemoteAddr() transport.Addr { return addrFrom(c.nc.RemoteAddr()) }

func (c *conn) SetReadDeadLine(t time.Time)  { _ = c.nc.SetReadDeadline(t) }
func (c *conn) SetWriteDeadLine(t time.Time) { _ = c.nc.SetWriteDeadline(t) }

func convertErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return errors.Wrap(transport.ErrConnClosed, err.Error())
	case errors.Is(err, os.ErrDeadlineExceeded):
		return errors.Wrap(transport.ErrDeadLineExceeded, err.Error())
	}
	return err
}
