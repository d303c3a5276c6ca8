// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// rawConn adapts the socket descriptor to [net.Conn] for the TLS
// engine. Read and Write suspend the owning coroutine on EAGAIN with
// the matching readiness direction, recording the want-read and
// want-write hints, so a TLS operation multi-steps across readiness
// events exactly like a plaintext operation does.
//
// Deadlines are expressed per suspension through [Socket.SetTimeout];
// the SetDeadline family is a no-op.
type rawConn struct {
	// sock is the owning socket.
	sock *Socket
}

var _ net.Conn = &rawConn{}

// Read implements [net.Conn]. It retries the non-blocking receive
// until it yields bytes, EOF, or a terminal error, suspending the
// coroutine with read interest on every EAGAIN.
func (c *rawConn) Read(p []byte) (int, error) {
	s := c.sock
	for {
		n, _, err := unix.Recvfrom(s.fd, p, 0)
		switch {
		case err == nil && n == 0 && len(p) > 0 && s.kind == KindStream:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case err != unix.EAGAIN:
			return 0, sysError("recv", err)
		}
		s.wantRead = true
		werr := s.suspend(EventRead)
		s.wantRead = false
		if werr != nil {
			return 0, werr
		}
	}
}

// Write implements [net.Conn]. It writes the whole buffer, suspending
// the coroutine with write interest whenever the kernel buffer fills.
func (c *rawConn) Write(p []byte) (int, error) {
	s := c.sock
	total := 0
	for total < len(p) {
		n, err := unix.SendmsgN(s.fd, p[total:], nil, nil, 0)
		switch {
		case err == nil:
			total += n
			continue
		case err == unix.EINTR:
			continue
		case err != unix.EAGAIN:
			return total, sysError("send", err)
		}
		s.wantWrite = true
		werr := s.suspend(EventWrite)
		s.wantWrite = false
		if werr != nil {
			return total, werr
		}
	}
	return total, nil
}

// Close implements [net.Conn] by closing the owning socket.
func (c *rawConn) Close() error {
	return c.sock.Close()
}

// LocalAddr implements [net.Conn].
func (c *rawConn) LocalAddr() net.Addr {
	sa, err := unix.Getsockname(c.sock.fd)
	if err != nil {
		return nil
	}
	return c.netAddr(sa)
}

// RemoteAddr implements [net.Conn].
func (c *rawConn) RemoteAddr() net.Addr {
	sa, err := unix.Getpeername(c.sock.fd)
	if err != nil {
		return nil
	}
	return c.netAddr(sa)
}

// netAddr converts a sockaddr to the [net.Addr] flavor matching the
// socket's domain and kind.
func (c *rawConn) netAddr(sa unix.Sockaddr) net.Addr {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		if c.sock.kind == KindDatagram {
			return &net.UDPAddr{IP: addr.Addr[:], Port: addr.Port}
		}
		return &net.TCPAddr{IP: addr.Addr[:], Port: addr.Port}
	case *unix.SockaddrInet6:
		if c.sock.kind == KindDatagram {
			return &net.UDPAddr{IP: addr.Addr[:], Port: addr.Port}
		}
		return &net.TCPAddr{IP: addr.Addr[:], Port: addr.Port}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: addr.Name, Net: c.sock.network()}
	default:
		return nil
	}
}

// SetDeadline implements [net.Conn] as a no-op.
func (c *rawConn) SetDeadline(t time.Time) error {
	return nil
}

// SetReadDeadline implements [net.Conn] as a no-op.
func (c *rawConn) SetReadDeadline(t time.Time) error {
	return nil
}

// SetWriteDeadline implements [net.Conn] as a no-op.
func (c *rawConn) SetWriteDeadline(t time.Time) error {
	return nil
}
