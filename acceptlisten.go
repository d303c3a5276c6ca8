// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"log/slog"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Bind binds the socket to a local address.
//
// The address is a filesystem path for the unix family, a dotted-quad
// literal for ipv4, or an ipv6 literal. Parse failures and over-long
// paths fail before any syscall. Non-suspending.
func (s *Socket) Bind(address string, port int) error {
	if s.closed {
		return ErrClosed
	}
	s.bindHost, s.bindPort = address, port
	sa, err := s.bindSockaddr(address, port)
	if err != nil {
		return err
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return sysError("bind", err)
	}
	if s.domain == DomainUnix {
		s.boundPath = address
	}
	return nil
}

// bindSockaddr builds the local sockaddr for [Socket.Bind].
func (s *Socket) bindSockaddr(address string, port int) (unix.Sockaddr, error) {
	switch s.domain {
	case DomainIPv4:
		addr, err := netip.ParseAddr(address)
		if err != nil || !addr.Unmap().Is4() {
			return nil, ErrInvalidAddress
		}
		return &unix.SockaddrInet4{Port: port, Addr: addr.Unmap().As4()}, nil
	case DomainIPv6:
		addr, err := netip.ParseAddr(address)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return nil, ErrInvalidAddress
		}
		return &unix.SockaddrInet6{Port: port, Addr: addr.As16()}, nil
	default:
		if len(address) >= unixPathMax {
			return nil, ErrPathTooLong
		}
		return &unix.SockaddrUnix{Name: address}, nil
	}
}

// Listen marks the socket as a listener with the given backlog.
// Non-suspending.
func (s *Socket) Listen(backlog int) error {
	if s.closed {
		return ErrClosed
	}
	s.backlog = backlog
	if err := unix.Listen(s.fd, backlog); err != nil {
		return sysError("listen", err)
	}
	return nil
}

// Accept waits for one pending connection and returns a new [Socket]
// wrapping the accepted descriptor. The child inherits the listener's
// domain, kind, and loop, and its descriptor is non-blocking and
// close-on-exec.
//
// The coroutine suspends until the listener turns readable or the
// deadline set with [Socket.SetTimeout] fires.
func (s *Socket) Accept() (*Socket, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.checkBinding(); err != nil {
		return nil, err
	}
	if werr := s.suspend(EventRead); werr != nil {
		return nil, werr
	}
	nfd, _, err := acceptFD(s.fd)
	if err != nil {
		return nil, sysError("accept", err)
	}
	child := newChildSocket(s, nfd)
	s.logger.Info(
		"acceptDone",
		slog.String("protocol", s.network()),
		slog.String("childSpanID", child.spanID),
		slog.String("spanID", s.spanID),
		slog.Time("t", s.timeNow()),
	)
	return child, nil
}

// LocalPort returns the port the kernel assigned to a bound inet
// socket, useful after binding port zero. Returns zero for unix
// sockets and on lookup failure.
func (s *Socket) LocalPort() int {
	if s.closed {
		return 0
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return 0
	}
	switch local := sa.(type) {
	case *unix.SockaddrInet4:
		return local.Port
	case *unix.SockaddrInet6:
		return local.Port
	default:
		return 0
	}
}
