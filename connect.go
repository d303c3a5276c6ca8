// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"golang.org/x/sys/unix"
)

// unixPathMax is the sun_path capacity on this platform.
var unixPathMax = len(unix.RawSockaddrUnix{}.Path)

// Connect establishes a connection to host and port.
//
// For inet families host may be a literal address or a hostname; a
// hostname is resolved on the AIO pool through the configured
// [Resolver], suspending the calling coroutine. For the unix family
// host is a filesystem path and port is ignored.
//
// When the kernel reports connect-in-progress the coroutine suspends
// until the descriptor turns writable or the deadline set with
// [Socket.SetTimeout] fires; the outcome is then read from SO_ERROR.
func (s *Socket) Connect(host string, port int) error {
	if s.closed {
		return ErrClosed
	}
	if s.domain != DomainUnix {
		if port == -1 {
			return ErrMissingPort
		}
		if port <= 0 || port >= 65536 {
			return ErrInvalidPort
		}
	}
	if err := s.checkBinding(); err != nil {
		return err
	}
	s.host, s.port = host, port
	t0 := s.timeNow()
	s.logger.Info(
		"connectStart",
		slog.String("protocol", s.network()),
		slog.String("remoteAddr", s.remoteEndpoint()),
		slog.String("spanID", s.spanID),
		slog.Time("t", t0),
	)
	err := s.connect()
	s.logger.Info(
		"connectDone",
		slog.Any("err", err),
		slog.String("errClass", s.errClassifier.Classify(err)),
		slog.String("protocol", s.network()),
		slog.String("remoteAddr", s.remoteEndpoint()),
		slog.String("spanID", s.spanID),
		slog.Time("t0", t0),
		slog.Time("t", s.timeNow()),
	)
	return err
}

// connect drives the connect state machine: parse the endpoint, resolve
// a non-literal host at most once, issue the syscall, and wait for
// writability when the kernel reports in-progress. Each address family
// arm is terminal and a second parse miss fails the connect.
func (s *Socket) connect() error {
	resolved := false
	var sa unix.Sockaddr
	for {
		var need bool
		var err error
		sa, need, err = s.connectSockaddr()
		if err != nil {
			return err
		}
		if !need {
			break
		}
		if resolved {
			return fmt.Errorf("%w: %q did not resolve to a literal", ErrResolveFailed, s.host)
		}
		if err := s.resolveHost(); err != nil {
			return err
		}
		resolved = true
	}

	err := connectRetryingEINTR(s.fd, sa)
	switch {
	case err == nil:
		s.active = true
		return nil
	case errors.Is(err, unix.EINPROGRESS):
		if werr := s.suspend(EventWrite); werr != nil {
			return werr
		}
		soerr, gerr := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			return sysError("getsockopt", gerr)
		}
		if soerr != 0 {
			return sysError("connect", unix.Errno(soerr))
		}
		s.active = true
		return nil
	default:
		return sysError("connect", err)
	}
}

// connectSockaddr builds the destination sockaddr from the current host
// and port. The second result reports that the host is not a literal of
// the socket's family and needs resolution.
func (s *Socket) connectSockaddr() (unix.Sockaddr, bool, error) {
	switch s.domain {
	case DomainIPv4:
		addr, err := netip.ParseAddr(s.host)
		if err != nil || !addr.Unmap().Is4() {
			return nil, true, nil
		}
		return &unix.SockaddrInet4{Port: s.port, Addr: addr.Unmap().As4()}, false, nil
	case DomainIPv6:
		addr, err := netip.ParseAddr(s.host)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return nil, true, nil
		}
		return &unix.SockaddrInet6{Port: s.port, Addr: addr.As16()}, false, nil
	default:
		if len(s.host) >= unixPathMax {
			return nil, false, ErrPathTooLong
		}
		return &unix.SockaddrUnix{Name: s.host}, false, nil
	}
}

// connectRetryingEINTR issues connect, retrying while interrupted.
func connectRetryingEINTR(fd int, sa unix.Sockaddr) error {
	for {
		err := unix.Connect(fd, sa)
		if err != unix.EINTR {
			return err
		}
	}
}

// resolveHost dispatches a resolution job for the pending host to the
// AIO pool and suspends until the completion callback runs on the loop
// goroutine. On success the callback replaces the socket's host with
// the resolved literal; on failure it records [ErrResolveFailed].
//
// No deadline is armed around the resolution itself.
func (s *Socket) resolveHost() error {
	host := s.host
	domain := s.domain
	resolver := s.resolver
	t0 := s.timeNow()
	s.logger.Info(
		"resolveStart",
		slog.String("hostname", host),
		slog.String("spanID", s.spanID),
		slog.Time("t", t0),
	)
	var literal string
	var jobErr error
	s.wakeErr = nil
	s.loop.aioSubmit(
		func() {
			literal, jobErr = resolver.LookupLiteral(context.Background(), domain, host)
		},
		func() {
			if jobErr != nil {
				s.wakeErr = fmt.Errorf("%w: %v", ErrResolveFailed, jobErr)
			} else {
				s.host = literal
			}
			s.resume()
		},
	)
	s.yield()
	s.logger.Info(
		"resolveDone",
		slog.Any("err", s.wakeErr),
		slog.String("errClass", s.errClassifier.Classify(s.wakeErr)),
		slog.String("hostname", host),
		slog.String("literal", s.host),
		slog.String("spanID", s.spanID),
		slog.Time("t0", t0),
		slog.Time("t", s.timeNow()),
	)
	return s.wakeErr
}
