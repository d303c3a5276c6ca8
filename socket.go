// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/bassosimone/runtimex"
	"golang.org/x/sys/unix"
)

// Domain is the address family of a [Socket], fixed at construction.
type Domain int

const (
	// DomainIPv4 is the AF_INET family.
	DomainIPv4 Domain = iota

	// DomainIPv6 is the AF_INET6 family.
	DomainIPv6

	// DomainUnix is the AF_UNIX family.
	DomainUnix
)

// family returns the AF_* constant for the domain.
func (d Domain) family() int {
	switch d {
	case DomainIPv6:
		return unix.AF_INET6
	case DomainUnix:
		return unix.AF_UNIX
	default:
		return unix.AF_INET
	}
}

// Kind is the socket type of a [Socket], fixed at construction.
type Kind int

const (
	// KindStream is the SOCK_STREAM type.
	KindStream Kind = iota

	// KindDatagram is the SOCK_DGRAM type.
	KindDatagram
)

// sockType returns the SOCK_* constant for the kind.
func (k Kind) sockType() int {
	if k == KindDatagram {
		return unix.SOCK_DGRAM
	}
	return unix.SOCK_STREAM
}

// tlsState tracks the TLS sub-state of a [Socket].
type tlsState int

const (
	// tlsStateNone means no TLS session exists.
	tlsStateNone tlsState = iota

	// tlsStateHandshake means the handshake loop is in progress.
	tlsStateHandshake

	// tlsStateReady means the session is established.
	tlsStateReady
)

// Socket is a non-blocking socket descriptor with a synchronous-looking
// API for code running inside a coroutine.
//
// A Socket binds to the first coroutine that suspends inside it and
// rejects suspending calls from any other coroutine. It must be closed
// by its owner; [Socket.Close] is idempotent. Construct via [NewSocket]
// or receive one from [Socket.Accept].
type Socket struct {
	// active reports whether a connect succeeded (or the socket came
	// from accept) and close did not.
	active bool

	// backlog is the listen backlog recorded by [Socket.Listen].
	backlog int

	// bindHost and bindPort record the last [Socket.Bind] request.
	bindHost string
	bindPort int

	// boundPath is the bound unix-domain path, unlinked on close for
	// datagram sockets.
	boundPath string

	// cid is the coroutine bound to this socket, zero when unbound.
	cid CoroutineID

	// closed reports whether Close ran; it is monotonic.
	closed bool

	// domain is the address family, fixed at construction.
	domain Domain

	// errClassifier classifies errors for structured logging.
	//
	// Set by [NewSocket] from [Config.ErrClassifier].
	errClassifier ErrClassifier

	// fd is the owned non-blocking descriptor.
	fd int

	// host and port record the last connect request; host may be
	// rewritten in place by the resolver bridge.
	host string
	port int

	// kind is the socket type, fixed at construction.
	kind Kind

	// logger is the SLogger to use.
	//
	// Set by [NewSocket] to the user-provided logger.
	logger SLogger

	// loop is the owning event loop.
	loop *Loop

	// removed reports that no poller registration is currently held.
	removed bool

	// resolver resolves hostnames on the AIO pool.
	//
	// Set by [NewSocket] from [Config.Resolver].
	resolver Resolver

	// spanID correlates all log records of this socket.
	spanID string

	// tconn is the established TLS session, nil before the handshake.
	tconn TLSConn

	// timeNow is the function to get the current time.
	//
	// Set by [NewSocket] from [Config.TimeNow].
	timeNow func() time.Time

	// timeout is the per-wait deadline; zero or negative disables it.
	timeout time.Duration

	// timer is the armed deadline, nil when disarmed.
	timer *Timer

	// tls is the TLS sub-state.
	tls tlsState

	// wakeErr carries the waker's verdict (deadline, resolver failure)
	// across a suspension; nil means plain readiness.
	wakeErr error

	// wantRead and wantWrite are the TLS readiness-direction hints.
	wantRead  bool
	wantWrite bool
}

// NewSocket creates a non-blocking, close-on-exec socket of the given
// domain and kind, owned by loop.
//
// The cfg argument contains the common configuration for corosock types.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewSocket(cfg *Config, loop *Loop, domain Domain, kind Kind, logger SLogger) (*Socket, error) {
	fd, err := newSocketFD(domain.family(), kind.sockType())
	if err != nil {
		return nil, sysError("socket", err)
	}
	return &Socket{
		domain:        domain,
		errClassifier: cfg.ErrClassifier,
		fd:            fd,
		kind:          kind,
		logger:        logger,
		loop:          loop,
		removed:       true,
		resolver:      cfg.Resolver,
		spanID:        NewSpanID(),
		timeNow:       cfg.TimeNow,
	}, nil
}

// newChildSocket wraps a descriptor produced by accept, inheriting the
// listener's domain, kind, loop, and ambient configuration.
func newChildSocket(parent *Socket, fd int) *Socket {
	return &Socket{
		active:        true,
		domain:        parent.domain,
		errClassifier: parent.errClassifier,
		fd:            fd,
		kind:          parent.kind,
		logger:        parent.logger,
		loop:          parent.loop,
		removed:       true,
		resolver:      parent.resolver,
		spanID:        NewSpanID(),
		timeNow:       parent.timeNow,
	}
}

// SetTimeout sets the deadline applied to every subsequent suspending
// wait. Zero or negative disables the deadline.
func (s *Socket) SetTimeout(d time.Duration) {
	s.timeout = d
}

// Active reports whether the socket is connected, by a successful
// connect or by [Socket.Accept], and not closed.
func (s *Socket) Active() bool {
	return s.active
}

// Closed reports whether [Socket.Close] ran.
func (s *Socket) Closed() bool {
	return s.closed
}

// FD returns the underlying descriptor, zero after close.
func (s *Socket) FD() int {
	return s.fd
}

// TLSEstablished reports whether a TLS session is ready.
func (s *Socket) TLSEstablished() bool {
	return s.tls == tlsStateReady
}

// Close tears the socket down: it marks the socket closed, unlinks a
// bound unix-datagram path, drops the poller registration, disarms a
// pending deadline, and closes the descriptor.
//
// The first call returns nil (or the close errno); every later call
// returns [ErrClosed] and performs no syscalls.
func (s *Socket) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	runtimex.Assert(s.fd != 0)
	if s.domain == DomainUnix && s.kind == KindDatagram && s.boundPath != "" {
		unix.Unlink(s.boundPath)
	}
	if !s.removed {
		s.loop.delFD(s.fd)
		s.removed = true
	}
	if s.timer != nil {
		s.loop.StopTimer(s.timer)
		s.timer = nil
	}
	s.active = false
	err := unix.Close(s.fd)
	s.fd = 0
	s.logger.Info(
		"socketClose",
		slog.Any("err", err),
		slog.String("protocol", s.network()),
		slog.String("spanID", s.spanID),
		slog.Time("t", s.timeNow()),
	)
	if err != nil {
		return sysError("close", err)
	}
	return nil
}

// checkBinding enforces the single-coroutine rule: once a coroutine has
// suspended inside this socket, no other coroutine may. The failed call
// leaves every field untouched.
func (s *Socket) checkBinding() error {
	if s.cid != 0 && s.cid != s.loop.CurrentID() {
		return ErrBoundToOtherCoroutine
	}
	return nil
}

// yield records the current coroutine as the socket's binding and
// suspends it.
func (s *Socket) yield() {
	s.cid = s.loop.CurrentID()
	runtimex.Assert(s.cid != 0)
	s.loop.yieldCurrent()
}

// resume reschedules the bound coroutine. Called by the readiness,
// deadline, and resolver callbacks on the loop goroutine.
func (s *Socket) resume() {
	s.loop.resumeByID(s.cid)
}

// suspend registers the descriptor for one readiness direction, arms
// the deadline when configured, and yields. It returns nil when the
// wake-up was plain readiness, or the waker's error (deadline).
// In every case the poller registration is gone and the timer disarmed
// when suspend returns.
func (s *Socket) suspend(kind EventKind) error {
	if err := s.loop.addFD(s.fd, kind, s.onReady); err != nil {
		return sysError("reactor add", err)
	}
	s.removed = false
	s.wakeErr = nil
	if s.timeout > 0 {
		s.timer = s.loop.AddTimer(s.timeout, s.onDeadline)
	}
	s.logger.Debug(
		"ioWait",
		slog.String("direction", kind.String()),
		slog.String("spanID", s.spanID),
		slog.Time("t", s.timeNow()),
	)
	s.yield()
	if s.timer != nil {
		s.loop.StopTimer(s.timer)
		s.timer = nil
	}
	return s.wakeErr
}

// onReady handles a readiness event: deregister first, then resume.
func (s *Socket) onReady(kind EventKind) {
	s.loop.delFD(s.fd)
	s.removed = true
	s.resume()
}

// onDeadline handles the deadline firing: clear the timer, record the
// timeout verdict, deregister, resume. A readiness event arriving later
// finds the descriptor deregistered and becomes a no-op.
func (s *Socket) onDeadline() {
	s.timer = nil
	s.wakeErr = errTimedOut
	if !s.removed {
		s.loop.delFD(s.fd)
		s.removed = true
	}
	s.logger.Debug(
		"ioWaitTimeout",
		slog.String("spanID", s.spanID),
		slog.Time("t", s.timeNow()),
	)
	s.resume()
}

// network returns the slog protocol label for this socket.
func (s *Socket) network() string {
	switch {
	case s.domain == DomainUnix && s.kind == KindDatagram:
		return "unixgram"
	case s.domain == DomainUnix:
		return "unix"
	case s.kind == KindDatagram:
		return "udp"
	default:
		return "tcp"
	}
}

// remoteEndpoint formats the last requested endpoint for logging.
func (s *Socket) remoteEndpoint() string {
	if s.domain == DomainUnix {
		return s.host
	}
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}
