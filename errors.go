// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrClosed indicates an operation attempted on a closed [Socket],
// including the second and subsequent calls to [Socket.Close].
var ErrClosed = errors.New("corosock: socket is closed")

// ErrBoundToOtherCoroutine indicates a suspending call made while the
// [Socket] is bound to a different coroutine. The failed call does not
// touch the descriptor, arm a timer, or overwrite prior errors.
var ErrBoundToOtherCoroutine = errors.New("corosock: socket is bound to another coroutine")

// ErrResolveFailed indicates that hostname resolution could not produce
// a literal address. It is terminal for the current connect.
var ErrResolveFailed = errors.New("corosock: hostname resolution failed")

// ErrMissingPort indicates an inet connect invoked with port -1.
var ErrMissingPort = errors.New("corosock: inet socket requires a port argument")

// ErrInvalidPort indicates a port outside of (0, 65536).
var ErrInvalidPort = errors.New("corosock: invalid port argument")

// ErrPathTooLong indicates a unix socket path exceeding the sun_path limit.
var ErrPathTooLong = errors.New("corosock: unix socket path too long")

// ErrInvalidAddress indicates a bind address that does not parse as a
// literal of the socket's family.
var ErrInvalidAddress = errors.New("corosock: invalid address argument")

// ErrTLSAlreadyEstablished indicates a TLS handshake attempted on a
// Socket that already carries a TLS session.
var ErrTLSAlreadyEstablished = errors.New("corosock: TLS session already established")

// sysError wraps an errno so that callers can match the concrete error
// value with [errors.Is] (e.g., errors.Is(err, unix.ETIMEDOUT)).
func sysError(op string, errno error) error {
	return fmt.Errorf("corosock: %s: %w", op, errno)
}

// errTimedOut is the error stored by the deadline path before resuming
// the suspended coroutine. It matches unix.ETIMEDOUT via [errors.Is].
var errTimedOut = sysError("i/o wait", unix.ETIMEDOUT)
