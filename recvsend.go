// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// Recv reads at most len(buf) bytes into buf.
//
// When the descriptor has no data the coroutine suspends until it turns
// readable (writable instead when the TLS layer wants the opposite
// direction) or the deadline fires, then retries once. A stream peer
// close surfaces as [io.EOF]. On TLS sockets flags are ignored and the
// bytes come from the TLS session.
func (s *Socket) Recv(buf []byte, flags int) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if err := s.checkBinding(); err != nil {
		return 0, err
	}
	if s.tls == tlsStateReady {
		return s.tconn.Read(buf)
	}
	n, err := s.recvOnce(buf, flags)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, unix.EAGAIN) {
		return 0, sysError("recv", err)
	}
	kind := EventRead
	if s.wantWrite {
		kind = EventWrite
	}
	if werr := s.suspend(kind); werr != nil {
		return 0, werr
	}
	n, err = s.recvOnce(buf, flags)
	if err != nil {
		return 0, sysError("recv", err)
	}
	return n, nil
}

// Send writes buf to the descriptor and returns the byte count, which
// may be short for stream sockets.
//
// When the kernel buffer is full the coroutine suspends until the
// descriptor turns writable (readable instead when the TLS layer wants
// the opposite direction) or the deadline fires, then retries once. On
// TLS sockets flags are ignored and the bytes go through the TLS
// session.
func (s *Socket) Send(buf []byte, flags int) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if err := s.checkBinding(); err != nil {
		return 0, err
	}
	if s.tls == tlsStateReady {
		return s.tconn.Write(buf)
	}
	n, err := s.sendOnce(buf, flags)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, unix.EAGAIN) {
		return 0, sysError("send", err)
	}
	kind := EventWrite
	if s.wantRead {
		kind = EventRead
	}
	if werr := s.suspend(kind); werr != nil {
		return 0, werr
	}
	n, err = s.sendOnce(buf, flags)
	if err != nil {
		return 0, sysError("send", err)
	}
	return n, nil
}

// recvOnce is the plaintext receive primitive: one non-blocking
// syscall, errno surfaced verbatim.
func (s *Socket) recvOnce(buf []byte, flags int) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, flags)
	if err != nil {
		return 0, err
	}
	if n == 0 && s.kind == KindStream && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// sendOnce is the plaintext send primitive: one non-blocking syscall,
// errno surfaced verbatim.
func (s *Socket) sendOnce(buf []byte, flags int) (int, error) {
	return unix.SendmsgN(s.fd, buf, nil, nil, flags)
}
