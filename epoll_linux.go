//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// epollPoller implements [poller] using epoll. A nonblocking eventfd
// registered for read readiness carries cross-thread wakeups.
type epollPoller struct {
	// epfd is the epoll instance descriptor.
	epfd int

	// wakefd is the eventfd used by wakeup.
	wakefd int

	// events is the reusable wait buffer.
	events []unix.EpollEvent
}

var _ poller = &epollPoller{}

// newPoller returns the epoll-based [poller].
func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	return &epollPoller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, 64),
	}, nil
}

// add implements [poller].
func (p *epollPoller) add(fd int, kind EventKind) error {
	events := uint32(unix.EPOLLIN)
	if kind == EventWrite {
		events = unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// del implements [poller].
func (p *epollPoller) del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait implements [poller].
func (p *epollPoller) wait(timeoutMS int, deliver func(fd int, kind EventKind)) error {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		fd := int(ev.Fd)
		if fd == p.wakefd {
			p.drainWakeup()
			continue
		}
		// EPOLLERR and EPOLLHUP wake the registered direction; the
		// retried syscall reports the concrete errno.
		kind := EventRead
		if ev.Events&unix.EPOLLOUT != 0 {
			kind = EventWrite
		}
		deliver(fd, kind)
	}
	return nil
}

// wakeup implements [poller].
func (p *epollPoller) wakeup() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if err == unix.EAGAIN {
		// counter saturated, a wakeup is already pending
		return nil
	}
	return err
}

// drainWakeup resets the eventfd counter.
func (p *epollPoller) drainWakeup() {
	var buf [8]byte
	unix.Read(p.wakefd, buf[:])
}

// close implements [poller].
func (p *epollPoller) close() error {
	unix.Close(p.wakefd)
	return unix.Close(p.epfd)
}
