//go:build darwin || dragonfly || freebsd || netbsd

// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"golang.org/x/sys/unix"
)

// wakeupIdent is the EVFILT_USER identifier carrying cross-thread wakeups.
const wakeupIdent = 1

// kqueuePoller implements [poller] using kqueue. Wakeups ride an
// EVFILT_USER event triggered with NOTE_TRIGGER.
type kqueuePoller struct {
	// kq is the kqueue descriptor.
	kq int

	// filters remembers the filter registered per fd so del can
	// remove the matching one.
	filters map[int]int16

	// events is the reusable wait buffer.
	events []unix.Kevent_t
}

var _ poller = &kqueuePoller{}

// newPoller returns the kqueue-based [poller].
func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	user := unix.Kevent_t{
		Ident:  wakeupIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{user}, nil, nil); err != nil {
		unix.Close(kq)
		return nil, err
	}
	return &kqueuePoller{
		kq:      kq,
		filters: make(map[int]int16),
		events:  make([]unix.Kevent_t, 64),
	}, nil
}

// add implements [poller].
func (p *kqueuePoller) add(fd int, kind EventKind) error {
	filter := int16(unix.EVFILT_READ)
	if kind == EventWrite {
		filter = unix.EVFILT_WRITE
	}
	ev := unix.Kevent_t{}
	unix.SetKevent(&ev, fd, int(filter), unix.EV_ADD)
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return err
	}
	p.filters[fd] = filter
	return nil
}

// del implements [poller].
func (p *kqueuePoller) del(fd int) error {
	filter, ok := p.filters[fd]
	if !ok {
		return nil
	}
	delete(p.filters, fd)
	ev := unix.Kevent_t{}
	unix.SetKevent(&ev, fd, int(filter), unix.EV_DELETE)
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// wait implements [poller].
func (p *kqueuePoller) wait(timeoutMS int, deliver func(fd int, kind EventKind)) error {
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMS) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		if ev.Filter == unix.EVFILT_USER {
			continue
		}
		kind := EventRead
		if ev.Filter == unix.EVFILT_WRITE {
			kind = EventWrite
		}
		deliver(int(ev.Ident), kind)
	}
	return nil
}

// wakeup implements [poller].
func (p *kqueuePoller) wakeup() error {
	ev := unix.Kevent_t{
		Ident:  wakeupIdent,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// close implements [poller].
func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
