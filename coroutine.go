// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"github.com/bassosimone/runtimex"
)

// CoroutineID identifies a coroutine spawned with [Loop.Go].
//
// The zero value means "no coroutine".
type CoroutineID uint64

// coroutine is a cooperative task running on its own goroutine in strict
// alternation with the loop goroutine: exactly one of {loop, coroutine}
// executes at any instant. The loop transfers control by sending on
// resume; the coroutine gives it back by sending on the loop's parked
// channel, either from yield or when its function returns.
type coroutine struct {
	// id is the stable identifier of this coroutine.
	id CoroutineID

	// resume is the channel the loop sends on to transfer control.
	resume chan struct{}

	// finished reports whether the coroutine function has returned.
	finished bool
}

// Go spawns a new coroutine executing fn and returns its ID.
//
// The coroutine does not start immediately: it is queued and dispatched
// by [Loop.Run]. Go must be called before Run or from code already
// running on the loop goroutine (a coroutine or a posted callback).
func (l *Loop) Go(fn func()) CoroutineID {
	l.nextCoroID++
	c := &coroutine{id: l.nextCoroID, resume: make(chan struct{})}
	l.coros[c.id] = c
	l.live++
	go func() {
		<-c.resume
		fn()
		c.finished = true
		l.parked <- struct{}{}
	}()
	l.startq = append(l.startq, c)
	return c.id
}

// CurrentID returns the ID of the coroutine currently executing, or
// zero when called from outside any coroutine.
func (l *Loop) CurrentID() CoroutineID {
	if l.current == nil {
		return 0
	}
	return l.current.id
}

// switchTo transfers control to c and blocks the loop goroutine until c
// yields or returns. Must be called with no coroutine current.
func (l *Loop) switchTo(c *coroutine) {
	runtimex.Assert(l.current == nil)
	l.current = c
	c.resume <- struct{}{}
	<-l.parked
	l.current = nil
	if c.finished {
		delete(l.coros, c.id)
		l.live--
	}
}

// yieldCurrent suspends the currently running coroutine and returns
// control to the loop. It returns when the coroutine is resumed.
func (l *Loop) yieldCurrent() {
	c := l.current
	runtimex.Assert(c != nil)
	l.parked <- struct{}{}
	<-c.resume
}

// resumeByID transfers control to the coroutine identified by id.
//
// Must be called on the loop goroutine while no coroutine is running,
// which is the case for poller, timer, and posted-completion callbacks.
func (l *Loop) resumeByID(id CoroutineID) {
	c := l.coros[id]
	runtimex.Assert(c != nil)
	l.switchTo(c)
}
