// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"container/heap"
	"time"
)

// Timer is a one-shot deadline armed with [Loop.AddTimer].
//
// A Timer is owned by the loop goroutine: arming and stopping happen
// between callbacks, so a timer stopped before it fires is guaranteed
// not to run its callback.
type Timer struct {
	// deadline is the absolute fire time.
	deadline time.Time

	// fn is the callback to run when the deadline passes.
	fn func()

	// index is the position in the heap, -1 once popped or stopped.
	index int
}

// AddTimer arms a one-shot timer firing after d and returns its handle.
//
// Must be called on the loop goroutine.
func (l *Loop) AddTimer(d time.Duration, fn func()) *Timer {
	t := &Timer{deadline: l.timeNow().Add(d), fn: fn}
	heap.Push(&l.timers, t)
	return t
}

// StopTimer disarms a pending timer. Stopping a timer that already
// fired or was already stopped is a no-op.
//
// Must be called on the loop goroutine.
func (l *Loop) StopTimer(t *Timer) {
	if t.index >= 0 {
		heap.Remove(&l.timers, t.index)
		t.index = -1
	}
}

// fireTimers runs the callbacks of every timer whose deadline passed.
func (l *Loop) fireTimers() {
	now := l.timeNow()
	for l.timers.Len() > 0 && !l.timers[0].deadline.After(now) {
		t := heap.Pop(&l.timers).(*Timer)
		t.index = -1
		t.fn()
	}
}

// nextTimerDelay returns the time until the earliest pending deadline,
// or -1 when no timer is armed.
func (l *Loop) nextTimerDelay() time.Duration {
	if l.timers.Len() == 0 {
		return -1
	}
	d := l.timers[0].deadline.Sub(l.timeNow())
	if d < 0 {
		d = 0
	}
	return d
}

// timerHeap orders timers by deadline, earliest first.
type timerHeap []*Timer

var _ heap.Interface = &timerHeap{}

// Len implements [heap.Interface].
func (h timerHeap) Len() int { return len(h) }

// Less implements [heap.Interface].
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

// Swap implements [heap.Interface].
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push implements [heap.Interface].
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

// Pop implements [heap.Interface].
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
