// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"context"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
)

// eventHandler is the callback attached to a poller registration.
type eventHandler func(kind EventKind)

// Loop is the single-threaded event loop driving sockets, timers, the
// AIO pool, and the coroutine runtime.
//
// Exactly one goroutine may execute [Loop.Run] at a time; that goroutine
// is "the loop goroutine". All Loop and [Socket] methods except
// [Loop.Post] must run on it (directly, from a coroutine, or from a
// callback). Construct via [NewLoop].
type Loop struct {
	// aio is the worker pool, created lazily by aioSubmit.
	aio *aioPool

	// aioWorkers is the pool size used at lazy creation.
	//
	// Set by [NewLoop] from [Config.AIOWorkers].
	aioWorkers int

	// coros maps live coroutine IDs to their state.
	coros map[CoroutineID]*coroutine

	// current is the coroutine executing right now, nil when the loop
	// itself (or one of its callbacks) runs.
	current *coroutine

	// fds maps registered descriptors to their event handlers.
	fds map[int]eventHandler

	// live counts coroutines that have not finished yet.
	live int

	// logger is the SLogger to use.
	//
	// Set by [NewLoop] to the user-provided logger.
	logger SLogger

	// nextCoroID generates coroutine IDs.
	nextCoroID CoroutineID

	// parked is the channel coroutines send on to hand control back.
	parked chan struct{}

	// poller is the platform readiness demultiplexer.
	poller poller

	// posted holds callbacks queued by Post, guarded by postedMu.
	posted []func()

	// postedMu guards posted.
	postedMu sync.Mutex

	// running reports whether Run is executing.
	running bool

	// startq holds spawned coroutines not yet dispatched.
	startq []*coroutine

	// timeNow is the function to get the current time.
	//
	// Set by [NewLoop] from [Config.TimeNow].
	timeNow func() time.Time

	// timers is the pending one-shot timer heap.
	timers timerHeap
}

// NewLoop creates a [*Loop].
//
// The cfg argument contains the common configuration for corosock types.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewLoop(cfg *Config, logger SLogger) (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &Loop{
		aioWorkers: cfg.AIOWorkers,
		coros:      make(map[CoroutineID]*coroutine),
		fds:        make(map[int]eventHandler),
		logger:     logger,
		parked:     make(chan struct{}),
		poller:     p,
		timeNow:    cfg.TimeNow,
	}, nil
}

// Run dispatches coroutines, poller events, timers, and posted
// callbacks until every coroutine has finished or ctx is done.
//
// Returns nil on normal completion and ctx.Err() on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	runtimex.Assert(!l.running)
	l.running = true
	defer func() { l.running = false }()

	// arrange for cancellation to interrupt a pending wait
	stop := context.AfterFunc(ctx, func() { l.Post(func() {}) })
	defer stop()

	for {
		l.startPending()
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.live == 0 {
			return nil
		}
		if err := l.poller.wait(l.pollTimeoutMS(), l.deliver); err != nil {
			return err
		}
		l.drainPosted()
		l.fireTimers()
	}
}

// Close releases the poller and stops the AIO workers. Call after
// [Loop.Run] has returned.
func (l *Loop) Close() error {
	runtimex.Assert(!l.running)
	runtimex.Assert(len(l.fds) == 0)
	if l.aio != nil {
		l.aio.close()
		l.aio = nil
	}
	return l.poller.close()
}

// Post schedules fn to run on the loop goroutine and wakes a pending
// wait. Safe to call from any goroutine; this is the only Loop method
// with that property.
func (l *Loop) Post(fn func()) {
	l.postedMu.Lock()
	l.posted = append(l.posted, fn)
	l.postedMu.Unlock()
	l.poller.wakeup()
}

// addFD registers fd for one readiness direction, routing events to h.
func (l *Loop) addFD(fd int, kind EventKind, h eventHandler) error {
	runtimex.Assert(l.fds[fd] == nil)
	if err := l.poller.add(fd, kind); err != nil {
		return err
	}
	l.fds[fd] = h
	return nil
}

// delFD removes the registration for fd.
func (l *Loop) delFD(fd int) {
	runtimex.Assert(l.fds[fd] != nil)
	l.poller.del(fd)
	delete(l.fds, fd)
}

// startPending dispatches coroutines queued by [Loop.Go].
func (l *Loop) startPending() {
	for len(l.startq) > 0 {
		c := l.startq[0]
		l.startq = l.startq[1:]
		l.switchTo(c)
	}
}

// deliver routes one poller event to the registered handler. Events for
// descriptors deregistered earlier in the same batch are dropped.
func (l *Loop) deliver(fd int, kind EventKind) {
	if h := l.fds[fd]; h != nil {
		h(kind)
	}
}

// drainPosted runs callbacks queued by Post.
func (l *Loop) drainPosted() {
	for {
		l.postedMu.Lock()
		queue := l.posted
		l.posted = nil
		l.postedMu.Unlock()
		if len(queue) == 0 {
			return
		}
		for _, fn := range queue {
			fn()
		}
	}
}

// pollTimeoutMS bounds the poller wait with the earliest deadline.
func (l *Loop) pollTimeoutMS() int {
	l.postedMu.Lock()
	pending := len(l.posted) > 0
	l.postedMu.Unlock()
	if pending || len(l.startq) > 0 {
		return 0
	}
	d := l.nextTimerDelay()
	if d < 0 {
		return -1
	}
	ms := int(d.Milliseconds())
	if ms == 0 && d > 0 {
		ms = 1
	}
	return ms
}
