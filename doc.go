// SPDX-License-Identifier: GPL-3.0-or-later

// Package corosock provides a coroutine-oriented socket facade over a
// single-threaded event loop.
//
// # Core Abstraction
//
// The package is built around two types:
//
//   - [Loop]: the event loop owning the readiness poller, the one-shot
//     timers, the AIO worker pool, and the coroutine runtime.
//
//   - [Socket]: a non-blocking socket file descriptor exposing a
//     synchronous-looking API (Connect, Recv, Send, Bind, Listen, Accept,
//     Close, TLSHandshake) to code running inside a coroutine.
//
// A coroutine calling a Socket method suspends at the call site when the
// operation would block; the loop resumes it when the descriptor becomes
// ready, a deadline fires, or a hostname resolution completes. From the
// coroutine's point of view each method is an ordinary blocking call with
// exactly one success mode and one failure mode.
//
// # Suspension Protocol
//
// Each Socket is bound to at most one coroutine: the first suspending call
// records the caller's coroutine ID and every later suspending call by a
// different coroutine fails with [ErrBoundToOtherCoroutine] without
// touching the descriptor.
//
// A suspending operation attempts the non-blocking syscall first. On
// EAGAIN it registers exactly one readiness direction with the loop's
// poller, optionally arms a one-shot deadline, and yields. Exactly one of
// {readiness event, deadline, resolver completion} resumes the coroutine;
// whichever side wins removes the poller registration first, so the
// others become benign no-ops. After resume the operation retries the
// syscall once and returns. [Socket.Accept] differs in one step: it
// registers read interest and yields before its first accept call.
//
// # Concurrency Model
//
// Exactly one goroutine runs [Loop.Run]: it dispatches poller events,
// fires timers, and executes coroutines in strict alternation, so Socket
// fields are never mutated concurrently. AIO jobs (hostname resolution)
// run on worker goroutines but their completions are re-entered on the
// loop goroutine via [Loop.Post]. A Socket must not be shared between
// coroutines and must be closed by its owner; Close is idempotent.
//
// # TLS
//
// [Socket.TLSHandshake] wraps the descriptor in a client TLS session
// using a pluggable [TLSEngine] (the default is [TLSEngineStdlib]). The
// handshake suspends the coroutine whenever the TLS layer needs the
// descriptor to become readable or writable, recording want-read and
// want-write hints while it waits. Once the session is established Recv
// and Send move bytes through it, and each wait takes the direction of
// the transport read or write the TLS layer is blocked on.
//
// # Observability
//
// All operations support structured logging via [SLogger] (compatible
// with [log/slog]). By default logging is disabled. Lifecycle events
// (connectStart/connectDone, resolveStart/resolveDone, acceptDone,
// tlsHandshakeStart/tlsHandshakeDone, socketClose) are emitted at
// [slog.LevelInfo]; per-suspension events at [slog.LevelDebug]. Error
// classification is configurable via [ErrClassifier]. Each Socket carries
// a UUIDv7 span ID (see [NewSpanID]) attached to all of its records.
//
// # Design Boundaries
//
// This package intentionally provides only the socket facade and the
// loop it needs. The following are out of scope and should be
// implemented by higher-level packages:
//
//   - Protocol framing above the byte stream
//   - Sharing one Socket between threads or coroutines
//   - Retry and backoff logic
//   - A general-purpose futures runtime
package corosock
