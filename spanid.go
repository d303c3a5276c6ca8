// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// A span is a sequence of operations that can fail in a single, specific
// way. Each [Socket] generates one span ID at construction and attaches
// it to every log record it emits, enabling correlation of the connect,
// I/O, handshake, and close events of one socket across the loop's output.
//
// The span terminology is borrowed from OTel.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
