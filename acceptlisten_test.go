// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// Bind rejects malformed addresses before any syscall.
func TestBindValidatesAddress(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		// name describes what this test case verifies.
		name string

		// domain selects the socket family.
		domain Domain

		// address is the bind address.
		address string

		// wantErr is the expected sentinel error.
		wantErr error
	}{
		{
			name:    "ipv4 address that does not parse",
			domain:  DomainIPv4,
			address: "not-an-address",
			wantErr: ErrInvalidAddress,
		},

		{
			name:    "ipv6 literal on an ipv4 socket",
			domain:  DomainIPv4,
			address: "::1",
			wantErr: ErrInvalidAddress,
		},

		{
			name:    "ipv4 literal on an ipv6 socket",
			domain:  DomainIPv6,
			address: "127.0.0.1",
			wantErr: ErrInvalidAddress,
		},

		{
			name:    "unix path exceeding sun_path",
			domain:  DomainUnix,
			address: string(long),
			wantErr: ErrPathTooLong,
		},
	}

	loop, err := NewLoop(NewConfig(), DefaultSLogger())
	require.NoError(t, err)
	defer loop.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sock, err := NewSocket(NewConfig(), loop, tt.domain, KindStream, DefaultSLogger())
			require.NoError(t, err)
			defer sock.Close()

			err = sock.Bind(tt.address, 0)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// Accept returns a child socket inheriting domain and kind, with a
// non-blocking close-on-exec descriptor, leaving the listener usable.
func TestBindListenAccept(t *testing.T) {
	runCoroutineTest(t, func(loop *Loop) {
		listener, err := NewSocket(NewConfig(), loop, DomainIPv4, KindStream, DefaultSLogger())
		if !assert.NoError(t, err) {
			return
		}
		defer listener.Close()
		if !assert.NoError(t, listener.Bind("127.0.0.1", 0)) {
			return
		}
		if !assert.NoError(t, listener.Listen(16)) {
			return
		}
		port := listener.LocalPort()
		if !assert.Greater(t, port, 0) {
			return
		}

		go func() {
			time.Sleep(20 * time.Millisecond)
			conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
			if err == nil {
				conn.Close()
			}
		}()

		child, err := listener.Accept()
		if !assert.NoError(t, err) {
			return
		}
		defer child.Close()

		assert.Equal(t, listener.domain, child.domain)
		assert.Equal(t, listener.kind, child.kind)
		assert.Same(t, listener.loop, child.loop)
		assert.True(t, child.Active())
		assert.NotEqual(t, listener.spanID, child.spanID)
		requireNonblockCloexec(t, child.FD())
		assert.False(t, listener.Closed())
	})
}

// Accept fails with ETIMEDOUT when no client arrives before the
// deadline, and the listener is deregistered.
func TestAcceptTimeout(t *testing.T) {
	runCoroutineTest(t, func(loop *Loop) {
		listener, err := NewSocket(NewConfig(), loop, DomainIPv4, KindStream, DefaultSLogger())
		if !assert.NoError(t, err) {
			return
		}
		defer listener.Close()
		if !assert.NoError(t, listener.Bind("127.0.0.1", 0)) {
			return
		}
		if !assert.NoError(t, listener.Listen(4)) {
			return
		}
		listener.SetTimeout(100 * time.Millisecond)

		child, err := listener.Accept()
		assert.Nil(t, child)
		assert.ErrorIs(t, err, unix.ETIMEDOUT)
		assert.Empty(t, loop.fds)
	})
}

// Listen surfaces the kernel errno for an unbound datagram socket.
func TestListenError(t *testing.T) {
	loop, err := NewLoop(NewConfig(), DefaultSLogger())
	require.NoError(t, err)
	defer loop.Close()

	sock, err := NewSocket(NewConfig(), loop, DomainIPv4, KindDatagram, DefaultSLogger())
	require.NoError(t, err)
	defer sock.Close()

	err = sock.Listen(16)
	assert.ErrorIs(t, err, unix.EOPNOTSUPP)
}

// Bind then connect across two unix stream sockets in the same loop.
func TestUnixStreamBindConnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pair.sock")
	runCoroutineTest(t, func(loop *Loop) {
		listener, err := NewSocket(NewConfig(), loop, DomainUnix, KindStream, DefaultSLogger())
		if !assert.NoError(t, err) {
			return
		}
		defer listener.Close()
		if !assert.NoError(t, listener.Bind(path, 0)) {
			return
		}
		if !assert.NoError(t, listener.Listen(4)) {
			return
		}

		var connectErr error
		loop.Go(func() {
			client, err := NewSocket(NewConfig(), loop, DomainUnix, KindStream, DefaultSLogger())
			if err != nil {
				connectErr = err
				return
			}
			defer client.Close()
			connectErr = client.Connect(path, 0)
		})

		child, err := listener.Accept()
		if !assert.NoError(t, err) {
			return
		}
		defer child.Close()
		assert.NoError(t, connectErr)
	})
}
