// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// Connect validates inet port arguments before any syscall.
func TestConnectValidatesPort(t *testing.T) {
	tests := []struct {
		// name describes what this test case verifies.
		name string

		// port is the port argument passed to Connect.
		port int

		// wantErr is the expected sentinel error.
		wantErr error
	}{
		{
			name:    "port -1 means the argument is missing",
			port:    -1,
			wantErr: ErrMissingPort,
		},

		{
			name:    "port zero is invalid",
			port:    0,
			wantErr: ErrInvalidPort,
		},

		{
			name:    "port 65536 is out of range",
			port:    65536,
			wantErr: ErrInvalidPort,
		},
	}

	loop, err := NewLoop(NewConfig(), DefaultSLogger())
	require.NoError(t, err)
	defer loop.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sock, err := NewSocket(NewConfig(), loop, DomainIPv4, KindStream, DefaultSLogger())
			require.NoError(t, err)
			defer sock.Close()

			err = sock.Connect("127.0.0.1", tt.port)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, sock.Active())
		})
	}
}

// Connect to a literal address with a refusing peer fails with
// ECONNREFUSED, leaving no timer armed and no poller registration.
func TestConnectRefused(t *testing.T) {
	// grab a loopback port with no listener behind it
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port := listenerHostPort(t, ln)
	require.NoError(t, ln.Close())

	runCoroutineTest(t, func(loop *Loop) {
		sock, err := NewSocket(NewConfig(), loop, DomainIPv4, KindStream, DefaultSLogger())
		if !assert.NoError(t, err) {
			return
		}
		defer sock.Close()
		sock.SetTimeout(time.Second)

		err = sock.Connect(host, port)
		assert.ErrorIs(t, err, unix.ECONNREFUSED)
		assert.False(t, sock.Active())
		assert.Nil(t, sock.timer)
		assert.Empty(t, loop.fds)
	})
}

// Connect to a listening literal endpoint succeeds and marks the
// socket active.
func TestConnectSuccess(t *testing.T) {
	ln := newLocalListener(t)
	host, port := listenerHostPort(t, ln)
	runCoroutineTest(t, func(loop *Loop) {
		sock, err := NewSocket(NewConfig(), loop, DomainIPv4, KindStream, DefaultSLogger())
		if !assert.NoError(t, err) {
			return
		}
		defer sock.Close()

		assert.NoError(t, sock.Connect(host, port))
		assert.True(t, sock.Active())
	})
}

// Connect reaches a unix-domain listener through a filesystem path.
func TestConnectUnix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	runCoroutineTest(t, func(loop *Loop) {
		sock, err := NewSocket(NewConfig(), loop, DomainUnix, KindStream, DefaultSLogger())
		if !assert.NoError(t, err) {
			return
		}
		defer sock.Close()

		assert.NoError(t, sock.Connect(path, 0))
		assert.True(t, sock.Active())
	})
}

// Connect rejects a unix path exceeding the sun_path capacity before
// any syscall.
func TestConnectUnixPathTooLong(t *testing.T) {
	loop, err := NewLoop(NewConfig(), DefaultSLogger())
	require.NoError(t, err)
	defer loop.Close()

	sock, err := NewSocket(NewConfig(), loop, DomainUnix, KindStream, DefaultSLogger())
	require.NoError(t, err)
	defer sock.Close()

	long := make([]byte, unixPathMax)
	for i := range long {
		long[i] = 'x'
	}
	err = sock.Connect(string(long), 0)
	assert.ErrorIs(t, err, ErrPathTooLong)
}

// A non-literal host is resolved on the AIO pool and the connect flow
// restarts with the literal written back into the socket.
func TestConnectResolvesHostname(t *testing.T) {
	ln := newLocalListener(t)
	host, port := listenerHostPort(t, ln)
	runCoroutineTest(t, func(loop *Loop) {
		cfg := NewConfig()
		cfg.Resolver = funcResolver(func(ctx context.Context, domain Domain, name string) (string, error) {
			assert.Equal(t, DomainIPv4, domain)
			assert.Equal(t, "server.test", name)
			return host, nil
		})
		sock, err := NewSocket(cfg, loop, DomainIPv4, KindStream, DefaultSLogger())
		if !assert.NoError(t, err) {
			return
		}
		defer sock.Close()

		assert.NoError(t, sock.Connect("server.test", port))
		assert.True(t, sock.Active())
		assert.Equal(t, host, sock.host)
	})
}

// A resolver failure is terminal for the current connect.
func TestConnectResolveFailure(t *testing.T) {
	runCoroutineTest(t, func(loop *Loop) {
		cfg := NewConfig()
		cfg.Resolver = funcResolver(func(ctx context.Context, domain Domain, name string) (string, error) {
			return "", errors.New("NXDOMAIN")
		})
		sock, err := NewSocket(cfg, loop, DomainIPv4, KindStream, DefaultSLogger())
		if !assert.NoError(t, err) {
			return
		}
		defer sock.Close()

		err = sock.Connect("example.invalid", 80)
		assert.ErrorIs(t, err, ErrResolveFailed)
		assert.False(t, sock.Active())
	})
}

// A resolver answer that still does not parse as a literal fails the
// connect: resolution is attempted at most once.
func TestConnectResolveNonLiteralAnswer(t *testing.T) {
	runCoroutineTest(t, func(loop *Loop) {
		calls := 0
		cfg := NewConfig()
		cfg.Resolver = funcResolver(func(ctx context.Context, domain Domain, name string) (string, error) {
			calls++
			return "still.not.a.literal", nil
		})
		sock, err := NewSocket(cfg, loop, DomainIPv4, KindStream, DefaultSLogger())
		if !assert.NoError(t, err) {
			return
		}
		defer sock.Close()

		err = sock.Connect("example.invalid", 80)
		assert.ErrorIs(t, err, ErrResolveFailed)
		assert.Equal(t, 1, calls)
	})
}

// Connect resolves through a DNSServerResolver backed by an
// in-process DNS server.
func TestConnectWithDNSServerResolver(t *testing.T) {
	ln := newLocalListener(t)
	host, port := listenerHostPort(t, ln)

	mux := dns.NewServeMux()
	mux.HandleFunc("server.test.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		rr, err := dns.NewRR("server.test. 60 IN A " + host)
		if err == nil {
			m.Answer = append(m.Answer, rr)
		}
		w.WriteMsg(m)
	})
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	runCoroutineTest(t, func(loop *Loop) {
		cfg := NewConfig()
		cfg.Resolver = NewDNSServerResolver(pc.LocalAddr().String())
		sock, err := NewSocket(cfg, loop, DomainIPv4, KindStream, DefaultSLogger())
		if !assert.NoError(t, err) {
			return
		}
		defer sock.Close()

		assert.NoError(t, sock.Connect("server.test", port))
		assert.True(t, sock.Active())
		assert.Equal(t, host, sock.host)
	})
}

// Connect on a closed socket fails with ErrClosed.
func TestConnectClosed(t *testing.T) {
	loop, err := NewLoop(NewConfig(), DefaultSLogger())
	require.NoError(t, err)
	defer loop.Close()

	sock, err := NewSocket(NewConfig(), loop, DomainIPv4, KindStream, DefaultSLogger())
	require.NoError(t, err)
	require.NoError(t, sock.Close())

	assert.ErrorIs(t, sock.Connect("127.0.0.1", 80), ErrClosed)
}
