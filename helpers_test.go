// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"log/slog"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/bassosimone/slogstub"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
	"golang.org/x/sys/unix"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// runCoroutineTest spins up a loop, runs body inside a coroutine, and
// drives the loop until the coroutine finishes. The body must use the
// assert flavor of testify: a require failure would exit the coroutine
// goroutine without handing control back to the loop.
func runCoroutineTest(t *testing.T, body func(loop *Loop)) {
	t.Helper()
	loop, err := NewLoop(NewConfig(), DefaultSLogger())
	require.NoError(t, err)
	loop.Go(func() {
		body(loop)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx))
	require.NoError(t, loop.Close())
}

// newLocalListener returns a loopback TCP listener closed at test end.
func newLocalListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

// listenerHostPort splits a listener address into host and port.
func listenerHostPort(t *testing.T, ln net.Listener) (string, int) {
	t.Helper()
	host, portstr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portstr)
	require.NoError(t, err)
	return host, port
}

// requireNonblockCloexec verifies the descriptor flag invariants that
// every socket this package creates or accepts must satisfy.
func requireNonblockCloexec(t *testing.T, fd int) {
	t.Helper()
	fl, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	require.NotZero(t, fl&unix.O_NONBLOCK)
	fdflags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	require.NoError(t, err)
	require.NotZero(t, fdflags&unix.FD_CLOEXEC)
}

// funcResolver adapts a function to the [Resolver] interface.
type funcResolver func(ctx context.Context, domain Domain, host string) (string, error)

var _ Resolver = funcResolver(nil)

// LookupLiteral implements [Resolver].
func (f funcResolver) LookupLiteral(ctx context.Context, domain Domain, host string) (string, error) {
	return f(ctx, domain, host)
}

// newTestCertificate generates a self-signed certificate for
// "localhost" and 127.0.0.1, returning the TLS keypair and the parsed
// leaf certificate.
func newTestCertificate(t *testing.T) (tls.Certificate, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		NotAfter:              time.Now().Add(time.Hour),
		NotBefore:             time.Now().Add(-time.Hour),
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "corosock test"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	keypair := tls.Certificate{
		Certificate: [][]byte{der},
		Leaf:        leaf,
		PrivateKey:  key,
	}
	return keypair, leaf
}
