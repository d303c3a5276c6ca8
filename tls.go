// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/bassosimone/safeconn"
)

// TLSEngine is the engine to create a new [TLSConn].
type TLSEngine interface {
	// Client builds a new client [TLSConn].
	Client(conn net.Conn, config *tls.Config) TLSConn

	// Name returns the engine name.
	Name() string
}

// TLSEngineStdlib implements [TLSEngine] for the standard library.
//
// The zero value is ready to use.
type TLSEngineStdlib struct{}

var _ TLSEngine = TLSEngineStdlib{}

// Client implements [TLSEngine].
//
// This function uses [tls.Client] to build a new [*tls.Conn].
func (TLSEngineStdlib) Client(conn net.Conn, config *tls.Config) TLSConn {
	return tls.Client(conn, config)
}

// Name implements [TLSEngine].
//
// This function returns "stdlib".
func (TLSEngineStdlib) Name() string {
	return "stdlib"
}

// TLSConn abstracts over [*tls.Conn].
//
// By using an abstraction we allow for alternative TLS implementations.
type TLSConn interface {
	// ConnectionState returns the connection state.
	ConnectionState() tls.ConnectionState

	// HandshakeContext performs the handshake unless interrupted by the context.
	HandshakeContext(ctx context.Context) error

	// Embedding Conn means we can use this type as a [net.Conn].
	net.Conn
}

// TLSClientOptions configures [Socket.TLSHandshake].
//
// The zero value performs an unauthenticated handshake: no SNI, no peer
// verification.
type TLSClientOptions struct {
	// AllowSelfSigned accepts a self-signed peer certificate when
	// VerifyPeer is enabled and chain verification failed only for
	// lack of a known authority.
	AllowSelfSigned bool

	// CAFile is an optional path to a PEM bundle of trust anchors.
	// Ignored when RootCAs is set.
	CAFile string

	// EnableHTTP2 offers "h2" via ALPN during the handshake.
	EnableHTTP2 bool

	// Engine is the [TLSEngine] to use; nil means [TLSEngineStdlib].
	Engine TLSEngine

	// RootCAs is an optional pool of trust anchors. When nil and
	// CAFile is empty, the system pool applies.
	RootCAs *x509.CertPool

	// ServerName is sent as SNI and, when VerifyPeer is enabled,
	// checked against the peer certificate.
	ServerName string

	// VerifyPeer enables peer certificate verification after the
	// handshake completes.
	VerifyPeer bool
}

// TLSHandshake wraps the descriptor in a client TLS session and drives
// the handshake to completion.
//
// The handshake suspends the calling coroutine whenever the TLS layer
// needs the descriptor to become readable or writable; the direction is
// chosen by whichever transport operation the TLS layer is blocked on,
// and each wait honors the deadline set with [Socket.SetTimeout]. When
// [TLSClientOptions.VerifyPeer] is enabled the peer certificate chain
// and, if configured, the host name are verified before returning.
//
// On success Recv and Send transparently move bytes through the
// session. A second handshake fails with [ErrTLSAlreadyEstablished].
func (s *Socket) TLSHandshake(opts *TLSClientOptions) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.checkBinding(); err != nil {
		return err
	}
	if s.tls != tlsStateNone {
		return ErrTLSAlreadyEstablished
	}
	if opts == nil {
		opts = &TLSClientOptions{}
	}
	engine := opts.Engine
	if engine == nil {
		engine = TLSEngineStdlib{}
	}
	config := s.tlsConfig(opts)
	raw := &rawConn{sock: s}
	tconn := engine.Client(raw, config)
	s.tls = tlsStateHandshake
	t0 := s.timeNow()
	s.logHandshakeStart(engine, raw, t0, config)
	err := tconn.HandshakeContext(context.Background())
	if err == nil && opts.VerifyPeer {
		err = s.verifyPeer(opts, tconn.ConnectionState())
	}
	s.logHandshakeDone(engine, raw, t0, config, err, tconn.ConnectionState())
	if err != nil {
		s.tls = tlsStateNone
		s.wantRead, s.wantWrite = false, false
		return fmt.Errorf("corosock: tls handshake: %w", err)
	}
	s.tconn = tconn
	s.tls = tlsStateReady
	return nil
}

// tlsConfig builds the engine configuration. Verification is disabled
// at the engine level and performed by verifyPeer after the handshake,
// so the self-signed policy can apply.
func (s *Socket) tlsConfig(opts *TLSClientOptions) *tls.Config {
	config := &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         opts.ServerName,
		Time:               s.timeNow,
	}
	if opts.EnableHTTP2 {
		config.NextProtos = []string{"h2", "http/1.1"}
	}
	return config
}

// verifyPeer checks the peer chain against the configured trust
// anchors, optionally admitting a self-signed leaf, then checks the
// host name when one was configured.
func (s *Socket) verifyPeer(opts *TLSClientOptions, state tls.ConnectionState) error {
	certs := state.PeerCertificates
	if len(certs) < 1 {
		return errors.New("peer sent no certificates")
	}
	leaf := certs[0]
	roots, err := s.trustAnchors(opts)
	if err != nil {
		return err
	}
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	_, err = leaf.Verify(x509.VerifyOptions{
		CurrentTime:   s.timeNow(),
		Intermediates: intermediates,
		Roots:         roots,
	})
	if err != nil {
		var unknownAuthority x509.UnknownAuthorityError
		admit := opts.AllowSelfSigned &&
			errors.As(err, &unknownAuthority) &&
			isSelfSigned(leaf)
		if !admit {
			return err
		}
	}
	if opts.ServerName != "" {
		return leaf.VerifyHostname(opts.ServerName)
	}
	return nil
}

// trustAnchors loads the verification roots from the options.
func (s *Socket) trustAnchors(opts *TLSClientOptions) (*x509.CertPool, error) {
	if opts.RootCAs != nil {
		return opts.RootCAs, nil
	}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable certificates in %s", opts.CAFile)
		}
		return pool, nil
	}
	// nil selects the system pool inside x509
	return nil, nil
}

// isSelfSigned reports whether the certificate is its own issuer.
func isSelfSigned(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawIssuer, cert.RawSubject) &&
		cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

func (s *Socket) logHandshakeStart(engine TLSEngine,
	conn net.Conn, t0 time.Time, config *tls.Config) {
	s.logger.Info(
		"tlsHandshakeStart",
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("spanID", s.spanID),
		slog.Time("t", t0),
		slog.String("tlsEngineName", engine.Name()),
		slog.Any("tlsOfferedProtocols", config.NextProtos),
		slog.String("tlsServerName", config.ServerName),
	)
}

func (s *Socket) logHandshakeDone(engine TLSEngine, conn net.Conn,
	t0 time.Time, config *tls.Config, err error, state tls.ConnectionState) {
	s.logger.Info(
		"tlsHandshakeDone",
		slog.Any("err", err),
		slog.String("errClass", s.errClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("spanID", s.spanID),
		slog.Time("t0", t0),
		slog.Time("t", s.timeNow()),
		slog.String("tlsCipherSuite", tls.CipherSuiteName(state.CipherSuite)),
		slog.String("tlsEngineName", engine.Name()),
		slog.String("tlsNegotiatedProtocol", state.NegotiatedProtocol),
		slog.Any("tlsOfferedProtocols", config.NextProtos),
		slog.String("tlsServerName", config.ServerName),
		slog.String("tlsVersion", tls.VersionName(state.Version)),
	)
}
