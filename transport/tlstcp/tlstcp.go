// Package tlstcp implements transport.Transport over mutually-authenticated
// TLS-over-TCP, with fingerprints checked against a trust-on-first-use
// identity.Store rather than a certificate authority (spec §4.1, §4.2.2).
// Every accepted raw connection is peeked for the plaintext health-probe
// byte before the TLS handshake begins, so the same (ip, port) serves both
// the handshake and the liveness probe (spec §4.6.5, §9).
package tlstcp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/triphopMahithi/DropTea/identity"
	"github.com/triphopMahithi/DropTea/transport"
)

const (
	sendBufferBytes  = 2 << 20
	recvBufferBytes  = 2 << 20
	handshakeTimeout = 10 * time.Second
)

// Transport is a TLS-over-TCP backend verified by a TOFU identity.Store
// instead of a certificate chain.
type Transport struct {
	listener *net.TCPListener
	port     uint16
	tlsConf  *tls.Config
	store    *identity.Store
	nodeName string
}

// New binds 0.0.0.0:0 and configures mutual TLS using cert as the node's
// own identity. Peer certificates are accepted unconditionally at the TLS
// layer (InsecureSkipVerify) and checked instead against store's pinned
// fingerprints, which is the whole point of TOFU: there is no CA to trust.
func New(nodeName string, cert tls.Certificate, store *identity.Store) (*Transport, error) {
	addr := &net.TCPAddr{IP: net.IPv4zero, Port: 0}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tlstcp: cannot listen: %w", err)
	}

	conf := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		NextProtos:         []string{transport.ALPN},
		InsecureSkipVerify: true,
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS13,
	}

	return &Transport{
		listener: ln,
		port:     uint16(ln.Addr().(*net.TCPAddr).Port),
		tlsConf:  conf,
		store:    store,
		nodeName: nodeName,
	}, nil
}

func (t *Transport) LocalPort() uint16 { return t.port }

func (t *Transport) Close() error { return t.listener.Close() }

func tuneSocket(conn *net.TCPConn) error {
	if err := conn.SetNoDelay(true); err != nil {
		return err
	}
	if err := conn.SetWriteBuffer(sendBufferBytes); err != nil {
		return err
	}
	return conn.SetReadBuffer(recvBufferBytes)
}

// Accept peeks every raw connection's first byte: a lone 0xFF is the
// health-probe token and is answered without ever starting TLS. Anything
// else falls through to the TLS handshake, after which the peer's leaf
// certificate is checked against the TOFU store.
func (t *Transport) Accept(ctx context.Context) (transport.Stream, net.Addr, error) {
	for {
		raw, err := t.listener.AcceptTCP()
		if err != nil {
			return nil, nil, fmt.Errorf("tlstcp: accept failed: %w", err)
		}
		if err := tuneSocket(raw); err != nil {
			raw.Close()
			continue
		}

		peeked, probed, err := peekProbe(raw)
		if err != nil {
			raw.Close()
			continue
		}
		if probed {
			continue
		}

		tlsConn := tls.Server(peeked, t.tlsConf)
		if err := handshakeWithTimeout(tlsConn); err != nil {
			tlsConn.Close()
			continue
		}

		if err := t.verifyPeer(tlsConn); err != nil {
			tlsConn.Close()
			continue
		}

		return &stream{conn: tlsConn}, raw.RemoteAddr(), nil
	}
}

// Connect dials host:port, performs the TLS handshake, and verifies the
// server's certificate against the TOFU store before returning.
func (t *Transport) Connect(ctx context.Context, host string, port uint16) (transport.Stream, error) {
	dialer := net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("tlstcp: dial failed: %w", err)
	}
	if tcpConn, ok := raw.(*net.TCPConn); ok {
		if err := tuneSocket(tcpConn); err != nil {
			raw.Close()
			return nil, fmt.Errorf("tlstcp: cannot tune socket: %w", err)
		}
	}

	conf := t.tlsConf.Clone()
	conf.ServerName = transport.FixedSNI
	conf.ClientAuth = tls.NoClientCert

	tlsConn := tls.Client(raw, conf)
	if err := handshakeWithTimeout(tlsConn); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("tlstcp: handshake failed: %w", err)
	}

	if err := t.verifyPeer(tlsConn); err != nil {
		tlsConn.Close()
		return nil, err
	}

	return &stream{conn: tlsConn}, nil
}

func handshakeWithTimeout(conn *tls.Conn) error {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})
	return conn.HandshakeContext(context.Background())
}

func (t *Transport) verifyPeer(conn *tls.Conn) error {
	if t.store == nil {
		return nil
	}

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return fmt.Errorf("tlstcp: peer presented no certificate")
	}

	leaf := certs[0]
	peerID := leaf.Subject.CommonName
	if peerID == "" && len(leaf.DNSNames) > 0 {
		peerID = leaf.DNSNames[0]
	}

	return t.store.VerifyServerCert(peerID, leaf.Raw)
}

// peekProbe inspects the first byte available on raw without disturbing it
// for a subsequent TLS handshake. A bare 0xFF is answered directly and the
// connection closed; anything else (including a TLS client hello) is
// returned wrapped in a net.Conn that replays the peeked byte first.
func peekProbe(raw *net.TCPConn) (net.Conn, bool, error) {
	br := bufio.NewReader(raw)
	b, err := br.Peek(1)
	if err != nil {
		return nil, false, err
	}

	if b[0] == 0xFF {
		br.Discard(1)
		if _, werr := raw.Write([]byte{0xFF}); werr != nil {
			raw.Close()
			return nil, true, werr
		}
		raw.Close()
		return nil, true, nil
	}

	return &peekedConn{TCPConn: raw, r: br}, false, nil
}

// peekedConn overrides Read to draw from a bufio.Reader that has already
// consumed (and buffered) bytes from the embedded *net.TCPConn.
type peekedConn struct {
	*net.TCPConn
	r *bufio.Reader
}

func (c *peekedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

type stream struct {
	conn *tls.Conn
}

func (s *stream) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.conn.Write(p) }
func (s *stream) Flush() error                { return nil }
func (s *stream) Shutdown() error             { return s.conn.Close() }
