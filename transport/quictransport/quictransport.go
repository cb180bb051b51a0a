// Package quictransport implements transport.Transport over QUIC, pooling
// one quic.Connection per remote host so repeated transfers to the same
// peer reuse its handshake instead of paying it per stream (spec §4.2.3).
//
// QUIC's probe problem is different from the TCP backends': there is no
// single TCP accept loop to peek a byte in front of, because a QUIC
// connection begins as a UDP datagram, not a byte stream. Rather than
// parsing the QUIC packet header to detect a probe, this backend binds a
// second, TCP, listener on the exact same port number the QUIC UDP socket
// was assigned. TCP and UDP ports are independent namespaces, so this is a
// legal, ordinary bind; the companion TCP listener exists purely to answer
// the 0xFF health-probe byte on the port the discovery record advertises,
// the same way the plain/TLS backends do on their own accept loop.
package quictransport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/triphopMahithi/DropTea/identity"
	"github.com/triphopMahithi/DropTea/transport"
)

const (
	maxStreamReceiveWindow     = 32 * 1024 * 1024
	maxConnectionReceiveWindow = 128 * 1024 * 1024
	maxIncomingStreams         = 1000
	keepAlivePeriod            = 5 * time.Second
	idleTimeout                = 60 * time.Second
)

// Transport is a connection-pooling QUIC backend.
type Transport struct {
	listener *quic.Listener
	probe    net.Listener
	port     uint16
	tlsConf  *tls.Config
	quicConf *quic.Config
	store    *identity.Store

	mu   sync.RWMutex
	pool map[string]quic.Connection
}

// New binds a UDP socket on 0.0.0.0:0 for QUIC and a companion TCP socket
// on the same port for health probes.
func New(nodeName string, cert tls.Certificate, store *identity.Store) (*Transport, error) {
	tlsConf := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		NextProtos:         []string{transport.ALPN},
		InsecureSkipVerify: true,
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS13,
	}

	quicConf := &quic.Config{
		MaxStreamReceiveWindow:     maxStreamReceiveWindow,
		MaxConnectionReceiveWindow: maxConnectionReceiveWindow,
		MaxIncomingStreams:         maxIncomingStreams,
		MaxIncomingUniStreams:      maxIncomingStreams,
		KeepAlivePeriod:            keepAlivePeriod,
		MaxIdleTimeout:             idleTimeout,
	}

	ln, err := quic.ListenAddr("0.0.0.0:0", tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("quictransport: cannot listen: %w", err)
	}
	port := uint16(ln.Addr().(*net.UDPAddr).Port)

	probe, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("quictransport: cannot bind companion probe listener: %w", err)
	}

	t := &Transport{
		listener: ln,
		probe:    probe,
		port:     port,
		tlsConf:  tlsConf,
		quicConf: quicConf,
		store:    store,
		pool:     make(map[string]quic.Connection),
	}

	go t.serveProbes()

	return t, nil
}

func (t *Transport) serveProbes() {
	for {
		conn, err := t.probe.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			br := bufio.NewReader(c)
			b, err := br.Peek(1)
			if err != nil || b[0] != 0xFF {
				return
			}
			br.Discard(1)
			c.Write([]byte{0xFF})
		}(conn)
	}
}

func (t *Transport) LocalPort() uint16 { return t.port }

func (t *Transport) Close() error {
	t.probe.Close()
	return t.listener.Close()
}

// Accept waits for the next inbound stream on any connection, opening new
// connections into the pool as they arrive.
func (t *Transport) Accept(ctx context.Context) (transport.Stream, net.Addr, error) {
	conn, err := t.listener.Accept(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("quictransport: accept failed: %w", err)
	}

	if err := t.verifyPeer(conn); err != nil {
		conn.CloseWithError(0, "fingerprint rejected")
		return nil, nil, err
	}

	t.storeConn(conn.RemoteAddr().String(), conn)

	str, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("quictransport: stream accept failed: %w", err)
	}

	return &stream{s: str}, conn.RemoteAddr(), nil
}

// Connect opens a new stream on the pooled connection to host:port,
// dialing and handshaking only on first use.
func (t *Transport) Connect(ctx context.Context, host string, port uint16) (transport.Stream, error) {
	addr := net.JoinHostPort(host, fmt.Sprint(port))

	conn, err := t.connectionFor(ctx, addr)
	if err != nil {
		return nil, err
	}

	str, err := conn.OpenStreamSync(ctx)
	if err != nil {
		// The pooled connection may have gone stale; drop it and retry
		// once with a fresh dial.
		t.dropConn(addr)
		conn, err = t.connectionFor(ctx, addr)
		if err != nil {
			return nil, err
		}
		str, err = conn.OpenStreamSync(ctx)
		if err != nil {
			return nil, fmt.Errorf("quictransport: open stream failed: %w", err)
		}
	}

	return &stream{s: str}, nil
}

// connectionFor implements double-checked locking: the common case (a
// healthy pooled connection) only takes the read lock.
func (t *Transport) connectionFor(ctx context.Context, addr string) (quic.Connection, error) {
	t.mu.RLock()
	conn, ok := t.pool[addr]
	t.mu.RUnlock()
	if ok {
		return conn, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.pool[addr]; ok {
		return conn, nil
	}

	conf := t.tlsConf.Clone()
	conf.ServerName = transport.FixedSNI
	conf.ClientAuth = tls.NoClientCert

	conn, err := quic.DialAddr(ctx, addr, conf, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("quictransport: dial failed: %w", err)
	}

	if err := t.verifyPeer(conn); err != nil {
		conn.CloseWithError(0, "fingerprint rejected")
		return nil, err
	}

	t.pool[addr] = conn
	return conn, nil
}

func (t *Transport) storeConn(addr string, conn quic.Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pool[addr]; !ok {
		t.pool[addr] = conn
	}
}

func (t *Transport) dropConn(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pool, addr)
}

func (t *Transport) verifyPeer(conn quic.Connection) error {
	if t.store == nil {
		return nil
	}

	certs := conn.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		return fmt.Errorf("quictransport: peer presented no certificate")
	}

	leaf := certs[0]
	peerID := leaf.Subject.CommonName
	if peerID == "" && len(leaf.DNSNames) > 0 {
		peerID = leaf.DNSNames[0]
	}

	return t.store.VerifyServerCert(peerID, leaf.Raw)
}

type stream struct {
	s quic.Stream
}

func (s *stream) Read(p []byte) (int, error)  { return s.s.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.s.Write(p) }
func (s *stream) Flush() error                { return nil }

func (s *stream) Shutdown() error {
	s.s.Close()
	return nil
}
