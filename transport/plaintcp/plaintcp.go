// Package plaintcp implements transport.Transport over unauthenticated raw
// TCP. It is used only for trusted LAN segments or diagnostics (spec
// §4.2.1); it carries no handshake and therefore answers the health probe
// byte directly rather than folding it into a TLS/QUIC accept path.
package plaintcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"

	"github.com/triphopMahithi/DropTea/transport"
)

// Transport is a net.Listen-backed plain TCP transport.
type Transport struct {
	listener *net.TCPListener
	port     uint16
}

// New binds 0.0.0.0:0 and returns a Transport reporting the OS-assigned
// port.
func New() (*Transport, error) {
	addr := &net.TCPAddr{IP: net.IPv4zero, Port: 0}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("plaintcp: cannot listen: %w", err)
	}

	return &Transport{
		listener: ln,
		port:     uint16(ln.Addr().(*net.TCPAddr).Port),
	}, nil
}

func (t *Transport) LocalPort() uint16 { return t.port }

func (t *Transport) Close() error { return t.listener.Close() }

// Accept peeks the first byte of every connection: a lone 0xFF is the
// health-probe ping (spec §4.6.5, §9) and is echoed back immediately
// without being surfaced as a Stream; anything else, including a
// connection that closes before sending a byte, is handed to the caller
// with the peeked byte (if any) still at the front of the read buffer.
func (t *Transport) Accept(ctx context.Context) (transport.Stream, net.Addr, error) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return nil, nil, fmt.Errorf("plaintcp: accept failed: %w", err)
		}

		s, probed, err := peekProbe(conn)
		if err != nil {
			conn.Close()
			continue
		}
		if probed {
			continue
		}

		return s, conn.RemoteAddr(), nil
	}
}

// peekProbe inspects the first byte read from conn without consuming it
// from the caller's perspective. A bare 0xFF is the health-probe token: it
// is echoed back and the connection closed. Any other byte (or the start of
// a higher-level handshake) is left intact at the front of the returned
// stream's read buffer. A connection that closes without sending anything
// is returned as a stream whose first Read reports io.EOF.
func peekProbe(conn net.Conn) (*stream, bool, error) {
	br := bufio.NewReader(conn)
	b, err := br.Peek(1)
	if err == io.EOF {
		return &stream{conn: conn, r: br}, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if b[0] == 0xFF {
		br.Discard(1)
		if _, werr := conn.Write([]byte{0xFF}); werr != nil {
			conn.Close()
			return nil, true, werr
		}
		conn.Close()
		return nil, true, nil
	}

	return &stream{conn: conn, r: br}, false, nil
}

// Connect dials host:port over plain TCP.
func (t *Transport) Connect(ctx context.Context, host string, port uint16) (transport.Stream, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("plaintcp: dial failed: %w", err)
	}
	return &stream{conn: conn, r: conn}, nil
}

type stream struct {
	conn net.Conn
	r    io.Reader
}

func (s *stream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.conn.Write(p) }
func (s *stream) Flush() error                { return nil }
func (s *stream) Shutdown() error             { return s.conn.Close() }
