// Package transport defines the uniform bidirectional stream abstraction
// that DropTea's three wire backends (plain TCP, TLS-over-TCP, QUIC)
// implement, per spec §4.2. Every backend binds port 0 and reports the
// OS-assigned port back through LocalPort so it can be published into
// discovery records.
package transport

import (
	"context"
	"net"
)

// Stream is a full-duplex byte channel. Reads and writes are expected to
// respect ctx cancellation the way net.Conn respects deadlines; callers
// that need cancel-aware I/O should race the call against ctx.Done() or
// rely on the underlying implementation's own deadline plumbing.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Flush pushes any buffered bytes to the wire. Backends without
	// internal buffering treat this as a no-op.
	Flush() error

	// Shutdown signals no more data will be written (flushing any codec
	// trailer the caller already wrote) and releases the underlying
	// connection. It is best-effort: callers should not treat a Shutdown
	// error as fatal to an already-completed transfer.
	Shutdown() error
}

// Transport is the capability set every backend implements: accept
// inbound streams, dial outbound streams, and report the local port chosen
// by the OS.
type Transport interface {
	Accept(ctx context.Context) (Stream, net.Addr, error)
	Connect(ctx context.Context, host string, port uint16) (Stream, error)
	LocalPort() uint16
	Close() error
}

// FixedSNI is the TLS/QUIC server name the TLS and QUIC backends set on
// every outbound dial. Dial targets are normally bare IP literals, which
// cannot serve as an SNI host name; the target host is never used as the
// server name, whatever its form.
const FixedSNI = "droptea.p2p"

// ALPN is the protocol token negotiated by the TLS and QUIC backends.
const ALPN = "droptea-p2p"
