// Package transferproto implements the wire protocol carried over a
// transport.Stream once a connection is established: a length-prefixed
// JSON header announcing the incoming file, a 9-byte binary ACK accepting
// or rejecting it, and the compressed file body itself (spec §4.5, §6.3,
// §6.4).
package transferproto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxHeaderBytes bounds the length prefix so a corrupted or hostile peer
// can't make the receiver allocate an unbounded buffer before any content
// has been authenticated by the transport layer's TOFU check.
const maxHeaderBytes = 64 * 1024

// Header is the metadata a sender announces before streaming a file body.
type Header struct {
	RequestID    string `json:"request_id"`
	SenderName   string `json:"sender_name"`
	SenderDevice string `json:"sender_device"`
	Filename     string `json:"filename"`
	Filesize     int64  `json:"filesize"`
	Compression  string `json:"compression"`
	Checksum     string `json:"checksum,omitempty"`
}

// WriteHeader writes a 4-byte little-endian length prefix followed by h
// marshaled as JSON.
func WriteHeader(w io.Writer, h Header) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("transferproto: cannot marshal header: %w", err)
	}
	if len(data) > maxHeaderBytes {
		return fmt.Errorf("transferproto: header too large (%d bytes)", len(data))
	}

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))

	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("transferproto: cannot write header length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("transferproto: cannot write header body: %w", err)
	}
	return nil
}

// ErrGhostConnection is returned by ReadHeader when the stream closes
// before a single byte of the length prefix arrives. A health probe or a
// peer that connects and immediately hangs up looks identical to this on
// the wire, so it is not a protocol error: the caller should close the
// stream and move on without reporting anything to the host.
var ErrGhostConnection = errors.New("transferproto: ghost connection (early EOF)")

// ReadHeader reads and parses a header written by WriteHeader.
func ReadHeader(r io.Reader) (Header, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, ErrGhostConnection
		}
		return Header{}, fmt.Errorf("transferproto: cannot read header length: %w", err)
	}

	n := binary.LittleEndian.Uint32(prefix[:])
	if n > maxHeaderBytes {
		return Header{}, fmt.Errorf("transferproto: header length %d exceeds limit", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Header{}, fmt.Errorf("transferproto: cannot read header body: %w", err)
	}

	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, fmt.Errorf("transferproto: cannot parse header: %w", err)
	}
	return h, nil
}
