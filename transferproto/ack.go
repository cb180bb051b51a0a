package transferproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// AckSize is the fixed wire size of an Ack: one status byte followed by an
// 8-byte little-endian resume offset (spec §6.4).
const AckSize = 9

// AckStatus is the receiver's accept/reject decision for a Header.
type AckStatus byte

const (
	AckReject AckStatus = 0
	AckAccept AckStatus = 1
)

// Ack is the receiver's response to a Header. Resume is an offset into the
// file that SendFile skips to before streaming the body. ReceiveFile always
// sends 0: it keeps no partial file between transfers, so it never asks a
// sender to resume.
type Ack struct {
	Status AckStatus
	Resume uint64
}

// PackAck serializes a into its fixed 9-byte wire form.
func PackAck(a Ack) [AckSize]byte {
	var buf [AckSize]byte
	buf[0] = byte(a.Status)
	binary.LittleEndian.PutUint64(buf[1:], a.Resume)
	return buf
}

// UnpackAck parses the 9-byte wire form written by PackAck.
func UnpackAck(buf [AckSize]byte) Ack {
	return Ack{
		Status: AckStatus(buf[0]),
		Resume: binary.LittleEndian.Uint64(buf[1:]),
	}
}

// WriteAck writes a's wire form to w.
func WriteAck(w io.Writer, a Ack) error {
	buf := PackAck(a)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("transferproto: cannot write ack: %w", err)
	}
	return nil
}

// ReadAck reads and parses an Ack written by WriteAck.
func ReadAck(r io.Reader) (Ack, error) {
	var buf [AckSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Ack{}, fmt.Errorf("transferproto: cannot read ack: %w", err)
	}
	return UnpackAck(buf), nil
}
