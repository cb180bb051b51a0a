// Package engine wires identity, transport, discovery, and transferproto
// together into the single object a host application embeds (spec §4.7,
// §6.2).
package engine

import (
	"github.com/triphopMahithi/DropTea/discovery"
	"github.com/triphopMahithi/DropTea/transferproto"
)

// Sink is the host application's callback surface. Every method is called
// from an internal goroutine and must not block for long; a host that
// needs to show UI and wait for a human decision should hand the
// IncomingTransfer call off to its own queue and call Engine.ResolveRequest
// once it has an answer, rather than blocking here.
type Sink interface {
	// IncomingTransfer announces a new inbound request. The receiver
	// goroutine blocks on Engine.ResolveRequest(requestID, ...) until the
	// host decides.
	IncomingTransfer(requestID string, header transferproto.Header)

	// Progress reports cumulative bytes moved for an in-flight transfer,
	// throttled by pipeline.Copy's own interval.
	Progress(requestID string, copied, total int64)

	// Completed is called once a transfer (inbound or outbound) finishes
	// successfully.
	Completed(requestID string, result transferproto.Result)

	// Failed is called once for any transfer that ends in an error other
	// than a rejection — see Reject for that case.
	Failed(requestID string, err error)

	// Reject is called instead of Failed when a transfer ends because it
	// was declined rather than because something went wrong: reason is
	// "Receiver Rejected" when the receiving side's Ack (or ResolveRequest
	// decision) declined the transfer, or "System Busy" when this node's
	// own inbound concurrency limit was exhausted before a header was
	// even read (spec §6.2's on_reject).
	Reject(requestID string, reason string)

	// PeerEvent reports a discovery state transition.
	PeerEvent(ev discovery.Event)
}

// NopSink implements Sink with no-op methods, for embedding in tests or
// hosts that only care about a subset of callbacks.
type NopSink struct{}

func (NopSink) IncomingTransfer(string, transferproto.Header) {}
func (NopSink) Progress(string, int64, int64)                 {}
func (NopSink) Completed(string, transferproto.Result)        {}
func (NopSink) Failed(string, error)                          {}
func (NopSink) Reject(string, string)                         {}
func (NopSink) PeerEvent(discovery.Event)                     {}
