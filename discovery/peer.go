// Package discovery maintains the set of known peers on the local network,
// learned through mDNS/DNS-SD service records and BLE advertisements, and
// actively monitors their reachability with the health-probe protocol
// (spec §4.6).
package discovery

import (
	"sync"
	"time"
)

// TransportKind is a peer record's current link grade: which of LAN (IP)
// and BLE (mac) addresses it is known to be reachable on (spec §4.6's
// peer record, `transport_kind ∈ {Lan, BleOnly, Hybrid}`).
type TransportKind string

const (
	// Lan means the peer was seen over mDNS and has an IP/port but no BLE
	// sighting.
	Lan TransportKind = "Lan"
	// BleOnly means the peer was seen as a BLE advertisement only, or was
	// downgraded from Hybrid after its IP stopped answering.
	BleOnly TransportKind = "BleOnly"
	// Hybrid means the peer has both a live IP and a BLE mac.
	Hybrid TransportKind = "Hybrid"
)

// Peer is one discovered node (spec §4.6's peer record). Host/Port are
// meaningful whenever TransportKind is Lan or Hybrid; BleMAC is meaningful
// whenever TransportKind is BleOnly or Hybrid. LastSeen and MissedPings
// are updated by the health prober independently of discovery events,
// since a peer can go offline without sending a goodbye record.
type Peer struct {
	Name          string
	Host          string
	Port          uint16
	BleMAC        string
	Transports    []string
	TransportKind TransportKind
	LastSeen      time.Time
	MissedPings   int
	Healthy       bool
}

// Table is a concurrency-safe registry of known peers, keyed by name. The
// invariant it maintains is that exactly one Peer record exists per name
// at any time; a rediscovery of the same name updates the existing record
// in place rather than creating a duplicate (spec §4.6, invariant I-1).
type Table struct {
	mu       sync.RWMutex
	peers    map[string]Peer
	onChange []func(Peer)
	onLost   []func(Peer)
}

// NewTable returns an empty peer table.
func NewTable() *Table {
	return &Table{peers: make(map[string]Peer)}
}

// Upsert inserts or updates p, keyed by p.Name, and notifies subscribers,
// replacing any existing record wholesale. It is for callers that already
// have a complete record (manual pairing, tests); mDNS and BLE sightings
// should go through UpsertLan/UpsertBle instead, which implement the
// link-grade merge rules of spec §4.6 rather than clobbering the other
// transport's fields.
func (t *Table) Upsert(p Peer) {
	t.mu.Lock()
	t.peers[p.Name] = p
	subs := append([]func(Peer){}, t.onChange...)
	t.mu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
}

// UpsertLan applies an MdnsFound sighting for name: absent -> Lan,
// BleOnly -> Hybrid (preserving the existing BLE mac), Lan/Hybrid stays.
// MissedPings resets to 0 and LastSeen refreshes on every call (spec
// §4.6's MdnsFound transition).
func (t *Table) UpsertLan(name, host string, port uint16, transports []string) Peer {
	t.mu.Lock()
	p, ok := t.peers[name]
	if !ok {
		p = Peer{Name: name, TransportKind: Lan}
	} else if p.TransportKind == BleOnly {
		p.TransportKind = Hybrid
	}
	p.Host = host
	p.Port = port
	p.Transports = transports
	p.MissedPings = 0
	p.LastSeen = time.Now()
	t.peers[name] = p
	subs := append([]func(Peer){}, t.onChange...)
	t.mu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
	return p
}

// UpsertBle applies a BleFound sighting for name: an existing Lan peer
// upgrades to Hybrid without disturbing its Host/Port; a new peer is
// inserted as BleOnly (spec §4.6's BleFound transition).
func (t *Table) UpsertBle(name, mac string) Peer {
	t.mu.Lock()
	p, ok := t.peers[name]
	if !ok {
		p = Peer{Name: name, TransportKind: BleOnly}
	} else if p.TransportKind == Lan {
		p.TransportKind = Hybrid
	}
	p.BleMAC = mac
	p.LastSeen = time.Now()
	t.peers[name] = p
	subs := append([]func(Peer){}, t.onChange...)
	t.mu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
	return p
}

// MdnsLost applies an MdnsLost event for name: a Hybrid peer downgrades to
// BleOnly with its IP cleared (no loss notification, the BLE path
// remains); any other peer is removed and reported to OnLost subscribers
// (spec §4.6's MdnsLost transition).
func (t *Table) MdnsLost(name string) {
	t.mu.Lock()
	p, ok := t.peers[name]
	if !ok {
		t.mu.Unlock()
		return
	}

	if p.TransportKind == Hybrid {
		p.TransportKind = BleOnly
		p.Host = ""
		p.Port = 0
		t.peers[name] = p
		t.mu.Unlock()
		return
	}

	delete(t.peers, name)
	lost := append([]func(Peer){}, t.onLost...)
	t.mu.Unlock()

	for _, fn := range lost {
		fn(p)
	}
}

// RecordProbeSuccess resets name's MissedPings and refreshes LastSeen.
func (t *Table) RecordProbeSuccess(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[name]
	if !ok {
		return
	}
	p.MissedPings = 0
	p.LastSeen = time.Now()
	p.Healthy = true
	t.peers[name] = p
}

// RecordProbeFailure increments name's MissedPings. At 3 consecutive
// failures a Hybrid peer downgrades to BleOnly with its IP cleared (no
// loss notification); a Lan peer is removed and reported to OnLost
// subscribers (spec §4.6.5's failure-threshold transition).
func (t *Table) RecordProbeFailure(name string) {
	t.mu.Lock()
	p, ok := t.peers[name]
	if !ok {
		t.mu.Unlock()
		return
	}

	p.MissedPings++
	p.Healthy = false
	if p.MissedPings < 3 {
		t.peers[name] = p
		t.mu.Unlock()
		return
	}

	switch p.TransportKind {
	case Hybrid:
		p.TransportKind = BleOnly
		p.Host = ""
		p.Port = 0
		p.MissedPings = 0
		t.peers[name] = p
		t.mu.Unlock()
	default:
		delete(t.peers, name)
		lost := append([]func(Peer){}, t.onLost...)
		t.mu.Unlock()
		for _, fn := range lost {
			fn(p)
		}
	}
}

// Remove drops name from the table unconditionally, e.g. for tests or
// manual unpairing. Discovery and health-probe code should prefer
// MdnsLost/RecordProbeFailure, which implement the link-grade downgrade
// rules instead of always deleting the record.
func (t *Table) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, name)
}

// Get returns the peer named name, if known.
func (t *Table) Get(name string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[name]
	return p, ok
}

// Snapshot returns a copy of every known peer.
func (t *Table) Snapshot() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// OnChange registers fn to be called whenever a peer is inserted or
// updated via Upsert, UpsertLan, or UpsertBle.
func (t *Table) OnChange(fn func(Peer)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// OnLost registers fn to be called whenever a peer is fully removed (an
// on_peer_lost event per spec §6.2), as opposed to merely downgraded from
// Hybrid to BleOnly.
func (t *Table) OnLost(fn func(Peer)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLost = append(t.onLost, fn)
}

// SetHealthy updates the liveness flag and timestamp for an existing peer
// without disturbing its advertised address, which the health prober does
// not itself learn.
func (t *Table) SetHealthy(name string, healthy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[name]
	if !ok {
		return
	}
	p.Healthy = healthy
	p.LastSeen = time.Now()
	t.peers[name] = p
}
