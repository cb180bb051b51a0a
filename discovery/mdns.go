package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/brutella/dnssd"
	"go.uber.org/zap"
)

// ServiceType is the DNS-SD service type DropTea peers advertise and
// browse for (spec §4.6.1).
const ServiceType = "_droptea._tcp"

// ServiceDomain is the standard link-local mDNS domain.
const ServiceDomain = "local."

// protocolVersion is this node's discovery-wire version, published in
// every TXT record's "ver" key (spec §4.6.1).
const protocolVersion = "1.0"

// Mdns advertises this node's own service record and browses for peers
// advertising the same service type.
type Mdns struct {
	log       *zap.Logger
	responder dnssd.Responder

	mu     sync.RWMutex
	selfID string
}

// NewMdns constructs an Mdns helper bound to a fresh dnssd.Responder.
func NewMdns(log *zap.Logger) (*Mdns, error) {
	if log == nil {
		log = zap.NewNop()
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("discovery: cannot create mdns responder: %w", err)
	}

	return &Mdns{log: log, responder: responder}, nil
}

// Advertise publishes this node's service record with TXT keys `id`,
// `ver`, `name`, and `type` (spec §4.6.1; "type" is always "lan" here,
// since this node has no way to detect it is acting as a Wi-Fi hotspot,
// the only case the spec's "hotspot" value covers), and blocks responding
// to queries until ctx is cancelled.
func (m *Mdns) Advertise(ctx context.Context, nodeID string, port uint16, transports []string) error {
	m.mu.Lock()
	m.selfID = nodeID
	m.mu.Unlock()

	cfg := dnssd.Config{
		Name:   nodeID,
		Type:   ServiceType,
		Domain: ServiceDomain,
		Port:   int(port),
		Text: map[string]string{
			"id":   nodeID,
			"ver":  protocolVersion,
			"name": nodeID,
			"type": "lan",
		},
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("discovery: cannot build service record: %w", err)
	}

	handle, err := m.responder.Add(service)
	if err != nil {
		return fmt.Errorf("discovery: cannot register service: %w", err)
	}
	defer m.responder.Remove(handle)

	m.log.Info("advertising mdns service", zap.String("id", nodeID), zap.Int("port", int(port)))
	return m.responder.Respond(ctx)
}

// Browse watches for _droptea._tcp peers appearing and disappearing on
// the local network, feeding every sighting into table as a Lan/Hybrid
// upsert or an MdnsLost transition. Records advertising this node's own
// id are ignored, since a host can otherwise see its own multicast
// announcement echoed back as a peer.
func (m *Mdns) Browse(ctx context.Context, table *Table) error {
	add := func(entry dnssd.BrowseEntry) {
		id := entryID(entry)
		if m.isSelf(id) {
			return
		}

		host, port := parseEntry(entry)
		table.UpsertLan(id, host, port, nil)
	}

	remove := func(entry dnssd.BrowseEntry) {
		id := entryID(entry)
		if m.isSelf(id) {
			return
		}
		table.MdnsLost(id)
	}

	service := fmt.Sprintf("%s.%s", ServiceType, ServiceDomain)
	if err := dnssd.LookupType(ctx, service, add, remove); err != nil {
		return fmt.Errorf("discovery: mdns browse failed: %w", err)
	}
	return nil
}

func (m *Mdns) isSelf(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return id != "" && id == m.selfID
}

func entryID(entry dnssd.BrowseEntry) string {
	if id, ok := entry.Text["id"]; ok && id != "" {
		return id
	}
	return entry.Name
}

func parseEntry(entry dnssd.BrowseEntry) (host string, port uint16) {
	if len(entry.IPs) > 0 {
		host = entry.IPs[0].String()
	}
	port = uint16(entry.Port)
	return host, port
}
