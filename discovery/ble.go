package discovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// dropteaServiceUUID identifies the BLE advertisement DropTea peers emit
// when LAN discovery via mDNS is unavailable (spec §4.6.3). It is scanned
// for but never connected to: BLE here is presence-only, the transfer
// itself always happens over one of the IP transports.
var dropteaServiceUUID = bluetooth.NewUUID([16]byte{
	0xd4, 0x0a, 0x70, 0x31, 0x01, 0x00, 0x40, 0x00,
	0x80, 0x00, 0x00, 0x10, 0x00, 0x5f, 0x9b, 0x34,
})

// Ble scans for BLE advertisements carrying the DropTea service UUID and
// reports each sighting to the peer table keyed by the advertisement's
// local name (or the device address when no name is advertised), with the
// device address recorded as the peer's BleMAC. A BLE sighting alone
// cannot establish an IP transport; a later mDNS sighting of the same
// name upgrades the record with a real host and port.
type Ble struct {
	adapter *bluetooth.Adapter
	log     *zap.Logger
}

// NewBle wraps the system's default Bluetooth adapter.
func NewBle(log *zap.Logger) (*Ble, error) {
	if log == nil {
		log = zap.NewNop()
	}

	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("discovery: cannot enable bluetooth adapter: %w", err)
	}

	return &Ble{adapter: adapter, log: log}, nil
}

// Scan runs until ctx is cancelled, applying a BleFound transition to
// table for every advertisement carrying dropteaServiceUUID: a new name
// is inserted as BleOnly, an existing Lan peer is upgraded to Hybrid
// without disturbing its Host/Port (spec §4.6's BleFound transition).
func (b *Ble) Scan(ctx context.Context, table *Table) error {
	err := b.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(dropteaServiceUUID) {
			return
		}

		name := result.LocalName()
		if name == "" {
			name = result.Address.String()
		}

		table.UpsertBle(name, result.Address.String())
	})
	if err != nil {
		return fmt.Errorf("discovery: ble scan failed: %w", err)
	}

	<-ctx.Done()
	return b.adapter.StopScan()
}
