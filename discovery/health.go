package discovery

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"
)

// probeTimeout bounds how long a single liveness probe may take before the
// peer is considered unreachable for this round (spec §4.6.5).
const probeTimeout = 2 * time.Second

// staleAfter is how long a peer may go without a discovery refresh before
// it becomes a probe suspect (spec §4.6.5).
const staleAfter = 15 * time.Second

// jitterMin and jitterMax bound the random pause between successive probe
// dispatches within one scan round, so bursts of probes against many
// peers don't synchronize (spec §4.6.5).
const (
	jitterMin = 50 * time.Millisecond
	jitterMax = 150 * time.Millisecond
)

// probeByte is the single-byte liveness ping every transport backend
// answers directly, ahead of its own handshake (spec §4.6.5, §9).
const probeByte = 0xFF

// HealthProber periodically probes every suspect peer in a Table and
// updates its MissedPings/Healthy state. Because the TCP backends peek
// this byte ahead of their own handshake (TLS) or stream (plain TCP), and
// the QUIC backend answers it on a companion TCP listener bound to its own
// port number, a single plain TCP dial is enough to probe any of them on
// the same (host, port) the discovery record advertises.
type HealthProber struct {
	table    *Table
	interval time.Duration
	log      *zap.Logger
}

// NewHealthProber returns a prober that scans table once per interval.
func NewHealthProber(table *Table, interval time.Duration, log *zap.Logger) *HealthProber {
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthProber{table: table, interval: interval, log: log}
}

// Run blocks, scanning the table once per interval, until ctx is
// cancelled.
func (h *HealthProber) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probeRound(ctx)
		}
	}
}

// probeRound dispatches a probe for every suspect peer, pausing a random
// jitter between dispatches so a scan of many peers doesn't fire all its
// probes in the same instant (spec §4.6.5). A peer is a suspect when it
// isn't BLE-only, has a known IP, and hasn't refreshed in staleAfter.
func (h *HealthProber) probeRound(ctx context.Context) {
	for _, p := range h.table.Snapshot() {
		if !isSuspect(p) {
			continue
		}

		go h.probe(ctx, p)

		jitter := jitterMin + time.Duration(rand.Int63n(int64(jitterMax-jitterMin)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}
	}
}

func isSuspect(p Peer) bool {
	return p.TransportKind != BleOnly && p.Host != "" && time.Since(p.LastSeen) > staleAfter
}

func (h *HealthProber) probe(ctx context.Context, p Peer) {
	if probeOnce(ctx, p.Host, p.Port) {
		h.table.RecordProbeSuccess(p.Name)
		return
	}

	h.log.Debug("peer failed health probe", zap.String("peer", p.Name))
	h.table.RecordProbeFailure(p.Name)
}

func probeOnce(ctx context.Context, host string, port uint16) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return false
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte{probeByte}); err != nil {
		return false
	}

	reply := make([]byte, 1)
	if _, err := conn.Read(reply); err != nil {
		return false
	}
	return reply[0] == probeByte
}
