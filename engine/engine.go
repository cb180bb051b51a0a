package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/triphopMahithi/DropTea/codec"
	"github.com/triphopMahithi/DropTea/discovery"
	"github.com/triphopMahithi/DropTea/identity"
	"github.com/triphopMahithi/DropTea/pipeline"
	"github.com/triphopMahithi/DropTea/transferproto"
	"github.com/triphopMahithi/DropTea/transport"
	"github.com/triphopMahithi/DropTea/transport/plaintcp"
	"github.com/triphopMahithi/DropTea/transport/quictransport"
	"github.com/triphopMahithi/DropTea/transport/tlstcp"
)

// DefaultCodec is used for outbound transfers when the caller does not
// name one explicitly.
const DefaultCodec = codec.Zstd

// Engine is the single long-lived object a host application owns: it
// holds the node's identity, its transport listeners, the discovered-peer
// table, and the in-flight transfer bookkeeping.
type Engine struct {
	cfg   Config
	log   *zap.Logger
	store *identity.Store

	transports map[string]transport.Transport
	table      *discovery.Table
	events     *discovery.EventBus
	mdns       *discovery.Mdns
	prober     *discovery.HealthProber

	pending         *transferproto.PendingMap
	inboundLimiter  *semaphore.Weighted
	outboundLimiter *semaphore.Weighted

	ble *discovery.Ble

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New resolves cfg's defaults, loads or generates the node's identity, and
// brings up every requested transport backend's listener, but does not yet
// start advertising or accepting connections — call StartService for that.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	if cfg.NodeName == "" {
		return nil, fmt.Errorf("engine: NodeName is required")
	}
	if cfg.StorageDir == "" {
		return nil, fmt.Errorf("engine: StorageDir is required")
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = filepath.Join(cfg.StorageDir, "downloads")
	}
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: cannot create download directory: %w", err)
	}

	store, err := identity.NewStore(cfg.StorageDir, cfg.Arbiter, cfg.Logger)
	if err != nil {
		return nil, err
	}

	cert, err := store.LoadOrGenerateIdentity(cfg.NodeName)
	if err != nil {
		return nil, err
	}

	transports := make(map[string]transport.Transport)
	for _, name := range cfg.Transports {
		tr, err := newBackend(name, cfg.NodeName, cert, store)
		if err != nil {
			closeAll(transports)
			return nil, err
		}
		transports[name] = tr
	}

	mdns, err := discovery.NewMdns(cfg.Logger)
	if err != nil {
		closeAll(transports)
		return nil, err
	}

	// A missing or disabled Bluetooth adapter is common on servers and CI
	// runners; BLE presence scanning is best-effort and its absence
	// shouldn't stop a node that only needs LAN discovery from starting.
	ble, err := discovery.NewBle(cfg.Logger)
	if err != nil {
		cfg.Logger.Warn("bluetooth unavailable, BLE discovery disabled", zap.Error(err))
		ble = nil
	}

	table := discovery.NewTable()

	return &Engine{
		cfg:             cfg,
		log:             cfg.Logger,
		store:           store,
		transports:      transports,
		table:           table,
		events:          discovery.NewEventBus(),
		mdns:            mdns,
		prober:          discovery.NewHealthProber(table, cfg.HealthProbeInterval, cfg.Logger),
		pending:         transferproto.NewPendingMap(),
		inboundLimiter:  semaphore.NewWeighted(cfg.MaxInboundTransfers),
		outboundLimiter: semaphore.NewWeighted(cfg.MaxOutboundTransfers),
		ble:             ble,
	}, nil
}

func newBackend(name, nodeName string, cert tls.Certificate, store *identity.Store) (transport.Transport, error) {
	switch name {
	case "plain":
		return plaintcp.New()
	case "tls":
		return tlstcp.New(nodeName, cert, store)
	case "quic":
		return quictransport.New(nodeName, cert, store)
	default:
		return nil, fmt.Errorf("engine: unknown transport %q", name)
	}
}

func closeAll(transports map[string]transport.Transport) {
	for _, tr := range transports {
		tr.Close()
	}
}

// StartService begins advertising every transport's listening port over
// mDNS, browsing for peers, running the health prober, and accepting
// inbound connections on every backend. It returns once everything is
// running; call Close (or cancel ctx) to stop.
func (e *Engine) StartService(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	var names []string
	for name, tr := range e.transports {
		names = append(names, name)
		e.wg.Add(1)
		go func(tr transport.Transport) {
			defer e.wg.Done()
			e.acceptLoop(tr)
		}(tr)
	}

	primaryPort := e.primaryPort()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.mdns.Advertise(e.ctx, e.cfg.NodeName, primaryPort, names); err != nil {
			e.log.Warn("mdns advertise stopped", zap.Error(err))
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.mdns.Browse(e.ctx, e.table); err != nil {
			e.log.Warn("mdns browse stopped", zap.Error(err))
		}
	}()

	e.table.OnChange(func(p discovery.Peer) {
		e.events.Publish(discovery.Event{Kind: discovery.PeerUpdated, Peer: p})
		e.cfg.Sink.PeerEvent(discovery.Event{Kind: discovery.PeerUpdated, Peer: p})
	})

	e.table.OnLost(func(p discovery.Peer) {
		e.events.Publish(discovery.Event{Kind: discovery.PeerLeft, Peer: p})
		e.cfg.Sink.PeerEvent(discovery.Event{Kind: discovery.PeerLeft, Peer: p})
	})

	if e.ble != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.ble.Scan(e.ctx, e.table); err != nil {
				e.log.Warn("ble scan stopped", zap.Error(err))
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.prober.Run(e.ctx)
	}()

	return nil
}

func (e *Engine) primaryPort() uint16 {
	for _, order := range []string{"tls", "quic", "plain"} {
		if tr, ok := e.transports[order]; ok {
			return tr.LocalPort()
		}
	}
	for _, tr := range e.transports {
		return tr.LocalPort()
	}
	return 0
}

func (e *Engine) acceptLoop(tr transport.Transport) {
	for {
		stream, addr, err := tr.Accept(e.ctx)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.log.Warn("accept failed", zap.Error(err))
			continue
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handleInbound(stream, addr)
		}()
	}
}

// busyRejectReason and receiverRejectReason are the on_reject reason
// strings the spec's Sink ABI names: a full inbound semaphore and a
// human (or whitelist) declining the transfer are distinct outcomes, not
// both just "failed" (spec §6.2).
const (
	busyRejectReason     = "System Busy"
	receiverRejectReason = "Receiver Rejected"
)

func (e *Engine) handleInbound(stream transport.Stream, addr net.Addr) {
	if !e.inboundLimiter.TryAcquire(1) {
		requestID := uuid.NewString()
		if err := transferproto.WriteAck(stream, transferproto.Ack{Status: transferproto.AckReject}); err != nil {
			e.log.Warn("cannot write busy ack", zap.Error(err))
		}
		stream.Shutdown()
		e.cfg.Sink.Reject(requestID, busyRejectReason)
		return
	}
	defer e.inboundLimiter.Release(1)

	requestID := uuid.NewString()

	decide := func(h transferproto.Header) transferproto.Decision {
		if e.store.IsTrusted(h.SenderName) {
			return transferproto.Decision{Accept: true}
		}

		ch, err := e.pending.Register(requestID)
		if err != nil {
			return transferproto.Decision{Accept: false}
		}
		e.cfg.Sink.IncomingTransfer(requestID, h)
		select {
		case d, ok := <-ch:
			if !ok {
				return transferproto.Decision{Accept: false}
			}
			if d.Accept {
				if err := e.store.AddTrust(h.SenderName); err != nil {
					e.log.Warn("cannot persist trust", zap.Error(err))
				}
			}
			return d
		case <-e.ctx.Done():
			return transferproto.Decision{Accept: false}
		}
	}

	progress := func(copied, total int64) {
		e.cfg.Sink.Progress(requestID, copied, total)
	}

	result, err := transferproto.ReceiveFile(e.ctx, stream, e.cfg.DownloadDir, decide, progress)
	stream.Shutdown()
	if err != nil {
		switch {
		case errors.Is(err, transferproto.ErrGhostConnection):
			// No header ever arrived; nothing to report to the host.
		case errors.Is(err, transferproto.ErrRejected):
			e.cfg.Sink.Reject(requestID, receiverRejectReason)
		default:
			e.cfg.Sink.Failed(requestID, err)
		}
		return
	}
	e.cfg.Sink.Completed(requestID, result)
}

// LocalPlainPort returns the port the "plain" backend bound, if running.
// It is mainly useful for manual pairing and tests; production pairing
// normally comes from a discovered peer's own advertised port.
func (e *Engine) LocalPlainPort() uint16 {
	if tr, ok := e.transports["plain"]; ok {
		return tr.LocalPort()
	}
	return 0
}

// DownloadDir returns the directory inbound transfers are saved under.
func (e *Engine) DownloadDir() string { return e.cfg.DownloadDir }

// AddKnownPeer inserts or updates a peer record directly, bypassing
// mDNS/BLE discovery. This is the path a host uses to pair with a peer it
// already knows the address of (e.g. entered manually, or learned out of
// band), and is also how tests exercise SendFile without a live network.
func (e *Engine) AddKnownPeer(p discovery.Peer) {
	e.table.Upsert(p)
}

// ResolveRequest delivers the host's accept/reject decision for a prior
// Sink.IncomingTransfer call.
func (e *Engine) ResolveRequest(requestID string, accept bool, savePath string) {
	e.pending.Resolve(requestID, transferproto.Decision{Accept: accept, SavePath: savePath})
}

// SendFile transfers the file at path to the named peer, choosing the
// peer's first transport that this node also has a backend for, or any
// running backend when the peer lists none in common.
func (e *Engine) SendFile(ctx context.Context, peerName, path string, codecName codec.Name) (transferproto.Result, error) {
	peer, ok := e.table.Get(peerName)
	if !ok {
		return transferproto.Result{}, fmt.Errorf("engine: unknown peer %q", peerName)
	}

	tr, err := e.pickTransportFor(peer)
	if err != nil {
		return transferproto.Result{}, err
	}

	if err := e.outboundLimiter.Acquire(ctx, 1); err != nil {
		return transferproto.Result{}, err
	}
	defer e.outboundLimiter.Release(1)

	f, err := os.Open(path)
	if err != nil {
		return transferproto.Result{}, fmt.Errorf("engine: cannot open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return transferproto.Result{}, fmt.Errorf("engine: cannot stat %s: %w", path, err)
	}

	if codecName == "" {
		codecName = DefaultCodec
	}

	stream, err := tr.Connect(ctx, peer.Host, peer.Port)
	if err != nil {
		return transferproto.Result{}, fmt.Errorf("engine: cannot connect to %s: %w", peerName, err)
	}
	defer stream.Shutdown()

	requestID := uuid.NewString()
	header := transferproto.Header{
		RequestID:    requestID,
		SenderName:   e.cfg.NodeName,
		SenderDevice: runtime.GOOS,
		Filename:     filepath.Base(path),
		Filesize:     info.Size(),
		Compression:  string(codecName),
	}

	n, err := transferproto.SendFile(ctx, stream, header, f, func(copied, total int64) {
		e.cfg.Sink.Progress(requestID, copied, total)
	})
	result := transferproto.Result{Header: header, Path: path, Bytes: n}
	if err != nil {
		if errors.Is(err, transferproto.ErrRejected) {
			e.cfg.Sink.Reject(requestID, receiverRejectReason)
		} else {
			e.cfg.Sink.Failed(requestID, err)
		}
		return result, err
	}
	e.cfg.Sink.Completed(requestID, result)
	return result, nil
}

func (e *Engine) pickTransportFor(peer discovery.Peer) (transport.Transport, error) {
	for _, name := range peer.Transports {
		if tr, ok := e.transports[name]; ok {
			return tr, nil
		}
	}
	for _, tr := range e.transports {
		return tr, nil
	}
	return nil, fmt.Errorf("engine: no shared transport with peer %q", peer.Name)
}

// Close stops every background goroutine and every transport listener. It
// blocks until all in-flight accept loops have returned.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}

	var firstErr error
	for _, tr := range e.transports {
		if err := tr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	e.wg.Wait()
	return firstErr
}

// Progress is a convenience alias used by callers that want the pipeline
// progress signature without importing the pipeline package directly.
type Progress = pipeline.ProgressFunc
