// Command droptea-demo wires a TOML config file to a running engine.Engine
// and logs every Sink callback, the way snapd's cmd/snap-* tools wire a
// single small main to a larger library package.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/triphopMahithi/DropTea/config"
	"github.com/triphopMahithi/DropTea/discovery"
	"github.com/triphopMahithi/DropTea/engine"
	"github.com/triphopMahithi/DropTea/transferproto"
)

func main() {
	configPath := flag.String("config", "droptea.toml", "path to the node's TOML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "droptea-demo:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("cannot init logger: %w", err)
	}
	defer log.Sync()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	sink := &loggingSink{log: log}

	ecfg := appCfg.ToEngineConfig()
	ecfg.Logger = log
	ecfg.Sink = sink

	e, err := engine.New(ecfg)
	if err != nil {
		return fmt.Errorf("cannot start engine: %w", err)
	}
	defer e.Close()
	sink.engine = e

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.StartService(ctx); err != nil {
		return fmt.Errorf("cannot start service: %w", err)
	}

	log.Info("droptea node running", zap.String("node_name", appCfg.NodeName))
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// loggingSink is the simplest possible Sink: every incoming transfer is
// auto-accepted and every event is logged, since this demo has no UI to
// surface a human accept/reject prompt through.
type loggingSink struct {
	log    *zap.Logger
	engine *engine.Engine
}

func (s *loggingSink) IncomingTransfer(requestID string, h transferproto.Header) {
	s.log.Info("incoming transfer", zap.String("request_id", requestID), zap.String("filename", h.Filename), zap.Int64("size", h.Filesize))
	s.engine.ResolveRequest(requestID, true, "")
}

func (s *loggingSink) Progress(requestID string, copied, total int64) {
	s.log.Debug("progress", zap.String("request_id", requestID), zap.Int64("copied", copied), zap.Int64("total", total))
}

func (s *loggingSink) Completed(requestID string, r transferproto.Result) {
	s.log.Info("transfer complete", zap.String("request_id", requestID), zap.String("path", r.Path), zap.Int64("bytes", r.Bytes))
}

func (s *loggingSink) Failed(requestID string, err error) {
	s.log.Warn("transfer failed", zap.String("request_id", requestID), zap.Error(err))
}

func (s *loggingSink) Reject(requestID string, reason string) {
	s.log.Warn("transfer rejected", zap.String("request_id", requestID), zap.String("reason", reason))
}

func (s *loggingSink) PeerEvent(ev discovery.Event) {
	s.log.Info("peer event", zap.Int("kind", int(ev.Kind)), zap.String("peer", ev.Peer.Name))
}
