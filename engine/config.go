package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/triphopMahithi/DropTea/identity"
)

// Config is the fully-resolved set of knobs Engine.New needs. The config
// package builds one of these from a TOML file; tests and the demo CLI
// may construct it directly.
type Config struct {
	NodeName    string
	StorageDir  string
	DownloadDir string

	// Transports lists which backends to bring up: any of "plain", "tls",
	// "quic". The order of this list is not consulted when dialing; an
	// outbound transfer uses the first of the peer's own Transports that is
	// running here, or else an arbitrary running backend.
	Transports []string

	Arbiter identity.Arbiter
	Sink    Sink
	Logger  *zap.Logger

	// MaxInboundTransfers and MaxOutboundTransfers bound concurrent
	// transfers independently: a burst of incoming requests should never
	// starve this node's own outbound sends, and vice versa (spec §4.7).
	MaxInboundTransfers  int64
	MaxOutboundTransfers int64
	HealthProbeInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if len(c.Transports) == 0 {
		c.Transports = []string{"tls"}
	}
	if c.Sink == nil {
		c.Sink = NopSink{}
	}
	if c.MaxInboundTransfers <= 0 {
		c.MaxInboundTransfers = 5
	}
	if c.MaxOutboundTransfers <= 0 {
		c.MaxOutboundTransfers = 50
	}
	if c.HealthProbeInterval <= 0 {
		c.HealthProbeInterval = 5 * time.Second
	}
	return c
}
