package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/check.v1"

	"github.com/triphopMahithi/DropTea/config"
)

func Test(t *testing.T) { check.TestingT(t) }

type configSuite struct{}

var _ = check.Suite(&configSuite{})

const sampleTOML = `
node_name = "my-laptop"
storage_dir = "/tmp/droptea"
transports = ["tls", "quic"]
max_inbound_transfers = 5
max_outbound_transfers = 50
health_probe_interval_seconds = 20
`

func (s *configSuite) TestLoadParsesFields(c *check.C) {
	dir := c.MkDir()
	path := filepath.Join(dir, "droptea.toml")
	c.Assert(os.WriteFile(path, []byte(sampleTOML), 0o644), check.IsNil)

	cfg, err := config.Load(path)
	c.Assert(err, check.IsNil)
	c.Assert(cfg.NodeName, check.Equals, "my-laptop")
	c.Assert(cfg.Transports, check.DeepEquals, []string{"tls", "quic"})
	c.Assert(cfg.MaxInboundTransfers, check.Equals, int64(5))
	c.Assert(cfg.MaxOutboundTransfers, check.Equals, int64(50))
}

func (s *configSuite) TestLoadRejectsMissingNodeName(c *check.C) {
	dir := c.MkDir()
	path := filepath.Join(dir, "droptea.toml")
	c.Assert(os.WriteFile(path, []byte(`storage_dir = "/tmp/x"`), 0o644), check.IsNil)

	_, err := config.Load(path)
	c.Assert(err, check.NotNil)
}

func (s *configSuite) TestToEngineConfigConvertsInterval(c *check.C) {
	a := config.AppConfig{
		NodeName:               "n",
		StorageDir:             "/tmp/n",
		HealthProbeIntervalSec: 30,
	}
	ec := a.ToEngineConfig()
	c.Assert(ec.HealthProbeInterval.Seconds(), check.Equals, float64(30))
}
