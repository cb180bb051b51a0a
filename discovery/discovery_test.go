package discovery_test

import (
	"testing"
	"time"

	"gopkg.in/check.v1"

	"github.com/triphopMahithi/DropTea/discovery"
)

func Test(t *testing.T) { check.TestingT(t) }

type discoverySuite struct{}

var _ = check.Suite(&discoverySuite{})

func (s *discoverySuite) TestUpsertIsIdempotentByName(c *check.C) {
	table := discovery.NewTable()
	table.Upsert(discovery.Peer{Name: "peer-1", Host: "10.0.0.1", Port: 9000})
	table.Upsert(discovery.Peer{Name: "peer-1", Host: "10.0.0.2", Port: 9001})

	c.Assert(len(table.Snapshot()), check.Equals, 1)

	p, ok := table.Get("peer-1")
	c.Assert(ok, check.Equals, true)
	c.Assert(p.Host, check.Equals, "10.0.0.2")
}

func (s *discoverySuite) TestRemoveDropsPeer(c *check.C) {
	table := discovery.NewTable()
	table.Upsert(discovery.Peer{Name: "peer-1"})
	table.Remove("peer-1")

	_, ok := table.Get("peer-1")
	c.Assert(ok, check.Equals, false)
}

func (s *discoverySuite) TestOnChangeNotifiesSubscribers(c *check.C) {
	table := discovery.NewTable()
	seen := make(chan discovery.Peer, 1)
	table.OnChange(func(p discovery.Peer) { seen <- p })

	table.Upsert(discovery.Peer{Name: "peer-1", Host: "10.0.0.1"})

	select {
	case p := <-seen:
		c.Assert(p.Name, check.Equals, "peer-1")
	case <-time.After(time.Second):
		c.Fatal("subscriber was not notified")
	}
}

func (s *discoverySuite) TestSetHealthyUpdatesExistingPeerOnly(c *check.C) {
	table := discovery.NewTable()
	table.SetHealthy("unknown", true)
	_, ok := table.Get("unknown")
	c.Assert(ok, check.Equals, false)

	table.Upsert(discovery.Peer{Name: "peer-1"})
	table.SetHealthy("peer-1", true)

	p, _ := table.Get("peer-1")
	c.Assert(p.Healthy, check.Equals, true)
}

func (s *discoverySuite) TestEventBusPublishDoesNotBlockOnFullSubscriber(c *check.C) {
	bus := discovery.NewEventBus()
	ch := make(chan discovery.Event) // unbuffered, never drained
	bus.Subscribe(ch)

	done := make(chan struct{})
	go func() {
		bus.Publish(discovery.Event{Kind: discovery.PeerJoined})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		c.Fatal("Publish blocked on a full subscriber channel")
	}
}
