package quictransport_test

import (
	"context"
	"testing"
	"time"

	"gopkg.in/check.v1"

	"github.com/triphopMahithi/DropTea/identity"
	"github.com/triphopMahithi/DropTea/transport/quictransport"
)

func Test(t *testing.T) { check.TestingT(t) }

type quicSuite struct{}

var _ = check.Suite(&quicSuite{})

func newTransport(c *check.C, nodeName string) *quictransport.Transport {
	store, err := identity.NewStore(c.MkDir(), nil, nil)
	c.Assert(err, check.IsNil)

	cert, err := store.LoadOrGenerateIdentity(nodeName)
	c.Assert(err, check.IsNil)

	tr, err := quictransport.New(nodeName, cert, store)
	c.Assert(err, check.IsNil)
	return tr
}

func (s *quicSuite) TestRoundTrip(c *check.C) {
	server := newTransport(c, "server-node")
	defer server.Close()
	client := newTransport(c, "client-node")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		stream, _, err := server.Accept(ctx)
		if err != nil {
			done <- err
			return
		}
		buf := make([]byte, 4)
		if _, err := stream.Read(buf); err != nil {
			done <- err
			return
		}
		c.Check(string(buf), check.Equals, "ping")
		done <- nil
	}()

	stream, err := client.Connect(ctx, "127.0.0.1", server.LocalPort())
	c.Assert(err, check.IsNil)
	_, err = stream.Write([]byte("ping"))
	c.Assert(err, check.IsNil)

	c.Assert(<-done, check.IsNil)
}

func (s *quicSuite) TestSecondStreamReusesPooledConnection(c *check.C) {
	server := newTransport(c, "server-node")
	defer server.Close()
	client := newTransport(c, "client-node")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		accepted := make(chan error, 1)
		go func() {
			stream, _, err := server.Accept(ctx)
			if err == nil {
				stream.Shutdown()
			}
			accepted <- err
		}()

		stream, err := client.Connect(ctx, "127.0.0.1", server.LocalPort())
		c.Assert(err, check.IsNil)
		stream.Shutdown()
		c.Assert(<-accepted, check.IsNil)
	}
}
