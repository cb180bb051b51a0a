package plaintcp_test

import (
	"context"
	"testing"
	"time"

	"gopkg.in/check.v1"

	"github.com/triphopMahithi/DropTea/transport/plaintcp"
)

func Test(t *testing.T) { check.TestingT(t) }

type plaintcpSuite struct{}

var _ = check.Suite(&plaintcpSuite{})

func (s *plaintcpSuite) TestRoundTrip(c *check.C) {
	srv, err := plaintcp.New()
	c.Assert(err, check.IsNil)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		stream, _, err := srv.Accept(ctx)
		if err != nil {
			done <- err
			return
		}
		buf := make([]byte, 5)
		if _, err := stream.Read(buf); err != nil {
			done <- err
			return
		}
		c.Check(string(buf), check.Equals, "hello")
		done <- nil
	}()

	client, err := srv.Connect(ctx, "127.0.0.1", srv.LocalPort())
	c.Assert(err, check.IsNil)
	_, err = client.Write([]byte("hello"))
	c.Assert(err, check.IsNil)

	c.Assert(<-done, check.IsNil)
}

func (s *plaintcpSuite) TestHealthProbeIsAnsweredAndNotSurfaced(c *check.C) {
	srv, err := plaintcp.New()
	c.Assert(err, check.IsNil)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	accepted := make(chan struct{})
	go func() {
		// A real connection arriving after the probe must still be
		// surfaced normally.
		stream, _, err := srv.Accept(ctx)
		c.Check(err, check.IsNil)
		if stream != nil {
			stream.Shutdown()
		}
		close(accepted)
	}()

	probeConn, err := srv.Connect(ctx, "127.0.0.1", srv.LocalPort())
	c.Assert(err, check.IsNil)
	_, err = probeConn.Write([]byte{0xFF})
	c.Assert(err, check.IsNil)

	reply := make([]byte, 1)
	_, err = probeConn.Read(reply)
	c.Assert(err, check.IsNil)
	c.Assert(reply[0], check.Equals, byte(0xFF))

	real, err := srv.Connect(ctx, "127.0.0.1", srv.LocalPort())
	c.Assert(err, check.IsNil)
	real.Shutdown()

	<-accepted
}
