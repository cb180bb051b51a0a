package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gopkg.in/check.v1"

	"github.com/triphopMahithi/DropTea/discovery"
	"github.com/triphopMahithi/DropTea/engine"
	"github.com/triphopMahithi/DropTea/transferproto"
)

func Test(t *testing.T) { check.TestingT(t) }

type engineSuite struct{}

var _ = check.Suite(&engineSuite{})

type recordingSink struct {
	mu       sync.Mutex
	incoming []string
	reqID    string
	header   transferproto.Header
	done     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{}, 4)}
}

func (s *recordingSink) IncomingTransfer(requestID string, h transferproto.Header) {
	s.mu.Lock()
	s.reqID = requestID
	s.header = h
	s.mu.Unlock()
}
func (s *recordingSink) Progress(string, int64, int64) {}
func (s *recordingSink) Completed(requestID string, r transferproto.Result) {
	s.done <- struct{}{}
}
func (s *recordingSink) Failed(requestID string, err error) {
	s.done <- struct{}{}
}
func (s *recordingSink) Reject(requestID string, reason string) {
	s.done <- struct{}{}
}
func (s *recordingSink) PeerEvent(discovery.Event) {}

// TestSendFileOverLoopbackAcceptsAndWritesFile exercises the full
// identity → transport → transferproto path using the plain backend
// (so no TLS handshake or mDNS is required) by dialing the receiver's
// listener directly instead of going through peer discovery.
func (s *engineSuite) TestSendFileOverLoopbackAcceptsAndWritesFile(c *check.C) {
	recvSink := newRecordingSink()
	recv, err := engine.New(engine.Config{
		NodeName:    "receiver",
		StorageDir:  c.MkDir(),
		Transports:  []string{"plain"},
		Sink:        recvSink,
	})
	c.Assert(err, check.IsNil)
	defer recv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Assert(recv.StartService(ctx), check.IsNil)

	srcDir := c.MkDir()
	srcFile := filepath.Join(srcDir, "greeting.txt")
	c.Assert(os.WriteFile(srcFile, []byte("hello from the sender"), 0o644), check.IsNil)

	sendSink := newRecordingSink()
	sender, err := engine.New(engine.Config{
		NodeName:   "sender",
		StorageDir: c.MkDir(),
		Transports: []string{"plain"},
		Sink:       sendSink,
	})
	c.Assert(err, check.IsNil)
	defer sender.Close()
	c.Assert(sender.StartService(ctx), check.IsNil)

	sender.AddKnownPeer(discovery.Peer{
		Name:       "receiver",
		Host:       "127.0.0.1",
		Port:       recv.LocalPlainPort(),
		Transports: []string{"plain"},
	})

	// Accept the request as soon as it is announced.
	go func() {
		for i := 0; i < 100; i++ {
			recvSink.mu.Lock()
			reqID := recvSink.reqID
			recvSink.mu.Unlock()
			if reqID != "" {
				recv.ResolveRequest(reqID, true, "")
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	result, err := sender.SendFile(ctx, "receiver", srcFile, "")
	c.Assert(err, check.IsNil)
	c.Assert(result.Bytes, check.Equals, int64(len("hello from the sender")))

	select {
	case <-recvSink.done:
	case <-time.After(2 * time.Second):
		c.Fatal("receiver never reported completion")
	}

	saved := filepath.Join(recv.DownloadDir(), "greeting.txt")
	got, err := os.ReadFile(saved)
	c.Assert(err, check.IsNil)
	c.Assert(string(got), check.Equals, "hello from the sender")
}
