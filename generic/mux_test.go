package generic

import (
	"io"
	"net"
	"testing"

	"github.com/hqvv/xfrpc/tcpmux"
	"github.com/sirupsen/logrus"
)

func testMuxConfig(client bool) *tcpmux.Config {
	l := logrus.New()
	l.SetOutput(io.Discard)
	cfg := tcpmux.DefaultConfig()
	cfg.Logger = logrus.NewEntry(l)
	cfg.Client = client
	return cfg
}

// TestWrapOpenAcceptRoundTrip exercises Wrap end to end: a client-side Mux
// opens a stream, a server-side Mux accepts it, and a payload crosses in
// both directions, all through the narrow interface rather than the
// concrete *tcpmux.Session/*tcpmux.Stream types.
func TestWrapOpenAcceptRoundTrip(t *testing.T) {
	localConn, remoteConn := net.Pipe()
	defer localConn.Close()
	defer remoteConn.Close()

	client := Wrap(tcpmux.NewSession(localConn, testMuxConfig(true)))
	server := Wrap(tcpmux.NewSession(remoteConn, testMuxConfig(false)))

	clientStream, err := client.OpenStream()
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	accepted := make(chan Stream, 1)
	acceptErr := make(chan error, 1)
	go func() {
		st, err := server.AcceptStream()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- st
	}()

	if _, err := clientStream.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var serverStream Stream
	select {
	case serverStream = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("AcceptStream: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := io.ReadFull(serverStream, buf); err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q, want %q", buf, "hello")
	}

	if clientStream.ID() == 0 {
		t.Fatal("expected a nonzero stream id")
	}
	if serverStream.RemoteAddr() == nil {
		t.Fatal("expected a non-nil remote address")
	}
	if client.NumStreams() != 1 || server.NumStreams() != 1 {
		t.Fatalf("got client=%d server=%d open streams, want 1 each", client.NumStreams(), server.NumStreams())
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !client.IsClosed() {
		t.Fatal("expected client mux to report closed")
	}
}
