// Package generic names the narrow multiplexer contract other packages code
// against, independent of which concrete session implementation backs it.
package generic

import (
	"io"
	"net"

	"github.com/hqvv/xfrpc/tcpmux"
)

// Mux is the shape a multiplexed connection presents to its caller: open
// streams locally, accept streams the peer opened, and report liveness.
type Mux interface {
	OpenStream() (Stream, error)
	AcceptStream() (Stream, error)
	IsClosed() bool
	NumStreams() int
	RemoteAddr() net.Addr
	Close() error
}

// Stream is one multiplexed byte stream within a Mux.
type Stream interface {
	io.ReadWriteCloser
	ID() uint32
	RemoteAddr() net.Addr
}

// muxAdapter satisfies Mux by delegating to a *tcpmux.Session, translating
// its *tcpmux.Stream returns into the narrower Stream interface above.
type muxAdapter struct {
	sess *tcpmux.Session
}

// Wrap adapts a tcpmux session to the generic Mux contract.
func Wrap(sess *tcpmux.Session) Mux {
	return muxAdapter{sess: sess}
}

func (m muxAdapter) OpenStream() (Stream, error) {
	return m.sess.OpenStream()
}

func (m muxAdapter) AcceptStream() (Stream, error) {
	return m.sess.AcceptStream()
}

func (m muxAdapter) IsClosed() bool      { return m.sess.IsClosed() }
func (m muxAdapter) NumStreams() int     { return m.sess.NumStreams() }
func (m muxAdapter) RemoteAddr() net.Addr { return m.sess.RemoteAddr() }
func (m muxAdapter) Close() error        { return m.sess.Close() }

var _ Mux = muxAdapter{}
