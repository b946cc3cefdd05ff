package tcpmux

import (
	"io"
	"net"
	"sync"
)

// streamState is a stream's place in the SYN/ACK/FIN/RST lifecycle (§4.3).
type streamState int

const (
	stateInit streamState = iota
	stateSynSend
	stateSynReceived
	stateEstablished
	stateLocalClose
	stateRemoteClose
	stateClosed
	stateReset
)

func (s streamState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateSynSend:
		return "syn_send"
	case stateSynReceived:
		return "syn_received"
	case stateEstablished:
		return "established"
	case stateLocalClose:
		return "local_close"
	case stateRemoteClose:
		return "remote_close"
	case stateClosed:
		return "closed"
	case stateReset:
		return "reset"
	default:
		return "unknown"
	}
}

func (s streamState) terminal() bool {
	return s == stateClosed || s == stateReset
}

// PeerSocket is the local OS socket collaborator a stream proxies bytes
// to/from (§6). EnableRead gates whether the socket should keep producing
// bytes for mux_write — the send-side back-pressure signal.
type PeerSocket interface {
	Write(p []byte) (int, error)
	EnableRead(enable bool)
	Close() error
}

// Stream is a logical, bidirectional byte channel multiplexed over a
// Session's single underlying connection (tcpmux.c's struct tmux_stream).
type Stream struct {
	id   uint32
	sess *Session

	mu          sync.Mutex
	state       streamState
	closed      bool // guards markClosed's one-time cleanup; independent of state, which callers may already have advanced to a terminal value before invoking it
	recvWindow  uint32
	sendWindow  uint32
	txRing      *ringBuffer
	rxRing      *ringBuffer
	peer        PeerSocket
	closeNotify chan struct{}

	// defaultBuf backs Read() when no PeerSocket has been attached; it is
	// the stream's own minimal peer-socket implementation.
	defaultBuf defaultPeer
}

func newStream(sess *Session, id uint32, state streamState) *Stream {
	s := &Stream{
		id:          id,
		sess:        sess,
		state:       state,
		recvWindow:  sess.cfg.MaxStreamWindowSize,
		sendWindow:  sess.cfg.MaxStreamWindowSize,
		txRing:      newRingBuffer(sess.cfg.RBufSize),
		rxRing:      newRingBuffer(sess.cfg.RBufSize),
		closeNotify: make(chan struct{}),
	}
	s.defaultBuf.owner = s
	s.peer = &s.defaultBuf
	return s
}

// ID reports the stream's identifier.
func (s *Stream) ID() uint32 { return s.id }

// RemoteAddr reports the underlying session's remote address, satisfying the
// common io.ReadWriteCloser-plus-addressing shape used by proxy pumps.
func (s *Stream) RemoteAddr() net.Addr { return s.sess.conn.RemoteAddr() }

// AttachPeer replaces the stream's default internal buffer with an external
// peer-socket collaborator (e.g. a dialed net.Conn wrapper) so inbound bytes
// are delivered to it directly instead of being buffered for Read.
func (s *Stream) AttachPeer(p PeerSocket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = p
}

// Read satisfies io.Reader using the stream's default internal buffer. It
// only sees data if no external PeerSocket was attached via AttachPeer.
func (s *Stream) Read(b []byte) (int, error) {
	return s.defaultBuf.Read(b)
}

// Write accepts up to len(b) bytes from the local peer for delivery to the
// remote end of the stream; see Session.WriteStream (mux_write, §4.6).
func (s *Stream) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := s.sess.WriteStream(s, b[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			// Backpressured: nothing accepted this round and nothing will
			// until a WINDOW_UPDATE or ring drain frees space.
			return total, nil
		}
		total += n
	}
	return total, nil
}

// Open forces the handshake frame (DATA|SYN, length 0) immediately instead
// of waiting for the first real Write; Write of a zero-length slice is a
// conventional no-op and would never trigger it otherwise.
func (s *Stream) Open() error {
	_, err := s.sess.WriteStream(s, nil)
	return err
}

// Close sends FIN. It is a no-op once the stream has already sent FIN or is
// CLOSED/RESET; a stream that never sent its SYN is closed without any frame.
func (s *Stream) Close() error {
	return s.sess.CloseStream(s)
}

// Reset sends RST and tears the stream down immediately.
func (s *Stream) Reset() error {
	return s.sess.ResetStream(s)
}

// sendFlags derives the flags for an outbound frame from current state,
// applying the state progression described in §4.3/§4.6. Must be called with
// s.mu held.
func (s *Stream) sendFlags() flags {
	var f flags
	switch s.state {
	case stateInit:
		f |= flagSYN
		s.state = stateSynSend
	case stateSynReceived:
		f |= flagACK
		s.state = stateEstablished
	}
	return f
}

// applyReceivedFlags updates state in reaction to flags observed on an
// inbound frame (§4.3's "received" column), matching tcpmux.c's
// process_flags. Must be called with s.mu held. Returns whether the stream
// should be torn down (CLOSED/RESET reached) and a protocol error if the FIN
// arrived in a state that cannot accept it.
func (s *Stream) applyReceivedFlags(f flags) (teardown bool, err error) {
	if f&flagACK != 0 {
		if s.state == stateSynSend || s.state == stateSynReceived {
			s.state = stateEstablished
		}
	}
	if f&flagSYN != 0 && s.state == stateInit {
		s.state = stateSynReceived
	}
	if f&flagFIN != 0 {
		switch s.state {
		case stateSynSend, stateSynReceived, stateEstablished:
			s.state = stateRemoteClose
		case stateLocalClose:
			s.state = stateClosed
			teardown = true
		default:
			return false, &ProtocolError{Reason: "unexpected FIN in state " + s.state.String()}
		}
	}
	if f&flagRST != 0 {
		s.state = stateReset
		teardown = true
	}
	return teardown, nil
}

// markClosed transitions the stream to its terminal state and releases
// anything blocked on it (I1: removed from the registry by the caller). Its
// cleanup — closing closeNotify and the attached peer socket — must run
// exactly once regardless of how many call sites already advanced state to a
// terminal value ahead of calling it (applyReceivedFlags and the CloseStream/
// ResetStream paths all do), so it guards on its own closed flag rather than
// on state.terminal().
func (s *Stream) markClosed(reset bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if reset {
		s.state = stateReset
	} else if s.state != stateClosed {
		s.state = stateClosed
	}
	peer := s.peer
	s.mu.Unlock()

	select {
	case <-s.closeNotify:
	default:
		close(s.closeNotify)
	}
	peer.Close()
}

// defaultPeer is the Stream's built-in PeerSocket: it buffers inbound bytes
// for Read() when the caller never attaches an external socket. Read-enable
// toggling is a no-op since there is no local descriptor to gate.
type defaultPeer struct {
	owner *Stream
	mu    sync.Mutex
	cond  *sync.Cond
	buf   []byte
	eof   bool
}

func (d *defaultPeer) Write(p []byte) (int, error) {
	d.mu.Lock()
	if d.cond == nil {
		d.cond = sync.NewCond(&d.mu)
	}
	d.buf = append(d.buf, p...)
	d.cond.Broadcast()
	d.mu.Unlock()
	return len(p), nil
}

func (d *defaultPeer) Read(p []byte) (int, error) {
	d.mu.Lock()
	if d.cond == nil {
		d.cond = sync.NewCond(&d.mu)
	}
	for len(d.buf) == 0 && !d.eof {
		d.cond.Wait()
	}
	if len(d.buf) == 0 && d.eof {
		d.mu.Unlock()
		return 0, io.EOF
	}
	n := copy(p, d.buf)
	d.buf = d.buf[n:]
	d.mu.Unlock()
	return n, nil
}

func (d *defaultPeer) EnableRead(bool) {}

func (d *defaultPeer) Close() error {
	d.mu.Lock()
	if d.cond == nil {
		d.cond = sync.NewCond(&d.mu)
	}
	d.eof = true
	d.cond.Broadcast()
	d.mu.Unlock()
	return nil
}
