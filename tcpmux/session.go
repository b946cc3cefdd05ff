package tcpmux

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config holds the tunable parameters consumed by the mux core (§6).
type Config struct {
	// MaxStreamWindowSize is each stream's initial credit in both
	// directions (default 262144, i.e. 256 KiB).
	MaxStreamWindowSize uint32
	// RBufSize is the per-ring capacity used for tx/rx staging (default
	// 131072, i.e. 128 KiB).
	RBufSize int
	// Logger receives severity-leveled diagnostics; defaults to a
	// logrus.Entry wrapping the standard logger.
	Logger *logrus.Entry
	// Client selects which parity of stream id this side allocates for
	// locally-opened streams: true means odd ids starting at 1 (the side
	// that dials out), false means even ids (the side that accepts).
	Client bool
}

// DefaultConfig returns the configuration described in §6.
func DefaultConfig() *Config {
	return &Config{
		MaxStreamWindowSize: 262144,
		RBufSize:            131072,
		Logger:              logrus.NewEntry(logrus.StandardLogger()),
		Client:              true,
	}
}

// Session is the connection-wide aggregate: proto_version, next_session_id,
// go-away flags, and the stream registry (tcpmux.c's module globals, now
// owned per-connection per the design notes).
type Session struct {
	conn net.Conn
	cfg  *Config
	log  *logrus.Entry

	br *bufio.Reader

	writeMu sync.Mutex

	reg *registry

	nextIDMu sync.Mutex
	nextID   uint32

	acceptCh chan *Stream

	goAwayMu    sync.Mutex
	localGoAway bool
	remoteGoAway bool

	dieCh   chan struct{}
	dieOnce sync.Once

	snmp *Snmp
}

// NewSession wraps conn (already connected, plaintext or wrapped by a
// transport-level codec — encryption/compression are the transport's job
// per §1) in a multiplexed Session and starts its single receive loop.
func NewSession(conn net.Conn, cfg *Config) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	startID := uint32(2)
	if cfg.Client {
		startID = 1
	}

	s := &Session{
		conn:     conn,
		cfg:      cfg,
		log:      cfg.Logger,
		br:       bufio.NewReader(conn),
		reg:      newRegistry(),
		nextID:   startID,
		acceptCh: make(chan *Stream, 64),
		dieCh:    make(chan struct{}),
		snmp:     &Snmp{},
	}

	go s.recvLoop()
	return s
}

// Snmp exposes the session's running counters.
func (s *Session) Snmp() *Snmp { return s.snmp }

// LocalAddr/RemoteAddr mirror the underlying connection's addressing.
func (s *Session) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// IsClosed reports whether the session has torn down.
func (s *Session) IsClosed() bool {
	select {
	case <-s.dieCh:
		return true
	default:
		return false
	}
}

// NumStreams reports the number of resident streams, including the control
// stream.
func (s *Session) NumStreams() int { return s.reg.count() }

func (s *Session) isLocalGoAway() bool {
	s.goAwayMu.Lock()
	defer s.goAwayMu.Unlock()
	return s.localGoAway
}

func (s *Session) setLocalGoAway(v bool) {
	s.goAwayMu.Lock()
	s.localGoAway = v
	s.goAwayMu.Unlock()
}

func (s *Session) setRemoteGoAway(v bool) {
	s.goAwayMu.Lock()
	s.remoteGoAway = v
	s.goAwayMu.Unlock()
}

// RemoteGoAway reports whether the peer has announced it will accept no
// further streams; existing streams still drain normally.
func (s *Session) RemoteGoAway() bool {
	s.goAwayMu.Lock()
	defer s.goAwayMu.Unlock()
	return s.remoteGoAway
}

// allocID returns the next locally-initiated stream id (§4.7): odd ids
// starting at 1 for a dialing Session, even ids starting at 2 otherwise,
// incrementing by 2 so the two sides' id spaces never collide.
func (s *Session) allocID() uint32 {
	s.nextIDMu.Lock()
	id := s.nextID
	s.nextID += 2
	s.nextIDMu.Unlock()
	return id
}

// ResetSessionID reseeds local id allocation to its starting value, for use
// on reconnect (§4.7's reset_session_id).
func (s *Session) ResetSessionID() {
	s.nextIDMu.Lock()
	if s.cfg.Client {
		s.nextID = 1
	} else {
		s.nextID = 2
	}
	s.nextIDMu.Unlock()
}

// OpenStream allocates and registers a new locally-initiated stream. No
// frame is sent yet: per §4.6, SYN rides on the first outbound frame, which
// is emitted the first time the caller writes to (or explicitly opens) the
// returned stream.
func (s *Session) OpenStream() (*Stream, error) {
	if s.IsClosed() {
		return nil, ErrSessionShutdown
	}
	if s.isLocalGoAway() || s.RemoteGoAway() {
		return nil, ErrGoAway
	}
	id := s.allocID()
	st := newStream(s, id, stateInit)
	s.reg.add(st)
	s.snmp.incStreamsOpened()
	return st, nil
}

// AcceptStream blocks until a remotely-initiated stream arrives (its SYN was
// observed) or the session tears down.
func (s *Session) AcceptStream() (*Stream, error) {
	select {
	case st, ok := <-s.acceptCh:
		if !ok {
			return nil, ErrSessionShutdown
		}
		return st, nil
	case <-s.dieCh:
		return nil, ErrSessionShutdown
	}
}

func (s *Session) offerAccept(st *Stream) {
	select {
	case s.acceptCh <- st:
	default:
		s.log.Warnf("tcpmux: accept backlog full, dropping stream %d", st.id)
		s.reg.remove(st.id)
	}
}

// sendFrame writes a header-only frame (WINDOW_UPDATE, PING, GO_AWAY, or a
// zero-length DATA), serialized against every other outbound write so
// frames are never interleaved on the wire (§5).
func (s *Session) sendFrame(t frameType, f flags, sid, length uint32) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	h := encode(t, f, sid, length)
	if _, err := s.conn.Write(h[:]); err != nil {
		return err
	}
	s.snmp.incFramesSent()
	return nil
}

// WriteStream implements mux_write (§4.6): accepts up to len(data) bytes
// originating at the local peer socket for stream st, respecting send_window
// and st's tx_ring.
//
// The spec's reference implementation returns the frame's budget, which can
// exceed len(data) when it also counts bytes drained from a backlog already
// resident in tx_ring; that would violate io.Writer's n <= len(p) contract,
// so this Go port instead returns the number of bytes consumed from data —
// the invariant P3/P4 accounting is unaffected, since every byte counted in
// the return value has been written to the wire or appended to tx_ring.
func (s *Session) WriteStream(st *Stream, data []byte) (int, error) {
	st.mu.Lock()
	switch st.state {
	case stateLocalClose, stateClosed, stateReset:
		st.mu.Unlock()
		return 0, ErrStreamClosed
	}

	if st.sendWindow == 0 {
		n := st.txRing.Append(data)
		st.mu.Unlock()
		return n, nil
	}

	length := uint32(len(data))
	ringLen := uint32(st.txRing.Len())
	budget := st.sendWindow
	if ringLen+length < budget {
		budget = ringLen + length
	}
	f := st.sendFlags()
	st.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	h := encode(typeData, f, st.id, budget)
	if _, err := s.conn.Write(h[:]); err != nil {
		return 0, err
	}
	s.snmp.incFramesSent()

	st.mu.Lock()
	drained := 0
	if st.txRing.Len() > 0 {
		toDrain := st.txRing.Len()
		if toDrain > int(budget) {
			toDrain = int(budget)
		}
		n, err := st.txRing.DrainToTransport(s.conn, toDrain)
		drained = n
		if err != nil {
			st.mu.Unlock()
			return 0, err
		}
	}
	remaining := int(budget) - drained
	written := 0
	if remaining > 0 {
		n, err := s.conn.Write(data[:remaining])
		written = n
		if err != nil {
			st.mu.Unlock()
			return written, err
		}
	}
	appended := st.txRing.Append(data[written:])
	st.sendWindow -= budget
	st.mu.Unlock()

	s.snmp.addBytesSent(drained + written)
	return written + appended, nil
}

// CloseStream implements sending FIN (tcpmux.c's sendClose / §4.3's
// transitions on sent FIN).
func (s *Session) CloseStream(st *Stream) error {
	st.mu.Lock()
	switch st.state {
	case stateLocalClose, stateClosed, stateReset:
		st.mu.Unlock()
		return nil
	case stateInit:
		// Never synced to the peer; nothing to notify on the wire.
		st.state = stateClosed
		st.mu.Unlock()
		s.teardownStream(st, false)
		return nil
	}

	f := st.sendFlags() | flagFIN
	var teardown bool
	if st.state == stateRemoteClose {
		st.state = stateClosed
		teardown = true
	} else {
		st.state = stateLocalClose
	}
	id := st.id
	st.mu.Unlock()

	if err := s.sendFrame(typeWindowUpdate, f, id, 0); err != nil {
		return err
	}
	s.snmp.incWindowUpdatesOut()

	if teardown {
		s.teardownStream(st, false)
	}
	return nil
}

// ResetStream implements sending RST: immediate teardown, no drain.
func (s *Session) ResetStream(st *Stream) error {
	st.mu.Lock()
	if st.state.terminal() {
		st.mu.Unlock()
		return nil
	}
	wasInit := st.state == stateInit
	st.state = stateReset
	id := st.id
	st.mu.Unlock()

	if !wasInit {
		if err := s.sendFrame(typeWindowUpdate, flagRST, id, 0); err != nil {
			s.teardownStream(st, true)
			return err
		}
		s.snmp.incWindowUpdatesOut()
	}
	s.teardownStream(st, true)
	return nil
}

func (s *Session) teardownStream(st *Stream, reset bool) {
	s.reg.remove(st.id) // I1: removed before any further frame on this id is accepted.
	st.markClosed(reset)
	s.snmp.incStreamsClosed()
}

// Ping sends a PING|SYN carrying token; keepalive scheduling is an external
// timer collaborator's job per §5, not the core's.
func (s *Session) Ping(token uint32) error {
	if err := s.sendFrame(typePing, flagSYN, 0, token); err != nil {
		return err
	}
	s.snmp.incPingsSent()
	return nil
}

// GoAway announces that this side will accept no further streams; existing
// streams keep draining.
func (s *Session) GoAway() error {
	s.setLocalGoAway(true)
	return s.sendFrame(typeGoAway, flagZero, 0, GoAwayNormal)
}

// Close tears the session down immediately: every resident stream enters
// RESET and the underlying connection is closed. Prefer GoAway for an
// orderly shutdown that lets in-flight streams drain.
func (s *Session) Close() error {
	s.setLocalGoAway(true)
	s.teardown(true)
	return nil
}

func (s *Session) teardown(reset bool) {
	s.dieOnce.Do(func() {
		close(s.dieCh)
		for _, st := range s.reg.all() {
			s.reg.remove(st.id)
			st.markClosed(reset)
		}
		s.conn.Close()
	})
}

func (s *Session) protocolError(err error) {
	s.log.WithError(err).Error("tcpmux: protocol error, tearing down session")
	s.snmp.incProtocolErrors()
	_ = s.sendFrame(typeGoAway, flagZero, 0, GoAwayProtocolErr)
	s.teardown(true)
}

func (s *Session) internalError(err error) {
	s.log.WithError(err).Error("tcpmux: internal error, tearing down session")
	_ = s.sendFrame(typeGoAway, flagZero, 0, GoAwayInternalErr)
	s.teardown(true)
}

// recvLoop is the sole reader of the connection and the single place
// inbound frames are dispatched, so stream state transitions driven by
// received flags are totally ordered by wire arrival (§5). It is tolerant
// of partial reads across transport boundaries via io.ReadFull (§6).
func (s *Session) recvLoop() {
	var hdrBuf [headerSize]byte
	for {
		if _, err := io.ReadFull(s.br, hdrBuf[:]); err != nil {
			if !s.IsClosed() {
				s.log.WithError(err).Debug("tcpmux: connection closed")
			}
			s.teardown(true)
			return
		}

		h, err := decodeHeader(hdrBuf[:])
		if err != nil {
			s.protocolError(err)
			return
		}
		s.snmp.incFramesRcvd()

		switch h.frameType() {
		case typeData:
			if err := s.handleData(h); err != nil {
				if _, ok := err.(*InternalError); ok {
					s.internalError(err)
				} else {
					s.protocolError(err)
				}
				return
			}
		case typeWindowUpdate:
			if err := s.handleWindowUpdate(h); err != nil {
				s.protocolError(err)
				return
			}
		case typePing:
			s.handlePing(h)
		case typeGoAway:
			s.handleGoAway(h)
		}
	}
}

// handleData is the router's DATA branch (§4.5).
func (s *Session) handleData(h header) error {
	sid := h.streamID()
	length := h.length()
	f := h.flags()

	if f&flagSYN != 0 && s.isLocalGoAway() {
		if length > 0 {
			if _, err := io.CopyN(io.Discard, s.br, int64(length)); err != nil {
				return err
			}
		}
		return s.sendFrame(typeWindowUpdate, flagRST, sid, 0)
	}

	// §9's resolved open question: reject up front, before touching the
	// registry or any window accounting.
	if length > s.cfg.MaxStreamWindowSize {
		return &ProtocolError{Reason: fmt.Sprintf("DATA length %d exceeds max stream window", length)}
	}

	st, ok := s.reg.get(sid)
	if !ok {
		if f&flagSYN == 0 {
			return &ProtocolError{Reason: fmt.Sprintf("DATA for unknown stream %d", sid)}
		}
		st = newStream(s, sid, stateInit)
		s.reg.add(st)
		s.offerAccept(st)
	}

	st.mu.Lock()
	teardown, err := st.applyReceivedFlags(f)
	if err != nil {
		st.mu.Unlock()
		return err
	}
	if length > st.recvWindow {
		st.mu.Unlock()
		return &ProtocolError{Reason: fmt.Sprintf("receive window exceeded (stream %d, remain %d, recv %d)", sid, st.recvWindow, length)}
	}
	st.recvWindow -= length
	peer := st.peer
	ring := st.rxRing
	st.mu.Unlock()

	if length > 0 {
		n, err := ring.FillFromTransport(s.br, int(length))
		s.snmp.addBytesRcvd(n)
		if err != nil {
			return err
		}
		if n < int(length) {
			return &InternalError{Reason: "short read filling rx ring"}
		}
		if ring.Len() > 0 {
			// Best-effort immediate delivery; anything the peer socket
			// can't take right now stays staged in the ring (I2).
			ring.DrainToTransport(peer, ring.Len())
		}
	}

	if err := s.sendWindowUpdateIfDue(st); err != nil {
		return err
	}

	if teardown {
		s.teardownStream(st, false)
	}
	return nil
}

// sendWindowUpdateIfDue implements the receive-side emission policy of §4.4
// (tcpmux.c's send_window_update), using the bytes still staged in rx_ring —
// rather than the legacy helper's per-call payload length — as "current
// buffered", which is what invariant I2 actually describes.
func (s *Session) sendWindowUpdateIfDue(st *Stream) error {
	st.mu.Lock()
	max := s.cfg.MaxStreamWindowSize
	buffered := uint32(st.rxRing.Len())
	delta := (max - buffered) - st.recvWindow
	f := st.sendFlags()
	if delta < max/2 && f == 0 {
		st.mu.Unlock()
		return nil
	}
	st.recvWindow += delta
	id := st.id
	st.mu.Unlock()

	if err := s.sendFrame(typeWindowUpdate, f, id, delta); err != nil {
		return err
	}
	s.snmp.incWindowUpdatesOut()
	return nil
}

// handleWindowUpdate is the router's WINDOW_UPDATE branch (§4.5).
func (s *Session) handleWindowUpdate(h header) error {
	sid := h.streamID()
	f := h.flags()
	length := h.length()

	st, ok := s.reg.get(sid)
	if !ok {
		return &ProtocolError{Reason: fmt.Sprintf("WINDOW_UPDATE for unknown stream %d", sid)}
	}

	st.mu.Lock()
	teardown, err := st.applyReceivedFlags(f)
	if err != nil {
		st.mu.Unlock()
		return err
	}
	if teardown {
		st.mu.Unlock()
		s.teardownStream(st, f&flagRST != 0)
		return nil
	}

	wasZero := st.sendWindow == 0
	const maxU32 = ^uint32(0)
	if st.sendWindow > maxU32-length {
		st.sendWindow = maxU32 // saturating (§4.4)
	} else {
		st.sendWindow += length
	}
	peer := st.peer
	st.mu.Unlock()

	s.snmp.incWindowUpdatesIn()
	if wasZero && length > 0 {
		peer.EnableRead(true)
	}
	return nil
}

// handlePing is the router's PING branch (§4.5).
func (s *Session) handlePing(h header) {
	f := h.flags()
	token := h.length()
	s.snmp.incPingsRcvd()
	if f&flagSYN != 0 {
		if err := s.sendFrame(typePing, flagACK, 0, token); err != nil {
			s.log.WithError(err).Debug("tcpmux: failed to echo ping")
			return
		}
		s.snmp.incPingsSent()
	}
	// ACK: RTT bookkeeping is an external collaborator's concern (§1).
}

// handleGoAway is the router's GO_AWAY branch (§4.5).
func (s *Session) handleGoAway(h header) {
	s.setRemoteGoAway(true)
	switch h.length() {
	case GoAwayNormal:
		s.log.Info("tcpmux: peer sent GO_AWAY (normal)")
	case GoAwayProtocolErr:
		s.log.Error("tcpmux: peer sent GO_AWAY (protocol error)")
	case GoAwayInternalErr:
		s.log.Error("tcpmux: peer sent GO_AWAY (internal error)")
	default:
		s.log.Warnf("tcpmux: peer sent GO_AWAY (unexpected reason %d)", h.length())
	}
}
