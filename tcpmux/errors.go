package tcpmux

import "errors"

// ProtocolError is returned for malformed headers, unknown type/flags,
// receive-window overruns, or an unexpected state transition. The session
// reacts to it by emitting GO_AWAY(PROTO_ERR) and tearing the connection
// down; every stream enters RESET.
//
// This replaces a legacy behavior (tcpmux.c's parse_tcp_mux_proto, on a DATA
// frame referencing an unknown stream id) that aborted the process outright.
// Peer input is never a reason to abort; it is always surfaced as an error.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "tcpmux: protocol error: " + e.Reason }

// InternalError covers ring-buffer invariant violations and other conditions
// that are bugs in this process rather than peer misbehavior. Handling is the
// same as ProtocolError except the GO_AWAY reason code is INTERNAL_ERR.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string { return "tcpmux: internal error: " + e.Reason }

var (
	// ErrStreamClosed is returned (and the payload silently discarded) when
	// writing to a stream that has already sent FIN or is in a terminal state.
	ErrStreamClosed = errors.New("tcpmux: stream closed")

	// ErrConnectionReset means the peer sent RST for this stream.
	ErrConnectionReset = errors.New("tcpmux: connection reset by peer")

	// ErrSessionShutdown is returned by calls made after the session has
	// torn down, whether locally or peer-initiated.
	ErrSessionShutdown = errors.New("tcpmux: session shut down")

	// ErrGoAway is returned by OpenStream once either side has sent
	// GO_AWAY; existing streams keep draining.
	ErrGoAway = errors.New("tcpmux: session received GO_AWAY, no new streams")
)
