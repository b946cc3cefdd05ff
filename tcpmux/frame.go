// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package tcpmux implements a yamux-compatible stream multiplexer: a single
// 12-byte framing protocol that carries many logical byte-streams over one
// TCP connection, with per-stream credit-based flow control.
package tcpmux

import (
	"encoding/binary"
	"fmt"
)

// frameType is the wire type of a frame.
type frameType uint8

const (
	typeData frameType = iota
	typeWindowUpdate
	typePing
	typeGoAway
)

func (t frameType) String() string {
	switch t {
	case typeData:
		return "data"
	case typeWindowUpdate:
		return "window update"
	case typePing:
		return "ping"
	case typeGoAway:
		return "go away"
	default:
		return "unknown type"
	}
}

// flags is a bitmask carried in every frame header.
type flags uint16

const (
	flagZero flags = 0
	flagSYN  flags = 1 << 0
	flagACK  flags = 1 << 1
	flagFIN  flags = 1 << 2
	flagRST  flags = 1 << 3

	knownFlags = flagSYN | flagACK | flagFIN | flagRST
)

func (f flags) String() string {
	if f == flagZero {
		return "zero"
	}
	s := ""
	for _, pair := range []struct {
		bit  flags
		name string
	}{{flagSYN, "syn"}, {flagACK, "ack"}, {flagFIN, "fin"}, {flagRST, "rst"}} {
		if f&pair.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += pair.name
		}
	}
	return s
}

// GO_AWAY reason codes, carried in the length field of a GO_AWAY frame.
const (
	GoAwayNormal      uint32 = 0
	GoAwayProtocolErr uint32 = 1
	GoAwayInternalErr uint32 = 2
)

const (
	protoVersion uint8 = 0
	headerSize         = 12
)

// ControlStreamID is the id the client side allocates first (§4.7: locally
// initiated ids start at 1). This package assigns it no special treatment;
// higher layers use it by convention to carry the control protocol (login,
// heartbeat, proxy registration).
const ControlStreamID uint32 = 1

// header is the 12-byte, big-endian frame header described in the wire
// format: version(1) type(1) flags(2) stream_id(4) length(4).
type header [headerSize]byte

func encode(t frameType, f flags, streamID, length uint32) header {
	var h header
	h[0] = protoVersion
	h[1] = byte(t)
	binary.BigEndian.PutUint16(h[2:4], uint16(f))
	binary.BigEndian.PutUint32(h[4:8], streamID)
	binary.BigEndian.PutUint32(h[8:12], length)
	return h
}

func (h header) version() uint8    { return h[0] }
func (h header) frameType() frameType { return frameType(h[1]) }
func (h header) flags() flags      { return flags(binary.BigEndian.Uint16(h[2:4])) }
func (h header) streamID() uint32  { return binary.BigEndian.Uint32(h[4:8]) }
func (h header) length() uint32    { return binary.BigEndian.Uint32(h[8:12]) }

func (h header) String() string {
	return fmt.Sprintf("tcpmux vsn:%d type:%v flags:%v sid:%d len:%d",
		h.version(), h.frameType(), h.flags(), h.streamID(), h.length())
}

// decodeHeader validates the static, registry-independent parts of a header
// (I5): version, known type, known flag combination. DATA frames additionally
// require the stream id to resolve against the registry unless they carry
// SYN, which the caller checks once it has registry access; the control
// stream id is not exempt from that check.
func decodeHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, &ProtocolError{Reason: "short header"}
	}
	var h header
	copy(h[:], b[:headerSize])

	if h.version() != protoVersion {
		return header{}, &ProtocolError{Reason: fmt.Sprintf("unsupported version %d", h.version())}
	}
	if h.frameType() > typeGoAway {
		return header{}, &ProtocolError{Reason: fmt.Sprintf("unknown frame type %d", h[1])}
	}
	if h.flags()&^knownFlags != 0 {
		return header{}, &ProtocolError{Reason: fmt.Sprintf("unknown flags %#x", h.flags())}
	}
	return h, nil
}
