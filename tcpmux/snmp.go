package tcpmux

import (
	"strconv"
	"sync/atomic"
)

// Snmp holds running counters for a Session, grounded on std/snmp.go's
// CSV-on-interval logging shape (itself mirroring kcp-go's DefaultSnmp) but
// counting tcpmux traffic instead of KCP segments. All fields are updated
// with atomic ops so a concurrent logger goroutine can snapshot safely.
type Snmp struct {
	BytesSent        uint64
	BytesRcvd        uint64
	FramesSent       uint64
	FramesRcvd       uint64
	WindowUpdatesOut uint64
	WindowUpdatesIn  uint64
	StreamsOpened    uint64
	StreamsClosed    uint64
	ProtocolErrors   uint64
	PingsSent        uint64
	PingsRcvd        uint64
}

func (s *Snmp) addBytesSent(n int)    { atomic.AddUint64(&s.BytesSent, uint64(n)) }
func (s *Snmp) addBytesRcvd(n int)    { atomic.AddUint64(&s.BytesRcvd, uint64(n)) }
func (s *Snmp) incFramesSent()        { atomic.AddUint64(&s.FramesSent, 1) }
func (s *Snmp) incFramesRcvd()        { atomic.AddUint64(&s.FramesRcvd, 1) }
func (s *Snmp) incWindowUpdatesOut()  { atomic.AddUint64(&s.WindowUpdatesOut, 1) }
func (s *Snmp) incWindowUpdatesIn()   { atomic.AddUint64(&s.WindowUpdatesIn, 1) }
func (s *Snmp) incStreamsOpened()     { atomic.AddUint64(&s.StreamsOpened, 1) }
func (s *Snmp) incStreamsClosed()     { atomic.AddUint64(&s.StreamsClosed, 1) }
func (s *Snmp) incProtocolErrors()    { atomic.AddUint64(&s.ProtocolErrors, 1) }
func (s *Snmp) incPingsSent()         { atomic.AddUint64(&s.PingsSent, 1) }
func (s *Snmp) incPingsRcvd()         { atomic.AddUint64(&s.PingsRcvd, 1) }

// Header names the columns ToSlice emits, in order — used to write a CSV
// header row exactly once, as std/snmp.go (SnmpLogger) does for kcp.DefaultSnmp.
func (s *Snmp) Header() []string {
	return []string{
		"BytesSent", "BytesRcvd", "FramesSent", "FramesRcvd",
		"WindowUpdatesOut", "WindowUpdatesIn", "StreamsOpened", "StreamsClosed",
		"ProtocolErrors", "PingsSent", "PingsRcvd",
	}
}

// ToSlice snapshots every counter as a string, matching Header's column order.
func (s *Snmp) ToSlice() []string {
	u64 := func(v uint64) string {
		return strconv.FormatUint(v, 10)
	}
	return []string{
		u64(atomic.LoadUint64(&s.BytesSent)), u64(atomic.LoadUint64(&s.BytesRcvd)),
		u64(atomic.LoadUint64(&s.FramesSent)), u64(atomic.LoadUint64(&s.FramesRcvd)),
		u64(atomic.LoadUint64(&s.WindowUpdatesOut)), u64(atomic.LoadUint64(&s.WindowUpdatesIn)),
		u64(atomic.LoadUint64(&s.StreamsOpened)), u64(atomic.LoadUint64(&s.StreamsClosed)),
		u64(atomic.LoadUint64(&s.ProtocolErrors)), u64(atomic.LoadUint64(&s.PingsSent)),
		u64(atomic.LoadUint64(&s.PingsRcvd)),
	}
}
