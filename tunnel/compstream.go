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

// Package tunnel wraps the plain net.Conn dialed to the server with the
// transport-level concerns tcpmux explicitly leaves external: compression
// and encryption (spec §1's "it does not encrypt or authenticate frames,
// that is the transport's job").
package tunnel

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// StatsConn is satisfied by transport wrappers that track the plaintext
// byte counts crossing them, so a caller holding one can fold compression
// effectiveness into its own session counters (see client/session.go's SNMP
// logger) without this package needing to know what that caller's counters
// look like.
type StatsConn interface {
	net.Conn
	Stats() (written, read uint64)
}

// compStream is a net.Conn wrapper between the mux session and the
// underlying connection: it snappy-compresses what the mux frame codec
// writes and decompresses what the codec reads. It counts plaintext bytes
// per Write/Read call; the mux core writes a frame's header and its payload
// as separate Writes.
type compStream struct {
	conn net.Conn
	w    *snappy.Writer
	r    *snappy.Reader

	bytesWritten uint64 // atomic: plaintext bytes accepted by Write
	bytesRead    uint64 // atomic: decompressed bytes returned by Read
}

func (c *compStream) Read(p []byte) (n int, err error) {
	n, err = c.r.Read(p)
	atomic.AddUint64(&c.bytesRead, uint64(n))
	return n, err
}

func (c *compStream) Write(p []byte) (n int, err error) {
	if _, err := c.w.Write(p); err != nil {
		return 0, errors.WithStack(err)
	}
	if err := c.w.Flush(); err != nil {
		return 0, errors.WithStack(err)
	}
	atomic.AddUint64(&c.bytesWritten, uint64(len(p)))
	return len(p), nil
}

// Stats reports the running plaintext byte counts, satisfying StatsConn.
func (c *compStream) Stats() (written, read uint64) {
	return atomic.LoadUint64(&c.bytesWritten), atomic.LoadUint64(&c.bytesRead)
}

func (c *compStream) Close() error                       { return c.conn.Close() }
func (c *compStream) LocalAddr() net.Addr                 { return c.conn.LocalAddr() }
func (c *compStream) RemoteAddr() net.Addr                { return c.conn.RemoteAddr() }
func (c *compStream) SetDeadline(t time.Time) error       { return c.conn.SetDeadline(t) }
func (c *compStream) SetReadDeadline(t time.Time) error   { return c.conn.SetReadDeadline(t) }
func (c *compStream) SetWriteDeadline(t time.Time) error  { return c.conn.SetWriteDeadline(t) }

// NewCompStream wraps conn so every byte the mux session writes/reads passes
// through snappy first. Flushing on every Write makes each Write (a frame
// header, or a run of payload bytes) a complete compressed block.
func NewCompStream(conn net.Conn) net.Conn {
	return &compStream{
		conn: conn,
		w:    snappy.NewBufferedWriter(conn),
		r:    snappy.NewReader(conn),
	}
}
