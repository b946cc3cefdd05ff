package main

import (
	"encoding/csv"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hqvv/xfrpc/tcpmux"
	"github.com/hqvv/xfrpc/tunnel"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Client owns the reconnect loop: each call to runOnce dials a fresh
// connection, builds a session over it, and runs until that session dies,
// at which point Run waits a backoff and tries again.
type Client struct {
	cfg *Config
	log *logrus.Entry
}

func NewClient(cfg *Config, log *logrus.Entry) *Client {
	return &Client{cfg: cfg, log: log}
}

// Run never returns except by panic; it reconnects indefinitely.
func (c *Client) Run() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		err := c.runOnce()
		if err != nil {
			c.log.WithError(err).Warn("session ended, reconnecting")
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		if err == nil {
			backoff = time.Second
		}
	}
}

func (c *Client) runOnce() error {
	conn, err := dial(c.cfg)
	if err != nil {
		return errors.Wrap(err, "dial")
	}

	muxCfg := tcpmux.DefaultConfig()
	muxCfg.Client = true
	muxCfg.Logger = c.log
	if c.cfg.MaxStreamWindow > 0 {
		muxCfg.MaxStreamWindowSize = uint32(c.cfg.MaxStreamWindow)
	}
	if c.cfg.RBufSize > 0 {
		muxCfg.RBufSize = c.cfg.RBufSize
	}

	sess := tcpmux.NewSession(conn, muxCfg)
	defer sess.Close()

	ctrl, err := sess.OpenStream()
	if err != nil {
		return errors.Wrap(err, "opening control stream")
	}
	if ctrl.ID() != tcpmux.ControlStreamID {
		return errors.Errorf("control: expected stream id %d, got %d", tcpmux.ControlStreamID, ctrl.ID())
	}
	if err := ctrl.Open(); err != nil {
		return errors.Wrap(err, "opening control handshake")
	}

	done := make(chan struct{})
	controlErr := make(chan error, 1)
	go func() {
		controlErr <- runControl(ctrl, c.cfg, c.log, done)
	}()

	go c.acceptLoop(sess, done)
	go c.keepaliveLoop(sess, done)
	if c.cfg.SnmpLog != "" {
		go c.snmpLoop(sess, conn, done)
	}

	err = <-controlErr
	select {
	case <-done: // acceptLoop already closed it when the session died
	default:
		close(done)
	}
	if err == nil {
		sess.GoAway()
	}
	return err
}

// keepaliveLoop drives the mux core's own PING on a fixed interval — the
// "external timer collaborator" its doc comment defers scheduling to — as a
// transport-level liveness check independent of the JSON heartbeat running
// over the control stream.
func (c *Client) keepaliveLoop(sess *tcpmux.Session, done <-chan struct{}) {
	interval := time.Duration(c.cfg.Heartbeat) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var token uint32
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			token++
			if err := sess.Ping(token); err != nil {
				c.log.WithError(err).Debug("keepalive: ping failed")
				return
			}
		}
	}
}

// snmpLoop appends one CSV row of session counters to SnmpLog every
// SnmpPeriod seconds, grounded on std/snmp.go's periodic CSV writer. When
// conn also tracks its own plaintext byte counts (e.g. the tunnel package's
// compression wrapper), those are folded in as two extra columns.
func (c *Client) snmpLoop(sess *tcpmux.Session, conn net.Conn, done <-chan struct{}) {
	f, err := os.OpenFile(c.cfg.SnmpLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		c.log.WithError(err).Warn("snmp: opening log file")
		return
	}
	defer f.Close()

	statsConn, hasStats := conn.(tunnel.StatsConn)

	w := csv.NewWriter(f)
	header := sess.Snmp().Header()
	if hasStats {
		header = append(header, "TunnelBytesWritten", "TunnelBytesRead")
	}
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		w.Write(header)
		w.Flush()
	}

	period := time.Duration(c.cfg.SnmpPeriod) * time.Second
	if period <= 0 {
		period = 60 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			row := sess.Snmp().ToSlice()
			if hasStats {
				written, read := statsConn.Stats()
				row = append(row, strconv.FormatUint(written, 10), strconv.FormatUint(read, 10))
			}
			w.Write(row)
			w.Flush()
		}
	}
}

// acceptLoop dispatches every stream the server opens (one per inbound
// public connection) to a proxy handler, until the session dies.
func (c *Client) acceptLoop(sess *tcpmux.Session, done chan struct{}) {
	for {
		st, err := sess.AcceptStream()
		if err != nil {
			select {
			case <-done:
			default:
				close(done)
			}
			return
		}
		go serveProxyStream(st, c.cfg, c.log)
	}
}
