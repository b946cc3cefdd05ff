package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hqvv/xfrpc/tcpmux"
	"github.com/sirupsen/logrus"
)

// The outer control-plane protocol (login, heartbeat, proxy registration)
// that runs on stream id 1 is explicitly out of scope for the mux core; what
// follows is this client's own minimal wire format for it, not a faithful
// reimplementation of any particular server's control protocol.

type loginMessage struct {
	User    string        `json:"user"`
	Proxies []ProxyConfig `json:"proxies"`
}

type loginReply struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type heartbeatMessage struct {
	Type string `json:"type"` // "ping" or "pong"
}

// login sends this client's identity and proxy registrations on the control
// stream and waits for the server's acceptance.
func login(ctrl *tcpmux.Stream, cfg *Config) error {
	if err := json.NewEncoder(ctrl).Encode(loginMessage{User: cfg.User, Proxies: cfg.Proxies}); err != nil {
		return fmt.Errorf("control: sending login: %w", err)
	}
	var reply loginReply
	if err := json.NewDecoder(ctrl).Decode(&reply); err != nil {
		return fmt.Errorf("control: reading login reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("control: login rejected: %s", reply.Message)
	}
	return nil
}

// runControl logs in, then heartbeats over ctrl until done closes, the
// heartbeat ttl lapses, or the control stream itself errors.
func runControl(ctrl *tcpmux.Stream, cfg *Config, log *logrus.Entry, done <-chan struct{}) error {
	if err := login(ctrl, cfg); err != nil {
		return err
	}
	log.Info("control: logged in")

	pongCh := make(chan struct{}, 1)
	decodeErr := make(chan error, 1)
	go func() {
		dec := json.NewDecoder(ctrl)
		for {
			var msg heartbeatMessage
			if err := dec.Decode(&msg); err != nil {
				decodeErr <- err
				return
			}
			if msg.Type == "pong" {
				select {
				case pongCh <- struct{}{}:
				default:
				}
			}
		}
	}()

	interval := time.Duration(cfg.Heartbeat) * time.Second
	ttl := time.Duration(cfg.HeartbeatTTL) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	enc := json.NewEncoder(ctrl)

	for {
		select {
		case <-done:
			return nil
		case err := <-decodeErr:
			return fmt.Errorf("control: connection lost: %w", err)
		case <-ticker.C:
			if err := enc.Encode(heartbeatMessage{Type: "ping"}); err != nil {
				return fmt.Errorf("control: sending heartbeat: %w", err)
			}
			select {
			case <-pongCh:
			case <-time.After(ttl):
				return fmt.Errorf("control: heartbeat timeout after %s", ttl)
			case <-done:
				return nil
			}
		}
	}
}
