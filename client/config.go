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

package main

import (
	"encoding/json"
	"os"
)

// ProxyConfig describes one local service the server should expose on the
// tunnel's behalf: the server listens on RemotePort and, for every public
// connection it accepts there, opens a stream back through the mux session
// that this client proxies to LocalIP:LocalPort.
type ProxyConfig struct {
	Name       string `json:"name"`
	LocalIP    string `json:"local_ip"`
	LocalPort  int    `json:"local_port"`
	RemotePort int    `json:"remote_port"`
}

// Config is the client's full runtime configuration.
type Config struct {
	ServerAddr string `json:"server_addr"`
	Key        string `json:"key"`
	Crypt      string `json:"crypt"` // "aes-gcm" or "none"
	NoComp     bool   `json:"nocomp"`

	User         string `json:"user"`
	Heartbeat    int    `json:"heartbeat_interval"` // seconds between control heartbeats
	HeartbeatTTL int    `json:"heartbeat_timeout"`  // seconds without a reply before reconnecting

	MaxStreamWindow int `json:"max_stream_window"` // bytes, 0 selects tcpmux.DefaultConfig's
	RBufSize        int `json:"rbuf_size"`

	Log        string `json:"log"`
	LogLevel   string `json:"log_level"` // panic, fatal, error, warn, info, debug, trace
	SnmpLog    string `json:"snmplog"`
	SnmpPeriod int     `json:"snmpperiod"`
	Quiet      bool   `json:"quiet"`
	Pprof      bool   `json:"pprof"`

	Proxies []ProxyConfig `json:"proxies"`
}

// DefaultConfig returns the client's baseline Config, with no proxies. Its
// values match the CLI flag defaults except Key, which is empty here while
// the key flag has a non-empty default; SnmpLog and SnmpPeriod have no flag.
func DefaultConfig() Config {
	return Config{
		ServerAddr:      "vps:7000",
		Crypt:           "aes-gcm",
		Heartbeat:       10,
		HeartbeatTTL:    30,
		MaxStreamWindow: 0,
		RBufSize:        0,
		LogLevel:        "info",
		SnmpPeriod:      60,
	}
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
