package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/hqvv/xfrpc/tcpmux"
	"github.com/sirupsen/logrus"
)

// streamHeader is the first thing the server writes on every stream it opens
// for an inbound public connection: which configured proxy it is for. This,
// like the control protocol, is this client's own convention — the mux core
// has no notion of proxies or routing.
type streamHeader struct {
	Proxy string `json:"proxy"`
}

func findProxy(cfg *Config, name string) (*ProxyConfig, bool) {
	for i := range cfg.Proxies {
		if cfg.Proxies[i].Name == name {
			return &cfg.Proxies[i], true
		}
	}
	return nil, false
}

// serveProxyStream reads the routing header off a server-opened stream, dials
// the matching local service, and pipes the two together until either side
// closes.
func serveProxyStream(st *tcpmux.Stream, cfg *Config, log *logrus.Entry) {
	dec := json.NewDecoder(st)
	var hdr streamHeader
	if err := dec.Decode(&hdr); err != nil {
		log.WithError(err).Warn("proxy: reading stream header")
		st.Reset()
		return
	}

	proxy, ok := findProxy(cfg, hdr.Proxy)
	if !ok {
		log.WithField("proxy", hdr.Proxy).Warn("proxy: no such configured proxy")
		st.Reset()
		return
	}

	local, err := net.Dial("tcp", fmt.Sprintf("%s:%d", proxy.LocalIP, proxy.LocalPort))
	if err != nil {
		log.WithError(err).WithField("proxy", proxy.Name).Warn("proxy: dialing local service")
		st.Reset()
		return
	}
	defer local.Close()

	// dec may have buffered ahead past the header into the proxied payload
	// that follows it on the same stream; replay that before piping raw.
	var rest io.Reader = st
	if buffered := dec.Buffered(); buffered != nil {
		rest = io.MultiReader(buffered, st)
	}

	pipe(local, readWriteCloser{rest, st, st})
}

// readWriteCloser adapts a read side that may differ from the stream itself
// (because of the buffered-header replay above) back into one value pipe can
// bridge.
type readWriteCloser struct {
	io.Reader
	io.Writer
	io.Closer
}
