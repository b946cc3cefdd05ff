package main

import (
	"net"

	"github.com/hqvv/xfrpc/tunnel"
	"github.com/pkg/errors"
)

// dial opens the single underlying TCP connection the mux session will run
// over, wrapping it with the transport-level concerns tcpmux leaves external
// (encryption, then compression, innermost-first so compression never sees
// ciphertext).
func dial(config *Config) (net.Conn, error) {
	conn, err := net.Dial("tcp", config.ServerAddr)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}

	if config.Crypt != "none" {
		conn, err = tunnel.NewCryptConn(conn, config.Key)
		if err != nil {
			return nil, errors.Wrap(err, "NewCryptConn")
		}
	}

	if !config.NoComp {
		conn = tunnel.NewCompStream(conn)
	}

	return conn, nil
}
