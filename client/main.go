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
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	myApp := cli.NewApp()
	myApp.Name = "xfrpc"
	myApp.Usage = "reverse tunnel client"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "path to a JSON config file; overrides every other flag it sets",
		},
		cli.StringFlag{
			Name:  "serveraddr,r",
			Value: "vps:7000",
			Usage: `tunnel server address, eg: "IP:7000"`,
		},
		cli.StringFlag{
			Name:   "key",
			Value:  "it's a secrect",
			Usage:  "pre-shared secret between client and server",
			EnvVar: "XFRPC_KEY",
		},
		cli.StringFlag{
			Name:  "crypt",
			Value: "aes-gcm",
			Usage: "aes-gcm, none",
		},
		cli.BoolFlag{
			Name:  "nocomp",
			Usage: "disable compression",
		},
		cli.StringFlag{
			Name:  "user",
			Value: "",
			Usage: "identity presented at login",
		},
		cli.IntFlag{
			Name:  "heartbeat",
			Value: 10,
			Usage: "seconds between control heartbeats",
		},
		cli.IntFlag{
			Name:  "heartbeattimeout",
			Value: 30,
			Usage: "seconds without a heartbeat reply before reconnecting",
		},
		cli.IntFlag{
			Name:  "maxstreamwindow",
			Value: 0,
			Usage: "per-stream flow control window in bytes, 0 for the mux default",
		},
		cli.IntFlag{
			Name:  "rbufsize",
			Value: 0,
			Usage: "per-stream ring buffer capacity in bytes, 0 for the mux default",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path, empty for stderr",
		},
		cli.StringFlag{
			Name:  "loglevel",
			Value: "info",
			Usage: "panic, fatal, error, warn, info, debug, trace",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "only report errors",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "enable pprof debugging server on :6060",
		},
	}
	myApp.Action = run
	myApp.Run(os.Args)
}

func run(c *cli.Context) error {
	cfg := DefaultConfig()
	cfg.ServerAddr = c.String("serveraddr")
	cfg.Key = c.String("key")
	cfg.Crypt = c.String("crypt")
	cfg.NoComp = c.Bool("nocomp")
	cfg.User = c.String("user")
	cfg.Heartbeat = c.Int("heartbeat")
	cfg.HeartbeatTTL = c.Int("heartbeattimeout")
	cfg.MaxStreamWindow = c.Int("maxstreamwindow")
	cfg.RBufSize = c.Int("rbufsize")
	cfg.Log = c.String("log")
	cfg.LogLevel = c.String("loglevel")
	cfg.Quiet = c.Bool("quiet")
	cfg.Pprof = c.Bool("pprof")

	if path := c.String("config"); path != "" {
		if err := parseJSONConfig(&cfg, path); err != nil {
			return err
		}
	}

	log := logrus.New()
	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.Quiet {
		log.SetLevel(logrus.ErrorLevel)
	}
	entry := logrus.NewEntry(log).WithField("addr", cfg.ServerAddr)

	if cfg.Pprof {
		go http.ListenAndServe(":6060", nil)
	}

	NewClient(&cfg, entry).Run()
	return nil
}
