/*
 * Copyright 2026 The pspproxy Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command pspproxy-cli is a thin wrapper over package proxy, offering
// the same three verbs as cm-tool.c did against libpspproxy: connect
// (query session info and exit), load (upload a code module image) and
// exec (load, run, and print a module's return value and log output),
// plus read/write for ad hoc memory access.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/amdpsp/pspproxy/address"
	"github.com/amdpsp/pspproxy/iosink"
	"github.com/amdpsp/pspproxy/metrics"
	"github.com/amdpsp/pspproxy/proxy"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	log := logrus.New()

	var metricsAddr string
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9400)")
	uri := fs.String("uri", "", `transport URI: "tcp://host:port", "serial:/dev/ttyUSB0:115200:8:N:1", or "em100tcp://host:port"`)
	ccd := fs.Uint("ccd", 0, "CCD index to target")

	cmd := os.Args[1]
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}
	if *uri == "" {
		fmt.Fprintln(os.Stderr, "pspproxy-cli: -uri is required")
		os.Exit(2)
	}

	sess := &metrics.Session{}
	opts := []proxy.Option{proxy.WithLogger(log), proxy.WithMetrics(sess)}

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(sess))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.WithField("addr", metricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	ctx, err := proxy.Open(*uri, opts...)
	if err != nil {
		log.WithError(err).Fatal("open failed")
	}
	defer ctx.Close()

	switch cmd {
	case "connect":
		runConnect(ctx, log)
	case "load":
		runLoad(ctx, log, uint16(*ccd), fs.Args())
	case "exec":
		runExec(ctx, log, uint16(*ccd), fs.Args())
	case "read":
		runRead(ctx, log, uint16(*ccd), fs.Args())
	case "write":
		runWrite(ctx, log, uint16(*ccd), fs.Args())
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: pspproxy-cli <connect|load|exec|read|write> -uri <uri> [-ccd N] [args...]
  connect                    query and print session info
  load <image-file>          upload a code module, print its scratch address
  exec <image-file>          load a code module and run it to completion from its load address
  read <addr-hex> <length>   read bytes from PSP memory
  write <addr-hex> <hex>     write bytes to PSP memory`)
}

func runConnect(ctx *proxy.Context, log *logrus.Logger) {
	info := ctx.Info()
	fmt.Printf("max_pdu_size=%d scratch_base=0x%x scratch_size=%d ccds=%d\n",
		info.MaxPduSize, info.ScratchBase, info.ScratchSize, info.Ccds)
}

func runLoad(ctx *proxy.Context, log *logrus.Logger, ccd uint16, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	image, err := os.ReadFile(args[0])
	if err != nil {
		log.WithError(err).Fatal("read image")
	}
	base, err := ctx.LoadModule(ccd, image)
	if err != nil {
		log.WithError(err).Fatal("load module")
	}
	fmt.Printf("loaded at 0x%x\n", uint32(base))
}

func runExec(ctx *proxy.Context, log *logrus.Logger, ccd uint16, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	image, err := os.ReadFile(args[0])
	if err != nil {
		log.WithError(err).Fatal("read image")
	}
	base, err := ctx.LoadModule(ccd, image)
	if err != nil {
		log.WithError(err).Fatal("load module")
	}

	sink := iosink.NewBuffered()
	retval, err := ctx.ExecModule(ccd, base, [3]uint32{}, sink)
	if err != nil {
		log.WithError(err).Fatal("exec module")
	}
	for _, line := range sink.Lines {
		fmt.Println(line)
	}
	fmt.Printf("return value: 0x%x\n", retval)
}

func runRead(ctx *proxy.Context, log *logrus.Logger, ccd uint16, args []string) {
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	addr := parseAddr(args[0])
	var length uint32
	if _, err := fmt.Sscanf(args[1], "%d", &length); err != nil {
		log.WithError(err).Fatal("parse length")
	}
	data, err := ctx.Read(ccd, addr, length)
	if err != nil {
		log.WithError(err).Fatal("read")
	}
	fmt.Println(hex.EncodeToString(data))
}

func runWrite(ctx *proxy.Context, log *logrus.Logger, ccd uint16, args []string) {
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	addr := parseAddr(args[0])
	data, err := hex.DecodeString(args[1])
	if err != nil {
		log.WithError(err).Fatal("parse data")
	}
	if err := ctx.Write(ccd, addr, data); err != nil {
		log.WithError(err).Fatal("write")
	}
}

func parseAddr(s string) address.Addr {
	var a uint32
	fmt.Sscanf(s, "0x%x", &a)
	return address.NewPspMem(address.PspAddr(a))
}
