/*
 * Copyright 2024 CloudWeGo Authors
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

// Package tcpprov is the stream-socket Provider: a plain TCP connection to
// the stub's control port, with TCP_NODELAY set so PDU framing latency
// isn't held hostage by the kernel's Nagle buffering.
//
// This transport deliberately does not use bufiox.DefaultReader (used
// elsewhere in this module, e.g. em100prov's flash control connection):
// bufiox's reader latches its first I/O error permanently (Release
// explicitly does not clear it, by design, for callers where any I/O
// error is fatal), which is wrong here since Poll's read-deadline
// timeouts are routine and must not poison subsequent reads.
package tcpprov

import (
	"bufio"
	"net"
	"time"

	"github.com/amdpsp/pspproxy/connstate"
	"github.com/amdpsp/pspproxy/errs"
)

// Provider is a TCP-backed transport. Reads go through a buffered reader
// so Poll can block for one byte (using the connection's read deadline
// for the timeout) without consuming it from Read's point of view, and
// Peek can then report how much is already buffered without touching the
// socket again. stater tracks remote-close via epoll/kqueue readiness
// (connstate.ListenConnState) so Poll can fail fast on a closed socket
// instead of waiting out a full timeout to discover it.
type Provider struct {
	addr   string
	conn   *net.TCPConn
	r      *bufio.Reader
	stater connstate.ConnStater
}

// New returns an unconnected Provider for addr ("host:port"). Call
// Connect before using it.
func New(addr string) (*Provider, error) {
	if addr == "" {
		return nil, errs.New(errs.KindArgument, "tcpprov.New", "empty address")
	}
	return &Provider{addr: addr}, nil
}

func (p *Provider) Connect() error {
	conn, err := net.Dial("tcp", p.addr)
	if err != nil {
		return errs.Wrap(errs.KindProvider, "tcpprov.Connect", "dial", err)
	}
	tc := conn.(*net.TCPConn)
	if err := tc.SetNoDelay(true); err != nil {
		tc.Close()
		return errs.Wrap(errs.KindProvider, "tcpprov.Connect", "set nodelay", err)
	}
	p.conn = tc
	p.r = bufio.NewReaderSize(tc, 64*1024)

	stater, err := connstate.ListenConnState(tc)
	if err != nil {
		tc.Close()
		return errs.Wrap(errs.KindProvider, "tcpprov.Connect", "listen conn state", err)
	}
	p.stater = stater
	return nil
}

// Peek reports bytes already buffered and available to Read without
// blocking.
func (p *Provider) Peek() (int, error) {
	if p.r == nil {
		return 0, errs.New(errs.KindProvider, "tcpprov.Peek", "not connected")
	}
	return p.r.Buffered(), nil
}

func (p *Provider) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if err != nil {
		return n, errs.Wrap(errs.KindProvider, "tcpprov.Read", "read", err)
	}
	return n, nil
}

func (p *Provider) Write(b []byte) (int, error) {
	n, err := p.conn.Write(b)
	if err != nil {
		return n, errs.Wrap(errs.KindProvider, "tcpprov.Write", "write", err)
	}
	return n, nil
}

// Poll blocks until at least one byte is buffered or timeout elapses,
// without consuming that byte from a subsequent Read.
func (p *Provider) Poll(timeout time.Duration) error {
	if p.r.Buffered() > 0 {
		return nil
	}
	if p.stater.State() != connstate.StateOK {
		return errs.New(errs.KindProvider, "tcpprov.Poll", "connection closed")
	}
	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return errs.Wrap(errs.KindProvider, "tcpprov.Poll", "set deadline", err)
	}
	defer p.conn.SetReadDeadline(time.Time{})
	_, err := p.r.Peek(1)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return errs.New(errs.KindTimeout, "tcpprov.Poll", "no data")
		}
		return errs.Wrap(errs.KindProvider, "tcpprov.Poll", "peek", err)
	}
	return nil
}

// Interrupt unblocks a concurrent Poll by forcing its deadline to the
// past; that Poll then returns the ordinary KindTimeout error, not a
// transport failure.
func (p *Provider) Interrupt() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.SetReadDeadline(time.Unix(1, 0))
}

func (p *Provider) Close() error {
	if p.conn == nil {
		return nil
	}
	if p.stater != nil {
		_ = p.stater.Close()
	}
	return p.conn.Close()
}
