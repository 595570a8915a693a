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

// Package serialprov is the serial-TTY Provider: a raw-mode, flow
// control-free serial line to the stub, configured from a
// "path:baud:databits:parity:stopbits" address (e.g.
// "/dev/ttyUSB0:115200:8:N:1").
package serialprov

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/amdpsp/pspproxy/errs"
)

// Config is a parsed serial address.
type Config struct {
	Path     string
	Baud     int
	DataBits int
	Parity   byte // 'N', 'E', 'O'
	StopBits int
}

// ParseAddr parses "path:baud:databits:parity:stopbits". Baud must be one
// of the rates baudConst supports; databits one of 5/6/7/8; parity one of
// N/E/O; stopbits one of 1/2.
func ParseAddr(addr string) (Config, error) {
	parts := strings.Split(addr, ":")
	if len(parts) != 5 {
		return Config{}, errs.New(errs.KindArgument, "serialprov.ParseAddr",
			fmt.Sprintf("want path:baud:databits:parity:stopbits, got %q", addr))
	}
	baud, err := strconv.Atoi(parts[1])
	if err != nil {
		return Config{}, errs.Wrap(errs.KindArgument, "serialprov.ParseAddr", "baud", err)
	}
	dataBits, err := strconv.Atoi(parts[2])
	if err != nil {
		return Config{}, errs.Wrap(errs.KindArgument, "serialprov.ParseAddr", "databits", err)
	}
	if len(parts[3]) != 1 {
		return Config{}, errs.New(errs.KindArgument, "serialprov.ParseAddr", "parity must be one character")
	}
	stopBits, err := strconv.Atoi(parts[4])
	if err != nil {
		return Config{}, errs.Wrap(errs.KindArgument, "serialprov.ParseAddr", "stopbits", err)
	}
	if _, err := baudConst(baud); err != nil {
		return Config{}, err
	}
	if _, err := dataBitsConst(dataBits); err != nil {
		return Config{}, err
	}
	if p := parts[3][0]; p != 'N' && p != 'E' && p != 'O' {
		return Config{}, errs.New(errs.KindArgument, "serialprov.ParseAddr", "parity must be N, E or O")
	}
	if stopBits != 1 && stopBits != 2 {
		return Config{}, errs.New(errs.KindArgument, "serialprov.ParseAddr", "stopbits must be 1 or 2")
	}
	return Config{Path: parts[0], Baud: baud, DataBits: dataBits, Parity: parts[3][0], StopBits: stopBits}, nil
}

// Provider is a serial-TTY-backed transport, put into raw mode (no
// echo, no line discipline, no flow control) on Connect the way
// Daedaluz-goserial's MakeRaw does.
type Provider struct {
	cfg Config
	fd  int
}

// New returns an unconnected Provider for addr. Call Connect before
// using it.
func New(addr string) (*Provider, error) {
	cfg, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}
	return &Provider{cfg: cfg, fd: -1}, nil
}

func baudConst(baud int) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, errs.New(errs.KindArgument, "serialprov.baudConst", fmt.Sprintf("unsupported baud rate %d", baud))
	}
}

func dataBitsConst(n int) (uint32, error) {
	switch n {
	case 5:
		return unix.CS5, nil
	case 6:
		return unix.CS6, nil
	case 7:
		return unix.CS7, nil
	case 8:
		return unix.CS8, nil
	default:
		return 0, errs.New(errs.KindArgument, "serialprov.dataBitsConst", fmt.Sprintf("unsupported data bits %d", n))
	}
}

func (p *Provider) Connect() error {
	fd, err := unix.Open(p.cfg.Path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return errs.Wrap(errs.KindProvider, "serialprov.Connect", "open", err)
	}
	if err := configure(fd, p.cfg); err != nil {
		unix.Close(fd)
		return err
	}
	p.fd = fd
	return nil
}

// configure applies raw mode and the requested line parameters via
// TCGETS/TCSETS, the same termios dance as Daedaluz-goserial's
// Port.GetAttr/SetAttr/MakeRaw.
func configure(fd int, cfg Config) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return errs.Wrap(errs.KindProvider, "serialprov.configure", "get termios", err)
	}

	baud, err := baudConst(cfg.Baud)
	if err != nil {
		return err
	}
	dataBits, err := dataBitsConst(cfg.DataBits)
	if err != nil {
		return err
	}

	// Raw mode: no canonical processing, no signal generation, no echo.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	t.Cflag |= dataBits | unix.CREAD | unix.CLOCAL

	switch cfg.Parity {
	case 'E':
		t.Cflag |= unix.PARENB
	case 'O':
		t.Cflag |= unix.PARENB | unix.PARODD
	}
	if cfg.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}

	t.Ispeed = baud
	t.Ospeed = baud

	// Blocking reads: wait for at least 1 byte, no inter-byte timer.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return errs.Wrap(errs.KindProvider, "serialprov.configure", "set termios", err)
	}
	return nil
}

func (p *Provider) Peek() (int, error) {
	n, err := unix.IoctlGetInt(p.fd, unix.TIOCINQ)
	if err != nil {
		return 0, errs.Wrap(errs.KindProvider, "serialprov.Peek", "tiocinq", err)
	}
	return n, nil
}

func (p *Provider) Read(b []byte) (int, error) {
	n, err := unix.Read(p.fd, b)
	if err != nil {
		return n, errs.Wrap(errs.KindProvider, "serialprov.Read", "read", err)
	}
	return n, nil
}

func (p *Provider) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := unix.Write(p.fd, b[written:])
		if err != nil {
			return written, errs.Wrap(errs.KindProvider, "serialprov.Write", "write", err)
		}
		written += n
	}
	return written, nil
}

// Poll busy-waits on TIOCINQ, since a plain fd has no integrated
// deadline the way a net.Conn does; the interval is short enough that
// the runloop's own cadence (driven by the code-module exec loop's 1ms
// timeout) is not perceptibly affected.
func (p *Provider) Poll(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		n, err := p.Peek()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.New(errs.KindTimeout, "serialprov.Poll", "no data")
		}
		time.Sleep(time.Millisecond)
	}
}

// Interrupt has no fd-local mechanism to unblock a concurrent Poll on
// this transport (TIOCINQ-polling Poll already returns promptly on its
// own), so it is a no-op; Close is what actually tears the line down.
func (p *Provider) Interrupt() error { return nil }

func (p *Provider) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	if err != nil {
		return errs.Wrap(errs.KindProvider, "serialprov.Close", "close", err)
	}
	return nil
}
