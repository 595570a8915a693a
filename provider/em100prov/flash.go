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

// Package em100prov is the SPI-flash ring-buffer Provider: PDU bytes
// travel through a pair of byte rings laid out inside an em100-emulated
// SPI flash image, itself reached only through a small request/response
// protocol (flashRead/flashWrite) carried over an ordinary TCP control
// connection to the em100 box.
package em100prov

import (
	"encoding/binary"
	"net"

	"github.com/amdpsp/pspproxy/bufiox"
	"github.com/amdpsp/pspproxy/errs"
)

// flashReqMagic tags every request this provider sends to the em100
// control channel.
const flashReqMagic uint32 = 0xebadc0de

const (
	flashCmdRead  uint32 = 0
	flashCmdWrite uint32 = 1
)

// flashReqHeader is the fixed header of every flash-read/write request.
type flashReqHeader struct {
	Magic     uint32
	Cmd       uint32
	AddrStart uint32
	CbXfer    uint32
}

const flashReqHeaderSize = 16

func (h flashReqHeader) encode() []byte {
	b := make([]byte, flashReqHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Cmd)
	binary.LittleEndian.PutUint32(b[8:12], h.AddrStart)
	binary.LittleEndian.PutUint32(b[12:16], h.CbXfer)
	return b
}

// flashRead issues a read request for cb bytes at addr and returns the
// data, per em100TcpSpiFlashRead's request-then-status-then-data
// exchange. r reads the control connection's response side; since any
// I/O error on this connection means the em100 session is dead, r's
// sticky-error behavior (see bufiox.DefaultReader) is exactly the
// semantics wanted here, unlike the poll/timeout-driven PDU transports.
func flashRead(conn net.Conn, r *bufiox.DefaultReader, addr uint32, cb uint32) ([]byte, error) {
	hdr := flashReqHeader{Magic: flashReqMagic, Cmd: flashCmdRead, AddrStart: addr, CbXfer: cb}
	if _, err := conn.Write(hdr.encode()); err != nil {
		return nil, errs.Wrap(errs.KindProvider, "em100prov.flashRead", "send request", err)
	}
	statusBytes, err := r.Next(4)
	if err != nil {
		return nil, errs.Wrap(errs.KindProvider, "em100prov.flashRead", "read status", err)
	}
	status := int32(binary.LittleEndian.Uint32(statusBytes))
	if status != 0 {
		r.Release(nil)
		return nil, errs.New(errs.KindRemote, "em100prov.flashRead", "em100 returned nonzero status")
	}
	raw, err := r.Next(int(cb))
	if err != nil {
		return nil, errs.Wrap(errs.KindProvider, "em100prov.flashRead", "read data", err)
	}
	data := append([]byte(nil), raw...)
	r.Release(nil)
	return data, nil
}

// flashWrite issues a write request of data at addr, per
// em100TcpSpiFlashWrite's data-then-status exchange.
func flashWrite(conn net.Conn, r *bufiox.DefaultReader, addr uint32, data []byte) error {
	hdr := flashReqHeader{Magic: flashReqMagic, Cmd: flashCmdWrite, AddrStart: addr, CbXfer: uint32(len(data))}
	if _, err := conn.Write(hdr.encode()); err != nil {
		return errs.Wrap(errs.KindProvider, "em100prov.flashWrite", "send request", err)
	}
	if _, err := conn.Write(data); err != nil {
		return errs.Wrap(errs.KindProvider, "em100prov.flashWrite", "send data", err)
	}
	statusBytes, err := r.Next(4)
	if err != nil {
		return errs.Wrap(errs.KindProvider, "em100prov.flashWrite", "read status", err)
	}
	status := int32(binary.LittleEndian.Uint32(statusBytes))
	r.Release(nil)
	if status != 0 {
		return errs.New(errs.KindRemote, "em100prov.flashWrite", "em100 returned nonzero status")
	}
	return nil
}
