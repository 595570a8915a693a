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

package em100prov

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/amdpsp/pspproxy/bufiox"
	"github.com/amdpsp/pspproxy/errs"
)

// chanHdr is the on-flash message-channel header: the byte offsets of
// each direction's ring relative to SpiMsgChanHdrOffset, plus the two
// ring headers themselves.
type chanHdr struct {
	OffExt2Psp uint32
	OffPsp2Ext uint32
	Ext2Psp    ringBuf
	Psp2Ext    ringBuf
	Magic      uint32
}

const chanHdrSize = 4 + 4 + ringBufHeaderSize + ringBufHeaderSize + 4

// Provider is the SPI-flash ring-buffer transport: it speaks PDU bytes
// by reading and writing the Ext2Psp/Psp2Ext rings embedded in the
// em100-emulated flash image, reached through a small request/response
// protocol over an ordinary TCP control connection.
type Provider struct {
	addr string
	conn net.Conn
	r    *bufiox.DefaultReader
	hdr  chanHdr
}

// New returns an unconnected Provider dialing the em100 control channel
// at addr ("host:port"). Call Connect before using it.
func New(addr string) (*Provider, error) {
	if addr == "" {
		return nil, errs.New(errs.KindArgument, "em100prov.New", "empty address")
	}
	return &Provider{addr: addr}, nil
}

// Connect opens the control connection, and initializes or fetches the
// message-channel header at SpiMsgChanHdrOffset, per
// em100TcpSpiMsgBufferInit / em100TcpSpiMsgBufferHdrFetch.
func (p *Provider) Connect() error {
	conn, err := net.Dial("tcp", p.addr)
	if err != nil {
		return errs.Wrap(errs.KindProvider, "em100prov.Connect", "dial", err)
	}
	p.conn = conn
	p.r = bufiox.NewDefaultReader(conn)

	raw, err := flashRead(conn, p.r, SpiMsgChanHdrOffset, chanHdrSize)
	if err != nil {
		conn.Close()
		return err
	}
	hdr := decodeChanHdr(raw)
	if hdr.Magic != SpiMsgChanHdrMagic {
		hdr = chanHdr{
			OffExt2Psp: 0,
			OffPsp2Ext: ringBufSize,
			Ext2Psp:    ringBuf{CbRingBuf: ringBufSize},
			Psp2Ext:    ringBuf{CbRingBuf: ringBufSize},
			Magic:      SpiMsgChanHdrMagic,
		}
		if err := p.writeChanHdr(hdr); err != nil {
			conn.Close()
			return err
		}
	}
	p.hdr = hdr
	return nil
}

func decodeChanHdr(b []byte) chanHdr {
	var h chanHdr
	h.OffExt2Psp = binary.LittleEndian.Uint32(b[0:4])
	h.OffPsp2Ext = binary.LittleEndian.Uint32(b[4:8])
	h.Ext2Psp = decodeRingBuf(b[8 : 8+ringBufHeaderSize])
	h.Psp2Ext = decodeRingBuf(b[8+ringBufHeaderSize : 8+2*ringBufHeaderSize])
	h.Magic = binary.LittleEndian.Uint32(b[8+2*ringBufHeaderSize : 8+2*ringBufHeaderSize+4])
	return h
}

func (p *Provider) writeChanHdr(h chanHdr) error {
	b := make([]byte, chanHdrSize)
	binary.LittleEndian.PutUint32(b[0:4], h.OffExt2Psp)
	binary.LittleEndian.PutUint32(b[4:8], h.OffPsp2Ext)
	h.Ext2Psp.encode(b[8 : 8+ringBufHeaderSize])
	h.Psp2Ext.encode(b[8+ringBufHeaderSize : 8+2*ringBufHeaderSize])
	binary.LittleEndian.PutUint32(b[8+2*ringBufHeaderSize:8+2*ringBufHeaderSize+4], h.Magic)
	if err := flashWrite(p.conn, p.r, SpiMsgChanHdrOffset, b); err != nil {
		return err
	}
	p.hdr = h
	return nil
}

// refreshRings re-reads just the two ring headers, which the PSP side
// updates as it produces/consumes bytes.
func (p *Provider) refreshRings() error {
	off := SpiMsgChanHdrOffset + 8
	raw, err := flashRead(p.conn, p.r, off, 2*ringBufHeaderSize)
	if err != nil {
		return err
	}
	p.hdr.Ext2Psp = decodeRingBuf(raw[0:ringBufHeaderSize])
	p.hdr.Psp2Ext = decodeRingBuf(raw[ringBufHeaderSize : 2*ringBufHeaderSize])
	return nil
}

// Peek reports bytes available in the Psp2Ext ring (the direction this
// process reads from).
func (p *Provider) Peek() (int, error) {
	if err := p.refreshRings(); err != nil {
		return 0, err
	}
	return int(p.hdr.Psp2Ext.used()), nil
}

// Read drains up to len(b) bytes from the Psp2Ext ring, wrapping at the
// ring boundary, and advances its tail.
func (p *Provider) Read(b []byte) (int, error) {
	if err := p.refreshRings(); err != nil {
		return 0, err
	}
	r := p.hdr.Psp2Ext
	n := r.used()
	if uint32(len(b)) < n {
		n = uint32(len(b))
	}
	if n == 0 {
		return 0, nil
	}
	base := p.hdr.OffPsp2Ext + ringBufHeaderSize
	data, err := p.readRingBytes(base, r.CbRingBuf, r.OffTail, n)
	if err != nil {
		return 0, err
	}
	copy(b, data)
	r = r.advanceTail(n)
	if err := p.writeRingFooter(p.hdr.OffPsp2Ext, r); err != nil {
		return 0, err
	}
	p.hdr.Psp2Ext = r
	return int(n), nil
}

// Write appends b to the Ext2Psp ring, wrapping at the ring boundary,
// and advances its head. It does not wait for the PSP to drain the ring:
// if the ring lacks room for all of b, it writes nothing and fails.
func (p *Provider) Write(b []byte) (int, error) {
	if err := p.refreshRings(); err != nil {
		return 0, err
	}
	r := p.hdr.Ext2Psp
	if r.free() < uint32(len(b)) {
		return 0, errs.New(errs.KindProvider, "em100prov.Write", "ring full")
	}
	base := p.hdr.OffExt2Psp + ringBufHeaderSize
	if err := p.writeRingBytes(base, r.CbRingBuf, r.OffHead, b); err != nil {
		return 0, err
	}
	r = r.advanceHead(uint32(len(b)))
	if err := p.writeRingFooter(p.hdr.OffExt2Psp, r); err != nil {
		return 0, err
	}
	p.hdr.Ext2Psp = r
	return len(b), nil
}

// readRingBytes reads n bytes starting at ring-relative offset off
// within a ring of capacity ringCap, where dataBase is the flash offset
// of the ring's data region (immediately after its header), wrapping
// around to dataBase as needed.
func (p *Provider) readRingBytes(dataBase, ringCap, off, n uint32) ([]byte, error) {
	if off+n <= ringCap {
		return flashRead(p.conn, p.r, dataBase+off, n)
	}
	first := ringCap - off
	a, err := flashRead(p.conn, p.r, dataBase+off, first)
	if err != nil {
		return nil, err
	}
	b2, err := flashRead(p.conn, p.r, dataBase, n-first)
	if err != nil {
		return nil, err
	}
	return append(a, b2...), nil
}

func (p *Provider) writeRingBytes(dataBase, ringCap, off uint32, data []byte) error {
	n := uint32(len(data))
	if off+n <= ringCap {
		return flashWrite(p.conn, p.r, dataBase+off, data)
	}
	first := ringCap - off
	if err := flashWrite(p.conn, p.r, dataBase+off, data[:first]); err != nil {
		return err
	}
	return flashWrite(p.conn, p.r, dataBase, data[first:])
}

func (p *Provider) writeRingFooter(base uint32, r ringBuf) error {
	b := make([]byte, ringBufHeaderSize)
	r.encode(b)
	return flashWrite(p.conn, p.r, base, b)
}

// Poll busy-waits on Peek, since the flash ring has no event mechanism
// of its own; the em100 control channel only answers synchronous
// request/response pairs.
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
			return errs.New(errs.KindTimeout, "em100prov.Poll", "no data")
		}
		time.Sleep(time.Millisecond)
	}
}

// Interrupt is a no-op: Poll already returns promptly on its own cadence.
func (p *Provider) Interrupt() error { return nil }

func (p *Provider) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

