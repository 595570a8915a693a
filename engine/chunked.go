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

package engine

import (
	"github.com/amdpsp/pspproxy/address"
	"github.com/amdpsp/pspproxy/errs"
	"github.com/amdpsp/pspproxy/pdu"
)

// chunkStride returns the largest payload this Context can send in one
// PDU, leaving room for hdrOverhead bytes of non-data fields in the
// same request.
func (c *Context) chunkStride(hdrOverhead uint32) uint32 {
	max := c.info.MaxPduSize
	if max == 0 {
		max = pdu.MaxPayloadSize
	}
	usable := max - pdu.HeaderSize - pdu.FooterSize - hdrOverhead
	return usable &^ (pdu.Alignment - 1)
}

// DataXferRead reads length bytes from addr's address space, chunking
// the transfer across as many DataXfer requests as needed. The
// XferIncrAddr flag is set on every chunk after the first so each
// request targets the next slice of the source, per the IncrAddr flag's
// documented meaning.
func (c *Context) DataXferRead(ccd uint16, addr address.Addr, length uint32) ([]byte, error) {
	if err := c.requireConnected("engine.DataXferRead"); err != nil {
		return nil, err
	}
	stride := c.chunkStride(12)
	if stride == 0 {
		return nil, errs.New(errs.KindArgument, "engine.DataXferRead", "negotiated max PDU size too small")
	}

	out := make([]byte, 0, length)
	cur := addr
	var remaining uint32 = length
	first := true
	for remaining > 0 {
		n := remaining
		if n > stride {
			n = stride
		}
		flags := pdu.XferRead
		if !first {
			flags |= pdu.XferIncrAddr
		}
		chunk, err := c.dataXferOnce(ccd, cur, n, flags, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		cur = cur.Add(n)
		remaining -= n
		first = false
	}
	return out, nil
}

// DataXferWrite writes data to addr's address space, chunking across as
// many DataXfer requests as needed.
func (c *Context) DataXferWrite(ccd uint16, addr address.Addr, data []byte) error {
	if err := c.requireConnected("engine.DataXferWrite"); err != nil {
		return err
	}
	stride := c.chunkStride(12)
	if stride == 0 {
		return errs.New(errs.KindArgument, "engine.DataXferWrite", "negotiated max PDU size too small")
	}

	cur := addr
	off := uint32(0)
	first := true
	for off < uint32(len(data)) {
		n := uint32(len(data)) - off
		if n > stride {
			n = stride
		}
		flags := pdu.XferWrite
		if !first {
			flags |= pdu.XferIncrAddr
		}
		if _, err := c.dataXferOnce(ccd, cur, n, flags, data[off:off+n]); err != nil {
			return err
		}
		cur = cur.Add(n)
		off += n
		first = false
	}
	return nil
}

// DataXferMemset fills length bytes at addr with value, in as many
// DataXfer requests as the negotiated max PDU size requires. Unlike a
// write, the request payload itself never grows with length: MEMSET
// repeats a single byte stub-side, so every chunk can be the full
// negotiated stride.
func (c *Context) DataXferMemset(ccd uint16, addr address.Addr, length uint32, value byte) error {
	if err := c.requireConnected("engine.DataXferMemset"); err != nil {
		return err
	}
	stride := c.chunkStride(12)
	if stride == 0 {
		return errs.New(errs.KindArgument, "engine.DataXferMemset", "negotiated max PDU size too small")
	}

	cur := addr
	remaining := length
	first := true
	for remaining > 0 {
		n := remaining
		if n > stride {
			n = stride
		}
		flags := pdu.XferWrite | pdu.XferMemset
		if !first {
			flags |= pdu.XferIncrAddr
		}
		if _, err := c.dataXferOnce(ccd, cur, n, flags, []byte{value}); err != nil {
			return err
		}
		cur = cur.Add(n)
		remaining -= n
		first = false
	}
	return nil
}

func (c *Context) dataXferOnce(ccd uint16, addr address.Addr, length uint32, flags pdu.XferFlags, data []byte) ([]byte, error) {
	a, ok := addr.Psp()
	if !ok {
		return nil, errs.New(errs.KindArgument, "engine.dataXferOnce", "DataXfer only supports PSP-local address spaces")
	}
	req := pdu.DataXferReq{Addr: uint32(a), Length: length, Flags: flags}
	hdr := make([]byte, 12)
	req.FastWrite(hdr)
	payload := append(hdr, data...)

	if err := c.send(pdu.ReqDataXfer, ccd, payload); err != nil {
		return nil, err
	}
	frame, err := c.awaitResponse(pdu.RespDataXfer)
	if err != nil {
		return nil, err
	}
	var resp pdu.XferResp
	if _, err := resp.FastRead(frame.Payload); err != nil {
		return nil, errs.Wrap(errs.KindFraming, "engine.dataXferOnce", "decode XferResp", err)
	}
	c.lastStatus = resp.Status
	if resp.Status != 0 {
		return nil, errs.New(errs.KindRemote, "engine.dataXferOnce", "stub reported nonzero status")
	}
	if flags&pdu.XferRead != 0 {
		return frame.Payload[xferRespSizeConst:], nil
	}
	return nil, nil
}

const xferRespSizeConst = 8

// LoadCodeMod uploads image to the scratch address base, chunking the
// image across as many LoadCodeMod requests as the negotiated max PDU
// size requires. cbPduPayloadMax mirrors
// pspStubPduCtxPspCodeModLoad's own stride computation: the PDU budget
// left over after the fixed LoadCodeModReq header.
func (c *Context) LoadCodeMod(ccd uint16, base address.PspAddr, image []byte) error {
	if err := c.requireConnected("engine.LoadCodeMod"); err != nil {
		return err
	}
	stride := c.chunkStride(12)
	if stride == 0 {
		return errs.New(errs.KindArgument, "engine.LoadCodeMod", "negotiated max PDU size too small")
	}

	total := uint32(len(image))
	off := uint32(0)
	for off < total {
		n := total - off
		if n > stride {
			n = stride
		}
		req := pdu.LoadCodeModReq{TotalSize: total, Offset: off, ChunkSize: n}
		hdr := make([]byte, 12)
		req.FastWrite(hdr)
		payload := append(hdr, image[off:off+n]...)

		if err := c.send(pdu.ReqLoadCodeMod, ccd, payload); err != nil {
			return err
		}
		frame, err := c.awaitResponse(pdu.RespLoadCodeMod)
		if err != nil {
			return err
		}
		var resp pdu.XferResp
		if _, err := resp.FastRead(frame.Payload); err != nil {
			return errs.Wrap(errs.KindFraming, "engine.LoadCodeMod", "decode XferResp", err)
		}
		c.lastStatus = resp.Status
		if resp.Status != 0 {
			return errs.New(errs.KindRemote, "engine.LoadCodeMod", "stub rejected chunk")
		}
		off += n
	}
	return nil
}
