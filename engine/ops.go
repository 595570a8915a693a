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
	"encoding/binary"

	"github.com/amdpsp/pspproxy/address"
	"github.com/amdpsp/pspproxy/errs"
	"github.com/amdpsp/pspproxy/pdu"
)

func (c *Context) requireConnected(op string) error {
	if !c.connected {
		return errs.New(errs.KindArgument, op, "not connected")
	}
	return nil
}

// requestResponse sends a request and decodes the matching response's
// XferResp payload in one step, the Go equivalent of
// pspStubPduCtxReqResp merging the send and receive without an
// intermediate malloc+memcpy+free: here it's simply two calls with no
// heap copy beyond what encoding/binary already needs.
func (c *Context) requestResponse(req, resp pdu.RrnID, ccd uint16, payload []byte) (pdu.XferResp, error) {
	if err := c.requireConnected("engine"); err != nil {
		return pdu.XferResp{}, err
	}
	if err := c.send(req, ccd, payload); err != nil {
		return pdu.XferResp{}, err
	}
	frame, err := c.awaitResponse(resp)
	if err != nil {
		return pdu.XferResp{}, err
	}
	var x pdu.XferResp
	if _, err := x.FastRead(frame.Payload); err != nil {
		return pdu.XferResp{}, errs.Wrap(errs.KindFraming, "engine", "decode XferResp", err)
	}
	c.lastStatus = x.Status
	if x.Status != 0 {
		return x, errs.New(errs.KindRemote, "engine", "stub reported nonzero status")
	}
	return x, nil
}

// SmnRead reads a 32-bit SMN register routed through ccd, targeting
// addr.Target.
func (c *Context) SmnRead(ccd uint16, addr address.SmnAddr) (uint32, error) {
	req := pdu.SmnXferReq{CcdTarget: addr.Target, SmnAddr: addr.Offset}
	b := make([]byte, 12)
	req.FastWrite(b)
	resp, err := c.requestResponse(pdu.ReqSmnRead, pdu.RespSmnRead, ccd, b)
	return resp.Value, err
}

// SmnWrite writes a 32-bit SMN register routed through ccd, targeting
// addr.Target.
func (c *Context) SmnWrite(ccd uint16, addr address.SmnAddr, value uint32) error {
	req := pdu.SmnXferReq{CcdTarget: addr.Target, SmnAddr: addr.Offset, Value: value}
	b := make([]byte, 12)
	req.FastWrite(b)
	_, err := c.requestResponse(pdu.ReqSmnWrite, pdu.RespSmnWrite, ccd, b)
	return err
}

func (c *Context) pspXfer(reqID, respID pdu.RrnID, ccd uint16, addr address.PspAddr, value uint32) (uint32, error) {
	req := pdu.PspXferReq{Addr: uint32(addr), Value: value}
	b := make([]byte, 8)
	req.FastWrite(b)
	resp, err := c.requestResponse(reqID, respID, ccd, b)
	return resp.Value, err
}

// PspMemRead reads a 32-bit word from PSP-local memory.
func (c *Context) PspMemRead(ccd uint16, addr address.PspAddr) (uint32, error) {
	return c.pspXfer(pdu.ReqPspMemRead, pdu.RespPspMemRead, ccd, addr, 0)
}

// PspMemWrite writes a 32-bit word to PSP-local memory.
func (c *Context) PspMemWrite(ccd uint16, addr address.PspAddr, value uint32) error {
	_, err := c.pspXfer(pdu.ReqPspMemWrite, pdu.RespPspMemWrite, ccd, addr, value)
	return err
}

// PspMmioRead reads a 32-bit PSP-local MMIO register.
func (c *Context) PspMmioRead(ccd uint16, addr address.PspAddr) (uint32, error) {
	return c.pspXfer(pdu.ReqPspMmioRead, pdu.RespPspMmioRead, ccd, addr, 0)
}

// PspMmioWrite writes a 32-bit PSP-local MMIO register.
func (c *Context) PspMmioWrite(ccd uint16, addr address.PspAddr, value uint32) error {
	_, err := c.pspXfer(pdu.ReqPspMmioWrite, pdu.RespPspMmioWrite, ccd, addr, value)
	return err
}

func (c *Context) x86Xfer(reqID, respID pdu.RrnID, ccd uint16, addr address.X86PhysAddr, hint address.CachingHint, value uint32) (uint32, error) {
	req := pdu.X86XferReq{Addr: uint64(addr), Value: value, Hint: uint8(hint)}
	b := make([]byte, 16)
	req.FastWrite(b)
	resp, err := c.requestResponse(reqID, respID, ccd, b)
	return resp.Value, err
}

// X86MemRead reads a 32-bit word of x86 physical memory, reached through
// ccd's host bridge.
func (c *Context) X86MemRead(ccd uint16, addr address.X86PhysAddr, hint address.CachingHint) (uint32, error) {
	return c.x86Xfer(pdu.ReqX86MemRead, pdu.RespX86MemRead, ccd, addr, hint, 0)
}

// X86MemWrite writes a 32-bit word of x86 physical memory.
func (c *Context) X86MemWrite(ccd uint16, addr address.X86PhysAddr, hint address.CachingHint, value uint32) error {
	_, err := c.x86Xfer(pdu.ReqX86MemWrite, pdu.RespX86MemWrite, ccd, addr, hint, value)
	return err
}

// X86MmioRead reads a 32-bit x86 MMIO register.
func (c *Context) X86MmioRead(ccd uint16, addr address.X86PhysAddr, hint address.CachingHint) (uint32, error) {
	return c.x86Xfer(pdu.ReqX86MmioRead, pdu.RespX86MmioRead, ccd, addr, hint, 0)
}

// X86MmioWrite writes a 32-bit x86 MMIO register.
func (c *Context) X86MmioWrite(ccd uint16, addr address.X86PhysAddr, hint address.CachingHint, value uint32) error {
	_, err := c.x86Xfer(pdu.ReqX86MmioWrite, pdu.RespX86MmioWrite, ccd, addr, hint, value)
	return err
}

// CoProcRead reads a 32-bit coprocessor register, selected the way the
// original's PSPProxyCtxPspCoProcRead selects it: by idCoProc, crn, crm,
// opc1 and opc2 rather than by address.
func (c *Context) CoProcRead(ccd uint16, idCoProc, crn, crm, opc1, opc2 uint8) (uint32, error) {
	req := pdu.CoProcReq{IdCoProc: idCoProc, Crn: crn, Crm: crm, Opc1: opc1, Opc2: opc2}
	b := make([]byte, 8)
	req.FastWrite(b)
	resp, err := c.requestResponse(pdu.ReqCoProcRead, pdu.RespCoProcRead, ccd, b)
	return resp.Value, err
}

// CoProcWrite writes a 32-bit coprocessor register, selected the same
// way as CoProcRead.
func (c *Context) CoProcWrite(ccd uint16, idCoProc, crn, crm, opc1, opc2 uint8, value uint32) error {
	req := pdu.CoProcReq{IdCoProc: idCoProc, Crn: crn, Crm: crm, Opc1: opc1, Opc2: opc2}
	b := make([]byte, 12)
	req.FastWrite(b)
	binary.LittleEndian.PutUint32(b[8:12], value)
	_, err := c.requestResponse(pdu.ReqCoProcWrite, pdu.RespCoProcWrite, ccd, b)
	return err
}

// BranchTo is a one-way request: it has no response, matching
// pspStubPduCtxPspBranchTo's fire-and-forget semantics.
func (c *Context) BranchTo(ccd uint16, target address.PspAddr) error {
	if err := c.requireConnected("engine.BranchTo"); err != nil {
		return err
	}
	req := pdu.BranchToReq{TargetAddr: uint32(target)}
	b := make([]byte, 4)
	req.FastWrite(b)
	return c.send(pdu.ReqBranchTo, ccd, b)
}
