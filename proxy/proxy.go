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

// Package proxy is the public entry point to pspproxy: ProxyContext ties
// a Provider, a PduEngine and a ScratchAllocator together behind a single
// typed API, with argument validation and structured logging at the
// boundary so every other package can assume its inputs are already
// sane.
package proxy

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amdpsp/pspproxy/address"
	"github.com/amdpsp/pspproxy/engine"
	"github.com/amdpsp/pspproxy/errs"
	"github.com/amdpsp/pspproxy/iosink"
	"github.com/amdpsp/pspproxy/metrics"
	"github.com/amdpsp/pspproxy/provider"
	"github.com/amdpsp/pspproxy/scratch"
)

// Context is a connected pspproxy session.
type Context struct {
	prov    provider.Provider
	eng     *engine.Context
	scratch *scratch.Allocator
	log     *logrus.Logger
	metrics *metrics.Session
}

// Option configures Open.
type Option func(*Context)

// WithLogger overrides the default logrus.Logger (one at Info level,
// text-formatted, matching the teacher pack's own default logrus use).
func WithLogger(l *logrus.Logger) Option {
	return func(c *Context) { c.log = l }
}

// WithMetrics attaches a metrics.Session whose ScratchFreeBytes the
// Context keeps current (its other counters are not updated); pass
// metrics.NewCollector(sess) to a prometheus registry to export it.
func WithMetrics(s *metrics.Session) Option {
	return func(c *Context) { c.metrics = s }
}

// Open dials uri (see provider.Dial for accepted schemes), connects the
// transport and performs the PDU-level Connect handshake, returning a
// ready-to-use Context.
func Open(uri string, opts ...Option) (*Context, error) {
	prov, err := provider.Dial(uri)
	if err != nil {
		return nil, err
	}

	c := &Context{prov: prov, log: logrus.New()}
	for _, o := range opts {
		o(c)
	}

	c.log.WithField("uri", uri).Info("connecting to psp stub")
	if err := prov.Connect(); err != nil {
		return nil, err
	}

	c.eng = engine.New(prov, c.log)
	info, err := c.eng.Connect()
	if err != nil {
		prov.Close()
		return nil, err
	}
	c.scratch = scratch.New(info.ScratchBase, info.ScratchSize)
	c.log.WithFields(logrus.Fields{
		"max_pdu_size": info.MaxPduSize,
		"ccds":         info.Ccds,
		"scratch_size": info.ScratchSize,
	}).Info("connected")

	if c.metrics != nil {
		atomic.StoreUint64(&c.metrics.ScratchFreeBytes, uint64(c.scratch.FreeBytes()))
	}
	return c, nil
}

// Close releases the underlying transport.
func (c *Context) Close() error {
	return c.prov.Close()
}

// Info returns the session parameters learned at connect time.
func (c *Context) Info() engine.Info { return c.eng.Info() }

// LastStatus returns the stub-reported status code of the most recent
// request.
func (c *Context) LastStatus() uint32 { return c.eng.LastStatus() }

// WfiResult is what WFI reports; see engine.WfiResult.
type WfiResult = engine.WfiResult

// WFI waits up to timeout for an interrupt-pending change on any CCD,
// returning the lowest-numbered CCD with a pending change. A zero
// timeout with nothing pending returns the NoChange result (Changed
// false on the returned WfiResult) without blocking.
func (c *Context) WFI(timeout time.Duration) (WfiResult, error) {
	return c.eng.WFI(timeout)
}

// validateCcd checks ccd against the session's CCD count.
func (c *Context) validateCcd(ccd uint16) error {
	if ccd >= c.eng.Info().Ccds {
		return errs.New(errs.KindArgument, "proxy", "ccd index out of range")
	}
	return nil
}

// SmnRead reads a 32-bit SMN register.
func (c *Context) SmnRead(ccd uint16, addr address.SmnAddr) (uint32, error) {
	if err := c.validateCcd(ccd); err != nil {
		return 0, err
	}
	return c.eng.SmnRead(ccd, addr)
}

// SmnWrite writes a 32-bit SMN register.
func (c *Context) SmnWrite(ccd uint16, addr address.SmnAddr, value uint32) error {
	if err := c.validateCcd(ccd); err != nil {
		return err
	}
	return c.eng.SmnWrite(ccd, addr, value)
}

// Read reads length bytes starting at addr: PSP-local memory goes
// through a chunked DataXfer transfer, while PSP MMIO, the SMN fabric,
// and x86 memory/MMIO are all scalar register spaces and only support
// a single 4-byte access routed to their own dedicated RRN-ID.
func (c *Context) Read(ccd uint16, addr address.Addr, length uint32) ([]byte, error) {
	if err := c.validateCcd(ccd); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, errs.New(errs.KindArgument, "proxy.Read", "zero length")
	}
	if addr.Space() == address.SpacePspMem {
		return c.eng.DataXferRead(ccd, addr, length)
	}
	if length != 4 {
		return nil, errs.New(errs.KindUnsupported, "proxy.Read", addr.Space().String()+" only supports 4-byte register access")
	}
	value, err := c.readScalar(ccd, addr)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, value)
	return b, nil
}

func (c *Context) readScalar(ccd uint16, addr address.Addr) (uint32, error) {
	switch addr.Space() {
	case address.SpacePspMmio:
		a, _ := addr.Psp()
		return c.eng.PspMmioRead(ccd, a)
	case address.SpaceSmn:
		a, _ := addr.Smn()
		return c.eng.SmnRead(ccd, a)
	case address.SpaceX86Mem:
		a, hint, _ := addr.X86()
		return c.eng.X86MemRead(ccd, a, hint)
	case address.SpaceX86Mmio:
		a, hint, _ := addr.X86()
		return c.eng.X86MmioRead(ccd, a, hint)
	default:
		return 0, errs.New(errs.KindUnsupported, "proxy", addr.Space().String()+" has no scalar read op")
	}
}

// Write writes data starting at addr, with the same PSP-mem-vs-scalar
// routing as Read.
func (c *Context) Write(ccd uint16, addr address.Addr, data []byte) error {
	if err := c.validateCcd(ccd); err != nil {
		return err
	}
	if len(data) == 0 {
		return errs.New(errs.KindArgument, "proxy.Write", "empty write")
	}
	if addr.Space() == address.SpacePspMem {
		return c.eng.DataXferWrite(ccd, addr, data)
	}
	if len(data) != 4 {
		return errs.New(errs.KindUnsupported, "proxy.Write", addr.Space().String()+" only supports 4-byte register access")
	}
	return c.writeScalar(ccd, addr, binary.LittleEndian.Uint32(data))
}

func (c *Context) writeScalar(ccd uint16, addr address.Addr, value uint32) error {
	switch addr.Space() {
	case address.SpacePspMmio:
		a, _ := addr.Psp()
		return c.eng.PspMmioWrite(ccd, a, value)
	case address.SpaceSmn:
		a, _ := addr.Smn()
		return c.eng.SmnWrite(ccd, a, value)
	case address.SpaceX86Mem:
		a, hint, _ := addr.X86()
		return c.eng.X86MemWrite(ccd, a, hint, value)
	case address.SpaceX86Mmio:
		a, hint, _ := addr.X86()
		return c.eng.X86MmioWrite(ccd, a, hint, value)
	default:
		return errs.New(errs.KindUnsupported, "proxy", addr.Space().String()+" has no scalar write op")
	}
}

// Memset fills length bytes at addr with value. Only PSP-local memory
// supports this: the other spaces are single scalar registers, which a
// repeating byte fill doesn't meaningfully apply to.
func (c *Context) Memset(ccd uint16, addr address.Addr, length uint32, value byte) error {
	if err := c.validateCcd(ccd); err != nil {
		return err
	}
	if length == 0 {
		return errs.New(errs.KindArgument, "proxy.Memset", "zero length")
	}
	if addr.Space() != address.SpacePspMem {
		return errs.New(errs.KindUnsupported, "proxy.Memset", addr.Space().String()+" does not support memset")
	}
	return c.eng.DataXferMemset(ccd, addr, length, value)
}

// CoProcRead reads a 32-bit coprocessor register selected by idCoProc,
// crn, crm, opc1 and opc2.
func (c *Context) CoProcRead(ccd uint16, idCoProc, crn, crm, opc1, opc2 uint8) (uint32, error) {
	if err := c.validateCcd(ccd); err != nil {
		return 0, err
	}
	return c.eng.CoProcRead(ccd, idCoProc, crn, crm, opc1, opc2)
}

// CoProcWrite writes a 32-bit coprocessor register, selected the same
// way as CoProcRead.
func (c *Context) CoProcWrite(ccd uint16, idCoProc, crn, crm, opc1, opc2 uint8, value uint32) error {
	if err := c.validateCcd(ccd); err != nil {
		return err
	}
	return c.eng.CoProcWrite(ccd, idCoProc, crn, crm, opc1, opc2, value)
}

// AllocScratch reserves n bytes of the session's scratch region.
func (c *Context) AllocScratch(n uint32) (address.PspAddr, error) {
	addr, err := c.scratch.Alloc(n)
	if err != nil {
		return 0, err
	}
	if c.metrics != nil {
		atomic.StoreUint64(&c.metrics.ScratchFreeBytes, uint64(c.scratch.FreeBytes()))
	}
	return address.PspAddr(addr), nil
}

// FreeScratch releases a block returned by AllocScratch.
func (c *Context) FreeScratch(addr address.PspAddr) error {
	if err := c.scratch.Free(uint32(addr)); err != nil {
		return err
	}
	if c.metrics != nil {
		atomic.StoreUint64(&c.metrics.ScratchFreeBytes, uint64(c.scratch.FreeBytes()))
	}
	return nil
}

// LoadModule allocates scratch space for image, uploads it, and returns
// its base address.
func (c *Context) LoadModule(ccd uint16, image []byte) (address.PspAddr, error) {
	if err := c.validateCcd(ccd); err != nil {
		return 0, err
	}
	if len(image) == 0 {
		return 0, errs.New(errs.KindArgument, "proxy.LoadModule", "empty image")
	}
	base, err := c.AllocScratch(uint32(len(image)))
	if err != nil {
		return 0, err
	}
	if err := c.eng.LoadCodeMod(ccd, base, image); err != nil {
		c.FreeScratch(base)
		return 0, err
	}
	return base, nil
}

// ExecModule runs a previously loaded module to completion.
func (c *Context) ExecModule(ccd uint16, entry address.PspAddr, args [3]uint32, sink iosink.Sink) (uint32, error) {
	if err := c.validateCcd(ccd); err != nil {
		return 0, err
	}
	return c.eng.ExecCodeMod(ccd, entry, args, sink)
}

// BranchTo is a one-way jump, with no response to await.
func (c *Context) BranchTo(ccd uint16, target address.PspAddr) error {
	if err := c.validateCcd(ccd); err != nil {
		return err
	}
	return c.eng.BranchTo(ccd, target)
}
