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

// Package engine implements PduEngine: the single-threaded request/
// response/notification exchange over a provider.Provider, including the
// connect handshake, chunked bulk transfers, and the code-module
// upload/execute runloop.
package engine

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amdpsp/pspproxy/errs"
	"github.com/amdpsp/pspproxy/iosink"
	"github.com/amdpsp/pspproxy/pdu"
	"github.com/amdpsp/pspproxy/provider"
)

// defaultPollInterval is how long a single Poll call waits before
// Context retries while awaiting a beacon or a response; the
// code-module runloop uses its own, much shorter pollInterval.
const defaultPollInterval = time.Second

// maxCcds is the hard upper bound on CCD index the protocol allows,
// independent of the (usually smaller) count negotiated at Connect;
// it sizes the per-CCD interrupt state WFI consumes.
const maxCcds = 16

// ccdIrqState is the latest unconsumed NotifyIrq for one CCD: which
// lines are pending and whether a WFI caller has already been told
// about this change.
type ccdIrqState struct {
	irq     bool
	fiq     bool
	pending bool
}

// Info is what Connect learns about the stub's session parameters.
type Info struct {
	MaxPduSize    uint32
	ScratchBase   uint32
	ScratchSize   uint32
	SysSockets    uint16
	CcdsPerSocket uint16
	Ccds          uint16
}

// Context is one PDU engine bound to a single Provider. It is not safe
// for concurrent use: exactly one goroutine drives Connect/Send/Recv/
// ExecCodeMod for the lifetime of the Context, mirroring the single-
// threaded PSPSTUBPDUCTXINT this is modeled on.
type Context struct {
	prov provider.Provider
	log  *logrus.Logger

	rx *pdu.Receiver

	txSeq     uint32
	connected bool
	info      Info

	beaconsSeen   uint32
	haveBeacon    bool
	pendingFrames []pdu.Frame
	recvScratch   []byte

	// activeSink is set only while ExecCodeMod's runloop is driving this
	// Context, so that LogMsg/OutputBufWrite notifications arriving
	// during ordinary request/response calls are simply dropped
	// (there's no one to tell). Irq notifications are always recorded
	// in irqState regardless of activeSink, since WFI is a standalone
	// operation independent of any running code module.
	activeSink iosink.Sink
	logAsm     map[uint16]*iosink.LineAssembler

	irqState       [maxCcds]ccdIrqState
	irqPendingCcds int

	// lastStatus is the stub-side status code of the most recent
	// request/response exchange, surfaced by LastStatus for the
	// query-last-request-status operation.
	lastStatus uint32
}

// Direction is re-exported from pdu for callers that construct a
// Context directly against a Provider without going through proxy.
type Direction = pdu.Direction

const (
	HostToStub = pdu.HostToStub
	StubToHost = pdu.StubToHost
)

// New binds a Context to prov. prov must already be connected at the
// transport level (provider.Provider.Connect already called); Context's
// own Connect performs the PDU-level handshake on top of that.
func New(prov provider.Provider, log *logrus.Logger) *Context {
	if log == nil {
		log = logrus.New()
	}
	return &Context{
		prov:        prov,
		log:         log,
		rx:          pdu.NewReceiver(pdu.StubToHost),
		recvScratch: make([]byte, 4096),
		logAsm:      make(map[uint16]*iosink.LineAssembler),
	}
}

// Connect performs the PDU-level handshake: wait for the stub's first
// beacon (proof of life), send Connect, and await ConnectResponse.
func (c *Context) Connect() (Info, error) {
	if err := c.waitForBeacon(); err != nil {
		return Info{}, err
	}

	c.txSeq = 1
	if err := c.send(pdu.ReqConnect, 0, nil); err != nil {
		return Info{}, err
	}
	frame, err := c.awaitResponse(pdu.RespConnect)
	if err != nil {
		return Info{}, err
	}
	var resp pdu.ConnectResponse
	if _, err := resp.FastRead(frame.Payload); err != nil {
		return Info{}, errs.Wrap(errs.KindFraming, "engine.Connect", "decode ConnectResponse", err)
	}

	c.info = Info{
		MaxPduSize:    resp.MaxPduSize,
		ScratchBase:   resp.ScratchBase,
		ScratchSize:   resp.ScratchSize,
		SysSockets:    resp.SysSockets,
		CcdsPerSocket: resp.CcdsPerSocket,
		Ccds:          resp.Ccds,
	}
	c.connected = true
	c.rx.SetConnected(true)
	c.rx.SetCcdCount(resp.Ccds)
	return c.info, nil
}

// Info returns the session parameters learned at Connect, valid only
// after Connect succeeds.
func (c *Context) Info() Info { return c.info }

// LastStatus returns the stub-reported status code of the most recent
// request, per the query-last-request-status operation.
func (c *Context) LastStatus() uint32 { return c.lastStatus }

func (c *Context) waitForBeacon() error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := c.prov.Poll(defaultPollInterval); err != nil {
			if errors.Is(err, errs.Timeout) {
				continue
			}
			return err
		}
		if err := c.pumpOnce(); err != nil {
			return err
		}
		if c.haveBeacon {
			return nil
		}
	}
	return errs.New(errs.KindTimeout, "engine.waitForBeacon", "no beacon observed")
}

// pumpOnce reads whatever is currently available from the provider and
// feeds it to the receive state machine, dispatching any notifications
// it completes and queuing any responses for awaitResponse.
func (c *Context) pumpOnce() error {
	n, err := c.prov.Read(c.recvScratch)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	frames, err := c.rx.Feed(c.recvScratch[:n], nil)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := c.dispatch(f); err != nil {
			return err
		}
	}
	return nil
}

// dispatch handles a completed frame: notifications are consumed here,
// everything else (responses) is queued for awaitResponse to claim.
func (c *Context) dispatch(f pdu.Frame) error {
	switch {
	case f.Header.RrnID == pdu.NotifyBeacon:
		var n pdu.BeaconNotification
		if _, err := n.FastRead(f.Payload); err != nil {
			return errs.Wrap(errs.KindFraming, "engine.dispatch", "decode Beacon", err)
		}
		if !c.haveBeacon {
			c.haveBeacon = true
			c.beaconsSeen = n.Count
			return nil
		}
		if c.connected && n.Count != c.beaconsSeen+1 {
			c.log.WithFields(logrus.Fields{"seen": c.beaconsSeen, "got": n.Count}).Warn("beacon count regressed, stub restarted")
			return errs.New(errs.KindReset, "engine.dispatch", "beacon regression: stub restarted")
		}
		c.beaconsSeen = n.Count
		return nil

	case f.Header.RrnID == pdu.NotifyLogMsg:
		if c.activeSink == nil {
			return nil
		}
		asm, ok := c.logAsm[f.Header.CcdID]
		if !ok {
			asm = iosink.NewLineAssembler()
			c.logAsm[f.Header.CcdID] = asm
		}
		for _, line := range asm.Feed(f.Payload) {
			c.activeSink.LogLine(f.Header.CcdID, line)
		}
		return nil

	case f.Header.RrnID == pdu.NotifyOutputBufWrite:
		var n pdu.OutBufWriteNotification
		if _, err := n.FastRead(f.Payload); err == nil && c.activeSink != nil {
			data := f.Payload[outBufWriteHeaderSize(f.Payload):]
			c.activeSink.OutBufWrite(f.Header.CcdID, n.Offset, data)
		}
		return nil

	case f.Header.RrnID == pdu.NotifyIrq:
		var n pdu.IrqNotification
		if _, err := n.FastRead(f.Payload); err != nil {
			return errs.Wrap(errs.KindFraming, "engine.dispatch", "decode Irq", err)
		}
		if n.CcdID >= maxCcds {
			return errs.New(errs.KindFraming, "engine.dispatch", "irq notification for out-of-range ccd")
		}
		st := &c.irqState[n.CcdID]
		if !st.pending {
			c.irqPendingCcds++
		}
		st.irq = n.Pending&0x1 != 0
		st.fiq = n.Pending&0x2 != 0
		st.pending = true
		return nil

	case f.Header.RrnID == pdu.NotifyCodeModExecFinished:
		c.pendingFrames = append(c.pendingFrames, f)
		return nil

	case f.Header.RrnID.IsResponse():
		c.pendingFrames = append(c.pendingFrames, f)
		return nil

	default:
		return errs.New(errs.KindUnexpectedPdu, "engine.dispatch", f.Header.RrnID.String())
	}
}

func outBufWriteHeaderSize(payload []byte) int {
	const hdr = 8
	if len(payload) < hdr {
		return len(payload)
	}
	return hdr
}

// send encodes and writes one PDU.
func (c *Context) send(id pdu.RrnID, ccd uint16, payload []byte) error {
	hdr := pdu.Header{RrnID: id, CcdID: ccd, SeqNum: c.txSeq}
	if err := pdu.Encode(writerFunc(c.prov.Write), pdu.HostToStub, hdr, payload); err != nil {
		return err
	}
	c.txSeq++
	return nil
}

// awaitResponse blocks until a frame with RrnID want has been dispatched
// into pendingFrames, pumping the provider as needed.
func (c *Context) awaitResponse(want pdu.RrnID) (pdu.Frame, error) {
	for {
		for i, f := range c.pendingFrames {
			if f.Header.RrnID == want {
				c.pendingFrames = append(c.pendingFrames[:i], c.pendingFrames[i+1:]...)
				return f, nil
			}
		}
		if err := c.prov.Poll(defaultPollInterval); err != nil {
			if errors.Is(err, errs.Timeout) {
				continue
			}
			return pdu.Frame{}, err
		}
		if err := c.pumpOnce(); err != nil {
			return pdu.Frame{}, err
		}
	}
}

// writerFunc adapts a Write(b []byte) (int, error) method to io.Writer.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }

// WfiResult is what WFI reports. Changed is false for the NoChange
// case: timeout elapsed (or was zero) with no CCD's interrupt state
// having an unconsumed change.
type WfiResult struct {
	Ccd     uint16
	Irq     bool
	Fiq     bool
	Changed bool
}

// WFI waits up to timeout for an interrupt-pending change on any CCD,
// the Go equivalent of PSPProxyCtxPspWaitForIrq(hCtx, pidCcd, pfIrq,
// pfFirq, cWaitMs): if any CCD already has an unconsumed pending
// change, the lowest-numbered one is returned immediately and its
// marker cleared; otherwise, for a nonzero timeout, Irq notifications
// are pumped from the transport until one arrives or timeout elapses.
// A zero timeout with nothing pending returns the NoChange result
// (Changed false) without blocking.
func (c *Context) WFI(timeout time.Duration) (WfiResult, error) {
	if err := c.requireConnected("engine.WFI"); err != nil {
		return WfiResult{}, err
	}
	if r, ok := c.consumeLowestPendingIrq(); ok {
		return r, nil
	}
	if timeout <= 0 {
		return WfiResult{}, nil
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return WfiResult{}, nil
		}
		poll := defaultPollInterval
		if remaining < poll {
			poll = remaining
		}
		err := c.prov.Poll(poll)
		switch {
		case err == nil:
			if perr := c.pumpOnce(); perr != nil {
				return WfiResult{}, perr
			}
			if r, ok := c.consumeLowestPendingIrq(); ok {
				return r, nil
			}
		case errors.Is(err, errs.Timeout):
			continue
		default:
			return WfiResult{}, err
		}
	}
}

// consumeLowestPendingIrq returns and clears the lowest-numbered CCD's
// pending interrupt state, or ok=false if none is pending.
func (c *Context) consumeLowestPendingIrq() (WfiResult, bool) {
	for ccd := range c.irqState {
		st := &c.irqState[ccd]
		if !st.pending {
			continue
		}
		r := WfiResult{Ccd: uint16(ccd), Irq: st.irq, Fiq: st.fiq, Changed: true}
		st.pending = false
		c.irqPendingCcds--
		return r, true
	}
	return WfiResult{}, false
}
