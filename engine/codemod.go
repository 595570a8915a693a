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
	"errors"
	"time"

	"github.com/amdpsp/pspproxy/address"
	"github.com/amdpsp/pspproxy/errs"
	"github.com/amdpsp/pspproxy/iosink"
	"github.com/amdpsp/pspproxy/pdu"
)

// inputBufChunk is the largest slice of input-buffer data the runloop
// sends per InputBufWrite, matching the stub's own 512-byte stack
// buffer for this path.
const inputBufChunk = 512

// pollInterval is the runloop's own recv timeout while waiting for
// CodeModExecFinished: short enough that a module polling its input
// buffer gets fed promptly, matching the stub's 1ms recv timeout.
const pollInterval = time.Millisecond

// ExecCodeMod starts a previously loaded module running at entry with
// the given register arguments, then drives the cooperative runloop
// until the module reports completion: each iteration polls the
// transport briefly, dispatches any LogMsg/OutputBufWrite notifications
// to sink (Irq notifications go to the per-CCD interrupt state WFI
// reads), and on a timeout checks sink for input-buffer
// data to push with InputBufWrite. This function does not return until
// CodeModExecFinished arrives or an error (including a panic recovered
// from sink, see runloopStep) aborts the run.
func (c *Context) ExecCodeMod(ccd uint16, entry address.PspAddr, args [3]uint32, sink iosink.Sink) (uint32, error) {
	if err := c.requireConnected("engine.ExecCodeMod"); err != nil {
		return 0, err
	}
	if sink == nil {
		sink = iosink.NewBuffered()
	}

	req := pdu.ExecCodeModReq{EntryAddr: uint32(entry), Arg0: args[0], Arg1: args[1], Arg2: args[2]}
	b := make([]byte, 16)
	req.FastWrite(b)
	if err := c.send(pdu.ReqExecCodeMod, ccd, b); err != nil {
		return 0, err
	}
	if _, err := c.awaitResponse(pdu.RespExecCodeMod); err != nil {
		return 0, err
	}

	c.activeSink = sink
	defer func() { c.activeSink = nil }()

	for {
		done, retval, err := c.runloopStep(ccd, sink)
		if err != nil {
			return 0, err
		}
		if done {
			return retval, nil
		}
	}
}

// runloopStep runs one iteration of the cooperative runloop: it is
// wrapped in a recover the way concurrency/gopool wraps pooled closures,
// because sink is caller-supplied and must not be able to take the
// whole Context down with it.
func (c *Context) runloopStep(ccd uint16, sink iosink.Sink) (done bool, retval uint32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.KindArgument, "engine.runloopStep", "panic in HostIoSink callback")
		}
	}()

	for i, f := range c.pendingFrames {
		if f.Header.RrnID == pdu.NotifyCodeModExecFinished {
			c.pendingFrames = append(c.pendingFrames[:i], c.pendingFrames[i+1:]...)
			var n pdu.CodeModExecFinishedNotification
			if _, derr := n.FastRead(f.Payload); derr != nil {
				return false, 0, errs.Wrap(errs.KindFraming, "engine.runloopStep", "decode CodeModExecFinished", derr)
			}
			return true, n.ReturnValue, nil
		}
	}

	pollErr := c.prov.Poll(pollInterval)
	switch {
	case pollErr == nil:
		if perr := c.pumpOnce(); perr != nil {
			return false, 0, perr
		}
		return false, 0, nil
	case isTimeout(pollErr):
		avail := sink.InBufPeek(ccd)
		if avail == 0 {
			return false, 0, nil
		}
		if avail > inputBufChunk {
			avail = inputBufChunk
		}
		buf := make([]byte, avail)
		n := sink.InBufRead(ccd, buf)
		if n == 0 {
			return false, 0, nil
		}
		return false, 0, c.sendInputBufWrite(ccd, buf[:n])
	default:
		return false, 0, pollErr
	}
}

func (c *Context) sendInputBufWrite(ccd uint16, data []byte) error {
	req := pdu.InBufWrReq{Offset: 0, Length: uint32(len(data))}
	hdr := make([]byte, 8)
	req.FastWrite(hdr)
	payload := append(hdr, data...)
	if err := c.send(pdu.ReqInputBufWrite, ccd, payload); err != nil {
		return err
	}
	_, err := c.awaitResponse(pdu.RespInputBufWrite)
	return err
}

func isTimeout(err error) bool {
	return errors.Is(err, errs.Timeout)
}
