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

package proxy

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspproxy/address"
	"github.com/amdpsp/pspproxy/engine"
	"github.com/amdpsp/pspproxy/errs"
	"github.com/amdpsp/pspproxy/pdu"
	"github.com/amdpsp/pspproxy/scratch"
)

// fakeStub is a trimmed-down stand-in for the PSP stub, just enough to
// exercise ProxyContext's address-space routing without a real
// transport: see engine's own fakeStub for the fuller version this is
// modeled on.
type fakeStub struct {
	mu      sync.Mutex
	toHost  bytes.Buffer
	rx      *pdu.Receiver
	txSeq   uint32
	pspMmio uint32
	x86Mem  uint32
}

func newFakeStub() *fakeStub {
	s := &fakeStub{rx: pdu.NewReceiver(pdu.HostToStub), txSeq: 1}
	s.rx.SetConnected(false)
	s.encode(pdu.NotifyBeacon, 0, []byte{1, 0, 0, 0})
	return s
}

func (s *fakeStub) encode(id pdu.RrnID, ccd uint16, payload []byte) {
	hdr := pdu.Header{RrnID: id, CcdID: ccd, SeqNum: s.txSeq}
	s.txSeq++
	pdu.Encode(&s.toHost, pdu.StubToHost, hdr, payload)
}

func (s *fakeStub) handle(b []byte) error {
	frames, err := s.rx.Feed(b, nil)
	if err != nil {
		return err
	}
	for _, f := range frames {
		s.respond(f)
	}
	return nil
}

func (s *fakeStub) respond(f pdu.Frame) {
	switch f.Header.RrnID {
	case pdu.ReqConnect:
		s.rx.SetConnected(true)
		s.rx.SetCcdCount(2)
		resp := pdu.ConnectResponse{MaxPduSize: 512, ScratchBase: 0x1000, ScratchSize: 0x2000, SysSockets: 1, CcdsPerSocket: 2}
		b := make([]byte, 16)
		resp.FastWrite(b)
		s.encode(pdu.RespConnect, f.Header.CcdID, b)

	case pdu.ReqDataXfer:
		var req pdu.DataXferReq
		req.FastRead(f.Payload)
		resp := pdu.XferResp{Status: 0}
		b := make([]byte, 8)
		resp.FastWrite(b)
		if req.Flags&pdu.XferRead != 0 {
			data := make([]byte, req.Length)
			for i := range data {
				data[i] = byte(0xAB)
			}
			b = append(b, data...)
		}
		s.encode(pdu.RespDataXfer, f.Header.CcdID, b)

	case pdu.ReqPspMmioRead:
		resp := pdu.XferResp{Status: 0, Value: s.pspMmio}
		b := make([]byte, 8)
		resp.FastWrite(b)
		s.encode(pdu.RespPspMmioRead, f.Header.CcdID, b)

	case pdu.ReqPspMmioWrite:
		var req pdu.PspXferReq
		req.FastRead(f.Payload)
		s.pspMmio = req.Value
		resp := pdu.XferResp{Status: 0}
		b := make([]byte, 8)
		resp.FastWrite(b)
		s.encode(pdu.RespPspMmioWrite, f.Header.CcdID, b)

	case pdu.ReqX86MemRead:
		resp := pdu.XferResp{Status: 0, Value: s.x86Mem}
		b := make([]byte, 8)
		resp.FastWrite(b)
		s.encode(pdu.RespX86MemRead, f.Header.CcdID, b)

	case pdu.ReqX86MemWrite:
		var req pdu.X86XferReq
		req.FastRead(f.Payload)
		s.x86Mem = req.Value
		resp := pdu.XferResp{Status: 0}
		b := make([]byte, 8)
		resp.FastWrite(b)
		s.encode(pdu.RespX86MemWrite, f.Header.CcdID, b)
	}
}

type fakeProvider struct {
	stub *fakeStub
}

func (p *fakeProvider) Connect() error { return nil }
func (p *fakeProvider) Close() error   { return nil }

func (p *fakeProvider) Peek() (int, error) {
	p.stub.mu.Lock()
	defer p.stub.mu.Unlock()
	return p.stub.toHost.Len(), nil
}

func (p *fakeProvider) Read(b []byte) (int, error) {
	p.stub.mu.Lock()
	defer p.stub.mu.Unlock()
	return p.stub.toHost.Read(b)
}

func (p *fakeProvider) Write(b []byte) (int, error) {
	if err := p.stub.handle(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *fakeProvider) Poll(timeout time.Duration) error {
	n, _ := p.Peek()
	if n > 0 {
		return nil
	}
	return errs.New(errs.KindTimeout, "fakeProvider.Poll", "nothing queued")
}

func (p *fakeProvider) Interrupt() error { return nil }

func newConnectedContext(t *testing.T) *Context {
	t.Helper()
	stub := newFakeStub()
	prov := &fakeProvider{stub: stub}
	eng := engine.New(prov, nil)
	info, err := eng.Connect()
	require.NoError(t, err)

	return &Context{
		prov:    prov,
		eng:     eng,
		scratch: scratch.New(info.ScratchBase, info.ScratchSize),
	}
}

func TestReadWritePspMemRoutesThroughDataXfer(t *testing.T) {
	c := newConnectedContext(t)

	data, err := c.Read(0, address.NewPspMem(0x2000), 16)
	require.NoError(t, err)
	require.Len(t, data, 16)
}

func TestReadWritePspMmioRoutesThroughScalarOp(t *testing.T) {
	c := newConnectedContext(t)

	require.NoError(t, c.Write(0, address.NewPspMmio(0x3000), []byte{0x44, 0x33, 0x22, 0x11}))
	data, err := c.Read(0, address.NewPspMmio(0x3000), 4)
	require.NoError(t, err)
	require.EqualValues(t, 0x11223344, binary.LittleEndian.Uint32(data))
}

func TestReadWriteX86MemRoutesThroughScalarOp(t *testing.T) {
	c := newConnectedContext(t)

	require.NoError(t, c.Write(0, address.NewX86Mem(0x80000000, address.CachingUncached), []byte{0xef, 0xbe, 0xad, 0xde}))
	data, err := c.Read(0, address.NewX86Mem(0x80000000, address.CachingUncached), 4)
	require.NoError(t, err)
	require.EqualValues(t, 0xdeadbeef, binary.LittleEndian.Uint32(data))
}

func TestReadRejectsNonWordLengthOnScalarSpace(t *testing.T) {
	c := newConnectedContext(t)

	_, err := c.Read(0, address.NewPspMmio(0x3000), 8)
	require.Error(t, err)
	var perr *errs.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, errs.KindUnsupported, perr.Kind)
}

func TestMemsetRejectsNonPspMemSpace(t *testing.T) {
	c := newConnectedContext(t)

	err := c.Memset(0, address.NewX86Mem(0x80000000, address.CachingUncached), 4, 0xAA)
	require.Error(t, err)
	var perr *errs.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, errs.KindUnsupported, perr.Kind)
}

func TestWFIWrapperDelegatesToEngine(t *testing.T) {
	c := newConnectedContext(t)

	r, err := c.WFI(0)
	require.NoError(t, err)
	require.False(t, r.Changed)
}
