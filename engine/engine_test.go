package engine

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspproxy/address"
	"github.com/amdpsp/pspproxy/errs"
	"github.com/amdpsp/pspproxy/pdu"
)

// fakeStub is a minimal in-memory stand-in for the PSP stub: it decodes
// whatever Context writes to it with a pdu.Receiver of its own and
// answers a handful of request kinds synchronously, enough to exercise
// Context's Connect handshake and a couple of request/response ops
// without any real transport.
type fakeStub struct {
	mu         sync.Mutex
	toHost     bytes.Buffer // frames the stub has queued for the host to Read
	rx         *pdu.Receiver
	txSeq      uint32
	smnVal     uint32
	pspMmio    uint32
	x86Mem     uint32
	x86Mmio    uint32
	coProc     uint32
	lastCoProc pdu.CoProcReq
}

func newFakeStub() *fakeStub {
	s := &fakeStub{rx: pdu.NewReceiver(pdu.HostToStub), txSeq: 1}
	s.rx.SetConnected(false)
	s.pushBeacon(1)
	return s
}

func (s *fakeStub) pushBeacon(count uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, count)
	s.encode(pdu.NotifyBeacon, 0, b)
}

// pushIrq queues a NotifyIrq frame for ccd with pending bits as given
// (bit0=IRQ, bit1=FIQ), mimicking an interrupt arriving asynchronously.
func (s *fakeStub) pushIrq(ccd uint16, pending uint32) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], ccd)
	binary.LittleEndian.PutUint32(b[4:8], pending)
	s.encode(pdu.NotifyIrq, ccd, b)
}

func (s *fakeStub) encode(id pdu.RrnID, ccd uint16, payload []byte) {
	hdr := pdu.Header{RrnID: id, CcdID: ccd, SeqNum: s.txSeq}
	s.txSeq++
	pdu.Encode(&s.toHost, pdu.StubToHost, hdr, payload)
}

// handle feeds incoming host bytes to the stub's own receiver and
// answers each completed request frame.
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
		resp := pdu.ConnectResponse{
			MaxPduSize:    512,
			ScratchBase:   0x1000,
			ScratchSize:   0x2000,
			SysSockets:    1,
			CcdsPerSocket: 2,
		}
		b := make([]byte, 16)
		resp.FastWrite(b)
		s.encode(pdu.RespConnect, f.Header.CcdID, b)

	case pdu.ReqSmnRead:
		var req pdu.SmnXferReq
		req.FastRead(f.Payload)
		resp := pdu.XferResp{Status: 0, Value: s.smnVal}
		b := make([]byte, 8)
		resp.FastWrite(b)
		s.encode(pdu.RespSmnRead, f.Header.CcdID, b)

	case pdu.ReqSmnWrite:
		var req pdu.SmnXferReq
		req.FastRead(f.Payload)
		s.smnVal = req.Value
		resp := pdu.XferResp{Status: 0}
		b := make([]byte, 8)
		resp.FastWrite(b)
		s.encode(pdu.RespSmnWrite, f.Header.CcdID, b)

	case pdu.ReqDataXfer:
		var req pdu.DataXferReq
		req.FastRead(f.Payload)
		resp := pdu.XferResp{Status: 0}
		b := make([]byte, 8)
		resp.FastWrite(b)
		if req.Flags&pdu.XferRead != 0 {
			data := make([]byte, req.Length)
			for i := range data {
				data[i] = byte(i)
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

	case pdu.ReqCoProcRead:
		var req pdu.CoProcReq
		req.FastRead(f.Payload)
		s.lastCoProc = req
		resp := pdu.XferResp{Status: 0, Value: s.coProc}
		b := make([]byte, 8)
		resp.FastWrite(b)
		s.encode(pdu.RespCoProcRead, f.Header.CcdID, b)

	case pdu.ReqCoProcWrite:
		var req pdu.CoProcReq
		req.FastRead(f.Payload)
		s.lastCoProc = req
		s.coProc = binary.LittleEndian.Uint32(f.Payload[8:12])
		resp := pdu.XferResp{Status: 0}
		b := make([]byte, 8)
		resp.FastWrite(b)
		s.encode(pdu.RespCoProcWrite, f.Header.CcdID, b)
	}
}

// fakeProvider implements provider.Provider against a fakeStub entirely
// in memory: Write feeds the stub, Read drains whatever the stub has
// queued, Poll reports whether the stub has anything queued yet.
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

func newConnectedContext(t *testing.T) (*Context, *fakeStub) {
	t.Helper()
	stub := newFakeStub()
	prov := &fakeProvider{stub: stub}
	c := New(prov, nil)
	_, err := c.Connect()
	require.NoError(t, err)
	return c, stub
}

func TestConnectHandshake(t *testing.T) {
	c, _ := newConnectedContext(t)
	info := c.Info()
	require.EqualValues(t, 512, info.MaxPduSize)
	require.EqualValues(t, 2, info.Ccds)
	require.EqualValues(t, 0x1000, info.ScratchBase)
}

func TestSmnReadWriteRoundTrip(t *testing.T) {
	c, _ := newConnectedContext(t)

	require.NoError(t, c.SmnWrite(0, address.SmnAddr{Target: 1, Offset: 0x100}, 0xcafef00d))
	v, err := c.SmnRead(0, address.SmnAddr{Target: 1, Offset: 0x100})
	require.NoError(t, err)
	require.EqualValues(t, 0xcafef00d, v)
}

func TestDataXferReadChunksAcrossNegotiatedStride(t *testing.T) {
	c, _ := newConnectedContext(t)

	data, err := c.DataXferRead(0, address.NewPspMem(0x2000), 1000)
	require.NoError(t, err)
	require.Len(t, data, 1000)
}

func TestOperationsRequireConnect(t *testing.T) {
	stub := newFakeStub()
	prov := &fakeProvider{stub: stub}
	c := New(prov, nil)

	_, err := c.SmnRead(0, address.SmnAddr{})
	require.Error(t, err)
}

func TestPspMmioReadWriteRoundTrip(t *testing.T) {
	c, _ := newConnectedContext(t)

	require.NoError(t, c.PspMmioWrite(0, 0x3000, 0x11223344))
	v, err := c.PspMmioRead(0, 0x3000)
	require.NoError(t, err)
	require.EqualValues(t, 0x11223344, v)
}

func TestX86MemReadWriteRoundTrip(t *testing.T) {
	c, _ := newConnectedContext(t)

	require.NoError(t, c.X86MemWrite(0, 0x80000000, address.CachingUncached, 0xdeadbeef))
	v, err := c.X86MemRead(0, 0x80000000, address.CachingUncached)
	require.NoError(t, err)
	require.EqualValues(t, 0xdeadbeef, v)
}

func TestCoProcReadWriteUsesSelectorFieldsNotAnAddress(t *testing.T) {
	c, stub := newConnectedContext(t)

	require.NoError(t, c.CoProcWrite(0, 15, 1, 0, 0, 2, 0x42))
	require.EqualValues(t, 15, stub.lastCoProc.IdCoProc)
	require.EqualValues(t, 1, stub.lastCoProc.Crn)
	require.EqualValues(t, 0, stub.lastCoProc.Crm)
	require.EqualValues(t, 0, stub.lastCoProc.Opc1)
	require.EqualValues(t, 2, stub.lastCoProc.Opc2)

	v, err := c.CoProcRead(0, 15, 1, 0, 0, 2)
	require.NoError(t, err)
	require.EqualValues(t, 0x42, v)
}

func TestLastStatusReflectsMostRecentResponse(t *testing.T) {
	c, _ := newConnectedContext(t)

	require.EqualValues(t, 0, c.LastStatus())
	require.NoError(t, c.SmnWrite(0, address.SmnAddr{Target: 1, Offset: 0x100}, 1))
	require.EqualValues(t, 0, c.LastStatus())
}

func TestWFIReturnsLowestPendingCcdAndClearsIt(t *testing.T) {
	c, stub := newConnectedContext(t)

	stub.pushIrq(1, 0x3) // IRQ+FIQ on ccd 1
	stub.pushIrq(0, 0x1) // IRQ only on ccd 0

	r, err := c.WFI(time.Second)
	require.NoError(t, err)
	require.True(t, r.Changed)
	require.EqualValues(t, 0, r.Ccd)
	require.True(t, r.Irq)
	require.False(t, r.Fiq)

	r2, err := c.WFI(time.Second)
	require.NoError(t, err)
	require.True(t, r2.Changed)
	require.EqualValues(t, 1, r2.Ccd)
	require.True(t, r2.Irq)
	require.True(t, r2.Fiq)

	r3, err := c.WFI(0)
	require.NoError(t, err)
	require.False(t, r3.Changed)
}

func TestWFIZeroTimeoutNoChange(t *testing.T) {
	c, _ := newConnectedContext(t)

	r, err := c.WFI(0)
	require.NoError(t, err)
	require.False(t, r.Changed)
}
