/*
 * Copyright 2024 CloudWeGo Authors
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

package pdu

import (
	"encoding/binary"
	"fmt"
)

// This file defines the fixed-layout payload structs carried inside PDU
// bodies, each with FastRead/FastWrite methods in the style of
// protocol/thrift's generated codecs: no reflection, no intermediate
// marshaling buffer, errors reported as plain fmt-wrapped values since a
// truncated payload here always means a framing bug upstream rather than
// something worth a typed errs.Error.

// ConnectResponse is the payload of RespConnect: the session parameters
// the stub hands back once it accepts a Connect request.
type ConnectResponse struct {
	MaxPduSize    uint32
	ScratchBase   uint32
	ScratchSize   uint32
	SysSockets    uint16
	CcdsPerSocket uint16
	Ccds          uint16
	_             uint16 // alignment pad
}

const connectResponseSize = 16

func (c *ConnectResponse) FastWrite(b []byte) int {
	binary.LittleEndian.PutUint32(b[0:4], c.MaxPduSize)
	binary.LittleEndian.PutUint32(b[4:8], c.ScratchBase)
	binary.LittleEndian.PutUint32(b[8:12], c.ScratchSize)
	binary.LittleEndian.PutUint16(b[12:14], c.SysSockets)
	binary.LittleEndian.PutUint16(b[14:16], c.CcdsPerSocket)
	return connectResponseSize
}

func (c *ConnectResponse) FastRead(b []byte) (int, error) {
	if len(b) < connectResponseSize {
		return 0, fmt.Errorf("pdu: ConnectResponse: short payload (%d bytes)", len(b))
	}
	c.MaxPduSize = binary.LittleEndian.Uint32(b[0:4])
	c.ScratchBase = binary.LittleEndian.Uint32(b[4:8])
	c.ScratchSize = binary.LittleEndian.Uint32(b[8:12])
	c.SysSockets = binary.LittleEndian.Uint16(b[12:14])
	c.CcdsPerSocket = binary.LittleEndian.Uint16(b[14:16])
	c.Ccds = c.SysSockets * c.CcdsPerSocket
	return connectResponseSize, nil
}

// SmnXferReq is the payload of ReqSmnRead/ReqSmnWrite: an SMN register
// access, which names both the CCD the request is routed through (in the
// PDU header's CcdID) and the CCD that owns the target register.
type SmnXferReq struct {
	CcdTarget uint32
	SmnAddr   uint32
	Value     uint32 // write value; ignored on read
}

const smnXferReqSize = 12

func (r *SmnXferReq) FastWrite(b []byte) int {
	binary.LittleEndian.PutUint32(b[0:4], r.CcdTarget)
	binary.LittleEndian.PutUint32(b[4:8], r.SmnAddr)
	binary.LittleEndian.PutUint32(b[8:12], r.Value)
	return smnXferReqSize
}

func (r *SmnXferReq) FastRead(b []byte) (int, error) {
	if len(b) < smnXferReqSize {
		return 0, fmt.Errorf("pdu: SmnXferReq: short payload (%d bytes)", len(b))
	}
	r.CcdTarget = binary.LittleEndian.Uint32(b[0:4])
	r.SmnAddr = binary.LittleEndian.Uint32(b[4:8])
	r.Value = binary.LittleEndian.Uint32(b[8:12])
	return smnXferReqSize, nil
}

// XferResp is the common response payload shape for a single-word
// read (PspMem/PspMmio/Smn/X86Mem/X86Mmio) or the status-only ack of a
// write.
type XferResp struct {
	Status uint32
	Value  uint32 // valid only for reads
}

const xferRespSize = 8

func (r *XferResp) FastWrite(b []byte) int {
	binary.LittleEndian.PutUint32(b[0:4], r.Status)
	binary.LittleEndian.PutUint32(b[4:8], r.Value)
	return xferRespSize
}

func (r *XferResp) FastRead(b []byte) (int, error) {
	if len(b) < xferRespSize {
		return 0, fmt.Errorf("pdu: XferResp: short payload (%d bytes)", len(b))
	}
	r.Status = binary.LittleEndian.Uint32(b[0:4])
	r.Value = binary.LittleEndian.Uint32(b[4:8])
	return xferRespSize, nil
}

// PspXferReq is the payload of ReqPspMemRead/Write and ReqPspMmioRead/Write.
type PspXferReq struct {
	Addr  uint32
	Value uint32 // write value; ignored on read
}

const pspXferReqSize = 8

func (r *PspXferReq) FastWrite(b []byte) int {
	binary.LittleEndian.PutUint32(b[0:4], r.Addr)
	binary.LittleEndian.PutUint32(b[4:8], r.Value)
	return pspXferReqSize
}

func (r *PspXferReq) FastRead(b []byte) (int, error) {
	if len(b) < pspXferReqSize {
		return 0, fmt.Errorf("pdu: PspXferReq: short payload (%d bytes)", len(b))
	}
	r.Addr = binary.LittleEndian.Uint32(b[0:4])
	r.Value = binary.LittleEndian.Uint32(b[4:8])
	return pspXferReqSize, nil
}

// X86XferReq is the payload of ReqX86MemRead/Write and ReqX86MmioRead/Write.
// The trailing pad bytes fill the struct out to 16 bytes, a multiple of
// 8, the way the stub's own struct layout does (they exist purely for
// that reason, never read on either side).
type X86XferReq struct {
	Addr     uint64
	Value    uint32
	Hint     uint8
	_        uint8
	_padWord uint16
}

const x86XferReqSize = 16

func (r *X86XferReq) FastWrite(b []byte) int {
	binary.LittleEndian.PutUint64(b[0:8], r.Addr)
	binary.LittleEndian.PutUint32(b[8:12], r.Value)
	b[12] = r.Hint
	b[13] = 0
	binary.LittleEndian.PutUint16(b[14:16], 0)
	return x86XferReqSize
}

func (r *X86XferReq) FastRead(b []byte) (int, error) {
	if len(b) < x86XferReqSize {
		return 0, fmt.Errorf("pdu: X86XferReq: short payload (%d bytes)", len(b))
	}
	r.Addr = binary.LittleEndian.Uint64(b[0:8])
	r.Value = binary.LittleEndian.Uint32(b[8:12])
	r.Hint = b[12]
	return x86XferReqSize, nil
}

// CoProcReq is the fixed header of ReqCoProcRead/ReqCoProcWrite: the
// five-byte coprocessor register selector the original calls idCoProc,
// idCrn, idCrm, idOpc1, idOpc2 (PSPProxyCtxPspCoProcRead/Write). A write
// appends the 32-bit value after this header; a read sends only the
// header.
type CoProcReq struct {
	IdCoProc uint8
	Crn      uint8
	Crm      uint8
	Opc1     uint8
	Opc2     uint8
	_        [3]byte
}

const coProcReqHeaderSize = 8

func (r *CoProcReq) FastWrite(b []byte) int {
	b[0] = r.IdCoProc
	b[1] = r.Crn
	b[2] = r.Crm
	b[3] = r.Opc1
	b[4] = r.Opc2
	return coProcReqHeaderSize
}

func (r *CoProcReq) FastRead(b []byte) (int, error) {
	if len(b) < coProcReqHeaderSize {
		return 0, fmt.Errorf("pdu: CoProcReq: short payload (%d bytes)", len(b))
	}
	r.IdCoProc = b[0]
	r.Crn = b[1]
	r.Crm = b[2]
	r.Opc1 = b[3]
	r.Opc2 = b[4]
	return coProcReqHeaderSize, nil
}

// DataXferReq is the payload of ReqDataXfer: a bulk, possibly chunked,
// memset-capable transfer against one of the PSP-local address spaces.
type DataXferReq struct {
	Addr    uint32
	Length  uint32
	Flags   XferFlags
	_       [3]byte
}

const dataXferReqHeaderSize = 12

// FastWrite writes only the fixed header; for writes, callers append the
// data after it.
func (r *DataXferReq) FastWrite(b []byte) int {
	binary.LittleEndian.PutUint32(b[0:4], r.Addr)
	binary.LittleEndian.PutUint32(b[4:8], r.Length)
	b[8] = byte(r.Flags)
	return dataXferReqHeaderSize
}

func (r *DataXferReq) FastRead(b []byte) (int, error) {
	if len(b) < dataXferReqHeaderSize {
		return 0, fmt.Errorf("pdu: DataXferReq: short payload (%d bytes)", len(b))
	}
	r.Addr = binary.LittleEndian.Uint32(b[0:4])
	r.Length = binary.LittleEndian.Uint32(b[4:8])
	r.Flags = XferFlags(b[8])
	return dataXferReqHeaderSize, nil
}

// LoadCodeModReq is the fixed header of ReqLoadCodeMod; the module image
// bytes follow, chunked across multiple PDUs by the engine when the image
// exceeds the negotiated max PDU size.
type LoadCodeModReq struct {
	TotalSize uint32
	Offset    uint32
	ChunkSize uint32
}

const loadCodeModReqHeaderSize = 12

func (r *LoadCodeModReq) FastWrite(b []byte) int {
	binary.LittleEndian.PutUint32(b[0:4], r.TotalSize)
	binary.LittleEndian.PutUint32(b[4:8], r.Offset)
	binary.LittleEndian.PutUint32(b[8:12], r.ChunkSize)
	return loadCodeModReqHeaderSize
}

func (r *LoadCodeModReq) FastRead(b []byte) (int, error) {
	if len(b) < loadCodeModReqHeaderSize {
		return 0, fmt.Errorf("pdu: LoadCodeModReq: short payload (%d bytes)", len(b))
	}
	r.TotalSize = binary.LittleEndian.Uint32(b[0:4])
	r.Offset = binary.LittleEndian.Uint32(b[4:8])
	r.ChunkSize = binary.LittleEndian.Uint32(b[8:12])
	return loadCodeModReqHeaderSize, nil
}

// ExecCodeModReq is the payload of ReqExecCodeMod: the scratch entry point
// and the register arguments the PSP should start the module with.
type ExecCodeModReq struct {
	EntryAddr uint32
	Arg0      uint32
	Arg1      uint32
	Arg2      uint32
}

const execCodeModReqSize = 16

func (r *ExecCodeModReq) FastWrite(b []byte) int {
	binary.LittleEndian.PutUint32(b[0:4], r.EntryAddr)
	binary.LittleEndian.PutUint32(b[4:8], r.Arg0)
	binary.LittleEndian.PutUint32(b[8:12], r.Arg1)
	binary.LittleEndian.PutUint32(b[12:16], r.Arg2)
	return execCodeModReqSize
}

func (r *ExecCodeModReq) FastRead(b []byte) (int, error) {
	if len(b) < execCodeModReqSize {
		return 0, fmt.Errorf("pdu: ExecCodeModReq: short payload (%d bytes)", len(b))
	}
	r.EntryAddr = binary.LittleEndian.Uint32(b[0:4])
	r.Arg0 = binary.LittleEndian.Uint32(b[4:8])
	r.Arg1 = binary.LittleEndian.Uint32(b[8:12])
	r.Arg2 = binary.LittleEndian.Uint32(b[12:16])
	return execCodeModReqSize, nil
}

// InBufWrReq is the payload of ReqInputBufWrite, sent by the engine's
// runloop in response to the running module polling its input buffer;
// data follows the fixed header.
type InBufWrReq struct {
	Offset uint32
	Length uint32
}

const inBufWrReqHeaderSize = 8

func (r *InBufWrReq) FastWrite(b []byte) int {
	binary.LittleEndian.PutUint32(b[0:4], r.Offset)
	binary.LittleEndian.PutUint32(b[4:8], r.Length)
	return inBufWrReqHeaderSize
}

func (r *InBufWrReq) FastRead(b []byte) (int, error) {
	if len(b) < inBufWrReqHeaderSize {
		return 0, fmt.Errorf("pdu: InBufWrReq: short payload (%d bytes)", len(b))
	}
	r.Offset = binary.LittleEndian.Uint32(b[0:4])
	r.Length = binary.LittleEndian.Uint32(b[4:8])
	return inBufWrReqHeaderSize, nil
}

// BranchToReq is the payload of ReqBranchTo, a one-way request with no
// response.
type BranchToReq struct {
	TargetAddr uint32
}

const branchToReqSize = 4

func (r *BranchToReq) FastWrite(b []byte) int {
	binary.LittleEndian.PutUint32(b[0:4], r.TargetAddr)
	return branchToReqSize
}

func (r *BranchToReq) FastRead(b []byte) (int, error) {
	if len(b) < branchToReqSize {
		return 0, fmt.Errorf("pdu: BranchToReq: short payload (%d bytes)", len(b))
	}
	r.TargetAddr = binary.LittleEndian.Uint32(b[0:4])
	return branchToReqSize, nil
}

// BeaconNotification is the payload of NotifyBeacon: a monotone counter of
// stub uptime ticks. Once connected, the engine takes any value other
// than the last one seen plus one to mean the stub restarted.
type BeaconNotification struct {
	Count uint32
}

const beaconNotificationSize = 4

func (n *BeaconNotification) FastRead(b []byte) (int, error) {
	if len(b) < beaconNotificationSize {
		return 0, fmt.Errorf("pdu: BeaconNotification: short payload (%d bytes)", len(b))
	}
	n.Count = binary.LittleEndian.Uint32(b[0:4])
	return beaconNotificationSize, nil
}

// IrqNotification is the payload of NotifyIrq: a per-CCD bitmap of
// interrupt lines now pending.
type IrqNotification struct {
	CcdID   uint16
	Pending uint32
}

const irqNotificationSize = 8

func (n *IrqNotification) FastRead(b []byte) (int, error) {
	if len(b) < irqNotificationSize {
		return 0, fmt.Errorf("pdu: IrqNotification: short payload (%d bytes)", len(b))
	}
	n.CcdID = binary.LittleEndian.Uint16(b[0:2])
	n.Pending = binary.LittleEndian.Uint32(b[4:8])
	return irqNotificationSize, nil
}

// OutBufWriteNotification is the payload of NotifyOutputBufWrite: the
// running module wrote to its output buffer. Data follows the fixed
// header.
type OutBufWriteNotification struct {
	Offset uint32
	Length uint32
}

const outBufWriteNotificationHeaderSize = 8

func (n *OutBufWriteNotification) FastRead(b []byte) (int, error) {
	if len(b) < outBufWriteNotificationHeaderSize {
		return 0, fmt.Errorf("pdu: OutBufWriteNotification: short payload (%d bytes)", len(b))
	}
	n.Offset = binary.LittleEndian.Uint32(b[0:4])
	n.Length = binary.LittleEndian.Uint32(b[4:8])
	return outBufWriteNotificationHeaderSize, nil
}

// CodeModExecFinishedNotification is the payload of
// NotifyCodeModExecFinished: the module's own return value.
type CodeModExecFinishedNotification struct {
	ReturnValue uint32
}

const codeModExecFinishedNotificationSize = 4

func (n *CodeModExecFinishedNotification) FastRead(b []byte) (int, error) {
	if len(b) < codeModExecFinishedNotificationSize {
		return 0, fmt.Errorf("pdu: CodeModExecFinishedNotification: short payload (%d bytes)", len(b))
	}
	n.ReturnValue = binary.LittleEndian.Uint32(b[0:4])
	return codeModExecFinishedNotificationSize, nil
}
