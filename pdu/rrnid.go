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

// RrnID is the Request/Response/Notification Identifier: the discriminant
// naming a PDU's kind. Requests, responses and notifications each live in
// their own numeric range so a single range check classifies an ID without
// a table lookup; an ID outside all three ranges fails header validation.
type RrnID uint16

const (
	requestFirst      = 0x0001
	requestInvalidEnd = 0x0100

	responseFirst      = 0x8001
	responseInvalidEnd = 0x8100

	notificationFirst      = 0xC001
	notificationInvalidEnd = 0xC100
)

// Request kinds.
const (
	ReqConnect RrnID = requestFirst + iota
	ReqSmnRead
	ReqSmnWrite
	ReqPspMemRead
	ReqPspMemWrite
	ReqPspMmioRead
	ReqPspMmioWrite
	ReqX86MemRead
	ReqX86MemWrite
	ReqX86MmioRead
	ReqX86MmioWrite
	ReqDataXfer
	ReqCoProcRead
	ReqCoProcWrite
	ReqLoadCodeMod
	ReqExecCodeMod
	ReqInputBufWrite
	ReqBranchTo
)

// Response kinds, in the same order as their request counterparts, offset
// into the response range.
const (
	RespConnect RrnID = responseFirst + iota
	RespSmnRead
	RespSmnWrite
	RespPspMemRead
	RespPspMemWrite
	RespPspMmioRead
	RespPspMmioWrite
	RespX86MemRead
	RespX86MemWrite
	RespX86MmioRead
	RespX86MmioWrite
	RespDataXfer
	RespCoProcRead
	RespCoProcWrite
	RespLoadCodeMod
	RespExecCodeMod
	RespInputBufWrite
)

// respForReq maps a request RrnID to its expected response RrnID. BranchTo
// has no response (one-way).
var respForReq = map[RrnID]RrnID{
	ReqConnect:       RespConnect,
	ReqSmnRead:       RespSmnRead,
	ReqSmnWrite:      RespSmnWrite,
	ReqPspMemRead:    RespPspMemRead,
	ReqPspMemWrite:   RespPspMemWrite,
	ReqPspMmioRead:   RespPspMmioRead,
	ReqPspMmioWrite:  RespPspMmioWrite,
	ReqX86MemRead:    RespX86MemRead,
	ReqX86MemWrite:   RespX86MemWrite,
	ReqX86MmioRead:   RespX86MmioRead,
	ReqX86MmioWrite:  RespX86MmioWrite,
	ReqDataXfer:      RespDataXfer,
	ReqCoProcRead:    RespCoProcRead,
	ReqCoProcWrite:   RespCoProcWrite,
	ReqLoadCodeMod:   RespLoadCodeMod,
	ReqExecCodeMod:   RespExecCodeMod,
	ReqInputBufWrite: RespInputBufWrite,
}

// ResponseFor returns the RrnID expected in response to req, and false for
// one-way requests (BranchTo) or unknown IDs.
func ResponseFor(req RrnID) (RrnID, bool) {
	r, ok := respForReq[req]
	return r, ok
}

// Notification kinds.
const (
	NotifyBeacon RrnID = notificationFirst + iota
	NotifyLogMsg
	NotifyOutputBufWrite
	NotifyIrq
	NotifyCodeModExecFinished
)

// IsRequest reports whether id falls in the request range.
func (id RrnID) IsRequest() bool { return id >= requestFirst && id < requestInvalidEnd }

// IsResponse reports whether id falls in the response range.
func (id RrnID) IsResponse() bool { return id >= responseFirst && id < responseInvalidEnd }

// IsNotification reports whether id falls in the notification range.
func (id RrnID) IsNotification() bool {
	return id >= notificationFirst && id < notificationInvalidEnd
}

// Valid reports whether id falls in exactly one of the three declared
// ranges, per the header-validation rule in the data model.
func (id RrnID) Valid() bool {
	return id.IsRequest() || id.IsResponse() || id.IsNotification()
}

var rrnidNames = map[RrnID]string{
	ReqConnect: "Connect", RespConnect: "ConnectResp",
	ReqSmnRead: "SmnRead", RespSmnRead: "SmnReadResp",
	ReqSmnWrite: "SmnWrite", RespSmnWrite: "SmnWriteResp",
	ReqPspMemRead: "PspMemRead", RespPspMemRead: "PspMemReadResp",
	ReqPspMemWrite: "PspMemWrite", RespPspMemWrite: "PspMemWriteResp",
	ReqPspMmioRead: "PspMmioRead", RespPspMmioRead: "PspMmioReadResp",
	ReqPspMmioWrite: "PspMmioWrite", RespPspMmioWrite: "PspMmioWriteResp",
	ReqX86MemRead: "X86MemRead", RespX86MemRead: "X86MemReadResp",
	ReqX86MemWrite: "X86MemWrite", RespX86MemWrite: "X86MemWriteResp",
	ReqX86MmioRead: "X86MmioRead", RespX86MmioRead: "X86MmioReadResp",
	ReqX86MmioWrite: "X86MmioWrite", RespX86MmioWrite: "X86MmioWriteResp",
	ReqDataXfer: "DataXfer", RespDataXfer: "DataXferResp",
	ReqCoProcRead: "CoProcRead", RespCoProcRead: "CoProcReadResp",
	ReqCoProcWrite: "CoProcWrite", RespCoProcWrite: "CoProcWriteResp",
	ReqLoadCodeMod: "LoadCodeMod", RespLoadCodeMod: "LoadCodeModResp",
	ReqExecCodeMod: "ExecCodeMod", RespExecCodeMod: "ExecCodeModResp",
	ReqInputBufWrite: "InputBufWrite", RespInputBufWrite: "InputBufWriteResp",
	ReqBranchTo: "BranchTo",

	NotifyBeacon: "Beacon", NotifyLogMsg: "LogMsg",
	NotifyOutputBufWrite: "OutputBufWrite", NotifyIrq: "Irq",
	NotifyCodeModExecFinished: "CodeModExecFinished",
}

func (id RrnID) String() string {
	if s, ok := rrnidNames[id]; ok {
		return s
	}
	return "unknown"
}

// DataXfer flags, carried in the DataXfer request's flags field.
type XferFlags uint8

const (
	XferRead XferFlags = 1 << iota
	XferWrite
	XferMemset
	XferIncrAddr
)
