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
	"io"

	"github.com/amdpsp/pspproxy/errs"
)

// Encode writes hdr and payload to w as three separate writes (header,
// padded payload, footer), mirroring the stub's own send path which never
// coalesces them into one buffer. The caller supplies the direction this
// process sends in; dir picks the magic pair stamped on the frame.
func Encode(w io.Writer, dir Direction, hdr Header, payload []byte) error {
	padded := PaddedLength(uint32(len(payload)))
	hdr.PayloadLength = uint32(len(payload))

	hb := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(hb[0:4], startMagic(dir))
	binary.LittleEndian.PutUint32(hb[4:8], hdr.PayloadLength)
	binary.LittleEndian.PutUint16(hb[8:10], uint16(hdr.RrnID))
	binary.LittleEndian.PutUint16(hb[10:12], hdr.CcdID)
	binary.LittleEndian.PutUint32(hb[12:16], hdr.SeqNum)

	pb := make([]byte, padded)
	copy(pb, payload)

	sum := checksumFor(append(append([]byte{}, hb...), pb...))
	fb := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(fb[0:4], sum)
	binary.LittleEndian.PutUint32(fb[4:8], endMagic(dir))

	if _, err := w.Write(hb); err != nil {
		return errs.Wrap(errs.KindProvider, "pdu.Encode", "write header", err)
	}
	if len(pb) > 0 {
		if _, err := w.Write(pb); err != nil {
			return errs.Wrap(errs.KindProvider, "pdu.Encode", "write payload", err)
		}
	}
	if _, err := w.Write(fb); err != nil {
		return errs.Wrap(errs.KindProvider, "pdu.Encode", "write footer", err)
	}
	return nil
}

// recvState is the receive state machine's current phase.
type recvState int

const (
	stateAwaitMagic recvState = iota
	stateHeader
	statePayload
	stateFooter
)

// Frame is one fully decoded and verified PDU.
type Frame struct {
	Header  Header
	Payload []byte
}

// Receiver implements the 4-phase receive state machine: AwaitMagic scans
// byte-wise for the expected start magic (resynchronizing after garbage or
// a partial frame), Header accumulates and validates the fixed header,
// Payload accumulates the padded body, and Footer accumulates and verifies
// the checksum and end magic before the frame is handed to the caller.
//
// A Receiver is single-threaded: it belongs to one PduEngine and is fed
// bytes as they arrive from the Provider, never concurrently.
type Receiver struct {
	dir   Direction
	state recvState

	acc    []byte // bytes accumulated for the current state
	need   int    // bytes still needed to complete the current state
	magic  [4]byte
	magicN int

	hdr        Header
	hdrBytes   []byte
	payload    []byte
	expectSeq  uint32
	ccds       uint16
	haveCcds   bool
	connected  bool
}

// NewReceiver creates a Receiver that validates incoming frames as having
// been sent in dir (StubToHost for the host's own engine) and rejects any
// CCD index at or above ccds once SetCcdCount has been called.
func NewReceiver(dir Direction) *Receiver {
	return &Receiver{dir: dir, state: stateAwaitMagic, expectSeq: 1}
}

// SetCcdCount records the number of CCDs learned at connect time, enabling
// the CCD-range check on subsequent headers.
func (r *Receiver) SetCcdCount(n uint16) {
	r.ccds = n
	r.haveCcds = true
}

// SetConnected marks whether the connect handshake has completed; the
// sequence-number check applies only after connect, per the stub's own
// fConnect-gated logic.
func (r *Receiver) SetConnected(v bool) { r.connected = v }

func (r *Receiver) reset() {
	r.state = stateAwaitMagic
	r.magicN = 0
	r.hdrBytes = nil
	r.payload = nil
}

// Feed consumes b, appending any frames completed as a result to out (out
// may be nil). It returns the updated slice and an error only for fatal
// conditions (a sequence gap once connected); framing errors (bad magic,
// bad length, RRN-ID or CCD out of range, bad checksum) are handled
// internally by resynchronizing and are not returned.
func (r *Receiver) Feed(b []byte, out []Frame) ([]Frame, error) {
	for _, c := range b {
		switch r.state {
		case stateAwaitMagic:
			r.magic[r.magicN] = c
			r.magicN++
			if r.magicN < 4 {
				continue
			}
			got := binary.LittleEndian.Uint32(r.magic[:])
			if got != startMagic(r.dir) {
				// Shift the 4-byte window by one and keep scanning.
				copy(r.magic[:], r.magic[1:])
				r.magicN = 3
				continue
			}
			r.hdrBytes = append([]byte{}, r.magic[:]...)
			r.state = stateHeader
			r.magicN = 0
		case stateHeader:
			r.hdrBytes = append(r.hdrBytes, c)
			if len(r.hdrBytes) < HeaderSize {
				continue
			}
			hdr := Header{
				PayloadLength: binary.LittleEndian.Uint32(r.hdrBytes[4:8]),
				RrnID:         RrnID(binary.LittleEndian.Uint16(r.hdrBytes[8:10])),
				CcdID:         binary.LittleEndian.Uint16(r.hdrBytes[10:12]),
				SeqNum:        binary.LittleEndian.Uint32(r.hdrBytes[12:16]),
			}
			if err := r.validateHeader(hdr); err != nil {
				if fe, ok := err.(*errs.Error); ok && fe.Fatal() {
					return out, err
				}
				r.reset()
				continue
			}
			r.hdr = hdr
			if hdr.PayloadLength > MaxPayloadSize {
				r.reset()
				continue
			}
			r.payload = make([]byte, 0, PaddedLength(hdr.PayloadLength))
			r.need = int(PaddedLength(hdr.PayloadLength))
			if r.need == 0 {
				r.state = stateFooter
			} else {
				r.state = statePayload
			}
		case statePayload:
			r.payload = append(r.payload, c)
			if len(r.payload) < r.need {
				continue
			}
			r.state = stateFooter
		case stateFooter:
			r.acc = append(r.acc, c)
			if len(r.acc) < FooterSize {
				continue
			}
			ftr := Footer{
				ChkSum:   binary.LittleEndian.Uint32(r.acc[0:4]),
				EndMagic: binary.LittleEndian.Uint32(r.acc[4:8]),
			}
			base := append(append([]byte{}, r.hdrBytes...), r.payload...)
			valid := ftr.EndMagic == endMagic(r.dir) && ftr.Verify(base)
			r.acc = nil
			if valid {
				out = append(out, Frame{Header: r.hdr, Payload: r.payload[:r.hdr.PayloadLength]})
				r.expectSeq = r.hdr.SeqNum + 1
			}
			r.reset()
		}
	}
	return out, nil
}

// validateHeader implements the header-validation rule: magic was already
// matched in AwaitMagic and the payload-length bound is checked by Feed
// right after this returns; here we check RRN-ID range,
// sequence continuity (once connected, on every PDU including
// notifications, matching pspStubPduCtxHdrValidate's unconditional
// cPdus != cPduRecvNext+1 check) and CCD range.
func (r *Receiver) validateHeader(hdr Header) error {
	if !hdr.RrnID.Valid() {
		return errs.New(errs.KindFraming, "pdu.Receiver", "rrnid out of range")
	}
	if r.haveCcds && hdr.CcdID >= r.ccds {
		return errs.New(errs.KindFraming, "pdu.Receiver", "ccd out of range")
	}
	if r.connected && hdr.SeqNum != r.expectSeq {
		return errs.New(errs.KindSequence, "pdu.Receiver", "sequence gap")
	}
	return nil
}
