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

package em100prov

import "encoding/binary"

// SPI message-channel layout constants, kept verbatim from the provider
// this transport was modeled on: the flash offset where the channel
// header lives, and its magic value.
const (
	SpiMsgChanHdrOffset uint32 = 0xaab000
	SpiMsgChanHdrMagic  uint32 = 0x18920103 // J. R. R. Tolkien's birth year
)

// ringBufSize is the default byte capacity of each direction's ring,
// matching the provider's own _4K default.
const ringBufSize = 4096

// ringBuf is the on-flash layout of one direction's byte ring: a fixed
// capacity and a pair of monotone offsets (mod CbRingBuf) marking the
// unconsumed region [offTail, offHead). It is the byte-addressed analog
// of container/ring's index ring: instead of a fixed slice of N typed
// slots visited round-robin, this ring holds a variable run of bytes
// whose boundaries move as data is produced and consumed.
type ringBuf struct {
	CbRingBuf uint32
	OffHead   uint32
	OffTail   uint32
}

const ringBufHeaderSize = 12

func decodeRingBuf(b []byte) ringBuf {
	return ringBuf{
		CbRingBuf: binary.LittleEndian.Uint32(b[0:4]),
		OffHead:   binary.LittleEndian.Uint32(b[4:8]),
		OffTail:   binary.LittleEndian.Uint32(b[8:12]),
	}
}

func (r ringBuf) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], r.CbRingBuf)
	binary.LittleEndian.PutUint32(b[4:8], r.OffHead)
	binary.LittleEndian.PutUint32(b[8:12], r.OffTail)
}

// used returns the number of unconsumed bytes.
func (r ringBuf) used() uint32 {
	if r.OffHead >= r.OffTail {
		return r.OffHead - r.OffTail
	}
	return r.CbRingBuf - r.OffTail + r.OffHead
}

// free returns the number of bytes that can still be written before the
// ring is full. One slot is always kept empty to disambiguate full from
// empty (head == tail means empty, never full), matching the standard
// SPSC ring invariant.
func (r ringBuf) free() uint32 {
	return r.CbRingBuf - r.used() - 1
}

// advanceHead returns a copy of r with OffHead advanced by n (mod
// CbRingBuf), used after a producer writes n bytes.
func (r ringBuf) advanceHead(n uint32) ringBuf {
	r.OffHead = (r.OffHead + n) % r.CbRingBuf
	return r
}

// advanceTail returns a copy of r with OffTail advanced by n (mod
// CbRingBuf), used after a consumer reads n bytes.
func (r ringBuf) advanceTail(n uint32) ringBuf {
	r.OffTail = (r.OffTail + n) % r.CbRingBuf
	return r
}
