package pdu

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeFrame(t *testing.T, dir Direction, hdr Header, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, dir, hdr, payload))
	return buf.Bytes()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	hdr := Header{RrnID: ReqConnect, CcdID: 0, SeqNum: 1}
	payload := []byte{0x01, 0x02, 0x03}

	raw := encodeFrame(t, HostToStub, hdr, payload)

	r := NewReceiver(HostToStub)
	r.SetConnected(false)
	frames, err := r.Feed(raw, nil)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, ReqConnect, frames[0].Header.RrnID)
	assert.Equal(t, payload, frames[0].Payload)
}

// TestFeedByteAtATime mirrors the partial-buffer feeding style used by the
// framed-header codecs in the retrieval pack: the same bytes decode to the
// same frame regardless of how they're chunked across Feed calls.
func TestFeedByteAtATime(t *testing.T) {
	hdr := Header{RrnID: ReqPspMemRead, CcdID: 2, SeqNum: 5}
	payload := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	raw := encodeFrame(t, HostToStub, hdr, payload)

	r := NewReceiver(HostToStub)
	var got []Frame
	for _, b := range raw {
		var err error
		got, err = r.Feed([]byte{b}, got)
		require.NoError(t, err)
	}
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0].Payload)
	assert.EqualValues(t, 2, got[0].Header.CcdID)
}

func TestChecksumInvariant(t *testing.T) {
	hdr := Header{RrnID: ReqBranchTo, SeqNum: 1}
	raw := encodeFrame(t, HostToStub, hdr, []byte{1, 2, 3, 4, 5})
	// The byte-wide sum of header + padded payload, plus the ChkSum word
	// itself, must be zero mod 2^32.
	body := raw[:len(raw)-FooterSize]
	chk := binary.LittleEndian.Uint32(raw[len(raw)-FooterSize : len(raw)-4])
	assert.EqualValues(t, 0, checksum(body)+chk)
}

func TestResyncAfterGarbagePrefix(t *testing.T) {
	hdr := Header{RrnID: ReqExecCodeMod, SeqNum: 1}
	raw := encodeFrame(t, HostToStub, hdr, nil)
	garbage := []byte{0x00, 0xFF, 0x10, 0x20, 0x30}
	fed := append(garbage, raw...)

	r := NewReceiver(HostToStub)
	frames, err := r.Feed(fed, nil)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, ReqExecCodeMod, frames[0].Header.RrnID)
}

func TestBadChecksumIsDroppedNotFatal(t *testing.T) {
	hdr := Header{RrnID: ReqBranchTo, SeqNum: 1}
	raw := encodeFrame(t, HostToStub, hdr, []byte{1, 2, 3})
	raw[len(raw)-5] ^= 0xFF // flip a checksum byte so it no longer verifies

	r := NewReceiver(HostToStub)
	frames, err := r.Feed(raw, nil)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestSequenceGapIsFatalOnceConnected(t *testing.T) {
	hdr := Header{RrnID: ReqPspMemRead, SeqNum: 7}
	raw := encodeFrame(t, HostToStub, hdr, []byte{1})

	r := NewReceiver(HostToStub)
	r.SetConnected(true)
	_, err := r.Feed(raw, nil)
	require.Error(t, err)
	var perr interface{ Fatal() bool }
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Fatal())
}

func TestCcdOutOfRangeResyncs(t *testing.T) {
	hdr := Header{RrnID: ReqPspMemRead, CcdID: 9, SeqNum: 1}
	raw := encodeFrame(t, HostToStub, hdr, []byte{1})

	r := NewReceiver(HostToStub)
	r.SetCcdCount(4)
	frames, err := r.Feed(raw, nil)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestWrongDirectionMagicNeverMatches(t *testing.T) {
	hdr := Header{RrnID: ReqConnect, SeqNum: 1}
	raw := encodeFrame(t, HostToStub, hdr, nil) // sent as host->stub

	r := NewReceiver(StubToHost) // receiver expects stub->host frames
	frames, err := r.Feed(raw, nil)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestPaddedLength(t *testing.T) {
	cases := []struct{ in, want uint32 }{
		{0, 0}, {1, 8}, {7, 8}, {8, 8}, {9, 16}, {16, 16},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, PaddedLength(c.in))
	}
}
