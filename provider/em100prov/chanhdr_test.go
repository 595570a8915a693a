package em100prov

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeChanHdr(t *testing.T) {
	want := chanHdr{
		OffExt2Psp: 0,
		OffPsp2Ext: ringBufSize,
		Ext2Psp:    ringBuf{CbRingBuf: ringBufSize, OffHead: 12, OffTail: 4},
		Psp2Ext:    ringBuf{CbRingBuf: ringBufSize, OffHead: 0, OffTail: 0},
		Magic:      SpiMsgChanHdrMagic,
	}

	b := make([]byte, chanHdrSize)
	binary.LittleEndian.PutUint32(b[0:4], want.OffExt2Psp)
	binary.LittleEndian.PutUint32(b[4:8], want.OffPsp2Ext)
	want.Ext2Psp.encode(b[8 : 8+ringBufHeaderSize])
	want.Psp2Ext.encode(b[8+ringBufHeaderSize : 8+2*ringBufHeaderSize])
	binary.LittleEndian.PutUint32(b[8+2*ringBufHeaderSize:8+2*ringBufHeaderSize+4], want.Magic)

	got := decodeChanHdr(b)
	assert.Equal(t, want, got)
}
