package em100prov

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufEncodeDecodeRoundTrip(t *testing.T) {
	r := ringBuf{CbRingBuf: 4096, OffHead: 100, OffTail: 40}
	b := make([]byte, ringBufHeaderSize)
	r.encode(b)
	got := decodeRingBuf(b)
	assert.Equal(t, r, got)
}

func TestRingBufUsedAndFreeNoWrap(t *testing.T) {
	r := ringBuf{CbRingBuf: 100, OffHead: 60, OffTail: 10}
	assert.EqualValues(t, 50, r.used())
	assert.EqualValues(t, 49, r.free()) // one slot always reserved
}

func TestRingBufUsedAndFreeWrapped(t *testing.T) {
	r := ringBuf{CbRingBuf: 100, OffHead: 10, OffTail: 90}
	assert.EqualValues(t, 20, r.used())
	assert.EqualValues(t, 79, r.free())
}

func TestRingBufEmptyWhenHeadEqualsTail(t *testing.T) {
	r := ringBuf{CbRingBuf: 100, OffHead: 42, OffTail: 42}
	assert.EqualValues(t, 0, r.used())
	assert.EqualValues(t, 99, r.free())
}

func TestRingBufAdvanceWrapsModCapacity(t *testing.T) {
	r := ringBuf{CbRingBuf: 100, OffHead: 95, OffTail: 0}
	r = r.advanceHead(10)
	assert.EqualValues(t, 5, r.OffHead)

	r2 := ringBuf{CbRingBuf: 100, OffTail: 95}
	r2 = r2.advanceTail(10)
	assert.EqualValues(t, 5, r2.OffTail)
}
