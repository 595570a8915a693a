package iosink

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineAssemblerSplitsOnNewline(t *testing.T) {
	a := NewLineAssembler()
	lines := a.Feed([]byte("hello\nworld\npart"))
	assert.Equal(t, []string{"hello", "world"}, lines)

	more := a.Feed([]byte("ial\n"))
	assert.Equal(t, []string{"partial"}, more)
}

func TestLineAssemblerDropsOverlongLine(t *testing.T) {
	a := NewLineAssembler()
	a.Max = 8
	a.Feed([]byte("0123456789")) // 10 bytes, no newline, exceeds Max
	lines := a.Feed([]byte("ok\n"))
	assert.Equal(t, []string{"ok"}, lines)
}

func TestBufferedSinkRoundTrip(t *testing.T) {
	b := NewBuffered()
	b.Input = []byte("feed me")

	assert.Equal(t, 7, b.InBufPeek(0))
	buf := make([]byte, 4)
	n := b.InBufRead(0, buf)
	assert.Equal(t, 4, n)
	assert.Equal(t, "feed", string(buf[:n]))
	assert.Equal(t, 3, b.InBufPeek(0))

	b.LogLine(0, "hello")
	b.OutBufWrite(0, 0, []byte("out"))
	assert.Equal(t, []string{"hello"}, b.Lines)
	assert.True(t, strings.Contains(string(b.Output), "out"))
}
