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

// Package iosink defines HostIoSink, the set of host-side callbacks a
// running code module interacts with: log lines it prints, bytes it
// writes to its output buffer, and bytes the engine should feed into its
// input buffer when the module polls for more.
package iosink

// Sink is implemented by callers of engine.ExecCodeMod who want to
// observe a module's log output and output-buffer writes, and supply
// its input-buffer reads. Every method is called from the engine's
// single runloop goroutine; implementations must not block
// indefinitely.
type Sink interface {
	// LogLine is called once per reassembled, newline-terminated line
	// the module printed.
	LogLine(ccd uint16, line string)
	// OutBufWrite is called once per chunk the module wrote to its
	// output buffer.
	OutBufWrite(ccd uint16, offset uint32, data []byte)
	// InBufPeek reports how many bytes are currently available to feed
	// the module's input buffer, without consuming them.
	InBufPeek(ccd uint16) int
	// InBufRead consumes and returns up to len(b) bytes to feed the
	// module's input buffer.
	InBufRead(ccd uint16, b []byte) int
}

// Buffered is a default Sink: log lines accumulate in Lines, output
// writes accumulate in Output, and input is drained from a caller-filled
// Input buffer. It exists so a CLI or test doesn't need to hand-write a
// Sink just to observe a run.
type Buffered struct {
	Lines  []string
	Output []byte
	Input  []byte

	logBuf map[uint16]*[]byte
}

// NewBuffered returns a ready-to-use Buffered sink.
func NewBuffered() *Buffered {
	return &Buffered{logBuf: make(map[uint16]*[]byte)}
}

func (b *Buffered) LogLine(ccd uint16, line string) {
	b.Lines = append(b.Lines, line)
}

func (b *Buffered) OutBufWrite(ccd uint16, offset uint32, data []byte) {
	b.Output = append(b.Output, data...)
}

func (b *Buffered) InBufPeek(ccd uint16) int {
	return len(b.Input)
}

func (b *Buffered) InBufRead(ccd uint16, out []byte) int {
	n := copy(out, b.Input)
	b.Input = b.Input[n:]
	return n
}

// LineAssembler reassembles a stream of raw log-message bytes into
// complete lines, the way the stub's own achLogMsg[1024] buffer does:
// bytes accumulate until a newline is seen, and a Feed whose data would
// push the buffered bytes past Max is dropped rather than grown without
// bound.
type LineAssembler struct {
	Max int
	buf []byte
}

// NewLineAssembler returns an assembler with the stub's own 1024-byte
// limit.
func NewLineAssembler() *LineAssembler {
	return &LineAssembler{Max: 1024}
}

// Feed appends data and returns any complete lines it produced
// (newlines stripped). If the buffered bytes plus data would exceed Max,
// all of data is dropped and the already buffered bytes are kept,
// matching the stub's overflow behavior.
func (a *LineAssembler) Feed(data []byte) []string {
	if len(a.buf)+len(data) > a.Max {
		return nil
	}
	var lines []string
	for _, c := range data {
		if c == '\n' {
			lines = append(lines, string(a.buf))
			a.buf = a.buf[:0]
			continue
		}
		a.buf = append(a.buf, c)
	}
	return lines
}
