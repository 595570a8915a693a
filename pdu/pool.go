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

import "github.com/bytedance/gopkg/lang/mcache"

// BufferPool hands out receive-side scratch buffers sized to the PDU the
// caller is about to read, and returns them to a size-classed free list on
// release. It exists because the engine's runloop allocates one payload
// buffer per received frame; without pooling that churns the allocator on
// every LogMsg/Irq/Beacon notification, which arrive continuously while a
// code module runs.
type BufferPool struct{}

// NewBufferPool returns the shared buffer pool. It holds no state of its
// own; mcache's size classes are process-global.
func NewBufferPool() *BufferPool { return &BufferPool{} }

// Get returns a buffer with length n (capacity may be larger).
func (p *BufferPool) Get(n int) []byte {
	return mcache.Malloc(n)
}

// Put returns b to the pool. Callers must not use b after calling Put.
func (p *BufferPool) Put(b []byte) {
	mcache.Free(b)
}
