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

// Package scratch implements a free-list allocator over the scratch
// region the PSP donates at connect time: the region code modules and
// their input/output buffers are loaded into.
package scratch

import (
	"sort"

	"github.com/amdpsp/pspproxy/errs"
)

// block is one free run of bytes, [Addr, Addr+Size).
type block struct {
	Addr uint32
	Size uint32
}

// Allocator is a best-fit-from-top-of-chunk free-list allocator: Alloc
// picks the smallest free block that still fits the request (best fit),
// and carves the requested bytes off the top of that block so the
// remainder (if any) stays at the block's original, lower address —
// which keeps the free list's low-address blocks the ones most likely
// to coalesce with a recently freed neighbor.
type Allocator struct {
	base  uint32
	size  uint32
	free  []block // kept sorted by Addr
	used  map[uint32]uint32
}

// New creates an Allocator over [base, base+size).
func New(base, size uint32) *Allocator {
	return &Allocator{
		base: base,
		size: size,
		free: []block{{Addr: base, Size: size}},
		used: make(map[uint32]uint32),
	}
}

// Alloc reserves n bytes and returns their address. Returns a
// KindArgument-kinded errs.Error both when n is zero and when the
// region has no block large enough: both are the caller asking for a
// size the scratch region can't satisfy, caught entirely locally
// before any wire traffic.
func (a *Allocator) Alloc(n uint32) (uint32, error) {
	if n == 0 {
		return 0, errs.New(errs.KindArgument, "scratch.Alloc", "zero-size allocation")
	}
	best := -1
	for i, b := range a.free {
		if b.Size < n {
			continue
		}
		if best == -1 || b.Size < a.free[best].Size {
			best = i
		}
	}
	if best == -1 {
		return 0, errs.New(errs.KindArgument, "scratch.Alloc", "scratch region exhausted")
	}
	b := a.free[best]
	addr := b.Addr + b.Size - n // carve off the top of the chunk
	if b.Size == n {
		a.free = append(a.free[:best], a.free[best+1:]...)
	} else {
		a.free[best].Size -= n
	}
	a.used[addr] = n
	return addr, nil
}

// Free releases a block previously returned by Alloc, coalescing it with
// any free block it is now adjacent to.
func (a *Allocator) Free(addr uint32) error {
	n, ok := a.used[addr]
	if !ok {
		return errs.New(errs.KindArgument, "scratch.Free", "address not allocated here")
	}
	delete(a.used, addr)

	nb := block{Addr: addr, Size: n}
	a.free = append(a.free, nb)
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].Addr < a.free[j].Addr })
	a.coalesce()
	return nil
}

func (a *Allocator) coalesce() {
	merged := a.free[:0]
	for _, b := range a.free {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.Addr+last.Size == b.Addr {
				last.Size += b.Size
				continue
			}
		}
		merged = append(merged, b)
	}
	a.free = merged
}

// FreeBytes returns the total number of bytes currently unallocated.
func (a *Allocator) FreeBytes() uint32 {
	var total uint32
	for _, b := range a.free {
		total += b.Size
	}
	return total
}

// Base and Size report the region this allocator carves, for callers
// that need to compute an offset or bound-check a manual address.
func (a *Allocator) Base() uint32 { return a.base }
func (a *Allocator) Size() uint32 { return a.size }
