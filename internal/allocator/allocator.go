// Package allocator is C2: the block-table heap allocator shared by the
// kernel heap and every per-process heap. A region of memory is carved into
// equal-size blocks; a parallel table holds one entry per block recording
// whether it is free or taken, and — for taken blocks — whether it starts a
// run and whether the run continues into the next entry.
package allocator

import (
	"github.com/splanck/vana/internal/bitfield"
	"github.com/splanck/vana/internal/vanaerr"
)

// BlockSize is the fixed unit of reservation, matching the source kernel's
// VANA_HEAP_BLOCK_SIZE.
const BlockSize = 4096

// entryFlags is one block-table entry packed the way the source kernel packs
// its HEAP_BLOCK_TABLE_ENTRY byte: free/taken in the low bit, is_first and
// has_next above it.
type entryFlags struct {
	Taken   bool   `bitfield:",1"`
	IsFirst bool   `bitfield:",1"`
	HasNext bool   `bitfield:",1"`
	_       uint32 `bitfield:",5"`
}

// Heap is a block-table allocator over a fixed memory region. It does not
// own the backing memory; Region reports the address range so a caller can
// read or write through it by whatever means fits (a real pointer on
// hardware, a byte slice in tests).
type Heap struct {
	start   uintptr
	end     uintptr
	entries []uint8
}

// Create carves [start, end) into BlockSize blocks and returns a Heap with
// every block marked free. Both start and end must be block-aligned and end
// must be strictly greater than start.
func Create(start, end uintptr) (*Heap, error) {
	if start%BlockSize != 0 || end%BlockSize != 0 || end <= start {
		return nil, vanaerr.New("allocator.Create", vanaerr.CodeInvalidArgument, "region must be non-empty and block-aligned")
	}
	total := (end - start) / BlockSize
	return &Heap{
		start:   start,
		end:     end,
		entries: make([]uint8, total),
	}, nil
}

// Region reports the half-open address range the heap manages.
func (h *Heap) Region() (start, end uintptr) { return h.start, h.end }

// TotalBlocks reports the number of blocks in the region.
func (h *Heap) TotalBlocks() int { return len(h.entries) }

func unpackEntry(raw uint8) entryFlags {
	var f entryFlags
	_ = bitfield.Unpack(uint64(raw), &f)
	return f
}

func packEntry(f entryFlags) uint8 {
	packed, _ := bitfield.Pack(f, &bitfield.Config{NumBits: 8})
	return uint8(packed)
}

// alignUp rounds size up to the next multiple of BlockSize. Mirrors
// heap_align_value_to_upper: a size that is already a multiple of BlockSize
// is left unchanged, never bumped to the next one.
func alignUp(size uint32) uint32 {
	if size%BlockSize == 0 {
		return size
	}
	return size - (size % BlockSize) + BlockSize
}

// startBlock finds the first run of n consecutive free entries, first-fit
// from index 0. Returns -1 if no run of that length exists.
func (h *Heap) startBlock(n int) int {
	run := 0
	start := -1
	for i, raw := range h.entries {
		if unpackEntry(raw).Taken {
			run = 0
			start = -1
			continue
		}
		if start == -1 {
			start = i
		}
		run++
		if run == n {
			return start
		}
	}
	return -1
}

func (h *Heap) markTaken(start, n int) {
	for i := start; i < start+n; i++ {
		f := entryFlags{Taken: true}
		if i == start {
			f.IsFirst = true
		}
		if i != start+n-1 {
			f.HasNext = true
		}
		h.entries[i] = packEntry(f)
	}
}

// Alloc reserves ceil(size/BlockSize) blocks and returns the address of the
// first one. size == 0 rounds to zero blocks and returns (0, nil): nothing
// is allocated and nothing fails. A size with no sufficient free run returns
// (0, out-of-memory) without mutating the table.
func (h *Heap) Alloc(size uint32) (uintptr, error) {
	if size == 0 {
		return 0, nil
	}
	n := int(alignUp(size) / BlockSize)

	start := h.startBlock(n)
	if start < 0 {
		return 0, vanaerr.New("allocator.Alloc", vanaerr.CodeOutOfMemory, "no run of sufficient free blocks")
	}

	h.markTaken(start, n)
	return h.blockAddress(start), nil
}

func (h *Heap) blockAddress(block int) uintptr {
	return h.start + uintptr(block)*BlockSize
}

func (h *Heap) blockIndex(addr uintptr) (int, bool) {
	if addr < h.start || addr >= h.end {
		return 0, false
	}
	return int((addr - h.start) / BlockSize), true
}

// Free releases the run starting at ptr, a pointer previously returned by
// Alloc. A nil pointer (zero address) is a no-op. A pointer outside the
// managed region, or one that does not land on a block boundary, is also a
// no-op: the block table only ever trusts addresses it produced itself.
//
// The walk reads each entry's HasNext flag before clearing it, not after —
// clearing first and then testing the zeroed byte would always stop after
// one block.
func (h *Heap) Free(ptr uintptr) {
	if ptr == 0 {
		return
	}
	start, ok := h.blockIndex(ptr)
	if !ok || (ptr-h.start)%BlockSize != 0 {
		return
	}
	for i := start; i < len(h.entries); i++ {
		hasNext := unpackEntry(h.entries[i]).HasNext
		h.entries[i] = 0
		if !hasNext {
			break
		}
	}
}

// IsFree reports whether the block at the given index is free. Exposed for
// tests asserting the round-trip invariant over the whole table.
func (h *Heap) IsFree(block int) bool {
	return !unpackEntry(h.entries[block]).Taken
}
