package allocator

import (
	"testing"

	"github.com/splanck/vana/internal/vanaerr"
)

func newTestHeap(t *testing.T, blocks int) *Heap {
	t.Helper()
	h, err := Create(0x100000, 0x100000+uintptr(blocks)*BlockSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return h
}

func TestCreateRejectsMisalignedRegion(t *testing.T) {
	if _, err := Create(1, BlockSize); !vanaerr.Is(err, vanaerr.CodeInvalidArgument) {
		t.Fatalf("Create(misaligned start) error = %v, want invalid-argument", err)
	}
	if _, err := Create(0, BlockSize+1); !vanaerr.Is(err, vanaerr.CodeInvalidArgument) {
		t.Fatalf("Create(misaligned end) error = %v, want invalid-argument", err)
	}
	if _, err := Create(BlockSize, BlockSize); !vanaerr.Is(err, vanaerr.CodeInvalidArgument) {
		t.Fatalf("Create(empty region) error = %v, want invalid-argument", err)
	}
}

// TestWorkedExample follows the allocator walk-through: a region of 8 blocks,
// alloc(B+6) takes two blocks, alloc(B) takes the next one, freeing the first
// run frees exactly those two blocks, and a fresh alloc(B) reuses the lowest
// free index rather than continuing past the freed run.
func TestWorkedExample(t *testing.T) {
	h := newTestHeap(t, 8)
	start, _ := h.Region()

	p1, err := h.Alloc(BlockSize + 6)
	if err != nil {
		t.Fatalf("alloc p1: %v", err)
	}
	if p1 != start {
		t.Fatalf("p1 = %#x, want region start %#x", p1, start)
	}
	if h.IsFree(0) || h.IsFree(1) {
		t.Fatal("p1 should take blocks 0 and 1")
	}

	p2, err := h.Alloc(BlockSize)
	if err != nil {
		t.Fatalf("alloc p2: %v", err)
	}
	if p2 != start+2*BlockSize {
		t.Fatalf("p2 = %#x, want block 2", p2)
	}

	h.Free(p1)
	if !h.IsFree(0) || !h.IsFree(1) {
		t.Fatal("free(p1) should release blocks 0 and 1")
	}
	if h.IsFree(2) {
		t.Fatal("free(p1) must not touch block 2 (p2's block)")
	}

	p3, err := h.Alloc(BlockSize)
	if err != nil {
		t.Fatalf("alloc p3: %v", err)
	}
	if p3 != start {
		t.Fatalf("p3 = %#x, want first-fit reuse of block 0", p3)
	}
}

func TestAllocZeroSizeReturnsNilWithoutError(t *testing.T) {
	h := newTestHeap(t, 4)
	p, err := h.Alloc(0)
	if err != nil || p != 0 {
		t.Fatalf("Alloc(0) = (%#x, %v), want (0, nil)", p, err)
	}
	for i := 0; i < h.TotalBlocks(); i++ {
		if !h.IsFree(i) {
			t.Fatalf("Alloc(0) mutated block %d", i)
		}
	}
}

func TestAllocOutOfMemoryLeavesTableUnchanged(t *testing.T) {
	h := newTestHeap(t, 2)
	if _, err := h.Alloc(3 * BlockSize); !vanaerr.Is(err, vanaerr.CodeOutOfMemory) {
		t.Fatalf("Alloc(oversize) error = %v, want out-of-memory", err)
	}
	for i := 0; i < h.TotalBlocks(); i++ {
		if !h.IsFree(i) {
			t.Fatalf("failed alloc mutated block %d", i)
		}
	}
}

func TestFreeNilIsNoop(t *testing.T) {
	h := newTestHeap(t, 2)
	h.Free(0)
	for i := 0; i < h.TotalBlocks(); i++ {
		if !h.IsFree(i) {
			t.Fatalf("Free(nil) mutated block %d", i)
		}
	}
}

func TestFreeForeignPointerIsNoop(t *testing.T) {
	h := newTestHeap(t, 2)
	p, _ := h.Alloc(BlockSize)
	h.Free(p + 10*BlockSize) // outside the region
	if h.IsFree(0) {
		t.Fatal("foreign free must not affect in-range blocks")
	}
}

func TestAllocatorRoundTrip(t *testing.T) {
	h := newTestHeap(t, 16)
	var live []uintptr

	sizes := []uint32{BlockSize, 2 * BlockSize, BlockSize, 3 * BlockSize}
	for _, s := range sizes {
		p, err := h.Alloc(s)
		if err != nil {
			t.Fatalf("alloc(%d): %v", s, err)
		}
		live = append(live, p)
	}

	// Free every other allocation; the freed runs should go fully free and
	// the remaining live pointers must still resolve to taken blocks.
	h.Free(live[1])
	h.Free(live[3])

	start, _ := h.Region()
	if h.IsFree(int((live[0] - start) / BlockSize)) {
		t.Fatal("first allocation's block should remain taken")
	}
	if h.IsFree(int((live[2] - start) / BlockSize)) {
		t.Fatal("third allocation's block should remain taken")
	}
	if !h.IsFree(int((live[1] - start) / BlockSize)) {
		t.Fatal("freed second allocation's block should be free")
	}
}

func TestDeterministicPlacement(t *testing.T) {
	run := func() []uintptr {
		h := newTestHeap(t, 16)
		var got []uintptr
		for _, s := range []uint32{BlockSize, 3 * BlockSize, BlockSize} {
			p, err := h.Alloc(s)
			if err != nil {
				t.Fatalf("alloc: %v", err)
			}
			got = append(got, p)
		}
		return got
	}

	first := run()
	second := run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("allocation %d diverged: %#x vs %#x", i, first[i], second[i])
		}
	}
}

func TestAlignmentAndBlockCount(t *testing.T) {
	h := newTestHeap(t, 16)
	start, _ := h.Region()
	cases := []uint32{1, BlockSize - 1, BlockSize, BlockSize + 1}
	for _, size := range cases {
		p, err := h.Alloc(size)
		if err != nil {
			t.Fatalf("alloc(%d): %v", size, err)
		}
		if p%BlockSize != 0 {
			t.Fatalf("alloc(%d) = %#x, not block-aligned", size, p)
		}
		n := int((size + BlockSize - 1) / BlockSize)
		first := int((p - start) / BlockSize)
		for b := first; b < first+n; b++ {
			if h.IsFree(b) {
				t.Fatalf("alloc(%d): block %d free, want %d blocks taken from %d", size, b, n, first)
			}
		}
		if !h.IsFree(first + n) {
			t.Fatalf("alloc(%d): block %d taken, want exactly %d blocks", size, first+n, n)
		}
	}
}
