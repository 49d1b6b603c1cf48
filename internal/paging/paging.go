// Package paging is C3: the address-space manager. It builds page
// directories over a simulated physical memory, maps and translates virtual
// addresses, and tears directories down again. Two layouts are supported:
// Mode32, the classic two-level x86 directory -> table -> 4KiB page scheme,
// and Mode64, a four-level PML4 -> PDPT -> PD -> PT scheme. Both modes
// identity-map only the low span passed to New; no higher-half direct map is
// set up.
package paging

import (
	"github.com/splanck/vana/internal/allocator"
	"github.com/splanck/vana/internal/vanaerr"
)

// PageSize is the fixed leaf mapping granularity; every alignment check in
// this package is against this constant.
const PageSize = 4096

// Mode selects the table layout.
type Mode int

const (
	// Mode32 is the two-level x86-32 layout: one directory of 1024 entries,
	// each pointing at a table of 1024 leaf entries, covering 4GiB.
	Mode32 Mode = iota
	// Mode64 is the four-level x86-64 layout: PML4 -> PDPT -> PD -> PT, each
	// level holding 512 entries.
	Mode64
)

// Flags are the attribute bits OR'd into a leaf (and, for parent levels,
// internal) page-table entry. Present is always added automatically; callers
// supply the rest.
type Flags uint64

const (
	Writable  Flags = 1 << 0
	User      Flags = 1 << 1
	NoExecute Flags = 1 << 2

	present Flags = 1 << 63
)

func (m Mode) entriesPerTable() int {
	if m == Mode32 {
		return 1024
	}
	return 512
}

func (m Mode) levels() int {
	if m == Mode32 {
		return 2
	}
	return 4
}

// table is one level of a directory: a fixed-size array of raw entries. A
// non-leaf entry's addrMask bits (12-51) hold the physical address of the
// next-level table; a leaf entry's addrMask bits hold the mapped physical
// frame. Flags occupy the bits outside addrMask (bits 0-2 and the present
// bit 63), so an address is read back by masking with addrMask.
type table []uint64

const addrMask = 0x000f_ffff_ffff_f000

// Directory is one address space: a root table, the physical-frame
// allocator sub-tables are carved from, and every table reachable from the
// root, keyed by the physical address the frame allocator's Alloc handed
// out for it.
type Directory struct {
	mode   Mode
	frames *allocator.Heap
	tables map[uintptr]table
	root   uintptr
}

// New creates a directory that identity-maps [0, identitySize) with flags
// OR'd with present (and, for every parent level, writable, so the walk
// itself is never blocked by a read-only intermediate table). identitySize
// must be a multiple of PageSize.
func New(mode Mode, frames *allocator.Heap, identitySize uint64, flags Flags) (*Directory, error) {
	if identitySize%PageSize != 0 {
		return nil, vanaerr.New("paging.New", vanaerr.CodeInvalidArgument, "identitySize must be page-aligned")
	}

	d := &Directory{
		mode:   mode,
		frames: frames,
		tables: make(map[uintptr]table),
	}

	root, err := d.allocTable()
	if err != nil {
		return nil, err
	}
	d.root = root

	pageCount := identitySize / PageSize
	if pageCount > 0 {
		if err := d.mapRangeLocked(0, 0, pageCount, flags); err != nil {
			d.Destroy()
			return nil, err
		}
	}

	return d, nil
}

func (d *Directory) allocTable() (uintptr, error) {
	addr, err := d.frames.Alloc(PageSize)
	if err != nil {
		return 0, vanaerr.Wrap("paging.allocTable", vanaerr.CodeOutOfMemory, err)
	}
	d.tables[addr] = make(table, d.mode.entriesPerTable())
	return addr, nil
}

func isAligned(addr uint64) bool { return addr%PageSize == 0 }

// indices splits virt into one index per table level, most significant
// first (directory/PML4 index first, leaf table index last).
func (d *Directory) indices(virt uint64) []int {
	n := d.mode.entriesPerTable()
	levels := d.mode.levels()
	idx := make([]int, levels)

	bitsPerLevel := 0
	for v := n; v > 1; v >>= 1 {
		bitsPerLevel++
	}

	shift := uint(12) + uint(bitsPerLevel)*uint(levels-1)
	for l := 0; l < levels; l++ {
		idx[l] = int((virt >> shift) & uint64(n-1))
		shift -= uint(bitsPerLevel)
	}
	return idx
}

// walk descends from the root following idx, creating missing intermediate
// tables when create is true. It returns the final-level table and the
// index within it to read or write the leaf entry.
func (d *Directory) walk(idx []int, create bool) (table, int, error) {
	cur := d.root
	for level := 0; level < len(idx)-1; level++ {
		t := d.tables[cur]
		entry := t[idx[level]]
		if entry&uint64(present) == 0 {
			if !create {
				return nil, 0, vanaerr.New("paging.walk", vanaerr.CodeNotFound, "address not mapped")
			}
			sub, err := d.allocTable()
			if err != nil {
				return nil, 0, err
			}
			t[idx[level]] = uint64(sub) | uint64(present) | uint64(Writable)
			cur = sub
			continue
		}
		cur = uintptr(entry & addrMask)
	}
	return d.tables[cur], idx[len(idx)-1], nil
}

// MapOne writes a single leaf entry mapping virt to phys. Both addresses
// must already be page-aligned.
func (d *Directory) MapOne(virt, phys uint64, flags Flags) error {
	if !isAligned(virt) || !isAligned(phys) {
		return vanaerr.New("paging.MapOne", vanaerr.CodeInvalidArgument, "virt and phys must be page-aligned")
	}
	return d.mapOneLocked(virt, phys, flags)
}

func (d *Directory) mapOneLocked(virt, phys uint64, flags Flags) error {
	idx := d.indices(virt)
	leaf, i, err := d.walk(idx, true)
	if err != nil {
		return err
	}
	leaf[i] = (phys & addrMask) | uint64(flags) | uint64(present)
	return nil
}

// MapRange maps count consecutive pages starting at virt/phys.
func (d *Directory) MapRange(virt, phys uint64, count int, flags Flags) error {
	if !isAligned(virt) || !isAligned(phys) {
		return vanaerr.New("paging.MapRange", vanaerr.CodeInvalidArgument, "virt and phys must be page-aligned")
	}
	return d.mapRangeLocked(virt, phys, uint64(count), flags)
}

func (d *Directory) mapRangeLocked(virt, phys, count uint64, flags Flags) error {
	for i := uint64(0); i < count; i++ {
		if err := d.mapOneLocked(virt+i*PageSize, phys+i*PageSize, flags); err != nil {
			return err
		}
	}
	return nil
}

// MapTo maps the physical span [physStart, physEnd) at virt. All three
// addresses must be page-aligned and physEnd must not precede physStart.
func (d *Directory) MapTo(virt, physStart, physEnd uint64, flags Flags) error {
	if !isAligned(virt) || !isAligned(physStart) || !isAligned(physEnd) {
		return vanaerr.New("paging.MapTo", vanaerr.CodeInvalidArgument, "addresses must be page-aligned")
	}
	if physEnd < physStart {
		return vanaerr.New("paging.MapTo", vanaerr.CodeInvalidArgument, "physEnd precedes physStart")
	}
	count := (physEnd - physStart) / PageSize
	return d.mapRangeLocked(virt, physStart, count, flags)
}

// UnmapRange clears count consecutive leaf entries starting at virt,
// removing both their mapping and their present bit. Addresses that were
// never mapped are silently skipped, matching the original's tolerant
// unmap-by-address-range behaviour.
func (d *Directory) UnmapRange(virt uint64, count int) error {
	if !isAligned(virt) {
		return vanaerr.New("paging.UnmapRange", vanaerr.CodeInvalidArgument, "virt must be page-aligned")
	}
	for i := 0; i < count; i++ {
		idx := d.indices(virt + uint64(i)*PageSize)
		leaf, li, err := d.walk(idx, false)
		if err != nil {
			continue
		}
		leaf[li] = 0
	}
	return nil
}

// Translate rounds virt down to its containing page, walks the tables, and
// adds the in-page offset back onto the mapped physical frame.
func (d *Directory) Translate(virt uint64) (uint64, error) {
	aligned := virt - (virt % PageSize)
	offset := virt - aligned

	idx := d.indices(aligned)
	leaf, i, err := d.walk(idx, false)
	if err != nil {
		return 0, err
	}
	entry := leaf[i]
	if entry&uint64(present) == 0 {
		return 0, vanaerr.New("paging.Translate", vanaerr.CodeNotFound, "address not mapped")
	}
	return (entry & addrMask) + offset, nil
}

// LookupFlags returns the flags (excluding present, which Translate's error
// already distinguishes) OR'd into the leaf entry mapping virt, letting a
// caller confirm permission bits directly rather than only inferring them
// from which operations succeed.
func (d *Directory) LookupFlags(virt uint64) (Flags, error) {
	aligned := virt - (virt % PageSize)
	idx := d.indices(aligned)
	leaf, i, err := d.walk(idx, false)
	if err != nil {
		return 0, err
	}
	entry := leaf[i]
	if entry&uint64(present) == 0 {
		return 0, vanaerr.New("paging.LookupFlags", vanaerr.CodeNotFound, "address not mapped")
	}
	return Flags(entry&^addrMask) &^ present, nil
}

// Root reports the physical address of this directory's top-level table,
// the value a directory switch installs into the CPU's paging-root
// register.
func (d *Directory) Root() uintptr { return d.root }

// Destroy frees every table reachable from the root in post-order, then the
// root itself. After Destroy no block this directory referenced is still
// marked allocated in the backing frame allocator.
func (d *Directory) Destroy() {
	d.destroyLevel(d.root, 0)
}

func (d *Directory) destroyLevel(addr uintptr, level int) {
	t, ok := d.tables[addr]
	if !ok {
		return
	}
	if level < d.mode.levels()-1 {
		for _, entry := range t {
			if entry&uint64(present) != 0 {
				d.destroyLevel(uintptr(entry&addrMask), level+1)
			}
		}
	}
	delete(d.tables, addr)
	d.frames.Free(addr)
}
