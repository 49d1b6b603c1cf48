package task

import (
	"encoding/binary"

	"github.com/splanck/vana/internal/paging"
	"github.com/splanck/vana/internal/vanaerr"
)

// Memory is the byte-addressable backing store behind every physical
// address this package hands out. allocator and paging track only which
// blocks/frames are reserved; Memory is where their contents actually live,
// the way a hosted test stands in for physical RAM.
type Memory struct {
	pages map[uintptr][]byte
}

// NewMemory returns an empty backing store; pages are allocated lazily on
// first touch, zero-filled.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uintptr][]byte)}
}

func (m *Memory) page(addr uintptr) []byte {
	base := addr - addr%paging.PageSize
	p, ok := m.pages[base]
	if !ok {
		p = make([]byte, paging.PageSize)
		m.pages[base] = p
	}
	return p
}

// WriteBytes copies data into physical memory starting at addr. A write may
// span a page boundary.
func (m *Memory) WriteBytes(addr uintptr, data []byte) {
	for len(data) > 0 {
		p := m.page(addr)
		off := int(addr % paging.PageSize)
		n := copy(p[off:], data)
		data = data[n:]
		addr += uintptr(n)
	}
}

// ReadBytes returns n bytes of physical memory starting at addr.
func (m *Memory) ReadBytes(addr uintptr, n int) []byte {
	out := make([]byte, n)
	read := 0
	for read < n {
		p := m.page(addr)
		off := int(addr % paging.PageSize)
		c := copy(out[read:], p[off:])
		read += c
		addr += uintptr(c)
	}
	return out
}

// Zero clears n bytes of physical memory starting at addr.
func (m *Memory) Zero(addr uintptr, n int) {
	m.WriteBytes(addr, make([]byte, n))
}

const wordSize = 8

// ReadWord reads one native-width word at addr.
func (m *Memory) ReadWord(addr uintptr) uintptr {
	return uintptr(binary.LittleEndian.Uint64(m.ReadBytes(addr, wordSize)))
}

// WriteWord writes one native-width word at addr.
func (m *Memory) WriteWord(addr uintptr, v uintptr) {
	var buf [wordSize]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	m.WriteBytes(addr, buf[:])
}

// GetStackItem reads the index-th word above the task's saved stack
// pointer, translated through dir the way the syscall argument path reads
// user stack slots.
func GetStackItem(dir *paging.Directory, mem *Memory, sp uintptr, index int) (uintptr, error) {
	virt := sp + uintptr(index)*wordSize
	phys, err := dir.Translate(uint64(virt))
	if err != nil {
		return 0, vanaerr.Wrap("task.GetStackItem", vanaerr.CodeInvalidArgument, err)
	}
	return mem.ReadWord(uintptr(phys)), nil
}

// CopyStringFromTask reads a NUL-terminated (or max-truncated) string from
// userVirt in dir's address space. max must be less than one page, per
// spec 4.4's explicit bound — the original's reason for the bound is the
// scratch page it borrows to do the copy; this implementation does not need
// that trick (it reads dir's own translation table directly, rather than
// actually switching the CPU's paging root), but the bound is kept because
// it is a contract the rest of the system relies on, not an implementation
// detail of the copy.
func CopyStringFromTask(dir *paging.Directory, mem *Memory, userVirt uintptr, max int) (string, error) {
	if max >= paging.PageSize {
		return "", vanaerr.New("task.CopyStringFromTask", vanaerr.CodeInvalidArgument, "max must be less than one page")
	}
	phys, err := dir.Translate(uint64(userVirt))
	if err != nil {
		return "", vanaerr.Wrap("task.CopyStringFromTask", vanaerr.CodeInvalidArgument, err)
	}
	raw := mem.ReadBytes(uintptr(phys), max)
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), nil
		}
	}
	return string(raw), nil
}
