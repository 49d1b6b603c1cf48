package task

import (
	"io"

	"github.com/splanck/vana/internal/allocator"
	"github.com/splanck/vana/internal/bootlog"
	"github.com/splanck/vana/internal/descriptor"
	"github.com/splanck/vana/internal/fsiface"
	"github.com/splanck/vana/internal/ioport"
	"github.com/splanck/vana/internal/loader"
	"github.com/splanck/vana/internal/paging"
	"github.com/splanck/vana/internal/vanaerr"
)

// MaxProcesses is N_proc, the fixed capacity of the process table.
const MaxProcesses = 64

// MaxAllocations is N_alloc, the fixed capacity of a process's per-process
// heap ledger (the "Per-process heap ledger" redesign note: a fixed-size
// vector of {virt,size} pairs, zero entries free).
const MaxAllocations = 32

// UserStackSize is the size of the stack allocated for every process. Not
// part of the retrieved source (config.h was not in the retrieval pack);
// chosen as a generous but bounded default.
const UserStackSize = 64 * 1024

// Allocation is one entry of a process's heap-allocation ledger.
type Allocation struct {
	Virt uintptr
	Size uint32
}

// Process is everything C6 tracks about one running (or loaded-but-not-yet
// scheduled) program: its image kind, its task, its stack, and its
// outstanding heap allocations.
type Process struct {
	ID        ProcessID
	TaskID    TaskID
	FileType  loader.FileType
	Image     *loader.Image
	StackVirt uintptr
	StackPhys uintptr
	allocs    [MaxAllocations]Allocation
	Argc      int
	ArgvVirt  uintptr
}

func (p *Process) freeAllocSlot() int {
	for i, a := range p.allocs {
		if a.Virt == 0 {
			return i
		}
	}
	return -1
}

func (p *Process) allocSlotFor(virt uintptr) int {
	for i, a := range p.allocs {
		if a.Virt == virt {
			return i
		}
	}
	return -1
}

// ProcessTable is the fixed-capacity slot array of running processes, plus
// the process-wide "current" cursor original_source keeps as a static
// global; here it is a field on a value the caller owns, per the "Global
// mutable state" redesign note.
type ProcessTable struct {
	slots   [MaxProcesses]*Process
	current ProcessID
	hasCur  bool
}

// NewProcessTable returns an empty process table.
func NewProcessTable() *ProcessTable { return &ProcessTable{} }

func (pt *ProcessTable) freeSlot() (ProcessID, error) {
	for i, p := range pt.slots {
		if p == nil {
			return ProcessID(i), nil
		}
	}
	return 0, vanaerr.New("task.ProcessTable", vanaerr.CodeSlotTaken, "process table full")
}

// Get returns the process at id, or ok=false if the slot is unused or id is
// out of range.
func (pt *ProcessTable) Get(id ProcessID) (*Process, bool) {
	if id < 0 || int(id) >= MaxProcesses || pt.slots[id] == nil {
		return nil, false
	}
	return pt.slots[id], true
}

// Current returns the process table's current cursor.
func (pt *ProcessTable) Current() (ProcessID, bool) { return pt.current, pt.hasCur }

// Switch sets the process table's current cursor, affecting Current()
// queries; it does not itself perform a task context switch.
func (pt *ProcessTable) Switch(id ProcessID) {
	pt.current = id
	pt.hasCur = true
}

// switchToAny installs the first occupied slot as current, or clears the
// cursor if the table is empty.
func (pt *ProcessTable) switchToAny() {
	for i, p := range pt.slots {
		if p != nil {
			pt.Switch(ProcessID(i))
			return
		}
	}
	pt.hasCur = false
}

func (pt *ProcessTable) unlink(id ProcessID) {
	pt.slots[id] = nil
	if pt.hasCur && pt.current == id {
		pt.switchToAny()
	}
}

// Manager ties the scheduler, the process table, the kernel heap, the
// frame allocator backing every process's address space, and the
// simulated physical memory together into the single controlled-access
// record the "Global mutable state" redesign note asks for, in place of
// original_source's scattered process-wide statics.
type Manager struct {
	Scheduler *Scheduler
	Processes *ProcessTable
	Heap      *allocator.Heap
	Frames    *allocator.Heap
	Mem       *Memory
	Mode      paging.Mode
	Identity  uint64
	GDT       descriptor.GDT
}

// NewManager builds a Manager over an already-initialised kernel heap and
// frame allocator.
func NewManager(bus ioport.Bus, heap, frames *allocator.Heap, mem *Memory, mode paging.Mode, identitySize uint64, gdt descriptor.GDT, log *bootlog.Logger) *Manager {
	return &Manager{
		Scheduler: NewScheduler(bus, log),
		Processes: NewProcessTable(),
		Heap:      heap,
		Frames:    frames,
		Mem:       mem,
		Mode:      mode,
		Identity:  identitySize,
		GDT:       gdt,
	}
}

// LoadProcess reads path from fs, parses it as a program image, builds a
// fresh address space, maps the image and a user stack into it, and links
// a task into the scheduler's run queue. On any failure the partially
// constructed process, directory, and stack block are unwound before the
// error is returned; if mapping the stack fails, the kernel-heap blocks
// already holding the program image are not freed. A missing file is
// reported as not-found, any other read failure as io-error.
func (m *Manager) LoadProcess(fs fsiface.FileSystem, path string) (ProcessID, error) {
	id, err := m.Processes.freeSlot()
	if err != nil {
		return 0, err
	}

	data, err := readWholeFile(fs, path)
	if err != nil {
		if vanaerr.Is(err, vanaerr.CodeNotFound) {
			return 0, vanaerr.Wrap("task.LoadProcess", vanaerr.CodeNotFound, err)
		}
		return 0, vanaerr.Wrap("task.LoadProcess", vanaerr.CodeIOError, err)
	}

	img, err := loader.Parse(data)
	if err != nil {
		return 0, err
	}

	dir, err := paging.New(m.Mode, m.Frames, m.Identity, paging.Writable)
	if err != nil {
		return 0, err
	}

	stackPhys, err := m.Heap.Alloc(UserStackSize)
	if err != nil {
		dir.Destroy()
		return 0, err
	}

	proc := &Process{ID: id, FileType: img.FileType, Image: img, StackPhys: stackPhys}

	if err := m.mapImage(dir, img); err != nil {
		m.Heap.Free(stackPhys)
		dir.Destroy()
		return 0, err
	}

	stackTop := loader.DefaultStackTop
	proc.StackVirt = uintptr(stackTop) - UserStackSize
	if err := dir.MapTo(uint64(proc.StackVirt), uint64(stackPhys), uint64(stackPhys)+UserStackSize,
		paging.Writable|paging.User); err != nil {
		m.Heap.Free(stackPhys)
		dir.Destroy()
		return 0, err
	}

	taskID := m.Scheduler.NewTask(id, dir, uintptr(img.Entry), uintptr(m.GDT.UserCode), uintptr(m.GDT.UserData), uintptr(stackTop))
	proc.TaskID = taskID

	m.Processes.slots[id] = proc
	return id, nil
}

// mapImage maps every LOAD segment of an ELF image, or the whole raw blob
// for a raw binary, at the addresses loader.Parse already resolved. On
// failure every kernel-heap block it allocated so far is freed before the
// error is returned, so the caller only has to deal with the directory and
// the stack block it allocated itself.
func (m *Manager) mapImage(dir *paging.Directory, img *loader.Image) error {
	var allocated []uintptr
	rollback := func() {
		for _, phys := range allocated {
			m.Heap.Free(phys)
		}
	}

	switch img.FileType {
	case loader.FileTypeELF:
		for _, seg := range img.Segments {
			phys, err := m.Heap.Alloc(uint32(seg.MemSize))
			if err != nil {
				rollback()
				return err
			}
			allocated = append(allocated, phys)

			m.Mem.Zero(phys, int(seg.MemSize))
			m.Mem.WriteBytes(phys, seg.Data)

			flags := paging.User
			if seg.Writable {
				flags |= paging.Writable
			}
			if err := dir.MapTo(alignDown(seg.Vaddr), uint64(phys), uint64(phys)+alignUp64(seg.MemSize), flags); err != nil {
				rollback()
				return err
			}
		}
		return nil
	default:
		phys, err := m.Heap.Alloc(uint32(len(img.Raw)))
		if err != nil {
			return err
		}
		m.Mem.WriteBytes(phys, img.Raw)
		end := alignUp64(uint64(len(img.Raw)))
		if err := dir.MapTo(loader.RawBinaryLoadAddress, uint64(phys), uint64(phys)+end, paging.Writable|paging.User); err != nil {
			m.Heap.Free(phys)
			return err
		}
		return nil
	}
}

func alignDown(v uint64) uint64 { return v - v%paging.PageSize }
func alignUp64(v uint64) uint64 {
	if v%paging.PageSize == 0 {
		return v
	}
	return v - v%paging.PageSize + paging.PageSize
}

// ProcessMalloc allocates size bytes from the kernel heap on behalf of
// process id, maps it into the process's address space as
// {present,writable,user}, and records it in the first free ledger slot.
func (m *Manager) ProcessMalloc(id ProcessID, size uint32) (uintptr, error) {
	proc, ok := m.Processes.Get(id)
	if !ok {
		return 0, vanaerr.New("task.ProcessMalloc", vanaerr.CodeNotFound, "unknown process")
	}
	slot := proc.freeAllocSlot()
	if slot < 0 {
		return 0, vanaerr.New("task.ProcessMalloc", vanaerr.CodeOutOfMemory, "allocation ledger full")
	}

	phys, err := m.Heap.Alloc(size)
	if err != nil {
		return 0, err
	}

	dir, _ := m.Scheduler.Directory(proc.TaskID)
	if err := dir.MapTo(uint64(phys), uint64(phys), uint64(phys)+uint64(alignUp64(uint64(size))), paging.Writable|paging.User); err != nil {
		m.Heap.Free(phys)
		return 0, err
	}

	proc.allocs[slot] = Allocation{Virt: phys, Size: size}
	return phys, nil
}

// ProcessFree releases a ProcessMalloc allocation. A foreign pointer (one
// not present in the ledger) is silently ignored.
func (m *Manager) ProcessFree(id ProcessID, ptr uintptr) {
	proc, ok := m.Processes.Get(id)
	if !ok || ptr == 0 {
		return
	}
	slot := proc.allocSlotFor(ptr)
	if slot < 0 {
		return
	}

	a := proc.allocs[slot]
	if dir, ok := m.Scheduler.Directory(proc.TaskID); ok {
		pages := int(alignUp64(uint64(a.Size)) / paging.PageSize)
		_ = dir.UnmapRange(uint64(a.Virt), pages)
	}
	proc.allocs[slot] = Allocation{}
	m.Heap.Free(ptr)
}

// InjectArguments allocates argv (and each argument string) in the
// process's own address space via ProcessMalloc, and records argc/argv on
// the process.
func (m *Manager) InjectArguments(id ProcessID, args []string) error {
	proc, ok := m.Processes.Get(id)
	if !ok {
		return vanaerr.New("task.InjectArguments", vanaerr.CodeNotFound, "unknown process")
	}
	if len(args) == 0 {
		return vanaerr.New("task.InjectArguments", vanaerr.CodeIOError, "no arguments to inject")
	}

	argvPtr, err := m.ProcessMalloc(id, uint32(len(args))*wordSize)
	if err != nil {
		return err
	}

	for i, arg := range args {
		buf := append([]byte(arg), 0)
		strPtr, err := m.ProcessMalloc(id, uint32(len(buf)))
		if err != nil {
			return err
		}
		m.Mem.WriteBytes(strPtr, buf)
		m.Mem.WriteWord(argvPtr+uintptr(i)*wordSize, strPtr)
	}

	proc.Argc = len(args)
	proc.ArgvVirt = argvPtr
	return nil
}

// Terminate frees every ledger allocation, the user stack, and the task
// (whose address space is destroyed with it), unlinking the process from the
// table. The kernel-heap blocks mapImage allocated for the program image are
// not recorded on the process and are not freed. If the
// terminated process was current, the scheduler advances to another
// process; if none remain, the caller observes an empty process table and
// is expected to halt (see kernel.Boot).
func (m *Manager) Terminate(id ProcessID) {
	proc, ok := m.Processes.Get(id)
	if !ok {
		return
	}

	for _, a := range proc.allocs {
		if a.Virt != 0 {
			m.ProcessFree(id, a.Virt)
		}
	}

	m.Heap.Free(proc.StackPhys)
	m.Scheduler.Free(proc.TaskID)
	m.Processes.unlink(id)
}

func readWholeFile(fs fsiface.FileSystem, path string) ([]byte, error) {
	f, err := fs.Open(path, "r")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
