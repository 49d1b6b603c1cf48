// Package kernel collects the process-wide singletons spec section 9's
// "Global mutable state" note calls out (current task, current directory,
// IDT/callback tables, PIC state, process array, kernel heap) into one
// constructed-once Kernel record, and implements the ten-step boot
// contract (spec section 6) as a function over that record.
package kernel

import (
	"github.com/splanck/vana/internal/allocator"
	"github.com/splanck/vana/internal/bootlog"
	"github.com/splanck/vana/internal/console"
	"github.com/splanck/vana/internal/descriptor"
	"github.com/splanck/vana/internal/fsiface"
	"github.com/splanck/vana/internal/ioport"
	"github.com/splanck/vana/internal/paging"
	"github.com/splanck/vana/internal/syscall"
	"github.com/splanck/vana/internal/task"
	"github.com/splanck/vana/internal/vanaerr"
)

// Region is a half-open byte range [Start, End) handed to allocator.Create.
type Region struct {
	Start, End uintptr
}

// Config supplies everything Boot cannot derive on its own: the regions to
// carve the kernel heap and the frame allocator from, the address-space
// layout, the PIC vector offsets, the IRQs to unmask once handlers exist,
// the filesystem the initial program is read through, and that program's
// path.
type Config struct {
	Bus         ioport.Bus
	Log         *bootlog.Logger
	HeapRegion  Region
	FrameRegion Region
	Mode        paging.Mode
	Identity    uint64 // bytes of low memory identity-mapped into every process
	PICOffsets  descriptor.PICOffsets
	IRQs        []int // IRQ lines to unmask once their handlers are installed
	FS          fsiface.FileSystem
	InitProgram string
}

// Kernel is the single record every subsystem's state lives in once boot
// completes.
type Kernel struct {
	Bus      ioport.Bus
	Log      *bootlog.Logger
	Console  *console.Console
	Keyboard *console.Keyboard
	IDT      *descriptor.IDT
	GDT      descriptor.GDT
	Heap     *allocator.Heap
	Frames   *allocator.Heap
	Manager  *task.Manager
	Syscalls *syscall.Table
	FS       fsiface.FileSystem
}

// unhandledVector is installed as the IDT's process-killing default: once
// user tasks exist, a fault with no specific handler terminates the
// faulting process rather than leaving the vector silently ignored.
func (k *Kernel) unhandledVector(frame *descriptor.InterruptFrame) {
	id, ok := k.Manager.Scheduler.Current()
	if !ok {
		k.Log.Error("unhandled interrupt vector with no running task")
		return
	}
	pid, ok := k.Manager.Scheduler.ProcessID(id)
	if !ok {
		return
	}
	k.Manager.Terminate(pid)
	if !k.Manager.Scheduler.Empty() {
		k.Manager.Scheduler.Next()
	}
}

// Boot runs the ten-step contract: console, descriptor tables, block
// allocator, kernel address space, IDT default callbacks, filesystem,
// keyboard, initial program, IRQ unmask, and finally interrupts-on with
// the first task selected. It returns the constructed Kernel with
// interrupts enabled and the first task current, or an error from whichever
// step failed first.
func Boot(cfg Config) (*Kernel, error) {
	k := &Kernel{Bus: cfg.Bus, Log: cfg.Log, GDT: descriptor.DefaultGDT, FS: cfg.FS}

	// (1) text console for diagnostics.
	k.Console = console.New()
	k.Log.Info("console initialized")

	// (2) descriptor tables: PIC remap must happen before the IDT is built
	// so the vector offsets it installs match where hardware IRQs land.
	descriptor.RemapPIC(cfg.Bus, cfg.PICOffsets)
	k.IDT = descriptor.New(cfg.Bus)
	k.Log.Info("descriptor tables built")

	// (3) block allocator at a fixed reserved region.
	heap, err := allocator.Create(cfg.HeapRegion.Start, cfg.HeapRegion.End)
	if err != nil {
		return nil, vanaerr.Wrap("kernel.Boot", vanaerr.CodeInvalidArgument, err)
	}
	k.Heap = heap
	k.Log.Info("kernel heap initialized")

	// (4) kernel address space / paging. The frame allocator backs every
	// process directory's page tables. No separate kernel directory is
	// built and no directory is loaded into the CPU here.
	frames, err := allocator.Create(cfg.FrameRegion.Start, cfg.FrameRegion.End)
	if err != nil {
		return nil, vanaerr.Wrap("kernel.Boot", vanaerr.CodeInvalidArgument, err)
	}
	k.Frames = frames
	k.Manager = task.NewManager(cfg.Bus, k.Heap, k.Frames, task.NewMemory(), cfg.Mode, cfg.Identity, k.GDT, k.Log)
	k.Log.Info("paging enabled")

	// (5) IDT default callbacks: every vector below 32 kills the faulting
	// process once one exists.
	k.IDT.InstallDefaultExceptionHandlers(k.unhandledVector)
	k.Syscalls = syscall.NewTable()
	syscall.RegisterDefaults(k.Syscalls)
	if err := k.IDT.RegisterCallback(descriptor.SyscallVector, k.dispatchSyscall); err != nil {
		return nil, err
	}
	k.Log.Info("IDT populated")

	// (6) filesystem: this hosted core takes its filesystem as a
	// collaborator (cfg.FS) rather than probing real disk hardware.
	if k.FS == nil {
		return nil, vanaerr.New("kernel.Boot", vanaerr.CodeInvalidArgument, "no filesystem supplied")
	}
	k.Log.Info("filesystem mounted")

	// (7) keyboard.
	k.Keyboard = console.NewKeyboard()
	k.Log.Info("keyboard initialized")

	// (8) initial user program at a well-known path.
	if _, err := k.Manager.LoadProcess(k.FS, cfg.InitProgram); err != nil {
		return nil, vanaerr.Wrap("kernel.Boot", vanaerr.CodeIOError, err)
	}
	k.Log.Info("initial program loaded")

	// (9) unmask only the IRQs handlers exist for.
	descriptor.UnmaskIRQs(cfg.Bus, cfg.IRQs)

	// (10) interrupts on, first task already current from LoadProcess.
	cfg.Bus.EnableInterrupts()
	k.Log.Info("interrupts enabled, first task running")

	return k, nil
}

// dispatchSyscall is the IDT callback installed at SyscallVector: it reads
// the command id out of the interrupt frame's first general-purpose
// register (the conventional argument register), dispatches it, and
// writes the result back into the same slot as the return value.
func (k *Kernel) dispatchSyscall(frame *descriptor.InterruptFrame) {
	id, ok := k.Manager.Scheduler.Current()
	if !ok {
		k.Log.Error("syscall with no current task")
		return
	}

	cmd := int(frame.GPRegs[0])
	ctx := &syscall.Context{
		Manager:  k.Manager,
		TaskID:   id,
		Frame:    frame,
		Console:  k.Console,
		Keyboard: k.Keyboard,
		FS:       k.FS,
	}

	result, err := k.Syscalls.Dispatch(cmd, ctx)
	if err != nil {
		frame.GPRegs[0] = uintptr(vanaerr.ToErrno(err))
		return
	}
	frame.GPRegs[0] = result
}

// Shutdown halts the CPU, the terminal state for "nothing left to run" the
// scheduler reaches once the last process exits.
func (k *Kernel) Shutdown() {
	k.Bus.DisableInterrupts()
	k.Bus.Halt()
}
