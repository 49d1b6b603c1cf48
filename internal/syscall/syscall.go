// Package syscall is C7: the command table indexed by an INT 0x80-style
// command id, and the context handlers use to read arguments off the
// calling task's user stack and reach the kernel's shared I/O and process
// collaborators.
//
// Registering the same command id twice, or registering/dispatching an id
// outside the table, is the invariant spec section 5 calls out explicitly:
// registration aborts (panics, the way isr80h_register_command's
// out-of-bounds/duplicate checks call panic()); dispatch of an unregistered
// id returns the stable "not implemented" error rather than panicking,
// since an unregistered id can arrive from an untrusted user program.
package syscall

import (
	"github.com/splanck/vana/internal/console"
	"github.com/splanck/vana/internal/descriptor"
	"github.com/splanck/vana/internal/fsiface"
	"github.com/splanck/vana/internal/task"
	"github.com/splanck/vana/internal/vanaerr"
)

// MaxCommands bounds the command table, matching VANA_MAX_ISR80H_COMMANDS's
// role as a fixed-capacity array; sized with headroom past the nine
// commands the catalogue below registers.
const MaxCommands = 32

// Command ids, following the original isr80h enumeration order with
// commands 6 and 7 (load-with-no-args / load-with-args) unified into one
// Exec command that takes an optional argv.
const (
	CmdSum = iota
	CmdPrint
	CmdGetKey
	CmdPutChar
	CmdMalloc
	CmdFree
	CmdExec
	CmdGetArgv
	CmdExit
)

// Handler implements one command. It reads whatever arguments it needs
// from ctx's stack, performs the operation, and returns the value placed
// into the user-visible return register (or a negative errno via
// vanaerr.ToErrno, which Dispatch's caller is expected to apply on error).
type Handler func(ctx *Context) (uintptr, error)

// Context is everything a handler needs: the process/task manager, which
// task is making the call, and the shared console/keyboard the I/O
// commands read and write.
type Context struct {
	Manager  *task.Manager
	TaskID   task.TaskID
	Frame    *descriptor.InterruptFrame
	Console  *console.Console
	Keyboard fsiface.Keyboard
	FS       fsiface.FileSystem
}

// Arg reads the index-th word above the calling task's saved stack
// pointer, the user-stack argument-passing convention every command
// handler uses.
func (c *Context) Arg(index int) (uintptr, error) {
	regs, ok := c.Manager.Scheduler.Registers(c.TaskID)
	if !ok {
		return 0, vanaerr.New("syscall.Arg", vanaerr.CodeNotFound, "unknown task")
	}
	dir, ok := c.Manager.Scheduler.Directory(c.TaskID)
	if !ok {
		return 0, vanaerr.New("syscall.Arg", vanaerr.CodeNotFound, "unknown task")
	}
	return task.GetStackItem(dir, c.Manager.Mem, regs.SP, index)
}

// CopyString reads a NUL-terminated string of at most max bytes from the
// calling task's address space.
func (c *Context) CopyString(virt uintptr, max int) (string, error) {
	dir, ok := c.Manager.Scheduler.Directory(c.TaskID)
	if !ok {
		return "", vanaerr.New("syscall.CopyString", vanaerr.CodeNotFound, "unknown task")
	}
	return task.CopyStringFromTask(dir, c.Manager.Mem, virt, max)
}

// Translate resolves a calling-task virtual address to physical, the way
// task_virtual_address_to_physical does for arguments that are themselves
// pointers to structured data rather than plain values.
func (c *Context) Translate(virt uintptr) (uintptr, error) {
	dir, ok := c.Manager.Scheduler.Directory(c.TaskID)
	if !ok {
		return 0, vanaerr.New("syscall.Translate", vanaerr.CodeNotFound, "unknown task")
	}
	phys, err := dir.Translate(uint64(virt))
	if err != nil {
		return 0, err
	}
	return uintptr(phys), nil
}

func noProcess(op string) error {
	return vanaerr.New(op, vanaerr.CodeNotFound, "calling task has no owning process")
}

// Process returns the process record owning the calling task.
func (c *Context) Process() (*task.Process, bool) {
	pid, ok := c.Manager.Scheduler.ProcessID(c.TaskID)
	if !ok {
		return nil, false
	}
	return c.Manager.Processes.Get(pid)
}

// Table is the fixed-capacity command table.
type Table struct {
	handlers [MaxCommands]Handler
}

// NewTable returns an empty command table.
func NewTable() *Table { return &Table{} }

// Register installs fn as the handler for id. An id outside the table, or
// an id already registered, is a programming error and panics.
func (t *Table) Register(id int, fn Handler) {
	if id < 0 || id >= MaxCommands {
		panic("syscall: command id out of bounds")
	}
	if t.handlers[id] != nil {
		panic("syscall: command already registered")
	}
	t.handlers[id] = fn
}

// Dispatch looks up id and invokes its handler with ctx. An out-of-range or
// unregistered id returns the stable "not implemented" error rather than
// panicking, since id arrives from user-controlled input.
func (t *Table) Dispatch(id int, ctx *Context) (uintptr, error) {
	if id < 0 || id >= MaxCommands {
		return 0, vanaerr.New("syscall.Dispatch", vanaerr.CodeNotImplemented, "command id out of range")
	}
	h := t.handlers[id]
	if h == nil {
		return 0, vanaerr.New("syscall.Dispatch", vanaerr.CodeNotImplemented, "command not registered")
	}
	return h(ctx)
}
