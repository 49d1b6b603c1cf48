package syscall

import "github.com/splanck/vana/internal/console"

// maxPrintLen bounds isr80h_command1_print's user-string copy, matching
// its stack-local char buf[1024].
const maxPrintLen = 1024

// maxPathLen bounds a program name copied off the user stack before the
// "0:/" drive prefix is prepended to form a full path.
const maxPathLen = 256

// maxExecArgs bounds how many argv entries Exec will read back out of the
// calling task's address space.
const maxExecArgs = 16

// RegisterDefaults installs the command catalogue: sum, print, getkey,
// putchar, malloc, free, exec, get-program-arguments, exit.
func RegisterDefaults(t *Table) {
	t.Register(CmdSum, Sum)
	t.Register(CmdPrint, Print)
	t.Register(CmdGetKey, GetKey)
	t.Register(CmdPutChar, PutChar)
	t.Register(CmdMalloc, Malloc)
	t.Register(CmdFree, Free)
	t.Register(CmdExec, Exec)
	t.Register(CmdGetArgv, GetArgv)
	t.Register(CmdExit, Exit)
}

// Sum is the demonstration command: reads two arguments off the user
// stack and returns their sum.
func Sum(ctx *Context) (uintptr, error) {
	a, err := ctx.Arg(0)
	if err != nil {
		return 0, err
	}
	b, err := ctx.Arg(1)
	if err != nil {
		return 0, err
	}
	return uintptr(int32(a) + int32(b)), nil
}

// Print copies a NUL-terminated user string and writes it to the console.
func Print(ctx *Context) (uintptr, error) {
	ptr, err := ctx.Arg(0)
	if err != nil {
		return 0, err
	}
	s, err := ctx.CopyString(ptr, maxPrintLen)
	if err != nil {
		return 0, err
	}
	ctx.Console.WriteString(s, console.DefaultColor)
	return 0, nil
}

// GetKey pops the next queued character, or returns 0 if none is waiting.
func GetKey(ctx *Context) (uintptr, error) {
	b, ok := ctx.Keyboard.ReadByte()
	if !ok {
		return 0, nil
	}
	return uintptr(b), nil
}

// PutChar writes a single character to the console at the default color.
func PutChar(ctx *Context) (uintptr, error) {
	ch, err := ctx.Arg(0)
	if err != nil {
		return 0, err
	}
	ctx.Console.WriteChar(byte(ch), console.DefaultColor)
	return 0, nil
}

// Malloc allocates size bytes for the calling process.
func Malloc(ctx *Context) (uintptr, error) {
	size, err := ctx.Arg(0)
	if err != nil {
		return 0, err
	}
	proc, ok := ctx.Process()
	if !ok {
		return 0, noProcess("syscall.Malloc")
	}
	return ctx.Manager.ProcessMalloc(proc.ID, uint32(size))
}

// Free releases a pointer previously returned by Malloc.
func Free(ctx *Context) (uintptr, error) {
	ptr, err := ctx.Arg(0)
	if err != nil {
		return 0, err
	}
	proc, ok := ctx.Process()
	if !ok {
		return 0, noProcess("syscall.Free")
	}
	ctx.Manager.ProcessFree(proc.ID, ptr)
	return 0, nil
}

// Exec loads a new program by name (argument 0, a user string without the
// drive prefix), optionally injects an argv array (argument 1, a pointer
// to argc string pointers; argument 2 is argc), and switches the run queue
// to the freshly loaded task.
func Exec(ctx *Context) (uintptr, error) {
	namePtr, err := ctx.Arg(0)
	if err != nil {
		return 0, err
	}
	argvPtr, err := ctx.Arg(1)
	if err != nil {
		return 0, err
	}
	argc, err := ctx.Arg(2)
	if err != nil {
		return 0, err
	}

	name, err := ctx.CopyString(namePtr, maxPathLen)
	if err != nil {
		return 0, err
	}

	id, err := ctx.Manager.LoadProcess(ctx.FS, "0:/"+name)
	if err != nil {
		return 0, err
	}

	if argc > 0 {
		args, err := ctx.readArgv(argvPtr, int(argc))
		if err != nil {
			ctx.Manager.Terminate(id)
			return 0, err
		}
		if err := ctx.Manager.InjectArguments(id, args); err != nil {
			ctx.Manager.Terminate(id)
			return 0, err
		}
	}

	proc, _ := ctx.Manager.Processes.Get(id)
	ctx.Manager.Scheduler.SwitchTo(proc.TaskID)
	return 0, nil
}

// readArgv reads n consecutive user string pointers starting at argvVirt
// and copies each referenced string out of the calling task's address
// space.
func (c *Context) readArgv(argvVirt uintptr, n int) ([]string, error) {
	if n > maxExecArgs {
		n = maxExecArgs
	}
	dir, ok := c.Manager.Scheduler.Directory(c.TaskID)
	if !ok {
		return nil, noProcess("syscall.Exec")
	}

	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		phys, err := dir.Translate(uint64(argvVirt) + uint64(i)*8)
		if err != nil {
			return nil, err
		}
		strPtr := c.Manager.Mem.ReadWord(uintptr(phys))
		s, err := c.CopyString(strPtr, maxPathLen)
		if err != nil {
			return nil, err
		}
		args = append(args, s)
	}
	return args, nil
}

// GetArgv writes the calling process's argc and argv pointer into a
// two-word {argc, argv} struct at the user pointer given in argument 0.
func GetArgv(ctx *Context) (uintptr, error) {
	outPtr, err := ctx.Arg(0)
	if err != nil {
		return 0, err
	}
	proc, ok := ctx.Process()
	if !ok {
		return 0, noProcess("syscall.GetArgv")
	}
	phys, err := ctx.Translate(outPtr)
	if err != nil {
		return 0, err
	}
	ctx.Manager.Mem.WriteWord(phys, uintptr(proc.Argc))
	ctx.Manager.Mem.WriteWord(phys+8, proc.ArgvVirt)
	return 0, nil
}

// Exit terminates the calling process and advances the run queue to
// whatever runs next.
func Exit(ctx *Context) (uintptr, error) {
	proc, ok := ctx.Process()
	if !ok {
		return 0, noProcess("syscall.Exit")
	}
	ctx.Manager.Terminate(proc.ID)
	if !ctx.Manager.Scheduler.Empty() {
		ctx.Manager.Scheduler.Next()
	}
	return 0, nil
}
