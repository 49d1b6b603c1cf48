// Command vanasim boots the kernel core against simulated hardware and an
// in-memory filesystem, the hosted stand-in for flashing a real disk image
// and running it under QEMU. It loads a tiny embedded program as the init
// process, then fires a handful of syscalls through the installed IDT gate
// the same way a user-mode INT 0x80 would, and prints what came back.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/splanck/vana/internal/allocator"
	"github.com/splanck/vana/internal/bootlog"
	"github.com/splanck/vana/internal/descriptor"
	"github.com/splanck/vana/internal/fsiface"
	"github.com/splanck/vana/internal/ioport"
	"github.com/splanck/vana/internal/kernel"
	"github.com/splanck/vana/internal/paging"
	"github.com/splanck/vana/internal/syscall"
	"github.com/splanck/vana/internal/task"
	"github.com/splanck/vana/internal/vanaerr"
)

// initProgram is a flat raw binary: two NOPs and a RET. It never runs on a
// real CPU here (there is no x86 interpreter in this module) — it only has
// to be non-empty and ELF-less so internal/loader maps it as FileTypeBinary.
var initProgram = []byte{0x90, 0x90, 0xC3}

// memFS is a fixed, in-memory fsiface.FileSystem: the hosted stand-in for a
// mounted disk, the role spec section 6's boot step 6 hands to a real
// filesystem driver.
type memFS struct{ files map[string][]byte }

func (fs *memFS) Open(path, mode string) (fsiface.File, error) {
	data, ok := fs.files[path]
	if !ok {
		return nil, vanaerr.New("memFS.Open", vanaerr.CodeNotFound, "no such file: "+path)
	}
	return &memFile{data: data}, nil
}

type memFile struct {
	data []byte
	pos  int64
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.pos >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = f.pos
	case 2:
		base = int64(len(f.data))
	}
	f.pos = base + offset
	return f.pos, nil
}

func (f *memFile) Close() error { return nil }

func (f *memFile) Stat() (fsiface.FileInfo, error) {
	return fsiface.FileInfo{Size: int64(len(f.data))}, nil
}

func main() {
	verbose := flag.Bool("v", false, "log at debug level instead of info")
	initPath := flag.String("init", "0:/bin/init", "path of the initial program in the simulated filesystem")
	flag.Parse()

	level := bootlog.LevelInfo
	if *verbose {
		level = bootlog.LevelDebug
	}
	log := bootlog.New(&bootlog.Config{Level: level, Output: os.Stderr})

	fs := &memFS{files: map[string][]byte{*initPath: initProgram}}

	cfg := kernel.Config{
		Bus:         ioport.NewSim(),
		Log:         log,
		HeapRegion:  kernel.Region{Start: 0x0040_0000, End: 0x0040_0000 + 1024*allocator.BlockSize},
		FrameRegion: kernel.Region{Start: 0x0080_0000, End: 0x0080_0000 + 1024*allocator.BlockSize},
		Mode:        paging.Mode32,
		Identity:    16 * 1024 * 1024,
		PICOffsets:  descriptor.DefaultPICOffsets,
		IRQs:        []int{0, 1},
		FS:          fs,
		InitProgram: *initPath,
	}

	k, err := kernel.Boot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot failed: %v\n", err)
		os.Exit(1)
	}

	id, ok := k.Manager.Scheduler.Current()
	if !ok {
		fmt.Fprintln(os.Stderr, "boot succeeded but no task is current")
		os.Exit(1)
	}
	fmt.Printf("booted; init process running as task %d\n", id)

	sum := dispatch(k, id, syscall.CmdSum, 19, 23)
	fmt.Printf("sum(19, 23) via syscall gate 0x%x = %d\n", descriptor.SyscallVector, sum)

	msg := "hello from vanasim\x00"
	pid, _ := k.Manager.Scheduler.ProcessID(id)
	proc, _ := k.Manager.Processes.Get(pid)
	ptr, err := k.Manager.ProcessMalloc(proc.ID, uint32(len(msg)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ProcessMalloc: %v\n", err)
		os.Exit(1)
	}
	k.Manager.Mem.WriteBytes(ptr, []byte(msg))
	dispatch(k, id, syscall.CmdPrint, ptr)

	fmt.Println("console after the Print syscall:")
	for row := 0; row < 2; row++ {
		line := make([]byte, 0, 40)
		for col := 0; col < 40; col++ {
			cell := k.Console.CellAt(col, row)
			line = append(line, byte(cell))
		}
		fmt.Printf("  %q\n", line)
	}

	k.Shutdown()
	fmt.Println("shutdown: interrupts disabled, CPU halted")
}

// dispatch pushes args onto id's saved stack, fires the syscall vector
// through the real IDT gate (not a direct call into package syscall), and
// returns the value the handler left in the return register.
func dispatch(k *kernel.Kernel, id task.TaskID, cmd int, args ...uintptr) uintptr {
	regs, ok := k.Manager.Scheduler.Registers(id)
	if !ok {
		fmt.Fprintln(os.Stderr, "dispatch: unknown task")
		os.Exit(1)
	}
	regs.SP -= uintptr(len(args)) * 8
	k.Manager.Scheduler.SaveState(id, regs)

	dir, _ := k.Manager.Scheduler.Directory(id)
	for i, a := range args {
		phys, err := dir.Translate(uint64(regs.SP) + uint64(i)*8)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dispatch: translate arg %d: %v\n", i, err)
			os.Exit(1)
		}
		k.Manager.Mem.WriteWord(uintptr(phys), a)
	}

	frame := &descriptor.InterruptFrame{Vector: descriptor.SyscallVector}
	frame.GPRegs[0] = uintptr(cmd)
	k.IDT.Dispatch(frame, nil)
	return frame.GPRegs[0]
}
