// Package ioport is C1: the low-level I/O primitives every other subsystem
// builds on — port read/write, end-of-interrupt to the dual PIC, CPU
// segment-register reload, paging-directory load, TLB flush.
//
// None of these operations are expressible in portable Go; on real hardware
// they are single instructions (in/out, lgdt/lidt, mov cr3, a far jump,
// sti/cli/hlt) reached the way the teacher reaches its MMIO and barrier
// primitives: a Go declaration with no body, resolved at link time against
// hand-written assembly via go:linkname. Hardware is the production
// implementation of Bus; Sim is a software stand-in used by every other
// package's tests, grounded on the in-memory backend pattern used for
// testing go-ublk's block interface.
package ioport

// Bus is everything C1 exposes to the rest of the kernel core.
type Bus interface {
	// In8/Out8 read and write a single byte on a legacy I/O port.
	In8(port uint16) uint8
	Out8(port uint16, val uint8)

	// LoadDirectory installs physRoot (a physical address) as the CPU's
	// active paging root (CR3 on x86-32/64).
	LoadDirectory(physRoot uintptr)
	// FlushTLB invalidates cached translations after a directory mutation
	// that the CPU cannot observe on its own (anything other than a full
	// LoadDirectory, which already flushes implicitly).
	FlushTLB(virt uintptr)

	// ReloadSegments performs the privilege-transition segment reload a
	// return to user mode requires.
	ReloadSegments(cs, ss uint16)

	EnableInterrupts()
	DisableInterrupts()
	// Halt stops the CPU until the next interrupt; used when the run queue
	// empties (I-R1) or on an unrecoverable invariant violation.
	Halt()
}

// PICRange reports whether vector v is one of the 16 remapped hardware IRQ
// vectors (section 4.3 / 6: IRQs 0-15 occupy kernel vectors 0x20-0x2F).
func PICRange(vector int) bool {
	return vector >= 0x20 && vector <= 0x2F
}

// MasterOnly reports whether vector v is served by the master PIC alone
// (0x20-0x27); vectors 0x28-0x2F are slave IRQs and additionally require an
// EOI to the master, in that order (slave before master).
func MasterOnly(vector int) bool {
	return vector >= 0x20 && vector <= 0x27
}
