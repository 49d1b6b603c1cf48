// Package descriptor is C4 and C5: the GDT, the IDT, and the PIC remap/EOI
// protocol. It owns the 256-slot interrupt callback table and the two
// legacy PIC controllers; the syscall command table lives in package
// syscall, which uses this package only for the InterruptFrame type.
// Package kernel registers the syscall handler on the vector-0x80 gate
// through the same RegisterCallback every other interrupt uses.
package descriptor

import (
	"github.com/splanck/vana/internal/ioport"
	"github.com/splanck/vana/internal/vanaerr"
)

// TotalVectors is the fixed size of the IDT, matching IDT_TOTAL_DESCRIPTORS.
const TotalVectors = 256

// SyscallVector is the user-accessible software-interrupt gate (32-bit
// core).
const SyscallVector = 0x80

const (
	picMasterCommand = 0x20
	picMasterData    = 0x21
	picSlaveCommand  = 0xA0
	picSlaveData     = 0xA1

	picEOI = 0x20

	icw1Init     = 0x11
	icw4Mode8086 = 0x01
)

// PICOffsets is the vector each PIC's IRQ0 is remapped to.
type PICOffsets struct {
	Master uint8
	Slave  uint8
}

// DefaultPICOffsets remaps hardware IRQs 0-15 onto kernel vectors
// 0x20-0x2F, per section 4.3.
var DefaultPICOffsets = PICOffsets{Master: 0x20, Slave: 0x28}

// RemapPIC reprograms both PIC controllers with the standard four-byte ICW
// sequence so that IRQ0-7 land at offsets.Master.. and IRQ8-15 at
// offsets.Slave... This must run before interrupts are enabled.
func RemapPIC(bus ioport.Bus, offsets PICOffsets) {
	bus.Out8(picMasterCommand, icw1Init)
	bus.Out8(picSlaveCommand, icw1Init)

	bus.Out8(picMasterData, offsets.Master)
	bus.Out8(picSlaveData, offsets.Slave)

	bus.Out8(picMasterData, 4) // tell master a slave sits on IRQ2
	bus.Out8(picSlaveData, 2)  // tell slave its cascade identity

	bus.Out8(picMasterData, icw4Mode8086)
	bus.Out8(picSlaveData, icw4Mode8086)
}

// UnmaskIRQs enables exactly the bits in irqs (0-15) on the PIC data
// registers, masking every other line. Step 9 of the boot contract unmasks
// only the IRQs a handler was registered for.
func UnmaskIRQs(bus ioport.Bus, irqs []int) {
	var masterMask, slaveMask uint8 = 0xFF, 0xFF
	for _, irq := range irqs {
		if irq < 8 {
			masterMask &^= 1 << uint(irq)
		} else if irq < 16 {
			slaveMask &^= 1 << uint(irq-8)
		}
	}
	bus.Out8(picMasterData, masterMask)
	bus.Out8(picSlaveData, slaveMask)
}

// Callback handles one interrupt vector.
type Callback func(frame *InterruptFrame)

// InterruptFrame is the saved user-mode register snapshot handed to a
// callback. The real layout is fixed by the assembly stub that builds it on
// the stack before calling into Go; this is its Go-visible shape.
type InterruptFrame struct {
	Vector int
	IP, CS, Flags, SP, SS uintptr
	GPRegs                [8]uintptr
}

// IDT is the interrupt descriptor table: a fixed callback slot per vector
// plus the PIC it must acknowledge hardware interrupts through.
type IDT struct {
	bus       ioport.Bus
	callbacks [TotalVectors]Callback
}

// New builds an IDT with every slot empty. The vector-0x80 gate and the
// default exception handlers are wired afterwards with RegisterCallback and
// InstallDefaultExceptionHandlers.
func New(bus ioport.Bus) *IDT {
	return &IDT{bus: bus}
}

// RegisterCallback installs fn as the handler for vector. Only vectors in
// [0, TotalVectors) are accepted; overwriting an existing callback is
// allowed (this is how the default exception handler at boot is later
// replaced by a process-aware one once the task core exists).
func (t *IDT) RegisterCallback(vector int, fn Callback) error {
	if vector < 0 || vector >= TotalVectors {
		return vanaerr.New("descriptor.RegisterCallback", vanaerr.CodeInvalidArgument, "vector out of range")
	}
	t.callbacks[vector] = fn
	return nil
}

// InstallDefaultExceptionHandlers points every vector in [0,32) at handler,
// matching the boot-time default before any process-aware handler replaces
// it.
func (t *IDT) InstallDefaultExceptionHandlers(handler Callback) {
	for v := 0; v < 32; v++ {
		t.callbacks[v] = handler
	}
}

// Dispatch is the Go-level body of the common interrupt stub: look up the
// callback for vector and invoke it with frame, then send end-of-interrupt
// if vector falls in the remapped hardware IRQ range. unhandled is called
// instead of the (missing) callback for an unhandled vector, so callers
// decide whether that means a boot-time panic or, in a hosted test, just an
// observation.
func (t *IDT) Dispatch(frame *InterruptFrame, unhandled func(vector int)) {
	vector := frame.Vector
	if vector >= 0 && vector < TotalVectors && t.callbacks[vector] != nil {
		t.callbacks[vector](frame)
	} else if unhandled != nil {
		unhandled(vector)
	}

	if ioport.PICRange(vector) {
		t.sendEOI(vector)
	}
}

// sendEOI acknowledges a hardware interrupt. For IRQs 8-15 (vectors
// 0x28-0x2F) the slave PIC must be acknowledged before the master; getting
// this order backwards can wedge the controller.
func (t *IDT) sendEOI(vector int) {
	if !ioport.MasterOnly(vector) {
		t.bus.Out8(picSlaveCommand, picEOI)
	}
	t.bus.Out8(picMasterCommand, picEOI)
}

// GDT is the flat segment layout every ring transition reloads against.
// There is no segmentation in use beyond privilege separation, so each
// selector simply names a ring and a code/data kind.
type GDT struct {
	KernelCode, KernelData uint16
	UserCode, UserData     uint16
}

// DefaultGDT is the conventional flat selector layout: null descriptor at
// 0x00, kernel code/data at 0x08/0x10, user code/data at 0x18/0x20. The
// user selectors already carry RPL 3 in their low two bits (0x1B/0x23).
var DefaultGDT = GDT{
	KernelCode: 0x08,
	KernelData: 0x10,
	UserCode:   0x18 | 3,
	UserData:   0x20 | 3,
}
