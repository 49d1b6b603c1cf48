//go:build vana_baremetal

package ioport

import _ "unsafe" // for go:linkname

// Hardware is the real-CPU implementation of Bus. Each method is a thin Go
// wrapper around a single privileged instruction supplied by the
// freestanding runtime's assembly stubs and bound here the way the teacher
// binds its MMIO/barrier primitives: a bodyless declaration resolved by
// go:linkname against hand-written assembly shipped alongside the final
// linked kernel image (outside this module's scope, exactly as mazarin's
// lib.s/boot.s are outside src/go/mazarin).
type Hardware struct{}

//go:linkname asmIn8 asmIn8
func asmIn8(port uint16) uint8

//go:linkname asmOut8 asmOut8
func asmOut8(port uint16, val uint8)

//go:linkname asmLoadDirectory asmLoadDirectory
func asmLoadDirectory(physRoot uintptr)

//go:linkname asmFlushTLBEntry asmFlushTLBEntry
func asmFlushTLBEntry(virt uintptr)

//go:linkname asmReloadSegments asmReloadSegments
func asmReloadSegments(cs, ss uint16)

//go:linkname asmEnableInterrupts asmEnableInterrupts
func asmEnableInterrupts()

//go:linkname asmDisableInterrupts asmDisableInterrupts
func asmDisableInterrupts()

//go:linkname asmHalt asmHalt
func asmHalt()

func (Hardware) In8(port uint16) uint8        { return asmIn8(port) }
func (Hardware) Out8(port uint16, val uint8)  { asmOut8(port, val) }
func (Hardware) LoadDirectory(root uintptr)   { asmLoadDirectory(root) }
func (Hardware) FlushTLB(virt uintptr)        { asmFlushTLBEntry(virt) }
func (Hardware) ReloadSegments(cs, ss uint16) { asmReloadSegments(cs, ss) }
func (Hardware) EnableInterrupts()            { asmEnableInterrupts() }
func (Hardware) DisableInterrupts()           { asmDisableInterrupts() }
func (Hardware) Halt()                        { asmHalt() }
