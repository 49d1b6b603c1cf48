package loader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/splanck/vana/internal/vanaerr"
)

const (
	phdrSize   = 56
	ehdrSize   = 64
	ptLoad     = 1
	pfX, pfW, pfR = 1, 2, 4
)

// buildELF64 assembles a minimal, well-formed ELF64 executable with the
// given program headers and per-segment file content, enough for
// debug/elf.NewFile to parse successfully.
func buildELF64(t *testing.T, entry uint64, segs []Segment) []byte {
	t.Helper()

	type phdr struct {
		vaddr, memsz uint64
		flags        uint32
		data         []byte
	}
	var phdrs []phdr
	for _, s := range segs {
		flags := uint32(pfR)
		if s.Writable {
			flags |= pfW
		}
		phdrs = append(phdrs, phdr{vaddr: s.Vaddr, memsz: s.MemSize, flags: flags, data: s.Data})
	}

	phoff := uint64(ehdrSize)
	dataOff := phoff + uint64(len(phdrs))*phdrSize

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // e_type = ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(62)) // e_machine = x86-64
	binary.Write(&buf, binary.LittleEndian, uint32(1))  // e_version
	binary.Write(&buf, binary.LittleEndian, entry)
	binary.Write(&buf, binary.LittleEndian, phoff)
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(phdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(len(phdrs)))
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shstrndx

	offsets := make([]uint64, len(phdrs))
	off := dataOff
	for i, p := range phdrs {
		offsets[i] = off
		off += uint64(len(p.data))
	}

	for i, p := range phdrs {
		binary.Write(&buf, binary.LittleEndian, uint32(ptLoad))
		binary.Write(&buf, binary.LittleEndian, p.flags)
		binary.Write(&buf, binary.LittleEndian, offsets[i])
		binary.Write(&buf, binary.LittleEndian, p.vaddr)
		binary.Write(&buf, binary.LittleEndian, p.vaddr) // p_paddr
		binary.Write(&buf, binary.LittleEndian, uint64(len(p.data)))
		binary.Write(&buf, binary.LittleEndian, p.memsz)
		binary.Write(&buf, binary.LittleEndian, uint64(0x1000)) // p_align
	}

	for _, p := range phdrs {
		buf.Write(p.data)
	}

	return buf.Bytes()
}

func TestParseRawBinaryFallback(t *testing.T) {
	data := []byte{0x90, 0x90, 0xC3} // not ELF-shaped at all
	img, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if img.FileType != FileTypeBinary {
		t.Fatalf("FileType = %v, want FileTypeBinary", img.FileType)
	}
	if img.Entry != RawBinaryLoadAddress {
		t.Fatalf("Entry = %#x, want RawBinaryLoadAddress", img.Entry)
	}
	if !bytes.Equal(img.Raw, data) {
		t.Fatal("Raw does not match input bytes")
	}
}

// TestParseELFWritableAndReadOnlySegments follows worked example 6: one
// writable and one read-only LOAD segment at distinct addresses.
func TestParseELFWritableAndReadOnlySegments(t *testing.T) {
	const entry = 0x400000
	segs := []Segment{
		{Vaddr: 0x400000, Data: []byte("code"), MemSize: 0x1000, Writable: false},
		{Vaddr: 0x401000, Data: []byte("data"), MemSize: 0x1000, Writable: true},
	}
	raw := buildELF64(t, entry, segs)

	img, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if img.FileType != FileTypeELF {
		t.Fatalf("FileType = %v, want FileTypeELF", img.FileType)
	}
	if img.Entry != entry {
		t.Fatalf("Entry = %#x, want %#x", img.Entry, entry)
	}
	if len(img.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(img.Segments))
	}
	if img.Segments[0].Writable {
		t.Fatal("segment 0 should be read-only")
	}
	if !img.Segments[1].Writable {
		t.Fatal("segment 1 should be writable")
	}
}

func TestParseELFRejectsMissingLoadSegments(t *testing.T) {
	raw := buildELF64(t, 0x400000, nil)
	if _, err := Parse(raw); !vanaerr.Is(err, vanaerr.CodeBadFormat) {
		t.Fatalf("Parse(no segments): err = %v, want bad-format", err)
	}
}
