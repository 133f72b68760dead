// Package elftest builds small, real ELF64 object files in memory for
// exercising internal/symtab without shipping prebuilt binary fixtures.
//
// The builder accepts arbitrary PROGBITS sections plus a real SHT_SYMTAB,
// the pieces the log0 host tooling needs to test against (the
// .fasthosting/.rodata literal tables and the LOG0_CURSORS/LOG0_BUFFER
// symbols), and lays the file out as one flat buffer of
// [header][section payloads][string tables][section header table].
package elftest

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	ehdrSize = 64
	shdrSize = 64
	symSize  = 24

	etRel    = 1
	emX86_64 = 62

	shtNull    = 0
	shtProgbit = 1
	shtSymtab  = 2
	shtStrtab  = 3

	shfAlloc = 0x2

	stbGlobal = 1
	sttObject = 1
)

// Section describes one section to embed in the object file.
type Section struct {
	Name  string
	Data  []byte
	Addr  uint64
	Alloc bool
}

// Symbol describes one .symtab entry. Section names the Section (by
// Name) this symbol's Value/Size are relative to.
type Symbol struct {
	Name    string
	Section string
	Value   uint64
	Size    uint64
}

// Build constructs a minimal ELF64 relocatable object containing the
// given sections and symbol table, readable back with debug/elf.
func Build(sections []Section, symbols []Symbol) ([]byte, error) {
	secIndex := make(map[string]int, len(sections))
	for i, s := range sections {
		secIndex[s.Name] = i + 1 // +1 for the leading null section
	}

	shstrtab := newStrtab()
	strtab := newStrtab()

	// Section order: null, user sections..., .symtab, .strtab, .shstrtab
	type laidOutSection struct {
		nameOff    uint32
		shtype     uint32
		flags      uint64
		addr       uint64
		data       []byte
		link, info uint32
		entsize    uint64
	}

	var laid []laidOutSection

	laid = append(laid, laidOutSection{}) // null section

	for _, s := range sections {
		flags := uint64(0)
		if s.Alloc {
			flags = shfAlloc
		}

		laid = append(laid, laidOutSection{
			nameOff: shstrtab.add(s.Name),
			shtype:  shtProgbit,
			flags:   flags,
			addr:    s.Addr,
			data:    s.Data,
		})
	}

	symBuf := &bytes.Buffer{}
	symBuf.Write(make([]byte, symSize)) // null symbol

	for _, sym := range symbols {
		shndx, ok := secIndex[sym.Section]
		if !ok {
			return nil, fmt.Errorf("elftest: symbol %q references unknown section %q", sym.Name, sym.Section)
		}

		nameOff := strtab.add(sym.Name)
		writeSym(symBuf, nameOff, uint16(shndx), sym.Value, sym.Size)
	}

	symtabIdx := len(laid) // index .symtab will occupy
	strtabIdx := symtabIdx + 1

	laid = append(laid, laidOutSection{
		nameOff: shstrtab.add(".symtab"),
		shtype:  shtSymtab,
		data:    symBuf.Bytes(),
		link:    uint32(strtabIdx),
		info:    1, // index of first non-local symbol; we only emit globals
		entsize: symSize,
	})

	laid = append(laid, laidOutSection{
		nameOff: shstrtab.add(".strtab"),
		shtype:  shtStrtab,
		data:    strtab.bytes(),
	})

	shstrNameOff := shstrtab.add(".shstrtab")
	shstrndx := len(laid) // index .shstrtab will occupy

	laid = append(laid, laidOutSection{
		nameOff: shstrNameOff,
		shtype:  shtStrtab,
		data:    shstrtab.bytes(),
	})

	// Lay out file bytes: header, then each non-null section's data in
	// order, then the section header table.
	file := &bytes.Buffer{}
	file.Write(make([]byte, ehdrSize))

	offsets := make([]uint64, len(laid))
	for i, s := range laid {
		if i == 0 {
			continue
		}

		offsets[i] = uint64(file.Len())
		file.Write(s.data)
	}

	shoff := uint64(file.Len())

	writeShdr := func(s laidOutSection, off uint64) {
		b := make([]byte, shdrSize)
		binary.LittleEndian.PutUint32(b[0:], s.nameOff)
		binary.LittleEndian.PutUint32(b[4:], s.shtype)
		binary.LittleEndian.PutUint64(b[8:], s.flags)
		binary.LittleEndian.PutUint64(b[16:], s.addr)
		binary.LittleEndian.PutUint64(b[24:], off)
		binary.LittleEndian.PutUint64(b[32:], uint64(len(s.data)))
		binary.LittleEndian.PutUint32(b[40:], s.link)
		binary.LittleEndian.PutUint32(b[44:], s.info)
		binary.LittleEndian.PutUint64(b[48:], 1)
		binary.LittleEndian.PutUint64(b[56:], s.entsize)
		file.Write(b)
	}

	for i, s := range laid {
		writeShdr(s, offsets[i])
	}

	out := file.Bytes()

	ehdr := make([]byte, ehdrSize)
	copy(ehdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	ehdr[4] = 2 // ELFCLASS64
	ehdr[5] = 1 // ELFDATA2LSB
	ehdr[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(ehdr[16:], etRel)
	binary.LittleEndian.PutUint16(ehdr[18:], emX86_64)
	binary.LittleEndian.PutUint32(ehdr[20:], 1)
	binary.LittleEndian.PutUint64(ehdr[40:], shoff)
	binary.LittleEndian.PutUint16(ehdr[52:], ehdrSize)
	binary.LittleEndian.PutUint16(ehdr[58:], shdrSize)
	binary.LittleEndian.PutUint16(ehdr[60:], uint16(len(laid)))
	binary.LittleEndian.PutUint16(ehdr[62:], uint16(shstrndx))
	copy(out[0:ehdrSize], ehdr)

	return out, nil
}

func writeSym(buf *bytes.Buffer, nameOff uint32, shndx uint16, value, size uint64) {
	b := make([]byte, symSize)
	binary.LittleEndian.PutUint32(b[0:], nameOff)
	b[4] = stbGlobal<<4 | sttObject
	b[5] = 0
	binary.LittleEndian.PutUint16(b[6:], shndx)
	binary.LittleEndian.PutUint64(b[8:], value)
	binary.LittleEndian.PutUint64(b[16:], size)
	buf.Write(b)
}

type strtab struct {
	buf *bytes.Buffer
}

func newStrtab() *strtab {
	b := &bytes.Buffer{}
	b.WriteByte(0)

	return &strtab{buf: b}
}

func (s *strtab) add(name string) uint32 {
	off := uint32(s.buf.Len())
	s.buf.WriteString(name)
	s.buf.WriteByte(0)

	return off
}

func (s *strtab) bytes() []byte { return s.buf.Bytes() }
