// Package symtab extracts the address-keyed string tables and the
// LOG0_CURSORS/LOG0_BUFFER symbol locations from a target ELF
// executable, walking the symbol table once at attach time.
package symtab

import (
	"debug/elf"
	"fmt"
	"sort"
)

// CursorSymbol and BufferSymbol are the stable linkage names a target
// build must export for the host to find its cursor pair and ring buffer.
const (
	CursorSymbol = "LOG0_CURSORS"
	BufferSymbol = "LOG0_BUFFER"
)

// FmtSection and TypeSection are the sections whose symbols populate the
// format-literal and type-name string tables, respectively.
const (
	FmtSection  = ".fasthosting"
	TypeSection = ".rodata"
)

// Info is everything the rest of the pipeline needs from the target
// binary's symbol table.
type Info struct {
	FmtTable    *StringTable
	TypeTable   *StringTable
	CursorsAddr uint64
	BufferAddr  uint64
	BufferSize  uint64
}

// StringTable maps an address (a byte's address in the target's loaded
// image) to the string symbol that starts there, and can also resolve an
// address that falls inside a symbol's byte range: a sorted list of
// [low, high) ranges resolved by binary search.
type StringTable struct {
	ranges []strRange
}

type strRange struct {
	low, high uint64
	value     string
}

func newStringTable() *StringTable { return &StringTable{} }

func (st *StringTable) add(addr, size uint64, value string) {
	high := addr + size
	if size == 0 {
		high = addr + 1
	}

	st.ranges = append(st.ranges, strRange{low: addr, high: high, value: value})
}

func (st *StringTable) finalize() {
	sort.Slice(st.ranges, func(i, j int) bool { return st.ranges[i].low < st.ranges[j].low })
}

// Entry is one address-keyed string, as returned by Entries.
type Entry struct {
	Addr  uint64
	Value string
}

// Entries returns every symbol this table holds, ordered by address. Used
// by the simulated-target mode to synthesize frames out of whichever
// format literals and type names the attached binary actually exports,
// rather than inventing keys with no binary behind them.
func (st *StringTable) Entries() []Entry {
	out := make([]Entry, len(st.ranges))
	for i, r := range st.ranges {
		out[i] = Entry{Addr: r.low, Value: r.value}
	}

	return out
}

// Lookup resolves the exact symbol starting at addr.
func (st *StringTable) Lookup(addr uint64) (string, bool) {
	i := sort.Search(len(st.ranges), func(i int) bool { return st.ranges[i].low >= addr })
	if i < len(st.ranges) && st.ranges[i].low == addr {
		return st.ranges[i].value, true
	}

	return "", false
}

// LookupRange resolves addr against whichever symbol's [low, high) range
// contains it, for callers that may be handed an address into the middle
// of a string.
func (st *StringTable) LookupRange(addr uint64) (string, bool) {
	i := sort.Search(len(st.ranges), func(i int) bool { return st.ranges[i].high > addr })
	if i < len(st.ranges) && st.ranges[i].low <= addr && addr < st.ranges[i].high {
		return st.ranges[i].value, true
	}

	return "", false
}

// Extract opens an ELF file's symbol table and builds Info from it.
func Extract(f *elf.File) (*Info, error) {
	symbols, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("symtab: reading .symtab: %w", err)
	}

	sectionBytes := make(map[string][]byte, len(f.Sections))
	sectionAddr := make(map[string]uint64, len(f.Sections))

	for _, s := range f.Sections {
		if s.Size == 0 {
			continue
		}

		data, err := s.Data()
		if err != nil {
			continue
		}

		sectionBytes[s.Name] = data
		sectionAddr[s.Name] = s.Addr
	}

	fmtTable := newStringTable()
	typeTable := newStringTable()

	var cursorsAddr, bufferAddr, bufferSize uint64

	var haveCursors, haveBuffer bool

	for _, sym := range symbols {
		if int(sym.Section) >= len(f.Sections) {
			continue
		}

		secName := f.Sections[sym.Section].Name

		switch secName {
		case FmtSection:
			if s, ok := sliceSymbol(sectionBytes[secName], sectionAddr[secName], sym); ok {
				fmtTable.add(sym.Value, sym.Size, s)
			}
		case TypeSection:
			if s, ok := sliceSymbol(sectionBytes[secName], sectionAddr[secName], sym); ok {
				typeTable.add(sym.Value, sym.Size, s)
			}
		}

		switch sym.Name {
		case CursorSymbol:
			cursorsAddr = sym.Value
			haveCursors = true
		case BufferSymbol:
			bufferAddr = sym.Value
			bufferSize = sym.Size
			haveBuffer = true
		}
	}

	if !haveCursors {
		return nil, fmt.Errorf("symtab: missing %s symbol", CursorSymbol)
	}

	if !haveBuffer {
		return nil, fmt.Errorf("symtab: missing %s symbol", BufferSymbol)
	}

	fmtTable.finalize()
	typeTable.finalize()

	return &Info{
		FmtTable:    fmtTable,
		TypeTable:   typeTable,
		CursorsAddr: cursorsAddr,
		BufferAddr:  bufferAddr,
		BufferSize:  bufferSize,
	}, nil
}

// sliceSymbol carves a symbol's raw bytes out of its owning section:
// the symbol's address minus the section's load address is its offset
// into the section's data.
func sliceSymbol(sectionData []byte, sectionAddr uint64, sym elf.Symbol) (string, bool) {
	if sym.Value < sectionAddr {
		return "", false
	}

	off := sym.Value - sectionAddr
	end := off + sym.Size

	if end > uint64(len(sectionData)) || off > end {
		return "", false
	}

	return string(sectionData[off:end]), true
}
