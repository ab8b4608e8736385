package interp

import (
	"debug/elf"
	"fmt"
	"io"
	"sort"

	"github.com/ethereum-optimism/larva/rvgo/mmu"
	"github.com/ethereum-optimism/larva/rvgo/riscv"
)

// Program describes a loaded executable image.
type Program struct {
	Entry uint64
	// Brk is the initial program break: the page after the highest segment.
	Brk uint64
}

// LoadELF maps every PT_LOAD segment of f into mem and copies its file
// contents. The bss tail of a segment is left zero by the allocation.
// Pages of segments without PF_W are mapped read-only, unless another
// writable segment shares them.
func LoadELF(f *elf.File, mem Memory) (*Program, error) {
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("unsupported machine %s", f.Machine)
	}
	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("unsupported class %s", f.Class)
	}
	out := &Program{Entry: f.Entry}

	var progs []*elf.Prog
	writable := make(map[uint64]bool) // page -> writable
	for i, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			// RISC-V reuses the MIPS_ABIFLAGS program type for .riscv.attributes; it is not loaded either.
			continue
		}
		if prog.Filesz > prog.Memsz {
			return nil, fmt.Errorf("invalid PT_LOAD program segment %d, file size (%d) > mem size (%d)", i, prog.Filesz, prog.Memsz)
		}
		end := pageUp(prog.Vaddr + prog.Memsz)
		for page := prog.Vaddr &^ (riscv.GuestPageSize - 1); page < end; page += riscv.GuestPageSize {
			writable[page] = writable[page] || prog.Flags&elf.PF_W != 0
		}
		if end > out.Brk {
			out.Brk = end
		}
		progs = append(progs, prog)
	}

	runs := pageRuns(writable)
	for _, r := range runs {
		if err := mem.AllocateAt(mmu.GuestAddress(r.start), r.size); err != nil {
			return nil, fmt.Errorf("failed to map pages at %s: %w", mmu.GuestAddress(r.start), err)
		}
	}
	for i, prog := range progs {
		r := io.NewSectionReader(prog, 0, int64(prog.Filesz))
		if err := mem.SetMemoryRange(mmu.GuestAddress(prog.Vaddr), r); err != nil {
			return nil, fmt.Errorf("failed to read program segment %d: %w", i, err)
		}
	}
	// the contents are in place, so read-only runs can be sealed
	for _, r := range runs {
		if r.writable {
			continue
		}
		if err := seal(mem, mmu.GuestAddress(r.start), r.size); err != nil {
			return nil, fmt.Errorf("failed to protect pages at %s: %w", mmu.GuestAddress(r.start), err)
		}
	}
	return out, nil
}

type pageRun struct {
	start, size uint64
	writable    bool
}

// pageRuns coalesces adjacent pages with the same writability.
func pageRuns(pages map[uint64]bool) []pageRun {
	keys := make([]uint64, 0, len(pages))
	for page := range pages {
		keys = append(keys, page)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var runs []pageRun
	for _, page := range keys {
		if n := len(runs); n > 0 {
			last := &runs[n-1]
			if last.start+last.size == page && last.writable == pages[page] {
				last.size += riscv.GuestPageSize
				continue
			}
		}
		runs = append(runs, pageRun{start: page, size: riscv.GuestPageSize, writable: pages[page]})
	}
	return runs
}

// seal replaces the zero-filled allocation at g with a read-only copy of it.
func seal(mem Memory, g mmu.GuestAddress, size uint64) error {
	data, err := io.ReadAll(mem.ReadMemoryRange(g, size))
	if err != nil {
		return err
	}
	if err := mem.Deallocate(g, size); err != nil {
		return err
	}
	return mem.RegisterHostMemoryAt(g, data, false)
}

type SortedSymbols []elf.Symbol

// FindSymbol finds the symbol that intersects with the given addr, or a
// "!start" / "!gap" placeholder if none does
func (s SortedSymbols) FindSymbol(addr uint64) elf.Symbol {
	// find first symbol with higher start. Or n if no such symbol exists
	i := sort.Search(len(s), func(i int) bool {
		return s[i].Value > addr
	})
	if i == 0 {
		return elf.Symbol{Name: "!start", Value: 0}
	}
	out := &s[i-1]
	if out.Value+out.Size < addr { // addr may be pointing to a gap between symbols
		return elf.Symbol{Name: "!gap", Value: addr}
	}
	return *out
}

// Symbols returns the symbol table of f ordered by address. Stripped
// binaries yield an empty table.
func Symbols(f *elf.File) (SortedSymbols, error) {
	symbols, err := f.Symbols()
	if err != nil {
		if err == elf.ErrNoSymbols {
			return SortedSymbols{}, nil
		}
		return nil, fmt.Errorf("failed to read symbols data: %w", err)
	}
	out := make(SortedSymbols, len(symbols))
	copy(out, symbols)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Value < out[j].Value
	})
	return out, nil
}
