package cmd

import (
	"bufio"
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/larva/rvgo/interp"
	"github.com/ethereum-optimism/larva/rvgo/isa"
)

// Disassemble writes one line per instruction: address, encoding and
// assembly, with a label line wherever a symbol starts.
func Disassemble(w io.Writer, base uint64, code []byte, syms interp.SortedSymbols) error {
	bw := bufio.NewWriter(w)
	for off := 0; off < len(code); {
		addr := base + uint64(off)
		if sym := syms.FindSymbol(addr); sym.Value == addr && sym.Name != "" && sym.Name[0] != '!' {
			_, _ = fmt.Fprintf(bw, "\n%016x <%s>:\n", addr, sym.Name)
		}
		inst, n, ok := isa.Decode(code[off:])
		if !ok {
			for _, b := range code[off:] {
				_, _ = fmt.Fprintf(bw, "%8x:\t%02x      \t.byte 0x%02x\n", base+uint64(off), b, b)
				off++
			}
			break
		}
		var raw string
		if n == 2 {
			raw = fmt.Sprintf("%04x    ", binary.LittleEndian.Uint16(code[off:]))
		} else {
			raw = fmt.Sprintf("%08x", binary.LittleEndian.Uint32(code[off:]))
		}
		_, _ = fmt.Fprintf(bw, "%8x:\t%s\t%s\n", addr, raw, inst)
		off += n
	}
	return bw.Flush()
}

func disasFile(w io.Writer, path string, base uint64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", path, err)
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		// not an ELF: treat as a raw image
		return Disassemble(w, base, data, nil)
	}
	syms, err := interp.Symbols(f)
	if err != nil {
		return err
	}
	for i, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Flags&elf.PF_X == 0 {
			continue
		}
		code := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), code); err != nil {
			return fmt.Errorf("failed to read program segment %d: %w", i, err)
		}
		if err := Disassemble(w, prog.Vaddr, code, syms); err != nil {
			return err
		}
	}
	return nil
}

func Disas(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("no input files")
	}
	for _, path := range ctx.Args().Slice() {
		if ctx.NArg() > 1 {
			_, _ = fmt.Fprintf(os.Stdout, "\n%s:\n", path)
		}
		if err := disasFile(os.Stdout, path, ctx.Uint64(DisasBaseFlag.Name)); err != nil {
			return err
		}
	}
	return nil
}

var DisasCommand = &cli.Command{
	Name:        "disas",
	Usage:       "Disassemble RISC-V machine code",
	Description: "Disassemble the executable segments of ELF files, or whole raw images, one instruction per line.",
	ArgsUsage:   "<file>...",
	Action:      Disas,
	Flags: []cli.Flag{
		DisasBaseFlag,
	},
}
