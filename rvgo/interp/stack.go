package interp

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum-optimism/larva/rvgo/mmu"
	"github.com/ethereum-optimism/larva/rvgo/riscv"
)

// atRandom is the 16 bytes AT_RANDOM points at. Fixed, so runs are reproducible.
var atRandom = [16]byte{'r', 'a', 'n', 'd', ' ', 'p', 'r', 'o', 't', 'o', 'l', 'a', 'm', 'b', 'd', 'a'}

// SetupStack allocates a stack of at least size bytes and points sp at its top.
func (in *Interpreter) SetupStack(size uint64) error {
	g, err := in.mem.Allocate(size, true)
	if err != nil {
		return fmt.Errorf("failed to allocate stack: %w", err)
	}
	sp := uint64(g.Add(size)) &^ 15
	in.state.SetReg(riscv.RegSP, sp)
	in.log.Debug("stack", "base", g, "sp", mmu.GuestAddress(sp))
	return nil
}

// SetupProcessStack allocates a stack and lays out the initial process
// frame the way the Linux loader does:
//
//	sp -> argc, argv[0..n-1], NULL, NULL (envp), auxv pairs, AT_NULL
//
// followed by the argument strings and the AT_RANDOM bytes near the top.
func (in *Interpreter) SetupProcessStack(size uint64, args []string) error {
	g, err := in.mem.Allocate(size, true)
	if err != nil {
		return fmt.Errorf("failed to allocate stack: %w", err)
	}
	base := uint64(g)
	top := (base + size) &^ 15

	var strs []byte
	offsets := make([]uint64, len(args))
	for i, a := range args {
		offsets[i] = uint64(len(strs))
		strs = append(strs, a...)
		strs = append(strs, 0)
	}
	random := top - uint64(len(atRandom))
	strBase := random - uint64(len(strs))

	var frame []byte
	frame = binary.LittleEndian.AppendUint64(frame, uint64(len(args)))
	for _, off := range offsets {
		frame = binary.LittleEndian.AppendUint64(frame, strBase+off)
	}
	frame = binary.LittleEndian.AppendUint64(frame, 0) // argv terminator
	frame = binary.LittleEndian.AppendUint64(frame, 0) // no environment
	for _, kv := range [][2]uint64{
		{riscv.AtPagesz, riscv.GuestPageSize},
		{riscv.AtRandom, random},
		{riscv.AtNull, 0},
	} {
		frame = binary.LittleEndian.AppendUint64(frame, kv[0])
		frame = binary.LittleEndian.AppendUint64(frame, kv[1])
	}

	sp := (strBase - uint64(len(frame))) &^ 15
	if sp < base || sp > top {
		return fmt.Errorf("stack of %d bytes too small for %d argument bytes", size, len(strs))
	}
	for _, w := range []struct {
		addr uint64
		data []byte
	}{
		{sp, frame},
		{strBase, strs},
		{random, atRandom[:]},
	} {
		if len(w.data) == 0 {
			continue
		}
		if err := in.mem.Write(mmu.GuestAddress(w.addr), w.data); err != nil {
			return fmt.Errorf("failed to write process stack: %w", err)
		}
	}
	in.state.SetReg(riscv.RegSP, sp)
	in.log.Debug("process stack", "base", g, "sp", mmu.GuestAddress(sp), "argc", len(args))
	return nil
}
