package interp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"os/exec"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/larva/rvgo/isa"
	"github.com/ethereum-optimism/larva/rvgo/mmu"
	"github.com/ethereum-optimism/larva/rvgo/riscv"
)

const codeBase = 0x1_0000

// reg names used by the test programs
const (
	zero = riscv.RegZero
	ra   = riscv.RegRA
	sp   = riscv.RegSP
	t0   = riscv.RegT0
	s0   = riscv.RegS0
	s1   = riscv.RegS1
	a0   = riscv.RegA0
	a1   = riscv.RegA1
	a2   = riscv.RegA2
	a7   = riscv.RegA7
)

func u32Mask() uint64 {
	return 0xFFFF_FFFF
}

func testLogger(w io.Writer) log.Logger {
	return log.NewLogger(log.LogfmtHandlerWithLevel(w, log.LevelDebug))
}

func asm(t *testing.T, insts ...isa.Instruction) []byte {
	t.Helper()
	var out []byte
	for _, inst := range insts {
		w, err := isa.Encode(inst)
		require.NoError(t, err, "encode %s", inst)
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

type testVM struct {
	in     *Interpreter
	mem    *mmu.MMU
	sys    *LinuxSyscalls
	stdout *bytes.Buffer
	exits  []int
}

func newTestVM(t *testing.T, code []byte) *testVM {
	t.Helper()
	mem := mmu.New(riscv.GuestPageSize)
	require.NoError(t, mem.AllocateAt(codeBase, uint64(len(code))))
	require.NoError(t, mem.Write(codeBase, code))

	vm := &testVM{mem: mem, stdout: new(bytes.Buffer)}
	logger := testLogger(io.Discard)
	vm.sys = NewLinuxSyscalls(mem, bytes.NewReader(nil), vm.stdout, vm.stdout, logger)
	vm.in = New(new(State), mem, vm.sys, logger)
	vm.in.Exit = func(code int) { vm.exits = append(vm.exits, code) }
	require.NoError(t, vm.in.SetupStack(64*1024))
	return vm
}

func (vm *testVM) run(t *testing.T) StopReason {
	t.Helper()
	stop, err := vm.in.Run(codeBase)
	require.NoError(t, err, spew.Sdump(vm.in.State()))
	return stop
}

var exitProgram = []byte{0x13, 0x05, 0xb0, 0x07, 0x93, 0x08, 0xd0, 0x05, 0x73, 0x00, 0x00, 0x00}

func TestExitProgram(t *testing.T) {
	vm := newTestVM(t, exitProgram)
	stop := vm.run(t)
	require.Equal(t, Exited(123), stop)
	require.Equal(t, []int{123}, vm.exits)
	require.Equal(t, uint64(2), vm.in.State().Instret, "ecall that exits is not retired")
	require.Equal(t, uint64(codeBase+8), vm.in.State().PC)
}

func TestExitTerminatesProcess(t *testing.T) {
	if os.Getenv("LARVA_EXIT_CHILD") == "1" {
		mem := mmu.New(riscv.GuestPageSize)
		if err := mem.AllocateAt(codeBase, uint64(len(exitProgram))); err != nil {
			panic(err)
		}
		if err := mem.Write(codeBase, exitProgram); err != nil {
			panic(err)
		}
		sys := NewLinuxSyscalls(mem, nil, os.Stdout, os.Stderr, nil)
		in := New(new(State), mem, sys, nil)
		_, _ = in.Run(codeBase)
		os.Exit(1) // not reached
	}
	cmd := exec.Command(os.Args[0], "-test.run=^TestExitTerminatesProcess$")
	cmd.Env = append(os.Environ(), "LARVA_EXIT_CHILD=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected exit error, got %v", err)
	require.Equal(t, 123, exitErr.ExitCode())
}

func TestFibonacci(t *testing.T) {
	code := asm(t,
		// _start
		isa.IType{Op: isa.ADDI, Rd: a0, Rs1: zero, Imm: 11},
		isa.UJType{Op: isa.JAL, Rd: ra, Imm: 12},
		isa.IType{Op: isa.ADDI, Rd: a7, Rs1: zero, Imm: riscv.SysExitGroup},
		isa.System{Op: isa.ECALL},
		// fib
		isa.IType{Op: isa.ADDI, Rd: t0, Rs1: zero, Imm: 2},
		isa.SBType{Op: isa.BLT, Rs1: a0, Rs2: t0, Imm: 64},
		isa.IType{Op: isa.ADDI, Rd: sp, Rs1: sp, Imm: -32},
		isa.SBType{Op: isa.SD, Rs1: sp, Rs2: ra, Imm: 24},
		isa.SBType{Op: isa.SD, Rs1: sp, Rs2: s0, Imm: 16},
		isa.SBType{Op: isa.SD, Rs1: sp, Rs2: s1, Imm: 8},
		isa.IType{Op: isa.ADDI, Rd: s0, Rs1: a0, Imm: 0},
		isa.IType{Op: isa.ADDI, Rd: a0, Rs1: s0, Imm: -1},
		isa.UJType{Op: isa.JAL, Rd: ra, Imm: -32},
		isa.IType{Op: isa.ADDI, Rd: s1, Rs1: a0, Imm: 0},
		isa.IType{Op: isa.ADDI, Rd: a0, Rs1: s0, Imm: -2},
		isa.UJType{Op: isa.JAL, Rd: ra, Imm: -44},
		isa.RType{Op: isa.ADD, Rd: a0, Rs1: s1, Rs2: a0},
		isa.IType{Op: isa.LD, Rd: ra, Rs1: sp, Imm: 24},
		isa.IType{Op: isa.LD, Rd: s0, Rs1: sp, Imm: 16},
		isa.IType{Op: isa.LD, Rd: s1, Rs1: sp, Imm: 8},
		isa.IType{Op: isa.ADDI, Rd: sp, Rs1: sp, Imm: 32},
		isa.IType{Op: isa.JALR, Rd: zero, Rs1: ra, Imm: 0},
	)
	vm := newTestVM(t, code)
	spBefore := vm.in.State().Reg(sp)
	stop := vm.run(t)
	require.Equal(t, Exited(89), stop)
	require.Equal(t, uint64(89), vm.in.State().Reg(a0))
	require.Equal(t, spBefore, vm.in.State().Reg(sp))
}

func TestHelloWorld(t *testing.T) {
	code := []byte{
		0x05, 0x45, // c.li a0,1
		0x97, 0x05, 0x00, 0x00, // auipc a1,0
		0x93, 0x85, 0xe5, 0x01, // addi a1,a1,30
		0x31, 0x46, // c.li a2,12
		0x93, 0x08, 0x00, 0x04, // li a7,64
		0x73, 0x00, 0x00, 0x00, // ecall
		0x13, 0x05, 0x00, 0x00, // li a0,0
		0x93, 0x08, 0xd0, 0x05, // li a7,93
		0x73, 0x00, 0x00, 0x00, // ecall
	}
	code = append(code, "hello world\n"...)
	vm := newTestVM(t, code)
	stop := vm.run(t)
	require.Equal(t, Exited(0), stop)
	require.Equal(t, "hello world\n", vm.stdout.String())
}

func TestLoadStore(t *testing.T) {
	t.Run("64-bit", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.SBType{Op: isa.SD, Rs1: sp, Rs2: a1, Imm: -8},
			isa.IType{Op: isa.LD, Rd: a0, Rs1: sp, Imm: -8},
			isa.System{Op: isa.EBREAK},
		))
		vm.in.State().SetReg(a1, 0x0123_4567_89AB_CDEF)
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, uint64(0x0123_4567_89AB_CDEF), vm.in.State().Reg(a0))
	})
	t.Run("32-bit sign and zero extension", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.SBType{Op: isa.SW, Rs1: sp, Rs2: a1, Imm: -4},
			isa.IType{Op: isa.LW, Rd: a0, Rs1: sp, Imm: -4},
			isa.IType{Op: isa.LWU, Rd: a2, Rs1: sp, Imm: -4},
			isa.IType{Op: isa.LB, Rd: t0, Rs1: sp, Imm: -1},
			isa.IType{Op: isa.LHU, Rd: s0, Rs1: sp, Imm: -2},
			isa.System{Op: isa.EBREAK},
		))
		vm.in.State().SetReg(a1, 0xFFFF_FFFF_8765_4321)
		require.Equal(t, Break(), vm.run(t))
		s := vm.in.State()
		require.Equal(t, uint64(0xFFFF_FFFF_8765_4321), s.Reg(a0))
		require.Equal(t, uint64(0x8765_4321), s.Reg(a2))
		require.Equal(t, uint64(0xFFFF_FFFF_FFFF_FF87), s.Reg(t0))
		require.Equal(t, uint64(0x8765), s.Reg(s0))
	})
}

func TestArithmetic(t *testing.T) {
	cases := []struct {
		name   string
		inst   isa.Instruction
		x, y   uint64
		expect uint64
	}{
		{"addw wraps and sign-extends", isa.RType{Op: isa.ADDW, Rd: a0, Rs1: a1, Rs2: a2}, 0x7FFF_FFFF, 1, 0xFFFF_FFFF_8000_0000},
		{"sub", isa.RType{Op: isa.SUB, Rd: a0, Rs1: a1, Rs2: a2}, 1, 2, math.MaxUint64},
		{"sll masks shift", isa.RType{Op: isa.SLL, Rd: a0, Rs1: a1, Rs2: a2}, 1, 65, 2},
		{"sra", isa.RType{Op: isa.SRA, Rd: a0, Rs1: a1, Rs2: a2}, 1 << 63, 63, math.MaxUint64},
		{"sltu", isa.RType{Op: isa.SLTU, Rd: a0, Rs1: a1, Rs2: a2}, 1, math.MaxUint64, 1},
		{"slt", isa.RType{Op: isa.SLT, Rd: a0, Rs1: a1, Rs2: a2}, 1, math.MaxUint64, 0},
		{"sraw", isa.RType{Op: isa.SRAW, Rd: a0, Rs1: a1, Rs2: a2}, 0x8000_0000, 4, 0xFFFF_FFFF_F800_0000},
		{"srliw", isa.ShiftType{Op: isa.SRLIW, Rd: a0, Rs1: a1, Shamt: 4}, 0xFFFF_FFFF_8000_0000, 0, 0x0800_0000},
		{"srai", isa.ShiftType{Op: isa.SRAI, Rd: a0, Rs1: a1, Shamt: 60}, 1 << 63, 0, math.MaxUint64 - 7},
		{"sltiu compares sign-extended immediate unsigned", isa.IType{Op: isa.SLTIU, Rd: a0, Rs1: a1, Imm: -1}, 5, 0, 1},
		{"addiw", isa.IType{Op: isa.ADDIW, Rd: a0, Rs1: a1, Imm: 1}, 0xFFFF_FFFF, 0, 0},
		{"mul", isa.RType{Op: isa.MUL, Rd: a0, Rs1: a1, Rs2: a2}, 3, math.MaxUint64, math.MaxUint64 - 2},
		{"mulh", isa.RType{Op: isa.MULH, Rd: a0, Rs1: a1, Rs2: a2}, math.MaxUint64, math.MaxUint64, 0},
		{"mulhu", isa.RType{Op: isa.MULHU, Rd: a0, Rs1: a1, Rs2: a2}, math.MaxUint64, math.MaxUint64, math.MaxUint64 - 1},
		{"mulhsu", isa.RType{Op: isa.MULHSU, Rd: a0, Rs1: a1, Rs2: a2}, math.MaxUint64, 2, math.MaxUint64},
		{"div by zero", isa.RType{Op: isa.DIV, Rd: a0, Rs1: a1, Rs2: a2}, 7, 0, math.MaxUint64},
		{"div overflow", isa.RType{Op: isa.DIV, Rd: a0, Rs1: a1, Rs2: a2}, 1 << 63, math.MaxUint64, 1 << 63},
		{"rem by zero", isa.RType{Op: isa.REM, Rd: a0, Rs1: a1, Rs2: a2}, 7, 0, 7},
		{"remu", isa.RType{Op: isa.REMU, Rd: a0, Rs1: a1, Rs2: a2}, 7, 3, 1},
		{"divw ignores upper bits of divisor", isa.RType{Op: isa.DIVW, Rd: a0, Rs1: a1, Rs2: a2}, 10, 1 << 32, math.MaxUint64},
		{"divuw", isa.RType{Op: isa.DIVUW, Rd: a0, Rs1: a1, Rs2: a2}, 0xFFFF_FFFF, 1, math.MaxUint64},
		{"remw overflow", isa.RType{Op: isa.REMW, Rd: a0, Rs1: a1, Rs2: a2}, 0x8000_0000, 0xFFFF_FFFF, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			vm := newTestVM(t, asm(t, c.inst, isa.System{Op: isa.EBREAK}))
			vm.in.State().SetReg(a1, c.x)
			vm.in.State().SetReg(a2, c.y)
			require.Equal(t, Break(), vm.run(t))
			require.Equal(t, c.expect, vm.in.State().Reg(a0), "%s", c.inst)
		})
	}
}

func TestZeroRegister(t *testing.T) {
	vm := newTestVM(t, asm(t,
		isa.IType{Op: isa.ADDI, Rd: zero, Rs1: zero, Imm: 5},
		isa.RType{Op: isa.ADD, Rd: a0, Rs1: zero, Rs2: zero},
		isa.System{Op: isa.EBREAK},
	))
	vm.in.State().SetReg(a0, 9)
	require.Equal(t, Break(), vm.run(t))
	require.Equal(t, uint64(0), vm.in.State().Reg(zero))
	require.Equal(t, uint64(0), vm.in.State().Reg(a0))
}

func TestControlFlow(t *testing.T) {
	t.Run("jalr with rd equal to rs1", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.IType{Op: isa.JALR, Rd: a0, Rs1: a0, Imm: 1},
			isa.System{Op: isa.EBREAK},
			isa.System{Op: isa.EBREAK},
		))
		vm.in.State().SetReg(a0, codeBase+8)
		stop := vm.run(t)
		require.Equal(t, Break(), stop)
		// low bit of the target is cleared; rd gets the return address
		require.Equal(t, uint64(codeBase+8), vm.in.State().PC)
		require.Equal(t, uint64(codeBase+4), vm.in.State().Reg(a0))
	})
	t.Run("bgeu is unsigned", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.SBType{Op: isa.BGEU, Rs1: a1, Rs2: a2, Imm: 8},
			isa.System{Op: isa.EBREAK},
			isa.IType{Op: isa.ADDI, Rd: a0, Rs1: zero, Imm: 1},
			isa.System{Op: isa.EBREAK},
		))
		vm.in.State().SetReg(a1, math.MaxUint64)
		vm.in.State().SetReg(a2, 1)
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, uint64(1), vm.in.State().Reg(a0))
	})
	t.Run("blt is signed", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.SBType{Op: isa.BLT, Rs1: a1, Rs2: a2, Imm: 8},
			isa.System{Op: isa.EBREAK},
			isa.IType{Op: isa.ADDI, Rd: a0, Rs1: zero, Imm: 1},
			isa.System{Op: isa.EBREAK},
		))
		vm.in.State().SetReg(a1, math.MaxUint64)
		vm.in.State().SetReg(a2, 1)
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, uint64(1), vm.in.State().Reg(a0))
	})
	t.Run("auipc and lui", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.UJType{Op: isa.AUIPC, Rd: a0, Imm: 0x1000},
			isa.UJType{Op: isa.LUI, Rd: a1, Imm: -0x1000},
			isa.System{Op: isa.EBREAK},
		))
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, uint64(codeBase+0x1000), vm.in.State().Reg(a0))
		require.Equal(t, uint64(0xFFFF_FFFF_FFFF_F000), vm.in.State().Reg(a1))
	})
}

func TestStopReasons(t *testing.T) {
	t.Run("break leaves pc at ebreak", func(t *testing.T) {
		vm := newTestVM(t, asm(t, isa.IType{Op: isa.ADDI, Rd: a0, Rs1: zero, Imm: 1}, isa.System{Op: isa.EBREAK}))
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, uint64(codeBase+4), vm.in.State().PC)
		require.Equal(t, uint64(1), vm.in.State().Instret)
	})
	t.Run("reserved compressed instruction", func(t *testing.T) {
		vm := newTestVM(t, []byte{0x00, 0x00})
		require.Equal(t, ReservedInstruction(0), vm.run(t))
	})
	t.Run("reserved full word", func(t *testing.T) {
		vm := newTestVM(t, []byte{0x7F, 0x00, 0x00, 0x00})
		stop := vm.run(t)
		require.Equal(t, StopReservedInstruction, stop.Kind)
		require.Equal(t, uint32(0x7F), stop.Raw)
	})
	t.Run("fetch fault", func(t *testing.T) {
		vm := newTestVM(t, asm(t, isa.UJType{Op: isa.JAL, Rd: zero, Imm: 0x10000}))
		require.Equal(t, MemoryFault(AccessRead, codeBase+0x10000), vm.run(t))
	})
	t.Run("load fault keeps rd", func(t *testing.T) {
		vm := newTestVM(t, asm(t, isa.IType{Op: isa.LD, Rd: a0, Rs1: zero, Imm: 16}))
		vm.in.State().SetReg(a0, 77)
		require.Equal(t, MemoryFault(AccessRead, 16), vm.run(t))
		require.Equal(t, uint64(77), vm.in.State().Reg(a0))
	})
	t.Run("store to read-only memory", func(t *testing.T) {
		vm := newTestVM(t, asm(t, isa.SBType{Op: isa.SD, Rs1: a0, Rs2: a1, Imm: 0}))
		buf := make([]byte, 64)
		g, err := vm.mem.RegisterHostMemory(buf, false)
		require.NoError(t, err)
		vm.in.State().SetReg(a0, uint64(g))
		vm.in.State().SetReg(a1, 0xDEAD)
		require.Equal(t, MemoryFault(AccessWrite, uint64(g)), vm.run(t))
		require.Equal(t, make([]byte, 64), buf)
	})
	t.Run("store to borrowed writable memory", func(t *testing.T) {
		vm := newTestVM(t, asm(t, isa.SBType{Op: isa.SH, Rs1: a0, Rs2: a1, Imm: 2}, isa.System{Op: isa.EBREAK}))
		buf := make([]byte, 8)
		g, err := vm.mem.RegisterHostMemory(buf, true)
		require.NoError(t, err)
		vm.in.State().SetReg(a0, uint64(g))
		vm.in.State().SetReg(a1, 0xBEEF)
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, []byte{0, 0, 0xEF, 0xBE, 0, 0, 0, 0}, buf)
	})
	t.Run("unknown syscall continues", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.IType{Op: isa.ADDI, Rd: a7, Rs1: zero, Imm: 999},
			isa.System{Op: isa.ECALL},
			isa.System{Op: isa.EBREAK},
		))
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, uint64(math.MaxUint64-riscv.ENOSYS+1), vm.in.State().Reg(a0))
	})
	t.Run("unimplemented floating arithmetic", func(t *testing.T) {
		vm := newTestVM(t, asm(t, isa.RFType{Op: isa.FADD_D, Rd: 1, Rs1: 2, Rs2: 3, Rm: isa.RNE}))
		_, err := vm.in.Run(codeBase)
		require.ErrorIs(t, err, ErrUnimplemented)
		require.ErrorContains(t, err, "fadd.d")
	})
}

func TestFloatMoves(t *testing.T) {
	t.Run("signaling nan bits survive a round trip", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.R2Type{Op: isa.FMV_W_X, Rd: 1, Rs1: a1},
			isa.R2Type{Op: isa.FMV_X_W, Rd: a0, Rs1: 1},
			isa.R2Type{Op: isa.FMV_D_X, Rd: 2, Rs1: a2},
			isa.R2Type{Op: isa.FMV_X_D, Rd: t0, Rs1: 2},
			isa.System{Op: isa.EBREAK},
		))
		vm.in.State().SetReg(a1, 0x7FA0_0001)
		vm.in.State().SetReg(a2, 0x7FF0_0000_0000_0001)
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, uint64(0x7FA0_0001), vm.in.State().Reg(a0))
		require.Equal(t, uint64(0x7FF0_0000_0000_0001), vm.in.State().Reg(t0))
	})
	t.Run("fmv.x.w sign-extends", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.R2Type{Op: isa.FMV_W_X, Rd: 1, Rs1: a1},
			isa.R2Type{Op: isa.FMV_X_W, Rd: a0, Rs1: 1},
			isa.System{Op: isa.EBREAK},
		))
		vm.in.State().SetReg(a1, uint64(math.Float32bits(-1.5)))
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, mask32Signed64(uint64(math.Float32bits(-1.5))), vm.in.State().Reg(a0))
	})
	t.Run("float load and store", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.SBType{Op: isa.SD, Rs1: sp, Rs2: a1, Imm: -8},
			isa.IType{Op: isa.FLD, Rd: 3, Rs1: sp, Imm: -8},
			isa.SBType{Op: isa.FSD, Rs1: sp, Rs2: 3, Imm: -16},
			isa.IType{Op: isa.FLW, Rd: 4, Rs1: sp, Imm: -8},
			isa.SBType{Op: isa.FSW, Rs1: sp, Rs2: 4, Imm: -20},
			isa.IType{Op: isa.LD, Rd: a0, Rs1: sp, Imm: -16},
			isa.IType{Op: isa.LWU, Rd: a2, Rs1: sp, Imm: -20},
			isa.System{Op: isa.EBREAK},
		))
		vm.in.State().SetReg(a1, math.Float64bits(math.Pi))
		require.Equal(t, Break(), vm.run(t))
		s := vm.in.State()
		require.Equal(t, math.Pi, s.F[3])
		require.Equal(t, math.Float64bits(math.Pi), s.Reg(a0))
		require.Equal(t, math.Float64bits(math.Pi)&0xFFFF_FFFF, s.Reg(a2))
	})
	t.Run("sign injection", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.RType{Op: isa.FSGNJN_D, Rd: 3, Rs1: 1, Rs2: 1}, // fneg.d
			isa.RType{Op: isa.FSGNJX_D, Rd: 4, Rs1: 1, Rs2: 2},
			isa.RType{Op: isa.FSGNJ_S, Rd: 5, Rs1: 6, Rs2: 7},
			isa.System{Op: isa.EBREAK},
		))
		s := vm.in.State()
		s.F[1] = 2.5
		s.F[2] = -1
		s.setSingle(6, 3)
		s.setSingle(7, -0.5)
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, -2.5, s.F[3])
		require.Equal(t, -2.5, s.F[4])
		require.Equal(t, float32(-3), s.single(5))
	})
	t.Run("precision conversion", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.R2FType{Op: isa.FCVT_S_D, Rd: 2, Rs1: 1, Rm: isa.RNE},
			isa.R2FType{Op: isa.FCVT_D_S, Rd: 3, Rs1: 2, Rm: isa.RNE},
			isa.System{Op: isa.EBREAK},
		))
		s := vm.in.State()
		s.F[1] = 0.25
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, float32(0.25), s.single(2))
		require.Equal(t, 0.25, s.F[3])
	})
	t.Run("fclass", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.R2Type{Op: isa.FCLASS_D, Rd: a0, Rs1: 1},
			isa.R2Type{Op: isa.FCLASS_D, Rd: a1, Rs1: 2},
			isa.R2Type{Op: isa.FCLASS_S, Rd: a2, Rs1: 3},
			isa.System{Op: isa.EBREAK},
		))
		s := vm.in.State()
		s.F[1] = math.Inf(-1)
		s.F[2] = 1
		s.setSingleBits(3, canonicalNaN)
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, uint64(1<<0), s.Reg(a0))
		require.Equal(t, uint64(1<<6), s.Reg(a1))
		require.Equal(t, uint64(1<<9), s.Reg(a2))
	})
	t.Run("unboxed single reads as canonical nan", func(t *testing.T) {
		var s State
		s.F[1] = 1.0
		require.Equal(t, uint32(canonicalNaN), s.singleBits(1))
	})
}

func TestAtomics(t *testing.T) {
	t.Run("lr/sc", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.AmoType{Op: isa.LR_D, Rd: a0, Rs1: a1},
			isa.AmoType{Op: isa.SC_D, Rd: t0, Rs1: a1, Rs2: a2},
			isa.AmoType{Op: isa.SC_D, Rd: s0, Rs1: a1, Rs2: zero},
			isa.IType{Op: isa.LD, Rd: s1, Rs1: a1, Imm: 0},
			isa.System{Op: isa.EBREAK},
		))
		s := vm.in.State()
		addr := s.Reg(sp) - 64
		s.SetReg(a1, addr)
		s.SetReg(a2, 42)
		require.NoError(t, vm.mem.Write(mmu.GuestAddress(addr), []byte{7, 0, 0, 0, 0, 0, 0, 0}))
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, uint64(7), s.Reg(a0))
		require.Equal(t, uint64(0), s.Reg(t0), "first sc succeeds")
		require.Equal(t, uint64(1), s.Reg(s0), "reservation is consumed")
		require.Equal(t, uint64(42), s.Reg(s1))
		require.False(t, s.Reserved)
	})
	cases := []struct {
		name        string
		op          isa.Op
		mem, rs2    uint64
		expectMem   uint64
		expectValue uint64
	}{
		{"amoadd.w sign-extends old value", isa.AMOADD_W, 0xFFFF_FFFF, 2, 1, math.MaxUint64},
		{"amoswap.d", isa.AMOSWAP_D, 5, 9, 9, 5},
		{"amomin.w is signed", isa.AMOMIN_W, 1, 0xFFFF_FFFF, 0xFFFF_FFFF, 1},
		{"amominu.w is unsigned", isa.AMOMINU_W, 1, 0xFFFF_FFFF, 1, 1},
		{"amomax.d", isa.AMOMAX_D, math.MaxUint64, 3, 3, math.MaxUint64},
		{"amomaxu.d", isa.AMOMAXU_D, math.MaxUint64, 3, math.MaxUint64, math.MaxUint64},
		{"amoor.d", isa.AMOOR_D, 0xF0, 0x0F, 0xFF, 0xF0},
		{"amoxor.w", isa.AMOXOR_W, 0xFF, 0x0F, 0xF0, 0xFF},
		{"amoand.d", isa.AMOAND_D, 0xFF, 0x0F, 0x0F, 0xFF},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			vm := newTestVM(t, asm(t, isa.AmoType{Op: c.op, Rd: a0, Rs1: a1, Rs2: a2}, isa.System{Op: isa.EBREAK}))
			s := vm.in.State()
			addr := s.Reg(sp) - 64
			s.SetReg(a1, addr)
			s.SetReg(a2, c.rs2)
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], c.mem)
			require.NoError(t, vm.mem.Write(mmu.GuestAddress(addr), buf[:]))
			require.Equal(t, Break(), vm.run(t))
			require.Equal(t, c.expectValue, s.Reg(a0))
			require.NoError(t, vm.mem.Read(mmu.GuestAddress(addr), buf[:]))
			size := c.op.Width()
			got := binary.LittleEndian.Uint64(buf[:])
			if size == 4 {
				got &= u32Mask()
			}
			require.Equal(t, c.expectMem, got)
		})
	}
}

func TestCSR(t *testing.T) {
	t.Run("floating point status", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.CSRType{Op: isa.CSRRW, Rd: zero, Rs1: a1, CSR: riscv.CSRFcsr},
			isa.CSRType{Op: isa.CSRRS, Rd: a0, Rs1: zero, CSR: riscv.CSRFrm},
			isa.CSRType{Op: isa.CSRRCI, Rd: a2, Rs1: 0x1, CSR: riscv.CSRFflags},
			isa.CSRType{Op: isa.CSRRS, Rd: t0, Rs1: zero, CSR: riscv.CSRFcsr},
			isa.System{Op: isa.EBREAK},
		))
		s := vm.in.State()
		s.SetReg(a1, 0x1_45) // upper bits are dropped
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, uint64(0x2), s.Reg(a0))
		require.Equal(t, uint64(0x05), s.Reg(a2))
		require.Equal(t, uint64(0x44), s.Reg(t0))
	})
	t.Run("instret counts retired instructions", func(t *testing.T) {
		vm := newTestVM(t, asm(t,
			isa.IType{Op: isa.ADDI, Rd: zero, Rs1: zero, Imm: 0},
			isa.IType{Op: isa.ADDI, Rd: zero, Rs1: zero, Imm: 0},
			isa.CSRType{Op: isa.CSRRS, Rd: a0, Rs1: zero, CSR: riscv.CSRInstret},
			isa.System{Op: isa.EBREAK},
		))
		require.Equal(t, Break(), vm.run(t))
		require.Equal(t, uint64(2), vm.in.State().Reg(a0))
	})
	t.Run("counters are read-only", func(t *testing.T) {
		code := asm(t, isa.CSRType{Op: isa.CSRRW, Rd: a0, Rs1: a1, CSR: riscv.CSRCycle})
		vm := newTestVM(t, code)
		require.Equal(t, ReservedInstruction(binary.LittleEndian.Uint32(code)), vm.run(t))
	})
	t.Run("unknown csr", func(t *testing.T) {
		code := asm(t, isa.CSRType{Op: isa.CSRRS, Rd: a0, Rs1: zero, CSR: 0x300})
		vm := newTestVM(t, code)
		require.Equal(t, ReservedInstruction(binary.LittleEndian.Uint32(code)), vm.run(t))
	})
}

func TestFence(t *testing.T) {
	vm := newTestVM(t, asm(t,
		isa.FenceType{Op: isa.FENCE, Pred: 0xF, Succ: 0xF},
		isa.FenceType{Op: isa.FENCE_I},
		isa.System{Op: isa.EBREAK},
	))
	require.Equal(t, Break(), vm.run(t))
	require.Equal(t, uint64(1), vm.in.fences)
}

func TestStateHash(t *testing.T) {
	var a, b State
	require.Equal(t, a.Hash(), b.Hash())
	b.SetReg(a0, 1)
	require.NotEqual(t, a.Hash(), b.Hash())
	require.Len(t, a.EncodeState(), 8+31*8+32*8+4+8)
}
