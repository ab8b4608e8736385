package interp

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/larva/rvgo/isa"
	"github.com/ethereum-optimism/larva/rvgo/riscv"
)

func unimplemented(inst isa.Instruction) error {
	return fmt.Errorf("%w: %s", ErrUnimplemented, inst)
}

func (in *Interpreter) execute(inst isa.Instruction, raw uint32, pc, length uint64) (Outcome, error) {
	out, err := in.dispatch(inst, raw, pc, length)
	var mf *memFault
	if errors.As(err, &mf) {
		return halt(mf.stop), nil
	}
	return out, err
}

func (in *Interpreter) dispatch(inst isa.Instruction, raw uint32, pc, length uint64) (Outcome, error) {
	switch i := inst.(type) {
	case isa.RType:
		return in.execR(i)
	case isa.IType:
		return in.execI(i, pc, length)
	case isa.SBType:
		return in.execSB(i, pc)
	case isa.UJType:
		return in.execUJ(i, pc, length)
	case isa.ShiftType:
		return in.execShift(i)
	case isa.AmoType:
		return in.execAMO(i)
	case isa.R2Type:
		return in.execR2(i)
	case isa.R2FType:
		return in.execR2F(i, raw)
	case isa.RFType, isa.R4Type: // floating point arithmetic
		return Outcome{}, unimplemented(inst)
	case isa.FenceType:
		if i.Op == isa.FENCE {
			// single hart, so ordering only needs a host-level barrier
			atomic.AddUint64(&in.fences, 1)
		}
		// fence.i: no instruction cache to flush
		return cont(), nil
	case isa.CSRType:
		return in.execCSR(i, raw)
	case isa.System:
		switch i.Op {
		case isa.ECALL:
			return in.syscall(), nil
		case isa.EBREAK:
			return halt(Break()), nil
		}
	case isa.Invalid:
		return halt(ReservedInstruction(i.Raw)), nil
	}
	return Outcome{}, fmt.Errorf("unhandled instruction %s", inst)
}

func (in *Interpreter) execR(i isa.RType) (Outcome, error) {
	s := in.state
	if i.Op >= isa.FLW {
		return in.execFloatR(i)
	}
	rs1Value := s.Reg(i.Rs1)
	rs2Value := s.Reg(i.Rs2)
	var rdValue uint64
	switch i.Op {
	case isa.ADD:
		rdValue = rs1Value + rs2Value
	case isa.SUB:
		rdValue = rs1Value - rs2Value
	case isa.SLL:
		rdValue = rs1Value << (rs2Value & 0x3F) // only the low 6 bits are considered in RV64I
	case isa.SLT:
		rdValue = boolToU64(int64(rs1Value) < int64(rs2Value))
	case isa.SLTU:
		rdValue = boolToU64(rs1Value < rs2Value)
	case isa.XOR:
		rdValue = rs1Value ^ rs2Value
	case isa.SRL:
		rdValue = rs1Value >> (rs2Value & 0x3F) // logical: fill with zeroes
	case isa.SRA:
		rdValue = uint64(int64(rs1Value) >> (rs2Value & 0x3F)) // arithmetic: sign bit is extended
	case isa.OR:
		rdValue = rs1Value | rs2Value
	case isa.AND:
		rdValue = rs1Value & rs2Value
	case isa.ADDW:
		rdValue = mask32Signed64(rs1Value + rs2Value)
	case isa.SUBW:
		rdValue = mask32Signed64(rs1Value - rs2Value)
	case isa.SLLW:
		rdValue = mask32Signed64(uint64(uint32(rs1Value) << (rs2Value & 0x1F)))
	case isa.SRLW:
		rdValue = mask32Signed64(uint64(uint32(rs1Value) >> (rs2Value & 0x1F)))
	case isa.SRAW:
		rdValue = uint64(int64(int32(rs1Value) >> (rs2Value & 0x1F)))

	// M extension
	case isa.MUL:
		rdValue = rs1Value * rs2Value
	case isa.MULH: // upper bits of signed x signed
		rdValue = mulh(rs1Value, rs2Value)
	case isa.MULHSU: // upper bits of signed x unsigned
		rdValue = mulhsu(rs1Value, rs2Value)
	case isa.MULHU: // upper bits of unsigned x unsigned
		rdValue = mulhu(rs1Value, rs2Value)
	case isa.DIV:
		rdValue = sdiv64(rs1Value, rs2Value)
	case isa.DIVU:
		rdValue = div64(rs1Value, rs2Value)
	case isa.REM:
		rdValue = smod64(rs1Value, rs2Value)
	case isa.REMU:
		rdValue = mod64(rs1Value, rs2Value)
	case isa.MULW:
		rdValue = mask32Signed64(uint64(uint32(rs1Value) * uint32(rs2Value)))
	case isa.DIVW:
		rdValue = divw(rs1Value, rs2Value)
	case isa.DIVUW:
		rdValue = divuw(rs1Value, rs2Value)
	case isa.REMW:
		rdValue = remw(rs1Value, rs2Value)
	case isa.REMUW:
		rdValue = remuw(rs1Value, rs2Value)
	default:
		return Outcome{}, fmt.Errorf("unexpected register op %s", i.Op)
	}
	s.SetReg(i.Rd, rdValue)
	return cont(), nil
}

func (in *Interpreter) execI(i isa.IType, pc, length uint64) (Outcome, error) {
	s := in.state
	rs1Value := s.Reg(i.Rs1)
	imm := uint64(int64(i.Imm))

	switch i.Op {
	case isa.LB, isa.LH, isa.LW, isa.LD, isa.LBU, isa.LHU, isa.LWU:
		size := i.Op.Width()
		v, err := in.loadMem(rs1Value+imm, size)
		if err != nil {
			return Outcome{}, err
		}
		if !i.Op.ZeroExtends() && size < 8 {
			v = signExtend64(v, uint(size*8-1))
		}
		s.SetReg(i.Rd, v)
		return cont(), nil
	case isa.FLW:
		v, err := in.loadMem(rs1Value+imm, 4)
		if err != nil {
			return Outcome{}, err
		}
		s.setSingleBits(i.Rd, uint32(v))
		return cont(), nil
	case isa.FLD:
		v, err := in.loadMem(rs1Value+imm, 8)
		if err != nil {
			return Outcome{}, err
		}
		s.setDoubleBits(i.Rd, v)
		return cont(), nil
	case isa.JALR:
		// target from rs1 before rd is written, rd may equal rs1
		target := (rs1Value + imm) &^ 1 // least significant bit is set to 0
		s.SetReg(i.Rd, pc+length)
		return redirect(target), nil
	}

	var rdValue uint64
	switch i.Op {
	case isa.ADDI:
		rdValue = rs1Value + imm
	case isa.SLTI:
		rdValue = boolToU64(int64(rs1Value) < int64(imm))
	case isa.SLTIU:
		rdValue = boolToU64(rs1Value < imm)
	case isa.XORI:
		rdValue = rs1Value ^ imm
	case isa.ORI:
		rdValue = rs1Value | imm
	case isa.ANDI:
		rdValue = rs1Value & imm
	case isa.ADDIW:
		rdValue = mask32Signed64(rs1Value + imm)
	default:
		return Outcome{}, fmt.Errorf("unexpected immediate op %s", i.Op)
	}
	s.SetReg(i.Rd, rdValue)
	return cont(), nil
}

func (in *Interpreter) execSB(i isa.SBType, pc uint64) (Outcome, error) {
	s := in.state
	rs1Value := s.Reg(i.Rs1)
	rs2Value := s.Reg(i.Rs2)
	imm := uint64(int64(i.Imm))

	var taken bool
	switch i.Op {
	case isa.SB, isa.SH, isa.SW, isa.SD:
		if err := in.storeMem(rs1Value+imm, i.Op.Width(), rs2Value); err != nil {
			return Outcome{}, err
		}
		return cont(), nil
	case isa.FSW:
		if err := in.storeMem(rs1Value+imm, 4, uint64(s.singleBits(i.Rs2))); err != nil {
			return Outcome{}, err
		}
		return cont(), nil
	case isa.FSD:
		if err := in.storeMem(rs1Value+imm, 8, s.doubleBits(i.Rs2)); err != nil {
			return Outcome{}, err
		}
		return cont(), nil
	case isa.BEQ:
		taken = rs1Value == rs2Value
	case isa.BNE:
		taken = rs1Value != rs2Value
	case isa.BLT:
		taken = int64(rs1Value) < int64(rs2Value)
	case isa.BGE:
		taken = int64(rs1Value) >= int64(rs2Value)
	case isa.BLTU:
		taken = rs1Value < rs2Value
	case isa.BGEU:
		taken = rs1Value >= rs2Value
	default:
		return Outcome{}, fmt.Errorf("unexpected store/branch op %s", i.Op)
	}
	if taken {
		return redirect(pc + imm), nil
	}
	return cont(), nil
}

func (in *Interpreter) execUJ(i isa.UJType, pc, length uint64) (Outcome, error) {
	s := in.state
	imm := uint64(int64(i.Imm))
	switch i.Op {
	case isa.LUI:
		s.SetReg(i.Rd, imm)
	case isa.AUIPC:
		s.SetReg(i.Rd, pc+imm)
	case isa.JAL:
		s.SetReg(i.Rd, pc+length)
		return redirect(pc + imm), nil
	default:
		return Outcome{}, fmt.Errorf("unexpected upper-immediate op %s", i.Op)
	}
	return cont(), nil
}

func (in *Interpreter) execShift(i isa.ShiftType) (Outcome, error) {
	s := in.state
	rs1Value := s.Reg(i.Rs1)
	shamt := uint64(i.Shamt)
	var rdValue uint64
	switch i.Op {
	case isa.SLLI:
		rdValue = rs1Value << shamt
	case isa.SRLI:
		rdValue = rs1Value >> shamt
	case isa.SRAI:
		rdValue = uint64(int64(rs1Value) >> shamt)
	case isa.SLLIW:
		rdValue = mask32Signed64(uint64(uint32(rs1Value) << shamt))
	case isa.SRLIW:
		rdValue = mask32Signed64(uint64(uint32(rs1Value) >> shamt))
	case isa.SRAIW:
		rdValue = uint64(int64(int32(rs1Value) >> shamt))
	default:
		return Outcome{}, fmt.Errorf("unexpected shift op %s", i.Op)
	}
	s.SetReg(i.Rd, rdValue)
	return cont(), nil
}

func (in *Interpreter) execAMO(i isa.AmoType) (Outcome, error) {
	// aq/rl only order memory ops between harts; with one hart they are no-ops
	s := in.state
	size := i.Op.Width()
	addr := s.Reg(i.Rs1)

	switch i.Op {
	case isa.LR_W, isa.LR_D:
		v, err := in.loadMem(addr, size)
		if err != nil {
			return Outcome{}, err
		}
		if size == 4 {
			v = mask32Signed64(v)
		}
		s.SetReg(i.Rd, v)
		s.Reserved, s.Reservation = true, addr
		return cont(), nil
	case isa.SC_W, isa.SC_D:
		rdValue := uint64(1)
		if s.Reserved && s.Reservation == addr {
			if err := in.storeMem(addr, size, s.Reg(i.Rs2)); err != nil {
				return Outcome{}, err
			}
			rdValue = 0
		}
		s.Reserved, s.Reservation = false, 0
		s.SetReg(i.Rd, rdValue)
		return cont(), nil
	}

	old, err := in.loadMem(addr, size)
	if err != nil {
		return Outcome{}, err
	}
	value := s.Reg(i.Rs2)
	if size == 4 {
		old = mask32Signed64(old)
		value = mask32Signed64(value)
	}
	v := old
	switch i.Op {
	case isa.AMOSWAP_W, isa.AMOSWAP_D:
		v = value
	case isa.AMOADD_W, isa.AMOADD_D:
		v = old + value
	case isa.AMOXOR_W, isa.AMOXOR_D:
		v = old ^ value
	case isa.AMOAND_W, isa.AMOAND_D:
		v = old & value
	case isa.AMOOR_W, isa.AMOOR_D:
		v = old | value
	case isa.AMOMIN_W, isa.AMOMIN_D:
		if int64(value) < int64(old) {
			v = value
		}
	case isa.AMOMAX_W, isa.AMOMAX_D:
		if int64(value) > int64(old) {
			v = value
		}
	case isa.AMOMINU_W, isa.AMOMINU_D:
		// sign-extended words compare the same as their low 32 bits
		if value < old {
			v = value
		}
	case isa.AMOMAXU_W, isa.AMOMAXU_D:
		if value > old {
			v = value
		}
	default:
		return Outcome{}, fmt.Errorf("unknown atomic operation %s", i.Op)
	}
	if err := in.storeMem(addr, size, v); err != nil {
		return Outcome{}, err
	}
	s.SetReg(i.Rd, old)
	return cont(), nil
}

func (in *Interpreter) syscall() Outcome {
	s := in.state
	nr := s.Reg(riscv.RegA7)
	var args [6]uint64
	for k := range args {
		args[k] = s.Reg(riscv.RegA0 + uint8(k))
	}
	res := in.sys.Syscall(nr, args)
	if res.Exit {
		in.log.Debug("guest exit", "code", res.Code, "instret", s.Instret)
		in.Exit(res.Code)
		return halt(Exited(res.Code))
	}
	s.SetReg(riscv.RegA0, res.Value)
	return cont()
}

// execCSR handles the user-level floating-point and counter CSRs.
func (in *Interpreter) execCSR(i isa.CSRType, raw uint32) (Outcome, error) {
	s := in.state
	var old uint64
	writable := true
	switch i.CSR {
	case riscv.CSRFflags:
		old = uint64(s.FCSR & 0x1F)
	case riscv.CSRFrm:
		old = uint64(s.FCSR>>5) & 0x7
	case riscv.CSRFcsr:
		old = uint64(s.FCSR & 0xFF)
	case riscv.CSRCycle, riscv.CSRInstret:
		old, writable = s.Instret, false
	case riscv.CSRTime:
		old, writable = uint64(time.Since(in.start).Nanoseconds()), false
	default:
		return halt(ReservedInstruction(raw)), nil
	}

	var value uint64
	switch i.Op {
	case isa.CSRRW, isa.CSRRS, isa.CSRRC:
		value = s.Reg(i.Rs1)
	default:
		value = uint64(i.Rs1) // 5-bit zero-extended immediate
	}
	var next uint64
	write := true
	switch i.Op {
	case isa.CSRRW, isa.CSRRWI:
		next = value
	case isa.CSRRS, isa.CSRRSI:
		next, write = old|value, i.Rs1 != 0
	case isa.CSRRC, isa.CSRRCI:
		next, write = old&^value, i.Rs1 != 0
	}
	if write {
		if !writable {
			return halt(ReservedInstruction(raw)), nil
		}
		switch i.CSR {
		case riscv.CSRFflags:
			s.FCSR = s.FCSR&^0x1F | uint32(next&0x1F)
		case riscv.CSRFrm:
			s.FCSR = s.FCSR&^0xE0 | uint32(next&0x7)<<5
		case riscv.CSRFcsr:
			s.FCSR = uint32(next & 0xFF)
		}
	}
	s.SetReg(i.Rd, old)
	return cont(), nil
}

func (in *Interpreter) execFloatR(i isa.RType) (Outcome, error) {
	s := in.state
	switch i.Op {
	case isa.FSGNJ_S, isa.FSGNJN_S, isa.FSGNJX_S:
		const sign = uint32(1) << 31
		a, b := s.singleBits(i.Rs1), s.singleBits(i.Rs2)
		switch i.Op {
		case isa.FSGNJN_S:
			b = ^b
		case isa.FSGNJX_S:
			b ^= a
		}
		s.setSingleBits(i.Rd, a&^sign|b&sign)
	case isa.FSGNJ_D, isa.FSGNJN_D, isa.FSGNJX_D:
		const sign = uint64(1) << 63
		a, b := s.doubleBits(i.Rs1), s.doubleBits(i.Rs2)
		switch i.Op {
		case isa.FSGNJN_D:
			b = ^b
		case isa.FSGNJX_D:
			b ^= a
		}
		s.setDoubleBits(i.Rd, a&^sign|b&sign)
	default: // min/max and comparisons
		return Outcome{}, unimplemented(i)
	}
	return cont(), nil
}

// execR2 covers the raw moves between register files and fclass.
func (in *Interpreter) execR2(i isa.R2Type) (Outcome, error) {
	s := in.state
	switch i.Op {
	case isa.FMV_X_W:
		s.SetReg(i.Rd, mask32Signed64(uint64(s.singleBits(i.Rs1))))
	case isa.FMV_W_X:
		s.setSingleBits(i.Rd, uint32(s.Reg(i.Rs1)))
	case isa.FMV_X_D:
		s.SetReg(i.Rd, s.doubleBits(i.Rs1))
	case isa.FMV_D_X:
		s.setDoubleBits(i.Rd, s.Reg(i.Rs1))
	case isa.FCLASS_S:
		v := s.singleBits(i.Rs1)
		s.SetReg(i.Rd, fclass(v>>31 != 0, v>>23&0xFF, 0xFF, uint64(v)&(1<<23-1), 22))
	case isa.FCLASS_D:
		v := s.doubleBits(i.Rs1)
		s.SetReg(i.Rd, fclass(v>>63 != 0, uint32(v>>52&0x7FF), 0x7FF, v&(1<<52-1), 51))
	default:
		return Outcome{}, fmt.Errorf("unexpected move op %s", i.Op)
	}
	return cont(), nil
}

// fclass returns the one-hot classification mask of a float given its fields.
// quietBit is the index of the most significant mantissa bit.
func fclass(neg bool, exp, expMax uint32, mant uint64, quietBit uint) uint64 {
	var k uint
	switch {
	case exp == expMax && mant == 0:
		k = 7 // infinity
	case exp == expMax:
		if mant>>quietBit&1 != 0 {
			return 1 << 9 // quiet NaN
		}
		return 1 << 8 // signaling NaN
	case exp == 0 && mant == 0:
		k = 4 // zero
	case exp == 0:
		k = 5 // subnormal
	default:
		k = 6 // normal
	}
	if neg {
		k = 7 - k
	}
	return 1 << k
}

// execR2F handles the precision conversions; square root and integer
// conversions are not emulated.
func (in *Interpreter) execR2F(i isa.R2FType, raw uint32) (Outcome, error) {
	s := in.state
	switch i.Op {
	case isa.FCVT_S_D:
		rm, ok := s.roundingMode(i.Rm)
		if !ok {
			return halt(ReservedInstruction(raw)), nil
		}
		bits := s.doubleBits(i.Rs1)
		if d := math.Float64frombits(bits); math.IsNaN(d) {
			if bits&(1<<51) == 0 {
				s.FCSR |= fflagNV
			}
			s.setSingleBits(i.Rd, canonicalNaN)
		} else {
			f, flags := narrow(d, rm)
			s.FCSR |= flags
			s.setSingle(i.Rd, f)
		}
	case isa.FCVT_D_S:
		// every single is exactly representable as a double
		bits := s.singleBits(i.Rs1)
		f := float64(math.Float32frombits(bits))
		if math.IsNaN(f) {
			if bits&(1<<22) == 0 {
				s.FCSR |= fflagNV
			}
			s.setDoubleBits(i.Rd, 0x7FF8_0000_0000_0000)
		} else {
			s.setDoubleBits(i.Rd, math.Float64bits(f))
		}
	default:
		return Outcome{}, unimplemented(i)
	}
	return cont(), nil
}
