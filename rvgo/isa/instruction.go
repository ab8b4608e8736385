package isa

import (
	"fmt"
	"strings"
)

// Instruction is a decoded RV64 instruction. The set of implementations is
// closed: one struct per operand shape, plus Invalid.
type Instruction interface {
	Opcode() Op
	String() string
	isInstruction()
}

// RoundingMode is the 3-bit floating-point rm field.
type RoundingMode uint8

const (
	RNE RoundingMode = 0
	RTZ RoundingMode = 1
	RDN RoundingMode = 2
	RUP RoundingMode = 3
	RMM RoundingMode = 4
	DYN RoundingMode = 7
)

// Valid reports whether rm is an assigned rounding mode; 0b101 and 0b110 are reserved.
func (rm RoundingMode) Valid() bool {
	return rm <= RMM || rm == DYN
}

func (rm RoundingMode) String() string {
	switch rm {
	case RNE:
		return "rne"
	case RTZ:
		return "rtz"
	case RDN:
		return "rdn"
	case RUP:
		return "rup"
	case RMM:
		return "rmm"
	case DYN:
		return "dyn"
	}
	return fmt.Sprintf("rm%d", uint8(rm))
}

// RType is a register-register operation.
type RType struct {
	Op       Op
	Rd       uint8
	Rs1, Rs2 uint8
}

// IType is a register-immediate operation, a load or jalr.
type IType struct {
	Op  Op
	Rd  uint8
	Rs1 uint8
	Imm int32
}

// SBType is a store (Rs1 base, Rs2 value) or a conditional branch (Rs1 and Rs2 compared).
type SBType struct {
	Op       Op
	Rs1, Rs2 uint8
	Imm      int32
}

// UJType is lui, auipc or jal. For lui and auipc Imm holds the shifted
// 32-bit value, for jal the byte offset.
type UJType struct {
	Op  Op
	Rd  uint8
	Imm int32
}

// ShiftType is a shift by an immediate amount.
type ShiftType struct {
	Op    Op
	Rd    uint8
	Rs1   uint8
	Shamt uint8
}

// AmoType is an atomic memory operation.
type AmoType struct {
	Op       Op
	Rd       uint8
	Rs1, Rs2 uint8
	Aq, Rl   bool
}

// R4Type is a fused multiply-add.
type R4Type struct {
	Op            Op
	Rd            uint8
	Rs1, Rs2, Rs3 uint8
	Rm            RoundingMode
}

// RFType is a floating-point register-register operation with a rounding mode.
type RFType struct {
	Op       Op
	Rd       uint8
	Rs1, Rs2 uint8
	Rm       RoundingMode
}

// R2Type is a register move or classification without a rounding mode.
type R2Type struct {
	Op  Op
	Rd  uint8
	Rs1 uint8
}

// R2FType is a single-source floating-point op with a rounding mode: square root or conversion.
type R2FType struct {
	Op  Op
	Rd  uint8
	Rs1 uint8
	Rm  RoundingMode
}

// FenceType is fence or fence.i. Rd and Rs1 are reserved fields kept for
// re-encoding.
type FenceType struct {
	Op         Op
	Fm         uint8
	Pred, Succ uint8
	Rd, Rs1    uint8
}

// CSRType is a Zicsr access. For the immediate forms Rs1 holds the 5-bit uimm.
type CSRType struct {
	Op  Op
	Rd  uint8
	Rs1 uint8
	CSR uint16
}

type System struct {
	Op Op
}

// Invalid holds the raw bits of an encoding that does not decode. Raw is the
// 16-bit parcel for compressed encodings.
type Invalid struct {
	Raw uint32
}

func (i RType) Opcode() Op     { return i.Op }
func (i IType) Opcode() Op     { return i.Op }
func (i SBType) Opcode() Op    { return i.Op }
func (i UJType) Opcode() Op    { return i.Op }
func (i ShiftType) Opcode() Op { return i.Op }
func (i AmoType) Opcode() Op   { return i.Op }
func (i R4Type) Opcode() Op    { return i.Op }
func (i RFType) Opcode() Op    { return i.Op }
func (i R2Type) Opcode() Op    { return i.Op }
func (i R2FType) Opcode() Op   { return i.Op }
func (i FenceType) Opcode() Op { return i.Op }
func (i CSRType) Opcode() Op   { return i.Op }
func (i System) Opcode() Op    { return i.Op }
func (i Invalid) Opcode() Op   { return OpInvalid }

func (RType) isInstruction()     {}
func (IType) isInstruction()     {}
func (SBType) isInstruction()    {}
func (UJType) isInstruction()    {}
func (ShiftType) isInstruction() {}
func (AmoType) isInstruction()   {}
func (R4Type) isInstruction()    {}
func (RFType) isInstruction()    {}
func (R2Type) isInstruction()    {}
func (R2FType) isInstruction()   {}
func (FenceType) isInstruction() {}
func (CSRType) isInstruction()   {}
func (System) isInstruction()    {}
func (Invalid) isInstruction()   {}

var xNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

var fNames = [32]string{
	"ft0", "ft1", "ft2", "ft3", "ft4", "ft5", "ft6", "ft7",
	"fs0", "fs1", "fa0", "fa1", "fa2", "fa3", "fa4", "fa5",
	"fa6", "fa7", "fs2", "fs3", "fs4", "fs5", "fs6", "fs7",
	"fs8", "fs9", "fs10", "fs11", "ft8", "ft9", "ft10", "ft11",
}

// RegName returns the ABI name of general register r.
func RegName(r uint8) string { return xNames[r&31] }

// FRegName returns the ABI name of floating register r.
func FRegName(r uint8) string { return fNames[r&31] }

func reg(r uint8, float bool) string {
	if float {
		return fNames[r&31]
	}
	return xNames[r&31]
}

func info(op Op) opInfo {
	if op < opCount {
		return ops[op]
	}
	return opInfo{name: op.String()}
}

func rmSuffix(rm RoundingMode) string {
	if rm == DYN {
		return ""
	}
	return "," + rm.String()
}

func (i RType) String() string {
	in := info(i.Op)
	return fmt.Sprintf("%s %s,%s,%s", in.name, reg(i.Rd, in.fd), reg(i.Rs1, in.fs1), reg(i.Rs2, in.fs2))
}

func (i IType) String() string {
	in := info(i.Op)
	if in.width != 0 || i.Op == JALR {
		return fmt.Sprintf("%s %s,%d(%s)", in.name, reg(i.Rd, in.fd), i.Imm, xNames[i.Rs1&31])
	}
	return fmt.Sprintf("%s %s,%s,%d", in.name, xNames[i.Rd&31], xNames[i.Rs1&31], i.Imm)
}

func (i SBType) String() string {
	in := info(i.Op)
	if in.width != 0 {
		return fmt.Sprintf("%s %s,%d(%s)", in.name, reg(i.Rs2, in.fs2), i.Imm, xNames[i.Rs1&31])
	}
	return fmt.Sprintf("%s %s,%s,%d", in.name, xNames[i.Rs1&31], xNames[i.Rs2&31], i.Imm)
}

func (i UJType) String() string {
	if i.Op == JAL {
		return fmt.Sprintf("jal %s,%d", xNames[i.Rd&31], i.Imm)
	}
	return fmt.Sprintf("%s %s,0x%x", info(i.Op).name, xNames[i.Rd&31], uint32(i.Imm)>>12)
}

func (i ShiftType) String() string {
	return fmt.Sprintf("%s %s,%s,%d", info(i.Op).name, xNames[i.Rd&31], xNames[i.Rs1&31], i.Shamt)
}

func (i AmoType) String() string {
	name := info(i.Op).name
	switch {
	case i.Aq && i.Rl:
		name += ".aqrl"
	case i.Aq:
		name += ".aq"
	case i.Rl:
		name += ".rl"
	}
	if i.Op == LR_W || i.Op == LR_D {
		return fmt.Sprintf("%s %s,(%s)", name, xNames[i.Rd&31], xNames[i.Rs1&31])
	}
	return fmt.Sprintf("%s %s,%s,(%s)", name, xNames[i.Rd&31], xNames[i.Rs2&31], xNames[i.Rs1&31])
}

func (i R4Type) String() string {
	return fmt.Sprintf("%s %s,%s,%s,%s%s", info(i.Op).name,
		fNames[i.Rd&31], fNames[i.Rs1&31], fNames[i.Rs2&31], fNames[i.Rs3&31], rmSuffix(i.Rm))
}

func (i RFType) String() string {
	return fmt.Sprintf("%s %s,%s,%s%s", info(i.Op).name,
		fNames[i.Rd&31], fNames[i.Rs1&31], fNames[i.Rs2&31], rmSuffix(i.Rm))
}

func (i R2Type) String() string {
	in := info(i.Op)
	return fmt.Sprintf("%s %s,%s", in.name, reg(i.Rd, in.fd), reg(i.Rs1, in.fs1))
}

func (i R2FType) String() string {
	in := info(i.Op)
	return fmt.Sprintf("%s %s,%s%s", in.name, reg(i.Rd, in.fd), reg(i.Rs1, in.fs1), rmSuffix(i.Rm))
}

func fenceSet(bits uint8) string {
	var sb strings.Builder
	for i, c := range "iorw" {
		if bits&(8>>i) != 0 {
			sb.WriteRune(c)
		}
	}
	if sb.Len() == 0 {
		return "0"
	}
	return sb.String()
}

func (i FenceType) String() string {
	if i.Op == FENCE_I {
		return "fence.i"
	}
	if i.Fm == 0b1000 && i.Pred == 0b0011 && i.Succ == 0b0011 {
		return "fence.tso"
	}
	return fmt.Sprintf("fence %s,%s", fenceSet(i.Pred), fenceSet(i.Succ))
}

var csrNames = map[uint16]string{
	0x001: "fflags",
	0x002: "frm",
	0x003: "fcsr",
	0xC00: "cycle",
	0xC01: "time",
	0xC02: "instret",
}

// CSRName returns the name of a user-level CSR, or its number in hex.
func CSRName(csr uint16) string {
	if n, ok := csrNames[csr]; ok {
		return n
	}
	return fmt.Sprintf("0x%03x", csr)
}

func (i CSRType) String() string {
	switch i.Op {
	case CSRRWI, CSRRSI, CSRRCI:
		return fmt.Sprintf("%s %s,%s,%d", info(i.Op).name, xNames[i.Rd&31], CSRName(i.CSR), i.Rs1)
	}
	return fmt.Sprintf("%s %s,%s,%s", info(i.Op).name, xNames[i.Rd&31], CSRName(i.CSR), xNames[i.Rs1&31])
}

func (i System) String() string {
	return info(i.Op).name
}

func (i Invalid) String() string {
	if i.Raw&0b11 != 0b11 {
		return fmt.Sprintf("invalid 0x%04x", i.Raw)
	}
	return fmt.Sprintf("invalid 0x%08x", i.Raw)
}
