package isa

import "encoding/binary"

// Length returns the byte length of the instruction whose first byte is b0:
// 4 when the low two bits are both set, 2 otherwise.
func Length(b0 byte) int {
	if b0&0b11 == 0b11 {
		return 4
	}
	return 2
}

// Decode decodes the instruction at the start of buf. It returns the decoded
// instruction and its length in bytes, or ok=false when buf is shorter than
// the length indicated by its first byte. Undecodable bits come back as Invalid.
func Decode(buf []byte) (inst Instruction, length int, ok bool) {
	if len(buf) == 0 {
		return nil, 0, false
	}
	length = Length(buf[0])
	if len(buf) < length {
		return nil, 0, false
	}
	if length == 2 {
		return Decode16(binary.LittleEndian.Uint16(buf)), 2, true
	}
	return Decode32(binary.LittleEndian.Uint32(buf)), 4, true
}

// Decode32 decodes a full-width instruction word.
func Decode32(w uint32) Instruction {
	if w&0b11 != 0b11 {
		return Invalid{Raw: w}
	}
	rd := parseRd(w)
	rs1 := parseRs1(w)
	rs2 := parseRs2(w)
	funct3 := parseFunct3(w)
	funct7 := parseFunct7(w)

	invalid := Invalid{Raw: w}

	switch parseOpcode(w) {
	case 0x03: // 000_0011: loads
		var op Op
		switch funct3 {
		case 0:
			op = LB
		case 1:
			op = LH
		case 2:
			op = LW
		case 3:
			op = LD
		case 4:
			op = LBU
		case 5:
			op = LHU
		case 6:
			op = LWU
		default:
			return invalid
		}
		return IType{Op: op, Rd: rd, Rs1: rs1, Imm: parseImmTypeI(w)}
	case 0x07: // 000_0111: floating point loads
		switch funct3 {
		case 2:
			return IType{Op: FLW, Rd: rd, Rs1: rs1, Imm: parseImmTypeI(w)}
		case 3:
			return IType{Op: FLD, Rd: rd, Rs1: rs1, Imm: parseImmTypeI(w)}
		}
		return invalid
	case 0x0F: // 000_1111: fence
		switch funct3 {
		case 0:
			return FenceType{Op: FENCE, Fm: uint8(w >> 28), Pred: uint8(w>>24) & 0xF, Succ: uint8(w>>20) & 0xF, Rd: rd, Rs1: rs1}
		case 1:
			return FenceType{Op: FENCE_I, Rd: rd, Rs1: rs1}
		}
		return invalid
	case 0x13: // 001_0011: immediate arithmetic and logic
		imm := parseImmTypeI(w)
		funct6 := w >> 26
		shamt := uint8((w >> 20) & 0x3F)
		switch funct3 {
		case 0:
			return IType{Op: ADDI, Rd: rd, Rs1: rs1, Imm: imm}
		case 1:
			if funct6 != 0 {
				return invalid
			}
			return ShiftType{Op: SLLI, Rd: rd, Rs1: rs1, Shamt: shamt}
		case 2:
			return IType{Op: SLTI, Rd: rd, Rs1: rs1, Imm: imm}
		case 3:
			return IType{Op: SLTIU, Rd: rd, Rs1: rs1, Imm: imm}
		case 4:
			return IType{Op: XORI, Rd: rd, Rs1: rs1, Imm: imm}
		case 5:
			switch funct6 {
			case 0x00: // 000000 = SRLI
				return ShiftType{Op: SRLI, Rd: rd, Rs1: rs1, Shamt: shamt}
			case 0x10: // 010000 = SRAI
				return ShiftType{Op: SRAI, Rd: rd, Rs1: rs1, Shamt: shamt}
			}
			return invalid
		case 6:
			return IType{Op: ORI, Rd: rd, Rs1: rs1, Imm: imm}
		default:
			return IType{Op: ANDI, Rd: rd, Rs1: rs1, Imm: imm}
		}
	case 0x17: // 001_0111: AUIPC
		return UJType{Op: AUIPC, Rd: rd, Imm: parseImmTypeU(w)}
	case 0x1B: // 001_1011: immediate arithmetic and logic in 32 bits
		shamt := rs2 // 5 bits
		switch funct3 {
		case 0:
			return IType{Op: ADDIW, Rd: rd, Rs1: rs1, Imm: parseImmTypeI(w)}
		case 1:
			if funct7 != 0 {
				return invalid
			}
			return ShiftType{Op: SLLIW, Rd: rd, Rs1: rs1, Shamt: shamt}
		case 5:
			switch funct7 {
			case 0x00:
				return ShiftType{Op: SRLIW, Rd: rd, Rs1: rs1, Shamt: shamt}
			case 0x20:
				return ShiftType{Op: SRAIW, Rd: rd, Rs1: rs1, Shamt: shamt}
			}
		}
		return invalid
	case 0x23: // 010_0011: stores
		var op Op
		switch funct3 {
		case 0:
			op = SB
		case 1:
			op = SH
		case 2:
			op = SW
		case 3:
			op = SD
		default:
			return invalid
		}
		return SBType{Op: op, Rs1: rs1, Rs2: rs2, Imm: parseImmTypeS(w)}
	case 0x27: // 010_0111: floating point stores
		switch funct3 {
		case 2:
			return SBType{Op: FSW, Rs1: rs1, Rs2: rs2, Imm: parseImmTypeS(w)}
		case 3:
			return SBType{Op: FSD, Rs1: rs1, Rs2: rs2, Imm: parseImmTypeS(w)}
		}
		return invalid
	case 0x2F: // 010_1111: atomics
		return decodeAMO(w, rd, rs1, rs2, funct3, funct7)
	case 0x33: // 011_0011: register arithmetic and logic
		if op, ok := opTable[funct7<<3|funct3]; ok {
			return RType{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2}
		}
		return invalid
	case 0x37: // 011_0111: LUI
		return UJType{Op: LUI, Rd: rd, Imm: parseImmTypeU(w)}
	case 0x3B: // 011_1011: register arithmetic and logic in 32 bits
		if op, ok := op32Table[funct7<<3|funct3]; ok {
			return RType{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2}
		}
		return invalid
	case 0x43, 0x47, 0x4B, 0x4F: // fused multiply-add
		return decodeFMA(w, rd, rs1, rs2)
	case 0x53: // 101_0011: floating point
		return decodeOpFP(w, rd, rs1, rs2, funct7)
	case 0x63: // 110_0011: branching
		var op Op
		switch funct3 {
		case 0:
			op = BEQ
		case 1:
			op = BNE
		case 4:
			op = BLT
		case 5:
			op = BGE
		case 6:
			op = BLTU
		case 7:
			op = BGEU
		default:
			return invalid
		}
		return SBType{Op: op, Rs1: rs1, Rs2: rs2, Imm: parseImmTypeB(w)}
	case 0x67: // 110_0111: JALR
		if funct3 != 0 {
			return invalid
		}
		return IType{Op: JALR, Rd: rd, Rs1: rs1, Imm: parseImmTypeI(w)}
	case 0x6F: // 110_1111: JAL
		return UJType{Op: JAL, Rd: rd, Imm: parseImmTypeJ(w)}
	case 0x73: // 111_0011: environment and CSRs
		csr := parseCSR(w)
		switch funct3 {
		case 0:
			switch w {
			case 0x0000_0073:
				return System{Op: ECALL}
			case 0x0010_0073:
				return System{Op: EBREAK}
			}
			return invalid
		case 1:
			return CSRType{Op: CSRRW, Rd: rd, Rs1: rs1, CSR: csr}
		case 2:
			return CSRType{Op: CSRRS, Rd: rd, Rs1: rs1, CSR: csr}
		case 3:
			return CSRType{Op: CSRRC, Rd: rd, Rs1: rs1, CSR: csr}
		case 5:
			return CSRType{Op: CSRRWI, Rd: rd, Rs1: rs1, CSR: csr}
		case 6:
			return CSRType{Op: CSRRSI, Rd: rd, Rs1: rs1, CSR: csr}
		case 7:
			return CSRType{Op: CSRRCI, Rd: rd, Rs1: rs1, CSR: csr}
		}
		return invalid
	}
	return invalid
}

// OP and OP-32, keyed by funct7<<3 | funct3
var opTable = map[uint32]Op{
	0x00<<3 | 0: ADD,
	0x20<<3 | 0: SUB,
	0x00<<3 | 1: SLL,
	0x00<<3 | 2: SLT,
	0x00<<3 | 3: SLTU,
	0x00<<3 | 4: XOR,
	0x00<<3 | 5: SRL,
	0x20<<3 | 5: SRA,
	0x00<<3 | 6: OR,
	0x00<<3 | 7: AND,
	0x01<<3 | 0: MUL,
	0x01<<3 | 1: MULH,
	0x01<<3 | 2: MULHSU,
	0x01<<3 | 3: MULHU,
	0x01<<3 | 4: DIV,
	0x01<<3 | 5: DIVU,
	0x01<<3 | 6: REM,
	0x01<<3 | 7: REMU,
}

var op32Table = map[uint32]Op{
	0x00<<3 | 0: ADDW,
	0x20<<3 | 0: SUBW,
	0x00<<3 | 1: SLLW,
	0x00<<3 | 5: SRLW,
	0x20<<3 | 5: SRAW,
	0x01<<3 | 0: MULW,
	0x01<<3 | 4: DIVW,
	0x01<<3 | 5: DIVUW,
	0x01<<3 | 6: REMW,
	0x01<<3 | 7: REMUW,
}

// AMO funct5 -> word op; the doubleword op is a fixed distance away
var amoTable = map[uint32]Op{
	0b00010: LR_W,
	0b00011: SC_W,
	0b00001: AMOSWAP_W,
	0b00000: AMOADD_W,
	0b00100: AMOXOR_W,
	0b01100: AMOAND_W,
	0b01000: AMOOR_W,
	0b10000: AMOMIN_W,
	0b10100: AMOMAX_W,
	0b11000: AMOMINU_W,
	0b11100: AMOMAXU_W,
}

const amoDoubleOffset = LR_D - LR_W

func decodeAMO(w uint32, rd, rs1, rs2 uint8, funct3, funct7 uint32) Instruction {
	op, ok := amoTable[funct7>>2]
	if !ok {
		return Invalid{Raw: w}
	}
	switch funct3 {
	case 2: // 010 = W
	case 3: // 011 = D
		op += amoDoubleOffset
	default:
		return Invalid{Raw: w}
	}
	if (op == LR_W || op == LR_D) && rs2 != 0 {
		return Invalid{Raw: w}
	}
	return AmoType{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2, Aq: funct7&0b10 != 0, Rl: funct7&0b01 != 0}
}

func decodeFMA(w uint32, rd, rs1, rs2 uint8) Instruction {
	rm := parseRm(w)
	if !rm.Valid() {
		return Invalid{Raw: w}
	}
	var single, double Op
	switch parseOpcode(w) {
	case 0x43:
		single, double = FMADD_S, FMADD_D
	case 0x47:
		single, double = FMSUB_S, FMSUB_D
	case 0x4B:
		single, double = FNMSUB_S, FNMSUB_D
	default:
		single, double = FNMADD_S, FNMADD_D
	}
	var op Op
	switch (w >> 25) & 0b11 {
	case 0b00:
		op = single
	case 0b01:
		op = double
	default: // half and quad precision are not supported
		return Invalid{Raw: w}
	}
	return R4Type{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2, Rs3: parseRs3(w), Rm: rm}
}

// pick returns the single or double precision variant by fmt.
func pick(double bool, s, d Op) Op {
	if double {
		return d
	}
	return s
}

func decodeOpFP(w uint32, rd, rs1, rs2 uint8, funct7 uint32) Instruction {
	invalid := Invalid{Raw: w}
	fmtBits := funct7 & 0b11
	if fmtBits > 1 {
		return invalid
	}
	double := fmtBits == 1
	funct3 := parseFunct3(w)
	rm := RoundingMode(funct3)

	switch funct7 >> 2 {
	case 0x00, 0x01, 0x02, 0x03: // FADD, FSUB, FMUL, FDIV
		if !rm.Valid() {
			return invalid
		}
		var op Op
		switch funct7 >> 2 {
		case 0x00:
			op = pick(double, FADD_S, FADD_D)
		case 0x01:
			op = pick(double, FSUB_S, FSUB_D)
		case 0x02:
			op = pick(double, FMUL_S, FMUL_D)
		default:
			op = pick(double, FDIV_S, FDIV_D)
		}
		return RFType{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2, Rm: rm}
	case 0x0B: // FSQRT
		if rs2 != 0 || !rm.Valid() {
			return invalid
		}
		return R2FType{Op: pick(double, FSQRT_S, FSQRT_D), Rd: rd, Rs1: rs1, Rm: rm}
	case 0x04: // FSGNJ
		var op Op
		switch funct3 {
		case 0:
			op = pick(double, FSGNJ_S, FSGNJ_D)
		case 1:
			op = pick(double, FSGNJN_S, FSGNJN_D)
		case 2:
			op = pick(double, FSGNJX_S, FSGNJX_D)
		default:
			return invalid
		}
		return RType{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2}
	case 0x05: // FMIN/FMAX
		var op Op
		switch funct3 {
		case 0:
			op = pick(double, FMIN_S, FMIN_D)
		case 1:
			op = pick(double, FMAX_S, FMAX_D)
		default:
			return invalid
		}
		return RType{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2}
	case 0x08: // FCVT between precisions; rs2 holds the source format
		if !rm.Valid() {
			return invalid
		}
		switch {
		case !double && rs2 == 1:
			return R2FType{Op: FCVT_S_D, Rd: rd, Rs1: rs1, Rm: rm}
		case double && rs2 == 0:
			return R2FType{Op: FCVT_D_S, Rd: rd, Rs1: rs1, Rm: rm}
		}
		return invalid
	case 0x14: // compare into integer register
		var op Op
		switch funct3 {
		case 0:
			op = pick(double, FLE_S, FLE_D)
		case 1:
			op = pick(double, FLT_S, FLT_D)
		case 2:
			op = pick(double, FEQ_S, FEQ_D)
		default:
			return invalid
		}
		return RType{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2}
	case 0x18: // FCVT float to integer
		if !rm.Valid() {
			return invalid
		}
		var op Op
		switch rs2 {
		case 0:
			op = pick(double, FCVT_W_S, FCVT_W_D)
		case 1:
			op = pick(double, FCVT_WU_S, FCVT_WU_D)
		case 2:
			op = pick(double, FCVT_L_S, FCVT_L_D)
		case 3:
			op = pick(double, FCVT_LU_S, FCVT_LU_D)
		default:
			return invalid
		}
		return R2FType{Op: op, Rd: rd, Rs1: rs1, Rm: rm}
	case 0x1A: // FCVT integer to float
		if !rm.Valid() {
			return invalid
		}
		var op Op
		switch rs2 {
		case 0:
			op = pick(double, FCVT_S_W, FCVT_D_W)
		case 1:
			op = pick(double, FCVT_S_WU, FCVT_D_WU)
		case 2:
			op = pick(double, FCVT_S_L, FCVT_D_L)
		case 3:
			op = pick(double, FCVT_S_LU, FCVT_D_LU)
		default:
			return invalid
		}
		return R2FType{Op: op, Rd: rd, Rs1: rs1, Rm: rm}
	case 0x1C: // FMV.X.* and FCLASS
		if rs2 != 0 {
			return invalid
		}
		switch funct3 {
		case 0:
			return R2Type{Op: pick(double, FMV_X_W, FMV_X_D), Rd: rd, Rs1: rs1}
		case 1:
			return R2Type{Op: pick(double, FCLASS_S, FCLASS_D), Rd: rd, Rs1: rs1}
		}
		return invalid
	case 0x1E: // FMV.*.X
		if rs2 != 0 || funct3 != 0 {
			return invalid
		}
		return R2Type{Op: pick(double, FMV_W_X, FMV_D_X), Rd: rd, Rs1: rs1}
	}
	return invalid
}
