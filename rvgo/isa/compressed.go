package isa

// cRegisterOffset maps the 3-bit register fields of the compressed formats
// (x8 through x15) onto full register numbers.
const cRegisterOffset = 8

// creg unpacks a 3-bit compressed register field starting at bit lo.
func creg(h uint16, lo uint) uint8 {
	return uint8((h>>lo)&0b111) + cRegisterOffset
}

// bits returns h[hi:lo] shifted down to bit 0.
func bits(h uint16, hi, lo uint) uint32 {
	return uint32(h>>lo) & (1<<(hi-lo+1) - 1)
}

func cRd(h uint16) uint8  { return uint8(bits(h, 11, 7)) }
func cRs2(h uint16) uint8 { return uint8(bits(h, 6, 2)) }

// 6-bit signed immediate of the CI format: imm[5] = h[12], imm[4:0] = h[6:2]
func immCI(h uint16) int32 {
	return int32(SignExtend(uint64(bits(h, 12, 12)<<5|bits(h, 6, 2)), 6))
}

func shamtCI(h uint16) uint8 {
	return uint8(bits(h, 12, 12)<<5 | bits(h, 6, 2))
}

// uimm[5:3] = h[12:10], uimm[7:6] = h[6:5]; C.LD, C.SD, C.FLD, C.FSD
func uimmCLD(h uint16) int32 {
	return int32(bits(h, 12, 10)<<3 | bits(h, 6, 5)<<6)
}

// uimm[5:3] = h[12:10], uimm[2] = h[6], uimm[6] = h[5]; C.LW, C.SW
func uimmCLW(h uint16) int32 {
	return int32(bits(h, 12, 10)<<3 | bits(h, 6, 6)<<2 | bits(h, 5, 5)<<6)
}

// nzuimm[5:4|9:6|2|3] = h[12:5]; C.ADDI4SPN
func uimmCIW(h uint16) int32 {
	return int32(bits(h, 12, 11)<<4 | bits(h, 10, 7)<<6 | bits(h, 6, 6)<<2 | bits(h, 5, 5)<<3)
}

// nzimm[9|4|6|8:7|5] = h[12|6|5|4:3|2]; C.ADDI16SP
func immCADDI16SP(h uint16) int32 {
	imm := bits(h, 12, 12)<<9 | bits(h, 6, 6)<<4 | bits(h, 5, 5)<<6 | bits(h, 4, 3)<<7 | bits(h, 2, 2)<<5
	return int32(SignExtend(uint64(imm), 10))
}

// imm[11|4|9:8|10|6|7|3:1|5] = h[12:2]; C.J
func immCJ(h uint16) int32 {
	imm := bits(h, 12, 12)<<11 |
		bits(h, 11, 11)<<4 |
		bits(h, 10, 9)<<8 |
		bits(h, 8, 8)<<10 |
		bits(h, 7, 7)<<6 |
		bits(h, 6, 6)<<7 |
		bits(h, 5, 3)<<1 |
		bits(h, 2, 2)<<5
	return int32(SignExtend(uint64(imm), 12))
}

// imm[8|4:3] = h[12:10], imm[7:6|2:1|5] = h[6:2]; C.BEQZ, C.BNEZ
func immCB(h uint16) int32 {
	imm := bits(h, 12, 12)<<8 |
		bits(h, 11, 10)<<3 |
		bits(h, 6, 5)<<6 |
		bits(h, 4, 3)<<1 |
		bits(h, 2, 2)<<5
	return int32(SignExtend(uint64(imm), 9))
}

// uimm[5] = h[12], uimm[4:2|7:6] = h[6:2]; C.LWSP
func uimmCLWSP(h uint16) int32 {
	return int32(bits(h, 12, 12)<<5 | bits(h, 6, 4)<<2 | bits(h, 3, 2)<<6)
}

// uimm[5] = h[12], uimm[4:3|8:6] = h[6:2]; C.LDSP, C.FLDSP
func uimmCLDSP(h uint16) int32 {
	return int32(bits(h, 12, 12)<<5 | bits(h, 6, 5)<<3 | bits(h, 4, 2)<<6)
}

// uimm[5:2|7:6] = h[12:7]; C.SWSP
func uimmCSWSP(h uint16) int32 {
	return int32(bits(h, 12, 9)<<2 | bits(h, 8, 7)<<6)
}

// uimm[5:3|8:6] = h[12:7]; C.SDSP, C.FSDSP
func uimmCSDSP(h uint16) int32 {
	return int32(bits(h, 12, 10)<<3 | bits(h, 9, 7)<<6)
}

// Decode16 expands a compressed (RVC) instruction into the equivalent
// full-width instruction. Reserved and non-compressed encodings come back
// as Invalid holding the 16-bit parcel.
func Decode16(h uint16) Instruction {
	invalid := Invalid{Raw: uint32(h)}
	// all-zero parcel is defined illegal, and otherwise would decode as C.ADDI4SPN
	if h == 0 {
		return invalid
	}
	funct3 := bits(h, 15, 13)

	switch h & 0b11 {
	case 0b00:
		rdp := creg(h, 2) // rd' and rs2' share bits 4:2
		rs1p := creg(h, 7)
		switch funct3 {
		case 0b000: // C.ADDI4SPN
			imm := uimmCIW(h)
			if imm == 0 {
				return invalid
			}
			return IType{Op: ADDI, Rd: rdp, Rs1: 2, Imm: imm}
		case 0b001: // C.FLD
			return IType{Op: FLD, Rd: rdp, Rs1: rs1p, Imm: uimmCLD(h)}
		case 0b010: // C.LW
			return IType{Op: LW, Rd: rdp, Rs1: rs1p, Imm: uimmCLW(h)}
		case 0b011: // C.LD
			return IType{Op: LD, Rd: rdp, Rs1: rs1p, Imm: uimmCLD(h)}
		case 0b101: // C.FSD
			return SBType{Op: FSD, Rs1: rs1p, Rs2: rdp, Imm: uimmCLD(h)}
		case 0b110: // C.SW
			return SBType{Op: SW, Rs1: rs1p, Rs2: rdp, Imm: uimmCLW(h)}
		case 0b111: // C.SD
			return SBType{Op: SD, Rs1: rs1p, Rs2: rdp, Imm: uimmCLD(h)}
		}
		return invalid
	case 0b01:
		rd := cRd(h)
		switch funct3 {
		case 0b000: // C.ADDI, C.NOP
			return IType{Op: ADDI, Rd: rd, Rs1: rd, Imm: immCI(h)}
		case 0b001: // C.ADDIW
			if rd == 0 {
				return invalid
			}
			return IType{Op: ADDIW, Rd: rd, Rs1: rd, Imm: immCI(h)}
		case 0b010: // C.LI
			return IType{Op: ADDI, Rd: rd, Rs1: 0, Imm: immCI(h)}
		case 0b011:
			if rd == 2 { // C.ADDI16SP
				imm := immCADDI16SP(h)
				if imm == 0 {
					return invalid
				}
				return IType{Op: ADDI, Rd: 2, Rs1: 2, Imm: imm}
			}
			// C.LUI
			nzimm := bits(h, 12, 12)<<17 | bits(h, 6, 2)<<12
			if nzimm == 0 {
				return invalid
			}
			return UJType{Op: LUI, Rd: rd, Imm: int32(SignExtend(uint64(nzimm), 18))}
		case 0b100:
			rdp := creg(h, 7)
			switch bits(h, 11, 10) {
			case 0b00: // C.SRLI
				return ShiftType{Op: SRLI, Rd: rdp, Rs1: rdp, Shamt: shamtCI(h)}
			case 0b01: // C.SRAI
				return ShiftType{Op: SRAI, Rd: rdp, Rs1: rdp, Shamt: shamtCI(h)}
			case 0b10: // C.ANDI
				return IType{Op: ANDI, Rd: rdp, Rs1: rdp, Imm: immCI(h)}
			}
			rs2p := creg(h, 2)
			var op Op
			switch bits(h, 12, 12)<<2 | bits(h, 6, 5) {
			case 0b000:
				op = SUB
			case 0b001:
				op = XOR
			case 0b010:
				op = OR
			case 0b011:
				op = AND
			case 0b100:
				op = SUBW
			case 0b101:
				op = ADDW
			default:
				return invalid
			}
			return RType{Op: op, Rd: rdp, Rs1: rdp, Rs2: rs2p}
		case 0b101: // C.J
			return UJType{Op: JAL, Rd: 0, Imm: immCJ(h)}
		case 0b110: // C.BEQZ
			return SBType{Op: BEQ, Rs1: creg(h, 7), Rs2: 0, Imm: immCB(h)}
		default: // C.BNEZ
			return SBType{Op: BNE, Rs1: creg(h, 7), Rs2: 0, Imm: immCB(h)}
		}
	case 0b10:
		rd := cRd(h)
		rs2 := cRs2(h)
		switch funct3 {
		case 0b000: // C.SLLI
			return ShiftType{Op: SLLI, Rd: rd, Rs1: rd, Shamt: shamtCI(h)}
		case 0b001: // C.FLDSP
			return IType{Op: FLD, Rd: rd, Rs1: 2, Imm: uimmCLDSP(h)}
		case 0b010: // C.LWSP
			if rd == 0 {
				return invalid
			}
			return IType{Op: LW, Rd: rd, Rs1: 2, Imm: uimmCLWSP(h)}
		case 0b011: // C.LDSP
			if rd == 0 {
				return invalid
			}
			return IType{Op: LD, Rd: rd, Rs1: 2, Imm: uimmCLDSP(h)}
		case 0b100:
			if bits(h, 12, 12) == 0 {
				if rs2 == 0 { // C.JR
					if rd == 0 {
						return invalid
					}
					return IType{Op: JALR, Rd: 0, Rs1: rd, Imm: 0}
				}
				// C.MV
				return RType{Op: ADD, Rd: rd, Rs1: 0, Rs2: rs2}
			}
			if rs2 == 0 {
				if rd == 0 { // C.EBREAK
					return System{Op: EBREAK}
				}
				// C.JALR
				return IType{Op: JALR, Rd: 1, Rs1: rd, Imm: 0}
			}
			// C.ADD
			return RType{Op: ADD, Rd: rd, Rs1: rd, Rs2: rs2}
		case 0b101: // C.FSDSP
			return SBType{Op: FSD, Rs1: 2, Rs2: rs2, Imm: uimmCSDSP(h)}
		case 0b110: // C.SWSP
			return SBType{Op: SW, Rs1: 2, Rs2: rs2, Imm: uimmCSWSP(h)}
		default: // C.SDSP
			return SBType{Op: SD, Rs1: 2, Rs2: rs2, Imm: uimmCSDSP(h)}
		}
	}
	// low bits 11 are not a compressed parcel
	return invalid
}
