package isa

import "fmt"

type format uint8

const (
	fmtR     format = iota + 1 // funct7 rs2 rs1 funct3 rd opcode
	fmtRF                      // funct7 rs2 rs1 rm rd opcode
	fmtR2                      // funct7 fixed-rs2 rs1 funct3 rd opcode
	fmtR2F                     // funct7 fixed-rs2 rs1 rm rd opcode
	fmtR4                      // rs3 fmt rs2 rs1 rm rd opcode
	fmtI                       // imm[11:0] rs1 funct3 rd opcode
	fmtS                       // imm[11:5] rs2 rs1 funct3 imm[4:0] opcode
	fmtB                       // imm[12|10:5] rs2 rs1 funct3 imm[4:1|11] opcode
	fmtU                       // imm[31:12] rd opcode
	fmtJ                       // imm[20|10:1|11|19:12] rd opcode
	fmtShift                   // funct6 shamt[5:0] rs1 funct3 rd opcode
	fmtShiftW                  // funct7 shamt[4:0] rs1 funct3 rd opcode
	fmtAMO                     // funct5 aq rl rs2 rs1 funct3 rd opcode
	fmtFence                   // fm pred succ rs1 funct3 rd opcode
	fmtCSR                     // csr rs1/uimm funct3 rd opcode
	fmtSys                     // fixed word
)

// encoding is the fixed part of an instruction. funct7 holds funct6<<1 for
// 64-bit shifts, funct5<<2 for atomics, the fmt field for fused
// multiply-add, and the full word for fmtSys.
type encoding struct {
	format format
	opcode uint32
	funct3 uint32
	funct7 uint32
	rs2    uint32
}

var encodings = [opCount]encoding{
	LUI:     {format: fmtU, opcode: 0x37},
	AUIPC:   {format: fmtU, opcode: 0x17},
	JAL:     {format: fmtJ, opcode: 0x6F},
	JALR:    {format: fmtI, opcode: 0x67},
	BEQ:     {format: fmtB, opcode: 0x63, funct3: 0},
	BNE:     {format: fmtB, opcode: 0x63, funct3: 1},
	BLT:     {format: fmtB, opcode: 0x63, funct3: 4},
	BGE:     {format: fmtB, opcode: 0x63, funct3: 5},
	BLTU:    {format: fmtB, opcode: 0x63, funct3: 6},
	BGEU:    {format: fmtB, opcode: 0x63, funct3: 7},
	LB:      {format: fmtI, opcode: 0x03, funct3: 0},
	LH:      {format: fmtI, opcode: 0x03, funct3: 1},
	LW:      {format: fmtI, opcode: 0x03, funct3: 2},
	LD:      {format: fmtI, opcode: 0x03, funct3: 3},
	LBU:     {format: fmtI, opcode: 0x03, funct3: 4},
	LHU:     {format: fmtI, opcode: 0x03, funct3: 5},
	LWU:     {format: fmtI, opcode: 0x03, funct3: 6},
	SB:      {format: fmtS, opcode: 0x23, funct3: 0},
	SH:      {format: fmtS, opcode: 0x23, funct3: 1},
	SW:      {format: fmtS, opcode: 0x23, funct3: 2},
	SD:      {format: fmtS, opcode: 0x23, funct3: 3},
	ADDI:    {format: fmtI, opcode: 0x13, funct3: 0},
	SLTI:    {format: fmtI, opcode: 0x13, funct3: 2},
	SLTIU:   {format: fmtI, opcode: 0x13, funct3: 3},
	XORI:    {format: fmtI, opcode: 0x13, funct3: 4},
	ORI:     {format: fmtI, opcode: 0x13, funct3: 6},
	ANDI:    {format: fmtI, opcode: 0x13, funct3: 7},
	SLLI:    {format: fmtShift, opcode: 0x13, funct3: 1, funct7: 0x00},
	SRLI:    {format: fmtShift, opcode: 0x13, funct3: 5, funct7: 0x00},
	SRAI:    {format: fmtShift, opcode: 0x13, funct3: 5, funct7: 0x20},
	ADD:     {format: fmtR, opcode: 0x33, funct3: 0, funct7: 0x00},
	SUB:     {format: fmtR, opcode: 0x33, funct3: 0, funct7: 0x20},
	SLL:     {format: fmtR, opcode: 0x33, funct3: 1, funct7: 0x00},
	SLT:     {format: fmtR, opcode: 0x33, funct3: 2, funct7: 0x00},
	SLTU:    {format: fmtR, opcode: 0x33, funct3: 3, funct7: 0x00},
	XOR:     {format: fmtR, opcode: 0x33, funct3: 4, funct7: 0x00},
	SRL:     {format: fmtR, opcode: 0x33, funct3: 5, funct7: 0x00},
	SRA:     {format: fmtR, opcode: 0x33, funct3: 5, funct7: 0x20},
	OR:      {format: fmtR, opcode: 0x33, funct3: 6, funct7: 0x00},
	AND:     {format: fmtR, opcode: 0x33, funct3: 7, funct7: 0x00},
	FENCE:   {format: fmtFence, opcode: 0x0F, funct3: 0},
	FENCE_I: {format: fmtFence, opcode: 0x0F, funct3: 1},
	ECALL:   {format: fmtSys, funct7: 0x0000_0073},
	EBREAK:  {format: fmtSys, funct7: 0x0010_0073},
	ADDIW:   {format: fmtI, opcode: 0x1B, funct3: 0},
	SLLIW:   {format: fmtShiftW, opcode: 0x1B, funct3: 1, funct7: 0x00},
	SRLIW:   {format: fmtShiftW, opcode: 0x1B, funct3: 5, funct7: 0x00},
	SRAIW:   {format: fmtShiftW, opcode: 0x1B, funct3: 5, funct7: 0x20},
	ADDW:    {format: fmtR, opcode: 0x3B, funct3: 0, funct7: 0x00},
	SUBW:    {format: fmtR, opcode: 0x3B, funct3: 0, funct7: 0x20},
	SLLW:    {format: fmtR, opcode: 0x3B, funct3: 1, funct7: 0x00},
	SRLW:    {format: fmtR, opcode: 0x3B, funct3: 5, funct7: 0x00},
	SRAW:    {format: fmtR, opcode: 0x3B, funct3: 5, funct7: 0x20},

	CSRRW:  {format: fmtCSR, opcode: 0x73, funct3: 1},
	CSRRS:  {format: fmtCSR, opcode: 0x73, funct3: 2},
	CSRRC:  {format: fmtCSR, opcode: 0x73, funct3: 3},
	CSRRWI: {format: fmtCSR, opcode: 0x73, funct3: 5},
	CSRRSI: {format: fmtCSR, opcode: 0x73, funct3: 6},
	CSRRCI: {format: fmtCSR, opcode: 0x73, funct3: 7},

	MUL:    {format: fmtR, opcode: 0x33, funct3: 0, funct7: 0x01},
	MULH:   {format: fmtR, opcode: 0x33, funct3: 1, funct7: 0x01},
	MULHSU: {format: fmtR, opcode: 0x33, funct3: 2, funct7: 0x01},
	MULHU:  {format: fmtR, opcode: 0x33, funct3: 3, funct7: 0x01},
	DIV:    {format: fmtR, opcode: 0x33, funct3: 4, funct7: 0x01},
	DIVU:   {format: fmtR, opcode: 0x33, funct3: 5, funct7: 0x01},
	REM:    {format: fmtR, opcode: 0x33, funct3: 6, funct7: 0x01},
	REMU:   {format: fmtR, opcode: 0x33, funct3: 7, funct7: 0x01},
	MULW:   {format: fmtR, opcode: 0x3B, funct3: 0, funct7: 0x01},
	DIVW:   {format: fmtR, opcode: 0x3B, funct3: 4, funct7: 0x01},
	DIVUW:  {format: fmtR, opcode: 0x3B, funct3: 5, funct7: 0x01},
	REMW:   {format: fmtR, opcode: 0x3B, funct3: 6, funct7: 0x01},
	REMUW:  {format: fmtR, opcode: 0x3B, funct3: 7, funct7: 0x01},

	LR_W:      {format: fmtAMO, opcode: 0x2F, funct3: 2, funct7: 0b00010 << 2},
	SC_W:      {format: fmtAMO, opcode: 0x2F, funct3: 2, funct7: 0b00011 << 2},
	AMOSWAP_W: {format: fmtAMO, opcode: 0x2F, funct3: 2, funct7: 0b00001 << 2},
	AMOADD_W:  {format: fmtAMO, opcode: 0x2F, funct3: 2, funct7: 0b00000 << 2},
	AMOXOR_W:  {format: fmtAMO, opcode: 0x2F, funct3: 2, funct7: 0b00100 << 2},
	AMOAND_W:  {format: fmtAMO, opcode: 0x2F, funct3: 2, funct7: 0b01100 << 2},
	AMOOR_W:   {format: fmtAMO, opcode: 0x2F, funct3: 2, funct7: 0b01000 << 2},
	AMOMIN_W:  {format: fmtAMO, opcode: 0x2F, funct3: 2, funct7: 0b10000 << 2},
	AMOMAX_W:  {format: fmtAMO, opcode: 0x2F, funct3: 2, funct7: 0b10100 << 2},
	AMOMINU_W: {format: fmtAMO, opcode: 0x2F, funct3: 2, funct7: 0b11000 << 2},
	AMOMAXU_W: {format: fmtAMO, opcode: 0x2F, funct3: 2, funct7: 0b11100 << 2},
	LR_D:      {format: fmtAMO, opcode: 0x2F, funct3: 3, funct7: 0b00010 << 2},
	SC_D:      {format: fmtAMO, opcode: 0x2F, funct3: 3, funct7: 0b00011 << 2},
	AMOSWAP_D: {format: fmtAMO, opcode: 0x2F, funct3: 3, funct7: 0b00001 << 2},
	AMOADD_D:  {format: fmtAMO, opcode: 0x2F, funct3: 3, funct7: 0b00000 << 2},
	AMOXOR_D:  {format: fmtAMO, opcode: 0x2F, funct3: 3, funct7: 0b00100 << 2},
	AMOAND_D:  {format: fmtAMO, opcode: 0x2F, funct3: 3, funct7: 0b01100 << 2},
	AMOOR_D:   {format: fmtAMO, opcode: 0x2F, funct3: 3, funct7: 0b01000 << 2},
	AMOMIN_D:  {format: fmtAMO, opcode: 0x2F, funct3: 3, funct7: 0b10000 << 2},
	AMOMAX_D:  {format: fmtAMO, opcode: 0x2F, funct3: 3, funct7: 0b10100 << 2},
	AMOMINU_D: {format: fmtAMO, opcode: 0x2F, funct3: 3, funct7: 0b11000 << 2},
	AMOMAXU_D: {format: fmtAMO, opcode: 0x2F, funct3: 3, funct7: 0b11100 << 2},

	FLW:       {format: fmtI, opcode: 0x07, funct3: 2},
	FSW:       {format: fmtS, opcode: 0x27, funct3: 2},
	FMADD_S:   {format: fmtR4, opcode: 0x43, funct7: 0},
	FMSUB_S:   {format: fmtR4, opcode: 0x47, funct7: 0},
	FNMSUB_S:  {format: fmtR4, opcode: 0x4B, funct7: 0},
	FNMADD_S:  {format: fmtR4, opcode: 0x4F, funct7: 0},
	FADD_S:    {format: fmtRF, opcode: 0x53, funct7: 0x00},
	FSUB_S:    {format: fmtRF, opcode: 0x53, funct7: 0x04},
	FMUL_S:    {format: fmtRF, opcode: 0x53, funct7: 0x08},
	FDIV_S:    {format: fmtRF, opcode: 0x53, funct7: 0x0C},
	FSQRT_S:   {format: fmtR2F, opcode: 0x53, funct7: 0x2C, rs2: 0},
	FSGNJ_S:   {format: fmtR, opcode: 0x53, funct3: 0, funct7: 0x10},
	FSGNJN_S:  {format: fmtR, opcode: 0x53, funct3: 1, funct7: 0x10},
	FSGNJX_S:  {format: fmtR, opcode: 0x53, funct3: 2, funct7: 0x10},
	FMIN_S:    {format: fmtR, opcode: 0x53, funct3: 0, funct7: 0x14},
	FMAX_S:    {format: fmtR, opcode: 0x53, funct3: 1, funct7: 0x14},
	FCVT_W_S:  {format: fmtR2F, opcode: 0x53, funct7: 0x60, rs2: 0},
	FCVT_WU_S: {format: fmtR2F, opcode: 0x53, funct7: 0x60, rs2: 1},
	FMV_X_W:   {format: fmtR2, opcode: 0x53, funct3: 0, funct7: 0x70},
	FEQ_S:     {format: fmtR, opcode: 0x53, funct3: 2, funct7: 0x50},
	FLT_S:     {format: fmtR, opcode: 0x53, funct3: 1, funct7: 0x50},
	FLE_S:     {format: fmtR, opcode: 0x53, funct3: 0, funct7: 0x50},
	FCLASS_S:  {format: fmtR2, opcode: 0x53, funct3: 1, funct7: 0x70},
	FCVT_S_W:  {format: fmtR2F, opcode: 0x53, funct7: 0x68, rs2: 0},
	FCVT_S_WU: {format: fmtR2F, opcode: 0x53, funct7: 0x68, rs2: 1},
	FMV_W_X:   {format: fmtR2, opcode: 0x53, funct3: 0, funct7: 0x78},
	FCVT_L_S:  {format: fmtR2F, opcode: 0x53, funct7: 0x60, rs2: 2},
	FCVT_LU_S: {format: fmtR2F, opcode: 0x53, funct7: 0x60, rs2: 3},
	FCVT_S_L:  {format: fmtR2F, opcode: 0x53, funct7: 0x68, rs2: 2},
	FCVT_S_LU: {format: fmtR2F, opcode: 0x53, funct7: 0x68, rs2: 3},

	FLD:       {format: fmtI, opcode: 0x07, funct3: 3},
	FSD:       {format: fmtS, opcode: 0x27, funct3: 3},
	FMADD_D:   {format: fmtR4, opcode: 0x43, funct7: 1},
	FMSUB_D:   {format: fmtR4, opcode: 0x47, funct7: 1},
	FNMSUB_D:  {format: fmtR4, opcode: 0x4B, funct7: 1},
	FNMADD_D:  {format: fmtR4, opcode: 0x4F, funct7: 1},
	FADD_D:    {format: fmtRF, opcode: 0x53, funct7: 0x01},
	FSUB_D:    {format: fmtRF, opcode: 0x53, funct7: 0x05},
	FMUL_D:    {format: fmtRF, opcode: 0x53, funct7: 0x09},
	FDIV_D:    {format: fmtRF, opcode: 0x53, funct7: 0x0D},
	FSQRT_D:   {format: fmtR2F, opcode: 0x53, funct7: 0x2D, rs2: 0},
	FSGNJ_D:   {format: fmtR, opcode: 0x53, funct3: 0, funct7: 0x11},
	FSGNJN_D:  {format: fmtR, opcode: 0x53, funct3: 1, funct7: 0x11},
	FSGNJX_D:  {format: fmtR, opcode: 0x53, funct3: 2, funct7: 0x11},
	FMIN_D:    {format: fmtR, opcode: 0x53, funct3: 0, funct7: 0x15},
	FMAX_D:    {format: fmtR, opcode: 0x53, funct3: 1, funct7: 0x15},
	FCVT_S_D:  {format: fmtR2F, opcode: 0x53, funct7: 0x20, rs2: 1},
	FCVT_D_S:  {format: fmtR2F, opcode: 0x53, funct7: 0x21, rs2: 0},
	FEQ_D:     {format: fmtR, opcode: 0x53, funct3: 2, funct7: 0x51},
	FLT_D:     {format: fmtR, opcode: 0x53, funct3: 1, funct7: 0x51},
	FLE_D:     {format: fmtR, opcode: 0x53, funct3: 0, funct7: 0x51},
	FCLASS_D:  {format: fmtR2, opcode: 0x53, funct3: 1, funct7: 0x71},
	FCVT_W_D:  {format: fmtR2F, opcode: 0x53, funct7: 0x61, rs2: 0},
	FCVT_WU_D: {format: fmtR2F, opcode: 0x53, funct7: 0x61, rs2: 1},
	FCVT_D_W:  {format: fmtR2F, opcode: 0x53, funct7: 0x69, rs2: 0},
	FCVT_D_WU: {format: fmtR2F, opcode: 0x53, funct7: 0x69, rs2: 1},
	FCVT_L_D:  {format: fmtR2F, opcode: 0x53, funct7: 0x61, rs2: 2},
	FCVT_LU_D: {format: fmtR2F, opcode: 0x53, funct7: 0x61, rs2: 3},
	FMV_X_D:   {format: fmtR2, opcode: 0x53, funct3: 0, funct7: 0x71},
	FCVT_D_L:  {format: fmtR2F, opcode: 0x53, funct7: 0x69, rs2: 2},
	FCVT_D_LU: {format: fmtR2F, opcode: 0x53, funct7: 0x69, rs2: 3},
	FMV_D_X:   {format: fmtR2, opcode: 0x53, funct3: 0, funct7: 0x79},
}

func encR(e encoding, rd, rs1, rs2 uint8, funct3 uint32) uint32 {
	return e.funct7<<25 | uint32(rs2&31)<<20 | uint32(rs1&31)<<15 | funct3<<12 | uint32(rd&31)<<7 | e.opcode
}

func encI(e encoding, rd, rs1 uint8, imm int32) uint32 {
	return uint32(imm)&0xFFF<<20 | uint32(rs1&31)<<15 | e.funct3<<12 | uint32(rd&31)<<7 | e.opcode
}

func encS(e encoding, rs1, rs2 uint8, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5)&0x7F<<25 | uint32(rs2&31)<<20 | uint32(rs1&31)<<15 | e.funct3<<12 | u&0x1F<<7 | e.opcode
}

func encB(e encoding, rs1, rs2 uint8, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12)&1<<31 | (u>>5)&0x3F<<25 | uint32(rs2&31)<<20 | uint32(rs1&31)<<15 |
		e.funct3<<12 | (u>>1)&0xF<<8 | (u>>11)&1<<7 | e.opcode
}

func encJ(e encoding, rd uint8, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20)&1<<31 | (u>>1)&0x3FF<<21 | (u>>11)&1<<20 | (u>>12)&0xFF<<12 | uint32(rd&31)<<7 | e.opcode
}

// Encode returns the 32-bit encoding of a decoded instruction. It is the
// inverse of Decode32 for every non-compressed instruction.
func Encode(inst Instruction) (uint32, error) {
	op := inst.Opcode()
	if op == OpInvalid || op >= opCount {
		if inv, ok := inst.(Invalid); ok {
			return inv.Raw, fmt.Errorf("cannot encode invalid instruction 0x%x", inv.Raw)
		}
		return 0, fmt.Errorf("unknown op %d", op)
	}
	e := encodings[op]
	mismatch := func() (uint32, error) {
		return 0, fmt.Errorf("op %s cannot be encoded from %T", op, inst)
	}
	switch i := inst.(type) {
	case RType:
		if e.format != fmtR {
			return mismatch()
		}
		return encR(e, i.Rd, i.Rs1, i.Rs2, e.funct3), nil
	case RFType:
		if e.format != fmtRF {
			return mismatch()
		}
		return encR(e, i.Rd, i.Rs1, i.Rs2, uint32(i.Rm&7)), nil
	case R2Type:
		if e.format != fmtR2 {
			return mismatch()
		}
		return encR(e, i.Rd, i.Rs1, uint8(e.rs2), e.funct3), nil
	case R2FType:
		if e.format != fmtR2F {
			return mismatch()
		}
		return encR(e, i.Rd, i.Rs1, uint8(e.rs2), uint32(i.Rm&7)), nil
	case R4Type:
		if e.format != fmtR4 {
			return mismatch()
		}
		return uint32(i.Rs3&31)<<27 | encR(e, i.Rd, i.Rs1, i.Rs2, uint32(i.Rm&7)), nil
	case IType:
		if e.format != fmtI {
			return mismatch()
		}
		return encI(e, i.Rd, i.Rs1, i.Imm), nil
	case SBType:
		switch e.format {
		case fmtS:
			return encS(e, i.Rs1, i.Rs2, i.Imm), nil
		case fmtB:
			return encB(e, i.Rs1, i.Rs2, i.Imm), nil
		}
		return mismatch()
	case UJType:
		switch e.format {
		case fmtU:
			return uint32(i.Imm)&0xFFFF_F000 | uint32(i.Rd&31)<<7 | e.opcode, nil
		case fmtJ:
			return encJ(e, i.Rd, i.Imm), nil
		}
		return mismatch()
	case ShiftType:
		switch e.format {
		case fmtShift:
			return e.funct7<<25 | uint32(i.Shamt&0x3F)<<20 | uint32(i.Rs1&31)<<15 | e.funct3<<12 | uint32(i.Rd&31)<<7 | e.opcode, nil
		case fmtShiftW:
			return e.funct7<<25 | uint32(i.Shamt&0x1F)<<20 | uint32(i.Rs1&31)<<15 | e.funct3<<12 | uint32(i.Rd&31)<<7 | e.opcode, nil
		}
		return mismatch()
	case AmoType:
		if e.format != fmtAMO {
			return mismatch()
		}
		w := encR(e, i.Rd, i.Rs1, i.Rs2, e.funct3)
		if i.Aq {
			w |= 1 << 26
		}
		if i.Rl {
			w |= 1 << 25
		}
		return w, nil
	case FenceType:
		if e.format != fmtFence {
			return mismatch()
		}
		w := uint32(i.Rs1&31)<<15 | e.funct3<<12 | uint32(i.Rd&31)<<7 | e.opcode
		if op == FENCE {
			w |= uint32(i.Fm&0xF)<<28 | uint32(i.Pred&0xF)<<24 | uint32(i.Succ&0xF)<<20
		}
		return w, nil
	case CSRType:
		if e.format != fmtCSR {
			return mismatch()
		}
		return uint32(i.CSR&0xFFF)<<20 | uint32(i.Rs1&31)<<15 | e.funct3<<12 | uint32(i.Rd&31)<<7 | e.opcode, nil
	case System:
		if e.format != fmtSys {
			return mismatch()
		}
		return e.funct7, nil
	}
	return mismatch()
}
