package isa

import "fmt"

// Op is a single RV64 operation, after compressed forms have been expanded.
type Op uint16

const (
	OpInvalid Op = iota

	// RV64I
	LUI
	AUIPC
	JAL
	JALR
	BEQ
	BNE
	BLT
	BGE
	BLTU
	BGEU
	LB
	LH
	LW
	LD
	LBU
	LHU
	LWU
	SB
	SH
	SW
	SD
	ADDI
	SLTI
	SLTIU
	XORI
	ORI
	ANDI
	SLLI
	SRLI
	SRAI
	ADD
	SUB
	SLL
	SLT
	SLTU
	XOR
	SRL
	SRA
	OR
	AND
	FENCE
	FENCE_I
	ECALL
	EBREAK
	ADDIW
	SLLIW
	SRLIW
	SRAIW
	ADDW
	SUBW
	SLLW
	SRLW
	SRAW

	// Zicsr
	CSRRW
	CSRRS
	CSRRC
	CSRRWI
	CSRRSI
	CSRRCI

	// M
	MUL
	MULH
	MULHSU
	MULHU
	DIV
	DIVU
	REM
	REMU
	MULW
	DIVW
	DIVUW
	REMW
	REMUW

	// A
	LR_W
	SC_W
	AMOSWAP_W
	AMOADD_W
	AMOXOR_W
	AMOAND_W
	AMOOR_W
	AMOMIN_W
	AMOMAX_W
	AMOMINU_W
	AMOMAXU_W
	LR_D
	SC_D
	AMOSWAP_D
	AMOADD_D
	AMOXOR_D
	AMOAND_D
	AMOOR_D
	AMOMIN_D
	AMOMAX_D
	AMOMINU_D
	AMOMAXU_D

	// F
	FLW
	FSW
	FMADD_S
	FMSUB_S
	FNMSUB_S
	FNMADD_S
	FADD_S
	FSUB_S
	FMUL_S
	FDIV_S
	FSQRT_S
	FSGNJ_S
	FSGNJN_S
	FSGNJX_S
	FMIN_S
	FMAX_S
	FCVT_W_S
	FCVT_WU_S
	FMV_X_W
	FEQ_S
	FLT_S
	FLE_S
	FCLASS_S
	FCVT_S_W
	FCVT_S_WU
	FMV_W_X
	FCVT_L_S
	FCVT_LU_S
	FCVT_S_L
	FCVT_S_LU

	// D
	FLD
	FSD
	FMADD_D
	FMSUB_D
	FNMSUB_D
	FNMADD_D
	FADD_D
	FSUB_D
	FMUL_D
	FDIV_D
	FSQRT_D
	FSGNJ_D
	FSGNJN_D
	FSGNJX_D
	FMIN_D
	FMAX_D
	FCVT_S_D
	FCVT_D_S
	FEQ_D
	FLT_D
	FLE_D
	FCLASS_D
	FCVT_W_D
	FCVT_WU_D
	FCVT_D_W
	FCVT_D_WU
	FCVT_L_D
	FCVT_LU_D
	FMV_X_D
	FCVT_D_L
	FCVT_D_LU
	FMV_D_X

	opCount
)

// register file flags for formatting: which operands name f registers
type opInfo struct {
	name          string
	fd, fs1, fs2  bool
	fs3           bool
	width         uint8 // memory access width in bytes, loads/stores/AMOs only
	unsignedValue bool  // zero-extending load
}

var ops = [opCount]opInfo{
	OpInvalid: {name: "invalid"},

	LUI:     {name: "lui"},
	AUIPC:   {name: "auipc"},
	JAL:     {name: "jal"},
	JALR:    {name: "jalr"},
	BEQ:     {name: "beq"},
	BNE:     {name: "bne"},
	BLT:     {name: "blt"},
	BGE:     {name: "bge"},
	BLTU:    {name: "bltu"},
	BGEU:    {name: "bgeu"},
	LB:      {name: "lb", width: 1},
	LH:      {name: "lh", width: 2},
	LW:      {name: "lw", width: 4},
	LD:      {name: "ld", width: 8},
	LBU:     {name: "lbu", width: 1, unsignedValue: true},
	LHU:     {name: "lhu", width: 2, unsignedValue: true},
	LWU:     {name: "lwu", width: 4, unsignedValue: true},
	SB:      {name: "sb", width: 1},
	SH:      {name: "sh", width: 2},
	SW:      {name: "sw", width: 4},
	SD:      {name: "sd", width: 8},
	ADDI:    {name: "addi"},
	SLTI:    {name: "slti"},
	SLTIU:   {name: "sltiu"},
	XORI:    {name: "xori"},
	ORI:     {name: "ori"},
	ANDI:    {name: "andi"},
	SLLI:    {name: "slli"},
	SRLI:    {name: "srli"},
	SRAI:    {name: "srai"},
	ADD:     {name: "add"},
	SUB:     {name: "sub"},
	SLL:     {name: "sll"},
	SLT:     {name: "slt"},
	SLTU:    {name: "sltu"},
	XOR:     {name: "xor"},
	SRL:     {name: "srl"},
	SRA:     {name: "sra"},
	OR:      {name: "or"},
	AND:     {name: "and"},
	FENCE:   {name: "fence"},
	FENCE_I: {name: "fence.i"},
	ECALL:   {name: "ecall"},
	EBREAK:  {name: "ebreak"},
	ADDIW:   {name: "addiw"},
	SLLIW:   {name: "slliw"},
	SRLIW:   {name: "srliw"},
	SRAIW:   {name: "sraiw"},
	ADDW:    {name: "addw"},
	SUBW:    {name: "subw"},
	SLLW:    {name: "sllw"},
	SRLW:    {name: "srlw"},
	SRAW:    {name: "sraw"},

	CSRRW:  {name: "csrrw"},
	CSRRS:  {name: "csrrs"},
	CSRRC:  {name: "csrrc"},
	CSRRWI: {name: "csrrwi"},
	CSRRSI: {name: "csrrsi"},
	CSRRCI: {name: "csrrci"},

	MUL:    {name: "mul"},
	MULH:   {name: "mulh"},
	MULHSU: {name: "mulhsu"},
	MULHU:  {name: "mulhu"},
	DIV:    {name: "div"},
	DIVU:   {name: "divu"},
	REM:    {name: "rem"},
	REMU:   {name: "remu"},
	MULW:   {name: "mulw"},
	DIVW:   {name: "divw"},
	DIVUW:  {name: "divuw"},
	REMW:   {name: "remw"},
	REMUW:  {name: "remuw"},

	LR_W:      {name: "lr.w", width: 4},
	SC_W:      {name: "sc.w", width: 4},
	AMOSWAP_W: {name: "amoswap.w", width: 4},
	AMOADD_W:  {name: "amoadd.w", width: 4},
	AMOXOR_W:  {name: "amoxor.w", width: 4},
	AMOAND_W:  {name: "amoand.w", width: 4},
	AMOOR_W:   {name: "amoor.w", width: 4},
	AMOMIN_W:  {name: "amomin.w", width: 4},
	AMOMAX_W:  {name: "amomax.w", width: 4},
	AMOMINU_W: {name: "amominu.w", width: 4},
	AMOMAXU_W: {name: "amomaxu.w", width: 4},
	LR_D:      {name: "lr.d", width: 8},
	SC_D:      {name: "sc.d", width: 8},
	AMOSWAP_D: {name: "amoswap.d", width: 8},
	AMOADD_D:  {name: "amoadd.d", width: 8},
	AMOXOR_D:  {name: "amoxor.d", width: 8},
	AMOAND_D:  {name: "amoand.d", width: 8},
	AMOOR_D:   {name: "amoor.d", width: 8},
	AMOMIN_D:  {name: "amomin.d", width: 8},
	AMOMAX_D:  {name: "amomax.d", width: 8},
	AMOMINU_D: {name: "amominu.d", width: 8},
	AMOMAXU_D: {name: "amomaxu.d", width: 8},

	FLW:       {name: "flw", fd: true, width: 4},
	FSW:       {name: "fsw", fs2: true, width: 4},
	FMADD_S:   {name: "fmadd.s", fd: true, fs1: true, fs2: true, fs3: true},
	FMSUB_S:   {name: "fmsub.s", fd: true, fs1: true, fs2: true, fs3: true},
	FNMSUB_S:  {name: "fnmsub.s", fd: true, fs1: true, fs2: true, fs3: true},
	FNMADD_S:  {name: "fnmadd.s", fd: true, fs1: true, fs2: true, fs3: true},
	FADD_S:    {name: "fadd.s", fd: true, fs1: true, fs2: true},
	FSUB_S:    {name: "fsub.s", fd: true, fs1: true, fs2: true},
	FMUL_S:    {name: "fmul.s", fd: true, fs1: true, fs2: true},
	FDIV_S:    {name: "fdiv.s", fd: true, fs1: true, fs2: true},
	FSQRT_S:   {name: "fsqrt.s", fd: true, fs1: true},
	FSGNJ_S:   {name: "fsgnj.s", fd: true, fs1: true, fs2: true},
	FSGNJN_S:  {name: "fsgnjn.s", fd: true, fs1: true, fs2: true},
	FSGNJX_S:  {name: "fsgnjx.s", fd: true, fs1: true, fs2: true},
	FMIN_S:    {name: "fmin.s", fd: true, fs1: true, fs2: true},
	FMAX_S:    {name: "fmax.s", fd: true, fs1: true, fs2: true},
	FCVT_W_S:  {name: "fcvt.w.s", fs1: true},
	FCVT_WU_S: {name: "fcvt.wu.s", fs1: true},
	FMV_X_W:   {name: "fmv.x.w", fs1: true},
	FEQ_S:     {name: "feq.s", fs1: true, fs2: true},
	FLT_S:     {name: "flt.s", fs1: true, fs2: true},
	FLE_S:     {name: "fle.s", fs1: true, fs2: true},
	FCLASS_S:  {name: "fclass.s", fs1: true},
	FCVT_S_W:  {name: "fcvt.s.w", fd: true},
	FCVT_S_WU: {name: "fcvt.s.wu", fd: true},
	FMV_W_X:   {name: "fmv.w.x", fd: true},
	FCVT_L_S:  {name: "fcvt.l.s", fs1: true},
	FCVT_LU_S: {name: "fcvt.lu.s", fs1: true},
	FCVT_S_L:  {name: "fcvt.s.l", fd: true},
	FCVT_S_LU: {name: "fcvt.s.lu", fd: true},

	FLD:       {name: "fld", fd: true, width: 8},
	FSD:       {name: "fsd", fs2: true, width: 8},
	FMADD_D:   {name: "fmadd.d", fd: true, fs1: true, fs2: true, fs3: true},
	FMSUB_D:   {name: "fmsub.d", fd: true, fs1: true, fs2: true, fs3: true},
	FNMSUB_D:  {name: "fnmsub.d", fd: true, fs1: true, fs2: true, fs3: true},
	FNMADD_D:  {name: "fnmadd.d", fd: true, fs1: true, fs2: true, fs3: true},
	FADD_D:    {name: "fadd.d", fd: true, fs1: true, fs2: true},
	FSUB_D:    {name: "fsub.d", fd: true, fs1: true, fs2: true},
	FMUL_D:    {name: "fmul.d", fd: true, fs1: true, fs2: true},
	FDIV_D:    {name: "fdiv.d", fd: true, fs1: true, fs2: true},
	FSQRT_D:   {name: "fsqrt.d", fd: true, fs1: true},
	FSGNJ_D:   {name: "fsgnj.d", fd: true, fs1: true, fs2: true},
	FSGNJN_D:  {name: "fsgnjn.d", fd: true, fs1: true, fs2: true},
	FSGNJX_D:  {name: "fsgnjx.d", fd: true, fs1: true, fs2: true},
	FMIN_D:    {name: "fmin.d", fd: true, fs1: true, fs2: true},
	FMAX_D:    {name: "fmax.d", fd: true, fs1: true, fs2: true},
	FCVT_S_D:  {name: "fcvt.s.d", fd: true, fs1: true},
	FCVT_D_S:  {name: "fcvt.d.s", fd: true, fs1: true},
	FEQ_D:     {name: "feq.d", fs1: true, fs2: true},
	FLT_D:     {name: "flt.d", fs1: true, fs2: true},
	FLE_D:     {name: "fle.d", fs1: true, fs2: true},
	FCLASS_D:  {name: "fclass.d", fs1: true},
	FCVT_W_D:  {name: "fcvt.w.d", fs1: true},
	FCVT_WU_D: {name: "fcvt.wu.d", fs1: true},
	FCVT_D_W:  {name: "fcvt.d.w", fd: true},
	FCVT_D_WU: {name: "fcvt.d.wu", fd: true},
	FCVT_L_D:  {name: "fcvt.l.d", fs1: true},
	FCVT_LU_D: {name: "fcvt.lu.d", fs1: true},
	FMV_X_D:   {name: "fmv.x.d", fs1: true},
	FCVT_D_L:  {name: "fcvt.d.l", fd: true},
	FCVT_D_LU: {name: "fcvt.d.lu", fd: true},
	FMV_D_X:   {name: "fmv.d.x", fd: true},
}

func (op Op) String() string {
	if op < opCount {
		return ops[op].name
	}
	return fmt.Sprintf("Op(%d)", uint16(op))
}

// Width is the number of bytes a load, store or atomic op accesses, or 0.
func (op Op) Width() int {
	if op < opCount {
		return int(ops[op].width)
	}
	return 0
}

// ZeroExtends reports whether a load zero-extends its value into rd.
func (op Op) ZeroExtends() bool {
	return op < opCount && ops[op].unsignedValue
}

// Ops returns every defined operation in declaration order.
func Ops() []Op {
	out := make([]Op, 0, opCount-1)
	for op := OpInvalid + 1; op < opCount; op++ {
		out = append(out, op)
	}
	return out
}
