package isa

// SignExtend interprets the low width bits of p as a two's complement value.
// Bits of p above width must be zero.
func SignExtend(p uint64, width uint) int64 {
	if width == 0 || width >= 64 {
		return int64(p)
	}
	shift := 64 - width
	return int64(p<<shift) >> shift
}

// bit-field accessors of a 32-bit instruction word

func parseOpcode(w uint32) uint32 { return w & 0x7F }
func parseRd(w uint32) uint8      { return uint8((w >> 7) & 0x1F) }
func parseFunct3(w uint32) uint32 { return (w >> 12) & 0x7 }
func parseRs1(w uint32) uint8     { return uint8((w >> 15) & 0x1F) }
func parseRs2(w uint32) uint8     { return uint8((w >> 20) & 0x1F) }
func parseRs3(w uint32) uint8     { return uint8(w >> 27) }
func parseFunct7(w uint32) uint32 { return w >> 25 }
func parseRm(w uint32) RoundingMode {
	return RoundingMode(parseFunct3(w))
}

func parseImmTypeI(w uint32) int32 {
	return int32(w) >> 20
}

func parseImmTypeS(w uint32) int32 {
	return (int32(w)>>25)<<5 | int32((w>>7)&0x1F)
}

func parseImmTypeB(w uint32) int32 {
	imm := (w>>31)&1<<12 |
		(w>>7)&1<<11 |
		(w>>25)&0x3F<<5 |
		(w>>8)&0xF<<1
	return int32(SignExtend(uint64(imm), 13))
}

func parseImmTypeU(w uint32) int32 {
	return int32(w & 0xFFFF_F000)
}

func parseImmTypeJ(w uint32) int32 {
	imm := (w>>31)&1<<20 |
		(w>>12)&0xFF<<12 |
		(w>>20)&1<<11 |
		(w>>21)&0x3FF<<1
	return int32(SignExtend(uint64(imm), 21))
}

func parseCSR(w uint32) uint16 {
	return uint16(w >> 20)
}
