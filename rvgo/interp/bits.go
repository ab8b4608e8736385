package interp

import (
	"math"

	"github.com/holiman/uint256"
)

// mask32Signed64 sign-extends the low 32 bits of v
func mask32Signed64(v uint64) uint64 {
	return uint64(int64(int32(uint32(v))))
}

func signExtend64(v uint64, bit uint) uint64 {
	shift := 63 - bit
	return uint64(int64(v<<shift) >> shift)
}

func signExtend64To256(v uint64) *uint256.Int {
	out := new(uint256.Int).SetUint64(v)
	if v&(1<<63) != 0 {
		ones := new(uint256.Int).Not(new(uint256.Int))
		out.Or(out, ones.Lsh(ones, 64))
	}
	return out
}

func u64ToU256(v uint64) *uint256.Int {
	return new(uint256.Int).SetUint64(v)
}

// high64 returns bits 127..64 of the 256-bit product x*y.
func high64(x, y *uint256.Int) uint64 {
	p := new(uint256.Int).Mul(x, y)
	return p.Rsh(p, 64).Uint64()
}

func mulh(x, y uint64) uint64   { return high64(signExtend64To256(x), signExtend64To256(y)) }
func mulhsu(x, y uint64) uint64 { return high64(signExtend64To256(x), u64ToU256(y)) }
func mulhu(x, y uint64) uint64  { return high64(u64ToU256(x), u64ToU256(y)) }

func div64(x, y uint64) uint64 {
	if y == 0 {
		return math.MaxUint64
	}
	return x / y
}

func sdiv64(x, y uint64) uint64 {
	if y == 0 {
		return math.MaxUint64 // -1
	}
	if x == uint64(1<<63) && y == math.MaxUint64 {
		return 1 << 63 // overflow: quotient is the dividend
	}
	return uint64(int64(x) / int64(y))
}

func mod64(x, y uint64) uint64 {
	if y == 0 {
		return x
	}
	return x % y
}

func smod64(x, y uint64) uint64 {
	if y == 0 {
		return x
	}
	if x == uint64(1<<63) && y == math.MaxUint64 {
		return 0
	}
	return uint64(int64(x) % int64(y))
}

// 32-bit variants look only at the low words of their operands

func divw(x, y uint64) uint64 {
	a, b := int32(x), int32(y)
	switch {
	case b == 0:
		return math.MaxUint64
	case a == math.MinInt32 && b == -1:
		return mask32Signed64(uint64(uint32(a)))
	}
	return uint64(int64(a / b))
}

func divuw(x, y uint64) uint64 {
	a, b := uint32(x), uint32(y)
	if b == 0 {
		return math.MaxUint64
	}
	return mask32Signed64(uint64(a / b))
}

func remw(x, y uint64) uint64 {
	a, b := int32(x), int32(y)
	switch {
	case b == 0:
		return uint64(int64(a))
	case a == math.MinInt32 && b == -1:
		return 0
	}
	return uint64(int64(a % b))
}

func remuw(x, y uint64) uint64 {
	a, b := uint32(x), uint32(y)
	if b == 0 {
		return mask32Signed64(uint64(a))
	}
	return mask32Signed64(uint64(a % b))
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
