package interp

import (
	"math"

	"github.com/ethereum-optimism/larva/rvgo/isa"
)

// fflags accrued exception bits
const (
	fflagNX = 1 << 0 // inexact
	fflagUF = 1 << 1 // underflow
	fflagOF = 1 << 2 // overflow
	fflagDZ = 1 << 3 // divide by zero
	fflagNV = 1 << 4 // invalid operation
)

// roundingMode resolves dyn to the frm field of fcsr. It reports false
// when the effective mode is reserved.
func (s *State) roundingMode(rm isa.RoundingMode) (isa.RoundingMode, bool) {
	if rm == isa.DYN {
		rm = isa.RoundingMode(s.FCSR>>5&7)
	}
	return rm, rm <= isa.RMM
}

// narrow rounds a non-NaN double to single precision under rm and returns
// the accrued flags. Tininess is detected on the rounded result.
func narrow(d float64, rm isa.RoundingMode) (float32, uint32) {
	nearest := float32(d) // round to nearest, ties to even
	if float64(nearest) == d {
		return nearest, 0
	}
	// lo < d < hi, adjacent singles
	lo, hi := nearest, nearest
	if float64(nearest) > d {
		lo = math.Nextafter32(nearest, float32(math.Inf(-1)))
	} else {
		hi = math.Nextafter32(nearest, float32(math.Inf(1)))
	}

	var out float32
	switch rm {
	case isa.RTZ:
		if d > 0 {
			out = lo
		} else {
			out = hi
		}
	case isa.RDN:
		out = lo
	case isa.RUP:
		out = hi
	case isa.RMM:
		out = nearest
		if !math.IsInf(float64(lo), 0) && !math.IsInf(float64(hi), 0) &&
			d == (float64(lo)+float64(hi))/2 {
			if d > 0 {
				out = hi
			} else {
				out = lo
			}
		}
	default:
		out = nearest
	}

	flags := uint32(fflagNX)
	switch abs := math.Abs(float64(out)); {
	case math.IsInf(abs, 0) || math.Abs(d) >= 0x1p128:
		flags |= fflagOF
	case abs < 0x1p-126:
		flags |= fflagUF
	}
	return out, flags
}
