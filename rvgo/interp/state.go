package interp

import (
	"encoding/binary"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// State is the architectural state of one hart.
type State struct {
	PC uint64 `json:"pc"`
	// X holds x1 through x31; x0 is hardwired to zero and not stored.
	X [31]uint64 `json:"x"`
	// F holds the floating registers. Singles are NaN-boxed: the upper 32
	// bits of the float64 pattern are all ones.
	F [32]float64 `json:"f"`

	FCSR    uint32 `json:"fcsr"`
	Instret uint64 `json:"instret"`

	// LR/SC reservation
	Reserved    bool   `json:"reserved"`
	Reservation uint64 `json:"reservation"`
}

// Reg reads general register r.
func (s *State) Reg(r uint8) uint64 {
	if r == 0 {
		return 0
	}
	return s.X[r-1]
}

// SetReg writes general register r. Writes to x0 are discarded.
func (s *State) SetReg(r uint8, v uint64) {
	if r == 0 {
		return
	}
	s.X[r-1] = v
}

const (
	nanBox       = 0xFFFF_FFFF_0000_0000
	canonicalNaN = 0x7FC0_0000
)

func (s *State) single(r uint8) float32 {
	return math.Float32frombits(s.singleBits(r))
}

func (s *State) setSingle(r uint8, v float32) {
	s.setSingleBits(r, math.Float32bits(v))
}

// singleBits returns the raw bits of f register r viewed as a single.
// A value that is not properly NaN-boxed reads as the canonical NaN.
func (s *State) singleBits(r uint8) uint32 {
	b := s.doubleBits(r)
	if b&nanBox != nanBox {
		return canonicalNaN
	}
	return uint32(b)
}

func (s *State) setSingleBits(r uint8, v uint32) {
	s.setDoubleBits(r, nanBox|uint64(v))
}

func (s *State) doubleBits(r uint8) uint64 {
	return math.Float64bits(s.F[r&31])
}

func (s *State) setDoubleBits(r uint8, v uint64) {
	s.F[r&31] = math.Float64frombits(v)
}

// EncodeState serializes the registers in a fixed big-endian layout:
// pc, x1..x31, f0..f31 as raw bits, fcsr, instret.
func (s *State) EncodeState() []byte {
	out := make([]byte, 0, 8+31*8+32*8+4+8)
	out = binary.BigEndian.AppendUint64(out, s.PC)
	for _, x := range s.X {
		out = binary.BigEndian.AppendUint64(out, x)
	}
	for _, f := range s.F {
		out = binary.BigEndian.AppendUint64(out, math.Float64bits(f))
	}
	out = binary.BigEndian.AppendUint32(out, s.FCSR)
	out = binary.BigEndian.AppendUint64(out, s.Instret)
	return out
}

// Hash is the keccak256 hash of EncodeState.
func (s *State) Hash() common.Hash {
	return crypto.Keccak256Hash(s.EncodeState())
}
