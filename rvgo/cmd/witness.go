package cmd

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/ethereum-optimism/larva/rvgo/interp"
	"github.com/ethereum-optimism/larva/rvgo/mmu"
)

var OutFilePerm = os.FileMode(0o644)

// WitnessOutput summarizes a final guest state for comparing runs.
type WitnessOutput struct {
	State        hexutil.Bytes `json:"state"`
	StateHash    common.Hash   `json:"stateHash"`
	MemoryDigest common.Hash   `json:"memoryDigest"`
	Instret      uint64        `json:"instret"`
}

func NewWitness(state *interp.State, mem *mmu.MMU) *WitnessOutput {
	return &WitnessOutput{
		State:        state.EncodeState(),
		StateHash:    state.Hash(),
		MemoryDigest: mem.Digest(),
		Instret:      state.Instret,
	}
}

// WriteWitness writes the witness JSON to path, or to stdout for "-".
func WriteWitness(path string, state *interp.State, mem *mmu.MMU) error {
	if err := jsonutil.WriteJSON(path, NewWitness(state, mem), OutFilePerm); err != nil {
		return fmt.Errorf("failed to write witness output %w", err)
	}
	return nil
}
