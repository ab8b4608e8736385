package interp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/larva/rvgo/isa"
	"github.com/ethereum-optimism/larva/rvgo/mmu"
)

// ErrUnimplemented is returned for instructions that decode but whose
// semantics are not supported, such as floating-point arithmetic.
var ErrUnimplemented = errors.New("unimplemented instruction")

// Memory is the guest address space as seen by the interpreter and the
// syscall layer. *mmu.MMU implements it.
type Memory interface {
	Translate(g mmu.GuestAddress) (mmu.HostAddress, bool)
	Allocate(length uint64, stack bool) (mmu.GuestAddress, error)
	AllocateAt(g mmu.GuestAddress, length uint64) error
	Deallocate(g mmu.GuestAddress, length uint64) error
	RegisterHostMemory(buf []byte, writable bool) (mmu.GuestAddress, error)
	RegisterHostMemoryAt(g mmu.GuestAddress, buf []byte, writable bool) error
	Read(g mmu.GuestAddress, p []byte) error
	Write(g mmu.GuestAddress, p []byte) error
	SetMemoryRange(g mmu.GuestAddress, r io.Reader) error
	ReadMemoryRange(g mmu.GuestAddress, count uint64) io.Reader
}

var _ Memory = (*mmu.MMU)(nil)

// SyscallResult is either a value for a0, or a request to exit.
type SyscallResult struct {
	Value uint64
	Exit  bool
	Code  int
}

// SyscallHandler services ecall. nr is a7, args are a0 through a5.
type SyscallHandler interface {
	Syscall(nr uint64, args [6]uint64) SyscallResult
}

// Interpreter executes RV64GC user code against a State and a Memory.
type Interpreter struct {
	state *State
	mem   Memory
	sys   SyscallHandler
	log   log.Logger

	// Exit is called when the guest exits. It defaults to os.Exit, which
	// ends the host process; if it returns, Run stops with StopExit.
	Exit func(code int)

	start  time.Time
	fences uint64
}

func New(state *State, mem Memory, sys SyscallHandler, logger log.Logger) *Interpreter {
	if logger == nil {
		logger = log.Root()
	}
	return &Interpreter{
		state: state,
		mem:   mem,
		sys:   sys,
		log:   logger,
		Exit:  os.Exit,
		start: time.Now(),
	}
}

func (in *Interpreter) State() *State {
	return in.state
}

// Run sets the pc to entry and steps until the program halts. The error is
// non-nil only for unimplemented semantics or an internal failure.
func (in *Interpreter) Run(entry uint64) (StopReason, error) {
	in.state.PC = entry
	for {
		out, err := in.Step()
		if err != nil {
			return StopReason{}, err
		}
		if out.Kind == Halt {
			return out.Stop, nil
		}
	}
}

// Step executes a single instruction and commits the next pc. A halting
// step leaves the pc at the instruction that halted.
func (in *Interpreter) Step() (out Outcome, outErr error) {
	s := in.state
	pc := s.PC
	defer func() {
		if err := recover(); err != nil {
			outErr = fmt.Errorf("step at pc 0x%x: %v", pc, err)
		}
	}()

	inst, raw, length, stop := in.fetch(pc)
	if stop != nil {
		return halt(*stop), nil
	}

	out, err := in.execute(inst, raw, pc, uint64(length))
	if err != nil {
		return Outcome{}, fmt.Errorf("at pc 0x%x (%s): %w", pc, inst, err)
	}
	switch out.Kind {
	case Continue:
		s.PC = pc + uint64(length)
	case Redirect:
		s.PC = out.Target
	case Halt:
		return out, nil
	}
	s.Instret++
	return out, nil
}

// fetch reads the first byte to learn the width, then the full instruction.
func (in *Interpreter) fetch(pc uint64) (isa.Instruction, uint32, int, *StopReason) {
	var buf [4]byte
	if err := in.mem.Read(mmu.GuestAddress(pc), buf[:1]); err != nil {
		r := faultStop(err, AccessRead, pc)
		return nil, 0, 0, &r
	}
	length := isa.Length(buf[0])
	if err := in.mem.Read(mmu.GuestAddress(pc+1), buf[1:length]); err != nil {
		r := faultStop(err, AccessRead, pc+1)
		return nil, 0, 0, &r
	}
	var raw uint32
	if length == 2 {
		raw = uint32(binary.LittleEndian.Uint16(buf[:2]))
	} else {
		raw = binary.LittleEndian.Uint32(buf[:])
	}
	inst, _, _ := isa.Decode(buf[:length])
	if _, ok := inst.(isa.Invalid); ok {
		r := ReservedInstruction(raw)
		return nil, 0, 0, &r
	}
	return inst, raw, length, nil
}

// faultStop converts an MMU error into a memory fault stop.
func faultStop(err error, access Access, addr uint64) StopReason {
	var fault *mmu.Fault
	if errors.As(err, &fault) {
		if fault.Write {
			access = AccessWrite
		}
		return MemoryFault(access, uint64(fault.Addr))
	}
	return MemoryFault(access, addr)
}

// memFault is returned by load and store helpers; execute turns it into a halt.
type memFault struct {
	stop StopReason
}

func (f *memFault) Error() string { return f.stop.String() }

func (in *Interpreter) loadMem(addr uint64, size int) (uint64, error) {
	var buf [8]byte
	if err := in.mem.Read(mmu.GuestAddress(addr), buf[:size]); err != nil {
		return 0, &memFault{stop: faultStop(err, AccessRead, addr)}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (in *Interpreter) storeMem(addr uint64, size int, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	if err := in.mem.Write(mmu.GuestAddress(addr), buf[:size]); err != nil {
		return &memFault{stop: faultStop(err, AccessWrite, addr)}
	}
	return nil
}
