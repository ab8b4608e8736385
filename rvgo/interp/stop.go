package interp

import "fmt"

// OutcomeKind is what a single step decided about control flow.
type OutcomeKind uint8

const (
	// Continue falls through to pc + instruction length.
	Continue OutcomeKind = iota
	// Redirect transfers control to Outcome.Target.
	Redirect
	// Halt ends the run with Outcome.Stop.
	Halt
)

func (k OutcomeKind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Redirect:
		return "redirect"
	case Halt:
		return "halt"
	}
	return fmt.Sprintf("OutcomeKind(%d)", uint8(k))
}

// Outcome is the result of one Step.
type Outcome struct {
	Kind   OutcomeKind
	Target uint64
	Stop   StopReason
}

func cont() Outcome                  { return Outcome{Kind: Continue} }
func redirect(target uint64) Outcome { return Outcome{Kind: Redirect, Target: target} }
func halt(r StopReason) Outcome      { return Outcome{Kind: Halt, Stop: r} }

// StopKind classifies why a run ended.
type StopKind uint8

const (
	StopNone StopKind = iota
	// StopBreak is an ebreak.
	StopBreak
	// StopReservedInstruction is an undecodable or illegal instruction.
	StopReservedInstruction
	// StopMemoryFault is an access to unmapped memory, or a write to read-only memory.
	StopMemoryFault
	// StopExit is an exit syscall whose exit handler returned.
	StopExit
)

func (k StopKind) String() string {
	switch k {
	case StopNone:
		return "none"
	case StopBreak:
		return "break"
	case StopReservedInstruction:
		return "reserved instruction"
	case StopMemoryFault:
		return "memory fault"
	case StopExit:
		return "exit"
	}
	return fmt.Sprintf("StopKind(%d)", uint8(k))
}

// Access is the direction of a faulting memory access. Instruction fetch is a read.
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
)

func (a Access) String() string {
	if a == AccessWrite {
		return "write"
	}
	return "read"
}

// StopReason is the terminal result of Run.
type StopReason struct {
	Kind StopKind
	// Raw holds the instruction bits of a reserved instruction.
	Raw uint32
	// Access and Addr describe a memory fault.
	Access Access
	Addr   uint64
	// Code is the exit status of StopExit.
	Code int
}

func Break() StopReason { return StopReason{Kind: StopBreak} }

func ReservedInstruction(raw uint32) StopReason {
	return StopReason{Kind: StopReservedInstruction, Raw: raw}
}

func MemoryFault(access Access, addr uint64) StopReason {
	return StopReason{Kind: StopMemoryFault, Access: access, Addr: addr}
}

func Exited(code int) StopReason {
	return StopReason{Kind: StopExit, Code: code}
}

func (r StopReason) String() string {
	switch r.Kind {
	case StopReservedInstruction:
		return fmt.Sprintf("reserved instruction 0x%x", r.Raw)
	case StopMemoryFault:
		return fmt.Sprintf("memory fault: %s at 0x%x", r.Access, r.Addr)
	case StopExit:
		return fmt.Sprintf("exit %d", r.Code)
	}
	return r.Kind.String()
}
