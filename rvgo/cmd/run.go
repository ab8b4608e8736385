package cmd

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"

	cannon "github.com/ethereum-optimism/optimism/cannon/cmd"
	"github.com/ethereum-optimism/optimism/cannon/mipsevm"

	"github.com/ethereum-optimism/larva/rvgo/interp"
	"github.com/ethereum-optimism/larva/rvgo/mmu"
	"github.com/ethereum-optimism/larva/rvgo/riscv"
)

// loadProgram maps the --elf or --raw input and returns the entry point.
func loadProgram(ctx *cli.Context, mem *mmu.MMU, sys *interp.LinuxSyscalls) (string, uint64, interp.SortedSymbols, error) {
	elfPath, rawPath := ctx.Path(RunELFFlag.Name), ctx.Path(RunRawFlag.Name)
	switch {
	case elfPath != "" && rawPath != "":
		return "", 0, nil, fmt.Errorf("--%s and --%s are mutually exclusive", RunELFFlag.Name, RunRawFlag.Name)
	case elfPath != "":
		f, err := elf.Open(elfPath)
		if err != nil {
			return "", 0, nil, fmt.Errorf("failed to open ELF file %q: %w", elfPath, err)
		}
		defer f.Close()
		prog, err := interp.LoadELF(f, mem)
		if err != nil {
			return "", 0, nil, fmt.Errorf("failed to load ELF data into guest memory: %w", err)
		}
		syms, err := interp.Symbols(f)
		if err != nil {
			return "", 0, nil, err
		}
		sys.SetBrk(prog.Brk)
		return elfPath, prog.Entry, syms, nil
	case rawPath != "":
		code, err := os.ReadFile(rawPath)
		if err != nil {
			return "", 0, nil, fmt.Errorf("failed to read raw image %q: %w", rawPath, err)
		}
		if len(code) == 0 {
			return "", 0, nil, fmt.Errorf("raw image %q is empty", rawPath)
		}
		base := ctx.Uint64(RunRawBaseFlag.Name)
		if err := mem.AllocateAt(mmu.GuestAddress(base), uint64(len(code))); err != nil {
			return "", 0, nil, fmt.Errorf("failed to map raw image: %w", err)
		}
		if err := mem.Write(mmu.GuestAddress(base), code); err != nil {
			return "", 0, nil, err
		}
		end := base + uint64(len(code))
		sys.SetBrk((end + riscv.GuestPageSize - 1) &^ (riscv.GuestPageSize - 1))
		return rawPath, base, nil, nil
	}
	return "", 0, nil, fmt.Errorf("one of --%s or --%s is required", RunELFFlag.Name, RunRawFlag.Name)
}

// stepMatcher reads a cannon step pattern flag. The patterns only look at
// the step counter, so a single scratch state carries it.
func stepMatcher(ctx *cli.Context, flag *cli.GenericFlag) func(step uint64) bool {
	m := ctx.Generic(flag.Name).(*cannon.StepMatcherFlag).Matcher()
	st := new(mipsevm.State)
	return func(step uint64) bool {
		st.Step = step
		return m(st)
	}
}

// guestArgs returns the CLI args after the first '--'.
func guestArgs(ctx *cli.Context) []string {
	args := ctx.Args().Slice()
	for i, arg := range args {
		if arg == "--" {
			return args[i+1:]
		}
	}
	return args
}

// peekInsn reads the instruction word at pc for logging; a compressed
// instruction shows up in the low half.
func peekInsn(mem *mmu.MMU, pc uint64) uint32 {
	var b [4]byte
	_ = mem.Read(mmu.GuestAddress(pc), b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func Run(ctx *cli.Context) error {
	if ctx.Bool(cannon.RunPProfCPU.Name) {
		defer profile.Start(profile.NoShutdownHook, profile.ProfilePath("."), profile.CPUProfile).Stop()
	}

	lvl, err := ParseLevel(ctx.String(LogLevelFlag.Name))
	if err != nil {
		return err
	}
	l := Logger(os.Stderr, lvl)

	var stdout, stderr io.Writer = os.Stdout, os.Stderr
	if ctx.Bool(RunLogGuestOutputFlag.Name) {
		stdout = &LoggingWriter{Name: "program std-out", Log: l}
		stderr = &LoggingWriter{Name: "program std-err", Log: l}
	}

	mem := mmu.New(riscv.GuestPageSize)
	sys := interp.NewLinuxSyscalls(mem, os.Stdin, stdout, stderr, l)
	state := new(interp.State)
	in := interp.New(state, mem, sys, l)

	name, entry, syms, err := loadProgram(ctx, mem, sys)
	if err != nil {
		return err
	}
	l.Debug("loaded program", "name", name, "entry", HexU64(entry), "brk", HexU64(sys.Brk()),
		"regions", mem.RegionCount(), "page", mem.PageSize())
	if err := in.SetupProcessStack(ctx.Uint64(RunStackSizeFlag.Name), append([]string{name}, guestArgs(ctx)...)); err != nil {
		return err
	}
	// exit is reported through the stop reason, so the run can clean up first
	in.Exit = func(code int) {}

	infoAt := stepMatcher(ctx, RunInfoAtFlag)
	stopAt := stepMatcher(ctx, RunStopAtFlag)

	stop, err := runLoop(ctx, l, in, mem, syms, entry, infoAt, stopAt)
	if err != nil {
		return err
	}

	if ctx.Bool(RunDumpStateFlag.Name) {
		_, _ = fmt.Fprint(os.Stderr, spew.Sdump(state, mem.Regions()))
	}
	if out := ctx.Path(RunWitnessOutFlag.Name); out != "" {
		if err := WriteWitness(out, state, mem); err != nil {
			return err
		}
	}

	switch stop.Kind {
	case interp.StopNone:
		l.Info("stopped early", "pc", HexU64(state.PC), "instret", state.Instret)
		return nil
	case interp.StopExit:
		l.Debug("guest exited", "code", stop.Code, "instret", state.Instret)
		if stop.Code != 0 {
			return cli.Exit("", stop.Code)
		}
		return nil
	}
	l.Error("guest stopped", "reason", stop, "pc", HexU64(state.PC), "name", syms.FindSymbol(state.PC).Name)
	return fmt.Errorf("guest stopped: %s", stop)
}

func runLoop(ctx *cli.Context, l log.Logger, in *interp.Interpreter, mem *mmu.MMU, syms interp.SortedSymbols,
	entry uint64, infoAt, stopAt func(step uint64) bool) (interp.StopReason, error) {
	state := in.State()
	state.PC = entry
	start := time.Now()

	for step := uint64(0); ; step++ {
		if step%100 == 0 { // don't do the ctx err check (includes lock) too often
			if err := ctx.Context.Err(); err != nil {
				return interp.StopReason{}, err
			}
		}

		if infoAt(step) {
			delta := time.Since(start)
			l.Info("processing",
				"step", step,
				"pc", HexU64(state.PC),
				"insn", HexU32(peekInsn(mem, state.PC)),
				"ips", float64(step)/(float64(delta)/float64(time.Second)),
				"regions", mem.RegionCount(),
				"mem", mem.Usage(),
				"name", syms.FindSymbol(state.PC).Name,
			)
		}

		if stopAt(step) {
			return interp.StopReason{}, nil
		}

		out, err := in.Step()
		if err != nil {
			if errors.Is(err, interp.ErrUnimplemented) {
				l.Error("unimplemented instruction", "pc", HexU64(state.PC), "name", syms.FindSymbol(state.PC).Name)
			}
			return interp.StopReason{}, fmt.Errorf("failed at step %d (PC: %016x): %w", step, state.PC, err)
		}
		if out.Kind == interp.Halt {
			return out.Stop, nil
		}
	}
}

var RunCommand = &cli.Command{
	Name:        "run",
	Usage:       "Run a RISC-V user program",
	Description: "Run a static RV64GC Linux user program, from an ELF or a raw image, until it exits or stops. Arguments after '--' are passed to the guest.",
	Action:      Run,
	Flags: []cli.Flag{
		RunELFFlag,
		RunRawFlag,
		RunRawBaseFlag,
		RunStackSizeFlag,
		RunInfoAtFlag,
		RunStopAtFlag,
		RunLogGuestOutputFlag,
		RunDumpStateFlag,
		RunWitnessOutFlag,
		cannon.RunPProfCPU,
		LogLevelFlag,
	},
}
