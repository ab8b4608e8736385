package cmd

import (
	"github.com/urfave/cli/v2"

	cannon "github.com/ethereum-optimism/optimism/cannon/cmd"
)

var (
	RunELFFlag = &cli.PathFlag{
		Name:      "elf",
		Usage:     "path to a static RISC-V ELF executable",
		TakesFile: true,
	}
	RunRawFlag = &cli.PathFlag{
		Name:      "raw",
		Usage:     "path to a raw machine-code image, executed from its first byte",
		TakesFile: true,
	}
	RunRawBaseFlag = &cli.Uint64Flag{
		Name:  "raw.base",
		Usage: "guest address a raw image is loaded at",
		Value: 0x1_0000,
	}
	RunStackSizeFlag = &cli.Uint64Flag{
		Name:  "stack-size",
		Usage: "size of the guest stack in bytes",
		Value: 8 << 20,
	}
	RunInfoAtFlag = &cli.GenericFlag{
		Name:  "info-at",
		Usage: "step pattern to print info at: " + patternHelp,
		Value: cannon.MustStepMatcherFlag("%100000000"),
	}
	RunStopAtFlag = &cli.GenericFlag{
		Name:  "stop-at",
		Usage: "step pattern to stop at: " + patternHelp,
		Value: new(cannon.StepMatcherFlag),
	}
	RunLogGuestOutputFlag = &cli.BoolFlag{
		Name:  "log-guest-output",
		Usage: "route guest stdout and stderr through the logger instead of the host streams",
	}
	RunDumpStateFlag = &cli.BoolFlag{
		Name:  "dump-state",
		Usage: "print the final register state when the run ends",
	}
	RunWitnessOutFlag = &cli.PathFlag{
		Name:      "witness-out",
		Usage:     "write the final state encoding and hashes as JSON to this file, '-' for stdout, a .gz suffix compresses",
		TakesFile: true,
	}
	LogLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "log level: trace, debug, info, warn, error, crit",
		Value: "info",
	}
	DisasBaseFlag = &cli.Uint64Flag{
		Name:  "base",
		Usage: "address of the first byte of a raw input",
		Value: 0,
	}
)

const patternHelp = "'never', 'always', '=123' at exactly step 123, '%123' for every 123 steps"
