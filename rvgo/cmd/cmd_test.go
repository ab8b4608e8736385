package cmd

import (
	"bytes"
	"golang.org/x/exp/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	cannon "github.com/ethereum-optimism/optimism/cannon/cmd"
	"github.com/ethereum-optimism/optimism/cannon/mipsevm"
	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/ethereum-optimism/larva/rvgo/interp"
	"github.com/ethereum-optimism/larva/rvgo/mmu"
	"github.com/ethereum-optimism/larva/rvgo/riscv"
)

var exitProgram = []byte{0x13, 0x05, 0xb0, 0x07, 0x93, 0x08, 0xd0, 0x05, 0x73, 0x00, 0x00, 0x00}

func TestLoggingWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &LoggingWriter{Name: "program std-out", Log: Logger(&buf, log.LevelInfo)}

	n, err := lw.Write([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Contains(t, buf.String(), `text="hello world"`)
	require.Contains(t, buf.String(), "program std-out")

	buf.Reset()
	n, err = lw.Write([]byte{0x00, 0xff})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Contains(t, buf.String(), "data=0x00ff")
}

func TestParseLevel(t *testing.T) {
	for in, expected := range map[string]slog.Level{
		"trace": log.LevelTrace,
		"DEBUG": log.LevelDebug,
		"":      log.LevelInfo,
		"warn":  log.LevelWarn,
		"crit":  log.LevelCrit,
	} {
		lvl, err := ParseLevel(in)
		require.NoError(t, err)
		require.Equal(t, expected, lvl, in)
	}
	_, err := ParseLevel("loud")
	require.ErrorContains(t, err, "unknown log level")
}

func TestHexFormatting(t *testing.T) {
	require.Equal(t, "00000513", HexU32(0x513).String())
	require.Equal(t, "0000000000010000", HexU64(0x1_0000).String())
	text, err := HexU64(0xff).MarshalText()
	require.NoError(t, err)
	require.Equal(t, "00000000000000ff", string(text))
}

func TestStepPatterns(t *testing.T) {
	parse := func(pattern string) (func(step uint64) bool, error) {
		// a fresh value, the package flag is shared with the run command
		flag := &cli.GenericFlag{Name: RunStopAtFlag.Name, Value: new(cannon.StepMatcherFlag)}
		var matcher func(step uint64) bool
		app := cli.NewApp()
		app.Flags = []cli.Flag{flag}
		app.Action = func(ctx *cli.Context) error {
			matcher = stepMatcher(ctx, flag)
			return nil
		}
		err := app.Run([]string{"larva", "--stop-at", pattern})
		return matcher, err
	}
	cases := []struct {
		pattern string
		match   []uint64
		miss    []uint64
	}{
		{"never", nil, []uint64{0, 1, 100}},
		{"always", []uint64{0, 1, 12345}, nil},
		{"=5", []uint64{5}, []uint64{0, 4, 6, 10}},
		{"%10", []uint64{0, 10, 1000}, []uint64{1, 5, 15}},
	}
	for _, c := range cases {
		t.Run(c.pattern, func(t *testing.T) {
			m, err := parse(c.pattern)
			require.NoError(t, err)
			for _, s := range c.match {
				require.True(t, m(s), "step %d", s)
			}
			for _, s := range c.miss {
				require.False(t, m(s), "step %d", s)
			}
		})
	}
	t.Run("unrecognized", func(t *testing.T) {
		_, err := parse("sometimes")
		require.Error(t, err)
	})
	t.Run("default info pattern", func(t *testing.T) {
		m := stepMatcherOf(RunInfoAtFlag)
		require.True(t, m(0))
		require.True(t, m(100_000_000))
		require.False(t, m(99_999_999))
	})
}

// stepMatcherOf returns the matcher of a flag's current value.
func stepMatcherOf(flag *cli.GenericFlag) func(step uint64) bool {
	m := flag.Value.(*cannon.StepMatcherFlag).Matcher()
	return func(step uint64) bool { return m(&mipsevm.State{Step: step}) }
}

func TestDisassemble(t *testing.T) {
	t.Run("raw", func(t *testing.T) {
		code := append([]byte{0x05, 0x45}, exitProgram...)
		code = append(code, 0x13) // truncated word
		var out bytes.Buffer
		syms := interp.SortedSymbols{{Name: "_start", Value: 0x1000, Size: 14}}
		require.NoError(t, Disassemble(&out, 0x1000, code, syms))
		expected := strings.Join([]string{
			"",
			"0000000000001000 <_start>:",
			"    1000:\t4505    \taddi a0,zero,1",
			"    1002:\t07b00513\taddi a0,zero,123",
			"    1006:\t05d00893\taddi a7,zero,93",
			"    100a:\t00000073\tecall",
			"    100e:\t13      \t.byte 0x13",
			"",
		}, "\n")
		require.Equal(t, expected, out.String())
	})
	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prog.bin")
		require.NoError(t, os.WriteFile(path, exitProgram, 0o644))
		var out bytes.Buffer
		require.NoError(t, disasFile(&out, path, 0))
		require.Equal(t, 3, strings.Count(out.String(), "\n"))
		require.Contains(t, out.String(), "       8:\t00000073\tecall")
	})
	t.Run("missing file", func(t *testing.T) {
		err := disasFile(&bytes.Buffer{}, filepath.Join(t.TempDir(), "nope"), 0)
		require.ErrorContains(t, err, "failed to read")
	})
}

func TestWriteWitness(t *testing.T) {
	mem := mmu.New(riscv.GuestPageSize)
	_, err := mem.Allocate(4096, false)
	require.NoError(t, err)
	state := &interp.State{PC: 0x1000, Instret: 3}
	state.SetReg(riscv.RegA0, 123)

	path := filepath.Join(t.TempDir(), "witness.json")
	require.NoError(t, WriteWitness(path, state, mem))
	got, err := jsonutil.LoadJSON[WitnessOutput](path)
	require.NoError(t, err)
	require.Equal(t, NewWitness(state, mem), got)
	require.Equal(t, state.Hash(), got.StateHash)
	require.Equal(t, uint64(3), got.Instret)
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "exit.bin")
	require.NoError(t, os.WriteFile(image, exitProgram, 0o644))

	exitCode := -1
	prevExiter := cli.OsExiter
	cli.OsExiter = func(code int) { exitCode = code }
	t.Cleanup(func() { cli.OsExiter = prevExiter })

	app := cli.NewApp()
	app.Commands = []*cli.Command{RunCommand}
	witnessPath := filepath.Join(dir, "witness.json")
	err := app.Run([]string{"larva", "run", "--raw", image, "--log.level", "error", "--witness-out", witnessPath})
	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 123, exitErr.ExitCode())
	require.Equal(t, 123, exitCode)

	w, err := jsonutil.LoadJSON[WitnessOutput](witnessPath)
	require.NoError(t, err)
	require.Equal(t, uint64(2), w.Instret)

	t.Run("requires an input", func(t *testing.T) {
		err := app.Run([]string{"larva", "run"})
		require.ErrorContains(t, err, "is required")
	})
	t.Run("stop-at", func(t *testing.T) {
		err := app.Run([]string{"larva", "run", "--raw", image, "--log.level", "error", "--stop-at", "=1"})
		require.NoError(t, err)
	})
}
