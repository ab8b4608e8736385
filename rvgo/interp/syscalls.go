package interp

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/larva/rvgo/mmu"
	"github.com/ethereum-optimism/larva/rvgo/riscv"
)

const (
	// DefaultBrk is the program break used when no ELF image set one.
	DefaultBrk = 0x8_0000_0000

	// maxIO caps a single read or write; short transfers are valid results.
	maxIO = 1 << 20

	guestPID = 1
)

// errno encodes a negated error number the way the kernel returns it in a0.
func errno(e uint64) SyscallResult {
	return SyscallResult{Value: ^e + 1}
}

func ok(v uint64) SyscallResult {
	return SyscallResult{Value: v}
}

// LinuxSyscalls is a small riscv64 Linux system call layer, enough for
// static freestanding and libc-less programs.
type LinuxSyscalls struct {
	Mem    Memory
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Log    log.Logger
	// Now is the clock behind clock_gettime.
	Now func() time.Time

	brkStart  uint64
	brk       uint64
	brkMapped uint64 // end of the mapped part of the break area
}

var _ SyscallHandler = (*LinuxSyscalls)(nil)

func NewLinuxSyscalls(mem Memory, stdin io.Reader, stdout, stderr io.Writer, logger log.Logger) *LinuxSyscalls {
	if logger == nil {
		logger = log.Root()
	}
	sys := &LinuxSyscalls{
		Mem:    mem,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		Log:    logger,
		Now:    time.Now,
	}
	sys.SetBrk(DefaultBrk)
	return sys
}

// SetBrk sets the initial program break, usually the end of the loaded image.
func (sys *LinuxSyscalls) SetBrk(addr uint64) {
	sys.brkStart = addr
	sys.brk = addr
	sys.brkMapped = pageUp(addr)
}

// Brk returns the current program break.
func (sys *LinuxSyscalls) Brk() uint64 {
	return sys.brk
}

func pageUp(v uint64) uint64 {
	return (v + riscv.GuestPageSize - 1) &^ (riscv.GuestPageSize - 1)
}

func (sys *LinuxSyscalls) Syscall(nr uint64, args [6]uint64) SyscallResult {
	a0, a1, a2 := args[0], args[1], args[2]
	switch nr {
	case riscv.SysExit, riscv.SysExitGroup:
		// exit status is the low byte, as wait(2) reports it
		return SyscallResult{Exit: true, Code: int(a0 & 0xFF)}
	case riscv.SysRead:
		return sys.read(a0, a1, a2)
	case riscv.SysWrite:
		return sys.write(a0, a1, a2)
	case riscv.SysBrk:
		return ok(sys.setBrk(a0))
	case riscv.SysMmap:
		return sys.mmap(a0, a1, args[3])
	case riscv.SysMunmap:
		return sys.munmap(a0, a1)
	case riscv.SysClockGettime:
		return sys.clockGettime(a1)
	case riscv.SysGettid, riscv.SysGetpid, riscv.SysSetTidAddress:
		// single-threaded process: the tid is the pid
		return ok(guestPID)
	default:
		sys.Log.Warn("unsupported syscall", "nr", nr, "a0", a0, "a1", a1, "a2", a2)
		return errno(riscv.ENOSYS)
	}
}

func (sys *LinuxSyscalls) read(fd, addr, count uint64) SyscallResult {
	if fd != riscv.FdStdin || sys.Stdin == nil {
		return errno(riscv.EBADF)
	}
	if count > maxIO {
		count = maxIO
	}
	if count == 0 {
		return ok(0)
	}
	buf := make([]byte, count)
	n, err := sys.Stdin.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		sys.Log.Debug("stdin read failed", "err", err)
		if n == 0 {
			return errno(riscv.EBADF)
		}
	}
	if n > 0 {
		if err := sys.Mem.Write(mmu.GuestAddress(addr), buf[:n]); err != nil {
			return errno(riscv.EFAULT)
		}
	}
	sys.Log.Debug("read", "fd", fd, "addr", mmu.GuestAddress(addr), "count", count, "n", n)
	return ok(uint64(n))
}

func (sys *LinuxSyscalls) write(fd, addr, count uint64) SyscallResult {
	var w io.Writer
	switch fd {
	case riscv.FdStdout:
		w = sys.Stdout
	case riscv.FdStderr:
		w = sys.Stderr
	}
	if w == nil {
		return errno(riscv.EBADF)
	}
	if count > maxIO {
		count = maxIO
	}
	buf, err := io.ReadAll(sys.Mem.ReadMemoryRange(mmu.GuestAddress(addr), count))
	if err != nil {
		return errno(riscv.EFAULT)
	}
	n, err := w.Write(buf)
	if err != nil {
		sys.Log.Warn("guest output failed", "fd", fd, "err", err)
		if n == 0 {
			return errno(riscv.EBADF)
		}
	}
	sys.Log.Debug("write", "fd", fd, "addr", mmu.GuestAddress(addr), "count", count, "n", n)
	return ok(uint64(n))
}

// setBrk moves the break and returns the break in effect afterwards. A
// request that cannot be satisfied leaves the break unchanged.
func (sys *LinuxSyscalls) setBrk(addr uint64) uint64 {
	if addr < sys.brkStart {
		return sys.brk
	}
	if end := pageUp(addr); end > sys.brkMapped {
		if err := sys.Mem.AllocateAt(mmu.GuestAddress(sys.brkMapped), end-sys.brkMapped); err != nil {
			sys.Log.Debug("brk grow failed", "brk", mmu.GuestAddress(addr), "err", err)
			return sys.brk
		}
		sys.brkMapped = end
	}
	// shrinking keeps the pages mapped
	sys.brk = addr
	sys.Log.Debug("brk", "brk", mmu.GuestAddress(addr))
	return sys.brk
}

func (sys *LinuxSyscalls) mmap(addr, length, flags uint64) SyscallResult {
	if length == 0 {
		return errno(riscv.EINVAL)
	}
	if flags&riscv.MapAnonymous == 0 {
		// no file descriptors can be mapped
		return errno(riscv.EBADF)
	}
	if flags&riscv.MapFixed != 0 {
		if addr%riscv.GuestPageSize != 0 {
			return errno(riscv.EINVAL)
		}
		size := pageUp(length)
		if err := sys.Mem.Deallocate(mmu.GuestAddress(addr), size); err != nil {
			return errno(riscv.EINVAL)
		}
		if err := sys.Mem.AllocateAt(mmu.GuestAddress(addr), size); err != nil {
			sys.Log.Debug("mmap fixed failed", "addr", mmu.GuestAddress(addr), "len", length, "err", err)
			return errno(riscv.ENOMEM)
		}
		sys.Log.Debug("mmap", "addr", mmu.GuestAddress(addr), "len", length, "fixed", true)
		return ok(addr)
	}
	// hints are ignored
	g, err := sys.Mem.Allocate(length, false)
	if err != nil {
		sys.Log.Debug("mmap failed", "len", length, "err", err)
		return errno(riscv.ENOMEM)
	}
	sys.Log.Debug("mmap", "addr", g, "len", length)
	return ok(uint64(g))
}

func (sys *LinuxSyscalls) munmap(addr, length uint64) SyscallResult {
	if addr%riscv.GuestPageSize != 0 || length == 0 {
		return errno(riscv.EINVAL)
	}
	if err := sys.Mem.Deallocate(mmu.GuestAddress(addr), length); err != nil {
		return errno(riscv.EINVAL)
	}
	sys.Log.Debug("munmap", "addr", mmu.GuestAddress(addr), "len", length)
	return ok(0)
}

func (sys *LinuxSyscalls) clockGettime(tp uint64) SyscallResult {
	now := sys.Now()
	var ts [16]byte
	binary.LittleEndian.PutUint64(ts[0:8], uint64(now.Unix()))
	binary.LittleEndian.PutUint64(ts[8:16], uint64(now.Nanosecond()))
	if err := sys.Mem.Write(mmu.GuestAddress(tp), ts[:]); err != nil {
		return errno(riscv.EFAULT)
	}
	return ok(0)
}
