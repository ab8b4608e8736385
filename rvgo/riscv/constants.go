package riscv

// Linux riscv64 syscall numbers (asm-generic table).
const (
	SysRead          = 63
	SysWrite         = 64
	SysExit          = 93
	SysExitGroup     = 94
	SysSetTidAddress = 96
	SysClockGettime  = 113
	SysGetpid        = 172
	SysGettid        = 178
	SysBrk           = 214
	SysMunmap        = 215
	SysMmap          = 222

	FdStdin  = 0
	FdStdout = 1
	FdStderr = 2
)

// errno values, returned negated in a0
const (
	EBADF  = 9
	ENOMEM = 12
	EFAULT = 14
	EINVAL = 22
	ENOSYS = 38
)

// mmap flags and protections
const (
	ProtRead     = 0x1
	ProtWrite    = 0x2
	ProtExec     = 0x4
	MapShared    = 0x01
	MapPrivate   = 0x02
	MapFixed     = 0x10
	MapAnonymous = 0x20
)

// ABI register numbers
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegGP   = 3
	RegTP   = 4
	RegT0   = 5
	RegS0   = 8
	RegS1   = 9
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17
)

// User-level CSR numbers
const (
	CSRFflags  = 0x001
	CSRFrm     = 0x002
	CSRFcsr    = 0x003
	CSRCycle   = 0xC00
	CSRTime    = 0xC01
	CSRInstret = 0xC02
)

// Auxiliary vector keys
const (
	AtNull   = 0
	AtPagesz = 6
	AtRandom = 25
)

// GuestPageSize is the page size reported to guests and the minimum
// granularity of a guest allocation.
const GuestPageSize = 4096
