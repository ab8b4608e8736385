package mmu

import "fmt"

// GuestAddress is an address in the simulated program's address space.
type GuestAddress uint64

// HostAddress is an address in the simulator process. It is never
// dereferenced by the MMU API; the two spaces only meet in Translate.
type HostAddress uint64

func (a GuestAddress) Add(n uint64) GuestAddress { return a + GuestAddress(n) }

// Sub returns the distance from b to a in bytes.
func (a GuestAddress) Sub(b GuestAddress) uint64 { return uint64(a - b) }

func (a GuestAddress) String() string { return fmt.Sprintf("0x%x", uint64(a)) }

func (a HostAddress) Add(n uint64) HostAddress { return a + HostAddress(n) }

func (a HostAddress) Sub(b HostAddress) uint64 { return uint64(a - b) }

func (a HostAddress) String() string { return fmt.Sprintf("0x%x", uint64(a)) }

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

func alignDown(v, align uint64) uint64 {
	return v &^ (align - 1)
}
