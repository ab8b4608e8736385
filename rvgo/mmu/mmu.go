package mmu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"unsafe"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// DefaultHeapBase is where heap-style allocations start growing upwards.
	DefaultHeapBase GuestAddress = 0x10_0000_0000
	// DefaultStackTop is the exclusive upper end of the stack allocation area.
	DefaultStackTop GuestAddress = 0x40_0000_0000
)

var (
	ErrZeroLength = errors.New("zero-length mapping")
	ErrOverlap    = errors.New("mapping overlaps an existing region")
	ErrNoSpace    = errors.New("guest address space exhausted")
	ErrUnaligned  = errors.New("address not page aligned")
)

// Fault is returned by Read and Write when an access touches an
// unmapped address, or writes a read-only region.
type Fault struct {
	Addr  GuestAddress
	Write bool
}

func (f *Fault) Error() string {
	kind := "read"
	if f.Write {
		kind = "write"
	}
	return fmt.Sprintf("memory fault: %s at %s", kind, f.Addr)
}

type region struct {
	guest    GuestAddress
	data     []byte
	writable bool
	owned    bool // allocated by the MMU, as opposed to borrowed host memory
	stack    bool
}

func (r *region) end() GuestAddress { return r.guest.Add(uint64(len(r.data))) }

func (r *region) host() HostAddress {
	return HostAddress(uintptr(unsafe.Pointer(unsafe.SliceData(r.data))))
}

// Region describes one mapping, as returned by Regions.
type Region struct {
	Guest    GuestAddress
	Host     HostAddress
	Size     uint64
	Writable bool
	Owned    bool
	Stack    bool
}

// MMU is the guest address space: a set of non-overlapping regions, each
// backed by a host byte slice. It is safe for concurrent use; lookups take
// the read lock, mapping changes take the write lock, and neither is held
// while bytes are copied.
type MMU struct {
	mu sync.RWMutex

	// sorted by guest address, never overlapping
	regions []*region

	guestPageSize uint64
	allocAlign    uint64

	heapNext  GuestAddress
	stackNext GuestAddress
}

// New creates an empty address space. Allocations are rounded to the larger
// of the host page size and guestPageSize.
func New(guestPageSize uint64) *MMU {
	if guestPageSize == 0 {
		guestPageSize = 4096
	}
	align := uint64(os.Getpagesize())
	if guestPageSize > align {
		align = guestPageSize
	}
	return &MMU{
		guestPageSize: guestPageSize,
		allocAlign:    align,
		heapNext:      DefaultHeapBase,
		stackNext:     DefaultStackTop,
	}
}

// PageSize is the allocation granularity.
func (m *MMU) PageSize() uint64 {
	return m.allocAlign
}

// search returns the index of the first region that ends after g.
func (m *MMU) search(g GuestAddress) int {
	return sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].end() > g
	})
}

func (m *MMU) lookup(g GuestAddress) *region {
	i := m.search(g)
	if i < len(m.regions) && m.regions[i].guest <= g {
		return m.regions[i]
	}
	return nil
}

// overlapping returns the first region intersecting [start, end).
func (m *MMU) overlapping(start, end GuestAddress) *region {
	i := m.search(start)
	if i < len(m.regions) && m.regions[i].guest < end {
		return m.regions[i]
	}
	return nil
}

func (m *MMU) insert(r *region) {
	i := m.search(r.guest)
	m.regions = append(m.regions, nil)
	copy(m.regions[i+1:], m.regions[i:])
	m.regions[i] = r
}

// fits reports whether [start, start+size) is free and does not wrap.
func (m *MMU) fits(start GuestAddress, size uint64) bool {
	end := start.Add(size)
	if end <= start {
		return false
	}
	return m.overlapping(start, end) == nil
}

// placeHeap finds the lowest free range of size bytes at or above the heap cursor.
func (m *MMU) placeHeap(size uint64) (GuestAddress, error) {
	candidate := m.heapNext
	for {
		end := candidate.Add(size)
		if end <= candidate {
			return 0, ErrNoSpace
		}
		r := m.overlapping(candidate, end)
		if r == nil {
			m.heapNext = end
			return candidate, nil
		}
		candidate = GuestAddress(alignUp(uint64(r.end()), m.allocAlign))
	}
}

// placeStack finds the highest free range of size bytes below the stack cursor.
func (m *MMU) placeStack(size uint64) (GuestAddress, error) {
	top := m.stackNext
	for {
		if uint64(top) < size {
			return 0, ErrNoSpace
		}
		candidate := GuestAddress(uint64(top) - size)
		r := m.overlapping(candidate, top)
		if r == nil {
			m.stackNext = candidate
			return candidate, nil
		}
		top = GuestAddress(alignDown(uint64(r.guest), m.allocAlign))
	}
}

// Allocate maps a new zero-filled region of at least length bytes, rounded
// up to the page size. Stack allocations grow down from the stack area,
// everything else grows up from the heap base.
func (m *MMU) Allocate(length uint64, stack bool) (GuestAddress, error) {
	if length == 0 {
		return 0, ErrZeroLength
	}
	size := alignUp(length, m.allocAlign)
	if size < length {
		return 0, ErrNoSpace
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		g   GuestAddress
		err error
	)
	if stack {
		g, err = m.placeStack(size)
	} else {
		g, err = m.placeHeap(size)
	}
	if err != nil {
		return 0, err
	}
	m.insert(&region{guest: g, data: make([]byte, size), writable: true, owned: true, stack: stack})
	return g, nil
}

// AllocateAt maps a zero-filled region at a fixed guest-page-aligned address.
func (m *MMU) AllocateAt(g GuestAddress, length uint64) error {
	if length == 0 {
		return ErrZeroLength
	}
	if uint64(g)%m.guestPageSize != 0 {
		return fmt.Errorf("%w: %s", ErrUnaligned, g)
	}
	size := alignUp(length, m.guestPageSize)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fits(g, size) {
		return fmt.Errorf("%w: [%s, %s)", ErrOverlap, g, g.Add(size))
	}
	m.insert(&region{guest: g, data: make([]byte, size), writable: true, owned: true})
	return nil
}

// RegisterHostMemory exposes buf to the guest without copying it. Guest
// writes land in buf; buf must outlive the mapping.
func (m *MMU) RegisterHostMemory(buf []byte, writable bool) (GuestAddress, error) {
	if len(buf) == 0 {
		return 0, ErrZeroLength
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.placeHeap(alignUp(uint64(len(buf)), m.allocAlign))
	if err != nil {
		return 0, err
	}
	m.insert(&region{guest: g, data: buf, writable: writable})
	return g, nil
}

// RegisterHostMemoryAt is RegisterHostMemory at a fixed guest address.
func (m *MMU) RegisterHostMemoryAt(g GuestAddress, buf []byte, writable bool) error {
	if len(buf) == 0 {
		return ErrZeroLength
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fits(g, uint64(len(buf))) {
		return fmt.Errorf("%w: [%s, %s)", ErrOverlap, g, g.Add(uint64(len(buf))))
	}
	m.insert(&region{guest: g, data: buf, writable: writable})
	return nil
}

// Deallocate removes every region that intersects [g, g+length). Regions
// that only partially overlap are removed whole. Borrowed host memory is
// released back to its owner untouched.
func (m *MMU) Deallocate(g GuestAddress, length uint64) error {
	if length == 0 {
		return ErrZeroLength
	}
	end := g.Add(length)
	if end < g {
		end = ^GuestAddress(0)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.regions[:0]
	for _, r := range m.regions {
		if r.end() <= g || end <= r.guest {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(m.regions); i++ {
		m.regions[i] = nil
	}
	m.regions = kept
	return nil
}

// Translate returns the host address backing guest address g.
func (m *MMU) Translate(g GuestAddress) (HostAddress, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.lookup(g)
	if r == nil {
		return 0, false
	}
	return r.host().Add(g.Sub(r.guest)), true
}

// span returns the bytes from g to the end of its region.
func (m *MMU) span(g GuestAddress, write bool) ([]byte, error) {
	m.mu.RLock()
	r := m.lookup(g)
	m.mu.RUnlock()
	if r == nil || (write && !r.writable) {
		return nil, &Fault{Addr: g, Write: write}
	}
	return r.data[g.Sub(r.guest):], nil
}

// Read fills p from guest memory starting at g. Accesses may cross into
// adjacent regions. On a fault, p may be partially filled.
func (m *MMU) Read(g GuestAddress, p []byte) error {
	for len(p) > 0 {
		src, err := m.span(g, false)
		if err != nil {
			return err
		}
		n := copy(p, src)
		p = p[n:]
		g = g.Add(uint64(n))
	}
	return nil
}

// Write copies p into guest memory starting at g.
func (m *MMU) Write(g GuestAddress, p []byte) error {
	for len(p) > 0 {
		dst, err := m.span(g, true)
		if err != nil {
			return err
		}
		n := copy(dst, p)
		p = p[n:]
		g = g.Add(uint64(n))
	}
	return nil
}

// SetMemoryRange copies everything from r into mapped memory at g.
func (m *MMU) SetMemoryRange(g GuestAddress, r io.Reader) error {
	for {
		dst, err := m.span(g, true)
		if err != nil {
			// only a fault if r still has data for this address
			var peek [1]byte
			if n, rerr := r.Read(peek[:]); n == 0 && rerr == io.EOF {
				return nil
			}
			return err
		}
		n, err := r.Read(dst)
		g = g.Add(uint64(n))
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

type memReader struct {
	m     *MMU
	addr  GuestAddress
	count uint64
}

func (r *memReader) Read(dest []byte) (n int, err error) {
	if r.count == 0 {
		return 0, io.EOF
	}
	src, err := r.m.span(r.addr, false)
	if err != nil {
		return 0, err
	}
	if uint64(len(src)) > r.count {
		src = src[:r.count]
	}
	n = copy(dest, src)
	r.addr = r.addr.Add(uint64(n))
	r.count -= uint64(n)
	return n, nil
}

// ReadMemoryRange returns a reader over count bytes of guest memory at g.
func (m *MMU) ReadMemoryRange(g GuestAddress, count uint64) io.Reader {
	return &memReader{m: m, addr: g, count: count}
}

// Regions returns a snapshot of the current mappings in address order.
func (m *MMU) Regions() []Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Region, len(m.regions))
	for i, r := range m.regions {
		out[i] = Region{
			Guest:    r.guest,
			Host:     r.host(),
			Size:     uint64(len(r.data)),
			Writable: r.writable,
			Owned:    r.owned,
			Stack:    r.stack,
		}
	}
	return out
}

func (m *MMU) RegionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regions)
}

// Digest hashes the layout and contents of every region.
func (m *MMU) Digest() common.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	parts := make([][]byte, 0, 2*len(m.regions))
	for _, r := range m.regions {
		var hdr [17]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(r.guest))
		binary.BigEndian.PutUint64(hdr[8:16], uint64(len(r.data)))
		if r.writable {
			hdr[16] = 1
		}
		parts = append(parts, hdr[:], r.data)
	}
	return crypto.Keccak256Hash(parts...)
}

// Usage is the total mapped size in human-readable form.
func (m *MMU) Usage() string {
	m.mu.RLock()
	var total uint64
	for _, r := range m.regions {
		total += uint64(len(r.data))
	}
	m.mu.RUnlock()
	const unit = 1024
	if total < unit {
		return fmt.Sprintf("%d B", total)
	}
	div, exp := uint64(unit), 0
	for n := total / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	// KiB, MiB, GiB, TiB, ...
	return fmt.Sprintf("%.1f %ciB", float64(total)/float64(div), "KMGTPE"[exp])
}
