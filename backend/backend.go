// Package backend defines the memory-tier interface that Policy decisions
// are carried out against (spec §1's "each tier is assumed to expose
// malloc/free/realloc/... through some backend" and spec §6's client
// surface), plus Arena, a reference implementation sufficient to drive the
// engine end-to-end in tests.
//
// Grounded on the teacher's QuantumQueue freeHead/idx32 freelist idiom —
// released slots go onto a LIFO list and are popped before the arena's
// bump cursor advances — adapted from a fixed-capacity handle arena into a
// byte-addressable region simulator where reuse additionally has to check
// the freed block is large enough for the new request.
package backend

import (
	"sync"

	"github.com/memkind-go/tiermem/internal/policyerr"
)

// Kind identifies the underlying memory class a tier's backend draws from,
// mirrored from memkind's MEMKIND_* kind enumeration (spec §6's
// "memtier_kind_name"-style introspection, carried per SPEC_FULL.md §13).
type Kind int

const (
	KindUnknown Kind = iota
	KindDefault
	KindHighBandwidth
	KindPersistentMemory
)

func (k Kind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindHighBandwidth:
		return "high_bandwidth"
	case KindPersistentMemory:
		return "pmem"
	default:
		return "unknown"
	}
}

// Allocator is the backend surface a memtier.Memory tier is built on: spec
// §6's "assumed to expose malloc/calloc/realloc/posix_memalign/free/
// malloc_usable_size" plus a DetectKind introspection hook used by
// diagnostics and scenario-level tests after a cross-tier realloc.
type Allocator interface {
	Malloc(size uintptr) (uintptr, error)
	Calloc(size uintptr) (uintptr, error)
	Realloc(addr uintptr, size uintptr) (uintptr, error)
	PosixMemalign(alignment uintptr, size uintptr) (uintptr, error)
	Free(addr uintptr)
	UsableSize(addr uintptr) (uintptr, bool)
	DetectKind() Kind
}

// block is one live allocation tracked by Arena.
type block struct {
	size  uintptr
	freed bool
}

// Arena is a fixed-region allocation simulator: addresses are synthetic
// (monotonically increasing offsets into a notional region, never real
// memory), so it can back tests and the demonstration command without
// touching the OS allocator. It is not a production allocator — spec §1
// leaves the real backend external to this engine.
type Arena struct {
	mu       sync.Mutex
	kind     Kind
	capacity uintptr

	next   uintptr
	used   uintptr
	blocks map[uintptr]*block
	free   []uintptr // addresses of freed blocks, reused in LIFO order
}

// NewArena creates an Arena reporting kind for DetectKind, with capacity
// bytes of address space to hand out before Malloc starts failing.
func NewArena(kind Kind, capacity uintptr) *Arena {
	return &Arena{
		kind:     kind,
		capacity: capacity,
		next:     1, // reserve 0 as "no address"
		blocks:   make(map[uintptr]*block),
	}
}

func (a *Arena) DetectKind() Kind { return a.kind }

func (a *Arena) Malloc(size uintptr) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if addr, ok := a.reuse(size); ok {
		return addr, nil
	}
	if a.used+size > a.capacity {
		return 0, policyerr.ErrBackendAllocFailed
	}
	addr := a.next
	a.next += size
	a.used += size
	a.blocks[addr] = &block{size: size}
	return addr, nil
}

// reuse pops the most recently freed block off a.free in LIFO order and
// hands it back if it is large enough for size. The caller holds a.mu.
func (a *Arena) reuse(size uintptr) (uintptr, bool) {
	n := len(a.free)
	if n == 0 {
		return 0, false
	}
	addr := a.free[n-1]
	b := a.blocks[addr]
	if b.size < size {
		return 0, false
	}
	a.free = a.free[:n-1]
	b.freed = false
	b.size = size
	a.used += size
	return addr, true
}

func (a *Arena) Calloc(size uintptr) (uintptr, error) {
	// Arena never backs synthetic addresses with real memory, so there is
	// nothing to zero; Calloc is Malloc plus the documented guarantee.
	return a.Malloc(size)
}

func (a *Arena) Realloc(addr uintptr, size uintptr) (uintptr, error) {
	a.mu.Lock()
	if addr == 0 {
		a.mu.Unlock()
		return a.Malloc(size)
	}
	b, ok := a.blocks[addr]
	if !ok || b.freed {
		a.mu.Unlock()
		return 0, policyerr.ErrUnknownAddress
	}
	if size <= b.size {
		a.used -= b.size - size
		b.size = size
		a.mu.Unlock()
		return addr, nil
	}
	b.freed = true
	a.used -= b.size
	a.free = append(a.free, addr)
	if newAddr, ok := a.reuse(size); ok {
		a.mu.Unlock()
		return newAddr, nil
	}
	if a.used+size > a.capacity {
		a.mu.Unlock()
		return 0, policyerr.ErrBackendAllocFailed
	}
	newAddr := a.next
	a.next += size
	a.used += size
	a.blocks[newAddr] = &block{size: size}
	a.mu.Unlock()
	return newAddr, nil
}

func (a *Arena) PosixMemalign(alignment uintptr, size uintptr) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return 0, policyerr.ErrConfigInvalid
	}
	if n := len(a.free); n > 0 {
		addr := a.free[n-1]
		b := a.blocks[addr]
		if b.size >= size && addr%alignment == 0 {
			a.free = a.free[:n-1]
			b.freed = false
			b.size = size
			a.used += size
			return addr, nil
		}
	}
	aligned := (a.next + alignment - 1) &^ (alignment - 1)
	pad := aligned - a.next
	if a.used+pad+size > a.capacity {
		return 0, policyerr.ErrBackendAllocFailed
	}
	a.next = aligned + size
	a.used += pad + size
	a.blocks[aligned] = &block{size: size}
	return aligned, nil
}

func (a *Arena) Free(addr uintptr) {
	if addr == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[addr]
	if !ok || b.freed {
		return
	}
	b.freed = true
	a.used -= b.size
	a.free = append(a.free, addr)
}

func (a *Arena) UsableSize(addr uintptr) (uintptr, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[addr]
	if !ok || b.freed {
		return 0, false
	}
	return b.size, true
}

// Used reports bytes currently allocated, for diagnostics/tests.
func (a *Arena) Used() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}
