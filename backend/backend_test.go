package backend

import (
	"testing"

	"github.com/memkind-go/tiermem/internal/policyerr"
)

func TestMallocReturnsDistinctAddresses(t *testing.T) {
	a := NewArena(KindDefault, 4096)
	x, err := a.Malloc(64)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	y, err := a.Malloc(64)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if x == y {
		t.Fatalf("Malloc returned the same address twice: %#x", x)
	}
}

func TestMallocFailsPastCapacity(t *testing.T) {
	a := NewArena(KindDefault, 128)
	if _, err := a.Malloc(64); err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if _, err := a.Malloc(128); err != policyerr.ErrBackendAllocFailed {
		t.Fatalf("Malloc past capacity err = %v, want ErrBackendAllocFailed", err)
	}
}

func TestFreeThenUsableSizeReportsUnmapped(t *testing.T) {
	a := NewArena(KindDefault, 4096)
	addr, _ := a.Malloc(32)
	a.Free(addr)
	if _, ok := a.UsableSize(addr); ok {
		t.Fatalf("UsableSize reported a freed address as live")
	}
}

func TestReallocShrinksInPlace(t *testing.T) {
	a := NewArena(KindDefault, 4096)
	addr, _ := a.Malloc(64)
	addr2, err := a.Realloc(addr, 32)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	if addr2 != addr {
		t.Fatalf("Realloc to a smaller size moved the block: %#x -> %#x", addr, addr2)
	}
	size, ok := a.UsableSize(addr2)
	if !ok || size != 32 {
		t.Fatalf("UsableSize after shrink = %v, %v, want 32, true", size, ok)
	}
}

func TestReallocGrowingMovesAndFreesOld(t *testing.T) {
	a := NewArena(KindDefault, 4096)
	addr, _ := a.Malloc(32)
	addr2, err := a.Realloc(addr, 256)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	if addr2 == addr {
		t.Fatalf("Realloc growing a block did not move it")
	}
	if _, ok := a.UsableSize(addr); ok {
		t.Fatalf("old address still usable after growing Realloc")
	}
	size, ok := a.UsableSize(addr2)
	if !ok || size != 256 {
		t.Fatalf("UsableSize after grow = %v, %v, want 256, true", size, ok)
	}
}

func TestReallocOnUnknownAddressReturnsError(t *testing.T) {
	a := NewArena(KindDefault, 4096)
	if _, err := a.Realloc(0xDEAD, 32); err != policyerr.ErrUnknownAddress {
		t.Fatalf("Realloc unknown addr err = %v, want ErrUnknownAddress", err)
	}
}

func TestReallocWithNilAddressBehavesLikeMalloc(t *testing.T) {
	a := NewArena(KindDefault, 4096)
	addr, err := a.Realloc(0, 64)
	if err != nil || addr == 0 {
		t.Fatalf("Realloc(0, 64) = %#x, %v, want a fresh address", addr, err)
	}
}

func TestPosixMemalignReturnsAlignedAddress(t *testing.T) {
	a := NewArena(KindDefault, 4096)
	a.Malloc(3) // force a non-aligned cursor
	addr, err := a.PosixMemalign(64, 128)
	if err != nil {
		t.Fatalf("PosixMemalign: %v", err)
	}
	if addr%64 != 0 {
		t.Fatalf("PosixMemalign address %#x is not 64-byte aligned", addr)
	}
}

func TestPosixMemalignRejectsNonPowerOfTwoAlignment(t *testing.T) {
	a := NewArena(KindDefault, 4096)
	if _, err := a.PosixMemalign(3, 64); err != policyerr.ErrConfigInvalid {
		t.Fatalf("PosixMemalign alignment=3 err = %v, want ErrConfigInvalid", err)
	}
}

func TestDetectKindReturnsConfiguredKind(t *testing.T) {
	a := NewArena(KindHighBandwidth, 4096)
	if a.DetectKind() != KindHighBandwidth {
		t.Fatalf("DetectKind() = %v, want KindHighBandwidth", a.DetectKind())
	}
}

func TestMallocReusesFreedAddressLIFO(t *testing.T) {
	a := NewArena(KindDefault, 256)
	x, _ := a.Malloc(64)
	y, _ := a.Malloc(64)
	a.Free(x)
	a.Free(y)
	// y was freed last, so it must come back first.
	if got, _ := a.Malloc(64); got != y {
		t.Fatalf("Malloc after two frees = %#x, want most-recently-freed %#x", got, y)
	}
	if got, _ := a.Malloc(64); got != x {
		t.Fatalf("Malloc after reuse = %#x, want %#x", got, x)
	}
}

func TestMallocSkipsFreedBlockTooSmall(t *testing.T) {
	a := NewArena(KindDefault, 256)
	x, _ := a.Malloc(16)
	a.Free(x)
	addr, err := a.Malloc(128)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if addr == x {
		t.Fatalf("Malloc reused a freed block too small for the request")
	}
}

func TestDoubleFreeIsANoop(t *testing.T) {
	a := NewArena(KindDefault, 4096)
	addr, _ := a.Malloc(32)
	a.Free(addr)
	a.Free(addr) // must not panic or double-decrement Used
	if a.Used() != 0 {
		t.Fatalf("Used() = %d after double free, want 0", a.Used())
	}
}
