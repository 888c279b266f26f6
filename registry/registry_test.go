package registry

import (
	"testing"

	"github.com/memkind-go/tiermem/hotness"
	"github.com/memkind-go/tiermem/internal/policyerr"
	"github.com/memkind-go/tiermem/ranking"
)

func newTestRegistry() (*Registry, *ranking.Ranking) {
	rank := ranking.New()
	cfg := hotness.DefaultConfig()
	return New(rank, cfg), rank
}

func TestOnCreateTracksGroupAndRegion(t *testing.T) {
	reg, rank := newTestRegistry()
	reg.OnCreate(0xABC, 0x1000, 64)

	g, ok := reg.GroupByFingerprint(0xABC)
	if !ok {
		t.Fatalf("group for fingerprint 0xABC not found")
	}
	if g.TotalSize != 64 {
		t.Fatalf("TotalSize = %d, want 64", g.TotalSize)
	}
	if reg.RegionCount() != 1 {
		t.Fatalf("RegionCount() = %d, want 1", reg.RegionCount())
	}
	if rank.TotalSize() != 64 {
		t.Fatalf("rank.TotalSize() = %d, want 64", rank.TotalSize())
	}
}

func TestOnCreateAggregatesSameFingerprint(t *testing.T) {
	reg, rank := newTestRegistry()
	reg.OnCreate(0xABC, 0x1000, 64)
	reg.OnCreate(0xABC, 0x2000, 32)

	g, _ := reg.GroupByFingerprint(0xABC)
	if g.TotalSize != 96 {
		t.Fatalf("TotalSize = %d, want 96", g.TotalSize)
	}
	if reg.GroupCount() != 1 {
		t.Fatalf("GroupCount() = %d, want 1 (same fingerprint)", reg.GroupCount())
	}
	if rank.TotalSize() != 96 {
		t.Fatalf("rank.TotalSize() = %d, want 96", rank.TotalSize())
	}
}

func TestOnDestroyRemovesRegionAndShrinksGroup(t *testing.T) {
	reg, rank := newTestRegistry()
	reg.OnCreate(0xABC, 0x1000, 64)
	reg.OnCreate(0xABC, 0x2000, 32)

	if err := reg.OnDestroy(0x1000); err != nil {
		t.Fatalf("OnDestroy: %v", err)
	}
	if reg.RegionCount() != 1 {
		t.Fatalf("RegionCount() = %d, want 1", reg.RegionCount())
	}
	g, ok := reg.GroupByFingerprint(0xABC)
	if !ok || g.TotalSize != 32 {
		t.Fatalf("group TotalSize = %v, %v, want 32, true", g, ok)
	}
	if rank.TotalSize() != 32 {
		t.Fatalf("rank.TotalSize() = %d, want 32", rank.TotalSize())
	}
}

func TestOnDestroyDeletesGroupWhenEmpty(t *testing.T) {
	reg, rank := newTestRegistry()
	reg.OnCreate(0xABC, 0x1000, 64)
	if err := reg.OnDestroy(0x1000); err != nil {
		t.Fatalf("OnDestroy: %v", err)
	}
	if _, ok := reg.GroupByFingerprint(0xABC); ok {
		t.Fatalf("group for 0xABC still present after total_size reached 0")
	}
	if reg.GroupCount() != 0 {
		t.Fatalf("GroupCount() = %d, want 0", reg.GroupCount())
	}
	if rank.TotalSize() != 0 {
		t.Fatalf("rank.TotalSize() = %d, want 0", rank.TotalSize())
	}
}

func TestOnDestroyUnknownAddressReturnsError(t *testing.T) {
	reg, _ := newTestRegistry()
	if err := reg.OnDestroy(0xDEAD); err != policyerr.ErrUnknownAddress {
		t.Fatalf("OnDestroy unknown addr err = %v, want ErrUnknownAddress", err)
	}
}

func TestOnReallocPreservesGroupIdentity(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.OnCreate(0xABC, 0x1000, 64)
	if err := reg.OnRealloc(0x1000, 0x5000, 128); err != nil {
		t.Fatalf("OnRealloc: %v", err)
	}
	if _, ok := reg.GroupByFingerprint(0xABC); !ok {
		t.Fatalf("group for 0xABC missing after realloc")
	}
	g, _ := reg.GroupByFingerprint(0xABC)
	if g.TotalSize != 128 {
		t.Fatalf("TotalSize after realloc = %d, want 128", g.TotalSize)
	}
	if err := reg.OnDestroy(0x1000); err != policyerr.ErrUnknownAddress {
		t.Fatalf("old address should be unmapped after realloc, got err=%v", err)
	}
	if err := reg.OnDestroy(0x5000); err != nil {
		t.Fatalf("new address should be mapped after realloc: %v", err)
	}
}

func TestOnTouchFindsRegionByPredecessor(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.OnCreate(0xABC, 0x1000, 256) // region spans [0x1000, 0x1100)
	reg.OnTouch(0x1080, 100)         // inside the region, not at its start

	g, _ := reg.GroupByFingerprint(0xABC)
	if g.Est.N1 == 0 {
		t.Fatalf("touch did not advance the group's hotness estimator")
	}
}

func TestOnTouchIgnoresAddressPastRegionEnd(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.OnCreate(0xABC, 0x1000, 16) // region spans [0x1000, 0x1010)
	reg.OnTouch(0x2000, 100)        // far past the region's end

	g, _ := reg.GroupByFingerprint(0xABC)
	if g.Est.N1 != 0 {
		t.Fatalf("touch past region end was not ignored")
	}
}

func TestOnTouchIgnoresUnmappedAddress(t *testing.T) {
	reg, _ := newTestRegistry()
	_, _, ok := reg.OnTouch(0x1234, 100) // nothing registered at all; must not panic
	if ok {
		t.Fatalf("OnTouch on unmapped address returned ok=true")
	}
}

func TestOnTouchReturnsFingerprintAndBucket(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.OnCreate(0xABC, 0x1000, 64)
	fp, _, ok := reg.OnTouch(0x1010, 100)
	if !ok {
		t.Fatalf("OnTouch on a live region returned ok=false")
	}
	if fp != 0xABC {
		t.Fatalf("OnTouch fp = %#x, want 0xABC", fp)
	}
}

func TestSetTouchCallbackFiresOnTouch(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.OnCreate(0xABC, 0x1000, 64)

	var gotAddr uintptr
	var gotArg any
	reg.SetTouchCallback(0x1000, func(addr uintptr, arg any) {
		gotAddr, gotArg = addr, arg
	}, "diag")

	reg.OnTouch(0x1010, 100)
	if gotAddr != 0x1010 {
		t.Fatalf("callback addr = %#x, want 0x1010", gotAddr)
	}
	if gotArg != "diag" {
		t.Fatalf("callback arg = %v, want diag", gotArg)
	}
}

func TestFingerprintHashGrowsAndSurvivesManyGroups(t *testing.T) {
	reg, rank := newTestRegistry()
	const n = 2000
	for i := uint64(0); i < n; i++ {
		reg.OnCreate(i, uintptr(0x10000+i*64), 64)
	}
	if reg.GroupCount() != n {
		t.Fatalf("GroupCount() = %d, want %d", reg.GroupCount(), n)
	}
	for i := uint64(0); i < n; i++ {
		g, ok := reg.GroupByFingerprint(i)
		if !ok || g.TotalSize != 64 {
			t.Fatalf("group %d = %v, %v, want 64, true", i, g, ok)
		}
	}
	if rank.TotalSize() != n*64 {
		t.Fatalf("rank.TotalSize() = %d, want %d", rank.TotalSize(), n*64)
	}
}

func TestFingerprintHashRemoveThenReinsert(t *testing.T) {
	reg, _ := newTestRegistry()
	for i := uint64(0); i < 100; i++ {
		reg.OnCreate(i, uintptr(0x10000+i*64), 64)
	}
	for i := uint64(0); i < 100; i++ {
		reg.OnDestroy(uintptr(0x10000 + i*64))
	}
	if reg.GroupCount() != 0 {
		t.Fatalf("GroupCount() = %d, want 0 after destroying everything", reg.GroupCount())
	}
	reg.OnCreate(42, 0x99999, 8)
	g, ok := reg.GroupByFingerprint(42)
	if !ok || g.TotalSize != 8 {
		t.Fatalf("re-inserted group = %v, %v, want 8, true", g, ok)
	}
}
