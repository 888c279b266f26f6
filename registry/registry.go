// Package registry implements spec §4.4's TypeRegistry: a fingerprint→group
// index, an address→region ordered index, and the four mutation entry
// points (on_create, on_destroy, on_realloc, on_touch) invoked only by the
// RankingThread.
//
// Grounded on two teacher sources:
//   - the fingerprint→group index generalizes the teacher's
//     localidx.Hash (Robin Hood open addressing, parallel key/value
//     arrays, early-termination probing) from fixed-capacity uint32 keys
//     to growable uint64 keys with a removal path — the original has no
//     Remove because its keys are never retired; groups here are, so this
//     package adds backward-shift deletion, the standard Robin Hood
//     removal technique, and doubles capacity on a 75% load factor rather
//     than assuming a capacity upper bound is known upfront.
//   - the address→region index reuses wrtree.Tree with weight fixed at 1
//     per node and Floor for predecessor lookups, per SPEC_FULL.md §4/§7's
//     resolution of the original's "don't invent a second tree type" note.
package registry

import (
	"github.com/memkind-go/tiermem/eventqueue"
	"github.com/memkind-go/tiermem/hotness"
	"github.com/memkind-go/tiermem/internal/policyerr"
	"github.com/memkind-go/tiermem/ranking"
	"github.com/memkind-go/tiermem/wrtree"
)

// Group is a set of regions sharing an allocation-site fingerprint.
type Group struct {
	Fingerprint uint64
	TotalSize   uint64
	Est         hotness.Estimator
	bucket      uint64 // current Ranking key this group's weight is filed under
	live        bool   // false once released back to the freelist

	Callback    eventqueue.TouchCallback
	CallbackArg any
}

// Bucket returns the quantified-hotness key this group is currently filed
// under in Ranking.
func (g *Group) Bucket() uint64 { return g.bucket }

// Region is a live allocation tracked by the address index.
type Region struct {
	Start uintptr
	Size  uintptr
	Group int32 // handle into Registry.groups
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// fpHash is the growable Robin Hood fingerprint→group-handle index.
type fpHash struct {
	keys []uint64
	vals []int32
	used []bool
	mask uint64
	n    int
}

func newFPHash(capacityHint int) *fpHash {
	sz := nextPow2(capacityHint * 2)
	if sz < 8 {
		sz = 8
	}
	return &fpHash{
		keys: make([]uint64, sz),
		vals: make([]int32, sz),
		used: make([]bool, sz),
		mask: sz - 1,
	}
}

func nextPow2(n int) uint64 {
	s := uint64(1)
	for s < uint64(n) {
		s <<= 1
	}
	return s
}

func dist(i, home, mask uint64) uint64 {
	return (i + mask + 1 - home) & mask
}

func (h *fpHash) grow() {
	old := *h
	sz := (old.mask + 1) * 2
	h.keys = make([]uint64, sz)
	h.vals = make([]int32, sz)
	h.used = make([]bool, sz)
	h.mask = sz - 1
	h.n = 0
	for i, used := range old.used {
		if used {
			h.put(old.keys[i], old.vals[i])
		}
	}
}

func (h *fpHash) put(key uint64, val int32) {
	if (h.n+1)*4 >= int(h.mask+1)*3 { // load factor >= 0.75
		h.grow()
	}
	i := key & h.mask
	d := uint64(0)
	for {
		if !h.used[i] {
			h.keys[i], h.vals[i], h.used[i] = key, val, true
			h.n++
			return
		}
		if h.keys[i] == key {
			h.vals[i] = val
			return
		}
		kd := dist(i, h.keys[i]&h.mask, h.mask)
		if kd < d {
			key, h.keys[i] = h.keys[i], key
			val, h.vals[i] = h.vals[i], val
			d = kd
		}
		i = (i + 1) & h.mask
		d++
	}
}

func (h *fpHash) get(key uint64) (int32, bool) {
	i := key & h.mask
	d := uint64(0)
	for {
		if !h.used[i] {
			return 0, false
		}
		if h.keys[i] == key {
			return h.vals[i], true
		}
		kd := dist(i, h.keys[i]&h.mask, h.mask)
		if kd < d {
			return 0, false
		}
		i = (i + 1) & h.mask
		d++
	}
}

// remove deletes key via backward-shift deletion: each slot following the
// removed one is pulled back one position as long as doing so doesn't
// violate its own probe distance, which is the standard Robin Hood
// removal technique (the teacher's Hash never needed this since its keys
// are never retired).
func (h *fpHash) remove(key uint64) bool {
	i := key & h.mask
	d := uint64(0)
	for {
		if !h.used[i] {
			return false
		}
		if h.keys[i] == key {
			break
		}
		kd := dist(i, h.keys[i]&h.mask, h.mask)
		if kd < d {
			return false
		}
		i = (i + 1) & h.mask
		d++
	}
	h.n--
	for {
		next := (i + 1) & h.mask
		if !h.used[next] || dist(next, h.keys[next]&h.mask, h.mask) == 0 {
			h.used[i] = false
			return true
		}
		h.keys[i], h.vals[i] = h.keys[next], h.vals[next]
		i = next
	}
}

// Registry is spec §4.4's TypeRegistry.
type Registry struct {
	cfg  hotness.Config
	rank *ranking.Ranking

	fp     *fpHash
	groups []Group
	free   []int32

	addr *wrtree.Tree[uint64, Region]
}

// New creates a Registry backed by rank for hotness-bucket bookkeeping and
// cfg for hotness estimation.
func New(rank *ranking.Ranking, cfg hotness.Config) *Registry {
	return &Registry{
		cfg:  cfg,
		rank: rank,
		fp:   newFPHash(64),
		addr: wrtree.New[uint64, Region](cmpUint64),
	}
}

func (r *Registry) allocGroup(fp uint64) int32 {
	var h int32
	if n := len(r.free); n > 0 {
		h = r.free[n-1]
		r.free = r.free[:n-1]
		r.groups[h] = Group{Fingerprint: fp, live: true}
	} else {
		r.groups = append(r.groups, Group{Fingerprint: fp, live: true})
		h = int32(len(r.groups) - 1)
	}
	r.fp.put(fp, h)
	return h
}

func (r *Registry) releaseGroup(h int32) {
	r.groups[h].live = false
	r.fp.remove(r.groups[h].Fingerprint)
	r.free = append(r.free, h)
}

// Group returns the group for handle h. Valid only while h.live; callers
// within this package only ever hold handles momentarily within one
// operation, so no generation counter is needed.
func (r *Registry) Group(h int32) *Group { return &r.groups[h] }

// GroupByFingerprint looks up a group without creating it.
func (r *Registry) GroupByFingerprint(fp uint64) (*Group, bool) {
	h, ok := r.fp.get(fp)
	if !ok {
		return nil, false
	}
	return &r.groups[h], true
}

// OnCreate handles a CREATE_ADD event: obtain (or create) the group for fp,
// insert a region for addr/size, and update Ranking's bucket for the
// group's new total size.
func (r *Registry) OnCreate(fp uint64, addr uintptr, size uintptr) {
	h, ok := r.fp.get(fp)
	if !ok {
		h = r.allocGroup(fp)
	}
	g := &r.groups[h]
	oldSize := g.TotalSize
	g.TotalSize += uint64(size)
	bucket := hotness.Quantify(r.cfg, g.Est.F)
	if oldSize > 0 {
		r.rank.Remove(g.bucket, oldSize)
	}
	g.bucket = bucket
	r.rank.Add(bucket, g.TotalSize)

	r.addr.Put(uint64(addr), Region{Start: addr, Size: size, Group: h}, 1)
}

// OnDestroy handles a DESTROY_REMOVE event for addr.
func (r *Registry) OnDestroy(addr uintptr) error {
	region, ok := r.addr.Get(uint64(addr))
	if !ok {
		return policyerr.ErrUnknownAddress
	}
	r.addr.Remove(uint64(addr))

	g := &r.groups[region.Group]
	r.rank.Remove(g.bucket, uint64(region.Size))
	g.TotalSize -= uint64(region.Size)
	if g.TotalSize == 0 {
		r.releaseGroup(region.Group)
	}
	return nil
}

// OnRealloc handles a REALLOC event: equivalent to OnDestroy(oldAddr)
// followed by OnCreate(group.Fingerprint, newAddr, size) for the same
// group, per spec §4.4.
func (r *Registry) OnRealloc(oldAddr, newAddr uintptr, size uintptr) error {
	region, ok := r.addr.Get(uint64(oldAddr))
	if !ok {
		return policyerr.ErrUnknownAddress
	}
	fp := r.groups[region.Group].Fingerprint
	if err := r.OnDestroy(oldAddr); err != nil {
		return err
	}
	r.OnCreate(fp, newAddr, size)
	return nil
}

// OnTouch handles a TOUCH event: maps addr to its containing region via
// the address index's predecessor lookup, advances that region's group's
// hotness estimator, and re-buckets the group in Ranking if quantification
// moved it. Unmapped or stale (post-destroy) addresses are silently
// ignored, per spec §4.4/§9's resolution of the late-touch race.
//
// Returns the touched group's fingerprint and current bucket so a caller
// (RankingThread) can relay the updated classification into a policy's
// fast-path cache without a second address lookup; ok is false when the
// touch was ignored.
func (r *Registry) OnTouch(addr uintptr, ts int64) (fp uint64, bucket uint64, ok bool) {
	_, region, found := r.addr.Floor(uint64(addr))
	if !found {
		return 0, 0, false
	}
	if addr >= region.Start+region.Size {
		return 0, 0, false // addr falls past the end of its predecessor region
	}
	g := &r.groups[region.Group]
	oldBucket := g.bucket
	g.Est.Touch(r.cfg, ts)
	newBucket := hotness.Quantify(r.cfg, g.Est.F)
	if newBucket != oldBucket {
		r.rank.Remove(oldBucket, g.TotalSize)
		r.rank.Add(newBucket, g.TotalSize)
		g.bucket = newBucket
	}
	if g.Callback != nil {
		g.Callback(addr, g.CallbackArg)
	}
	return g.Fingerprint, g.bucket, true
}

// SetTouchCallback registers a diagnostics-only callback on the group
// containing addr. Silently ignored if addr is unmapped.
func (r *Registry) SetTouchCallback(addr uintptr, cb eventqueue.TouchCallback, arg any) {
	_, region, ok := r.addr.Floor(uint64(addr))
	if !ok || addr >= region.Start+region.Size {
		return
	}
	g := &r.groups[region.Group]
	g.Callback = cb
	g.CallbackArg = arg
}

// RegionCount returns the number of live regions tracked.
func (r *Registry) RegionCount() int { return r.addr.Len() }

// GroupCount returns the number of live groups tracked.
func (r *Registry) GroupCount() int { return len(r.groups) - len(r.free) }
