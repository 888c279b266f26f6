// Package policy implements spec §4.6's three classification/dispatch
// policies as a closed tagged variant, per Design Notes §9's "model as a
// tagged variant Policy{Static,Dynamic,DataHotness}... do not rely on
// inheritance chains": one Kind enum, one Policy interface with
// GetKind/PostAlloc/UpdateConfig, and three concrete implementations.
//
// Grounded on _examples/original_source/src/memkind_memtier.c's
// memtier_builder/MEMTIER_POLICY_* switch-on-kind dispatch for the overall
// shape, and on the teacher's plain-struct-method style (no embedding- or
// interface-heavy inheritance) throughout.
package policy

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/memkind-go/tiermem/eventqueue"
	"github.com/memkind-go/tiermem/fingerprint"
	"github.com/memkind-go/tiermem/internal/policyerr"
	"github.com/memkind-go/tiermem/ranking"
)

// Kind tags which concrete policy a Policy value is.
type Kind uint8

const (
	StaticRatio Kind = iota
	DynamicThreshold
	DataHotness
)

// Class is the outcome of a classification decision.
type Class uint8

const (
	Cold Class = iota
	Hot
	Unknown
)

// Policy is the interface every concrete policy satisfies. GetKind reports
// the tag; PostAlloc runs after a successful backend allocation to notify
// bookkeeping (enqueue events, bump counters); UpdateConfig applies a
// string-keyed option change (spec §6).
type Policy interface {
	GetKind() Kind
	// Decide returns the tier index (into the builder's tier list) that a
	// request of size bytes should be routed to, plus an opaque token the
	// caller must pass back into PostAlloc unmodified. DataHotness uses
	// the token to carry the fingerprint it already computed so PostAlloc
	// never repeats that work (a uint64, not any, so passing it never
	// boxes onto the heap); other policies return 0.
	Decide(size uintptr) (tier int, token uint64)
	// PostAlloc is called with the address the backend returned, after a
	// successful allocation at the chosen tier.
	PostAlloc(tier int, addr uintptr, size uintptr, token uint64)
	UpdateConfig(key string, val any) error
}

// --- StaticRatio -----------------------------------------------------------

// bucketShard is one of the K sharded per-thread allocation counters spec
// §5 describes ("sharded across K buckets keyed by a mix of the thread id;
// a bucket exceeding a flush threshold atomically transfers its delta to a
// global counter to bound contention").
type bucketShard struct {
	_     [56]byte
	delta atomic.Int64
	_     [56]byte
}

// StaticRatioPolicy routes requests to keep each tier's accumulated size
// close to its configured target ratio of the total, without consulting
// hotness at all.
type StaticRatioPolicy struct {
	ratios  []float64 // per-tier target share, sums to 1
	totals  []atomic.Int64
	shards  []bucketShard
	flushAt int64
}

// NewStaticRatio creates a StaticRatioPolicy for tierCount tiers with the
// given target ratios (must sum to ~1, caller's responsibility per
// ConfigInvalid at builder stage).
func NewStaticRatio(ratios []float64, shardCount int) *StaticRatioPolicy {
	if shardCount <= 0 {
		shardCount = 16
	}
	return &StaticRatioPolicy{
		ratios:  append([]float64(nil), ratios...),
		totals:  make([]atomic.Int64, len(ratios)),
		shards:  make([]bucketShard, shardCount*len(ratios)),
		flushAt: 1 << 20, // flush a shard's delta upstream every 1MiB of drift
	}
}

func (p *StaticRatioPolicy) GetKind() Kind { return StaticRatio }

// Decide picks the tier whose current accumulated-size ratio is furthest
// below its target, i.e. the most under-served tier.
//
//go:nosplit
func (p *StaticRatioPolicy) Decide(size uintptr) (int, uint64) {
	var total int64
	for i := range p.totals {
		total += p.totals[i].Load()
	}
	best, bestDeficit := 0, -1.0
	for i, target := range p.ratios {
		cur := float64(p.totals[i].Load())
		var curRatio float64
		if total > 0 {
			curRatio = cur / float64(total)
		}
		deficit := target - curRatio
		if deficit > bestDeficit {
			bestDeficit, best = deficit, i
		}
	}
	return best, 0
}

// shardFor picks a bucketShard by mixing the address of a fresh stack
// local. There is no portable goroutine/thread id in Go, so this stands in
// for the teacher's thread-id mix: a stack address is cheap to obtain and
// stable for the duration of one call, which is all sharding needs here.
func shardFor(shards []bucketShard) *bucketShard {
	var probe int
	idx := fingerprint.Mix64(uint64(uintptr(unsafe.Pointer(&probe)))) % uint64(len(shards))
	return &shards[idx]
}

// PostAlloc records size against tier's shard, flushing to the global
// counter once the shard's drift exceeds flushAt (spec §5).
//
//go:nosplit
func (p *StaticRatioPolicy) PostAlloc(tier int, addr uintptr, size uintptr, token uint64) {
	per := len(p.shards) / len(p.totals)
	s := shardFor(p.shards[tier*per : (tier+1)*per])
	d := s.delta.Add(int64(size))
	if d >= p.flushAt || d <= -p.flushAt {
		if s.delta.CompareAndSwap(d, 0) {
			p.totals[tier].Add(d)
		}
	}
}

func (p *StaticRatioPolicy) UpdateConfig(key string, val any) error {
	return policyerr.ErrConfigInvalid
}

// --- DynamicThreshold -------------------------------------------------------

// SizeThreshold is one entry of spec §6's
// dynamic_threshold.thresholds[i].{val,min,max}.
type SizeThreshold struct {
	Val, Min, Max uintptr
}

// DynamicThresholdPolicy partitions requests by size using adjustable
// thresholds, updated every CheckCnt operations if a tier's share of the
// requests counted since the last check drifts past Trigger.
type DynamicThresholdPolicy struct {
	thresholds []SizeThreshold
	checkCnt   uint64
	trigger    float64
	degree     float64

	ops    atomic.Uint64
	counts []atomic.Uint64 // per-tier request counts since last check
}

// NewDynamicThreshold creates a DynamicThresholdPolicy for the given
// thresholds (ascending, non-overlapping val bounds per tier).
func NewDynamicThreshold(thresholds []SizeThreshold, checkCnt uint64, trigger, degree float64) *DynamicThresholdPolicy {
	return &DynamicThresholdPolicy{
		thresholds: append([]SizeThreshold(nil), thresholds...),
		checkCnt:   checkCnt,
		trigger:    trigger,
		degree:     degree,
		counts:     make([]atomic.Uint64, len(thresholds)),
	}
}

func (p *DynamicThresholdPolicy) GetKind() Kind { return DynamicThreshold }

//go:nosplit
func (p *DynamicThresholdPolicy) Decide(size uintptr) (int, uint64) {
	tier := len(p.thresholds) - 1
	for i, th := range p.thresholds {
		if size <= th.Val {
			tier = i
			break
		}
	}
	return tier, 0
}

func (p *DynamicThresholdPolicy) PostAlloc(tier int, addr uintptr, size uintptr, token uint64) {
	p.counts[tier].Add(1)
	if p.ops.Add(1)%p.checkCnt == 0 {
		p.rebalance()
	}
}

// rebalance nudges each threshold.Val toward its Min/Max by Degree when the
// observed request-count ratio between adjacent tiers drifts past Trigger
// (spec §4.6/§6). A minimal, directionally-correct implementation of the
// original's "adjustable thresholds updated every check_cnt operations".
func (p *DynamicThresholdPolicy) rebalance() {
	var total uint64
	for i := range p.counts {
		total += p.counts[i].Load()
	}
	if total == 0 {
		return
	}
	for i := range p.thresholds {
		th := &p.thresholds[i]
		share := float64(p.counts[i].Load()) / float64(total)
		target := 1.0 / float64(len(p.thresholds))
		if share-target > p.trigger {
			step := uintptr(float64(th.Val) * p.degree)
			if th.Val > step && th.Val-step >= th.Min {
				th.Val -= step
			}
		} else if target-share > p.trigger {
			step := uintptr(float64(th.Val) * p.degree)
			if th.Val+step <= th.Max {
				th.Val += step
			}
		}
		p.counts[i].Store(0)
	}
}

func (p *DynamicThresholdPolicy) UpdateConfig(key string, val any) error {
	switch key {
	case "dynamic_threshold.check_cnt":
		n, ok := val.(uint64)
		if !ok || n == 0 {
			return policyerr.ErrConfigInvalid
		}
		p.checkCnt = n
	case "dynamic_threshold.trigger":
		v, ok := val.(float64)
		if !ok || v < 0 {
			return policyerr.ErrConfigInvalid
		}
		p.trigger = v
	case "dynamic_threshold.degree":
		v, ok := val.(float64)
		if !ok || v < 0 || v > 1 {
			return policyerr.ErrConfigInvalid
		}
		p.degree = v
	default:
		return policyerr.ErrConfigInvalid
	}
	return nil
}

// --- DataHotness -------------------------------------------------------------

// DataHotnessPolicy is spec §4.6's primary policy: classify by hotness,
// route HOT|UNKNOWN to the fast tier and COLD to the slow tier, and
// enqueue events describing the decision for RankingThread to consume.
//
// FastTier and SlowTier are the two tier indices this policy routes
// between; DataHotness requires exactly two tiers (spec §6).
type DataHotnessPolicy struct {
	FastTier, SlowTier int

	rank  *ranking.Ranking
	queue *eventqueue.Queue

	// known caches the most recent classification per fingerprint so
	// Decide doesn't need to consult Ranking's tree directly on the fast
	// path — only the atomic threshold and this cache, both lock-free.
	known *classCache
}

// NewDataHotness creates a DataHotnessPolicy reading threshold decisions
// from rank and enqueuing lifecycle events onto queue.
func NewDataHotness(rank *ranking.Ranking, queue *eventqueue.Queue, fastTier, slowTier int) *DataHotnessPolicy {
	return &DataHotnessPolicy{
		FastTier: fastTier,
		SlowTier: slowTier,
		rank:     rank,
		queue:    queue,
		known:    newClassCache(1024),
	}
}

func (p *DataHotnessPolicy) GetKind() Kind { return DataHotness }

// Decide derives the fingerprint for the current call site and size once,
// routes HOT|UNKNOWN to FastTier and COLD to SlowTier, and returns the
// fingerprint as Decide's token so PostAlloc can reuse it instead of
// walking the stack a second time. Performs no locking and no dynamic
// allocation beyond the backend call that follows, per spec §4.6's
// required invariant.
//
//go:nosplit
func (p *DataHotnessPolicy) Decide(size uintptr) (int, uint64) {
	fp := fingerprint.Compute(2, fingerprint.MaxDepth, size)
	class := p.classify(fp)
	if class == Cold {
		return p.SlowTier, fp
	}
	return p.FastTier, fp
}

//go:nosplit
func (p *DataHotnessPolicy) classify(fp uint64) Class {
	bucket, ok := p.known.get(fp)
	if !ok {
		return Unknown // first-touch: UNKNOWN treated as HOT for warm-up
	}
	if p.rank.IsHot(bucket) {
		return Hot
	}
	return Cold
}

// PostAlloc enqueues a CREATE_ADD event for the new region, reusing the
// fingerprint Decide already computed via token. RankingThread updates the
// cache classify reads from via LearnBucket as it consumes
// TOUCH/CREATE_ADD events and periodically recomputes the threshold.
//
//go:nosplit
func (p *DataHotnessPolicy) PostAlloc(tier int, addr uintptr, size uintptr, token uint64) {
	p.queue.Push(eventqueue.Event{Kind: eventqueue.CreateAdd, Fingerprint: token, Addr: addr, Size: size})
}

// Realloc enqueues a REALLOC event; Free enqueues DESTROY_REMOVE. Neither
// waits for RankingThread to process the event (spec §4.6).
func (p *DataHotnessPolicy) Realloc(oldAddr, newAddr uintptr, size uintptr) {
	p.queue.Push(eventqueue.Event{Kind: eventqueue.Realloc, Addr: newAddr, OldAddr: oldAddr, Size: size})
}

func (p *DataHotnessPolicy) Free(addr uintptr) {
	p.queue.Push(eventqueue.Event{Kind: eventqueue.DestroyRemove, Addr: addr})
}

// LearnBucket is called by RankingThread to publish a fingerprint's
// current quantified-hotness bucket into the fast-path cache Decide reads.
func (p *DataHotnessPolicy) LearnBucket(fp uint64, bucket uint64) {
	p.known.put(fp, bucket)
}

func (p *DataHotnessPolicy) UpdateConfig(key string, val any) error {
	return policyerr.ErrConfigInvalid // DataHotness has no string-keyed options
}

// classCache is a small fixed-capacity, lock-free-for-readers fingerprint
// -> bucket cache. Writers (RankingThread, singular) use a plain mutex;
// readers (any allocating goroutine) take none, accepting a possibly
// slightly stale bucket value — matching spec §5's "hot_threshold is read
// with relaxed ordering; stale reads are acceptable".
type classCache struct {
	mu     sync.Mutex
	mask   uint64
	keys   []uint64
	vals   []uint64
	filled []atomic.Bool
}

func newClassCache(capacity int) *classCache {
	sz := uint64(1)
	for sz < uint64(capacity) {
		sz <<= 1
	}
	return &classCache{
		mask:   sz - 1,
		keys:   make([]uint64, sz),
		vals:   make([]uint64, sz),
		filled: make([]atomic.Bool, sz),
	}
}

//go:nosplit
func (c *classCache) get(fp uint64) (uint64, bool) {
	i := fp & c.mask
	if !c.filled[i].Load() {
		return 0, false
	}
	if c.keys[i] != fp {
		return 0, false // collision: treat as unknown rather than probing, fast path stays O(1)
	}
	return c.vals[i], true
}

func (c *classCache) put(fp, bucket uint64) {
	c.mu.Lock()
	i := fp & c.mask
	c.keys[i] = fp
	c.vals[i] = bucket
	c.filled[i].Store(true)
	c.mu.Unlock()
}
