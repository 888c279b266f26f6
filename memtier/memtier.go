// Package memtier is the client-facing surface of spec §6: a Builder that
// assembles tiers and a Policy into a Memory, and Memory itself exposing
// Malloc/Calloc/Realloc/Free/PosixMemalign/UsableSize against whichever
// tier the configured policy routes a request to.
//
// Grounded on _examples/original_source/src/memkind_memtier.c's
// memtier_builder_new/memtier_builder_add_tier/memtier_builder_construct
// lifecycle, and on the teacher's main.go phased-construction idiom for
// Describe's diagnostic logging.
package memtier

import (
	"strconv"
	"strings"
	"time"

	"github.com/memkind-go/tiermem/backend"
	"github.com/memkind-go/tiermem/eventqueue"
	"github.com/memkind-go/tiermem/hotness"
	"github.com/memkind-go/tiermem/internal/config"
	"github.com/memkind-go/tiermem/internal/control"
	"github.com/memkind-go/tiermem/internal/dlog"
	"github.com/memkind-go/tiermem/internal/policyerr"
	"github.com/memkind-go/tiermem/policy"
	"github.com/memkind-go/tiermem/ranking"
	"github.com/memkind-go/tiermem/rankingthread"
	"github.com/memkind-go/tiermem/registry"
)

// tierSpec is one AddTier call's recorded configuration, validated only
// once Construct is invoked.
type tierSpec struct {
	backendID int
	allocator backend.Allocator
	ratio     float64
}

// Builder assembles a Memory. Mirrors memtier_builder's add-tier-then-
// construct two-phase API rather than a single large constructor, since
// tier count requirements differ per policy kind and can't be validated
// until every AddTier call has happened.
type Builder struct {
	kind policy.Kind
	tiers []tierSpec

	// DynamicThreshold-only construction options; ignored otherwise.
	thresholds     []dynamicThresholdOpt
	checkCnt       uint64
	trigger, degree float64

	// RankingThread tuning, used only when kind == policy.DataHotness.
	rtConfig rankingthread.Config
	hotCfg   hotness.Config
	queueCap int
}

// dynamicThresholdOpt mirrors spec §6's dynamic_threshold.thresholds[i].
type dynamicThresholdOpt struct {
	Val, Min, Max uintptr
}

// NewBuilder starts a Builder targeting the given policy kind.
func NewBuilder(kind policy.Kind) *Builder {
	return &Builder{
		kind:     kind,
		checkCnt: 1000,
		trigger:  0.1,
		degree:   0.1,
		rtConfig: rankingthread.DefaultConfig(),
		hotCfg:   hotness.DefaultConfig(),
		queueCap: 4096,
	}
}

// AddTier registers one backend as a tier, at the given target ratio (used
// only by StaticRatio; other policies ignore it but still record the
// backend for construction).
func (b *Builder) AddTier(id int, alloc backend.Allocator, ratio float64) *Builder {
	b.tiers = append(b.tiers, tierSpec{backendID: id, allocator: alloc, ratio: ratio})
	return b
}

// SetDynamicThresholds configures DynamicThreshold's per-tier size
// boundaries; ignored by other policy kinds.
func (b *Builder) SetDynamicThresholds(thresholds []dynamicThresholdOpt, checkCnt uint64, trigger, degree float64) *Builder {
	b.thresholds = thresholds
	b.checkCnt, b.trigger, b.degree = checkCnt, trigger, degree
	return b
}

// SetDynamicThresholdsJSON parses data as spec §6's dynamic_threshold JSON
// configuration document (internal/config.ParseDynamicThreshold) and applies
// it the same way SetDynamicThresholds would; ignored by other policy kinds.
func (b *Builder) SetDynamicThresholdsJSON(data []byte) error {
	doc, err := config.ParseDynamicThreshold(data)
	if err != nil {
		return err
	}
	opts := make([]dynamicThresholdOpt, len(doc.Thresholds))
	for i, t := range doc.Thresholds {
		opts[i] = dynamicThresholdOpt{Val: t.Val, Min: t.Min, Max: t.Max}
	}
	b.SetDynamicThresholds(opts, doc.CheckCnt, doc.Trigger, doc.Degree)
	return nil
}

// SetStaticRatiosJSON parses data as spec §6's static_ratio JSON
// configuration document (internal/config.ParseStaticRatio) and overwrites
// each already-registered tier's target ratio, in AddTier order. Must be
// called after every AddTier call it's meant to apply to.
func (b *Builder) SetStaticRatiosJSON(data []byte) error {
	doc, err := config.ParseStaticRatio(data)
	if err != nil {
		return err
	}
	if len(doc.Ratios) != len(b.tiers) {
		return policyerr.ErrConfigInvalid
	}
	for i, r := range doc.Ratios {
		b.tiers[i].ratio = r
	}
	return nil
}

// SetHotnessConfig overrides the default two-window EWMA configuration
// used by the RankingThread built for DataHotness.
func (b *Builder) SetHotnessConfig(cfg hotness.Config) *Builder {
	b.hotCfg = cfg
	return b
}

// SetQueueCapacity overrides the default EventQueue capacity used by
// DataHotness (rounded up to a power of two).
func (b *Builder) SetQueueCapacity(capacity int) *Builder {
	b.queueCap = capacity
	return b
}

// Describe renders the builder's pending configuration for startup
// logging, mirroring memkind_memtier.c's print_builder diagnostic dump
// (SPEC_FULL.md §13).
func (b *Builder) Describe() string {
	var sb strings.Builder
	sb.WriteString("policy=")
	switch b.kind {
	case policy.StaticRatio:
		sb.WriteString("static_ratio")
	case policy.DynamicThreshold:
		sb.WriteString("dynamic_threshold")
	case policy.DataHotness:
		sb.WriteString("data_hotness")
	}
	sb.WriteString(" tiers=")
	sb.WriteString(strconv.Itoa(len(b.tiers)))
	for _, ts := range b.tiers {
		sb.WriteString(" [id=")
		sb.WriteString(strconv.Itoa(ts.backendID))
		sb.WriteString(" kind=")
		sb.WriteString(ts.allocator.DetectKind().String())
		sb.WriteString(" ratio=")
		sb.WriteString(strconv.FormatFloat(ts.ratio, 'f', 3, 64))
		sb.WriteString("]")
	}
	return sb.String()
}

// Construct validates tier counts against the policy kind (spec §6) and
// returns an assembled Memory, starting a RankingThread when kind is
// DataHotness.
func (b *Builder) Construct() (*Memory, error) {
	if len(b.tiers) == 0 {
		return nil, policyerr.ErrConfigInvalid
	}
	switch b.kind {
	case policy.StaticRatio:
		if len(b.tiers) < 1 {
			return nil, policyerr.ErrConfigInvalid
		}
		var sum float64
		ratios := make([]float64, len(b.tiers))
		for i, ts := range b.tiers {
			ratios[i] = ts.ratio
			sum += ts.ratio
		}
		if len(b.tiers) > 1 && (sum < 0.99 || sum > 1.01) {
			return nil, policyerr.ErrConfigInvalid
		}
		return b.build(policy.NewStaticRatio(ratios, 16), nil, nil, nil, nil)

	case policy.DynamicThreshold:
		if len(b.tiers) < 2 {
			return nil, policyerr.ErrConfigInvalid
		}
		if len(b.thresholds) != len(b.tiers) {
			return nil, policyerr.ErrConfigInvalid
		}
		p := policy.NewDynamicThreshold(toSizeThresholds(b.thresholds), b.checkCnt, b.trigger, b.degree)
		return b.build(p, nil, nil, nil, nil)

	case policy.DataHotness:
		if len(b.tiers) != 2 {
			return nil, policyerr.ErrConfigInvalid
		}
		rank := ranking.New()
		queue := eventqueue.New(b.queueCap)
		reg := registry.New(rank, b.hotCfg)
		p := policy.NewDataHotness(rank, queue, 0, 1)

		ctrl := control.New(200 * time.Millisecond)
		rtCfg := b.rtConfig
		rtCfg.OnBucketLearned = p.LearnBucket
		th := rankingthread.New(rtCfg, queue, reg, rank, ctrl)

		return b.build(p, queue, rank, ctrl, th)

	default:
		return nil, policyerr.ErrConfigInvalid
	}
}

func (b *Builder) build(p policy.Policy, queue *eventqueue.Queue, rank *ranking.Ranking, ctrl *control.Group, rt *rankingthread.Thread) (*Memory, error) {
	allocs := make([]backend.Allocator, len(b.tiers))
	ids := make([]int, len(b.tiers))
	for i, ts := range b.tiers {
		allocs[i], ids[i] = ts.allocator, ts.backendID
	}
	m := &Memory{
		policy: p,
		tiers:  allocs,
		ids:    ids,
		queue:  queue,
		rank:   rank,
		ctrl:   ctrl,
		rt:     rt,
	}
	if rt != nil {
		go rt.Run()
	}
	dlog.Message("MEMTIER", "constructed: "+b.Describe())
	return m, nil
}

func toSizeThresholds(opts []dynamicThresholdOpt) []policy.SizeThreshold {
	out := make([]policy.SizeThreshold, len(opts))
	for i, o := range opts {
		out[i] = policy.SizeThreshold{Val: o.Val, Min: o.Min, Max: o.Max}
	}
	return out
}

// Memory is the constructed, ready-to-use tiered allocator: spec §6's
// client-visible type.
type Memory struct {
	policy policy.Policy
	tiers  []backend.Allocator
	ids    []int

	// Present only when policy is DataHotness.
	queue *eventqueue.Queue
	rank  *ranking.Ranking
	ctrl  *control.Group
	rt    *rankingthread.Thread

	// addrTier remembers which tier an address lives on, so Realloc/Free
	// can route to the right backend without re-running Decide.
	addrTier map[uintptr]int
}

func (m *Memory) ensureIndex() {
	if m.addrTier == nil {
		m.addrTier = make(map[uintptr]int)
	}
}

// Malloc routes size to whichever tier the configured policy selects, and
// notifies the policy of the outcome via PostAlloc.
func (m *Memory) Malloc(size uintptr) (uintptr, error) {
	tier, token := m.policy.Decide(size)
	addr, err := m.tiers[tier].Malloc(size)
	if err != nil {
		return 0, err
	}
	m.policy.PostAlloc(tier, addr, size, token)
	m.ensureIndex()
	m.addrTier[addr] = tier
	return addr, nil
}

// Calloc behaves like Malloc but requests zero-initialized memory.
func (m *Memory) Calloc(size uintptr) (uintptr, error) {
	tier, token := m.policy.Decide(size)
	addr, err := m.tiers[tier].Calloc(size)
	if err != nil {
		return 0, err
	}
	m.policy.PostAlloc(tier, addr, size, token)
	m.ensureIndex()
	m.addrTier[addr] = tier
	return addr, nil
}

// PosixMemalign requests aligned memory from the tier the policy selects
// for size.
func (m *Memory) PosixMemalign(alignment, size uintptr) (uintptr, error) {
	tier, token := m.policy.Decide(size)
	addr, err := m.tiers[tier].PosixMemalign(alignment, size)
	if err != nil {
		return 0, err
	}
	m.policy.PostAlloc(tier, addr, size, token)
	m.ensureIndex()
	m.addrTier[addr] = tier
	return addr, nil
}

// Realloc resizes addr through the backend of whichever tier it currently
// lives on; the block may move, in which case the new address is returned.
// If policy is DataHotness, also notifies it so RankingThread relocates
// the corresponding TypeRegistry region.
func (m *Memory) Realloc(addr uintptr, size uintptr) (uintptr, error) {
	m.ensureIndex()
	tier, ok := m.addrTier[addr]
	if !ok {
		return 0, policyerr.ErrUnknownAddress
	}
	newAddr, err := m.tiers[tier].Realloc(addr, size)
	if err != nil {
		return 0, err
	}
	delete(m.addrTier, addr)
	m.addrTier[newAddr] = tier
	if dh, ok := m.policy.(*policy.DataHotnessPolicy); ok {
		dh.Realloc(addr, newAddr, size)
	}
	return newAddr, nil
}

// Free releases addr back to whichever tier it lives on.
func (m *Memory) Free(addr uintptr) {
	m.ensureIndex()
	tier, ok := m.addrTier[addr]
	if !ok {
		return
	}
	m.tiers[tier].Free(addr)
	delete(m.addrTier, addr)
	if dh, ok := m.policy.(*policy.DataHotnessPolicy); ok {
		dh.Free(addr)
	}
}

// UsableSize reports the usable size of addr's underlying allocation.
func (m *Memory) UsableSize(addr uintptr) (uintptr, bool) {
	m.ensureIndex()
	tier, ok := m.addrTier[addr]
	if !ok {
		return 0, false
	}
	return m.tiers[tier].UsableSize(addr)
}

// TierBackend returns the backend.Kind configured for tier id, for
// diagnostics (SPEC_FULL.md §13's memtier_kind_name supplement).
func (m *Memory) TierBackend(id int) (backend.Kind, bool) {
	for i, tierID := range m.ids {
		if tierID == id {
			return m.tiers[i].DetectKind(), true
		}
	}
	return backend.KindUnknown, false
}

// DetectKind reports the backend.Kind of the tier addr currently lives on
// (SPEC_FULL.md §11's detect_kind(ptr) -> kind), mirroring TierBackend but
// keyed by address instead of tier id. False if addr isn't tracked.
func (m *Memory) DetectKind(addr uintptr) (backend.Kind, bool) {
	m.ensureIndex()
	tier, ok := m.addrTier[addr]
	if !ok {
		return backend.KindUnknown, false
	}
	return m.tiers[tier].DetectKind(), true
}

// RegisterTouchCallback asks the RankingThread to attach a diagnostics-only
// callback to the region containing addr (spec §4.1's SET_TOUCH_CALLBACK
// event), invoked from OnTouch on every subsequent touch of that region.
// Reports false if this Memory has no RankingThread (only DataHotness runs
// one) or the queue is full.
func (m *Memory) RegisterTouchCallback(addr uintptr, cb eventqueue.TouchCallback, arg any) bool {
	if m.queue == nil {
		return false
	}
	return m.queue.Push(eventqueue.Event{Kind: eventqueue.SetTouchCallback, Addr: addr, Callback: cb, CallbackArg: arg})
}

// UpdateConfig applies a string-keyed runtime option change to the
// configured policy (spec §6's update_cfg, the third leg of the
// get_kind/post_alloc/update_cfg trait).
func (m *Memory) UpdateConfig(key string, val any) error {
	return m.policy.UpdateConfig(key, val)
}

// Close shuts down the RankingThread (if any) and waits for it to drain,
// per spec §5's shutdown semantics.
func (m *Memory) Close() {
	if m.ctrl != nil {
		m.ctrl.Shutdown()
		m.ctrl.Wait()
	}
}

// QueueDropped reports how many events the DataHotness policy's
// EventQueue has dropped due to backpressure (spec §5/§7); zero and
// meaningless for other policy kinds.
func (m *Memory) QueueDropped() uint64 {
	if m.queue == nil {
		return 0
	}
	return m.queue.Dropped()
}

// Internals exposes the EventQueue and Ranking backing a DataHotness
// Memory (both nil otherwise) for diagnostics/metrics collectors that
// need to read them directly. Not part of the allocation path.
func (m *Memory) Internals() (*eventqueue.Queue, *ranking.Ranking) {
	return m.queue, m.rank
}
