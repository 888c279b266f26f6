// Package rankingthread implements spec §4.8's RankingThread: the single
// goroutine that drains EventQueue, dispatches mutations into TypeRegistry,
// and periodically recomputes and publishes Ranking's hot threshold.
//
// Grounded on the teacher's ring.PinnedConsumer: a dedicated, optionally
// core-pinned goroutine alternating between a hot-spin (tight loop, no CPU
// relax hint) while recent activity makes low latency worth the power, and
// a cold-spin (internal/cpu.Relax every miss, nothing pinned to the CPU's
// reservation station) once quiet — generalized from PinnedConsumer's
// *uint32 hot/stop flags to internal/control.Group, and from a fixed
// hotTimeout constant to a caller-configured cooldown.
package rankingthread

import (
	"runtime"
	"time"

	"github.com/memkind-go/tiermem/eventqueue"
	"github.com/memkind-go/tiermem/internal/control"
	"github.com/memkind-go/tiermem/internal/cpu"
	"github.com/memkind-go/tiermem/ranking"
	"github.com/memkind-go/tiermem/registry"
)

const spinBudget = 256 // cold-spin misses after which the consumer yields its processor

// BucketLearned is invoked whenever a group's fingerprint gains a fresh
// quantified-hotness bucket, letting a policy's fast-path classification
// cache (e.g. policy.DataHotnessPolicy.LearnBucket) stay current.
type BucketLearned func(fp uint64, bucket uint64)

// Config tunes RankingThread's behavior.
type Config struct {
	// Core pins the goroutine via internal/cpu.SetAffinity; -1 disables
	// pinning.
	Core int

	// CheckEvery recomputes the threshold after this many processed
	// events; CheckInterval recomputes it after this much wall time has
	// passed since the last recompute, whichever comes first (spec
	// §4.8's "every N events or T milliseconds").
	CheckEvery    uint64
	CheckInterval time.Duration

	// CapacityShare is the fast-tier capacity fraction (d_total in [0,1])
	// passed to Ranking.ComputeThreshold on each periodic recompute.
	CapacityShare float64

	OnBucketLearned BucketLearned
}

// DefaultConfig returns reasonable defaults: no pinning, recompute every
// 1000 events or 100ms, half capacity.
func DefaultConfig() Config {
	return Config{
		Core:          -1,
		CheckEvery:    1000,
		CheckInterval: 100 * time.Millisecond,
		CapacityShare: 0.5,
	}
}

// Thread owns Registry and Ranking exclusively while running, per spec
// §5's "Ranking, TypeRegistry, and HotnessEstimator are owned solely by
// RankingThread; no locks needed on them."
type Thread struct {
	cfg   Config
	queue *eventqueue.Queue
	reg   *registry.Registry
	rank  *ranking.Ranking
	ctrl  *control.Group

	processed uint64
	lastCheck time.Time
}

// New creates a Thread and registers it with ctrl's WaitGroup, so a
// ctrl.Wait issued before Run has started still waits for it. Call Run
// exactly once to start draining; call ctrl.Shutdown then ctrl.Wait to stop
// it (ctrl is shared with the producers that push into queue).
func New(cfg Config, queue *eventqueue.Queue, reg *registry.Registry, rank *ranking.Ranking, ctrl *control.Group) *Thread {
	ctrl.Add(1)
	return &Thread{cfg: cfg, queue: queue, reg: reg, rank: rank, ctrl: ctrl}
}

// Run drains the queue until ctrl.Stopping(), then performs one final
// drain pass before returning, matching spec §5's "shutdown drains the
// queue, then destroys the EventQueue and WRTree." Intended to be run in
// its own goroutine; it calls ctrl.Done on return, balancing the Add made
// by New.
func (th *Thread) Run() {
	defer th.ctrl.Done()

	if th.cfg.Core >= 0 {
		cpu.SetAffinity(th.cfg.Core)
	}

	th.lastCheck = time.Now()
	miss := 0

	var ev eventqueue.Event
	for {
		if th.queue.Pop(&ev) {
			th.dispatch(&ev)
			th.ctrl.SignalActivity()
			miss = 0
			th.maybeRecompute()
			continue
		}

		if th.ctrl.Stopping() {
			th.drainRemaining()
			return
		}

		th.ctrl.PollCooldown()
		if th.ctrl.Hot() {
			continue // hot-spin: no relax hint, minimize latency
		}

		if miss++; miss >= spinBudget {
			miss = 0
			runtime.Gosched() // back off: yield the processor after a run of misses
		}
		cpu.Relax()
	}
}

// drainRemaining pops everything still queued when the stop flag is seen,
// including pushes that landed after Shutdown was called, before returning.
// Producers do not consult the stop flag; anything pushed after this drain
// finishes stays in the queue unprocessed.
func (th *Thread) drainRemaining() {
	var ev eventqueue.Event
	for th.queue.Pop(&ev) {
		th.dispatch(&ev)
	}
}

func (th *Thread) dispatch(ev *eventqueue.Event) {
	th.processed++
	switch ev.Kind {
	case eventqueue.CreateAdd:
		th.reg.OnCreate(ev.Fingerprint, ev.Addr, ev.Size)
		th.learn(ev.Fingerprint)
	case eventqueue.DestroyRemove:
		th.reg.OnDestroy(ev.Addr)
	case eventqueue.Realloc:
		th.reg.OnRealloc(ev.OldAddr, ev.Addr, ev.Size)
	case eventqueue.Touch:
		if fp, bucket, ok := th.reg.OnTouch(ev.Addr, ev.Timestamp); ok {
			th.notifyLearned(fp, bucket)
		}
	case eventqueue.SetTouchCallback:
		th.reg.SetTouchCallback(ev.Addr, ev.Callback, ev.CallbackArg)
	}
}

func (th *Thread) learn(fp uint64) {
	if g, ok := th.reg.GroupByFingerprint(fp); ok {
		th.notifyLearned(fp, g.Bucket())
	}
}

func (th *Thread) notifyLearned(fp, bucket uint64) {
	if th.cfg.OnBucketLearned != nil {
		th.cfg.OnBucketLearned(fp, bucket)
	}
}

func (th *Thread) maybeRecompute() {
	countDue := th.cfg.CheckEvery > 0 && th.processed%th.cfg.CheckEvery == 0
	timeDue := th.cfg.CheckInterval > 0 && time.Since(th.lastCheck) >= th.cfg.CheckInterval
	if !countDue && !timeDue {
		return
	}
	th.lastCheck = time.Now()
	th.rank.ComputeThreshold(th.cfg.CapacityShare)
}

// Processed returns the number of events dispatched so far. Exposed for
// metrics/tests.
func (th *Thread) Processed() uint64 { return th.processed }
