package rankingthread

import (
	"testing"
	"time"

	"github.com/memkind-go/tiermem/eventqueue"
	"github.com/memkind-go/tiermem/hotness"
	"github.com/memkind-go/tiermem/internal/control"
	"github.com/memkind-go/tiermem/ranking"
	"github.com/memkind-go/tiermem/registry"
)

func newHarness(cfg Config) (*Thread, *eventqueue.Queue, *registry.Registry, *ranking.Ranking, *control.Group) {
	q := eventqueue.New(256)
	rank := ranking.New()
	reg := registry.New(rank, hotness.DefaultConfig())
	ctrl := control.New(10 * time.Millisecond)
	th := New(cfg, q, reg, rank, ctrl)
	return th, q, reg, rank, ctrl
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestRunDispatchesCreateAddIntoRegistry(t *testing.T) {
	cfg := DefaultConfig()
	th, q, reg, _, ctrl := newHarness(cfg)

	go th.Run()
	defer func() {
		ctrl.Shutdown()
		ctrl.Wait()
	}()

	q.Push(eventqueue.Event{Kind: eventqueue.CreateAdd, Fingerprint: 0xABC, Addr: 0x1000, Size: 64})

	waitFor(t, time.Second, func() bool {
		g, ok := reg.GroupByFingerprint(0xABC)
		return ok && g.TotalSize == 64
	})
}

func TestRunStopsAfterShutdownAndDrainsQueue(t *testing.T) {
	cfg := DefaultConfig()
	th, q, reg, _, ctrl := newHarness(cfg)

	q.Push(eventqueue.Event{Kind: eventqueue.CreateAdd, Fingerprint: 1, Addr: 0x2000, Size: 8})

	go th.Run()
	ctrl.Shutdown()

	done := make(chan struct{})
	go func() {
		ctrl.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Shutdown")
	}

	if _, ok := reg.GroupByFingerprint(1); !ok {
		t.Fatalf("event pushed before Shutdown was not drained")
	}
}

func TestRunRelaysLearnedBucketOnCreateAndTouch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckEvery = 0
	cfg.CheckInterval = 0

	var mu []struct{ fp, bucket uint64 }
	learned := make(chan [2]uint64, 8)
	cfg.OnBucketLearned = func(fp, bucket uint64) {
		learned <- [2]uint64{fp, bucket}
	}
	_ = mu

	th, q, _, _, ctrl := newHarness(cfg)
	go th.Run()
	defer func() {
		ctrl.Shutdown()
		ctrl.Wait()
	}()

	q.Push(eventqueue.Event{Kind: eventqueue.CreateAdd, Fingerprint: 0x77, Addr: 0x3000, Size: 32})

	select {
	case got := <-learned:
		if got[0] != 0x77 {
			t.Fatalf("learned fp = %#x, want 0x77", got[0])
		}
	case <-time.After(time.Second):
		t.Fatal("OnBucketLearned was never invoked after CreateAdd")
	}
}

func TestRunPeriodicRecomputeUpdatesThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckEvery = 1
	cfg.CheckInterval = 0
	cfg.CapacityShare = 0

	th, q, _, rank, ctrl := newHarness(cfg)
	go th.Run()
	defer func() {
		ctrl.Shutdown()
		ctrl.Wait()
	}()

	for i := uint64(0); i < 5; i++ {
		q.Push(eventqueue.Event{Kind: eventqueue.CreateAdd, Fingerprint: i + 1, Addr: uintptr(0x4000 + i*0x100), Size: 16})
	}

	waitFor(t, time.Second, func() bool {
		return rank.Threshold() != ^uint64(0)
	})
}

func TestDrainRemainingProcessesEventsQueuedBeforeStop(t *testing.T) {
	cfg := DefaultConfig()
	th, q, reg, _, ctrl := newHarness(cfg)

	for i := 0; i < 10; i++ {
		q.Push(eventqueue.Event{Kind: eventqueue.CreateAdd, Fingerprint: uint64(i), Addr: uintptr(0x5000 + i*0x40), Size: 4})
	}
	ctrl.Shutdown()

	done := make(chan struct{})
	go func() {
		th.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit")
	}

	if reg.GroupCount() != 10 {
		t.Fatalf("GroupCount() = %d, want 10 (all pre-shutdown events drained)", reg.GroupCount())
	}
}
