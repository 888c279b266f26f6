package eventqueue

import (
	"sync"
	"sync/atomic"
	"testing"
)

// TestNewRoundsCapacityToPowerOfTwo verifies capacities that aren't already
// a power of two are rounded up rather than rejected.
func TestNewRoundsCapacityToPowerOfTwo(t *testing.T) {
	q := New(5)
	if q.Cap() != 8 {
		t.Fatalf("Cap() = %d, want 8", q.Cap())
	}
}

// TestPushPopRoundTrip performs a minimal sanity round-trip on a size-8
// queue: push one event, pop it, confirm the queue is empty afterward.
func TestPushPopRoundTrip(t *testing.T) {
	q := New(8)
	ev := Event{Kind: CreateAdd, Fingerprint: 1, Addr: 0x1000, Size: 64}

	if !q.Push(ev) {
		t.Fatal("first push must succeed")
	}
	var out Event
	if !q.Pop(&out) {
		t.Fatal("pop on non-empty queue returned false")
	}
	if out.Kind != ev.Kind || out.Fingerprint != ev.Fingerprint || out.Addr != ev.Addr ||
		out.OldAddr != ev.OldAddr || out.Size != ev.Size || out.Timestamp != ev.Timestamp ||
		out.CallbackArg != ev.CallbackArg {
		t.Fatalf("got %+v, want %+v", out, ev)
	}
	if q.Pop(&out) {
		t.Fatal("queue should now be empty")
	}
}

// TestPushFailsWhenFull fills the queue to capacity and checks that a
// further Push returns false and increments Dropped, rather than blocking.
func TestPushFailsWhenFull(t *testing.T) {
	q := New(4)
	ev := Event{Kind: Touch, Addr: 0x2000}
	for i := 0; i < 4; i++ {
		if !q.Push(ev) {
			t.Fatalf("push %d unexpectedly failed", i)
		}
	}
	if q.Push(ev) {
		t.Fatal("push into full queue should return false")
	}
	if q.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", q.Dropped())
	}
}

// TestPopOnEmptyReturnsFalse confirms Pop on an empty queue returns false
// and leaves out untouched in a way callers can detect via the return.
func TestPopOnEmptyReturnsFalse(t *testing.T) {
	q := New(4)
	var out Event
	if q.Pop(&out) {
		t.Fatal("Pop on empty queue returned true")
	}
}

// TestWrapAround exercises many more push/pop cycles than the queue's
// capacity to ensure head/tail wrap and slot recycling are sound.
func TestWrapAround(t *testing.T) {
	const size = 4
	q := New(size)
	for i := 0; i < 10*size; i++ {
		ev := Event{Kind: CreateAdd, Fingerprint: uint64(i)}
		if !q.Push(ev) {
			t.Fatalf("push %d failed unexpectedly", i)
		}
		var out Event
		if !q.Pop(&out) {
			t.Fatalf("pop %d failed unexpectedly", i)
		}
		if out.Fingerprint != uint64(i) {
			t.Fatalf("iteration %d: got fingerprint %d, want %d", i, out.Fingerprint, i)
		}
	}
}

// TestMultipleProducersSingleConsumerDeliversAllEvents is the scaled-down
// MPSC stress scenario: many goroutines race to push while a single
// consumer drains concurrently; every successfully-pushed event must be
// observed exactly once and none should be fabricated or duplicated.
func TestMultipleProducersSingleConsumerDeliversAllEvents(t *testing.T) {
	const producers = 8
	const perProducer = 2000
	const total = producers * perProducer

	q := New(1024)
	var pushed, refused atomic.Uint64
	var wgProd sync.WaitGroup
	wgProd.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wgProd.Done()
			for i := 0; i < perProducer; i++ {
				ev := Event{Kind: CreateAdd, Fingerprint: uint64(p)<<32 | uint64(i), Size: 1}
				for !q.Push(ev) {
					// Queue momentarily full; each refusal counts as a drop,
					// then retry until the consumer drains.
					refused.Add(1)
				}
				pushed.Add(1)
			}
		}(p)
	}

	seen := make(map[uint64]int, total)
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		var got int
		var ev Event
		for got < total {
			if q.Pop(&ev) {
				mu.Lock()
				seen[ev.Fingerprint]++
				mu.Unlock()
				got++
				continue
			}
		}
	}()

	wgProd.Wait()
	<-done

	if int(pushed.Load()) != total {
		t.Fatalf("pushed = %d, want %d", pushed.Load(), total)
	}
	if len(seen) != total {
		t.Fatalf("distinct events observed = %d, want %d", len(seen), total)
	}
	for key, count := range seen {
		if count != 1 {
			t.Fatalf("event %#x observed %d times, want 1", key, count)
		}
	}
	if q.Dropped() != refused.Load() {
		t.Fatalf("Dropped() = %d, want %d (one per refused push)", q.Dropped(), refused.Load())
	}
}

// TestDroppedCounterAccumulatesAcrossRefusedPushes confirms Dropped keeps a
// running total rather than resetting between failed pushes.
func TestDroppedCounterAccumulatesAcrossRefusedPushes(t *testing.T) {
	q := New(2)
	ev := Event{Kind: DestroyRemove, Addr: 0x3000}
	q.Push(ev)
	q.Push(ev)
	for i := 0; i < 5; i++ {
		q.Push(ev)
	}
	if q.Dropped() != 5 {
		t.Fatalf("Dropped() = %d, want 5", q.Dropped())
	}
}

// TestSetTouchCallbackEventCarriesCallbackAndArg ensures the diagnostics
// callback pointer and its argument survive a round-trip through the
// queue unmodified.
func TestSetTouchCallbackEventCarriesCallbackAndArg(t *testing.T) {
	q := New(4)
	called := false
	cb := func(addr uintptr, arg any) { called = true }
	q.Push(Event{Kind: SetTouchCallback, Addr: 0x4000, Callback: cb, CallbackArg: "diag"})

	var out Event
	if !q.Pop(&out) {
		t.Fatal("pop failed")
	}
	if out.CallbackArg != "diag" {
		t.Fatalf("CallbackArg = %v, want diag", out.CallbackArg)
	}
	out.Callback(out.Addr, out.CallbackArg)
	if !called {
		t.Fatal("callback extracted from event was not invoked")
	}
}
