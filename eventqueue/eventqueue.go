// Package eventqueue implements the bounded single-consumer,
// multi-producer ring specified in spec §4.1: application threads and the
// sampler push CREATE_ADD/DESTROY_REMOVE/REALLOC/TOUCH/SET_TOUCH_CALLBACK
// events; the RankingThread is the sole consumer.
//
// Grounded on the teacher's ring24.Ring — a cache-line-isolated SPSC ring
// with per-slot sequence stamps — generalized from a single producer's
// plain tail counter to many producers racing a shared atomic tail via the
// classic Vyukov bounded-MPMC reservation protocol: a producer only
// advances the shared tail when it has confirmed (via CAS) that the target
// slot's sequence stamp matches its expected position, so a push that loses
// the race retries against a fresh tail rather than stepping on another
// producer's slot. The consumer side needs no CAS — it owns `head`
// exclusively, exactly as in the SPSC original.
//
// Push never blocks and never allocates; it either reserves a slot and
// publishes, or observes the ring full and returns false (spec §4.1, §5,
// §7 QueueFull).
package eventqueue

import (
	"sync/atomic"
)

// Kind tags the variant carried by an Event.
type Kind uint8

const (
	CreateAdd Kind = iota
	DestroyRemove
	Realloc
	Touch
	SetTouchCallback
)

// TouchCallback is the diagnostics-only hook registered via
// SetTouchCallback (spec §4.1, §9 open question — treated as observational
// only here).
type TouchCallback func(addr uintptr, arg any)

// Event is the fixed-size tagged-union record carried by the ring. All
// variants share one struct (rather than an interface) so Push/Pop never
// allocate: the whole value is copied in and out of the ring by assignment.
type Event struct {
	Kind        Kind
	Fingerprint uint64
	Addr        uintptr // CREATE_ADD, DESTROY_REMOVE, REALLOC (new), TOUCH, SET_TOUCH_CALLBACK
	OldAddr     uintptr // REALLOC only
	Size        uintptr // CREATE_ADD, REALLOC
	Timestamp   int64   // TOUCH, monotonic nanoseconds
	Callback    TouchCallback
	CallbackArg any
}

// slot pairs a payload with a sequence stamp. The stamp encodes slot state
// (doubled so READY for pos never equals EMPTY for pos+capacity, which
// would otherwise happen at capacity 1):
// stamp == 2*pos              → EMPTY, free for the producer that owns pos to write
// stamp == 2*pos+1            → READY, published, waiting for the consumer
// stamp == 2*(pos+capacity)   → EMPTY again, recycled for the next lap
type slot struct {
	seq atomic.Uint64
	val Event
}

// Queue is a fixed-capacity MPSC ring of Events. Capacity must be a
// power of two so slot indexing can use a bit mask instead of modulo.
type Queue struct {
	_    [64]byte // isolate head from neighboring allocations
	head uint64   // consumer-owned; never touched by producers

	_    [56]byte
	tail atomic.Uint64 // producers CAS this forward to reserve a slot

	_ [56]byte

	mask uint64
	cap  uint64
	buf  []slot

	dropped atomic.Uint64 // count of pushes that observed a full ring
}

// New creates a Queue with the given capacity, rounded up to the next
// power of two if it isn't already one.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	size := nextPow2(uint64(capacity))
	q := &Queue{
		mask: size - 1,
		cap:  size,
		buf:  make([]slot, size),
	}
	for i := range q.buf {
		q.buf[i].seq.Store(2 * uint64(i))
	}
	return q
}

func nextPow2(n uint64) uint64 {
	s := uint64(1)
	for s < n {
		s <<= 1
	}
	return s
}

// Cap returns the queue's fixed capacity.
func (q *Queue) Cap() int { return int(q.cap) }

// Dropped returns the number of pushes that failed because the ring was
// full (spec §5 backpressure counter, exposed as a metric by the caller).
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Push enqueues ev. It may be called concurrently from any number of
// producer threads. Returns false — and increments the dropped counter —
// if the ring is full; the caller drops the event per spec §7.
//
//go:nosplit
func (q *Queue) Push(ev Event) bool {
	for {
		pos := q.tail.Load()
		s := &q.buf[pos&q.mask]
		stamp := s.seq.Load()

		diff := int64(stamp) - int64(2*pos)
		switch {
		case diff == 0:
			// Slot is free for whoever reserves position pos.
			if q.tail.CompareAndSwap(pos, pos+1) {
				s.val = ev
				s.seq.Store(2*pos + 1) // publish: release write to consumer
				return true
			}
			// Lost the race to another producer; retry with a fresh tail.
		case diff < 0:
			// The slot belonging to this position hasn't been freed by the
			// consumer yet: the ring is full.
			q.dropped.Add(1)
			return false
		default:
			// Another producer already advanced tail past pos; retry.
		}
	}
}

// Pop dequeues the oldest event. Must be called only from the single
// consumer goroutine. Returns false if the ring is currently empty.
//
//go:nosplit
func (q *Queue) Pop(out *Event) bool {
	h := q.head
	s := &q.buf[h&q.mask]
	stamp := s.seq.Load()

	if stamp != 2*h+1 {
		return false // producer hasn't published to this slot yet
	}
	*out = s.val
	s.seq.Store(2 * (h + q.cap)) // recycle slot for the next lap
	q.head = h + 1
	return true
}
