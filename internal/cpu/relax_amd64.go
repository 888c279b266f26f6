// CPU relaxation hint for x86-64 spin loops.
//
// The RankingThread consumer and the EventQueue's bounded retry paths spin
// rather than block (spec §5: "RankingThread blocks only when the queue is
// empty, bounded sleep/backoff"). On amd64, PAUSE gives the CPU pipeline a
// hint that the current hardware thread is spinning, improving throughput
// for sibling hyperthreads and reducing power draw.

//go:build amd64 && !noasm && !nocgo

package cpu

/*
#ifdef __x86_64__
static inline void cpu_pause() {
    __asm__ __volatile__("pause" ::: "memory");
}
#else
#error "This file requires x86-64 architecture"
#endif
*/
import "C"

// Relax emits the PAUSE instruction.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func Relax() {
	C.cpu_pause()
}
