// CPU relaxation hint for ARM64 spin loops. See relax_amd64.go.

//go:build arm64 && !noasm

package cpu

/*
#ifdef __aarch64__
static inline void cpu_yield() {
    __asm__ __volatile__("yield" ::: "memory");
}
#else
#error "This file requires ARM64 architecture"
#endif
*/
import "C"

// Relax emits the YIELD instruction.
//
//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func Relax() {
	C.cpu_yield()
}
