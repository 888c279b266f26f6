// Fallback no-op for architectures without a dedicated spin-wait hint
// (RISC-V, MIPS, PowerPC, s390x, wasm, or builds with cgo/asm disabled).
// The empty, inlined body is eliminated entirely by the compiler.

//go:build (!amd64 && !arm64) || noasm || nocgo || !cgo

package cpu

//go:norace
//go:nocheckptr
//go:nosplit
//go:inline
//go:registerparams
func Relax() {}
