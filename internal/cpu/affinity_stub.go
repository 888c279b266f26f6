// Cross-platform fallback for SetAffinity on systems where
// sched_setaffinity(2) is unavailable (macOS, Windows, BSD, TinyGo, wasm).
// The RankingThread still runs correctly without pinning, just without the
// cache-locality guarantee.

//go:build !linux || tinygo

package cpu

//go:nosplit
//go:inline
func SetAffinity(cpuIdx int) {}
