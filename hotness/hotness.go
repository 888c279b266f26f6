// Package hotness implements spec §4.3's per-group two-window
// exponentially-weighted access-frequency estimator.
//
// Grounded on _examples/original_source/src/tachanka.c's touch(): the
// window length constant (HOTNESS_MEASURE_WINDOW, 1s in nanoseconds) and
// the smoothing weights (f = f2*0.3 + f1*0.7, where f2 is the closed
// previous window's rate and f1 the just-closed current window's rate) are
// carried over unchanged as this package's defaults. The window-rotation
// trigger logic matches the original's state machine but uses the cleaner
// per-window rate formulas f2 = n2/(t1-t2), f1 = n1/(t0-t1) rather than the
// original's literal (and dimensionally off) f2 = n2*t2/(t2-t0) — treated
// as a transcription slip in the C prototype that the distilled
// specification already corrected.
package hotness

import "math"

// State is the warm-up state machine driving when a group's estimate is
// meaningful.
type State uint8

const (
	Unset State = iota // no touch observed yet
	Init               // first window open, not yet long enough to classify
	InitDone           // first window has closed; F is first set when the next window closes
)

// Estimator holds one group's hotness state. The zero value is a
// fresh Unset estimator with f == 0, matching spec §4.3's "On a newly
// created group, f = 0, state = UNSET".
type Estimator struct {
	N1, N2   uint64
	T0, T1, T2 int64 // nanoseconds, monotonic
	F        float64
	State    State
}

// Config holds the tunables shared by every Estimator in a TypeRegistry.
type Config struct {
	// Window is W from spec §4.3: a window must span more than this many
	// nanoseconds before it's considered closed. Defaults to 1s, matching
	// HOTNESS_MEASURE_WINDOW.
	Window int64

	// Old is the smoothing weight applied to the previous window's rate
	// (f2); New is applied to the current window's rate (f1). Old+New
	// need not sum to 1 but conventionally do. Defaults 0.3/0.7.
	Old, New float64

	// QuantifyLog selects quantify(f) = floor(log(f)) when true; when
	// false (default) quantify is the identity, per spec §9's resolved
	// open question — floor(log(f)) is only useful once f is known to
	// range over multiple orders of magnitude, which isn't guaranteed for
	// every deployment, so identity quantification is the safer default
	// and floor-log is opt-in.
	QuantifyLog bool
}

// DefaultConfig returns the tachanka.c-derived defaults.
func DefaultConfig() Config {
	return Config{
		Window: 1_000_000_000, // 1s in nanoseconds
		Old:    0.3,
		New:    0.7,
	}
}

// Touch advances the estimator by one access at timestamp (monotonic
// nanoseconds), per spec §4.3.
func (e *Estimator) Touch(cfg Config, timestamp int64) {
	e.N1++
	e.T0 = timestamp

	switch e.State {
	case Unset:
		e.T2 = timestamp
		e.State = Init
	case Init:
		if e.T0-e.T2 > cfg.Window {
			e.T1 = e.T0
			e.State = InitDone
		}
	case InitDone:
		if e.T0-e.T1 > cfg.Window {
			e.closeWindow(cfg)
		}
	}
}

func (e *Estimator) closeWindow(cfg Config) {
	var f2, f1 float64
	if d2 := e.T1 - e.T2; d2 > 0 {
		f2 = float64(e.N2) / float64(d2)
	}
	if d1 := e.T0 - e.T1; d1 > 0 {
		f1 = float64(e.N1) / float64(d1)
	}
	e.F = cfg.Old*f2 + cfg.New*f1
	e.T2 = e.T1
	e.T1 = e.T0
	e.N2 = e.N1
	e.N1 = 0
}

// Quantify maps a raw frequency estimate to the bucket key Ranking indexes
// on, per cfg.QuantifyLog.
func Quantify(cfg Config, f float64) uint64 {
	if !cfg.QuantifyLog {
		// f is always >= 0 (a rate), so the IEEE-754 bit pattern orders
		// the same way the float does and Ranking's uint64 comparator
		// stays correct.
		return math.Float64bits(f)
	}
	if f <= 0 {
		return 0
	}
	lg := math.Floor(math.Log(f))
	if lg < 0 {
		return 0
	}
	return uint64(lg)
}
