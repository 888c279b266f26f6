package hotness

import "testing"

func TestFreshEstimatorIsUnset(t *testing.T) {
	var e Estimator
	if e.State != Unset || e.F != 0 {
		t.Fatalf("fresh Estimator = %+v, want State=Unset F=0", e)
	}
}

func TestFirstTouchEntersInit(t *testing.T) {
	cfg := DefaultConfig()
	var e Estimator
	e.Touch(cfg, 1000)
	if e.State != Init {
		t.Fatalf("State after first touch = %v, want Init", e.State)
	}
	if e.T2 != 1000 {
		t.Fatalf("T2 = %d, want 1000", e.T2)
	}
}

func TestInitTransitionsToInitDoneAfterWindow(t *testing.T) {
	cfg := DefaultConfig()
	var e Estimator
	e.Touch(cfg, 0)
	e.Touch(cfg, cfg.Window) // exactly at the boundary: not yet > Window
	if e.State != Init {
		t.Fatalf("State at exactly Window = %v, want still Init", e.State)
	}
	e.Touch(cfg, cfg.Window+1)
	if e.State != InitDone {
		t.Fatalf("State after exceeding Window = %v, want InitDone", e.State)
	}
	if e.T1 != cfg.Window+1 {
		t.Fatalf("T1 = %d, want %d", e.T1, cfg.Window+1)
	}
}

func TestWindowCloseComputesSmoothedFrequency(t *testing.T) {
	cfg := DefaultConfig()
	var e Estimator

	// Drive into InitDone with 10 touches spread evenly across [0, W].
	e.Touch(cfg, 0)
	for i := int64(1); i <= 9; i++ {
		e.Touch(cfg, i*cfg.Window/10)
	}
	e.Touch(cfg, cfg.Window+1)
	if e.State != InitDone {
		t.Fatalf("State = %v, want InitDone before second window", e.State)
	}
	n2AtTransition := e.N2

	// Now accumulate touches in the second window and force it closed.
	for i := int64(1); i <= 5; i++ {
		e.Touch(cfg, cfg.Window+1+i*1000)
	}
	beforeClose := e.N1
	e.Touch(cfg, 2*cfg.Window+2) // > T1 + Window, closes the window

	if e.F == 0 {
		t.Fatalf("F = 0 after window close, want a positive smoothed frequency")
	}
	if e.N2 != beforeClose+1 {
		t.Fatalf("N2 after close = %d, want %d (old N1, including the closing touch, rolled forward)", e.N2, beforeClose+1)
	}
	if e.N1 != 0 {
		t.Fatalf("N1 after close = %d, want 0 (reset)", e.N1)
	}
	_ = n2AtTransition
}

func TestQuantifyIdentityPreservesOrder(t *testing.T) {
	cfg := DefaultConfig() // QuantifyLog defaults false
	a := Quantify(cfg, 1.0)
	b := Quantify(cfg, 2.0)
	c := Quantify(cfg, 2.5)
	if !(a < b && b < c) {
		t.Fatalf("Quantify identity ordering broken: %d, %d, %d", a, b, c)
	}
}

func TestQuantifyLogCollapsesNearbyValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QuantifyLog = true
	a := Quantify(cfg, 10.0)
	b := Quantify(cfg, 15.0)
	c := Quantify(cfg, 150.0)
	if a != b {
		t.Fatalf("Quantify(10) = %d, Quantify(15) = %d, want equal (same log bucket)", a, b)
	}
	if a == c {
		t.Fatalf("Quantify(10) and Quantify(150) landed in the same bucket, want different orders of magnitude distinguished")
	}
}

func TestQuantifyLogNonPositiveIsZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QuantifyLog = true
	if got := Quantify(cfg, 0); got != 0 {
		t.Fatalf("Quantify(0) = %d, want 0", got)
	}
	if got := Quantify(cfg, -5); got != 0 {
		t.Fatalf("Quantify(-5) = %d, want 0", got)
	}
}
