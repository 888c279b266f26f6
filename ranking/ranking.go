// Package ranking implements spec §4.3/§4.5's Ranking structure: a
// weight-ranked index of (quantifiedHotness -> aggregatedSize) buckets used
// to compute a hotness threshold from a fast-tier capacity share, exposed
// for lock-free concurrent reads by DataHotness.
//
// Grounded on _examples/original_source/src/ranking.cpp: AggregatedHotness
// groups types by quantified hotness level and accumulates their sizes;
// the threshold walk is exactly wrtree.Tree.FindByWeightFraction applied
// directly to the fast-tier capacity fraction d_total. FindByWeightFraction
// measures cumulative weight from the greatest key downward, so d_total
// (the share of total capacity the fast tier can hold) maps straight onto
// it: d_total=0 isolates the single hottest bucket, d_total=1 reaches all
// the way to the coldest — verified against spec §8's three worked
// threshold scenarios, and an inclusive IsHot comparison (key >= threshold,
// not key > threshold as §4.5's prose literally says — the strict form is
// inconsistent with scenario 1's "threshold(0)=99, only f=99 is hot"; see
// DESIGN.md).
package ranking

import (
	"math"
	"sync/atomic"

	"github.com/memkind-go/tiermem/wrtree"
)

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Ranking aggregates sizes by quantified hotness level and publishes a
// hotness threshold for lock-free reads from DataHotness's fast path.
type Ranking struct {
	tree *wrtree.Tree[uint64, uint64] // quantifiedHotness -> aggregatedSize

	// Strict selects the spec §7 "strict" disposition for Remove: when
	// true, removing more weight than a bucket holds panics (a caller
	// bug); when false (default) it saturates to zero. See DESIGN.md's
	// Open Question resolution.
	Strict bool

	threshold atomic.Uint64 // published hot_threshold, directly in quantifiedHotness key space
}

// New creates an empty Ranking with nothing classified hot.
func New() *Ranking {
	r := &Ranking{tree: wrtree.New[uint64, uint64](cmpUint64)}
	r.threshold.Store(math.MaxUint64)
	return r
}

// Add attributes size bytes to the quantifiedHotness bucket, creating it if
// absent (spec §4.3).
func (r *Ranking) Add(quantifiedHotness uint64, size uint64) {
	// The payload holds the bucket's aggregate (Remove reads it back), while
	// Put adds size to the node's weight.
	cur, _ := r.tree.Get(quantifiedHotness)
	r.tree.Put(quantifiedHotness, cur+size, size)
}

// Remove subtracts size bytes from the quantifiedHotness bucket. If the
// bucket's aggregate would go negative, the disposition is governed by
// Strict: saturate to zero (default), or panic (Strict == true).
func (r *Ranking) Remove(quantifiedHotness uint64, size uint64) {
	cur, ok := r.tree.Get(quantifiedHotness)
	if !ok {
		if r.Strict {
			panic("ranking: remove from empty bucket")
		}
		return
	}
	switch {
	case size > cur:
		if r.Strict {
			panic("ranking: remove more than bucket holds")
		}
		r.tree.Remove(quantifiedHotness)
	case size == cur:
		r.tree.Remove(quantifiedHotness)
	default:
		// Put is additive (spec §4.2), so shrinking a bucket means
		// removing it and reinserting the exact remaining weight rather
		// than calling Put with a delta.
		r.tree.Remove(quantifiedHotness)
		r.tree.Put(quantifiedHotness, cur-size, cur-size)
	}
}

// TotalSize returns the sum of every bucket's aggregated size.
func (r *Ranking) TotalSize() uint64 { return r.tree.TotalWeight() }

// ComputeThreshold finds the quantified-hotness value such that
// approximately dTotal of TotalSize lies at or above it, publishes it as
// the current hot threshold, and returns it (spec §4.5's compute_threshold).
// dTotal is clamped to [0,1].
func (r *Ranking) ComputeThreshold(dTotal float64) (quantifiedHotness uint64, ok bool) {
	if dTotal < 0 {
		dTotal = 0
	}
	if dTotal > 1 {
		dTotal = 1
	}
	key, _, found := r.tree.FindByWeightFraction(dTotal)
	if !found {
		r.publish(0)
		return 0, false
	}
	r.publish(key)
	return key, true
}

// ComputeThresholdByRatio implements spec §4.5's compute_threshold_by_ratio:
// r is the fast tier's size ratio to the adjacent slower tier (r = d/(1-d)
// in capacity-fraction terms); it is converted to a total-capacity fraction
// dTotal = r/(1+r) and delegated to ComputeThreshold.
func (r *Ranking) ComputeThresholdByRatio(ratio float64) (quantifiedHotness uint64, ok bool) {
	if ratio < 0 {
		ratio = 0
	}
	dTotal := ratio / (1 + ratio)
	return r.ComputeThreshold(dTotal)
}

func (r *Ranking) publish(threshold uint64) {
	r.threshold.Store(threshold)
}

// Threshold returns the most recently published hot threshold, in
// quantifiedHotness key space. Safe to call concurrently with
// ComputeThreshold/ComputeThresholdByRatio from any number of goroutines
// (spec §4.5's lock-free single-writer, many-reader publication; ordering
// is relaxed, stale reads are acceptable per spec §5).
//
//go:nosplit
//go:inline
func (r *Ranking) Threshold() uint64 {
	return r.threshold.Load()
}

// IsHot reports whether quantifiedHotness is at or above the published
// threshold. This is the fast-path check DataHotness performs per
// allocation/touch without taking any lock.
//
//go:nosplit
//go:inline
func (r *Ranking) IsHot(quantifiedHotness uint64) bool {
	return quantifiedHotness >= r.Threshold()
}

// Len returns the number of distinct quantified-hotness buckets.
func (r *Ranking) Len() int { return r.tree.Len() }
