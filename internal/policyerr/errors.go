// Package policyerr centralizes the error kinds named in spec §7. Plain
// sentinel errors, matching the teacher's style — no wrapping framework, use
// errors.Is at call sites.
package policyerr

import "errors"

var (
	// ErrQueueFull names the full-queue condition. Nothing in this module
	// returns it: eventqueue.Push reports a full ring by returning false
	// and counting the push in Dropped.
	ErrQueueFull = errors.New("tiermem: event queue full, event dropped")

	// ErrBackendAllocFailed propagates a nil/non-zero status from the
	// underlying backend.Allocator call.
	ErrBackendAllocFailed = errors.New("tiermem: backend allocation failed")

	// ErrConfigInvalid is returned by Builder.Construct when tier counts or
	// dynamic-threshold options don't satisfy the policy's requirements.
	ErrConfigInvalid = errors.New("tiermem: invalid builder configuration")

	// ErrRemoveMoreThanPresent marks an attempt to subtract more weight
	// from a Ranking bucket than it holds. Treated as a saturating
	// subtract to zero by default (spec §7's "relaxed" variant); see
	// ranking.Ranking.Strict.
	ErrRemoveMoreThanPresent = errors.New("tiermem: ranking remove exceeds aggregate size")

	// ErrUnknownAddress marks an address that has no live allocation or
	// TypeRegistry region. Returned by backend.Arena.Realloc,
	// memtier.Memory.Realloc and Registry.OnDestroy/OnRealloc; a touch for
	// such an address is ignored without an error.
	ErrUnknownAddress = errors.New("tiermem: touch for unregistered address")
)
