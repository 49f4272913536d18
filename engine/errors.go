package engine

import "github.com/pkg/errors"

// Sentinel error kinds from spec.md §7 "Error Handling Design". RETRY_WRITE
// is internal only (spec.md "hidden from callers; the reservation retries")
// and so has no exported sentinel.
var (
	// ErrOversized is returned when a value would not fit in one segment
	// regardless of eviction (spec.md "OVERSIZED: value larger than one
	// segment; caller's problem").
	ErrOversized = errors.New("engine: item larger than one segment")

	// ErrOutOfMemory is returned when eviction could not free a segment
	// because every candidate is currently pinned (spec.md
	// "OUT_OF_MEMORY: eviction could not free a segment").
	ErrOutOfMemory = errors.New("engine: out of memory")

	// ErrNotANumber is returned by Incr/Decr when the target value is
	// not eligible for in-place numeric update (spec.md "NOT_A_NUMBER:
	// numeric update on non-numeric value").
	ErrNotANumber = errors.New("engine: value is not a number")

	// ErrNotFound is returned when a key is absent or its owning
	// segment has already been reclaimed (spec.md "NOT_FOUND: key
	// absent or owning segment already reclaimed").
	ErrNotFound = errors.New("engine: key not found")

	// errAlreadyActive guards spec.md §9 "Prohibit multiple concurrent
	// handles" — Setup fails while another handle is live.
	errAlreadyActive = errors.New("engine: a handle is already active; call Teardown first")
)
