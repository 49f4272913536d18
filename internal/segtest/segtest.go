// Package segtest provides the segment-heap construction boilerplate
// repeated across the storage-engine packages' individual test files
// (segment, hashtable, ttlbucket, eviction, compact, reaper), backing it
// with an anonymous in-memory datapool so no test ever touches a real
// file.
//
// Grounded on internal/testutil's role as the repo's shared test-support
// package; datapool.Options.Path == "" (an anonymous byte slice) is what
// makes the heap purely in-memory.
package segtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/segcache/engine/clock"
	"github.com/segcache/engine/datapool"
	"github.com/segcache/engine/segment"
)

// NewHeap builds a segment.Heap over an anonymous in-memory datapool
// sized for capacity segments of segSize bytes each, with no clock
// source wired in (segment.Heap treats a nil *clock.Source as "report
// timestamps as zero"), the shape most unit tests that don't care about
// real elapsed time want.
func NewHeap(t *testing.T, capacity, segSize int) *segment.Heap {
	t.Helper()
	return newHeap(t, capacity, segSize, nil)
}

// NewHeapWithClock is NewHeap plus a live, ticking clock.Source, for
// tests that exercise TTL expiry or other real-time-dependent behavior
// (e.g. the reaper's sweep). The returned Source is stopped automatically
// via t.Cleanup.
func NewHeapWithClock(t *testing.T, capacity, segSize int) (*segment.Heap, *clock.Source) {
	t.Helper()
	c := clock.New()
	t.Cleanup(c.Stop)
	return newHeap(t, capacity, segSize, c), c
}

func newHeap(t *testing.T, capacity, segSize int, c *clock.Source) *segment.Heap {
	t.Helper()

	pool, err := datapool.Open(datapool.Options{
		Size: uint64(datapool.HeaderSize) + uint64(capacity*segSize),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	heap, err := segment.NewHeap(pool.Base(), segSize, c, nil)
	require.NoError(t, err)
	return heap
}

// NoEviction is an evictFn that never frees a segment, for tests that
// only exercise the happy path and want ReserveItem to fail loudly
// (ErrOutOfMemory) instead of looping.
func NoEviction() bool { return false }
