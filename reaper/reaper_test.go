package reaper_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/segcache/engine/clock"
	"github.com/segcache/engine/hashtable"
	"github.com/segcache/engine/item"
	"github.com/segcache/engine/metrics"
	"github.com/segcache/engine/reaper"
	"github.com/segcache/engine/segment"
	"github.com/segcache/engine/ttlbucket"
)

// spyRecorder counts the two calls SweepOnce is responsible for driving;
// everything else is the shared metrics.Nop behavior.
type spyRecorder struct {
	metrics.Nop
	expired             int
	latencyObservations int
}

func (s *spyRecorder) IncExpired() { s.expired++ }
func (s *spyRecorder) ObserveEvictionLatency(time.Duration) {
	s.latencyObservations++
}

func newFixture(t *testing.T, segments, segSize int, c *clock.Source) (*segment.Heap, *ttlbucket.Table, *hashtable.Table) {
	t.Helper()
	base := make([]byte, segments*segSize)
	heap, err := segment.NewHeap(base, segSize, c, nil)
	require.NoError(t, err)
	table := ttlbucket.New(heap, c, nil)
	idx := hashtable.New(4, heap, c, nil)
	return heap, table, idx
}

func TestSweepOnce_RemovesSegmentPastTTL(t *testing.T) {
	c := clock.New()
	defer c.Stop()

	heap, table, idx := newFixture(t, 2, 4096, c)

	key := []byte("k")
	segID, offset, err := table.ReserveItem(1, item.Size(len(key), 1, 0, false), func() bool { return false })
	require.NoError(t, err)
	h := item.Header{KeyLen: len(key), ValueLen: 1}
	item.Put(heap.Payload(segID)[offset:], h, nil, key, []byte{7})
	idx.Insert(key, hashtable.Locator{Segment: segID, Offset: offset})
	heap.Header(segID).UnpinWriter()

	remover := reaper.NewRemover(heap, table, idx, nil)
	spy := &spyRecorder{}
	r := reaper.New(table, heap, c, remover, spy, 0)

	require.Eventually(t, func() bool {
		r.SweepOnce()
		loc, _, found := idx.Get(key, false)
		if found {
			// release Get's reader pin so the next sweep's removal can drain
			heap.Header(loc.Segment).UnpinReader()
		}
		return !found
	}, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, segment.None, table.Bucket(ttlbucket.BucketIndex(1)).Head())
	require.Equal(t, 1, spy.expired)
	require.Equal(t, 1, spy.latencyObservations)
}

func TestFlush_ReclaimsSegmentsCreatedBeforeFlushInstant(t *testing.T) {
	heap, table, idx := newFixture(t, 2, 4096, nil)

	key := []byte("k")
	segID, offset, err := table.ReserveItem(3600, item.Size(len(key), 1, 0, false), func() bool { return false })
	require.NoError(t, err)
	h := item.Header{KeyLen: len(key), ValueLen: 1}
	item.Put(heap.Payload(segID)[offset:], h, nil, key, []byte{7})
	idx.Insert(key, hashtable.Locator{Segment: segID, Offset: offset})
	heap.Header(segID).UnpinWriter()

	remover := reaper.NewRemover(heap, table, idx, nil)
	spy := &spyRecorder{}
	r := reaper.New(table, heap, nil, remover, spy, 0)

	// Segment's createdAt is 0 (nil clock); a flush at a later instant
	// must reclaim it even though its TTL (3600s) hasn't elapsed.
	r.Flush(1)

	removed := r.SweepOnce()
	require.Equal(t, 1, removed)

	_, _, found := idx.Get(key, false)
	require.False(t, found)
	require.Equal(t, segment.None, table.Bucket(ttlbucket.BucketIndex(3600)).Head())

	// Flush-driven reclaim isn't a TTL expiry, so it must not count toward
	// the expired counter, even though it still observes eviction latency.
	require.Zero(t, spy.expired)
	require.Equal(t, 1, spy.latencyObservations)
}

func TestSweepOnce_LeavesUnexpiredSegmentsAlone(t *testing.T) {
	heap, table, idx := newFixture(t, 2, 4096, nil)

	key := []byte("k")
	segID, offset, err := table.ReserveItem(3600, item.Size(len(key), 1, 0, false), func() bool { return false })
	require.NoError(t, err)
	h := item.Header{KeyLen: len(key), ValueLen: 1}
	item.Put(heap.Payload(segID)[offset:], h, nil, key, []byte{7})
	idx.Insert(key, hashtable.Locator{Segment: segID, Offset: offset})
	heap.Header(segID).UnpinWriter()

	remover := reaper.NewRemover(heap, table, idx, nil)
	r := reaper.New(table, heap, nil, remover, nil, 0)

	removed := r.SweepOnce()
	require.Zero(t, removed)

	_, _, found := idx.Get(key, false)
	require.True(t, found)
	heap.Header(segID).UnpinReader()
}
