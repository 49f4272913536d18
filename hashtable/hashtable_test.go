package hashtable_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/segcache/engine/hashtable"
	"github.com/segcache/engine/item"
	"github.com/segcache/engine/segment"
)

func newHeap(t *testing.T, capacity, segSize int) *segment.Heap {
	t.Helper()
	base := make([]byte, capacity*segSize)
	h, err := segment.NewHeap(base, segSize, nil, nil)
	require.NoError(t, err)
	return h
}

// putItem writes key/value into seg's payload at offset and returns a
// Locator pointing at it (Tag left zero; Insert fills it in).
func putItem(t *testing.T, heap *segment.Heap, seg segment.ID, offset int32, key, value string) hashtable.Locator {
	t.Helper()
	h := item.Header{KeyLen: len(key), ValueLen: len(value)}
	payload := heap.Payload(seg)
	item.Put(payload[offset:], h, nil, []byte(key), []byte(value))
	return hashtable.Locator{Segment: seg, Offset: offset}
}

func TestInsertGet_RoundTrip(t *testing.T) {
	heap := newHeap(t, 1, 4096)
	seg, ok := heap.Allocate()
	require.True(t, ok)

	table := hashtable.New(4, heap, nil, nil)
	loc := putItem(t, heap, seg, 0, "hello", "world")

	table.Insert([]byte("hello"), loc)

	got, _, found := table.Get([]byte("hello"), true)
	require.True(t, found)
	require.Equal(t, seg, got.Segment)
	require.EqualValues(t, 0, got.Offset)
	heap.Header(seg).UnpinReader()
}

func TestGet_MissingKeyNotFound(t *testing.T) {
	heap := newHeap(t, 1, 4096)
	table := hashtable.New(4, heap, nil, nil)

	_, _, found := table.Get([]byte("nope"), false)
	require.False(t, found)
}

func TestInsert_ReplacesExistingKey(t *testing.T) {
	heap := newHeap(t, 1, 4096)
	seg, _ := heap.Allocate()
	table := hashtable.New(4, heap, nil, nil)

	loc1 := putItem(t, heap, seg, 0, "k", "v1")
	table.Insert([]byte("k"), loc1)

	loc2 := putItem(t, heap, seg, 64, "k", "v2")
	table.Insert([]byte("k"), loc2)

	got, _, found := table.Get([]byte("k"), false)
	require.True(t, found)
	require.EqualValues(t, 64, got.Offset)
	heap.Header(seg).UnpinReader()

	// old slot's item must have been tombstoned.
	oldHeader := item.Decode(heap.Payload(seg)[0:])
	require.True(t, oldHeader.Tombstone)
}

func TestDelete_RemovesEntryAndTombstones(t *testing.T) {
	heap := newHeap(t, 1, 4096)
	seg, _ := heap.Allocate()
	table := hashtable.New(4, heap, nil, nil)

	loc := putItem(t, heap, seg, 0, "k", "v")
	table.Insert([]byte("k"), loc)

	require.True(t, table.Delete([]byte("k")))
	_, _, found := table.Get([]byte("k"), false)
	require.False(t, found)

	h := item.Decode(heap.Payload(seg)[0:])
	require.True(t, h.Tombstone)
}

func TestDelete_MissingKeyReturnsFalse(t *testing.T) {
	heap := newHeap(t, 1, 4096)
	table := hashtable.New(4, heap, nil, nil)
	require.False(t, table.Delete([]byte("nope")))
}

func TestOverflow_NinthKeyInBucketAllocatesOverflowBucket(t *testing.T) {
	heap := newHeap(t, 1, 1<<20)
	seg, _ := heap.Allocate()

	// hashPower 0 forces every key into the single bucket.
	table := hashtable.New(0, heap, nil, nil)

	var offset int32
	for i := 0; i < 9; i++ {
		key := fmt.Sprintf("k%d", i)
		loc := putItem(t, heap, seg, offset, key, "v")
		table.Insert([]byte(key), loc)
		offset += 64
	}

	for i := 0; i < 9; i++ {
		key := fmt.Sprintf("k%d", i)
		_, _, found := table.Get([]byte(key), false)
		require.True(t, found, "key %s should still be found after overflow", key)
		heap.Header(seg).UnpinReader()
	}
}

func TestRelink_MovesLiveEntry(t *testing.T) {
	heap := newHeap(t, 2, 4096)
	segA, _ := heap.Allocate()
	segB, _ := heap.Allocate()
	table := hashtable.New(4, heap, nil, nil)

	locA := putItem(t, heap, segA, 0, "k", "v")
	table.Insert([]byte("k"), locA)

	locB := putItem(t, heap, segB, 0, "k", "v")
	ok := table.Relink([]byte("k"), segA, 0, locB)
	require.True(t, ok)

	got, _, found := table.Get([]byte("k"), false)
	require.True(t, found)
	require.Equal(t, segB, got.Segment)
	heap.Header(segB).UnpinReader()
}

func TestRelink_FailsWhenOldLocatorNoLongerPresent(t *testing.T) {
	heap := newHeap(t, 2, 4096)
	segA, _ := heap.Allocate()
	segB, _ := heap.Allocate()
	table := hashtable.New(4, heap, nil, nil)

	locB := putItem(t, heap, segB, 0, "k", "v")
	ok := table.Relink([]byte("k"), segA, 0, locB)
	require.False(t, ok)
}

func TestEvictSegmentEntry_TombstonesLiveVersionAndZeroesSlot(t *testing.T) {
	heap := newHeap(t, 1, 4096)
	seg, _ := heap.Allocate()
	table := hashtable.New(4, heap, nil, nil)

	loc := putItem(t, heap, seg, 0, "k", "v")
	table.Insert([]byte("k"), loc)

	evicted := table.EvictSegmentEntry([]byte("k"), seg, 0)
	require.True(t, evicted)

	_, _, found := table.Get([]byte("k"), false)
	require.False(t, found)

	h := item.Decode(heap.Payload(seg)[0:])
	require.True(t, h.Tombstone)
}

func TestLoadStats_ReflectsOccupiedSlots(t *testing.T) {
	heap := newHeap(t, 1, 4096)
	seg, _ := heap.Allocate()
	table := hashtable.New(4, heap, nil, nil)

	stats := table.LoadStats()
	require.Zero(t, stats.LoadFactor)

	loc := putItem(t, heap, seg, 0, "k", "v")
	table.Insert([]byte("k"), loc)

	stats = table.LoadStats()
	require.Greater(t, stats.LoadFactor, 0.0)
}
