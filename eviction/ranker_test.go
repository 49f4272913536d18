package eviction_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/segcache/engine/eviction"
	"github.com/segcache/engine/internal/segtest"
	"github.com/segcache/engine/segment"
)

func newHeap(t *testing.T, capacity, segSize int) *segment.Heap {
	return segtest.NewHeap(t, capacity, segSize)
}

func TestNextVictim_SkipsWriterPinnedAndFreePoolSegments(t *testing.T) {
	heap := newHeap(t, 3, 1024)
	idA, _ := heap.Allocate()
	idB, _ := heap.Allocate()
	idC, _ := heap.Allocate()

	heap.Header(idA).PinWriter()
	heap.Return(idC)

	r := eviction.New(eviction.FIFO, heap, nil, time.Hour, nil)

	got, ok := r.NextVictim()
	require.True(t, ok)
	require.Equal(t, idB, got)
}

func TestNextVictim_ReturnsFalseWhenNothingEligible(t *testing.T) {
	heap := newHeap(t, 1, 1024)
	id, _ := heap.Allocate()
	heap.Header(id).PinWriter()

	r := eviction.New(eviction.FIFO, heap, nil, time.Hour, nil)

	_, ok := r.NextVictim()
	require.False(t, ok)
}

func TestFIFO_OrdersByCreationTime(t *testing.T) {
	heap := newHeap(t, 3, 1024)
	idA, _ := heap.Allocate()
	idB, _ := heap.Allocate()
	idC, _ := heap.Allocate()

	r := eviction.New(eviction.FIFO, heap, nil, time.Hour, nil)

	got, ok := r.NextVictim()
	require.True(t, ok)
	require.Equal(t, idA, got)

	got2, ok := r.NextVictim()
	require.True(t, ok)
	require.Equal(t, idB, got2)

	got3, ok := r.NextVictim()
	require.True(t, ok)
	require.Equal(t, idC, got3)
}

func TestUtilization_OrdersByOccupiedBytes(t *testing.T) {
	heap := newHeap(t, 2, 1024)
	idA, _ := heap.Allocate()
	idB, _ := heap.Allocate()

	heap.Header(idA).AddOccupiedBytes(500)
	heap.Header(idB).AddOccupiedBytes(10)

	r := eviction.New(eviction.Utilization, heap, nil, time.Hour, nil)

	got, ok := r.NextVictim()
	require.True(t, ok)
	require.Equal(t, idB, got)
}

func TestLearned_OrdersByHitCount(t *testing.T) {
	heap := newHeap(t, 2, 1024)
	idA, _ := heap.Allocate()
	idB, _ := heap.Allocate()

	heap.Header(idA).RecordHit()
	heap.Header(idA).RecordHit()
	heap.Header(idB).RecordHit()

	r := eviction.New(eviction.Learned, heap, nil, time.Hour, nil)

	got, ok := r.NextVictim()
	require.True(t, ok)
	require.Equal(t, idB, got)
}

func TestMergeFIFO_OrdersByCreationTimeLikeFIFO(t *testing.T) {
	heap := newHeap(t, 3, 1024)
	idA, _ := heap.Allocate()
	idB, _ := heap.Allocate()
	idC, _ := heap.Allocate()

	r := eviction.New(eviction.MergeFIFO, heap, nil, time.Hour, nil)

	got, ok := r.NextVictim()
	require.True(t, ok)
	require.Equal(t, idA, got)

	got2, ok := r.NextVictim()
	require.True(t, ok)
	require.Equal(t, idB, got2)

	got3, ok := r.NextVictim()
	require.True(t, ok)
	require.Equal(t, idC, got3)
}

func TestRandom_VisitsEverySegmentExactlyOncePerPass(t *testing.T) {
	heap := newHeap(t, 5, 1024)
	for i := 0; i < 5; i++ {
		heap.Allocate()
	}

	r := eviction.New(eviction.Random, heap, nil, time.Hour, nil)

	seen := map[segment.ID]bool{}
	for i := 0; i < 5; i++ {
		got, ok := r.NextVictim()
		require.True(t, ok)
		seen[got] = true
	}
	require.Len(t, seen, 5)
}
