package segment_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/segcache/engine/segment"
)

func newHeap(t *testing.T, capacity, segSize int) *segment.Heap {
	t.Helper()
	base := make([]byte, capacity*segSize)
	h, err := segment.NewHeap(base, segSize, nil, nil)
	require.NoError(t, err)
	return h
}

func TestHeap_AllocateUntilExhausted(t *testing.T) {
	h := newHeap(t, 3, 1024)

	var ids []segment.ID
	for i := 0; i < 3; i++ {
		id, ok := h.Allocate()
		require.True(t, ok)
		ids = append(ids, id)
	}
	require.Equal(t, []segment.ID{0, 1, 2}, ids)

	_, ok := h.Allocate()
	require.False(t, ok, "heap should be exhausted")
}

func TestHeap_ReturnAndFromFreePool(t *testing.T) {
	h := newHeap(t, 2, 1024)

	id, _ := h.Allocate()
	h.Header(id).AddItemCount(5)
	h.Return(id)

	require.EqualValues(t, 1, h.FreeCount())

	got, ok := h.FromFreePool()
	require.True(t, ok)
	require.Equal(t, id, got)
	require.EqualValues(t, 0, h.Header(got).ItemCount(), "returned segment must be reset")
	require.EqualValues(t, 0, h.FreeCount())
}

func TestHeap_New_FallsBackToEviction(t *testing.T) {
	h := newHeap(t, 1, 1024)

	id, ok := h.Allocate()
	require.True(t, ok)

	evicted := false
	got, ok := h.New(func() bool {
		evicted = true
		h.Return(id)
		return true
	})
	require.True(t, ok)
	require.True(t, evicted)
	require.Equal(t, id, got)
}

func TestHeap_New_ReportsOutOfSpaceWhenEvictionFails(t *testing.T) {
	h := newHeap(t, 1, 1024)
	h.Allocate()

	_, ok := h.New(func() bool { return false })
	require.False(t, ok)
}

func TestHeader_LockWaitRefCount(t *testing.T) {
	h := newHeap(t, 1, 1024)
	id, _ := h.Allocate()
	hdr := h.Header(id)

	require.True(t, hdr.PinReader())
	require.True(t, hdr.Lock())
	require.False(t, hdr.Lock(), "second lock must fail")

	done := make(chan struct{})
	go func() {
		hdr.WaitRefCount()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitRefCount returned while a reader pin is outstanding")
	default:
	}

	hdr.UnpinReader()
	<-done
}

func TestHeader_PinFailsWhenLocked(t *testing.T) {
	h := newHeap(t, 1, 1024)
	id, _ := h.Allocate()
	hdr := h.Header(id)

	require.True(t, hdr.Lock())
	require.False(t, hdr.PinReader())
	require.False(t, hdr.PinWriter())
}

func TestHeader_FlagsRoundTrip(t *testing.T) {
	h := newHeap(t, 1, 1024)
	id, _ := h.Allocate()
	hdr := h.Header(id)

	require.True(t, hdr.HasFlag(segment.FlagAccessible))
	require.False(t, hdr.HasFlag(segment.FlagSealed))

	hdr.Seal()
	require.True(t, hdr.Sealed())
}
