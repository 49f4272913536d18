package segment

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/segcache/engine/clock"
	"github.com/segcache/engine/logging"
	"github.com/segcache/engine/metrics"
)

var log = logging.Module("segcache/segment")

// Heap owns an array of equal-sized segments carved from a datapool plus
// a parallel array of segment headers, a bump allocation cursor and a
// free pool (spec.md §2 "Segment Heap", §4.1).
//
// The same mutex that guards the free pool also serializes TTL-list
// link/unlink across the whole engine (spec.md §5 "TTL list membership...
// serialized by a single heap mutex. Free pool: serialized by the same
// heap mutex."); ttlbucket.Table takes a *Heap and uses LinkMu for that
// purpose instead of owning a second lock.
type Heap struct {
	clock   *clock.Source
	metrics metrics.Recorder

	segmentSize int
	payloads    [][]byte
	headers     []Header

	cursor   atomic.Int32
	capacity int32

	mu       sync.Mutex // the "heap mutex": free pool + TTL-list membership
	freeHead atomic.Int32
	freeLen  atomic.Int32
}

// NewHeap carves base into capacity segments of segmentSize bytes each.
func NewHeap(base []byte, segmentSize int, c *clock.Source, m metrics.Recorder) (*Heap, error) {
	if segmentSize <= 0 || len(base) < segmentSize {
		return nil, errors.Errorf("invalid segment size %d for base of %d bytes", segmentSize, len(base))
	}
	if m == nil {
		m = metrics.Nop{}
	}

	capacity := len(base) / segmentSize

	h := &Heap{
		clock:       c,
		metrics:     m,
		segmentSize: segmentSize,
		payloads:    make([][]byte, capacity),
		headers:     make([]Header, capacity),
		capacity:    int32(capacity),
	}
	h.freeHead.Store(int32(None))

	for i := 0; i < capacity; i++ {
		h.payloads[i] = base[i*segmentSize : (i+1)*segmentSize]
	}

	return h, nil
}

// Capacity is the total number of segments the heap was carved into.
func (h *Heap) Capacity() int32 { return h.capacity }

// SegmentSize is the fixed per-segment byte size.
func (h *Heap) SegmentSize() int { return h.segmentSize }

// Header returns the header for id. Callers must only pass ids returned
// by this Heap.
func (h *Heap) Header(id ID) *Header { return &h.headers[id] }

// Payload returns the raw backing bytes for id.
func (h *Heap) Payload(id ID) []byte { return h.payloads[id] }

// LinkMu is the heap mutex ttlbucket.Table serializes TTL-list
// link/unlink through.
func (h *Heap) LinkMu() *sync.Mutex { return &h.mu }

// FreeCount reports how many segments currently sit in the free pool.
func (h *Heap) FreeCount() int32 { return h.freeLen.Load() }

// Allocate atomically bumps the heap's cursor; returns a fresh segment id
// if the cursor is below capacity, else None (spec.md §4.1).
func (h *Heap) Allocate() (ID, bool) {
	for {
		cur := h.cursor.Load()
		if cur >= h.capacity {
			return None, false
		}
		if h.cursor.CAS(cur, cur+1) {
			id := ID(cur)
			h.headers[id].init(id, h.nowSec())
			h.metrics.IncSegmentsAllocated()
			return id, true
		}
	}
}

// FromFreePool pops a segment id from the singly linked free list under
// the heap mutex (spec.md §4.1).
func (h *Heap) FromFreePool() (ID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	head := ID(h.freeHead.Load())
	if head == None {
		return None, false
	}

	next := h.headers[head].Next()
	h.freeHead.Store(int32(next))
	h.freeLen.Dec()
	h.headers[head].ClearFlag(FlagInFreePool)
	h.headers[head].activate(h.nowSec(), 0)
	h.metrics.IncSegmentsAllocated()

	return head, true
}

// Return pushes id onto the free list under the heap mutex and resets its
// header, per spec.md §4.1 return_segment and §3 removal's final step
// ("zeroes its state, and returns it to the free pool").
func (h *Heap) Return(id ID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.headers[id].reset()
	h.headers[id].SetNext(ID(h.freeHead.Load()))
	h.freeHead.Store(int32(id))
	h.freeLen.Inc()
}

// New tries Allocate, then FromFreePool, then asks prepareVictim to make
// room (prepareVictim is expected to select and fully evict one segment,
// ending with a call to Return) and retries FromFreePool once more,
// matching spec.md §4.1 new_segment's three-step fallback. Returns false
// only when prepareVictim itself reports it could not free anything,
// which the caller reports as out-of-space (spec.md §4.1, §7
// OUT_OF_MEMORY).
func (h *Heap) New(prepareVictim func() bool) (ID, bool) {
	if id, ok := h.Allocate(); ok {
		return id, true
	}
	if id, ok := h.FromFreePool(); ok {
		return id, true
	}
	if !prepareVictim() {
		return None, false
	}
	return h.FromFreePool()
}

func (h *Heap) nowSec() int64 {
	if h.clock == nil {
		return 0
	}
	return h.clock.NowSeconds()
}
