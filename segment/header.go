// Package segment owns the segment heap: an array of equal-sized byte
// regions carved from a datapool plus a parallel header array, allocation,
// a free pool, and the reference-counting lifecycle that lets readers and
// writers pin a segment against concurrent reclamation (spec.md §2
// "Segment Heap", §4.1, §4.5, §3 "Segment" / "Segment Header").
//
// Grounded on block/block_cache.go + block/null_block_cache.go (ref-count-
// shaped cache lifecycle) and block_manager.go's lock/unlock/assertLocked
// mutex discipline.
package segment

import (
	"go.uber.org/atomic"
)

// ID identifies a segment by its stable index into the heap's header
// array. None is the sentinel used for "no segment" (list termination,
// free-pool termination).
type ID int32

// None is the sentinel segment id, equivalent to the spec's -1.
const None ID = -1

// Flags are the per-segment state bits from spec.md §3.
type Flags uint32

const (
	FlagSealed Flags = 1 << iota
	FlagAccessible
	FlagInFreePool
	FlagEvictable
	FlagInitialized
)

// Header is the out-of-band metadata for one segment (spec.md §3
// "Segment Header"). DRAM-resident even when the payload lives on
// another medium. All fields are accessed atomically; there is no
// header-wide lock except the single-bit Lock used during removal.
type Header struct {
	id ID

	prev atomic.Int32 // ttl-list previous segment id, or None
	next atomic.Int32 // ttl-list next segment id, or free-list next, or None

	createdAtSec atomic.Int64
	ttlSec       atomic.Int64

	writeOffset   atomic.Int32 // next free byte; monotonic, never rolled back
	occupiedBytes atomic.Int32 // live payload bytes; decreases on delete/tombstone
	itemCount     atomic.Int32

	writerRefCount atomic.Int32
	readerRefCount atomic.Int32
	locked         atomic.Bool

	flags atomic.Uint32

	// hitCount is the access counter the "learned" eviction policy ranks
	// by. It changes only through RecordHit and ResetHitCount; lookups do
	// not record hits and re-ranking does not reset it.
	hitCount atomic.Int64
}

// ID returns this header's stable segment id.
func (h *Header) ID() ID { return h.id }

func (h *Header) Prev() ID { return ID(h.prev.Load()) }
func (h *Header) Next() ID { return ID(h.next.Load()) }
func (h *Header) SetPrev(id ID) { h.prev.Store(int32(id)) }
func (h *Header) SetNext(id ID) { h.next.Store(int32(id)) }

func (h *Header) CreatedAt() int64 { return h.createdAtSec.Load() }
func (h *Header) TTL() int64       { return h.ttlSec.Load() }

// SetTTL records the TTL (seconds) of the bucket a freshly linked segment
// belongs to; set once, right after the segment is obtained from the
// heap and before it is linked into a ttlbucket.Bucket.
func (h *Header) SetTTL(ttlSeconds int64) { h.ttlSec.Store(ttlSeconds) }

func (h *Header) WriteOffset() int32   { return h.writeOffset.Load() }
func (h *Header) OccupiedBytes() int32 { return h.occupiedBytes.Load() }
func (h *Header) ItemCount() int32     { return h.itemCount.Load() }

func (h *Header) WriterRefCount() int32 { return h.writerRefCount.Load() }
func (h *Header) ReaderRefCount() int32 { return h.readerRefCount.Load() }

func (h *Header) HitCount() int64    { return h.hitCount.Load() }
func (h *Header) ResetHitCount()     { h.hitCount.Store(0) }
func (h *Header) RecordHit()         { h.hitCount.Inc() }

// AddOccupiedBytes adjusts the live-payload counter; used on insert
// (positive) and on delete/tombstone/merge-skip (negative).
func (h *Header) AddOccupiedBytes(delta int32) { h.occupiedBytes.Add(delta) }

// AddItemCount adjusts the live item counter by delta (may be negative).
func (h *Header) AddItemCount(delta int32) { h.itemCount.Add(delta) }

func (h *Header) HasFlag(f Flags) bool {
	return Flags(h.flags.Load())&f != 0
}

func (h *Header) SetFlag(f Flags) {
	for {
		old := h.flags.Load()
		if old&uint32(f) != 0 {
			return
		}
		if h.flags.CAS(old, old|uint32(f)) {
			return
		}
	}
}

func (h *Header) ClearFlag(f Flags) {
	for {
		old := h.flags.Load()
		if old&uint32(f) == 0 {
			return
		}
		if h.flags.CAS(old, old&^uint32(f)) {
			return
		}
	}
}

// Accessible reports whether the segment may currently accept new reader
// pins or writer reservations (spec.md §4.5 "The lock bit, when set,
// forbids new reader pins and new writer reservations").
func (h *Header) Accessible() bool {
	return h.HasFlag(FlagAccessible) && !h.locked.Load()
}

// init resets a header to the state of a freshly carved, empty segment
// and records its id. Heap.Allocate calls it once per segment, when the
// bump cursor first hands that segment out; reuse goes through reset()
// and activate().
func (h *Header) init(id ID, nowSec int64) {
	h.id = id
	h.prev.Store(int32(None))
	h.next.Store(int32(None))
	h.createdAtSec.Store(nowSec)
	h.ttlSec.Store(0)
	h.writeOffset.Store(0)
	h.occupiedBytes.Store(0)
	h.itemCount.Store(0)
	h.writerRefCount.Store(0)
	h.readerRefCount.Store(0)
	h.locked.Store(false)
	h.hitCount.Store(0)
	h.flags.Store(uint32(FlagAccessible | FlagInitialized))
}

// reset zeroes a header for return to the free pool; it keeps the id.
func (h *Header) reset() {
	h.prev.Store(int32(None))
	h.next.Store(int32(None))
	h.createdAtSec.Store(0)
	h.ttlSec.Store(0)
	h.writeOffset.Store(0)
	h.occupiedBytes.Store(0)
	h.itemCount.Store(0)
	h.writerRefCount.Store(0)
	h.readerRefCount.Store(0)
	h.locked.Store(false)
	h.hitCount.Store(0)
	h.flags.Store(uint32(FlagInFreePool))
}

// activate re-initializes a segment popped from the free pool or bumped
// fresh from the allocation cursor, making it writable and linkable.
func (h *Header) activate(nowSec, ttlSec int64) {
	h.createdAtSec.Store(nowSec)
	h.ttlSec.Store(ttlSec)
	h.writeOffset.Store(0)
	h.occupiedBytes.Store(0)
	h.itemCount.Store(0)
	h.flags.Store(uint32(FlagAccessible | FlagInitialized))
}
