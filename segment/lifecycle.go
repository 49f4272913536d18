package segment

import "runtime"

// Lock attempts to acquire this segment's single lock bit via atomic
// exchange; it succeeds only for the first caller (spec.md §4.5 "lock(id):
// atomic exchange of the lock byte from 0→1; returns success only to the
// first acquirer").
func (h *Header) Lock() bool {
	return h.locked.CAS(false, true)
}

// Unlock releases the lock bit. Only the holder should call this.
func (h *Header) Unlock() {
	h.locked.Store(false)
}

// WaitRefCount spins until both the writer and reader ref-counts are
// observed at zero. Must be called only after Lock succeeds, at which
// point the counts can only drop (spec.md §4.5, §5 "the only unbounded
// wait; it terminates once all pinned readers and writers complete").
func (h *Header) WaitRefCount() {
	for h.writerRefCount.Load() != 0 || h.readerRefCount.Load() != 0 {
		runtime.Gosched()
	}
}

// PinReader attempts to take a reader pin. It fails (and leaves the count
// unchanged) if the segment is not accessible once pinned, matching the
// spec's fetch-add-then-check-then-fetch-sub shape.
func (h *Header) PinReader() bool {
	h.readerRefCount.Inc()
	if !h.Accessible() {
		h.readerRefCount.Dec()
		return false
	}
	return true
}

// UnpinReader releases a reader pin taken by PinReader.
func (h *Header) UnpinReader() {
	h.readerRefCount.Dec()
}

// PinWriter attempts to take a writer pin (an in-flight reservation).
func (h *Header) PinWriter() bool {
	h.writerRefCount.Inc()
	if !h.Accessible() {
		h.writerRefCount.Dec()
		return false
	}
	return true
}

// UnpinWriter releases a writer pin taken by PinWriter.
func (h *Header) UnpinWriter() {
	h.writerRefCount.Dec()
}

// TryReserve attempts to bump this segment's write offset by size bytes
// using a compare-exchange loop (spec.md §4.2 "atomically bumps the
// active segment's write offset by size using a compare-exchange loop").
//
// On success it returns the reserved start offset, ok=true, and has
// already incremented the writer ref-count for the caller to release
// after the write completes. When the reservation would overflow the
// segment (or the segment has already been sealed by a prior caller
// making the same discovery), it returns ok=false and overflowed=true
// along with the offset the caller should zero-fill from; at most one
// caller's CAS actually transitions writeOffset to segSize; everyone
// else observes that already-sealed state and zero-fills a zero-length
// tail, which is harmless (spec.md §4.2 "concurrent reservations after
// overflow obtain a fresh segment").
func (h *Header) TryReserve(segSize, size int32) (offset int32, ok bool, overflowed bool) {
	for {
		if !h.Accessible() {
			return 0, false, false
		}

		old := h.writeOffset.Load()
		if old >= segSize {
			return segSize, false, true
		}

		newOff := old + size
		if newOff > segSize {
			if h.writeOffset.CAS(old, segSize) {
				return old, false, true
			}
			continue
		}

		if h.writeOffset.CAS(old, newOff) {
			h.writerRefCount.Inc()
			return old, true, false
		}
	}
}

// Seal marks the segment sealed. It does not touch the write offset or
// block TryReserve by itself; ttlbucket.Table.ReserveItem seals a segment
// only after TryReserve has pushed its write offset to the segment size,
// after which every further TryReserve on it reports overflow.
func (h *Header) Seal() {
	h.SetFlag(FlagSealed)
}

// Sealed reports whether Seal has been called.
func (h *Header) Sealed() bool {
	return h.HasFlag(FlagSealed)
}

// MarkEvictable / ClearEvictable toggle the bit that ttlbucket's SelectRun
// requires for merge eligibility; the eviction ranker's NextVictim skips a
// sealed segment while it's unset (e.g. while pinned for merge).
func (h *Header) MarkEvictable()  { h.SetFlag(FlagEvictable) }
func (h *Header) ClearEvictable() { h.ClearFlag(FlagEvictable) }
func (h *Header) Evictable() bool { return h.HasFlag(FlagEvictable) }
