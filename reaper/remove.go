// Package reaper implements segment removal: the single procedure spec.md
// §3 calls "removal" (lock, unlink, evict every hash entry pointing in,
// drain readers, zero, return to the free pool) plus the cooperative
// background task that applies it to expired and flushed segments
// (spec.md §2 "Expiration Reaper", §4.8).
//
// Grounded on block/disk_block_cache.go's sweepDirectoryPeriodically
// (ticker + close-channel loop sweeping one resource per tick) for the
// background task, and block_manager.go's lock/unlock/assertLocked
// discipline for the removal sequence itself.
package reaper

import (
	"github.com/segcache/engine/hashtable"
	"github.com/segcache/engine/item"
	"github.com/segcache/engine/logging"
	"github.com/segcache/engine/metrics"
	"github.com/segcache/engine/segment"
	"github.com/segcache/engine/ttlbucket"
)

var log = logging.Module("segcache/reaper")

// Remover is the shared removal routine: expiration, global flush and
// eviction-ranker selection all retire a segment through the same
// sequence (the merge compactor does not use it; it returns its sources
// and discarded destinations via ttlbucket.Table.ReplaceRun/RemoveRun and
// segment.Heap.Return) (spec.md §3 "Removal always: locks the segment, unlinks from
// its TTL list, removes all hash entries pointing into it, drains readers
// to zero, zeroes its state, and returns it to the free pool").
type Remover struct {
	heap    *segment.Heap
	table   *ttlbucket.Table
	index   *hashtable.Table
	metrics metrics.Recorder
}

// NewRemover builds a Remover bound to heap/table/index.
func NewRemover(heap *segment.Heap, table *ttlbucket.Table, index *hashtable.Table, m metrics.Recorder) *Remover {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Remover{heap: heap, table: table, index: index, metrics: m}
}

// Remove retires id, which must currently be linked in TTL bucket idx.
// Returns false without taking any action if another caller is already
// removing id (the lock bit's single-acquirer guarantee, spec.md §4.5).
func (r *Remover) Remove(idx int, id segment.ID) bool {
	hdr := r.heap.Header(id)
	if !hdr.Lock() {
		return false
	}

	hdr.WaitRefCount()

	r.table.Unlink(idx, id)
	r.evictAllEntries(id)

	r.heap.Return(id)
	r.metrics.IncSegmentsEvicted()
	return true
}

// evictAllEntries walks id's payload and removes every hash entry that
// still points into it, tombstoning whichever version the index
// considers live (spec.md §4.4 "Evict-all-for-segment").
func (r *Remover) evictAllEntries(id segment.ID) {
	payload := r.heap.Payload(id)
	item.Scan(payload, func(h item.Header, offset int, encoded []byte) bool {
		if h.Tombstone {
			return true
		}
		key := item.Key(encoded, h)
		r.index.EvictSegmentEntry(key, id, int32(offset))
		return true
	})
}
