package ttlbucket

import (
	"github.com/pkg/errors"

	"github.com/segcache/engine/clock"
	"github.com/segcache/engine/item"
	"github.com/segcache/engine/logging"
	"github.com/segcache/engine/metrics"
	"github.com/segcache/engine/segment"
)

var log = logging.Module("segcache/ttlbucket")

// ErrOutOfMemory is returned when the segment heap cannot produce a fresh
// segment even after asking the caller-supplied eviction hook to make
// room (spec.md §7 OUT_OF_MEMORY).
var ErrOutOfMemory = errors.New("segment heap exhausted")

// reserveAttemptLimit bounds the retry loop in ReserveItem as a safety
// valve against a stuck eviction hook; ordinary overflow/race handling
// resolves in one or two iterations.
const reserveAttemptLimit = 64

// Table is the fixed 1024-bucket TTL index (spec.md §2 "TTL Bucket
// Table", §4.2).
//
// Grounded on block/list_cache.go's head/tail/count list bookkeeping,
// generalized from one list to 1024 addressed by BucketIndex.
type Table struct {
	heap    *segment.Heap
	clock   *clock.Source
	metrics metrics.Recorder

	buckets [NumBuckets]*Bucket
}

// New builds an empty table bound to heap.
func New(heap *segment.Heap, c *clock.Source, m metrics.Recorder) *Table {
	if m == nil {
		m = metrics.Nop{}
	}
	t := &Table{heap: heap, clock: c, metrics: m}
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// Bucket returns the bucket at idx (as produced by BucketIndex).
func (t *Table) Bucket(idx int) *Bucket { return t.buckets[idx] }

// ReserveItem reserves size bytes for a new item in the bucket matching
// ttlSeconds, growing the bucket's segment list with a fresh segment when
// the current tail is full or gone (spec.md §4.2 reserve_item).
//
// On success it returns the segment to write into and the byte offset to
// write at; the segment's writer ref-count has already been incremented
// and the caller must release it (segment.Header.UnpinWriter) once the
// item bytes have been written. evictFn is invoked (via segment.Heap.New)
// only if the heap has no free segment; it must select and fully evict
// one segment, ending with a call to segment.Heap.Return, and report
// whether it succeeded.
func (t *Table) ReserveItem(ttlSeconds int64, size int, evictFn func() bool) (segment.ID, int32, error) {
	idx := BucketIndex(ttlSeconds)
	b := t.buckets[idx]

	for attempt := 0; attempt < reserveAttemptLimit; attempt++ {
		segID := b.Tail()

		if segID == segment.None {
			if err := t.growBucket(b, ttlSeconds, evictFn); err != nil {
				return segment.None, 0, err
			}
			continue
		}

		hdr := t.heap.Header(segID)
		offset, ok, overflowed := hdr.TryReserve(int32(t.heap.SegmentSize()), int32(size))
		if ok {
			return segID, offset, nil
		}

		if overflowed {
			item.ZeroTail(t.heap.Payload(segID), int(offset))
			hdr.Seal()
			hdr.MarkEvictable()
		}

		if err := t.growBucket(b, ttlSeconds, evictFn); err != nil {
			return segment.None, 0, err
		}
	}

	return segment.None, 0, errors.New("ttlbucket: exceeded reservation retry limit")
}

// growBucket links a fresh segment as the bucket's new tail.
func (t *Table) growBucket(b *Bucket, ttlSeconds int64, evictFn func() bool) error {
	id, ok := t.heap.New(evictFn)
	if !ok {
		return ErrOutOfMemory
	}

	t.heap.Header(id).SetTTL(ttlSeconds)

	mu := t.heap.LinkMu()
	mu.Lock()
	b.linkTail(t.heap, id)
	mu.Unlock()

	return nil
}

// UnlinkHead removes and returns the bucket's oldest segment (head of
// list). Returns segment.None if the bucket is empty. The reaper unlinks
// through Unlink and the compactor through ReplaceRun/RemoveRun, not
// through UnlinkHead.
func (t *Table) UnlinkHead(idx int) segment.ID {
	b := t.buckets[idx]

	mu := t.heap.LinkMu()
	mu.Lock()
	defer mu.Unlock()

	head := b.Head()
	if head == segment.None {
		return segment.None
	}
	b.unlink(t.heap, head)
	return head
}

// Unlink removes a specific segment from its bucket's list. Caller must
// know which bucket id belongs to (e.g. from segment.Header.TTL via
// BucketIndex).
func (t *Table) Unlink(idx int, id segment.ID) {
	mu := t.heap.LinkMu()
	mu.Lock()
	defer mu.Unlock()
	t.buckets[idx].unlink(t.heap, id)
}

// SelectRun walks bucket idx from its head, collecting up to maxRun
// consecutive segments that are sealed, marked evictable, and have no
// outstanding writer, stopping at the first segment that fails any of
// those tests or at list end (spec.md §4.7 "choosing a run of up to N
// consecutive merge-eligible segments").
func (t *Table) SelectRun(idx int, maxRun int) []segment.ID {
	var run []segment.ID

	id := t.buckets[idx].Head()
	for id != segment.None && len(run) < maxRun {
		hdr := t.heap.Header(id)
		if !hdr.Sealed() || !hdr.Evictable() || hdr.WriterRefCount() != 0 {
			break
		}
		run = append(run, id)
		id = hdr.Next()
	}
	return run
}

// ReplaceRun atomically splices dest into bucket idx's list in place of
// the consecutive segments in run, then returns every segment in run to
// the heap's free pool (spec.md §4.7 "link it in the TTL bucket in the
// position of the first source, and return all consumed sources to the
// free pool under the heap mutex").
func (t *Table) ReplaceRun(idx int, run []segment.ID, dest segment.ID) {
	if len(run) == 0 {
		return
	}
	b := t.buckets[idx]

	mu := t.heap.LinkMu()
	mu.Lock()
	first, last := run[0], run[len(run)-1]
	prev := t.heap.Header(first).Prev()
	next := t.heap.Header(last).Next()

	destHdr := t.heap.Header(dest)
	destHdr.SetPrev(prev)
	destHdr.SetNext(next)

	if prev == segment.None {
		b.head.Store(int32(dest))
	} else {
		t.heap.Header(prev).SetNext(dest)
	}
	if next == segment.None {
		b.tail.Store(int32(dest))
	} else {
		t.heap.Header(next).SetPrev(dest)
	}
	b.count.Add(int32(1 - len(run)))

	for _, id := range run {
		t.heap.Header(id).SetPrev(segment.None)
		t.heap.Header(id).SetNext(segment.None)
	}
	mu.Unlock()

	for _, id := range run {
		t.heap.Return(id)
	}
}

// RemoveRun splices run's segments out of bucket idx's list without
// inserting a replacement, then returns each to the heap's free pool
// (spec.md §4.7 "If the destination ends up with <= 8 bytes of live
// payload, unlink it and return it to the free pool" — the companion
// path where the merge destination itself is discarded and only the
// consumed sources need removing from the bucket).
func (t *Table) RemoveRun(idx int, run []segment.ID) {
	if len(run) == 0 {
		return
	}
	b := t.buckets[idx]

	mu := t.heap.LinkMu()
	mu.Lock()
	first, last := run[0], run[len(run)-1]
	prev := t.heap.Header(first).Prev()
	next := t.heap.Header(last).Next()

	if prev == segment.None {
		b.head.Store(int32(next))
	} else {
		t.heap.Header(prev).SetNext(next)
	}
	if next == segment.None {
		b.tail.Store(int32(prev))
	} else {
		t.heap.Header(next).SetPrev(prev)
	}
	b.count.Add(int32(-len(run)))

	for _, id := range run {
		t.heap.Header(id).SetPrev(segment.None)
		t.heap.Header(id).SetNext(segment.None)
	}
	mu.Unlock()

	for _, id := range run {
		t.heap.Return(id)
	}
}
