package ttlbucket

import (
	"go.uber.org/atomic"

	"github.com/segcache/engine/segment"
)

// Bucket is one of the 1024 TTL buckets: a doubly linked list of segments
// all carrying (approximately) the same TTL, plus the segment currently
// being written to (spec.md §2 "TTL Bucket", §4.2).
//
// head/tail are read on the hot reservation path without taking the heap
// mutex; they are only ever mutated while holding it (spec.md §5 "TTL
// list membership... serialized by a single heap mutex"), so plain
// atomics are enough for readers and the mutex-holding writer is the only
// mutator.
type Bucket struct {
	head atomic.Int32
	tail atomic.Int32
	count atomic.Int32

	// mergeCursor is moved to the next segment when the segment it names is
	// unlinked (under the heap's link mutex). Nothing else reads or sets
	// it; the compactor's SelectRun always starts from the list head.
	mergeCursor segment.ID
}

func newBucket() *Bucket {
	b := &Bucket{}
	b.head.Store(int32(segment.None))
	b.tail.Store(int32(segment.None))
	return b
}

// Head returns the oldest (first-linked) segment in the bucket's list.
func (b *Bucket) Head() segment.ID { return segment.ID(b.head.Load()) }

// Tail returns the bucket's current active write-target segment.
func (b *Bucket) Tail() segment.ID { return segment.ID(b.tail.Load()) }

// Count returns the number of segments currently linked into the bucket.
func (b *Bucket) Count() int32 { return b.count.Load() }

// linkTail appends id as the new tail of the list. Caller must hold the
// heap's link mutex.
func (b *Bucket) linkTail(heap *segment.Heap, id segment.ID) {
	oldTail := b.Tail()
	heap.Header(id).SetPrev(oldTail)
	heap.Header(id).SetNext(segment.None)

	if oldTail == segment.None {
		b.head.Store(int32(id))
	} else {
		heap.Header(oldTail).SetNext(id)
	}
	b.tail.Store(int32(id))
	b.count.Inc()
}

// unlink removes id from the bucket's list. Caller must hold the heap's
// link mutex.
func (b *Bucket) unlink(heap *segment.Heap, id segment.ID) {
	hdr := heap.Header(id)
	prev := hdr.Prev()
	next := hdr.Next()

	if prev == segment.None {
		b.head.Store(int32(next))
	} else {
		heap.Header(prev).SetNext(next)
	}
	if next == segment.None {
		b.tail.Store(int32(prev))
	} else {
		heap.Header(next).SetPrev(prev)
	}
	if b.mergeCursor == id {
		b.mergeCursor = next
	}

	hdr.SetPrev(segment.None)
	hdr.SetNext(segment.None)
	b.count.Dec()
}
