package hashtable

import (
	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"

	"github.com/segcache/engine/clock"
	"github.com/segcache/engine/item"
	"github.com/segcache/engine/logging"
	"github.com/segcache/engine/metrics"
	"github.com/segcache/engine/segment"
)

var log = logging.Module("segcache/hashtable")

// Table is the fixed-size (2^hashPower buckets) concurrent hash index
// (spec.md §2 "Hash Index", §4.4). Hash resize is an explicit non-goal;
// hash_power is fixed for the table's lifetime (spec.md §8).
//
// Grounded on block/committed_block_index.go's bucket-keyed lookup shape,
// generalized to one spin-lock per bucket instead of one mutex for the
// whole index.
type Table struct {
	heap    *segment.Heap
	clock   *clock.Source
	metrics metrics.Recorder

	hashPower uint
	mask      uint64
	buckets   []headBucket
}

// New builds a table with 2^hashPower buckets.
func New(hashPower uint, heap *segment.Heap, c *clock.Source, m metrics.Recorder) *Table {
	if m == nil {
		m = metrics.Nop{}
	}
	n := uint64(1) << hashPower
	return &Table{
		heap:      heap,
		clock:     c,
		metrics:   m,
		hashPower: hashPower,
		mask:      n - 1,
		buckets:   make([]headBucket, n),
	}
}

// BucketCount returns 2^hashPower, the fixed number of head buckets.
func (t *Table) BucketCount() int { return len(t.buckets) }

func (t *Table) hash(key []byte) uint64 { return xxhash.Sum64(key) }

// bucketIndex takes the low hashPower bits of h as the bucket selector,
// leaving the high bits free to serve as the tag (spec.md §4.4 "the low
// bits select a bucket... the top 12 bits form a tag").
func (t *Table) bucketIndex(h uint64) uint64 { return h & t.mask }

func (t *Table) tag(h uint64) uint16 { return uint16(h >> 52) }

func (t *Table) nowSec() int64 {
	if t.clock == nil {
		return 0
	}
	return t.clock.NowSeconds()
}

// lookupKeyMatches verifies that loc still references an item whose key
// bytes equal key, guarding against a stale or torn locator (spec.md §4.4
// "verify the key matches by bytewise compare against the item in the
// referenced segment").
func (t *Table) lookupKeyMatches(loc Locator, key []byte) bool {
	if loc.Segment == segment.None {
		return false
	}
	payload := t.heap.Payload(loc.Segment)
	off := int(loc.Offset)
	if off < 0 || off+item.HeaderSize > len(payload) {
		return false
	}
	h := item.Decode(payload[off:])
	if h.IsZero() {
		return false
	}
	end := off + h.Size()
	if end > len(payload) {
		return false
	}
	return bytesEqual(item.Key(payload[off:end], h), key)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tombstoneAndAccount marks the item at loc tombstoned and decrements its
// owning segment's live-byte and item-count accounting (spec.md §4.4
// "mark the old item tombstoned and decrement its segment's live-bytes
// and item-count").
func (t *Table) tombstoneAndAccount(loc Locator) {
	if loc.Segment == segment.None {
		return
	}
	payload := t.heap.Payload(loc.Segment)
	off := int(loc.Offset)
	if off < 0 || off+item.HeaderSize > len(payload) {
		return
	}
	h := item.Decode(payload[off:])
	if h.IsZero() {
		return
	}
	item.SetTombstone(payload[off:])

	hdr := t.heap.Header(loc.Segment)
	hdr.AddOccupiedBytes(-int32(h.Size()))
	hdr.AddItemCount(-1)
	t.metrics.IncItemsDeleted()
}

// Insert publishes loc for key, replacing any existing entry for the
// same key and evicting stale duplicates found later in the chain, or
// appending an overflow bucket if the chain is full (spec.md §4.4
// "Insert-with-replace").
func (t *Table) Insert(key []byte, loc Locator) {
	h := t.hash(key)
	b := &t.buckets[t.bucketIndex(h)]
	tag := t.tag(h)
	loc.Tag = tag

	b.acquire()
	defer b.release()

	var firstEmpty *atomic.Uint64
	var lastNext *atomic.Pointer[overflowBucket]
	replaced := false

	cur := b.link()
	for {
		for _, slot := range cur.slots {
			v := slot.Load()
			if v == 0 {
				if firstEmpty == nil {
					firstEmpty = slot
				}
				continue
			}
			l := decodeLocator(v)
			if l.Tag != tag || !t.lookupKeyMatches(l, key) {
				continue
			}
			if !replaced {
				slot.Store(encodeLocator(loc))
				replaced = true
			} else {
				slot.Store(0)
			}
			t.tombstoneAndAccount(l)
		}

		lastNext = cur.next
		next := cur.next.Load()
		if next == nil {
			break
		}
		cur = next.link()
	}

	switch {
	case replaced:
		// already written above.
	case firstEmpty != nil:
		firstEmpty.Store(encodeLocator(loc))
	default:
		ob := &overflowBucket{}
		ob.slots[0].Store(encodeLocator(loc))
		lastNext.Store(ob)
		b.chainLen.Inc()
	}

	b.casGen.Inc()
	t.metrics.IncItemsInserted()
}
