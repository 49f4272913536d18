package engine

import (
	"github.com/pkg/errors"

	"github.com/segcache/engine/hashtable"
	"github.com/segcache/engine/item"
	"github.com/segcache/engine/segment"
	"github.com/segcache/engine/ttlbucket"
)

// ReservedItem is the in-flight handle returned by Reserve: a writer pin
// on a specific (segment, offset) that the caller commits via Insert.
// Abandoning it leaves the writer pin held: the eviction ranker and merge
// run selection then skip the segment, and a reaper removal of it blocks
// in WaitRefCount until the pin is released.
type ReservedItem struct {
	key     []byte
	segment segment.ID
	offset  int32
	hdr     item.Header
	written int // value bytes written so far, via Reserve's prefix plus any Backfill calls
}

// Reserve rounds the item's size, selects a TTL bucket for expireAt,
// reserves space, and writes the header, option bytes, key, and the
// value prefix, leaving the writer pin held for the caller (spec.md §4.9
// "reserve(key, value, value_len_total, option_len, expire_at) -> item |
// ESIZE | ENOMEM"). valueLenTotal may exceed len(value): the remainder is
// written later via Backfill. expireAt == 0 means "never expires" (maps
// to the TTL table's final bucket).
func (e *Engine) Reserve(key, option, value []byte, valueLenTotal int, expireAt int64, integerInPlace bool) (*ReservedItem, error) {
	if err := item.Validate(len(key), valueLenTotal, len(option)); err != nil {
		return nil, errors.Wrap(ErrOversized, err.Error())
	}
	if len(value) > valueLenTotal {
		return nil, errors.Wrap(ErrOversized, "value longer than valueLenTotal")
	}

	h := item.Header{KeyLen: len(key), ValueLen: valueLenTotal, OptionLen: len(option), IntegerInPlace: integerInPlace}
	size := h.Size()
	if size > e.heap.SegmentSize() {
		return nil, ErrOversized
	}

	ttl := ttlFromExpireAt(e, expireAt)

	segID, offset, err := e.table.ReserveItem(ttl, size, e.evict)
	if err != nil {
		if errors.Is(err, ttlbucket.ErrOutOfMemory) {
			return nil, ErrOutOfMemory
		}
		return nil, err
	}

	buf := e.heap.Payload(segID)[offset : int(offset)+size]
	for i := range buf {
		buf[i] = 0
	}
	item.Encode(buf, h)
	copy(item.Option(buf, h), option)
	copy(item.Key(buf, h), key)
	if len(value) > 0 {
		copy(item.Value(buf, h), value)
	}

	return &ReservedItem{
		key:     append([]byte(nil), key...),
		segment: segID,
		offset:  offset,
		hdr:     h,
		written: len(value),
	}, nil
}

// Backfill appends additional value bytes to a previously reserved item
// (spec.md §4.9 "backfill(item, value_chunk)").
func (ri *ReservedItem) Backfill(e *Engine, chunk []byte) error {
	buf := e.heap.Payload(ri.segment)[ri.offset:]
	area := item.Value(buf, ri.hdr)
	if ri.written+len(chunk) > len(area) {
		return errors.New("engine: backfill chunk exceeds reserved value length")
	}
	copy(area[ri.written:], chunk)
	ri.written += len(chunk)
	return nil
}

// Insert publishes a reserved item in the hash index and releases the
// writer pin Reserve left held (spec.md §4.9 "insert(item). Publishes
// the item in the hash index, releasing the writer pin.").
func (e *Engine) Insert(ri *ReservedItem) {
	hdr := e.heap.Header(ri.segment)
	hdr.AddOccupiedBytes(int32(ri.hdr.Size()))
	hdr.AddItemCount(1)

	e.index.Insert(ri.key, hashtable.Locator{Segment: ri.segment, Offset: ri.offset})
	hdr.UnpinWriter()
}

// ttlFromExpireAt converts an absolute expiry instant to a TTL in
// seconds relative to e's clock; expireAt == 0 is the spec's "never
// expires" sentinel and is passed through unchanged (ttlbucket.BucketIndex
// maps TTL == 0 to its final, non-expiring bucket).
func ttlFromExpireAt(e *Engine, expireAt int64) int64 {
	if expireAt == 0 {
		return 0
	}
	ttl := expireAt - e.nowSec()
	if ttl < 0 {
		ttl = 1
	}
	return ttl
}
