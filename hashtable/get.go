package hashtable

import "github.com/segcache/engine/segment"

// Get looks up key, optionally bumping its frequency counter, and pins
// the owning segment's reader ref-count before returning so the caller
// is guaranteed the segment cannot be reclaimed out from under it
// (spec.md §4.4, §5 "a get that observes a key in the index is
// guaranteed to pin the containing segment before a concurrent eviction
// can reclaim it, OR to fail cleanly"). The caller must release the pin
// via segment.Header.UnpinReader once done reading.
//
// The fast path is lock-free: a relaxed load of each slot, a tag check,
// and a bytewise key verification. Only if a tag matches is the segment
// pinned, after which the slot is re-read and compared to catch a
// concurrent replace (spec.md §4.4 "if they will pin a segment they must
// re-read the slot after incrementing the reference and verify it
// unchanged, else fail the lookup").
func (t *Table) Get(key []byte, incrFreq bool) (Locator, uint32, bool) {
	t.metrics.IncHashLookups()

	h := t.hash(key)
	b := &t.buckets[t.bucketIndex(h)]
	tag := t.tag(h)

	t.maybeAge(b)

	cur := b.link()
	for {
		for _, slot := range cur.slots {
			v := slot.Load()
			if v == 0 {
				continue
			}
			loc := decodeLocator(v)
			if loc.Tag != tag {
				continue
			}
			if !t.lookupKeyMatches(loc, key) {
				t.metrics.IncHashCollisions()
				continue
			}

			hdr := t.heap.Header(loc.Segment)
			if !hdr.PinReader() {
				continue
			}
			if slot.Load() != v {
				hdr.UnpinReader()
				continue
			}

			if incrFreq {
				t.bumpFrequency(slot)
			}
			return loc, b.casGen.Load(), true
		}

		next := cur.next.Load()
		if next == nil {
			break
		}
		cur = next.link()
	}

	return Locator{}, 0, false
}

// Delete removes every hash entry for key, tombstoning the items they
// referenced (spec.md §4.4 "Delete. Walk the chain, zero every slot whose
// tag and key match; tombstone the pointed-to items").
func (t *Table) Delete(key []byte) bool {
	h := t.hash(key)
	b := &t.buckets[t.bucketIndex(h)]
	tag := t.tag(h)

	b.acquire()
	defer b.release()

	existed := false
	cur := b.link()
	for {
		for _, slot := range cur.slots {
			v := slot.Load()
			if v == 0 {
				continue
			}
			loc := decodeLocator(v)
			if loc.Tag != tag || !t.lookupKeyMatches(loc, key) {
				continue
			}
			slot.Store(0)
			t.tombstoneAndAccount(loc)
			existed = true
		}

		next := cur.next.Load()
		if next == nil {
			break
		}
		cur = next.link()
	}

	if existed {
		b.casGen.Inc()
	}
	return existed
}

// EvictSegmentEntry removes the hash entry for key that points at exactly
// (seg, offset), used by the reaper and merge compactor when reclaiming a
// segment (spec.md §4.4 "Evict-all-for-segment"). The first matching
// entry found determines whether the evictee was still the live version
// of key: if so, its item bytes are tombstoned; every matching slot is
// zeroed regardless, preserving the invariant that a tombstone always
// marks the latest version (spec.md §GLOSSARY "Tombstone").
func (t *Table) EvictSegmentEntry(key []byte, seg segment.ID, offset int32) bool {
	h := t.hash(key)
	b := &t.buckets[t.bucketIndex(h)]
	tag := t.tag(h)

	b.acquire()
	defer b.release()

	found := false
	cur := b.link()
	for {
		for _, slot := range cur.slots {
			v := slot.Load()
			if v == 0 {
				continue
			}
			loc := decodeLocator(v)
			if loc.Tag != tag || loc.Segment != seg || loc.Offset != offset {
				continue
			}
			if !found {
				found = true
				t.tombstoneAndAccount(loc)
			}
			slot.Store(0)
		}

		next := cur.next.Load()
		if next == nil {
			break
		}
		cur = next.link()
	}

	if found {
		b.casGen.Inc()
	}
	return found
}

// Relink atomically repoints key's hash entry from (oldSeg, oldOffset) to
// newLoc, declining if the slot changed since the caller last observed it
// (spec.md §4.4 "Relink... decline if the slot has changed since read").
// Stale duplicate entries for the same key that come after the relinked
// slot in the chain are zeroed without tombstoning, since they are
// already stale; duplicates earlier in the chain are left as they are.
func (t *Table) Relink(key []byte, oldSeg segment.ID, oldOffset int32, newLoc Locator) bool {
	h := t.hash(key)
	b := &t.buckets[t.bucketIndex(h)]
	tag := t.tag(h)
	newLoc.Tag = tag

	b.acquire()
	defer b.release()

	relinked := false
	cur := b.link()
	for {
		for _, slot := range cur.slots {
			v := slot.Load()
			if v == 0 {
				continue
			}
			loc := decodeLocator(v)
			if loc.Tag != tag {
				continue
			}

			if !relinked && loc.Segment == oldSeg && loc.Offset == oldOffset {
				if slot.CAS(v, encodeLocator(newLoc)) {
					relinked = true
				}
				continue
			}

			if relinked && t.lookupKeyMatches(loc, key) {
				slot.Store(0)
			}
		}

		next := cur.next.Load()
		if next == nil {
			break
		}
		cur = next.link()
	}

	if relinked {
		b.casGen.Inc()
	}
	return relinked
}

// Stats reports index-wide observability fields, as returned by
// Table.LoadStats (its LoadFactor feeds the hash_load_factor gauge).
type Stats struct {
	Buckets    int
	LoadFactor float64
}

// LoadStats walks every bucket counting occupied slots; intended for
// periodic metrics collection, not the hot path.
func (t *Table) LoadStats() Stats {
	occupied := 0
	total := 0

	for i := range t.buckets {
		b := &t.buckets[i]
		cur := b.link()
		for {
			for _, slot := range cur.slots {
				total++
				if slot.Load() != 0 {
					occupied++
				}
			}
			next := cur.next.Load()
			if next == nil {
				break
			}
			cur = next.link()
		}
	}

	var lf float64
	if total > 0 {
		lf = float64(occupied) / float64(total)
	}
	return Stats{Buckets: len(t.buckets), LoadFactor: lf}
}
