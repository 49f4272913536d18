package compact

import (
	"github.com/pkg/errors"

	"github.com/segcache/engine/hashtable"
	"github.com/segcache/engine/item"
	"github.com/segcache/engine/segment"
)

// errOutOfMemory is returned when the compactor cannot obtain a
// destination segment for a selected run (spec.md §7 OUT_OF_MEMORY).
var errOutOfMemory = errors.New("compact: no destination segment available")

// mergeRun scans each source in run, in order, copying surviving items
// into dest, and returns which sources were fully processed (consumed,
// eligible to be freed) along with the final live-byte count written to
// dest (spec.md §4.7).
//
// Once dest's occupied bytes cross the stop-byte threshold mid-source,
// every remaining item in that source is copied unconditionally (the
// cutoff test is bypassed) and the run halts once that source finishes;
// sources after it in run are left untouched. If dest itself runs out of
// room before that, the source in progress is left only partially
// migrated and is reported unconsumed.
func (c *Compactor) mergeRun(run []segment.ID, dest segment.ID) (map[segment.ID]bool, int32) {
	consumed := make(map[segment.ID]bool, len(run))
	destHdr := c.heap.Header(dest)
	destPayload := c.heap.Payload(dest)
	destCapacity := int32(len(destPayload))
	stopBytes := int32(float64(c.heap.SegmentSize()) * c.opts.StopRatio)

	cutoff := 1.0
	haltAfterSource := false

	checkpoint := int64(float64(c.heap.SegmentSize()) * scanCheckpointFraction)
	if checkpoint <= 0 {
		checkpoint = 1
	}

	for _, src := range run {
		srcHdr := c.heap.Header(src)
		srcPayload := c.heap.Payload(src)
		mean := meanItemSize(srcHdr)

		var scannedSinceCheckpoint, keptSinceCheckpoint int64
		pastStop := false
		destFull := false

		item.Scan(srcPayload, func(h item.Header, offset int, encoded []byte) bool {
			scannedSinceCheckpoint += int64(len(encoded))

			if h.Tombstone {
				return true
			}

			key := item.Key(encoded, h)
			loc, _, ok := c.index.Get(key, false)
			if !ok {
				return true
			}
			if loc.Segment != src || loc.Offset != int32(offset) {
				c.heap.Header(loc.Segment).UnpinReader()
				return true
			}
			// Get pinned loc.Segment (== src) against reclamation while we
			// inspect it; release that pin once this item's fate is decided.
			defer c.heap.Header(loc.Segment).UnpinReader()

			keep := pastStop
			if !keep {
				ratio := float64(h.Size()) / mean
				if ratio <= 0 {
					ratio = 1
				}
				keep = float64(loc.Frequency&0x7f)/ratio >= cutoff
			}

			if !keep {
				c.index.EvictSegmentEntry(key, src, int32(offset))
				if scannedSinceCheckpoint >= checkpoint {
					cutoff = adjustCutoff(cutoff, keptSinceCheckpoint, scannedSinceCheckpoint, c.opts.TargetRatio)
					scannedSinceCheckpoint, keptSinceCheckpoint = 0, 0
				}
				return true
			}

			size := int32(h.Size())
			newOffset, reserved, overflowed := destHdr.TryReserve(destCapacity, size)
			if !reserved || overflowed {
				destFull = true
				return false
			}

			copy(destPayload[newOffset:newOffset+size], encoded)
			destHdr.UnpinWriter()
			destHdr.AddOccupiedBytes(size)
			destHdr.AddItemCount(1)

			newLoc := hashtable.Locator{Frequency: loc.Frequency, Segment: dest, Offset: newOffset}
			if !c.index.Relink(key, src, int32(offset), newLoc) {
				// No hash entry was ever published at (dest, newOffset), so
				// there is nothing for EvictSegmentEntry to find; the copy
				// itself must be marked dead directly (spec.md §4.7 "If
				// relink fails, evict the hash entry" — here that entry
				// never existed, so the freshly written copy is tombstoned
				// in place instead).
				item.SetTombstone(destPayload[newOffset:])
				destHdr.AddOccupiedBytes(-size)
				destHdr.AddItemCount(-1)
			} else {
				srcHdr.AddOccupiedBytes(-size)
				srcHdr.AddItemCount(-1)
				keptSinceCheckpoint += int64(size)
			}

			if scannedSinceCheckpoint >= checkpoint {
				cutoff = adjustCutoff(cutoff, keptSinceCheckpoint, scannedSinceCheckpoint, c.opts.TargetRatio)
				scannedSinceCheckpoint, keptSinceCheckpoint = 0, 0
			}

			if !pastStop && destHdr.OccupiedBytes() >= stopBytes {
				pastStop = true
				haltAfterSource = true
			}

			return true
		})

		consumed[src] = !destFull
		if destFull || haltAfterSource {
			break
		}
	}

	return consumed, destHdr.OccupiedBytes()
}

// adjustCutoff applies the spec's moving-cutoff rule: if the kept/scanned
// byte ratio over the last checkpoint window deviates from target by more
// than 50%, multiply cutoff by (1 + deviation) (spec.md §4.7).
func adjustCutoff(cutoff float64, kept, scanned int64, target float64) float64 {
	if scanned == 0 || target == 0 {
		return cutoff
	}
	ratio := float64(kept) / float64(scanned)
	deviation := (ratio - target) / target
	if deviation > 0.5 || deviation < -0.5 {
		cutoff *= 1 + deviation
	}
	if cutoff < 0 {
		cutoff = 0
	}
	return cutoff
}
