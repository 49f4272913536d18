// Package hashtable implements the bulk-chained hash index mapping a key
// to a packed item locator (spec.md §2 "Hash Index", §4.4).
//
// Grounded on block/committed_block_index.go's bucket-keyed map behind a
// lock ("use"/"addBlock"/"getBlock" shape), generalized from a single
// process-wide mutex to one spin-lock per bucket, and on
// legacy/src/storage/seg/hashtable.c (original) for the exact slot
// packing, chain/overflow behavior and frequency-aging rule.
package hashtable

import (
	"github.com/segcache/engine/segment"
)

const (
	offsetBits = 20
	segIDBits  = 24
	freqBits   = 8
	tagBits    = 12

	offsetMask = 1<<offsetBits - 1
	segIDMask  = 1<<segIDBits - 1
	freqMask   = 1<<freqBits - 1
	tagMask    = 1<<tagBits - 1

	segIDShift = offsetBits
	freqShift  = offsetBits + segIDBits
	tagShift   = offsetBits + segIDBits + freqBits
)

// freqBumpedFlag is bit 7 of the frequency byte: "already bumped this
// aging tick" (spec.md §4.4 "bit 7 is the already-bumped-this-tick
// flag").
const freqBumpedFlag byte = 1 << 7

// maxFrequency is the saturating cap on the 7-bit counter.
const maxFrequency byte = 1<<7 - 1

// bytesPerUnit is the alignment unit the offset field is expressed in;
// items are always placed 8-byte aligned (item.roundUp8), so a 20-bit
// unit field addresses up to 8 MiB within a segment.
const bytesPerUnit = 8

// Locator is the decoded form of one 64-bit hash slot: a tag derived
// from the key's hash, a segment id, a byte offset within that segment,
// and an 8-bit frequency/aging byte (spec.md §4.4, §GLOSSARY "Locator").
type Locator struct {
	Tag       uint16
	Frequency byte
	Segment   segment.ID
	Offset    int32
}

// encodeLocator packs l into its 64-bit wire form. The segment id is
// stored as id+1 so that the reserved empty-slot value (all zero bits)
// can never collide with a real locator, even one at segment 0 offset 0
// (spec.md §4.4 "A zero slot is empty" — the original C implementation
// relies on segment id 0 being reserved; this Go port instead reserves
// the zero value itself by biasing the id, which needs no reserved id).
func encodeLocator(l Locator) uint64 {
	offsetUnits := uint64(l.Offset) / bytesPerUnit
	segPlusOne := uint64(l.Segment) + 1

	var v uint64
	v |= offsetUnits & offsetMask
	v |= (segPlusOne & segIDMask) << segIDShift
	v |= uint64(l.Frequency&freqMask) << freqShift
	v |= uint64(l.Tag&tagMask) << tagShift
	return v
}

// decodeLocator unpacks a 64-bit slot value. Callers must only call this
// on a non-zero slot (zero means empty).
func decodeLocator(v uint64) Locator {
	offsetUnits := v & offsetMask
	segPlusOne := (v >> segIDShift) & segIDMask
	freq := byte((v >> freqShift) & freqMask)
	tag := uint16((v >> tagShift) & tagMask)

	return Locator{
		Tag:       tag,
		Frequency: freq,
		Segment:   segment.ID(segPlusOne - 1),
		Offset:    int32(offsetUnits * bytesPerUnit),
	}
}
