// Package item implements the binary item record format used inside a
// segment: header, optional metadata, key, value, 8-byte aligned
// (spec.md §3 "Item", §4.3 "Item Layout").
//
// Grounded on block/pack_index_v2.go and block/proto_pack_index.go's
// manual bit-packing helpers, adapted from content-id packing to item
// headers, and on legacy/src/storage/slab/item.h (original field widths).
package item

import (
	"github.com/pkg/errors"
)

// HeaderSize is the fixed on-disk size of an item header: 1 byte key
// length, 3 bytes (24-bit) value length, 1 byte packing option-length and
// flags.
const HeaderSize = 5

// Field width limits from spec.md §4.3/§3.
const (
	MaxKeyLen    = 255
	MaxValueLen  = 1<<24 - 1
	MaxOptionLen = 63

	// minIntegerValueArea reserves room for a binary int64 even when the
	// textual value written is shorter (spec.md §4.3 "max(value, 8 if
	// integer-support)").
	minIntegerValueArea = 8
)

const (
	flagIntegerInPlace byte = 1 << 6
	flagTombstone      byte = 1 << 7
	optionLenMask      byte = 0x3f
)

// Header is the decoded, in-memory form of an item's 5-byte on-disk
// header.
type Header struct {
	KeyLen         int
	ValueLen       int
	OptionLen      int
	IntegerInPlace bool
	Tombstone      bool
}

// IsZero reports whether h is the all-zero end-of-items marker (spec.md
// §4.3 "an all-zero header marks end-of-items").
func (h Header) IsZero() bool {
	return h == Header{}
}

// valueAreaLen is the number of bytes actually reserved for the value,
// which can exceed ValueLen when IntegerInPlace reserves headroom.
func (h Header) valueAreaLen() int {
	if h.IntegerInPlace && h.ValueLen < minIntegerValueArea {
		return minIntegerValueArea
	}
	return h.ValueLen
}

// Size returns this item's total on-segment footprint, rounded up to the
// next 8-byte boundary (spec.md §4.3 "Item size is rounded up to 8-byte
// alignment").
func (h Header) Size() int {
	return roundUp8(HeaderSize + h.OptionLen + h.KeyLen + h.valueAreaLen())
}

// Size computes the rounded item footprint for the given field lengths
// without requiring a Header value; used by callers (e.g. ttlbucket)
// sizing a reservation before they have key/value bytes in hand.
func Size(keyLen, valueLen, optionLen int, integerInPlace bool) int {
	return Header{KeyLen: keyLen, ValueLen: valueLen, OptionLen: optionLen, IntegerInPlace: integerInPlace}.Size()
}

func roundUp8(n int) int {
	return (n + 7) &^ 7
}

// Validate checks field lengths against the spec's limits.
func Validate(keyLen, valueLen, optionLen int) error {
	if keyLen <= 0 || keyLen > MaxKeyLen {
		return errors.Errorf("key length %d out of range [1, %d]", keyLen, MaxKeyLen)
	}
	if valueLen < 0 || valueLen > MaxValueLen {
		return errors.Errorf("value length %d out of range [0, %d]", valueLen, MaxValueLen)
	}
	if optionLen < 0 || optionLen > MaxOptionLen {
		return errors.Errorf("option length %d out of range [0, %d]", optionLen, MaxOptionLen)
	}
	return nil
}

// Encode writes h's 5-byte wire header into buf[0:HeaderSize].
func Encode(buf []byte, h Header) {
	_ = buf[HeaderSize-1]

	buf[0] = byte(h.KeyLen)
	buf[1] = byte(h.ValueLen)
	buf[2] = byte(h.ValueLen >> 8)
	buf[3] = byte(h.ValueLen >> 16)

	flags := byte(h.OptionLen) & optionLenMask
	if h.IntegerInPlace {
		flags |= flagIntegerInPlace
	}
	if h.Tombstone {
		flags |= flagTombstone
	}
	buf[4] = flags
}

// Decode reads a 5-byte wire header from buf[0:HeaderSize].
func Decode(buf []byte) Header {
	_ = buf[HeaderSize-1]

	flags := buf[4]
	return Header{
		KeyLen:         int(buf[0]),
		ValueLen:       int(buf[1]) | int(buf[2])<<8 | int(buf[3])<<16,
		OptionLen:      int(flags & optionLenMask),
		IntegerInPlace: flags&flagIntegerInPlace != 0,
		Tombstone:      flags&flagTombstone != 0,
	}
}

// SetTombstone flips the tombstone bit in-place on an already-written
// item's header, the only in-place mutation besides numeric update
// (spec.md §3 "Items are immutable in place except for in-place numeric
// update and tombstone marking").
func SetTombstone(buf []byte) {
	buf[4] |= flagTombstone
}

// Offsets within an encoded item's bytes.
func (h Header) optionOffset() int { return HeaderSize }
func (h Header) keyOffset() int    { return h.optionOffset() + h.OptionLen }
func (h Header) valueOffset() int  { return h.keyOffset() + h.KeyLen }

// Option returns the option/metadata bytes of an encoded item.
func Option(buf []byte, h Header) []byte {
	o := h.optionOffset()
	return buf[o : o+h.OptionLen]
}

// Key returns the key bytes of an encoded item.
func Key(buf []byte, h Header) []byte {
	o := h.keyOffset()
	return buf[o : o+h.KeyLen]
}

// Value returns the value bytes of an encoded item (ValueLen bytes, not
// the full reserved value area).
func Value(buf []byte, h Header) []byte {
	o := h.valueOffset()
	return buf[o : o+h.ValueLen]
}

// ValueArea returns the item's full reserved value region, which can
// exceed ValueLen when IntegerInPlace reserves headroom for a binary
// int64 (spec.md §4.3 "max(value, 8 if integer-support)"). Numeric
// in-place update reads and writes this region directly rather than the
// ValueLen-bounded slice Value returns.
func ValueArea(buf []byte, h Header) []byte {
	o := h.valueOffset()
	return buf[o : o+h.valueAreaLen()]
}

// Put encodes a complete item (header, option bytes, key, value) into buf
// and returns the item's total rounded size. buf must have at least
// h.Size() bytes; any padding bytes beyond the payload are left zero.
func Put(buf []byte, h Header, option, key, value []byte) int {
	size := h.Size()
	for i := range buf[:size] {
		buf[i] = 0
	}

	Encode(buf, h)
	copy(Option(buf, h), option)
	copy(Key(buf, h), key)
	copy(Value(buf, h), value)

	return size
}
