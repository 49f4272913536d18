package item

import (
	"encoding/binary"
	"strconv"

	"github.com/pkg/errors"
)

// ErrNotANumber is returned when a numeric update is attempted on a value
// that is neither flagged integer-in-place nor parses as a base-10
// integer (spec.md §7 NOT_A_NUMBER).
var ErrNotANumber = errors.New("value is not a number")

// ReadInt interprets an item's value as an integer: if h.IntegerInPlace,
// the value area holds a little-endian int64 (possibly padded beyond
// ValueLen); otherwise the value bytes are parsed as base-10 ASCII.
func ReadInt(buf []byte, h Header) (int64, error) {
	if h.IntegerInPlace {
		area := valueArea(buf, h)
		return int64(binary.LittleEndian.Uint64(area[:8])), nil
	}

	v, err := strconv.ParseInt(string(Value(buf, h)), 10, 64)
	if err != nil {
		return 0, ErrNotANumber
	}
	return v, nil
}

// WriteInt writes n back into an item's value area in place, preserving
// the item's existing IntegerInPlace/ValueLen framing. Writing a
// differently-sized ASCII representation than the original ValueLen is
// not supported in place (spec.md §3 "Items are immutable in place
// except for in-place numeric update"); callers needing a larger textual
// representation must reserve a new item instead.
func WriteInt(buf []byte, h Header, n int64) error {
	if h.IntegerInPlace {
		area := valueArea(buf, h)
		binary.LittleEndian.PutUint64(area[:8], uint64(n))
		return nil
	}

	s := strconv.FormatInt(n, 10)
	if len(s) != h.ValueLen {
		return errors.Errorf("in-place textual update would change length (%d -> %d)", h.ValueLen, len(s))
	}
	copy(Value(buf, h), s)
	return nil
}

func valueArea(buf []byte, h Header) []byte {
	o := h.valueOffset()
	return buf[o : o+h.valueAreaLen()]
}
