package engine

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/segcache/engine/hashtable"
	"github.com/segcache/engine/item"
)

// Pin is the item_pin spec.md §4.9's get returns: a reader pin on the
// segment backing key, released via Release.
type Pin struct {
	key     []byte
	locator hashtable.Locator
	cas     uint32
}

// CAS returns the hash bucket's CAS generation counter observed at the
// time of Get, meaningful only when Options.UseCAS is set (spec.md §4.9
// "returns the pin plus a CAS generation from the hash bucket").
func (p *Pin) CAS() uint32 { return p.cas }

// Get looks up key, optionally bumping its frequency counter, and pins
// the owning segment's reader ref-count via the returned Pin. Does not
// return expired items that a concurrent reaper sweep has already made
// inaccessible (spec.md §4.9 "get(key, incr_freq) -> (item_pin, cas) |
// none... Does not return expired items").
func (e *Engine) Get(key []byte, incrFreq bool) (*Pin, error) {
	loc, cas, ok := e.index.Get(key, incrFreq)
	if !ok {
		return nil, ErrNotFound
	}
	if !e.opts.UseCAS {
		cas = 0
	}
	return &Pin{key: key, locator: loc, cas: cas}, nil
}

// Release decrements the reader ref-count taken by Get (spec.md §4.9
// "release(pin). Decrements the reader ref-count.").
func (e *Engine) Release(p *Pin) {
	e.heap.Header(p.locator.Segment).UnpinReader()
}

// Value returns the pinned item's current value bytes. Callers must hold
// the pin (i.e. not have called Release yet).
func (e *Engine) Value(p *Pin) []byte {
	buf := e.heap.Payload(p.locator.Segment)[p.locator.Offset:]
	h := item.Decode(buf)
	return item.Value(buf, h)
}

// Incr adds delta to the pinned item's numeric value in place (spec.md
// §4.9 "incr(pin, delta) -> new_value | ENAN").
func (e *Engine) Incr(p *Pin, delta int64) (int64, error) {
	return e.addDelta(p, delta)
}

// Decr subtracts delta from the pinned item's numeric value in place
// (spec.md §4.9 "decr(pin, delta) -> new_value | ENAN").
func (e *Engine) Decr(p *Pin, delta int64) (int64, error) {
	return e.addDelta(p, -delta)
}

// addDelta implements in-place numeric update: binary int64 when the
// item's in-place-numeric bit is set, otherwise a best-effort parse of
// the value as a base-10 ASCII integer (spec.md §4.9 "In-place numeric
// update when the in-place-numeric bit is set or the current string
// parses as an integer; otherwise fails").
func (e *Engine) addDelta(p *Pin, delta int64) (int64, error) {
	buf := e.heap.Payload(p.locator.Segment)[p.locator.Offset:]
	h := item.Decode(buf)

	if h.IntegerInPlace {
		area := item.ValueArea(buf, h)
		if len(area) < 8 {
			return 0, ErrNotANumber
		}
		next := int64(binary.LittleEndian.Uint64(area[:8])) + delta
		binary.LittleEndian.PutUint64(area[:8], uint64(next))
		return next, nil
	}

	raw := item.Value(buf, h)
	cur, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, ErrNotANumber
	}

	next := cur + delta
	enc := strconv.FormatInt(next, 10)
	if len(enc) > len(raw) {
		return 0, errors.Wrap(ErrNotANumber, "updated value no longer fits the item's reserved width")
	}

	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[len(raw)-len(enc):], enc)
	return next, nil
}
