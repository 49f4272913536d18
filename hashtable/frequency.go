package hashtable

import (
	"math/rand"

	"go.uber.org/atomic"
)

// bumpFrequency applies spec.md §4.4's frequency-update rule to the item
// locator stored in slot: if not already bumped this aging tick,
// increment the saturating counter with probability 1 for counts <= 16
// and probability 1/count otherwise, then set the bumped bit. Runs as a
// compare-exchange loop since Get only holds a reader pin, not the
// bucket lock, while doing this.
func (t *Table) bumpFrequency(slot *atomic.Uint64) {
	for {
		v := slot.Load()
		if v == 0 {
			return
		}
		loc := decodeLocator(v)
		if loc.Frequency&freqBumpedFlag != 0 {
			return
		}

		count := loc.Frequency &^ freqBumpedFlag
		bump := count <= 16 || rand.Intn(int(count)) == 0

		newCount := count
		if bump && count < maxFrequency {
			newCount = count + 1
		}

		loc.Frequency = newCount | freqBumpedFlag
		if slot.CAS(v, encodeLocator(loc)) {
			return
		}
	}
}

// maybeAge clears the bumped bit on every slot in b's chain once per
// second, preserving the saturating counters (spec.md §4.4 "Once per
// second the bucket's last-aging-timestamp is compared; on change, clear
// the bumped bit on all slots under the bucket lock").
func (t *Table) maybeAge(b *headBucket) {
	now := t.nowSec()
	if b.lastAgingSec.Load() == now {
		return
	}

	b.acquire()
	defer b.release()

	if b.lastAgingSec.Load() == now {
		return
	}

	cur := b.link()
	for {
		for _, slot := range cur.slots {
			clearBumpedBit(slot)
		}
		next := cur.next.Load()
		if next == nil {
			break
		}
		cur = next.link()
	}

	b.lastAgingSec.Store(now)
}

func clearBumpedBit(slot *atomic.Uint64) {
	for {
		v := slot.Load()
		if v == 0 {
			return
		}
		loc := decodeLocator(v)
		if loc.Frequency&freqBumpedFlag == 0 {
			return
		}
		loc.Frequency &^= freqBumpedFlag
		if slot.CAS(v, encodeLocator(loc)) {
			return
		}
	}
}
