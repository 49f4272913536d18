package hashtable

import (
	"runtime"

	"go.uber.org/atomic"
)

// bucketSlots is the number of item slots in every bucket link (head or
// overflow). spec.md §4.4/§8 "A hash bucket containing exactly 8 keys
// uses no overflow; adding the 9th triggers overflow allocation" — in Go
// the head bucket's spin-lock/chain-length/aging-timestamp/CAS-generation
// metadata live in their own fields rather than stealing one of the 8
// item slots (a C cache-line layout concern this port doesn't have), so
// every link, head or overflow, holds exactly 8 addressable item slots.
const bucketSlots = 8

// headBucket is the bucket a key's low hash bits select directly. It
// owns the chain's lock and bookkeeping; overflowBucket links hang off
// it via next.
type headBucket struct {
	spinLock     atomic.Bool
	chainLen     atomic.Uint32
	lastAgingSec atomic.Int64
	casGen       atomic.Uint32

	slots [bucketSlots]atomic.Uint64
	next  atomic.Pointer[overflowBucket]
}

// overflowBucket is allocated when a chain's last link fills; it carries
// no metadata of its own and is reached through the previous link's next
// pointer field, not through one of its item slots.
type overflowBucket struct {
	slots [bucketSlots]atomic.Uint64
	next  atomic.Pointer[overflowBucket]
}

// chainLink is a uniform view over a headBucket or overflowBucket used
// while walking a chain, so Insert/Get/Delete/Relink don't need to
// special-case the head link.
type chainLink struct {
	slots []*atomic.Uint64
	next  *atomic.Pointer[overflowBucket]
}

func (b *headBucket) link() chainLink {
	slots := make([]*atomic.Uint64, bucketSlots)
	for i := range b.slots {
		slots[i] = &b.slots[i]
	}
	return chainLink{slots: slots, next: &b.next}
}

func (o *overflowBucket) link() chainLink {
	slots := make([]*atomic.Uint64, bucketSlots)
	for i := range o.slots {
		slots[i] = &o.slots[i]
	}
	return chainLink{slots: slots, next: &o.next}
}

// acquire spins using atomic test-and-set until this bucket's spin-lock
// is taken (spec.md §4.4 "acquire the head bucket's spin-lock using
// atomic test-and-set").
func (b *headBucket) acquire() {
	for !b.spinLock.CAS(false, true) {
		runtime.Gosched()
	}
}

func (b *headBucket) release() {
	b.spinLock.Store(false)
}
