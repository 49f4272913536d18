package eviction

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/segcache/engine/clock"
	"github.com/segcache/engine/logging"
	"github.com/segcache/engine/metrics"
	"github.com/segcache/engine/segment"
)

var log = logging.Module("segcache/eviction")

// Ranker maintains an array of all segment ids sorted by a policy-
// specific comparator, re-ranking when more than a configurable interval
// has elapsed since the last re-rank (spec.md §4.6).
type Ranker struct {
	heap    *segment.Heap
	clock   *clock.Source
	metrics metrics.Recorder

	policy   Policy
	interval time.Duration

	mu       sync.Mutex
	ranked   []segment.ID
	lastRank atomic.Int64 // unix seconds of the last completed re-rank

	cursor atomic.Uint32
}

// New builds a ranker for heap using policy, re-ranking at most once per
// interval.
func New(policy Policy, heap *segment.Heap, c *clock.Source, interval time.Duration, m metrics.Recorder) *Ranker {
	if m == nil {
		m = metrics.Nop{}
	}
	r := &Ranker{
		heap:     heap,
		clock:    c,
		metrics:  m,
		policy:   policy,
		interval: interval,
	}
	r.lastRank.Store(-1 << 40) // force an initial rerank on first use
	return r
}

func (r *Ranker) nowSec() int64 {
	if r.clock == nil {
		return 0
	}
	return r.clock.NowSeconds()
}

// maybeRerank rebuilds the ranked array if interval has elapsed since the
// last rebuild.
func (r *Ranker) maybeRerank() {
	now := r.nowSec()
	if now-r.lastRank.Load() < int64(r.interval.Seconds()) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if now-r.lastRank.Load() < int64(r.interval.Seconds()) {
		return
	}
	r.rerank()
	r.lastRank.Store(now)
}

// rerank rebuilds the full candidate array. Caller must hold r.mu.
func (r *Ranker) rerank() {
	capacity := int(r.heap.Capacity())
	ids := make([]segment.ID, capacity)
	for i := 0; i < capacity; i++ {
		ids[i] = segment.ID(i)
	}

	if r.policy == Random {
		rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	} else {
		sort.Slice(ids, func(i, j int) bool { return r.less(ids[i], ids[j]) })
	}

	r.ranked = ids
	r.cursor.Store(0)
}

// less orders eligible candidates before ineligible ones (writers
// pinned or sitting in the free pool), then applies the policy's
// comparator (spec.md §4.6 only states this tiebreak for FIFO and
// random explicitly; this ranker applies it uniformly since an
// ineligible segment is skipped by NextVictim regardless of policy).
func (r *Ranker) less(a, b segment.ID) bool {
	ha, hb := r.heap.Header(a), r.heap.Header(b)

	aElig, bElig := r.eligible(ha), r.eligible(hb)
	if aElig != bElig {
		return aElig
	}

	switch r.policy {
	case FIFO, MergeFIFO:
		return ha.CreatedAt() < hb.CreatedAt()
	case ClosestToExpiration:
		return ha.CreatedAt()+ha.TTL() < hb.CreatedAt()+hb.TTL()
	case Utilization:
		return ha.OccupiedBytes() < hb.OccupiedBytes()
	case Learned:
		return ha.HitCount() < hb.HitCount()
	default:
		return false
	}
}

func (r *Ranker) eligible(h *segment.Header) bool {
	return h.WriterRefCount() == 0 && !h.HasFlag(segment.FlagInFreePool)
}

// NextVictim atomically advances the ranker's cursor into the ranked
// array, skipping segments with an outstanding writer, sitting in the
// free pool, or sealed with their evictable bit cleared (a merge run in
// progress), and returns segment.None if a full pass finds nothing
// eligible (spec.md §4.6 "atomically increments a cursor... returns none
// if the array is exhausted within one pass").
func (r *Ranker) NextVictim() (segment.ID, bool) {
	r.maybeRerank()

	r.mu.Lock()
	ranked := r.ranked
	r.mu.Unlock()

	if len(ranked) == 0 {
		return segment.None, false
	}

	for attempt := 0; attempt < len(ranked); attempt++ {
		pos := int(r.cursor.Inc()-1) % len(ranked)
		id := ranked[pos]
		hdr := r.heap.Header(id)
		if !r.eligible(hdr) {
			continue
		}
		if !hdr.Accessible() {
			continue
		}
		if hdr.Sealed() && !hdr.Evictable() {
			// held by an in-progress merge run
			continue
		}
		return id, true
	}

	return segment.None, false
}
