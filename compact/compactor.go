// Package compact implements the segment merge compactor: given a run of
// consecutive, merge-eligible segments from one TTL bucket, it copies
// still-live, still-frequent items into one destination segment and
// returns the consumed sources to the heap's free pool (spec.md §2
// "Segment Merge Compactor", §4.7).
//
// Grounded on block/merged.go (combining several sources into one view),
// adapted from merging index views to merging segment byte payloads, and
// block/block_manager_compaction.go's scan/decide/copy control flow.
package compact

import (
	"github.com/segcache/engine/clock"
	"github.com/segcache/engine/hashtable"
	"github.com/segcache/engine/item"
	"github.com/segcache/engine/logging"
	"github.com/segcache/engine/metrics"
	"github.com/segcache/engine/segment"
	"github.com/segcache/engine/ttlbucket"
)

var log = logging.Module("segcache/compact")

// minLivePayloadBytes is the spec's "<= 8 bytes of live payload" test for
// discarding a near-empty merge destination rather than linking it.
const minLivePayloadBytes = 8

// scanCheckpointFraction is how often, as a fraction of one segment's
// size, the adaptive cutoff is reconsidered (spec.md §4.7 "adjusted
// every 10% of a segment scanned").
const scanCheckpointFraction = 0.10

// Options configures one Compactor (spec.md §6 MergeMin/MergeMax/
// MergeTargetRatio/MergeStopRatio, carried into engine.Options and
// passed through here).
type Options struct {
	// MinRun and MaxRun bound how many consecutive segments one merge
	// run may span (spec.md §4.7 "default 4, max 8").
	MinRun int
	MaxRun int

	// TargetRatio is the kept/scanned byte ratio the adaptive cutoff
	// steers toward.
	TargetRatio float64

	// StopRatio is the fraction of the destination segment's size that,
	// once exceeded mid-run, triggers "finish the current source, then
	// stop" (spec.md §4.7 "~90% of segment size").
	StopRatio float64

	// MatureSeconds is the minimum segment age before it may join a merge
	// run (spec.md §6 segment_mature_seconds).
	MatureSeconds int64
}

// DefaultOptions mirrors the spec's stated defaults.
func DefaultOptions() Options {
	return Options{MinRun: 4, MaxRun: 8, TargetRatio: 0.6, StopRatio: 0.9}
}

// matureRun trims run back to its longest mature-only prefix: once a
// segment hasn't aged past MatureSeconds, it and everything after it
// (newer still) are excluded from this pass.
func (c *Compactor) matureRun(run []segment.ID) []segment.ID {
	if c.opts.MatureSeconds <= 0 || c.clock == nil {
		return run
	}
	now := c.clock.NowSeconds()
	for i, id := range run {
		if now-c.heap.Header(id).CreatedAt() < c.opts.MatureSeconds {
			return run[:i]
		}
	}
	return run
}

// Compactor runs merge-FIFO segment compaction for one engine instance.
// It is only meaningfully exercised when the merge-FIFO eviction policy
// is active (spec.md §4.7 "Only used when the merge-FIFO policy is
// active").
type Compactor struct {
	heap    *segment.Heap
	table   *ttlbucket.Table
	index   *hashtable.Table
	clock   *clock.Source
	metrics metrics.Recorder

	opts Options
}

// New builds a Compactor operating on heap/table/index.
func New(heap *segment.Heap, table *ttlbucket.Table, index *hashtable.Table, c *clock.Source, m metrics.Recorder, opts Options) *Compactor {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Compactor{heap: heap, table: table, index: index, clock: c, metrics: m, opts: opts}
}

// MergeBucket attempts one merge pass over bucket idx: selects a run,
// reserves it against concurrent independent eviction, merges it into a
// fresh destination segment, and splices the result back into the
// bucket's list. Returns false if no eligible run was found (nothing to
// do this pass, not an error).
func (c *Compactor) MergeBucket(idx int) (bool, error) {
	run := c.matureRun(c.table.SelectRun(idx, c.opts.MaxRun))
	if len(run) < c.opts.MinRun {
		for _, id := range run {
			c.heap.Header(id).MarkEvictable()
		}
		return false, nil
	}

	for _, id := range run {
		c.heap.Header(id).ClearEvictable()
	}

	dest, ok := c.heap.New(func() bool { return false })
	if !ok {
		for _, id := range run {
			c.heap.Header(id).MarkEvictable()
		}
		return false, errOutOfMemory
	}
	c.heap.Header(dest).SetTTL(c.heap.Header(run[0]).TTL())

	consumed, destOffset := c.mergeRun(run, dest)

	for _, id := range run {
		if !consumed[id] {
			c.heap.Header(id).MarkEvictable()
		}
	}

	remaining := consumedRun(run, consumed)
	if len(remaining) == 0 {
		c.heap.Return(dest)
		return true, nil
	}

	if destOffset <= minLivePayloadBytes {
		c.table.RemoveRun(idx, remaining)
		c.heap.Return(dest)
		return true, nil
	}

	c.table.ReplaceRun(idx, remaining, dest)
	c.metrics.IncSegmentsMerged()
	return true, nil
}

func consumedRun(run []segment.ID, consumed map[segment.ID]bool) []segment.ID {
	out := make([]segment.ID, 0, len(run))
	for _, id := range run {
		if consumed[id] {
			out = append(out, id)
		}
	}
	return out
}

func meanItemSize(hdr *segment.Header) float64 {
	count := hdr.ItemCount()
	if count <= 0 {
		return float64(item.HeaderSize)
	}
	return float64(hdr.OccupiedBytes()) / float64(count)
}
