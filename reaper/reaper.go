package reaper

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/segcache/engine/clock"
	"github.com/segcache/engine/metrics"
	"github.com/segcache/engine/segment"
	"github.com/segcache/engine/ttlbucket"
)

// DefaultInterval is the spec's default sweep interval (spec.md §4.8
// "Once per interval (default 100 ms)").
const DefaultInterval = 100 * time.Millisecond

// Reaper periodically walks every TTL bucket's head, removing segments
// whose creation-plus-TTL has elapsed or whose creation predates the last
// recorded flush instant (spec.md §4.8).
type Reaper struct {
	table    *ttlbucket.Table
	heap     *segment.Heap
	clock    *clock.Source
	remover  *Remover
	metrics  metrics.Recorder
	interval time.Duration

	flushInstant atomic.Int64 // unix seconds; 0 means "never flushed"

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Reaper that sweeps table using remover, at interval (use
// DefaultInterval if zero). If m is nil, metrics are discarded.
func New(table *ttlbucket.Table, heap *segment.Heap, c *clock.Source, remover *Remover, m metrics.Recorder, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Reaper{
		table:    table,
		heap:     heap,
		clock:    c,
		remover:  remover,
		metrics:  m,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Flush records now as the global flush instant; every segment created
// before it becomes reclaimable on the reaper's next pass over its bucket
// (spec.md §4.9 "flush()... all segments created earlier are reclaimed
// lazily by the reaper").
func (r *Reaper) Flush(nowSec int64) {
	r.flushInstant.Store(nowSec)
}

// Start launches the background sweep goroutine. Call Stop to release it.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Reaper) run() {
	defer r.wg.Done()

	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.SweepOnce()
		}
	}
}

// Stop terminates the background sweep goroutine. Safe to call once.
func (r *Reaper) Stop() {
	close(r.stop)
	r.wg.Wait()
}

func (r *Reaper) nowSec() int64 {
	if r.clock == nil {
		return 0
	}
	return r.clock.NowSeconds()
}

// SweepOnce walks every TTL bucket once, removing head segments that have
// expired or predate the flush instant, and returns the total number of
// segments removed. Exported so tests and a manual "reap now" admin
// action can drive a pass synchronously.
func (r *Reaper) SweepOnce() int {
	now := r.nowSec()
	flushed := r.flushInstant.Load()
	removed := 0

	for idx := 0; idx < ttlbucket.NumBuckets; idx++ {
		b := r.table.Bucket(idx)
		for {
			head := b.Head()
			if head == segment.None {
				break
			}

			hdr := r.heap.Header(head)
			expired := hdr.TTL() > 0 && hdr.CreatedAt()+hdr.TTL() <= now
			flushedAway := flushed > 0 && hdr.CreatedAt() < flushed
			if !expired && !flushedAway {
				break
			}

			start := time.Now()
			if !r.remover.Remove(idx, head) {
				// Another path (eviction, merge) is already removing this
				// segment; stop this bucket's pass rather than spin.
				break
			}
			r.metrics.ObserveEvictionLatency(time.Since(start))
			if expired {
				r.metrics.IncExpired()
			}
			removed++
		}
	}

	return removed
}
