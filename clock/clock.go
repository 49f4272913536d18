// Package clock maintains a process-relative wall clock with a single
// writer goroutine and many relaxed readers (spec.md §2 "Time Source",
// §5 "a single updater thread writes the current process time with
// relaxed atomic stores; all other threads use relaxed loads").
package clock

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// resolution at which the background writer refreshes the cached time.
// Sub-second resolution is kept for TTL-bucket boundary accuracy; second
// resolution is what most readers (hash aging, reaper) actually need.
const tickInterval = 10 * time.Millisecond

// Source is a single shared, monotonically-advancing wall clock. The zero
// value is not usable; construct with New.
type Source struct {
	nowUnixNano atomic.Int64
	epoch       time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Source and starts its background writer goroutine. Call
// Stop to release it.
func New() *Source {
	s := &Source{
		epoch: time.Now(),
		stop:  make(chan struct{}),
	}
	s.nowUnixNano.Store(s.epoch.UnixNano())

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *Source) run() {
	defer s.wg.Done()

	t := time.NewTicker(tickInterval)
	defer t.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			s.nowUnixNano.Store(now.UnixNano())
		}
	}
}

// Stop terminates the writer goroutine. Safe to call once; Stop does not
// need to be called for correctness in short-lived programs, only to
// release the goroutine.
func (s *Source) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Now returns the last cached wall-clock reading. Relaxed: callers racing
// with the writer may observe a value up to one tick stale.
func (s *Source) Now() time.Time {
	return time.Unix(0, s.nowUnixNano.Load())
}

// NowSeconds returns Now() truncated to whole seconds since the Unix
// epoch, the resolution TTL math and hash-index frequency aging operate
// on (spec.md §4.4 "once per second the bucket's last-aging-timestamp is
// compared").
func (s *Source) NowSeconds() int64 {
	return s.nowUnixNano.Load() / int64(time.Second)
}
