// Package metrics defines the counters and gauges the engine reports
// through (spec.md §6), decoupled from any particular exposition format.
package metrics

import "time"

// Recorder is the trait every engine component reports increments
// through; the exact names below are part of the public stats contract
// (spec.md §9 "expose a metrics trait/interface").
type Recorder interface {
	IncSegmentsAllocated()
	IncSegmentsEvicted()
	IncSegmentsMerged()
	IncItemsInserted()
	IncItemsDeleted()
	IncHashLookups()
	IncHashCollisions()
	IncEvictionRetries()
	IncExpired()
	ObserveEvictionLatency(d time.Duration)

	SetSegmentsFree(n int64)
	SetSegmentsUsed(n int64)
	SetHashLoadFactor(f float64)
}

// Nop is a Recorder that discards everything; the default for tests and
// for callers who don't want metrics overhead.
type Nop struct{}

func (Nop) IncSegmentsAllocated()              {}
func (Nop) IncSegmentsEvicted()                {}
func (Nop) IncSegmentsMerged()                 {}
func (Nop) IncItemsInserted()                  {}
func (Nop) IncItemsDeleted()                   {}
func (Nop) IncHashLookups()                    {}
func (Nop) IncHashCollisions()                 {}
func (Nop) IncEvictionRetries()                {}
func (Nop) IncExpired()                        {}
func (Nop) ObserveEvictionLatency(time.Duration) {}
func (Nop) SetSegmentsFree(int64)              {}
func (Nop) SetSegmentsUsed(int64)              {}
func (Nop) SetHashLoadFactor(float64)          {}

var _ Recorder = Nop{}
