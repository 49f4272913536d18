package engine

import (
	"time"

	"github.com/alecthomas/units"
	"github.com/pkg/errors"

	"github.com/segcache/engine/eviction"
)

// Options covers every field spec.md §6 lists under "Configuration
// (recognized options)". Loading these from a config file or flags is an
// external collaborator's job (spec.md §1); Options is a plain struct.
type Options struct {
	// SegmentSize is the power-of-two byte size of every segment.
	// Default 1 MiB.
	SegmentSize uint64

	// HeapSize is the total payload byte budget, rounded down to a
	// multiple of SegmentSize.
	HeapSize uint64

	// HashPower is log2 of the hash table's bucket count.
	HashPower uint

	// EvictionPolicy selects the ranker's comparator, or MergeFIFO to
	// prefer compaction over outright eviction.
	EvictionPolicy eviction.Policy

	// MergeMin, MergeMax bound a merge run's segment count.
	MergeMin, MergeMax int

	// MergeTargetRatio, MergeStopRatio configure the compactor's
	// adaptive cutoff and stop-byte threshold.
	MergeTargetRatio, MergeStopRatio float64

	// SegmentMatureSeconds is the minimum age before a segment is
	// eligible for merge.
	SegmentMatureSeconds int64

	// UseCAS controls whether Get's returned CAS generation is
	// meaningful to callers (the hash bucket always computes one; this
	// only gates whether the engine advertises it).
	UseCAS bool

	// Prefault touches every datapool page on open.
	Prefault bool

	// DatapoolPath, DatapoolName optionally back the heap with a file
	// instead of an anonymous byte slice.
	DatapoolPath, DatapoolName string

	// ReapIntervalMS is the reaper's sweep period. Default 100.
	ReapIntervalMS int64

	// RerankIntervalSeconds is the eviction ranker's re-rank period.
	// Default 5.
	RerankIntervalSeconds int64
}

// DefaultOptions returns the spec's stated defaults.
func DefaultOptions() Options {
	return Options{
		SegmentSize:           1 << 20,
		HeapSize:              64 << 20,
		HashPower:             16,
		EvictionPolicy:        eviction.FIFO,
		MergeMin:              4,
		MergeMax:              8,
		MergeTargetRatio:      0.6,
		MergeStopRatio:        0.9,
		UseCAS:                true,
		ReapIntervalMS:        100,
		RerankIntervalSeconds: 5,
	}
}

// ParseSize parses a human byte-size string ("1MiB", "64MB") the way the
// teacher's CLI flags do, via alecthomas/units rather than a hand-rolled
// suffix parser.
func ParseSize(s string) (uint64, error) {
	b, err := units.ParseBase2Bytes(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing size %q", s)
	}
	if b < 0 {
		return 0, errors.Errorf("size %q must not be negative", s)
	}
	return uint64(b), nil
}

// ReapInterval returns ReapIntervalMS as a time.Duration, or 0 when unset,
// which reaper.New replaces with reaper.DefaultInterval.
func (o Options) ReapInterval() time.Duration {
	if o.ReapIntervalMS <= 0 {
		return 0
	}
	return time.Duration(o.ReapIntervalMS) * time.Millisecond
}

// RerankInterval returns RerankIntervalSeconds as a time.Duration,
// defaulting to 5s when unset.
func (o Options) RerankInterval() time.Duration {
	if o.RerankIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(o.RerankIntervalSeconds) * time.Second
}

// Validate mirrors the teacher's newManagerWithOptions version-range
// checks (block_manager.go), applied to segcache's own configuration
// invariants instead of a format version.
func (o Options) Validate() error {
	if o.SegmentSize == 0 || o.SegmentSize&(o.SegmentSize-1) != 0 {
		return errors.Errorf("segment size %d must be a positive power of two", o.SegmentSize)
	}
	if o.HeapSize < o.SegmentSize {
		return errors.Errorf("heap size %d smaller than segment size %d", o.HeapSize, o.SegmentSize)
	}
	if o.HashPower == 0 || o.HashPower > 32 {
		return errors.Errorf("hash power %d out of range [1, 32]", o.HashPower)
	}
	if o.MergeMin <= 0 || o.MergeMax < o.MergeMin {
		return errors.Errorf("invalid merge run bounds [%d, %d]", o.MergeMin, o.MergeMax)
	}
	if o.MergeTargetRatio <= 0 || o.MergeTargetRatio > 1 {
		return errors.Errorf("merge target ratio %f out of range (0, 1]", o.MergeTargetRatio)
	}
	if o.MergeStopRatio <= 0 || o.MergeStopRatio > 1 {
		return errors.Errorf("merge stop ratio %f out of range (0, 1]", o.MergeStopRatio)
	}
	return nil
}
