package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is a Recorder backed by client_golang counters/gauges/
// histograms, grounded on the counter-bump style of block.Manager.Stats
// (atomic.AddInt32 on every operation in block_manager.go) but exposed
// through the Recorder interface so engine never imports Prometheus
// directly.
type Prometheus struct {
	segmentsAllocated prometheus.Counter
	segmentsEvicted   prometheus.Counter
	segmentsMerged    prometheus.Counter
	itemsInserted     prometheus.Counter
	itemsDeleted      prometheus.Counter
	hashLookups       prometheus.Counter
	hashCollisions    prometheus.Counter
	evictionRetries   prometheus.Counter
	expired           prometheus.Counter
	evictionLatency   prometheus.Histogram

	segmentsFree    prometheus.Gauge
	segmentsUsed    prometheus.Gauge
	hashLoadFactor  prometheus.Gauge
}

// NewPrometheus registers the segcache metric family with reg and returns
// a Recorder backed by it.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
		reg.MustRegister(g)
		return g
	}

	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "eviction_latency_seconds",
		Help:      "time spent preparing a victim segment for reuse",
		Buckets:   prometheus.DefBuckets,
	})
	reg.MustRegister(h)

	return &Prometheus{
		segmentsAllocated: counter("segments_allocated_total", "segments handed out by Allocate/New"),
		segmentsEvicted:   counter("segments_evicted_total", "segments reclaimed through reaper.Remover (ranker eviction, TTL expiry, flush)"),
		segmentsMerged:    counter("segments_merged_total", "segments consumed by the merge compactor"),
		itemsInserted:     counter("items_inserted_total", "items published via Insert"),
		itemsDeleted:      counter("items_deleted_total", "items removed via Delete or tombstoning"),
		hashLookups:       counter("hash_lookups_total", "Get calls that reached the hash index"),
		hashCollisions:    counter("hash_collisions_total", "tag matches that failed the key compare"),
		evictionRetries:   counter("eviction_retries_total", "reservation retries after a failed segment swap"),
		expired:           counter("expired_total", "segments the reaper removed because their TTL elapsed (flush reclaims not counted)"),
		evictionLatency:   h,
		segmentsFree:      gauge("segments_free", "segments currently in the free pool"),
		segmentsUsed:      gauge("segments_used", "heap capacity minus segments in the free pool (never-allocated segments count as used)"),
		hashLoadFactor:    gauge("hash_load_factor", "non-empty hash slots divided by total slots"),
	}
}

func (p *Prometheus) IncSegmentsAllocated()                { p.segmentsAllocated.Inc() }
func (p *Prometheus) IncSegmentsEvicted()                  { p.segmentsEvicted.Inc() }
func (p *Prometheus) IncSegmentsMerged()                   { p.segmentsMerged.Inc() }
func (p *Prometheus) IncItemsInserted()                    { p.itemsInserted.Inc() }
func (p *Prometheus) IncItemsDeleted()                      { p.itemsDeleted.Inc() }
func (p *Prometheus) IncHashLookups()                       { p.hashLookups.Inc() }
func (p *Prometheus) IncHashCollisions()                    { p.hashCollisions.Inc() }
func (p *Prometheus) IncEvictionRetries()                   { p.evictionRetries.Inc() }
func (p *Prometheus) IncExpired()                           { p.expired.Inc() }
func (p *Prometheus) ObserveEvictionLatency(d time.Duration) { p.evictionLatency.Observe(d.Seconds()) }
func (p *Prometheus) SetSegmentsFree(n int64)               { p.segmentsFree.Set(float64(n)) }
func (p *Prometheus) SetSegmentsUsed(n int64)               { p.segmentsUsed.Set(float64(n)) }
func (p *Prometheus) SetHashLoadFactor(f float64)           { p.hashLoadFactor.Set(f) }

var _ Recorder = (*Prometheus)(nil)
