// Package ttlbucket implements the fixed 1024-bucket TTL table: a
// piecewise-linear map from a TTL in seconds to a bucket index, and the
// per-bucket doubly linked segment list plus active write-target segment
// (spec.md §2 "TTL Bucket Table", §4.2).
//
// Grounded on block/list_cache.go's head/tail/count bookkeeping for a list
// of blocks, and on legacy/src/storage/seg/ttlbucket.c (original) for the
// exact bucket ranges and TTL==0/overflow handling.
package ttlbucket

// NumBuckets is the fixed total bucket count (spec.md §4.2).
const NumBuckets = 1024

const bucketsPerRange = 256

type ttlRange struct {
	maxTTL      int64
	granularity int64
}

// ranges are the four linear ranges with granularity doubling between
// them: 256 buckets of 8s (up to 2048s), 256 of 128s (up to 32768s), 256
// of 2048s (up to 524288s), 256 of 32768s (up to ~8.4M s).
var ranges = [4]ttlRange{
	{maxTTL: 256 * 8, granularity: 8},
	{maxTTL: 256 * 128, granularity: 128},
	{maxTTL: 256 * 2048, granularity: 2048},
	{maxTTL: 256 * 32768, granularity: 32768},
}

// MaxTTLSeconds is the largest TTL representable without clamping.
var MaxTTLSeconds = ranges[len(ranges)-1].maxTTL

// BucketIndex maps a TTL in seconds to its bucket index. TTL == 0 maps to
// the final bucket (spec.md §4.2 "TTL == 0 maps to the final bucket.
// TTLs above the maximum are clamped."); negative TTLs are treated as 1.
// Within each range after the first, the bucket offset is
// (ttlSeconds-1) / granularity measured from absolute zero, not from the range's own
// start, so the first 16 of each range's 256 buckets go unreachable —
// this matches ttlbucket.h's documented "(first 16 bucket not used)" for
// every range past the first, rather than repacking those buckets.
func BucketIndex(ttlSeconds int64) int {
	if ttlSeconds == 0 {
		return NumBuckets - 1
	}
	if ttlSeconds < 0 {
		ttlSeconds = 1
	}
	if ttlSeconds > MaxTTLSeconds {
		ttlSeconds = MaxTTLSeconds
	}

	base := 0

	for _, r := range ranges {
		if ttlSeconds <= r.maxTTL {
			idx := base + int((ttlSeconds-1)/r.granularity)
			if idx >= base+bucketsPerRange {
				idx = base + bucketsPerRange - 1
			}
			return idx
		}
		base += bucketsPerRange
	}

	// unreachable given the clamp above.
	return NumBuckets - 1
}
