// Package bucketing maps subjects to stable pseudo-random positions in [0,100).
//
// The hash is the classic 31-multiplier string hash over UTF-16 code units
// with 32-bit wraparound. It is fast and spreads ids evenly enough for
// traffic splitting, but it is not cryptographic: anyone who knows an id can
// compute its bucket. Do not use it where bucketing must be unpredictable.
// Changing the function would move every existing subject to a new bucket.
package bucketing

import "unicode/utf16"

// Resolution is the number of discrete buckets; Bucket returns
// multiples of 100/Resolution.
const Resolution = 10000

// Hash returns the 32-bit string hash of s.
func Hash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

// Bucket returns the position of subjectID within experimentID in [0,100).
// The experiment id is part of the seed so that one subject is bucketed
// independently across experiments.
func Bucket(subjectID, experimentID string) float64 {
	h := int64(Hash(subjectID + experimentID))
	if h < 0 {
		h = -h
	}
	return float64(h%Resolution) / 100
}

// Pick walks weights in declared order and returns the index of the first
// entry whose cumulative weight exceeds bucket. When rounding leaves the
// bucket uncovered it falls back to index 0. It returns -1 for no weights.
func Pick(bucket float64, weights []float64) int {
	if len(weights) == 0 {
		return -1
	}
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if bucket < cumulative {
			return i
		}
	}
	return 0
}
