// Package mention reconciles overlapping candidate spans from independent annotators
// into one non-overlapping mention set.
package mention

import (
	"sort"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

// DefaultThreshold is the minimum confidence a surviving mention needs.
const DefaultThreshold = 0.75

// Deduplicator selects a non-overlapping subset of candidate mentions.
type Deduplicator struct {
	threshold float64
}

// NewDeduplicator returns a Deduplicator that drops survivors below threshold.
// A negative threshold disables the filter.
func NewDeduplicator(threshold float64) *Deduplicator {
	return &Deduplicator{threshold: threshold}
}

// Deduplicate sorts candidates by (start asc, confidence desc) and sweeps once.
// A candidate that starts at or after the end of the last kept mention is kept.
// An overlapping candidate replaces the last kept mention only with strictly higher
// confidence. Only the immediately preceding kept mention is compared, so the result is
// greedy rather than a globally optimal interval selection.
// The threshold filter runs after the sweep. The input slice is not modified.
func (d *Deduplicator) Deduplicate(candidates []common.Mention) []common.Mention {
	if len(candidates) == 0 {
		return []common.Mention{}
	}

	sorted := make([]common.Mention, 0, len(candidates))
	for _, c := range candidates {
		if c.End <= c.Start {
			continue
		}
		sorted = append(sorted, c)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		// Remaining ties are broken on stable fields so runs are reproducible.
		if a.End != b.End {
			return a.End > b.End
		}
		if a.Annotator != b.Annotator {
			return a.Annotator < b.Annotator
		}
		return a.Type < b.Type
	})

	kept := make([]common.Mention, 0, len(sorted))
	for _, c := range sorted {
		if len(kept) == 0 {
			kept = append(kept, c)
			continue
		}
		last := &kept[len(kept)-1]
		if c.Start >= last.End {
			kept = append(kept, c)
			continue
		}
		if c.Confidence > last.Confidence {
			*last = c
		}
	}

	out := kept[:0]
	for _, m := range kept {
		if m.Confidence < d.threshold {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Deduplicate runs a Deduplicator with the default threshold.
func Deduplicate(candidates []common.Mention) []common.Mention {
	return NewDeduplicator(DefaultThreshold).Deduplicate(candidates)
}
