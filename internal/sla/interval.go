package sla

import (
	"sort"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration {
	if !i.End.After(i.Start) {
		return 0
	}
	return i.End.Sub(i.Start)
}

func (i Interval) Valid() bool {
	return i.End.After(i.Start)
}

func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Intersect returns the overlap of i and other; ok is false when they do not
// share any instant.
func (i Interval) Intersect(other Interval) (Interval, bool) {
	start := i.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := i.End
	if other.End.Before(end) {
		end = other.End
	}
	if !end.After(start) {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

// Union merges overlapping or touching intervals into a sorted, disjoint set.
// Invalid intervals are dropped.
func Union(intervals []Interval) []Interval {
	valid := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Valid() {
			valid = append(valid, iv)
		}
	}
	if len(valid) == 0 {
		return valid
	}
	sort.Slice(valid, func(a, b int) bool {
		return valid[a].Start.Before(valid[b].Start)
	})
	merged := []Interval{valid[0]}
	for _, iv := range valid[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// TotalDuration sums durations of a disjoint set.
func TotalDuration(intervals []Interval) time.Duration {
	var total time.Duration
	for _, iv := range intervals {
		total += iv.Duration()
	}
	return total
}

// Subtract removes every instant covered by cut from base. Both inputs may be
// unsorted and overlapping; the result is sorted and disjoint.
func Subtract(base, cut []Interval) []Interval {
	base = Union(base)
	cut = Union(cut)
	out := make([]Interval, 0, len(base))
	for _, b := range base {
		remaining := []Interval{b}
		for _, c := range cut {
			if !c.Overlaps(b) {
				continue
			}
			next := make([]Interval, 0, len(remaining)+1)
			for _, r := range remaining {
				if !c.Overlaps(r) {
					next = append(next, r)
					continue
				}
				if c.Start.After(r.Start) {
					next = append(next, Interval{Start: r.Start, End: c.Start})
				}
				if c.End.Before(r.End) {
					next = append(next, Interval{Start: c.End, End: r.End})
				}
			}
			remaining = next
		}
		out = append(out, remaining...)
	}
	return out
}
