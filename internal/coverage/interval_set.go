package coverage

import (
	"fmt"
	"iter"
	"slices"
	"sort"
)

// IntervalSet is a sorted set of disjoint, non-adjacent byte ranges together
// with the lowest start and highest end ever inserted.
//
// The zero value is an empty set ready for use. An IntervalSet is not safe
// for concurrent use.
type IntervalSet struct {
	entries []Interval
	loStart uint64
	hiEnd   uint64
	seeded  bool
}

// InsertRange merges [start, end) into the set. changed is false when the
// range was empty or already fully inside a single existing entry.
// A range with start > end is rejected with ErrInvalidRange and leaves the
// set untouched.
func (s *IntervalSet) InsertRange(start, end uint64) (changed bool, err error) {
	if start > end {
		return false, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, end)
	}
	if start == end {
		return false, nil
	}

	if !s.seeded {
		s.loStart, s.hiEnd, s.seeded = start, end, true
	} else {
		s.loStart = min(s.loStart, start)
		s.hiEnd = max(s.hiEnd, end)
	}

	// Entries in [lo, hi) overlap or touch [start, end). Both ends ascend
	// because the entries are disjoint.
	lo := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].End >= start })
	hi := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].Start > end })

	if lo == hi {
		s.entries = slices.Insert(s.entries, lo, Interval{Start: start, End: end})
		return true, nil
	}
	if hi-lo == 1 && s.entries[lo].Contains(Interval{Start: start, End: end}) {
		return false, nil
	}

	fused := Interval{
		Start: min(start, s.entries[lo].Start),
		End:   max(end, s.entries[hi-1].End),
	}
	s.entries = slices.Replace(s.entries, lo, hi, fused)
	return true, nil
}

// Shift moves every entry and both bounds up by delta. It is used when the
// origin the offsets are measured from moves back.
func (s *IntervalSet) Shift(delta uint64) {
	if delta == 0 || !s.seeded {
		return
	}
	for i := range s.entries {
		s.entries[i].Start += delta
		s.entries[i].End += delta
	}
	s.loStart += delta
	s.hiEnd += delta
}

// Covered reports whether the byte at offset has been observed.
func (s *IntervalSet) Covered(offset uint64) bool {
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].End > offset })
	return i < len(s.entries) && s.entries[i].Start <= offset
}

// IsComplete reports whether the set is exactly one entry spanning [LoStart, HiEnd).
func (s *IntervalSet) IsComplete() bool {
	return len(s.entries) == 1 && s.entries[0] == Interval{Start: s.loStart, End: s.hiEnd}
}

// Bounds returns the all-time lowest start and highest end. ok is false
// until the first non-empty insertion.
func (s *IntervalSet) Bounds() (loStart, hiEnd uint64, ok bool) {
	return s.loStart, s.hiEnd, s.seeded
}

// Len returns the number of disjoint entries.
func (s *IntervalSet) Len() int {
	return len(s.entries)
}

// CoveredBytes returns the total number of distinct bytes observed.
func (s *IntervalSet) CoveredBytes() uint64 {
	var n uint64
	for _, e := range s.entries {
		n += e.Len()
	}
	return n
}

// Intervals returns a copy of the current entries in ascending order.
func (s *IntervalSet) Intervals() []Interval {
	return slices.Clone(s.entries)
}

// Gaps yields the uncovered ranges inside [LoStart, HiEnd) in ascending order.
// The sequence reads the set each time it is ranged over; the set must not
// be modified while iterating.
func (s *IntervalSet) Gaps() iter.Seq[Interval] {
	return func(yield func(Interval) bool) {
		if len(s.entries) == 0 {
			return
		}
		if first := s.entries[0]; s.loStart < first.Start {
			if !yield(Interval{Start: s.loStart, End: first.Start}) {
				return
			}
		}
		for i := 1; i < len(s.entries); i++ {
			if !yield(Interval{Start: s.entries[i-1].End, End: s.entries[i].Start}) {
				return
			}
		}
		if last := s.entries[len(s.entries)-1]; last.End < s.hiEnd {
			yield(Interval{Start: last.End, End: s.hiEnd})
		}
	}
}

// GapCount returns the number of ranges Gaps would yield.
func (s *IntervalSet) GapCount() int {
	n := 0
	for range s.Gaps() {
		n++
	}
	return n
}

// Describe yields one "[start, end)" string per entry in ascending order.
func (s *IntervalSet) Describe() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, e := range s.entries {
			if !yield(e.String()) {
				return
			}
		}
	}
}
