package tracker

import (
	"StreamCoverage/internal/coverage"
	"StreamCoverage/internal/model"
	"slices"
	"time"
)

// Tracker follows the byte coverage of one direction of one flow.
// It is not safe for concurrent use; the owning flow table serializes access.
type Tracker struct {
	set         coverage.IntervalSet
	lastUpdate  model.Timestamp
	exemptUntil model.Timestamp
	exempt      bool

	observations uint64
	duplicates   uint64
}

// Summary is the read-only status of a tracker.
type Summary struct {
	LoStart    uint64
	HiEnd      uint64
	IsComplete bool
	GapCount   int
}

// New creates a tracker whose last update is at.
func New(at model.Timestamp) *Tracker {
	return &Tracker{lastUpdate: at}
}

// Observe records the range [start, end) seen at time at.
// Every accepted call refreshes the last-update time, including duplicates.
// A malformed range returns model.InvalidRange and an error wrapping
// coverage.ErrInvalidRange; the tracker is left untouched.
func (t *Tracker) Observe(start, end uint64, at model.Timestamp) (model.Classification, error) {
	changed, err := t.set.InsertRange(start, end)
	if err != nil {
		return model.InvalidRange, err
	}
	t.lastUpdate = at
	t.observations++
	if !changed {
		t.duplicates++
		return model.DuplicateData, nil
	}
	return model.NewData, nil
}

// Shift moves all recorded ranges up by delta bytes.
func (t *Tracker) Shift(delta uint64) {
	t.set.Shift(delta)
}

// ExemptUntil keeps the tracker from going stale before deadline.
// Pass model.NeverExpire() to exempt it permanently.
func (t *Tracker) ExemptUntil(deadline model.Timestamp) {
	t.exemptUntil = deadline
	t.exempt = true
}

// ClearExemption removes any exemption set by ExemptUntil.
func (t *Tracker) ClearExemption() {
	t.exempt = false
}

// IsStale reports whether more than timeout has passed between the last
// update and now, and no exemption covers now.
func (t *Tracker) IsStale(now model.Timestamp, timeout time.Duration) bool {
	if t.exempt && now.Before(t.exemptUntil) {
		return false
	}
	return now.DifferenceSeconds(t.lastUpdate) > timeout.Seconds()
}

// LastUpdate returns the time of the most recent accepted observation.
func (t *Tracker) LastUpdate() model.Timestamp {
	return t.lastUpdate
}

// Snapshot summarizes the tracker's coverage.
func (t *Tracker) Snapshot() Summary {
	lo, hi, _ := t.set.Bounds()
	return Summary{
		LoStart:    lo,
		HiEnd:      hi,
		IsComplete: t.set.IsComplete(),
		GapCount:   t.set.GapCount(),
	}
}

// Covered reports whether byte offset has been observed.
func (t *Tracker) Covered(offset uint64) bool {
	return t.set.Covered(offset)
}

// Gaps returns the uncovered ranges inside the observed span.
func (t *Tracker) Gaps() []coverage.Interval {
	return slices.Collect(t.set.Gaps())
}

// Status fills a status report for key.
func (t *Tracker) Status(key model.StreamKey) model.FlowStatus {
	s := t.Snapshot()
	return model.FlowStatus{
		Key:          key,
		LoStart:      s.LoStart,
		HiEnd:        s.HiEnd,
		Complete:     s.IsComplete,
		Gaps:         s.GapCount,
		Covered:      t.set.CoveredBytes(),
		Ranges:       slices.Collect(t.set.Describe()),
		LastUpdate:   t.lastUpdate,
		Observations: t.observations,
		Duplicates:   t.duplicates,
	}
}
