package coverage

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is returned when a range has start > end.
var ErrInvalidRange = errors.New("invalid range")

// Interval is a half-open range [Start, End) of stream-relative byte offsets.
type Interval struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes in the interval.
func (i Interval) Len() uint64 {
	return i.End - i.Start
}

// Empty reports whether the interval covers no bytes.
func (i Interval) Empty() bool {
	return i.Start == i.End
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return i.Start <= o.Start && o.End <= i.End
}

func (i Interval) String() string {
	return fmt.Sprintf("[%d, %d)", i.Start, i.End)
}
