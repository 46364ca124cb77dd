package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const microsPerSecond = 1000000

// neverText is the textual form of the NeverExpire sentinel.
const neverText = "never"

// Timestamp is a wall-clock instant with microsecond precision.
// The zero value is the Unix epoch.
type Timestamp struct {
	sec  int64
	usec int32 // always in [0, 999999]
}

// Now returns the current wall-clock time truncated to microseconds.
func Now() Timestamp {
	return FromTime(time.Now())
}

// NeverExpire returns a sentinel that compares later than any real timestamp.
func NeverExpire() Timestamp {
	return Timestamp{sec: math.MaxInt64, usec: microsPerSecond - 1}
}

// FromTime converts a time.Time, dropping sub-microsecond precision.
func FromTime(t time.Time) Timestamp {
	return Timestamp{sec: t.Unix(), usec: int32(t.Nanosecond() / 1000)}
}

// NewTimestamp builds a timestamp from seconds and microseconds since the epoch.
// Microseconds outside [0, 999999] are carried into the seconds field.
func NewTimestamp(sec int64, usec int64) Timestamp {
	sec += usec / microsPerSecond
	usec %= microsPerSecond
	if usec < 0 {
		usec += microsPerSecond
		sec--
	}
	return Timestamp{sec: sec, usec: int32(usec)}
}

// Seconds returns the whole seconds since the epoch.
func (t Timestamp) Seconds() int64 { return t.sec }

// Microseconds returns the sub-second part in microseconds.
func (t Timestamp) Microseconds() int32 { return t.usec }

// IsNever reports whether t is the NeverExpire sentinel.
func (t Timestamp) IsNever() bool {
	return t == NeverExpire()
}

// Time converts t to a time.Time in UTC. The sentinel has no meaningful
// representation and converts to the largest Unix time Go can hold.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.sec, int64(t.usec)*1000).UTC()
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or after u.
func (t Timestamp) Compare(u Timestamp) int {
	switch {
	case t.sec < u.sec:
		return -1
	case t.sec > u.sec:
		return 1
	case t.usec < u.usec:
		return -1
	case t.usec > u.usec:
		return 1
	}
	return 0
}

func (t Timestamp) Before(u Timestamp) bool { return t.Compare(u) < 0 }
func (t Timestamp) After(u Timestamp) bool  { return t.Compare(u) > 0 }
func (t Timestamp) Equal(u Timestamp) bool  { return t == u }

// DifferenceSeconds returns t minus u in seconds. A positive result means t is later.
// Differences involving the NeverExpire sentinel are infinite.
func (t Timestamp) DifferenceSeconds(u Timestamp) float64 {
	tn, un := t.IsNever(), u.IsNever()
	switch {
	case tn && un:
		return 0
	case tn:
		return math.Inf(1)
	case un:
		return math.Inf(-1)
	}
	return float64(t.sec-u.sec) + float64(int64(t.usec)-int64(u.usec))/microsPerSecond
}

// Add returns t shifted by d. The sentinel is returned unchanged.
func (t Timestamp) Add(d time.Duration) Timestamp {
	if t.IsNever() {
		return t
	}
	return NewTimestamp(t.sec, int64(t.usec)+d.Microseconds())
}

// String formats t as "<seconds>.<6-digit microseconds>", or "never" for the sentinel.
// ParseTimestamp accepts exactly this form.
func (t Timestamp) String() string {
	if t.IsNever() {
		return neverText
	}
	return fmt.Sprintf("%d.%06d", t.sec, t.usec)
}

// ParseTimestamp parses the output of Timestamp.String.
func ParseTimestamp(s string) (Timestamp, error) {
	if s == neverText {
		return NeverExpire(), nil
	}
	secPart, usecPart, ok := strings.Cut(s, ".")
	if !ok || len(usecPart) != 6 {
		return Timestamp{}, fmt.Errorf("%w: timestamp %q: expected <seconds>.<6 digits>", ErrParse, s)
	}
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: timestamp %q: %v", ErrParse, s, err)
	}
	for _, c := range usecPart {
		if c < '0' || c > '9' {
			return Timestamp{}, fmt.Errorf("%w: timestamp %q: bad microseconds", ErrParse, s)
		}
	}
	usec, _ := strconv.Atoi(usecPart)
	ts := Timestamp{sec: sec, usec: int32(usec)}
	if ts.IsNever() {
		return Timestamp{}, fmt.Errorf("%w: timestamp %q collides with the never sentinel", ErrParse, s)
	}
	return ts, nil
}

// MarshalText implements encoding.TextMarshaler using the String form.
func (t Timestamp) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Timestamp) UnmarshalText(b []byte) error {
	ts, err := ParseTimestamp(string(b))
	if err != nil {
		return err
	}
	*t = ts
	return nil
}

// MarshalBinary lets gob encode timestamps despite their unexported fields.
func (t Timestamp) MarshalBinary() ([]byte, error) { return t.MarshalText() }

// UnmarshalBinary is the inverse of MarshalBinary.
func (t *Timestamp) UnmarshalBinary(b []byte) error { return t.UnmarshalText(b) }
