package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestTimestamp_FormatParseRoundTrip(t *testing.T) {
	cases := []Timestamp{
		{},
		NewTimestamp(10, 0),
		NewTimestamp(1700000000, 123456),
		NewTimestamp(-5, 1),
		NewTimestamp(0, 999999),
		NeverExpire(),
		FromTime(time.Date(2024, 3, 1, 12, 30, 0, 987654321, time.UTC)),
	}
	for _, ts := range cases {
		got, err := ParseTimestamp(ts.String())
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) failed: %v", ts.String(), err)
		}
		if got != ts {
			t.Errorf("Round trip of %q gave %q", ts.String(), got.String())
		}
	}
}

func TestParseTimestamp_Errors(t *testing.T) {
	for _, s := range []string{"", "12", "12.5", "12.0000001", "a.000000", "1.00000x", "1.-00001"} {
		if _, err := ParseTimestamp(s); !errors.Is(err, ErrParse) {
			t.Errorf("ParseTimestamp(%q): expected ErrParse, got %v", s, err)
		}
	}
}

func TestNewTimestamp_Normalizes(t *testing.T) {
	ts := NewTimestamp(10, -1)
	if ts.Seconds() != 9 || ts.Microseconds() != 999999 {
		t.Errorf("Expected 9.999999, got %s", ts)
	}
	ts = NewTimestamp(1, 2500000)
	if ts.String() != "3.500000" {
		t.Errorf("Expected 3.500000, got %s", ts)
	}
}

func TestTimestamp_Ordering(t *testing.T) {
	a := NewTimestamp(10, 5)
	b := NewTimestamp(10, 6)
	c := NewTimestamp(11, 0)

	if !a.Before(b) || !b.Before(c) || !c.After(a) {
		t.Errorf("Unexpected ordering among %s, %s, %s", a, b, c)
	}
	if a.Compare(a) != 0 || !a.Equal(NewTimestamp(10, 5)) {
		t.Errorf("Expected equal timestamps to compare equal")
	}
	if !NeverExpire().After(NewTimestamp(math.MaxInt64, 999998)) {
		t.Errorf("NeverExpire must be later than any real timestamp")
	}
}

func TestTimestamp_DifferenceSeconds(t *testing.T) {
	a := NewTimestamp(40, 0)
	b := NewTimestamp(10, 500000)

	if d := a.DifferenceSeconds(b); d != 29.5 {
		t.Errorf("Expected 29.5, got %v", d)
	}
	if d := b.DifferenceSeconds(a); d != -29.5 {
		t.Errorf("Expected -29.5, got %v", d)
	}
	if d := NeverExpire().DifferenceSeconds(a); !math.IsInf(d, 1) {
		t.Errorf("Expected +Inf for never minus real, got %v", d)
	}
	if d := a.DifferenceSeconds(NeverExpire()); !math.IsInf(d, -1) {
		t.Errorf("Expected -Inf for real minus never, got %v", d)
	}
}

func TestTimestamp_AddAndTime(t *testing.T) {
	ts := NewTimestamp(100, 999999).Add(2 * time.Microsecond)
	if ts.String() != "101.000001" {
		t.Errorf("Expected 101.000001, got %s", ts)
	}
	if !NeverExpire().Add(time.Hour).IsNever() {
		t.Errorf("Adding to NeverExpire must keep the sentinel")
	}
	now := time.Unix(1700000000, 42000).UTC()
	if got := FromTime(now).Time(); !got.Equal(now) {
		t.Errorf("Expected %v, got %v", now, got)
	}
}

func TestTimestamp_JSON(t *testing.T) {
	in := struct{ At Timestamp }{At: NewTimestamp(12, 34)}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"At":"12.000034"}` {
		t.Errorf("Unexpected JSON: %s", data)
	}
	var out struct{ At Timestamp }
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.At != in.At {
		t.Errorf("Expected %s, got %s", in.At, out.At)
	}
}
