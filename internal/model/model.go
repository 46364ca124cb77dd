package model

import (
	"cmp"
	"fmt"
	"strconv"
)

// Direction tells which side of the link a stream travels on.
type Direction uint8

const (
	Uplink Direction = iota
	Downlink
)

func (d Direction) String() string {
	switch d {
	case Uplink:
		return "uplink"
	case Downlink:
		return "downlink"
	}
	return "direction(" + strconv.Itoa(int(d)) + ")"
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "uplink":
		return Uplink, nil
	case "downlink":
		return Downlink, nil
	}
	return 0, fmt.Errorf("%w: direction %q", ErrParse, s)
}

// Classification is the outcome of observing a byte range on a stream.
type Classification uint8

const (
	// NewData means the range added coverage that was not seen before.
	NewData Classification = iota
	// DuplicateData means every byte of the range was already covered.
	DuplicateData
	// InvalidRange means the range was rejected without touching state.
	InvalidRange
)

func (c Classification) String() string {
	switch c {
	case NewData:
		return "new"
	case DuplicateData:
		return "duplicate"
	case InvalidRange:
		return "invalid"
	}
	return "classification(" + strconv.Itoa(int(c)) + ")"
}

// ParseClassification is the inverse of Classification.String.
func ParseClassification(s string) (Classification, error) {
	for _, c := range []Classification{NewData, DuplicateData, InvalidRange} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: classification %q", ErrParse, s)
}

// PacketInfo holds the header fields extracted from a single TCP segment.
type PacketInfo struct {
	Timestamp  Timestamp
	Key        FlowKey
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	PayloadLen int
	SYN        bool
	FIN        bool
	RST        bool
	Length     int
}

// StreamKey identifies one tracked stream in the flow table.
type StreamKey struct {
	Flow      FlowKey
	SrcPort   uint16
	DstPort   uint16
	Direction Direction
}

// Compare orders stream keys by flow key, then ports, then direction.
func (k StreamKey) Compare(o StreamKey) int {
	if c := k.Flow.Compare(o.Flow); c != 0 {
		return c
	}
	switch {
	case k.SrcPort != o.SrcPort:
		return cmp.Compare(k.SrcPort, o.SrcPort)
	case k.DstPort != o.DstPort:
		return cmp.Compare(k.DstPort, o.DstPort)
	}
	return cmp.Compare(k.Direction, o.Direction)
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%s", k.Flow.Src, k.SrcPort, k.Flow.Dst, k.DstPort, k.Direction)
}

// FlowStatus is the status report for one tracked stream.
type FlowStatus struct {
	Key          StreamKey
	LoStart      uint64
	HiEnd        uint64
	Complete     bool
	Gaps         int
	Covered      uint64
	Ranges       []string
	LastUpdate   Timestamp
	Observations uint64
	Duplicates   uint64
}

// Observation is emitted for every accepted range on a stream.
type Observation struct {
	Key            StreamKey
	Start          uint64
	End            uint64
	At             Timestamp
	Classification Classification
	GapsBefore     int
	GapsAfter      int
}
