package manager

import (
	"StreamCoverage/internal/engine/writer"
	"StreamCoverage/internal/model"
	"fmt"
	"sync/atomic"
)

type stats struct {
	packets    atomic.Uint64
	skipped    atomic.Uint64
	observed   atomic.Uint64
	newData    atomic.Uint64
	duplicates atomic.Uint64
	gapsFilled atomic.Uint64
	invalid    atomic.Uint64
	closed     atomic.Uint64
	reaped     atomic.Uint64
}

// Stats is a point-in-time copy of the ingestion counters.
type Stats struct {
	Packets    uint64 `json:"packets"`
	Skipped    uint64 `json:"skipped"`
	Observed   uint64 `json:"observed"`
	NewData    uint64 `json:"new_data"`
	Duplicates uint64 `json:"duplicates"`
	GapsFilled uint64 `json:"gaps_filled"`
	Invalid    uint64 `json:"invalid"`
	Closed     uint64 `json:"closed"`
	Reaped     uint64 `json:"reaped"`
	Streams    int    `json:"streams"`
}

func (s *stats) snapshot() Stats {
	return Stats{
		Packets:    s.packets.Load(),
		Skipped:    s.skipped.Load(),
		Observed:   s.observed.Load(),
		NewData:    s.newData.Load(),
		Duplicates: s.duplicates.Load(),
		GapsFilled: s.gapsFilled.Load(),
		Invalid:    s.invalid.Load(),
		Closed:     s.closed.Load(),
		Reaped:     s.reaped.Load(),
	}
}

// formatTermination renders one line for the TCP termination sink.
func formatTermination(at model.Timestamp, reason string, status model.FlowStatus) string {
	return fmt.Sprintf("%s %s %s", at, reason, writer.FormatLine(status))
}
