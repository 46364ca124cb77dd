package flowtable

import (
	"StreamCoverage/internal/engine/protocol"
	"StreamCoverage/internal/model"
	"StreamCoverage/internal/tracker"
	"sync"
)

// Stream is one entry of the flow table: the coverage tracker for a stream
// plus the sequence state needed to turn TCP sequence numbers into offsets.
// A closed stream is a tombstone kept until closedAt is older than the reap timeout.
type Stream struct {
	Tracker   *tracker.Tracker
	seq       protocol.SeqUnwrapper
	FirstSeen model.Timestamp

	closed   bool
	closedAt model.Timestamp
}

// Shard is a part of the sharded flow table, containing its own map and a mutex.
type Shard struct {
	streams map[model.StreamKey]*Stream
	mu      sync.Mutex
}

func newShard() *Shard {
	return &Shard{streams: make(map[model.StreamKey]*Stream)}
}
