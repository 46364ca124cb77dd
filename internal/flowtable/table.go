package flowtable

import (
	"StreamCoverage/internal/coverage"
	"StreamCoverage/internal/model"
	"StreamCoverage/internal/tracker"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"
)

const defaultShardCount = 256

// ErrBeforeStreamStart is returned for segments that begin before the first
// byte of their stream. It wraps coverage.ErrInvalidRange.
var ErrBeforeStreamStart = fmt.Errorf("%w: segment precedes stream start", coverage.ErrInvalidRange)

// Result describes what the table did with one segment.
type Result struct {
	Observation model.Observation
	// Observed is false when the segment carried no bytes to track.
	Observed bool
	// Closed holds the final status when a FIN or RST ended the stream.
	Closed *model.FlowStatus
}

// Table maps streams to their coverage trackers using a sharded map.
// Streams are assigned to shards by the hash of their FlowKey.
type Table struct {
	shards         []*Shard
	shardCount     uint32
	minSegmentSize int
}

// New creates a table with numShards shards. Segments whose payload is
// smaller than minSegmentSize are not observed.
func New(numShards uint32, minSegmentSize int) *Table {
	if numShards == 0 || numShards >= 32768 {
		numShards = defaultShardCount
	}
	log.Printf("Creating flow table with %d shards, min segment size %d", numShards, minSegmentSize)
	t := &Table{
		shards:         make([]*Shard, numShards),
		shardCount:     numShards,
		minSegmentSize: minSegmentSize,
	}
	for i := range t.shards {
		t.shards[i] = newShard()
	}
	return t
}

// ShardIndex returns the shard that owns streams of flow.
func (t *Table) ShardIndex(flow model.FlowKey) int {
	return int(flow.Hash() % uint64(t.shardCount))
}

func (t *Table) getShard(flow model.FlowKey) *Shard {
	return t.shards[t.ShardIndex(flow)]
}

// Observe feeds one TCP segment travelling in direction dir into the table.
// A stream is created by a SYN or by a segment carrying payload; bare ACKs and
// FINs for unknown streams are ignored.
//
// A FIN or RST closes the stream exactly once. The entry stays behind as a
// tombstone that swallows retransmissions and trailing ACKs until it has been
// idle for a reap timeout, or a new SYN reuses the ports.
func (t *Table) Observe(info *model.PacketInfo, dir model.Direction) (Result, error) {
	key := model.StreamKey{Flow: info.Key, SrcPort: info.SrcPort, DstPort: info.DstPort, Direction: dir}
	res := Result{Observation: model.Observation{Key: key, At: info.Timestamp}}

	shard := t.getShard(info.Key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	stream, ok := shard.streams[key]
	switch {
	case ok && stream.closed && !info.SYN:
		stream.closedAt = info.Timestamp
		return res, nil
	case !ok && !info.SYN && info.PayloadLen == 0:
		return res, nil
	case !ok || stream.closed:
		stream = &Stream{Tracker: tracker.New(info.Timestamp), FirstSeen: info.Timestamp}
		shard.streams[key] = stream
	}

	seq := info.Seq
	if info.SYN {
		stream.Tracker.Shift(stream.seq.AnchorSYN(info.Seq))
		// SYN payload (TCP Fast Open) starts one past the SYN's own sequence number.
		seq++
	}

	var err error
	if info.PayloadLen > 0 {
		err = t.observe(stream, seq, info, &res)
	}

	if info.FIN || info.RST {
		status := stream.Tracker.Status(key)
		res.Closed = &status
		stream.closed = true
		stream.closedAt = info.Timestamp
	}
	return res, err
}

func (t *Table) observe(stream *Stream, seq uint32, info *model.PacketInfo, res *Result) error {
	obs := &res.Observation
	start, end, shift, ok := stream.seq.Offset(seq, info.PayloadLen)
	stream.Tracker.Shift(shift)
	if !ok {
		obs.Classification = model.InvalidRange
		return ErrBeforeStreamStart
	}
	if info.PayloadLen < t.minSegmentSize {
		return nil
	}
	obs.Start, obs.End = start, end
	obs.GapsBefore = stream.Tracker.Snapshot().GapCount

	class, err := stream.Tracker.Observe(start, end, info.Timestamp)
	obs.Classification = class
	if err != nil {
		return err
	}
	obs.GapsAfter = stream.Tracker.Snapshot().GapCount
	res.Observed = true
	return nil
}

// Get returns the status of one stream.
func (t *Table) Get(key model.StreamKey) (model.FlowStatus, bool) {
	shard := t.getShard(key.Flow)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if stream, ok := shard.streams[key]; ok && !stream.closed {
		return stream.Tracker.Status(key), true
	}
	return model.FlowStatus{}, false
}

// Exempt keeps key from being reaped before deadline.
func (t *Table) Exempt(key model.StreamKey, deadline model.Timestamp) error {
	shard := t.getShard(key.Flow)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	stream, ok := shard.streams[key]
	if !ok || stream.closed {
		return errors.New("unknown stream " + key.String())
	}
	stream.Tracker.ExemptUntil(deadline)
	return nil
}

// Reap removes every stream that is stale at now and returns their final status.
// Tombstones of closed streams idle for longer than timeout are dropped
// without a status, since their close was already reported. Each shard is locked while it is scanned, so a reap never overlaps an
// Observe on the same stream.
func (t *Table) Reap(now model.Timestamp, timeout time.Duration) []model.FlowStatus {
	var (
		mu     sync.Mutex
		reaped []model.FlowStatus
		wg     sync.WaitGroup
	)
	wg.Add(len(t.shards))
	for _, shard := range t.shards {
		go func(shard *Shard) {
			defer wg.Done()
			var local []model.FlowStatus
			shard.mu.Lock()
			for key, stream := range shard.streams {
				if stream.closed {
					if now.DifferenceSeconds(stream.closedAt) > timeout.Seconds() {
						delete(shard.streams, key)
					}
					continue
				}
				if stream.Tracker.IsStale(now, timeout) {
					local = append(local, stream.Tracker.Status(key))
					delete(shard.streams, key)
				}
			}
			shard.mu.Unlock()
			if len(local) > 0 {
				mu.Lock()
				reaped = append(reaped, local...)
				mu.Unlock()
			}
		}(shard)
	}
	wg.Wait()
	sortStatuses(reaped)
	return reaped
}

// Snapshot returns the status of every tracked stream, ordered by key.
func (t *Table) Snapshot() []model.FlowStatus {
	parts := make([][]model.FlowStatus, len(t.shards))
	var wg sync.WaitGroup
	wg.Add(len(t.shards))
	for i, shard := range t.shards {
		go func(i int, shard *Shard) {
			defer wg.Done()
			shard.mu.Lock()
			local := make([]model.FlowStatus, 0, len(shard.streams))
			for key, stream := range shard.streams {
				if !stream.closed {
					local = append(local, stream.Tracker.Status(key))
				}
			}
			shard.mu.Unlock()
			parts[i] = local
		}(i, shard)
	}
	wg.Wait()

	statuses := slices.Concat(parts...)
	sortStatuses(statuses)
	return statuses
}

// Drain removes and returns every stream, ordered by key.
func (t *Table) Drain() []model.FlowStatus {
	var all []model.FlowStatus
	for _, shard := range t.shards {
		shard.mu.Lock()
		for key, stream := range shard.streams {
			if !stream.closed {
				all = append(all, stream.Tracker.Status(key))
			}
		}
		shard.streams = make(map[model.StreamKey]*Stream)
		shard.mu.Unlock()
	}
	sortStatuses(all)
	return all
}

// Len returns the number of open streams.
func (t *Table) Len() int {
	count := 0
	for _, shard := range t.shards {
		shard.mu.Lock()
		for _, stream := range shard.streams {
			if !stream.closed {
				count++
			}
		}
		shard.mu.Unlock()
	}
	return count
}

func sortStatuses(s []model.FlowStatus) {
	slices.SortFunc(s, func(a, b model.FlowStatus) int {
		return a.Key.Compare(b.Key)
	})
}
