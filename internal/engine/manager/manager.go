package manager

import (
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/engine/protocol"
	"StreamCoverage/internal/engine/writer"
	"StreamCoverage/internal/factory"
	"StreamCoverage/internal/flowtable"
	"StreamCoverage/internal/model"
	"StreamCoverage/internal/probe"
	"StreamCoverage/internal/sink"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
)

// ErrStopped is returned by the ingestion methods after Stop.
var ErrStopped = errors.New("manager stopped")

type job struct {
	info    *model.PacketInfo
	dir     model.Direction
	barrier *sync.WaitGroup
}

// Manager is the ingestion facade. It owns the flow table, routes packets to
// workers by flow, reaps stale streams and feeds the status writers.
type Manager struct {
	table     *flowtable.Table
	writers   []model.Writer
	sinks     *sink.Sinks
	publisher model.Publisher
	closePub  func()
	uplinks   []*net.IPNet
	parsers   sync.Pool
	stats     stats

	// Worker pool; a flow always lands on the same queue.
	queues     []chan job
	numWorkers int
	workerWg   sync.WaitGroup
	stopMu     sync.RWMutex
	stopped    bool

	// Reaping and snapshotting resources
	timeout       time.Duration
	reapInterval  time.Duration
	clockMu       sync.Mutex
	clock         model.Timestamp
	done          chan struct{}
	snapshotterWg sync.WaitGroup
	reaperWg      sync.WaitGroup
}

// NewManager creates a Manager from cfg. Packets are decoded starting at firstLayer.
func NewManager(cfg *config.Config, firstLayer gopacket.LayerType) (*Manager, error) {
	timeout, err := cfg.Engine.Timeout()
	if err != nil {
		return nil, err
	}
	reapInterval, err := cfg.Engine.Reap()
	if err != nil {
		return nil, err
	}
	uplinks, err := cfg.Engine.Networks()
	if err != nil {
		return nil, err
	}
	if cfg.Engine.ByteOrder != "" && cfg.Engine.ByteOrder != "host" {
		log.Printf("Warning: byte_order '%s' is recorded but not applied; offsets and addresses are taken in host order.", cfg.Engine.ByteOrder)
	}

	writers, err := factory.CreateWriters(cfg)
	if err != nil {
		return nil, err
	}
	sinks, err := sink.Open(cfg.Sinks, cfg.Engine.SizeOfPacketChannel)
	if err != nil {
		return nil, fmt.Errorf("failed to open sinks: %w", err)
	}

	numWorkers := cfg.Engine.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	m := &Manager{
		table:        flowtable.New(cfg.Engine.NumShards, cfg.Engine.MinSegmentSize),
		writers:      writers,
		sinks:        sinks,
		uplinks:      uplinks,
		queues:       make([]chan job, numWorkers),
		numWorkers:   numWorkers,
		timeout:      timeout,
		reapInterval: reapInterval,
		done:         make(chan struct{}),
	}
	m.parsers.New = func() interface{} { return protocol.NewParser(firstLayer) }
	for i := range m.queues {
		m.queues[i] = make(chan job, cfg.Engine.SizeOfPacketChannel)
	}

	if cfg.Probe.Enabled {
		pub, err := probe.NewPublisher(cfg.Probe)
		if err != nil {
			sinks.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		m.publisher = pub
		m.closePub = pub.Close
	}
	return m, nil
}

// Start begins the packet workers, the snapshotters and the reaper.
func (m *Manager) Start() {
	for _, wr := range m.writers {
		m.snapshotterWg.Add(1)
		go m.runSnapshotter(wr)
		log.Printf("Started snapshotter for a writer with interval %s.", wr.GetInterval())
	}

	m.reaperWg.Add(1)
	go m.runReaper()
	log.Printf("Started reaper with interval %s and flow timeout %s", m.reapInterval, m.timeout)

	m.workerWg.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go m.worker(m.queues[i])
	}
	log.Printf("Manager started with %d workers.", m.numWorkers)
}

// Ingest decodes one captured frame travelling in direction dir and queues it
// for its flow's worker. It fails for frames that are not IPv4/TCP and after Stop.
func (m *Manager) Ingest(data []byte, ts model.Timestamp, dir model.Direction) error {
	info, err := m.parse(data, ts)
	if err != nil {
		return err
	}
	return m.Dispatch(info, dir)
}

// IngestAuto is Ingest with the direction taken from the uplink networks.
func (m *Manager) IngestAuto(data []byte, ts model.Timestamp) error {
	info, err := m.parse(data, ts)
	if err != nil {
		return err
	}
	return m.Dispatch(info, m.Direction(info.Key))
}

func (m *Manager) parse(data []byte, ts model.Timestamp) (*model.PacketInfo, error) {
	m.stats.packets.Add(1)
	p := m.parsers.Get().(*protocol.Parser)
	info, err := p.Parse(data, ts)
	m.parsers.Put(p)
	if err != nil {
		m.stats.skipped.Add(1)
		return nil, err
	}
	return info, nil
}

// Direction classifies flow as uplink when its source lies in an uplink network.
func (m *Manager) Direction(flow model.FlowKey) model.Direction {
	ip := flow.Src.IP()
	for _, n := range m.uplinks {
		if n.Contains(ip) {
			return model.Uplink
		}
	}
	return model.Downlink
}

// Dispatch queues an already-decoded segment.
func (m *Manager) Dispatch(info *model.PacketInfo, dir model.Direction) error {
	m.stopMu.RLock()
	defer m.stopMu.RUnlock()
	if m.stopped {
		return ErrStopped
	}
	m.advanceClock(info.Timestamp)
	m.queues[m.table.ShardIndex(info.Key)%m.numWorkers] <- job{info: info, dir: dir}
	return nil
}

// Flush blocks until every packet dispatched before the call has been processed.
func (m *Manager) Flush() error {
	m.stopMu.RLock()
	defer m.stopMu.RUnlock()
	if m.stopped {
		return ErrStopped
	}
	var barrier sync.WaitGroup
	barrier.Add(len(m.queues))
	for _, q := range m.queues {
		q <- job{barrier: &barrier}
	}
	barrier.Wait()
	return nil
}

func (m *Manager) worker(queue <-chan job) {
	defer m.workerWg.Done()
	for j := range queue {
		if j.barrier != nil {
			j.barrier.Done()
			continue
		}
		m.process(j)
	}
}

func (m *Manager) process(j job) {
	res, err := m.table.Observe(j.info, j.dir)
	if err != nil {
		m.stats.invalid.Add(1)
	} else if res.Observed {
		m.stats.observed.Add(1)
		switch res.Observation.Classification {
		case model.NewData:
			m.stats.newData.Add(1)
			if res.Observation.GapsAfter < res.Observation.GapsBefore {
				m.stats.gapsFilled.Add(1)
			}
		case model.DuplicateData:
			m.stats.duplicates.Add(1)
		}
		if m.publisher != nil {
			if err := m.publisher.Publish(res.Observation); err != nil {
				log.Printf("Failed to publish observation: %v", err)
			}
		}
	}
	if res.Closed != nil {
		m.stats.closed.Add(1)
		reason := "fin"
		if j.info.RST {
			reason = "rst"
		}
		m.logTermination(j.info.Timestamp, reason, *res.Closed)
	}
}

// advanceClock keeps the latest capture time, which drives reaping so that
// replayed captures expire flows on their own timeline.
func (m *Manager) advanceClock(ts model.Timestamp) {
	m.clockMu.Lock()
	if ts.After(m.clock) {
		m.clock = ts
	}
	m.clockMu.Unlock()
}

// Now returns the latest capture time seen, or the wall clock before any packet.
func (m *Manager) Now() model.Timestamp {
	m.clockMu.Lock()
	defer m.clockMu.Unlock()
	if m.clock == (model.Timestamp{}) {
		return model.Now()
	}
	return m.clock
}

// runReaper removes stale streams on every tick.
func (m *Manager) runReaper() {
	defer m.reaperWg.Done()
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Reap()
		case <-m.done:
			log.Println("Reaper shutting down.")
			return
		}
	}
}

// Reap expires every stream idle for longer than the flow timeout and
// returns how many were removed.
func (m *Manager) Reap() int {
	now := m.Now()
	reaped := m.table.Reap(now, m.timeout)
	for _, status := range reaped {
		m.logTermination(now, "timeout", status)
	}
	m.stats.reaped.Add(uint64(len(reaped)))
	if len(reaped) > 0 {
		log.Printf("Reaped %d stale streams at %s", len(reaped), now)
	}
	return len(reaped)
}

func (m *Manager) logTermination(at model.Timestamp, reason string, status model.FlowStatus) {
	m.sinks.Log(sink.TCPTermination, formatTermination(at, reason, status))
}

// runSnapshotter runs a dedicated snapshot loop for a single writer.
func (m *Manager) runSnapshotter(wr model.Writer) {
	defer m.snapshotterWg.Done()
	interval := wr.GetInterval()
	if interval <= 0 {
		log.Printf("Invalid interval %s for writer, snapshotter will not run.", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.takeSnapshotForWriter(wr)
		case <-m.done:
			m.takeSnapshotForWriter(wr)
			return
		}
	}
}

func (m *Manager) takeSnapshotForWriter(wr model.Writer) {
	timestamp := model.SnapshotName(time.Now())
	flows := m.table.Snapshot()
	if err := wr.Write(flows, timestamp); err != nil {
		log.Printf("Error writing snapshot at %s: %v", timestamp, err)
	}
}

// Status returns the status of every tracked stream, ordered by key.
func (m *Manager) Status() []model.FlowStatus {
	return m.table.Snapshot()
}

// StatusDump writes a human-readable line for every tracked stream to w.
func (m *Manager) StatusDump(w io.Writer) error {
	return writer.FormatStatus(w, m.table.Snapshot())
}

// Stream returns the status of one stream.
func (m *Manager) Stream(key model.StreamKey) (model.FlowStatus, bool) {
	return m.table.Get(key)
}

// Exempt keeps a stream from being reaped before deadline.
func (m *Manager) Exempt(key model.StreamKey, deadline model.Timestamp) error {
	return m.table.Exempt(key, deadline)
}

// Stats returns a copy of the ingestion counters.
func (m *Manager) Stats() Stats {
	s := m.stats.snapshot()
	s.Streams = m.table.Len()
	return s
}

// Stop gracefully shuts down the manager. Streams still open are written to
// the termination sink with reason "eof".
func (m *Manager) Stop() {
	log.Println("Manager stopping...")
	// 1. Stop accepting new packets.
	m.stopMu.Lock()
	m.stopped = true
	for _, q := range m.queues {
		close(q)
	}
	m.stopMu.Unlock()

	// 2. Wait for all workers to finish processing buffered packets.
	log.Println("Waiting for workers to finish...")
	m.workerWg.Wait()

	// 3. Signal snapshotters and reaper to take final actions and exit.
	close(m.done)
	log.Println("Waiting for snapshotters and reaper to finish...")
	m.snapshotterWg.Wait()
	m.reaperWg.Wait()

	// 4. Report what is left and release the outputs.
	now := m.Now()
	for _, status := range m.table.Drain() {
		m.logTermination(now, "eof", status)
	}
	m.sinks.Close()
	if m.closePub != nil {
		m.closePub()
	}
	log.Println("Manager stopped.")
}
