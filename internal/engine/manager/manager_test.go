package manager

import (
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/model"
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

type fakePublisher struct {
	mu  sync.Mutex
	obs []model.Observation
}

func (p *fakePublisher) Publish(obs model.Observation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.obs = append(p.obs, obs)
	return nil
}

type segment struct {
	seq      uint32
	payload  int
	syn, fin bool
}

func buildFrame(t *testing.T, s segment) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{192, 168, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, Seq: s.seq, SYN: s.syn, FIN: s.fin, ACK: !s.syn, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(make([]byte, s.payload))); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}
	return buf.Bytes()
}

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.NumWorkers = 2
	cfg.Engine.NumShards = 8
	cfg.Engine.ReapInterval = "1h"
	cfg.Engine.UplinkNetworks = []string{"192.168.0.0/16"}
	termPath := filepath.Join(t.TempDir(), "termination.log")
	cfg.Sinks.TCPTermination = termPath
	return cfg, termPath
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	cfg, termPath := testConfig(t)
	m, err := NewManager(cfg, layers.LayerTypeEthernet)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m, termPath
}

func TestManager_IngestAndStop(t *testing.T) {
	m, termPath := newTestManager(t)
	m.Start()

	segments := []segment{
		{seq: 999, syn: true},
		{seq: 1000, payload: 10},
		{seq: 1020, payload: 10},
		{seq: 1000, payload: 5},
	}
	for i, s := range segments {
		if err := m.Ingest(buildFrame(t, s), model.NewTimestamp(int64(10+i), 0), model.Uplink); err != nil {
			t.Fatalf("Ingest %d failed: %v", i, err)
		}
	}
	if err := m.Ingest([]byte{1, 2, 3}, model.NewTimestamp(20, 0), model.Uplink); err == nil {
		t.Errorf("Expected an error for a truncated frame")
	}
	m.Stop()

	if err := m.Ingest(buildFrame(t, segments[1]), model.NewTimestamp(30, 0), model.Uplink); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Stop, got %v", err)
	}

	stats := m.Stats()
	if stats.Observed != 3 || stats.NewData != 2 || stats.Duplicates != 1 || stats.Skipped != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.Streams != 0 {
		t.Errorf("Expected the table to be drained on Stop, got %d streams", stats.Streams)
	}

	data, err := os.ReadFile(termPath)
	if err != nil {
		t.Fatalf("Failed to read termination sink: %v", err)
	}
	line := strings.TrimSpace(string(data))
	for _, want := range []string{"13.000000 eof ", "192.168.0.1:40000->10.0.0.2:80/uplink", "gaps=1", "dup=1", "ranges=[0, 10),[20, 30)"} {
		if !strings.Contains(line, want) {
			t.Errorf("Termination line %q does not contain %q", line, want)
		}
	}
}

func TestManager_FinClosesStream(t *testing.T) {
	m, termPath := newTestManager(t)
	pub := &fakePublisher{}
	m.publisher = pub

	for i, s := range []segment{{seq: 500, payload: 8}, {seq: 508, payload: 4, fin: true}} {
		info, err := m.parse(buildFrame(t, s), model.NewTimestamp(int64(i+1), 0))
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		m.process(job{info: info, dir: m.Direction(info.Key)})
	}

	if len(m.Status()) != 0 {
		t.Errorf("Expected the FIN to remove the stream")
	}
	if len(pub.obs) != 2 {
		t.Fatalf("Expected 2 published observations, got %d", len(pub.obs))
	}
	last := pub.obs[1]
	if last.Start != 8 || last.End != 12 || last.Classification != model.NewData || last.Key.Direction != model.Uplink {
		t.Errorf("Unexpected observation: %+v", last)
	}

	m.Stop()
	data, err := os.ReadFile(termPath)
	if err != nil {
		t.Fatalf("Failed to read termination sink: %v", err)
	}
	if got := string(data); !strings.HasPrefix(got, "2.000000 fin ") || !strings.Contains(got, "complete=true") {
		t.Errorf("Unexpected termination output %q", got)
	}
}

func TestManager_TrailingPacketsLogOneTermination(t *testing.T) {
	m, termPath := newTestManager(t)

	segments := []segment{
		{seq: 999, syn: true},
		{seq: 1000, payload: 10},
		{seq: 1010, fin: true},
		{seq: 1011},
		{seq: 1010, fin: true},
	}
	for i, s := range segments {
		info, err := m.parse(buildFrame(t, s), model.NewTimestamp(int64(i+1), 0))
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		m.advanceClock(info.Timestamp)
		m.process(job{info: info, dir: m.Direction(info.Key)})
	}

	m.advanceClock(model.NewTimestamp(200, 0))
	if n := m.Reap(); n != 0 {
		t.Errorf("Expected no stream to time out, reaped %d", n)
	}
	if stats := m.Stats(); stats.Closed != 1 || stats.Streams != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	m.Stop()
	data, err := os.ReadFile(termPath)
	if err != nil {
		t.Fatalf("Failed to read termination sink: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "3.000000 fin ") || !strings.Contains(lines[0], "ranges=[0, 10)") {
		t.Errorf("Expected a single fin line, got %q", data)
	}
}

func TestManager_ReapUsesCaptureClock(t *testing.T) {
	m, termPath := newTestManager(t)

	info, err := m.parse(buildFrame(t, segment{seq: 1, payload: 4}), model.NewTimestamp(10, 0))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	m.advanceClock(info.Timestamp)
	m.process(job{info: info, dir: model.Downlink})

	if n := m.Reap(); n != 0 {
		t.Fatalf("Expected nothing to reap yet, reaped %d", n)
	}
	m.advanceClock(model.NewTimestamp(200, 0))
	if n := m.Reap(); n != 1 {
		t.Fatalf("Expected one stale stream, reaped %d", n)
	}
	if m.Stats().Reaped != 1 {
		t.Errorf("Expected reaped counter to be 1")
	}

	m.Stop()
	data, _ := os.ReadFile(termPath)
	if !strings.HasPrefix(string(data), "200.000000 timeout ") {
		t.Errorf("Unexpected termination output %q", data)
	}
}

func TestManager_ExemptStreamSurvivesReap(t *testing.T) {
	m, _ := newTestManager(t)
	defer m.Stop()

	info, err := m.parse(buildFrame(t, segment{seq: 1, payload: 4}), model.NewTimestamp(10, 0))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	m.process(job{info: info, dir: model.Uplink})
	key := model.StreamKey{Flow: info.Key, SrcPort: 40000, DstPort: 80, Direction: model.Uplink}
	if err := m.Exempt(key, model.NeverExpire()); err != nil {
		t.Fatalf("Exempt failed: %v", err)
	}

	m.advanceClock(model.NewTimestamp(10000, 0))
	if n := m.Reap(); n != 0 {
		t.Errorf("Exempt stream was reaped")
	}
	if _, ok := m.Stream(key); !ok {
		t.Errorf("Expected exempt stream to remain tracked")
	}
}

func TestManager_DirectionAndDump(t *testing.T) {
	m, _ := newTestManager(t)
	defer m.Stop()

	up := model.NewFlowKey(mustAddr(t, "192.168.3.4"), mustAddr(t, "8.8.8.8"))
	if m.Direction(up) != model.Uplink || m.Direction(up.Reverse()) != model.Downlink {
		t.Errorf("Unexpected direction resolution")
	}

	info, err := m.parse(buildFrame(t, segment{seq: 7, payload: 3}), model.NewTimestamp(1, 0))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	m.process(job{info: info, dir: model.Uplink})

	var buf bytes.Buffer
	if err := m.StatusDump(&buf); err != nil {
		t.Fatalf("StatusDump failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "# 1 streams\n") || !strings.Contains(buf.String(), "complete=true") {
		t.Errorf("Unexpected dump %q", buf.String())
	}
}

func mustAddr(t *testing.T, s string) model.Addr {
	t.Helper()
	a, err := model.ParseAddr(s)
	if err != nil {
		t.Fatalf("ParseAddr(%q) failed: %v", s, err)
	}
	return a
}

func TestManager_Flush(t *testing.T) {
	m, _ := newTestManager(t)
	m.Start()
	for i, s := range []segment{{seq: 10, payload: 4}, {seq: 20, payload: 4}} {
		if err := m.IngestAuto(buildFrame(t, s), model.NewTimestamp(int64(i+1), 0)); err != nil {
			t.Fatalf("IngestAuto failed: %v", err)
		}
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	status := m.Status()
	if len(status) != 1 {
		t.Fatalf("Expected one stream after flush, got %d", len(status))
	}
	if status[0].Key.Direction != model.Uplink || status[0].Gaps != 1 || status[0].Observations != 2 {
		t.Errorf("Unexpected status %+v", status[0])
	}
	m.Stop()
	if err := m.Flush(); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped from Flush after Stop, got %v", err)
	}
}
