package writer

import (
	"StreamCoverage/internal/model"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleFlows() []model.FlowStatus {
	key := model.StreamKey{Flow: model.NewFlowKey(0x0A000001, 0x0A000002), SrcPort: 1234, DstPort: 80, Direction: model.Uplink}
	return []model.FlowStatus{
		{
			Key: key, LoStart: 0, HiEnd: 15, Complete: false, Gaps: 1, Covered: 10,
			Ranges: []string{"[0, 5)", "[10, 15)"}, LastUpdate: model.NewTimestamp(50, 7),
			Observations: 3, Duplicates: 1,
		},
		{
			Key: model.StreamKey{Flow: key.Flow.Reverse(), SrcPort: 80, DstPort: 1234, Direction: model.Downlink},
			HiEnd: 100, Complete: true, Covered: 100, Ranges: []string{"[0, 100)"}, Observations: 1,
		},
	}
}

func TestFormatStatus(t *testing.T) {
	var buf bytes.Buffer
	if err := FormatStatus(&buf, sampleFlows()); err != nil {
		t.Fatalf("FormatStatus failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || lines[0] != "# 2 streams" {
		t.Fatalf("Unexpected dump:\n%s", buf.String())
	}
	want := "10.0.0.1:1234->10.0.0.2:80/uplink lo=0 hi=15 complete=false gaps=1 covered=10 obs=3 dup=1 last=50.000007 ranges=[0, 5),[10, 15)"
	if lines[1] != want {
		t.Errorf("Unexpected line:\n got %s\nwant %s", lines[1], want)
	}
}

func TestTextWriter_Write(t *testing.T) {
	root := t.TempDir()
	w := NewTextWriter(root, time.Second)
	if w.GetInterval() != time.Second {
		t.Errorf("Unexpected interval %v", w.GetInterval())
	}
	if err := w.Write(sampleFlows(), "2024-01-02_03-04-05"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "2024-01-02_03-04-05", "status.txt"))
	if err != nil {
		t.Fatalf("Failed to read status.txt: %v", err)
	}
	if !strings.HasPrefix(string(data), "# 2 streams\n") {
		t.Errorf("Unexpected status file:\n%s", data)
	}
}

func TestGobWriter_Write(t *testing.T) {
	root := t.TempDir()
	w := NewGobWriter(root, time.Minute)
	if err := w.Write(sampleFlows(), "snap"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	dir := filepath.Join(root, "snap")

	summaryBytes, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		t.Fatalf("Failed to read summary.json: %v", err)
	}
	var summary SummaryData
	if err := json.Unmarshal(summaryBytes, &summary); err != nil {
		t.Fatalf("Failed to unmarshal summary.json: %v", err)
	}
	if summary.TotalStreams != 2 || summary.CompleteStreams != 1 || summary.TotalGaps != 1 || summary.CoveredBytes != 110 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	file, err := os.Open(filepath.Join(dir, "streams.dat"))
	if err != nil {
		t.Fatalf("Failed to open streams.dat: %v", err)
	}
	defer file.Close()
	var decoded []model.FlowStatus
	if err := gob.NewDecoder(file).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode gob file: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Key != sampleFlows()[0].Key || !decoded[0].LastUpdate.Equal(model.NewTimestamp(50, 7)) {
		t.Errorf("Decoded content does not match: %+v", decoded)
	}
}

func TestGobWriter_EmptySnapshot(t *testing.T) {
	root := t.TempDir()
	if err := NewGobWriter(root, time.Minute).Write(nil, "empty"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "empty")); !os.IsNotExist(err) {
		t.Errorf("Empty snapshot must not create a directory")
	}
}
