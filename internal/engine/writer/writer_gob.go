package writer

import (
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/factory"
	"StreamCoverage/internal/model"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func init() {
	factory.RegisterWriter("gob", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewGobWriter(def.RootPath, interval), nil
	})
}

// SummaryData holds the metadata for a snapshot, internal to the writer.
type SummaryData struct {
	TotalStreams    int    `json:"total_streams"`
	CompleteStreams int    `json:"complete_streams"`
	TotalGaps       int    `json:"total_gaps"`
	CoveredBytes    uint64 `json:"covered_bytes"`
	Duplicates      uint64 `json:"duplicates"`
	Timestamp       string `json:"timestamp"`
}

// GobWriter writes flow table snapshots to disk in gob format with a JSON summary.
type GobWriter struct {
	rootPath string
	interval time.Duration
}

// NewGobWriter creates a new gob snapshot writer.
func NewGobWriter(rootPath string, interval time.Duration) model.Writer {
	return &GobWriter{rootPath: rootPath, interval: interval}
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write encodes the snapshot to <root>/<timestamp>/streams.dat and writes
// summary.json next to it. Empty snapshots produce no files.
func (w *GobWriter) Write(flows []model.FlowStatus, timestamp string) error {
	if len(flows) == 0 {
		return nil
	}

	snapshotDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	filePath := filepath.Join(snapshotDir, "streams.dat")
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file '%s': %w", filePath, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(flows); err != nil {
		return fmt.Errorf("failed to encode streams to gob for file '%s': %w", filePath, err)
	}

	summary := SummaryData{
		TotalStreams: len(flows),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	for _, f := range flows {
		if f.Complete {
			summary.CompleteStreams++
		}
		summary.TotalGaps += f.Gaps
		summary.CoveredBytes += f.Covered
		summary.Duplicates += f.Duplicates
	}

	summaryFilePath := filepath.Join(snapshotDir, "summary.json")
	summaryFile, err := os.Create(summaryFilePath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}
