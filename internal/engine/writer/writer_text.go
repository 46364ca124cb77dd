package writer

import (
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/factory"
	"StreamCoverage/internal/model"
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func init() {
	factory.RegisterWriter("text", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewTextWriter(def.RootPath, interval), nil
	})
}

// TextWriter writes the human-readable status dump to a file per snapshot.
type TextWriter struct {
	rootPath string
	interval time.Duration
}

// NewTextWriter creates a new text status writer.
func NewTextWriter(rootPath string, interval time.Duration) model.Writer {
	return &TextWriter{rootPath: rootPath, interval: interval}
}

func (w *TextWriter) GetInterval() time.Duration {
	return w.interval
}

func (w *TextWriter) Write(flows []model.FlowStatus, timestamp string) error {
	snapshotDir := filepath.Join(w.rootPath, timestamp)
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	filePath := filepath.Join(snapshotDir, "status.txt")
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create status file '%s': %w", filePath, err)
	}
	defer file.Close()

	buf := bufio.NewWriter(file)
	if err := FormatStatus(buf, flows); err != nil {
		return fmt.Errorf("failed to write status file '%s': %w", filePath, err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush status file '%s': %w", filePath, err)
	}

	log.Printf("Wrote status of %d streams to %s", len(flows), filePath)
	return nil
}

// FormatStatus writes a header line followed by one FormatLine per stream.
func FormatStatus(w io.Writer, flows []model.FlowStatus) error {
	if _, err := fmt.Fprintf(w, "# %d streams\n", len(flows)); err != nil {
		return err
	}
	for _, f := range flows {
		if _, err := io.WriteString(w, FormatLine(f)+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// FormatLine renders one stream's status on a single line.
func FormatLine(f model.FlowStatus) string {
	return fmt.Sprintf("%s lo=%d hi=%d complete=%t gaps=%d covered=%d obs=%d dup=%d last=%s ranges=%s",
		f.Key, f.LoStart, f.HiEnd, f.Complete, f.Gaps, f.Covered,
		f.Observations, f.Duplicates, f.LastUpdate, strings.Join(f.Ranges, ","))
}
