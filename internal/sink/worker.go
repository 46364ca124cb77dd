package sink

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 10000

// Worker appends lines to a file from a single goroutine. Enqueue never
// blocks: when the buffer is full the line is dropped and counted.
type Worker struct {
	lines   chan string
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	path    string
}

// NewWorker opens path for appending and starts the writer goroutine.
func NewWorker(path string, bufferSize int) (*Worker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open sink file '%s': %w", path, err)
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	w := &Worker{
		lines: make(chan string, bufferSize),
		done:  make(chan struct{}),
		path:  path,
	}
	go w.run(file)
	return w, nil
}

func (w *Worker) run(file *os.File) {
	defer close(w.done)
	writer := bufio.NewWriter(file)
	for line := range w.lines {
		if _, err := writer.WriteString(line + "\n"); err != nil {
			log.Printf("Sink %s: error writing line: %v", w.path, err)
		}
		// Flush whenever the queue runs dry so tailing readers see lines promptly.
		if len(w.lines) == 0 {
			writer.Flush()
		}
	}
	if err := writer.Flush(); err != nil {
		log.Printf("Sink %s: error flushing: %v", w.path, err)
	}
	if err := file.Close(); err != nil {
		log.Printf("Sink %s: error closing file: %v", w.path, err)
	}
}

// Enqueue queues one line for writing.
func (w *Worker) Enqueue(line string) {
	select {
	case w.lines <- line:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns how many lines were discarded because the buffer was full.
func (w *Worker) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops accepting lines and waits until everything queued is on disk.
func (w *Worker) Close() {
	w.once.Do(func() {
		close(w.lines)
		<-w.done
		if n := w.dropped.Load(); n > 0 {
			log.Printf("Sink %s closed, %d lines were dropped.", w.path, n)
		}
	})
}
