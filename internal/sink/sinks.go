package sink

import (
	"StreamCoverage/internal/config"
	"log"
)

// Channel names one of the log sinks.
type Channel string

const (
	TCPTermination Channel = "tcp_termination"
	FlashVideo     Channel = "flash_video"
	HTTPPage       Channel = "http_page"
	HTTPRequest    Channel = "http_request"
)

// Sinks holds one Worker per configured channel.
type Sinks struct {
	workers map[Channel]*Worker
}

// Open starts a worker for every channel that has a path in cfg.
func Open(cfg config.SinksConfig, bufferSize int) (*Sinks, error) {
	paths := map[Channel]string{
		TCPTermination: cfg.TCPTermination,
		FlashVideo:     cfg.FlashVideo,
		HTTPPage:       cfg.HTTPPage,
		HTTPRequest:    cfg.HTTPRequest,
	}
	s := &Sinks{workers: make(map[Channel]*Worker)}
	for ch, path := range paths {
		if path == "" {
			continue
		}
		w, err := NewWorker(path, bufferSize)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.workers[ch] = w
		log.Printf("Sink '%s' writing to %s", ch, path)
	}
	return s, nil
}

// Enabled reports whether ch has a configured output.
func (s *Sinks) Enabled(ch Channel) bool {
	_, ok := s.workers[ch]
	return ok
}

// Log writes line to ch. Lines for disabled channels are discarded.
func (s *Sinks) Log(ch Channel, line string) {
	if w, ok := s.workers[ch]; ok {
		w.Enqueue(line)
	}
}

// Close flushes and closes every channel.
func (s *Sinks) Close() {
	for _, w := range s.workers {
		w.Close()
	}
}
