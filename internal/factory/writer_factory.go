package factory

import (
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/model"
	"fmt"
	"log"
	"time"
)

// WriterFactory creates a writer from its config definition.
type WriterFactory func(def config.WriterDef, interval time.Duration) (model.Writer, error)

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// CreateWriters builds every enabled writer in cfg. Writers with an unknown
// type or a bad interval fail the whole call; a writer whose backend cannot
// be reached is logged and skipped.
func CreateWriters(cfg *config.Config) ([]model.Writer, error) {
	var writers []model.Writer
	for _, def := range cfg.Writers {
		if !def.Enabled {
			continue
		}
		factory, ok := registry[def.Type]
		if !ok {
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}
		interval, err := time.ParseDuration(def.SnapshotInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid snapshot_interval for writer type '%s': %w", def.Type, err)
		}

		log.Printf("Creating writer of type '%s' with interval %s", def.Type, interval)
		writer, err := factory(def, interval)
		if err != nil {
			log.Printf("Warning: failed to create writer type '%s': %v, skipping.", def.Type, err)
			continue
		}
		writers = append(writers, writer)
	}
	return writers, nil
}
