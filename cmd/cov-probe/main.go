package main

import (
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/model"
	"StreamCoverage/internal/probe"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to a YAML or directive configuration file.")
	gapsOnly := flag.Bool("gaps", false, "Only print observations that opened or closed a gap.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Starting cov-probe in SUBSCRIBER mode...")

	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(obs model.Observation) {
		if *gapsOnly && obs.GapsBefore == obs.GapsAfter {
			return
		}
		log.Printf("%s %s [%d, %d) %s gaps %d->%d", obs.At, obs.Key, obs.Start, obs.End, obs.Classification, obs.GapsBefore, obs.GapsAfter)
	}
	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}
