package main

import (
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/engine/manager"
	"StreamCoverage/internal/engine/protocol"
	"StreamCoverage/pkg/pcap"
	"flag"
	"fmt"
	"log"
	"os"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML or directive configuration file.")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: pcap-coverage [-config file] <path_to_pcap_file>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Println("Configuration loaded successfully.")
	}
	// One-shot analysis has no consumers for live events.
	cfg.Probe.Enabled = false

	reader, err := pcap.NewReader(pcapFilePath)
	if err != nil {
		log.Fatalf("Failed to open pcap file: %v", err)
	}
	defer reader.Close()

	firstLayer, err := protocol.FirstLayer(reader.LinkType())
	if err != nil {
		log.Fatalf("Cannot decode capture: %v", err)
	}
	mgr, err := manager.NewManager(cfg, firstLayer)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}
	mgr.Start()

	log.Printf("Reading packets from '%s'...", pcapFilePath)
	replay := pcap.Replay(reader, mgr)
	if err := mgr.Flush(); err != nil {
		log.Fatalf("Failed to flush manager: %v", err)
	}
	log.Printf("Finished reading %d frames, %d were not IPv4/TCP.", replay.Frames, replay.Rejected)

	if err := mgr.StatusDump(os.Stdout); err != nil {
		log.Printf("Failed to write status: %v", err)
	}
	mgr.Stop()
}
