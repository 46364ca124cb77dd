package main

import (
	"StreamCoverage/internal/api"
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/engine/manager"
	"StreamCoverage/internal/engine/protocol"
	"StreamCoverage/internal/model"
	"StreamCoverage/internal/query"
	capfile "StreamCoverage/pkg/pcap"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to a YAML or directive configuration file.")
	iface := flag.String("iface", "", "Interface to capture packets from.")
	pcapFile := flag.String("pcap", "", "Replay a capture file instead of a live interface.")
	flag.Parse()

	if (*iface == "") == (*pcapFile == "") {
		log.Println("Exactly one of -iface or -pcap is required.")
		flag.Usage()
		os.Exit(1)
	}

	log.Println("Starting cov-engine...")
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	var (
		reader *capfile.Reader
		handle *pcap.Handle
		link   layers.LinkType
	)
	if *pcapFile != "" {
		if reader, err = capfile.NewReader(*pcapFile); err != nil {
			log.Fatalf("Failed to open capture file: %v", err)
		}
		defer reader.Close()
		link = reader.LinkType()
	} else {
		if handle, err = pcap.OpenLive(*iface, snapshotLen, promiscuous, pcap.BlockForever); err != nil {
			log.Fatalf("Error opening device %s: %v", *iface, err)
		}
		link = handle.LinkType()
	}

	firstLayer, err := protocol.FirstLayer(link)
	if err != nil {
		log.Fatalf("Cannot decode capture: %v", err)
	}

	mgr, err := manager.NewManager(cfg, firstLayer)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}
	mgr.Start()

	querier, err := query.FromConfig(cfg)
	if err != nil {
		log.Printf("Warning: history queries disabled: %v", err)
	}
	server := api.NewServer(cfg.API, mgr, querier)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start API: %v", err)
	}

	captureDone := make(chan struct{})
	go func() {
		defer close(captureDone)
		if reader != nil {
			stats := capfile.Replay(reader, mgr)
			log.Printf("Finished replaying %d frames, %d rejected.", stats.Frames, stats.Rejected)
			return
		}
		captureLive(handle, mgr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received, stopping engine...")

	if handle != nil {
		handle.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	select {
	case <-captureDone:
	case <-ctx.Done():
		log.Println("Capture did not stop in time.")
	}
	mgr.Stop()
	log.Println("Shutdown complete.")
}

// captureLive feeds frames from a live handle until it is closed.
func captureLive(handle *pcap.Handle, mgr *manager.Manager) {
	var count int
	for {
		data, ci, err := handle.ReadPacketData()
		if err != nil {
			log.Printf("Capture stopped: %v", err)
			return
		}
		if err := mgr.IngestAuto(data, model.FromTime(ci.Timestamp)); err != nil {
			continue
		}
		count++
		if count%100000 == 0 {
			log.Printf("%d TCP segments ingested...", count)
		}
	}
}
