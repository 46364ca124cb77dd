package main

import (
	"StreamCoverage/pkg/pcap"
	"flag"
	"log"
	"os"
	"time"
)

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	opts := pcap.GenOptions{}
	flag.IntVar(&opts.Streams, "streams", 100, "Number of TCP streams")
	flag.IntVar(&opts.SegmentsPerStream, "segments", 50, "Data segments per stream")
	flag.IntVar(&opts.SegmentSize, "size", 1400, "Payload bytes per segment")
	flag.Float64Var(&opts.Drop, "drop", 0.01, "Probability that a segment is lost")
	flag.Float64Var(&opts.Reorder, "reorder", 0.05, "Probability that a segment swaps with its successor")
	flag.Float64Var(&opts.Duplicate, "dup", 0.01, "Probability that a segment is repeated")
	flag.BoolVar(&opts.Close, "fin", false, "End every stream with a FIN")
	flag.Int64Var(&opts.Seed, "seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	opts.Start = time.Now()
	log.Printf("Generating %d streams into %s...", opts.Streams, *outputFile)
	stats, err := pcap.Generate(f, opts)
	if err != nil {
		log.Fatalf("Failed to generate capture: %v", err)
	}
	log.Printf("Wrote %d frames: %d dropped, %d reordered, %d duplicated.", stats.Frames, stats.Dropped, stats.Reordered, stats.Duplicated)
}
