package pcap

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// GenOptions shapes a synthetic capture.
type GenOptions struct {
	Streams           int
	SegmentsPerStream int
	SegmentSize       int
	// Drop, Reorder and Duplicate are per-segment probabilities.
	Drop      float64
	Reorder   float64
	Duplicate float64
	// Close ends every stream with a FIN.
	Close bool
	Seed  int64
	Start time.Time
}

// GenStats reports what Generate wrote.
type GenStats struct {
	Frames     int
	Dropped    int
	Reordered  int
	Duplicated int
}

type genSegment struct {
	stream  int
	seq     uint32
	size    int
	syn     bool
	fin     bool
	srcIP   net.IP
	dstIP   net.IP
	srcPort layers.TCPPort
}

// Generate writes a pcap of TCP streams from 10.0.0.0/8 clients to one server,
// with segments lost, swapped and repeated according to opts.
func Generate(w io.Writer, opts GenOptions) (GenStats, error) {
	var stats GenStats
	if opts.Streams <= 0 || opts.SegmentsPerStream <= 0 || opts.SegmentSize <= 0 {
		return stats, fmt.Errorf("streams, segments and segment size must be positive")
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	var segments []genSegment
	for s := 0; s < opts.Streams; s++ {
		src := net.IP{10, byte(s >> 16), byte(s >> 8), byte(s)}
		dst := net.IP{192, 168, 1, 1}
		port := layers.TCPPort(1024 + s%60000)
		isn := rng.Uint32()
		base := genSegment{stream: s, srcIP: src, dstIP: dst, srcPort: port}

		syn := base
		syn.seq, syn.syn = isn, true
		segments = append(segments, syn)

		for i := 0; i < opts.SegmentsPerStream; i++ {
			if rng.Float64() < opts.Drop {
				stats.Dropped++
				continue
			}
			seg := base
			// Wraps modulo 2^32 like real sequence numbers.
			seg.seq = isn + 1 + uint32(i*opts.SegmentSize)
			seg.size = opts.SegmentSize
			segments = append(segments, seg)
			if rng.Float64() < opts.Duplicate {
				segments = append(segments, seg)
				stats.Duplicated++
			}
		}
		if opts.Close {
			fin := base
			fin.seq, fin.fin = isn+1+uint32(opts.SegmentsPerStream*opts.SegmentSize), true
			segments = append(segments, fin)
		}
	}

	// Swap neighbouring data segments of the same stream.
	for i := 1; i+1 < len(segments); i++ {
		a, b := segments[i], segments[i+1]
		if a.stream != b.stream || a.syn || a.fin || b.fin || a.size == 0 || b.size == 0 {
			continue
		}
		if rng.Float64() < opts.Reorder {
			segments[i], segments[i+1] = b, a
			stats.Reordered++
			i++
		}
	}

	pcapWriter := pcapgo.NewWriter(w)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return stats, fmt.Errorf("failed to write pcap header: %w", err)
	}

	start := opts.Start
	if start.IsZero() {
		start = time.Unix(1700000000, 0)
	}
	buf := gopacket.NewSerializeBuffer()
	serializeOpts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	for i, seg := range segments {
		ethLayer := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ipLayer := &layers.IPv4{
			SrcIP:    seg.srcIP,
			DstIP:    seg.dstIP,
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
		}
		tcpLayer := &layers.TCP{
			SrcPort: seg.srcPort,
			DstPort: 80,
			Seq:     seg.seq,
			SYN:     seg.syn,
			FIN:     seg.fin,
			ACK:     !seg.syn,
			Window:  14600,
		}
		if err := tcpLayer.SetNetworkLayerForChecksum(ipLayer); err != nil {
			return stats, err
		}
		payload := make([]byte, seg.size)
		rng.Read(payload)

		if err := gopacket.SerializeLayers(buf, serializeOpts, ethLayer, ipLayer, tcpLayer, gopacket.Payload(payload)); err != nil {
			return stats, fmt.Errorf("failed to serialize layers: %w", err)
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := pcapWriter.WritePacket(ci, data); err != nil {
			return stats, fmt.Errorf("failed to write packet: %w", err)
		}
		stats.Frames++
	}
	return stats, nil
}
