package pcap

import (
	"StreamCoverage/internal/model"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func serialize(t *testing.T, l ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, l...); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}
	return buf.Bytes()
}

func frames(t *testing.T) [][]byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	newIP := func(proto layers.IPProtocol) *layers.IPv4 {
		return &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: net.IP{10, 1, 1, 1}, DstIP: net.IP{10, 2, 2, 2}}
	}

	var out [][]byte
	for _, seq := range []uint32{100, 110} {
		ip := newIP(layers.IPProtocolTCP)
		tcp := &layers.TCP{SrcPort: 1234, DstPort: 80, Seq: seq, ACK: true, Window: 100}
		tcp.SetNetworkLayerForChecksum(ip)
		out = append(out, serialize(t, eth, ip, tcp, gopacket.Payload(make([]byte, 10))))
	}
	ip := newIP(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 53, DstPort: 53}
	udp.SetNetworkLayerForChecksum(ip)
	out = append(out, serialize(t, eth, ip, udp, gopacket.Payload([]byte("dns"))))
	return out
}

func writeCapture(t *testing.T, data [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create capture: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader failed: %v", err)
	}
	for i, d := range data {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000+int64(i), 250000*1000),
			CaptureLength: len(d),
			Length:        len(d),
		}
		if err := w.WritePacket(ci, d); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
	}
	return path
}

func TestReader_ReadPackets(t *testing.T) {
	path := writeCapture(t, frames(t))
	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	if reader.LinkType() != layers.LinkTypeEthernet {
		t.Errorf("Expected Ethernet link type, got %s", reader.LinkType())
	}

	out := make(chan Frame)
	go reader.ReadPackets(out)

	var got []Frame
	for f := range out {
		got = append(got, f)
	}
	if len(got) != 3 {
		t.Fatalf("Expected to read 3 frames, but got %d", len(got))
	}
	if want := model.NewTimestamp(1700000001, 250000); !got[1].Timestamp.Equal(want) {
		t.Errorf("Expected timestamp %s, got %s", want, got[1].Timestamp)
	}
}

type fakeIngester struct {
	seen int
}

func (f *fakeIngester) IngestAuto(data []byte, ts model.Timestamp) error {
	f.seen++
	if f.seen == 3 {
		return errors.New("not tcp")
	}
	return nil
}

func TestReplay(t *testing.T) {
	reader, err := NewReader(writeCapture(t, frames(t)))
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	ing := &fakeIngester{}
	stats := Replay(reader, ing)
	if stats.Frames != 3 || stats.Rejected != 1 || ing.seen != 3 {
		t.Errorf("Unexpected replay stats %+v (seen %d)", stats, ing.seen)
	}
}

func TestNewReader_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pcap")
	if err := os.WriteFile(path, []byte("definitely not a capture file"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReader(path); err == nil {
		t.Errorf("Expected an error for a file without a capture header")
	}
}
