package pcap

import (
	"StreamCoverage/internal/model"
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapng files start with a Section Header Block.
const ngMagic = 0x0A0D0D0A

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Frame is one captured frame and its capture time.
type Frame struct {
	Data      []byte
	Timestamp model.Timestamp
}

// Reader reads frames from a pcap or pcapng file.
type Reader struct {
	file   *os.File
	source packetSource
}

// NewReader opens filePath and detects whether it is pcap or pcapng.
func NewReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	source, err := newSource(bufio.NewReader(file))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture header of %s: %w", filePath, err)
	}
	return &Reader{file: file, source: source}, nil
}

func newSource(r *bufio.Reader) (packetSource, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(magic) == ngMagic {
		return pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(r)
}

// LinkType returns the link type of the capture.
func (r *Reader) LinkType() layers.LinkType {
	return r.source.LinkType()
}

// Close closes the underlying file.
func (r *Reader) Close() {
	r.file.Close()
}

// ReadPackets sends every frame of the file to out and closes out when the
// file is exhausted or unreadable.
func (r *Reader) ReadPackets(out chan<- Frame) {
	defer close(out)
	for {
		data, ci, err := r.source.ReadPacketData()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Printf("Error reading capture: %v", err)
			}
			return
		}
		out <- Frame{Data: data, Timestamp: model.FromTime(ci.Timestamp)}
	}
}

// Ingester accepts frames whose direction is resolved by the receiver.
type Ingester interface {
	IngestAuto(data []byte, ts model.Timestamp) error
}

// ReplayStats counts what a replay did.
type ReplayStats struct {
	Frames   int
	Rejected int
}

// Replay feeds every frame of r to ing. Frames the ingester rejects are
// counted and skipped.
func Replay(r *Reader, ing Ingester) ReplayStats {
	var stats ReplayStats
	frames := make(chan Frame, 256)
	go r.ReadPackets(frames)
	for f := range frames {
		stats.Frames++
		if err := ing.IngestAuto(f.Data, f.Timestamp); err != nil {
			stats.Rejected++
		}
	}
	return stats
}
