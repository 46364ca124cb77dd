package protocol

import (
	"StreamCoverage/internal/model"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotTCP is returned for packets that carry no IPv4/TCP headers.
var ErrNotTCP = errors.New("not an IPv4/TCP packet")

// Parser decodes link-layer frames into PacketInfo using a reusable
// gopacket.DecodingLayerParser. A Parser must not be shared between goroutines.
type Parser struct {
	eth     layers.Ethernet
	ip4     layers.IPv4
	tcp     layers.TCP
	payload gopacket.Payload
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewParser creates a parser for frames whose outermost layer is first,
// typically layers.LayerTypeEthernet or layers.LayerTypeIPv4 for raw captures.
func NewParser(first gopacket.LayerType) *Parser {
	p := &Parser{decoded: make([]gopacket.LayerType, 0, 4)}
	p.parser = gopacket.NewDecodingLayerParser(first, &p.eth, &p.ip4, &p.tcp, &p.payload)
	p.parser.IgnoreUnsupported = true
	return p
}

// FirstLayer maps a capture link type to the first layer the parser should decode.
func FirstLayer(link layers.LinkType) (gopacket.LayerType, error) {
	switch link {
	case layers.LinkTypeEthernet:
		return layers.LayerTypeEthernet, nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		return layers.LayerTypeIPv4, nil
	}
	return gopacket.LayerTypeZero, fmt.Errorf("unsupported link type %s", link)
}

// Parse extracts the flow key, ports, sequence number, flags and payload
// length from a raw frame captured at ts.
func (p *Parser) Parse(data []byte, ts model.Timestamp) (*model.PacketInfo, error) {
	if err := p.parser.DecodeLayers(data, &p.decoded); err != nil {
		return nil, fmt.Errorf("failed to decode packet: %w", err)
	}

	var haveIP, haveTCP bool
	for _, lt := range p.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			haveIP = true
		case layers.LayerTypeTCP:
			haveTCP = true
		}
	}
	if !haveIP || !haveTCP {
		return nil, ErrNotTCP
	}

	src, _ := model.AddrFromIP(p.ip4.SrcIP)
	dst, _ := model.AddrFromIP(p.ip4.DstIP)

	return &model.PacketInfo{
		Timestamp:  ts,
		Key:        model.NewFlowKey(src, dst),
		SrcPort:    uint16(p.tcp.SrcPort),
		DstPort:    uint16(p.tcp.DstPort),
		Seq:        p.tcp.Seq,
		PayloadLen: len(p.tcp.Payload),
		SYN:        p.tcp.SYN,
		FIN:        p.tcp.FIN,
		RST:        p.tcp.RST,
		Length:     len(data),
	}, nil
}
