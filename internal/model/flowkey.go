package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"
)

// ErrParse is returned when a textual address, flow key or timestamp is malformed.
var ErrParse = errors.New("parse error")

// Addr is an IPv4 endpoint address as a host-order integer.
type Addr uint32

// AddrFromIP converts a 4-byte (or IPv4-mapped) net.IP. ok is false for IPv6.
func AddrFromIP(ip net.IP) (Addr, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return Addr(binary.BigEndian.Uint32(v4)), true
}

// IP returns the address as a net.IP.
func (a Addr) IP() net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, uint32(a))
	return ip
}

// String formats the address in dotted-decimal notation.
func (a Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// ParseAddr parses exactly four dot-separated decimal octets, each in [0,255].
func ParseAddr(s string) (Addr, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%w: address %q: want 4 octets, got %d", ErrParse, s, len(parts))
	}
	var a Addr
	for _, p := range parts {
		if p == "" || len(p) > 3 || strings.TrimLeft(p, "0123456789") != "" {
			return 0, fmt.Errorf("%w: address %q: bad octet %q", ErrParse, s, p)
		}
		v, err := strconv.Atoi(p)
		if err != nil || v > 255 {
			return 0, fmt.Errorf("%w: address %q: octet %q out of range", ErrParse, s, p)
		}
		a = a<<8 | Addr(v)
	}
	return a, nil
}

// FlowKey identifies one direction of traffic between two endpoints.
// It is directional: {A,B} and {B,A} are different keys.
type FlowKey struct {
	Src Addr
	Dst Addr
}

// NewFlowKey builds a key from source and destination addresses.
func NewFlowKey(src, dst Addr) FlowKey {
	return FlowKey{Src: src, Dst: dst}
}

// Reverse returns the key for the opposite direction.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{Src: k.Dst, Dst: k.Src}
}

// Compare orders keys lexicographically by source, then destination.
// Reversed keys never compare equal unless Src == Dst.
func (k FlowKey) Compare(o FlowKey) int {
	switch {
	case k.Src < o.Src:
		return -1
	case k.Src > o.Src:
		return 1
	case k.Dst < o.Dst:
		return -1
	case k.Dst > o.Dst:
		return 1
	}
	return 0
}

func (k FlowKey) Less(o FlowKey) bool { return k.Compare(o) < 0 }

// Hash returns a stable FNV-1a hash of the key, in source-then-destination order.
func (k FlowKey) Hash() uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(k.Src))
	binary.BigEndian.PutUint32(buf[4:8], uint32(k.Dst))
	h := fnv.New64a()
	h.Write(buf[:])
	return h.Sum64()
}

// String formats the key as "src->dst".
func (k FlowKey) String() string {
	return k.Src.String() + "->" + k.Dst.String()
}

// ParseFlowKey parses the output of FlowKey.String.
func ParseFlowKey(s string) (FlowKey, error) {
	src, dst, ok := strings.Cut(s, "->")
	if !ok {
		return FlowKey{}, fmt.Errorf("%w: flow key %q: missing \"->\"", ErrParse, s)
	}
	a, err := ParseAddr(src)
	if err != nil {
		return FlowKey{}, err
	}
	b, err := ParseAddr(dst)
	if err != nil {
		return FlowKey{}, err
	}
	return FlowKey{Src: a, Dst: b}, nil
}
