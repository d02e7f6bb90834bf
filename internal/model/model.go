package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Transport identifies the transport-layer protocol of a packet.
type Transport uint8

const (
	TransportNone Transport = iota
	TransportTCP
	TransportUDP
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "TCP"
	case TransportUDP:
		return "UDP"
	default:
		return "NONE"
	}
}

// ParseTransport maps "TCP"/"UDP" (case-insensitive) to a Transport.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TCP":
		return TransportTCP, nil
	case "UDP":
		return TransportUDP, nil
	}
	return TransportNone, fmt.Errorf("unknown transport: %q", s)
}

// PacketRecord holds the fields extracted from a single captured frame.
// SrcIP and DstIP are nil when the frame carried no IPv4 header; ports are
// only meaningful when Transport is not TransportNone.
type PacketRecord struct {
	Timestamp time.Time
	SrcIP     net.IP
	DstIP     net.IP
	Transport Transport
	SrcPort   uint16
	DstPort   uint16
	Payload   []byte
	Length    int
}

// HasNetwork reports whether the record carries an IPv4 header.
func (p *PacketRecord) HasNetwork() bool {
	return p.SrcIP != nil && p.DstIP != nil
}

// FlowKey identifies a unidirectional flow. A->B and B->A are distinct keys.
type FlowKey struct {
	SrcIP     string
	SrcPort   uint16
	DstIP     string
	DstPort   uint16
	Transport Transport
}

// String renders the key as "src:port -> dst:port (TCP)".
func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d (%s)", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort, k.Transport)
}

// Reverse returns the key of the opposite direction.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{
		SrcIP:     k.DstIP,
		SrcPort:   k.DstPort,
		DstIP:     k.SrcIP,
		DstPort:   k.SrcPort,
		Transport: k.Transport,
	}
}

// UnknownSourceIP is recorded on alerts whose source address cannot be determined.
const UnknownSourceIP = "unknown"

// ParseFlowKeySource recovers the source IP from a rendered flow key.
// It returns UnknownSourceIP when the text does not look like a flow key.
func ParseFlowKeySource(s string) string {
	src, _, ok := strings.Cut(s, "->")
	if !ok {
		return UnknownSourceIP
	}
	src = strings.TrimSpace(src)
	i := strings.LastIndex(src, ":")
	if i <= 0 {
		return UnknownSourceIP
	}
	if _, err := strconv.ParseUint(src[i+1:], 10, 16); err != nil {
		return UnknownSourceIP
	}
	ip := net.ParseIP(src[:i])
	if ip == nil {
		return UnknownSourceIP
	}
	return ip.String()
}

// StreamBuffer maps each flow to the concatenation of its payloads in arrival order.
type StreamBuffer map[FlowKey][]byte

// TrafficSample maps each flow to the capture timestamps of its packets.
type TrafficSample map[FlowKey][]time.Time
