package pcap

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"PcapSentry/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const defaultSnapLen = 65536

var (
	synthSrcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	synthDstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// Frame describes a synthetic Ethernet frame. A Frame with Transport
// TransportNone and empty addresses is encoded as an ARP request.
type Frame struct {
	Timestamp time.Time
	SrcIP     string
	DstIP     string
	Transport model.Transport
	SrcPort   uint16
	DstPort   uint16
	SYN       bool
	Payload   []byte
}

// RawPacket is a captured frame ready to be written to a capture file.
type RawPacket struct {
	CaptureInfo gopacket.CaptureInfo
	Data        []byte
}

// Serialize encodes the frame into wire bytes.
func (f Frame) Serialize() ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}

	eth := &layers.Ethernet{SrcMAC: synthSrcMAC, DstMAC: synthDstMAC}

	if f.SrcIP == "" && f.DstIP == "" {
		eth.EthernetType = layers.EthernetTypeARP
		arp := &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   synthSrcMAC,
			SourceProtAddress: []byte{10, 0, 0, 1},
			DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
			DstProtAddress:    []byte{10, 0, 0, 2},
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
			return nil, fmt.Errorf("failed to serialize ARP frame: %w", err)
		}
		return buf.Bytes(), nil
	}

	src, dst := net.ParseIP(f.SrcIP).To4(), net.ParseIP(f.DstIP).To4()
	if src == nil || dst == nil {
		return nil, fmt.Errorf("frame addresses must be IPv4: %q -> %q", f.SrcIP, f.DstIP)
	}

	eth.EthernetType = layers.EthernetTypeIPv4
	ip := &layers.IPv4{
		SrcIP:   src,
		DstIP:   dst,
		Version: 4,
		TTL:     64,
	}

	var err error
	switch f.Transport {
	case model.TransportTCP:
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(f.SrcPort),
			DstPort: layers.TCPPort(f.DstPort),
			SYN:     f.SYN,
			ACK:     !f.SYN,
			PSH:     len(f.Payload) > 0,
			Window:  14600,
		}
		tcp.SetNetworkLayerForChecksum(ip)
		err = gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(f.Payload))
	case model.TransportUDP:
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(f.SrcPort),
			DstPort: layers.UDPPort(f.DstPort),
		}
		udp.SetNetworkLayerForChecksum(ip)
		err = gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(f.Payload))
	default:
		ip.Protocol = layers.IPProtocolICMPv4
		icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
		err = gopacket.SerializeLayers(buf, opts, eth, ip, icmp, gopacket.Payload(f.Payload))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}
	return buf.Bytes(), nil
}

// Raw serializes the frame together with its capture metadata.
func (f Frame) Raw() (RawPacket, error) {
	data, err := f.Serialize()
	if err != nil {
		return RawPacket{}, err
	}
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Unix(0, 0)
	}
	return RawPacket{
		CaptureInfo: gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)},
		Data:        data,
	}, nil
}

// WritePackets writes a classic pcap stream with the given link type.
func WritePackets(w io.Writer, linkType layers.LinkType, snapLen uint32, pkts []RawPacket) error {
	if snapLen == 0 {
		snapLen = defaultSnapLen
	}
	pcapWriter := pcapgo.NewWriter(w)
	if err := pcapWriter.WriteFileHeader(snapLen, linkType); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}
	for _, p := range pkts {
		if err := pcapWriter.WritePacket(p.CaptureInfo, p.Data); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
	}
	return nil
}

// WriteRawFile writes pkts into a new classic pcap file at path.
func WriteRawFile(path string, linkType layers.LinkType, snapLen uint32, pkts []RawPacket) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := WritePackets(f, linkType, snapLen, pkts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteFile serializes frames into a new Ethernet pcap file at path.
func WriteFile(path string, frames []Frame) error {
	pkts, err := rawFrames(frames)
	if err != nil {
		return err
	}
	return WriteRawFile(path, layers.LinkTypeEthernet, defaultSnapLen, pkts)
}

// WriteNgFile serializes frames into a new Ethernet pcapng file at path.
func WriteNgFile(path string, frames []Frame) error {
	pkts, err := rawFrames(frames)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	ngWriter, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	if err != nil {
		return fmt.Errorf("failed to write pcapng header: %w", err)
	}
	for _, p := range pkts {
		if err := ngWriter.WritePacket(p.CaptureInfo, p.Data); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
	}
	return ngWriter.Flush()
}

func rawFrames(frames []Frame) ([]RawPacket, error) {
	pkts := make([]RawPacket, 0, len(frames))
	for i, fr := range frames {
		p, err := fr.Raw()
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		pkts = append(pkts, p)
	}
	return pkts, nil
}
