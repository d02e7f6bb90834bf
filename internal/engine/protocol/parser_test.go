package protocol

import (
	"bytes"
	"net"
	"testing"
	"time"

	"PcapSentry/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("Failed to serialize layers: %v", err)
	}
	return buf.Bytes()
}

func ethIPv4(proto layers.IPProtocol) (*layers.Ethernet, *layers.IPv4) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		SrcIP:    net.IP{10, 0, 0, 5},
		DstIP:    net.IP{192, 168, 1, 1},
		Version:  4,
		TTL:      64,
		Protocol: proto,
	}
	return eth, ip
}

func TestParsePacket_TCP(t *testing.T) {
	eth, ip := ethIPv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: 51000, DstPort: 80, ACK: true, PSH: true, Window: 1024}
	tcp.SetNetworkLayerForChecksum(ip)
	payload := []byte("GET /?id=1 HTTP/1.1\r\n\r\n")
	data := serialize(t, eth, ip, tcp, gopacket.Payload(payload))

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec, err := ParsePacket(data, layers.LinkTypeEthernet, gopacket.CaptureInfo{Timestamp: ts, Length: len(data), CaptureLength: len(data)})
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}

	if rec.SrcIP.String() != "10.0.0.5" || rec.DstIP.String() != "192.168.1.1" {
		t.Errorf("Unexpected addresses: %s -> %s", rec.SrcIP, rec.DstIP)
	}
	if rec.Transport != model.TransportTCP || rec.SrcPort != 51000 || rec.DstPort != 80 {
		t.Errorf("Unexpected transport fields: %+v", rec)
	}
	if !bytes.Equal(rec.Payload, payload) {
		t.Errorf("Payload = %q, want %q", rec.Payload, payload)
	}
	if !rec.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %s, want %s", rec.Timestamp, ts)
	}
}

func TestParsePacket_UDP(t *testing.T) {
	eth, ip := ethIPv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	udp.SetNetworkLayerForChecksum(ip)
	data := serialize(t, eth, ip, udp, gopacket.Payload([]byte{1, 2, 3}))

	rec, err := ParsePacket(data, layers.LinkTypeEthernet, gopacket.CaptureInfo{})
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if rec.Transport != model.TransportUDP || rec.DstPort != 53 || len(rec.Payload) != 3 {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.Length != len(data) {
		t.Errorf("Length = %d, want %d", rec.Length, len(data))
	}
}

func TestParsePacket_NonIPv4(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   eth.SrcMAC,
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
	rec, err := ParsePacket(serialize(t, eth, arp), layers.LinkTypeEthernet, gopacket.CaptureInfo{})
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if rec.HasNetwork() || rec.Transport != model.TransportNone {
		t.Errorf("ARP frame should carry no network fields, got %+v", rec)
	}
}

func TestParsePacket_Undecodable(t *testing.T) {
	if _, err := ParsePacket([]byte{0xde, 0xad, 0xbe}, layers.LinkTypeEthernet, gopacket.CaptureInfo{}); err == nil {
		t.Error("Expected an error for a 3-byte Ethernet frame")
	}
}
