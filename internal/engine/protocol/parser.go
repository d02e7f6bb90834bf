package protocol

import (
	"fmt"

	"PcapSentry/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParsePacket uses gopacket to decode a raw frame of the given link type and
// extract the fields the detectors need. Frames without an IPv4 header are
// returned with nil addresses; frames whose link layer cannot be decoded at
// all produce an error.
func ParsePacket(data []byte, linkType layers.LinkType, ci gopacket.CaptureInfo) (*model.PacketRecord, error) {
	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true})

	rec := &model.PacketRecord{
		Timestamp: ci.Timestamp,
		Length:    ci.Length,
	}
	if rec.Length == 0 {
		rec.Length = len(data)
	}

	ipLayer, _ := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if ipLayer == nil {
		if errLayer := packet.ErrorLayer(); errLayer != nil && packet.LinkLayer() == nil && packet.NetworkLayer() == nil {
			return nil, fmt.Errorf("failed to decode %s frame: %v", linkType, errLayer.Error())
		}
		// Not IPv4: keep the record, it simply matches no filter.
		return rec, nil
	}
	rec.SrcIP = ipLayer.SrcIP
	rec.DstIP = ipLayer.DstIP

	if tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		rec.Transport = model.TransportTCP
		rec.SrcPort = uint16(tcp.SrcPort)
		rec.DstPort = uint16(tcp.DstPort)
		rec.Payload = tcp.LayerPayload()
	} else if udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		rec.Transport = model.TransportUDP
		rec.SrcPort = uint16(udp.SrcPort)
		rec.DstPort = uint16(udp.DstPort)
		rec.Payload = udp.LayerPayload()
	}

	return rec, nil
}
