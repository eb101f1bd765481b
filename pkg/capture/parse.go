// Package capture reads packets off an interface or a pcap file and keeps a
// bounded, sequenced buffer of the most recent ones.
package capture

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var ErrNotIP = errors.New("not an IP packet")

// Packet is the part of a captured packet the rest of the system cares about.
type Packet struct {
	Src       string    `json:"src"`
	Dst       string    `json:"dst"`
	SrcPort   *int      `json:"src_port"`
	DstPort   *int      `json:"dst_port"`
	Proto     string    `json:"proto"`
	Length    int       `json:"length"`
	Timestamp time.Time `json:"timestamp"`
}

// Parse extracts addresses, ports and protocol from a decoded packet. TCP,
// UDP and ICMP are named; any other transport is reported by IP protocol
// number.
func Parse(packet gopacket.Packet) (Packet, error) {
	info := Packet{
		Timestamp: time.Now(),
		Length:    len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		info.Timestamp = meta.Timestamp
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	var proto layers.IPProtocol
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		info.Src, info.Dst = ip.SrcIP.String(), ip.DstIP.String()
		proto = ip.Protocol
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		info.Src, info.Dst = ip.SrcIP.String(), ip.DstIP.String()
		proto = ip.NextHeader
	} else {
		return Packet{}, ErrNotIP
	}

	switch {
	case packet.Layer(layers.LayerTypeTCP) != nil:
		tcp := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		info.Proto = "TCP"
		info.SrcPort, info.DstPort = port(uint16(tcp.SrcPort)), port(uint16(tcp.DstPort))
	case packet.Layer(layers.LayerTypeUDP) != nil:
		udp := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		info.Proto = "UDP"
		info.SrcPort, info.DstPort = port(uint16(udp.SrcPort)), port(uint16(udp.DstPort))
	case packet.Layer(layers.LayerTypeICMPv4) != nil, packet.Layer(layers.LayerTypeICMPv6) != nil:
		info.Proto = "ICMP"
	default:
		info.Proto = strconv.Itoa(int(proto))
	}
	return info, nil
}

func port(p uint16) *int {
	v := int(p)
	return &v
}
