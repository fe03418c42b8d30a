package nat64

import (
	"encoding/binary"
	"fmt"
)

// Packet header parsing. Rewriting headers and recalculating checksums
// on Accept is the host hook's job — this file only turns a raw capture
// into the (protocol, src, dst) tuple Core.ProcessV6 and Core.ProcessV4
// classify by.

type IPv4Header struct {
	Version       uint8
	IHL           uint8
	TotalLength   uint16
	Protocol      Proto
	SourceIP      IPv4
	DestinationIP IPv4
}

func ParseIPv4Header(packet []byte) (*IPv4Header, error) {
	if len(packet) < 20 {
		return nil, fmt.Errorf("nat64: packet too short for IPv4 header")
	}

	h := &IPv4Header{}
	h.Version = packet[0] >> 4
	h.IHL = packet[0] & 0x0F
	if h.Version != 4 {
		return nil, fmt.Errorf("nat64: not an IPv4 packet")
	}

	headerLen := int(h.IHL) * 4
	if headerLen < 20 || len(packet) < headerLen {
		return nil, fmt.Errorf("nat64: invalid IPv4 header length")
	}

	h.TotalLength = binary.BigEndian.Uint16(packet[2:4])
	h.Protocol = Proto(packet[9])
	copy(h.SourceIP[:], packet[12:16])
	copy(h.DestinationIP[:], packet[16:20])
	return h, nil
}

// IPv6Header covers only the fixed 40-byte header; NAT64 never needs to
// walk extension headers to find the L4 payload offset for the
// protocols this translator tracks.
type IPv6Header struct {
	PayloadLength uint16
	NextHeader    Proto
	SourceIP      IPv6
	DestinationIP IPv6
}

const ipv6HeaderLen = 40

func ParseIPv6Header(packet []byte) (*IPv6Header, error) {
	if len(packet) < ipv6HeaderLen {
		return nil, fmt.Errorf("nat64: packet too short for IPv6 header")
	}
	if packet[0]>>4 != 6 {
		return nil, fmt.Errorf("nat64: not an IPv6 packet")
	}

	h := &IPv6Header{}
	h.PayloadLength = binary.BigEndian.Uint16(packet[4:6])
	h.NextHeader = Proto(packet[6])
	copy(h.SourceIP[:], packet[8:24])
	copy(h.DestinationIP[:], packet[24:40])
	return h, nil
}

type TCPHeader struct {
	SourcePort      uint16
	DestinationPort uint16
	Flags           TCPFlags
}

func ParseTCPHeader(packet []byte, offset int) (*TCPHeader, error) {
	if len(packet) < offset+20 {
		return nil, fmt.Errorf("nat64: packet too short for TCP header")
	}
	h := &TCPHeader{}
	h.SourcePort = binary.BigEndian.Uint16(packet[offset : offset+2])
	h.DestinationPort = binary.BigEndian.Uint16(packet[offset+2 : offset+4])
	h.Flags = TCPFlags(packet[offset+13])
	return h, nil
}

type UDPHeader struct {
	SourcePort      uint16
	DestinationPort uint16
}

func ParseUDPHeader(packet []byte, offset int) (*UDPHeader, error) {
	if len(packet) < offset+8 {
		return nil, fmt.Errorf("nat64: packet too short for UDP header")
	}
	h := &UDPHeader{}
	h.SourcePort = binary.BigEndian.Uint16(packet[offset : offset+2])
	h.DestinationPort = binary.BigEndian.Uint16(packet[offset+2 : offset+4])
	return h, nil
}

// ICMPHeader covers Echo request/reply only; the Echo identifier stands
// in for a port in the tuples this translator tracks.
type ICMPHeader struct {
	Type uint8
	Code uint8
	ID   uint16
}

const (
	ICMPTypeEchoRequest = 8
	ICMPTypeEchoReply   = 0
)

func ParseICMPHeader(packet []byte, offset int) (*ICMPHeader, error) {
	if len(packet) < offset+8 {
		return nil, fmt.Errorf("nat64: packet too short for ICMP header")
	}
	h := &ICMPHeader{}
	h.Type = packet[offset]
	h.Code = packet[offset+1]
	h.ID = binary.BigEndian.Uint16(packet[offset+4 : offset+6])
	return h, nil
}

// TupleFromV6Packet extracts a V6Tuple and the packet's TCP flags (zero
// for non-TCP) from a raw IPv6 capture, for front ends that hand Core
// raw bytes instead of a pre-parsed tuple.
func TupleFromV6Packet(packet []byte) (V6Tuple, TCPFlags, error) {
	ip, err := ParseIPv6Header(packet)
	if err != nil {
		return V6Tuple{}, 0, err
	}

	var srcPort, dstPort uint16
	var flags TCPFlags

	switch ip.NextHeader {
	case ProtoTCP:
		h, err := ParseTCPHeader(packet, ipv6HeaderLen)
		if err != nil {
			return V6Tuple{}, 0, err
		}
		srcPort, dstPort, flags = h.SourcePort, h.DestinationPort, h.Flags
	case ProtoUDP:
		h, err := ParseUDPHeader(packet, ipv6HeaderLen)
		if err != nil {
			return V6Tuple{}, 0, err
		}
		srcPort, dstPort = h.SourcePort, h.DestinationPort
	case ProtoICMP:
		h, err := ParseICMPHeader(packet, ipv6HeaderLen)
		if err != nil {
			return V6Tuple{}, 0, err
		}
		srcPort, dstPort = h.ID, h.ID
	default:
		return V6Tuple{}, 0, fmt.Errorf("nat64: unsupported next header %d", ip.NextHeader)
	}

	return V6Tuple{
		Proto: ip.NextHeader,
		Src:   Transport6{Addr: ip.SourceIP, Port: srcPort},
		Dst:   Transport6{Addr: ip.DestinationIP, Port: dstPort},
	}, flags, nil
}

// TupleFromV4Packet is the IPv4 counterpart of TupleFromV6Packet.
func TupleFromV4Packet(packet []byte) (V4Tuple, TCPFlags, error) {
	ip, err := ParseIPv4Header(packet)
	if err != nil {
		return V4Tuple{}, 0, err
	}
	headerLen := int(ip.IHL) * 4

	var srcPort, dstPort uint16
	var flags TCPFlags

	switch ip.Protocol {
	case ProtoTCP:
		h, err := ParseTCPHeader(packet, headerLen)
		if err != nil {
			return V4Tuple{}, 0, err
		}
		srcPort, dstPort, flags = h.SourcePort, h.DestinationPort, h.Flags
	case ProtoUDP:
		h, err := ParseUDPHeader(packet, headerLen)
		if err != nil {
			return V4Tuple{}, 0, err
		}
		srcPort, dstPort = h.SourcePort, h.DestinationPort
	case ProtoICMP:
		h, err := ParseICMPHeader(packet, headerLen)
		if err != nil {
			return V4Tuple{}, 0, err
		}
		srcPort, dstPort = h.ID, h.ID
	default:
		return V4Tuple{}, 0, fmt.Errorf("nat64: unsupported protocol %d", ip.Protocol)
	}

	return V4Tuple{
		Proto: ip.Protocol,
		Src:   Transport4{Addr: ip.SourceIP, Port: srcPort},
		Dst:   Transport4{Addr: ip.DestinationIP, Port: dstPort},
	}, flags, nil
}
