package xt

import (
	"fmt"
	"strconv"
)

// Transport protocol numbers used by rule headers and protocol-bound kinds.
const (
	ProtoICMP   uint16 = 1
	ProtoTCP    uint16 = 6
	ProtoUDP    uint16 = 17
	ProtoESP    uint16 = 50
	ProtoAH     uint16 = 51
	ProtoICMPv6 uint16 = 58
	ProtoSCTP   uint16 = 132
)

var protoNames = map[string]uint16{
	"icmp":   ProtoICMP,
	"tcp":    ProtoTCP,
	"udp":    ProtoUDP,
	"esp":    ProtoESP,
	"ah":     ProtoAH,
	"icmpv6": ProtoICMPv6,
	"sctp":   ProtoSCTP,
}

var protoNumbers = func() map[uint16]string {
	m := make(map[uint16]string, len(protoNames))
	for name, n := range protoNames {
		m[n] = name
	}
	return m
}()

// LookupProtocol resolves a protocol name or decimal number. "" and "all"
// mean any protocol.
func LookupProtocol(s string) (uint16, error) {
	if s == "" || s == "all" {
		return 0, nil
	}
	if n, ok := protoNames[s]; ok {
		return n, nil
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return uint16(n), nil
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// ProtocolName renders a protocol number, falling back to decimal.
func ProtocolName(n uint16) string {
	if n == 0 {
		return "all"
	}
	if name, ok := protoNumbers[n]; ok {
		return name
	}
	return strconv.Itoa(int(n))
}
