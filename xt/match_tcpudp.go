package xt

// struct xt_tcp inverse flag bits.
const (
	tcpInvSrcPort uint8 = 0x01
	tcpInvDstPort uint8 = 0x02
	tcpInvFlags   uint8 = 0x04
	tcpInvOption  uint8 = 0x08
)

// struct xt_udp inverse flag bits.
const (
	udpInvSrcPort uint8 = 0x01
	udpInvDstPort uint8 = 0x02
)

const anyPortRange = "0:65535"

func init() {
	register(&Schema{
		Kind:        "tcp",
		Class:       ClassMatch,
		Revision:    0,
		PayloadSize: 12, // struct xt_tcp
		Protocol:    ProtoTCP,
		Params: []ParamSpec{
			{Name: "sport", Type: TypePort, Negatable: true, Default: anyPortRange},
			{Name: "dport", Type: TypePort, Negatable: true, Default: anyPortRange},
			{Name: "tcp-flags", Type: TypeTCPFlags, Negatable: true},
			{Name: "tcp-option", Type: TypeU32, Negatable: true},
		},
		encode: encodeTCP,
		decode: decodeTCP,
	})

	register(&Schema{
		Kind:        "udp",
		Class:       ClassMatch,
		Revision:    0,
		PayloadSize: 10, // struct xt_udp
		Protocol:    ProtoUDP,
		Params: []ParamSpec{
			{Name: "sport", Type: TypePort, Negatable: true, Default: anyPortRange},
			{Name: "dport", Type: TypePort, Negatable: true, Default: anyPortRange},
		},
		encode: encodeUDP,
		decode: decodeUDP,
	})
}

// portField encodes one spts/dpts pair, returning whether the inverse bit
// must be set.
func portField(b []byte, value string) (neg bool, err error) {
	v, neg := splitNeg(value)
	lo, hi, err := parsePortRange(v)
	if err != nil {
		return false, err
	}
	NativeEndian.PutUint16(b[0:2], lo)
	NativeEndian.PutUint16(b[2:4], hi)
	return neg, nil
}

func decodePortField(b []byte, neg bool) string {
	lo := NativeEndian.Uint16(b[0:2])
	hi := NativeEndian.Uint16(b[2:4])
	s := formatPortRange(lo, hi)
	if neg {
		s = "!" + s
	}
	return s
}

func encodeTCP(_ Family, p map[string]string) ([]byte, error) {
	b := make([]byte, 12)
	var inv uint8

	sport := p["sport"]
	if sport == "" {
		sport = anyPortRange
	}
	if neg, err := portField(b[0:4], sport); err != nil {
		return nil, err
	} else if neg {
		inv |= tcpInvSrcPort
	}

	dport := p["dport"]
	if dport == "" {
		dport = anyPortRange
	}
	if neg, err := portField(b[4:8], dport); err != nil {
		return nil, err
	} else if neg {
		inv |= tcpInvDstPort
	}

	if v, ok := p["tcp-flags"]; ok {
		v, neg := splitNeg(v)
		mask, cmp, err := parseTCPFlags(v)
		if err != nil {
			return nil, err
		}
		b[9] = mask
		b[10] = cmp
		if neg {
			inv |= tcpInvFlags
		}
	}
	if v, ok := p["tcp-option"]; ok {
		v, neg := splitNeg(v)
		n, err := parseU32(v)
		if err != nil {
			return nil, err
		}
		if n > 255 {
			return nil, errRange("tcp-option", v)
		}
		b[8] = uint8(n)
		if neg {
			inv |= tcpInvOption
		}
	}
	b[11] = inv
	return b, nil
}

func decodeTCP(_ Family, b []byte) (map[string]string, error) {
	p := make(map[string]string)
	inv := b[11]
	if s := decodePortField(b[0:4], inv&tcpInvSrcPort != 0); s != anyPortRange {
		p["sport"] = s
	}
	if s := decodePortField(b[4:8], inv&tcpInvDstPort != 0); s != anyPortRange {
		p["dport"] = s
	}
	if b[9] != 0 || b[10] != 0 || inv&tcpInvFlags != 0 {
		s := formatTCPFlags(b[9], b[10])
		if inv&tcpInvFlags != 0 {
			s = "!" + s
		}
		p["tcp-flags"] = s
	}
	if b[8] != 0 || inv&tcpInvOption != 0 {
		s := formatU8(b[8])
		if inv&tcpInvOption != 0 {
			s = "!" + s
		}
		p["tcp-option"] = s
	}
	return p, nil
}

func encodeUDP(_ Family, p map[string]string) ([]byte, error) {
	b := make([]byte, 10)
	var inv uint8

	sport := p["sport"]
	if sport == "" {
		sport = anyPortRange
	}
	if neg, err := portField(b[0:4], sport); err != nil {
		return nil, err
	} else if neg {
		inv |= udpInvSrcPort
	}

	dport := p["dport"]
	if dport == "" {
		dport = anyPortRange
	}
	if neg, err := portField(b[4:8], dport); err != nil {
		return nil, err
	} else if neg {
		inv |= udpInvDstPort
	}
	b[8] = inv
	return b, nil
}

func decodeUDP(_ Family, b []byte) (map[string]string, error) {
	p := make(map[string]string)
	inv := b[8]
	if s := decodePortField(b[0:4], inv&udpInvSrcPort != 0); s != anyPortRange {
		p["sport"] = s
	}
	if s := decodePortField(b[4:8], inv&udpInvDstPort != 0); s != anyPortRange {
		p["dport"] = s
	}
	return p, nil
}
