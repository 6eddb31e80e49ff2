package xt

import (
	"encoding/binary"
	"fmt"
)

// NAT target kinds. All four share struct nf_nat_ipv4_multi_range_compat:
// rangesize u32, then one range of flags u32, min/max address and min/max
// port. Addresses and ports inside the range are network byte order, unlike
// the rest of the blob. IPv4 only, like the legacy kernel targets.

// nf_nat_range flag bits.
const (
	natRangeMapIPs         uint32 = 0x01
	natRangeProtoSpecified uint32 = 0x02
)

const sizeOfNATPayload = 20

func init() {
	register(&Schema{
		Kind:        "MASQUERADE",
		Class:       ClassTarget,
		PayloadSize: sizeOfNATPayload,
		Params: []ParamSpec{
			{Name: "to-ports", Type: TypeNATRange},
		},
		encode: natEncoder("to-ports", false),
		decode: natDecoder("to-ports", false),
	})
	register(&Schema{
		Kind:        "REDIRECT",
		Class:       ClassTarget,
		PayloadSize: sizeOfNATPayload,
		Params: []ParamSpec{
			{Name: "to-ports", Type: TypeNATRange},
		},
		encode: natEncoder("to-ports", false),
		decode: natDecoder("to-ports", false),
	})
	register(&Schema{
		Kind:        "SNAT",
		Class:       ClassTarget,
		PayloadSize: sizeOfNATPayload,
		Params: []ParamSpec{
			{Name: "to-source", Type: TypeNATRange},
		},
		encode: natEncoder("to-source", true),
		decode: natDecoder("to-source", true),
	})
	register(&Schema{
		Kind:        "DNAT",
		Class:       ClassTarget,
		PayloadSize: sizeOfNATPayload,
		Params: []ParamSpec{
			{Name: "to-destination", Type: TypeNATRange},
		},
		encode: natEncoder("to-destination", true),
		decode: natDecoder("to-destination", true),
	})
}

func natEncoder(param string, addrRequired bool) func(Family, map[string]string) ([]byte, error) {
	return func(f Family, p map[string]string) ([]byte, error) {
		if f != IPv4 {
			return nil, fmt.Errorf("NAT targets are IPv4 only")
		}
		b := make([]byte, sizeOfNATPayload)
		NativeEndian.PutUint32(b[0:4], 1) // rangesize

		v, ok := p[param]
		if !ok {
			if addrRequired {
				return nil, fmt.Errorf("missing %s", param)
			}
			return b, nil
		}
		r, err := parseNATRange(v)
		if err != nil {
			return nil, err
		}
		var flags uint32
		if r.MinIP != nil {
			flags |= natRangeMapIPs
			copy(b[8:12], r.MinIP)
			copy(b[12:16], r.MaxIP)
		} else if addrRequired {
			return nil, fmt.Errorf("%s requires an address", param)
		}
		if r.HasPorts {
			flags |= natRangeProtoSpecified
			binary.BigEndian.PutUint16(b[16:18], r.MinPort)
			binary.BigEndian.PutUint16(b[18:20], r.MaxPort)
		}
		NativeEndian.PutUint32(b[4:8], flags)
		return b, nil
	}
}

func natDecoder(param string, addrRequired bool) func(Family, []byte) (map[string]string, error) {
	return func(f Family, b []byte) (map[string]string, error) {
		if n := NativeEndian.Uint32(b[0:4]); n != 1 {
			return nil, fmt.Errorf("unsupported NAT rangesize %d", n)
		}
		flags := NativeEndian.Uint32(b[4:8])
		var r natRange
		if flags&natRangeMapIPs != 0 {
			r.MinIP = append([]byte(nil), b[8:12]...)
			r.MaxIP = append([]byte(nil), b[12:16]...)
		}
		if flags&natRangeProtoSpecified != 0 {
			r.HasPorts = true
			r.MinPort = binary.BigEndian.Uint16(b[16:18])
			r.MaxPort = binary.BigEndian.Uint16(b[18:20])
		}
		p := make(map[string]string)
		if s := r.String(); s != "" {
			p[param] = s
		}
		return p, nil
	}
}
