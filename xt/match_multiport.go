package xt

import "fmt"

// struct xt_multiport_v1 mode values.
const (
	multiportSource      uint8 = 0
	multiportDestination uint8 = 1
	multiportEither      uint8 = 2
)

const maxMultiports = 15 // XT_MULTI_PORTS

func init() {
	register(&Schema{
		Kind:        "multiport",
		Class:       ClassMatch,
		Revision:    1,
		PayloadSize: 48, // struct xt_multiport_v1
		Params: []ParamSpec{
			{Name: "mode", Type: TypeEnum, Default: "destination",
				Enum: []string{"source", "destination", "either"}},
			{Name: "ports", Type: TypePortList, Negatable: true},
		},
		encode: encodeMultiport,
		decode: decodeMultiport,
	})
}

// Layout of xt_multiport_v1: flags u8, count u8, ports[15] u16, pflags[15] u8,
// invert u8. pflags[i] marks ports[i]..ports[i+1] as a range.
func encodeMultiport(_ Family, p map[string]string) ([]byte, error) {
	b := make([]byte, 48)
	switch p["mode"] {
	case "source":
		b[0] = multiportSource
	case "", "destination":
		b[0] = multiportDestination
	case "either":
		b[0] = multiportEither
	default:
		return nil, fmt.Errorf("bad multiport mode %q", p["mode"])
	}

	spec, ok := p["ports"]
	if !ok {
		return nil, fmt.Errorf("multiport requires ports")
	}
	spec, neg := splitNeg(spec)
	prs, err := parsePortList(spec)
	if err != nil {
		return nil, err
	}

	slot := 0
	put := func(port uint16, rangeFlag bool) error {
		if slot >= maxMultiports {
			return fmt.Errorf("too many ports (max %d slots)", maxMultiports)
		}
		NativeEndian.PutUint16(b[2+2*slot:], port)
		if rangeFlag {
			b[32+slot] = 1
		}
		slot++
		return nil
	}
	for _, pr := range prs {
		if pr.lo == pr.hi {
			if err := put(pr.lo, false); err != nil {
				return nil, err
			}
			continue
		}
		if err := put(pr.lo, true); err != nil {
			return nil, err
		}
		if err := put(pr.hi, false); err != nil {
			return nil, err
		}
	}
	b[1] = uint8(slot)
	if neg {
		b[47] = 1
	}
	return b, nil
}

func decodeMultiport(_ Family, b []byte) (map[string]string, error) {
	p := make(map[string]string)
	switch b[0] {
	case multiportSource:
		p["mode"] = "source"
	case multiportEither:
		p["mode"] = "either"
	}

	count := int(b[1])
	if count > maxMultiports {
		return nil, fmt.Errorf("multiport count %d exceeds %d", count, maxMultiports)
	}
	var prs []portRange
	for i := 0; i < count; i++ {
		port := NativeEndian.Uint16(b[2+2*i:])
		if b[32+i] == 1 && i+1 < count {
			hi := NativeEndian.Uint16(b[2+2*(i+1):])
			prs = append(prs, portRange{port, hi})
			i++
			continue
		}
		prs = append(prs, portRange{port, port})
	}
	spec := formatPortList(prs)
	if b[47] == 1 {
		spec = "!" + spec
	}
	p["ports"] = spec
	return p, nil
}
