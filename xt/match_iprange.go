package xt

import "fmt"

// struct xt_iprange_mtinfo flag bits.
const (
	iprangeSrc    uint8 = 0x01
	iprangeDst    uint8 = 0x02
	iprangeSrcInv uint8 = 0x10
	iprangeDstInv uint8 = 0x20
)

func init() {
	register(&Schema{
		Kind:        "iprange",
		Class:       ClassMatch,
		Revision:    1,
		PayloadSize: 68, // struct xt_iprange_mtinfo
		Params: []ParamSpec{
			{Name: "src-range", Type: TypeAddrRange, Negatable: true},
			{Name: "dst-range", Type: TypeAddrRange, Negatable: true},
		},
		encode: encodeIPRange,
		decode: decodeIPRange,
	})
}

// Addresses are stored as nf_inet_addr: 16 bytes regardless of family, IPv4
// occupying the first 4.
func encodeIPRange(f Family, p map[string]string) ([]byte, error) {
	b := make([]byte, 68)
	var flags uint8

	put := func(value string, off int, setBit, invBit uint8) error {
		v, neg := splitNeg(value)
		lo, hi, err := parseAddrRange(f, v)
		if err != nil {
			return err
		}
		copy(b[off:off+16], lo)
		copy(b[off+16:off+32], hi)
		flags |= setBit
		if neg {
			flags |= invBit
		}
		return nil
	}

	if v, ok := p["src-range"]; ok {
		if err := put(v, 0, iprangeSrc, iprangeSrcInv); err != nil {
			return nil, err
		}
	}
	if v, ok := p["dst-range"]; ok {
		if err := put(v, 32, iprangeDst, iprangeDstInv); err != nil {
			return nil, err
		}
	}
	if flags&(iprangeSrc|iprangeDst) == 0 {
		return nil, fmt.Errorf("iprange requires src-range or dst-range")
	}
	b[64] = flags
	return b, nil
}

func decodeIPRange(f Family, b []byte) (map[string]string, error) {
	p := make(map[string]string)
	flags := b[64]
	al := f.AddrLen()

	get := func(off int, inv bool) string {
		lo := formatAddr(f, b[off:off+al])
		hi := formatAddr(f, b[off+16:off+16+al])
		s := lo + "-" + hi
		if inv {
			s = "!" + s
		}
		return s
	}
	if flags&iprangeSrc != 0 {
		p["src-range"] = get(0, flags&iprangeSrcInv != 0)
	}
	if flags&iprangeDst != 0 {
		p["dst-range"] = get(32, flags&iprangeDstInv != 0)
	}
	return p, nil
}
