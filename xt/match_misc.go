package xt

import "fmt"

// The smaller stateless match kinds: mark, state, comment, limit.

func init() {
	register(&Schema{
		Kind:        "mark",
		Class:       ClassMatch,
		Revision:    1,
		PayloadSize: 12, // struct xt_mark_mtinfo1
		Params: []ParamSpec{
			{Name: "mark", Type: TypeMark, Negatable: true},
		},
		encode: encodeMarkMatch,
		decode: decodeMarkMatch,
	})

	register(&Schema{
		Kind:        "state",
		Class:       ClassMatch,
		Revision:    0,
		PayloadSize: 4, // struct xt_state_info
		Params: []ParamSpec{
			{Name: "state", Type: TypeStateList},
		},
		encode: encodeState,
		decode: decodeState,
	})

	register(&Schema{
		Kind:        "comment",
		Class:       ClassMatch,
		Revision:    0,
		PayloadSize: 256, // struct xt_comment_info
		Params: []ParamSpec{
			{Name: "comment", Type: TypeString, MaxLen: 255},
		},
		encode: encodeComment,
		decode: decodeComment,
	})

	register(&Schema{
		Kind:        "limit",
		Class:       ClassMatch,
		Revision:    0,
		PayloadSize: 32, // struct xt_rateinfo incl. kernel scratch space
		Params: []ParamSpec{
			{Name: "limit", Type: TypeRate, Default: "3/hour"},
			{Name: "limit-burst", Type: TypeU32, Default: "5"},
		},
		encode: encodeLimit,
		decode: decodeLimit,
	})
}

func encodeMarkMatch(_ Family, p map[string]string) ([]byte, error) {
	v, ok := p["mark"]
	if !ok {
		return nil, fmt.Errorf("mark match requires mark")
	}
	v, neg := splitNeg(v)
	mark, mask, err := parseMark(v)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 12)
	NativeEndian.PutUint32(b[0:4], mark)
	NativeEndian.PutUint32(b[4:8], mask)
	if neg {
		b[8] = 1
	}
	return b, nil
}

func decodeMarkMatch(_ Family, b []byte) (map[string]string, error) {
	s := formatMark(NativeEndian.Uint32(b[0:4]), NativeEndian.Uint32(b[4:8]))
	if b[8] == 1 {
		s = "!" + s
	}
	return map[string]string{"mark": s}, nil
}

func encodeState(_ Family, p map[string]string) ([]byte, error) {
	v, ok := p["state"]
	if !ok {
		return nil, fmt.Errorf("state match requires state")
	}
	mask, err := parseStateList(v)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 4)
	NativeEndian.PutUint32(b, mask)
	return b, nil
}

func decodeState(_ Family, b []byte) (map[string]string, error) {
	return map[string]string{"state": formatStateList(NativeEndian.Uint32(b))}, nil
}

func encodeComment(_ Family, p map[string]string) ([]byte, error) {
	v := p["comment"]
	if len(v) > 255 {
		return nil, fmt.Errorf("comment longer than 255 bytes")
	}
	b := make([]byte, 256)
	copy(b, v)
	return b, nil
}

func decodeComment(_ Family, b []byte) (map[string]string, error) {
	return map[string]string{"comment": cString(b[:256])}, nil
}

// Only avg and burst are meaningful in xt_rateinfo; the remaining bytes are
// kernel scratch space and are zeroed on encode, ignored on decode.
func encodeLimit(_ Family, p map[string]string) ([]byte, error) {
	rate := p["limit"]
	if rate == "" {
		rate = "3/hour"
	}
	avg, err := parseRate(rate)
	if err != nil {
		return nil, err
	}
	burst := uint32(5)
	if v, ok := p["limit-burst"]; ok {
		if burst, err = parseU32(v); err != nil {
			return nil, err
		}
	}
	b := make([]byte, 32)
	NativeEndian.PutUint32(b[0:4], avg)
	NativeEndian.PutUint32(b[4:8], burst)
	return b, nil
}

func decodeLimit(_ Family, b []byte) (map[string]string, error) {
	p := make(map[string]string)
	if s := formatRate(NativeEndian.Uint32(b[0:4])); s != "3/hour" {
		p["limit"] = s
	}
	if burst := NativeEndian.Uint32(b[4:8]); burst != 5 {
		p["limit-burst"] = fmt.Sprintf("%d", burst)
	}
	return p, nil
}
