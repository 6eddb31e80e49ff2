package xt

import "fmt"

// Extended target kinds: REJECT, LOG, MARK.

var rejectWith = []string{
	"icmp-net-unreachable",
	"icmp-host-unreachable",
	"icmp-proto-unreachable",
	"icmp-port-unreachable",
	"echo-reply",
	"icmp-net-prohibited",
	"icmp-host-prohibited",
	"tcp-reset",
	"icmp-admin-prohibited",
}

func init() {
	register(&Schema{
		Kind:        "REJECT",
		Class:       ClassTarget,
		Revision:    0,
		PayloadSize: 4, // struct ipt_reject_info
		Params: []ParamSpec{
			{Name: "reject-with", Type: TypeEnum, Default: "icmp-port-unreachable",
				Enum: rejectWith},
		},
		encode: encodeReject,
		decode: decodeReject,
	})

	register(&Schema{
		Kind:        "LOG",
		Class:       ClassTarget,
		Revision:    0,
		PayloadSize: 32, // struct ipt_log_info
		Params: []ParamSpec{
			{Name: "log-level", Type: TypeU32, Default: "4"},
			{Name: "log-prefix", Type: TypeString, MaxLen: 29},
		},
		encode: encodeLog,
		decode: decodeLog,
	})

	register(&Schema{
		Kind:        "MARK",
		Class:       ClassTarget,
		Revision:    2,
		PayloadSize: 8, // struct xt_mark_tginfo2
		Params: []ParamSpec{
			{Name: "set-mark", Type: TypeMark},
		},
		encode: encodeMarkTarget,
		decode: decodeMarkTarget,
	})
}

func encodeReject(_ Family, p map[string]string) ([]byte, error) {
	with := p["reject-with"]
	if with == "" {
		with = "icmp-port-unreachable"
	}
	b := make([]byte, 4)
	for i, name := range rejectWith {
		if name == with {
			NativeEndian.PutUint32(b, uint32(i))
			return b, nil
		}
	}
	return nil, fmt.Errorf("bad reject-with %q", with)
}

func decodeReject(_ Family, b []byte) (map[string]string, error) {
	n := NativeEndian.Uint32(b[0:4])
	if int(n) >= len(rejectWith) {
		return nil, fmt.Errorf("bad reject-with code %d", n)
	}
	p := make(map[string]string)
	if rejectWith[n] != "icmp-port-unreachable" {
		p["reject-with"] = rejectWith[n]
	}
	return p, nil
}

// Layout of ipt_log_info: level u8, logflags u8, prefix[30].
func encodeLog(_ Family, p map[string]string) ([]byte, error) {
	b := make([]byte, 32)
	level := uint32(4)
	if v, ok := p["log-level"]; ok {
		var err error
		if level, err = parseU32(v); err != nil {
			return nil, err
		}
		if level > 7 {
			return nil, errRange("log-level", v)
		}
	}
	b[0] = uint8(level)
	prefix := p["log-prefix"]
	if len(prefix) > 29 {
		return nil, fmt.Errorf("log-prefix longer than 29 bytes")
	}
	copy(b[2:], prefix)
	return b, nil
}

func decodeLog(_ Family, b []byte) (map[string]string, error) {
	p := make(map[string]string)
	if b[0] != 4 {
		p["log-level"] = formatU8(b[0])
	}
	if prefix := cString(b[2:32]); prefix != "" {
		p["log-prefix"] = prefix
	}
	return p, nil
}

func encodeMarkTarget(_ Family, p map[string]string) ([]byte, error) {
	v, ok := p["set-mark"]
	if !ok {
		return nil, fmt.Errorf("MARK requires set-mark")
	}
	mark, mask, err := parseMark(v)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 8)
	NativeEndian.PutUint32(b[0:4], mark)
	NativeEndian.PutUint32(b[4:8], mask)
	return b, nil
}

func decodeMarkTarget(_ Family, b []byte) (map[string]string, error) {
	s := formatMark(NativeEndian.Uint32(b[0:4]), NativeEndian.Uint32(b[4:8]))
	return map[string]string{"set-mark": s}, nil
}
