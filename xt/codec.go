package xt

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// The parameter codec. Everything crosses the API boundary as a string; the
// parsers here turn option strings into the integers and byte arrays the
// kind payloads store, and the formatters reproduce canonical text on decode.

func errRange(name, v string) error {
	return fmt.Errorf("%s value %q out of range", name, v)
}

func formatU8(n uint8) string {
	return strconv.Itoa(int(n))
}

// splitNeg strips a canonical "!" prefix.
func splitNeg(v string) (string, bool) {
	if strings.HasPrefix(v, "!") {
		return v[1:], true
	}
	return v, false
}

// canonicalValue parses and re-formats a value for its declared type.
func canonicalValue(f Family, ps *ParamSpec, v string) (string, error) {
	switch ps.Type {
	case TypeString:
		if ps.MaxLen > 0 && len(v) > ps.MaxLen {
			return "", fmt.Errorf("value longer than %d bytes", ps.MaxLen)
		}
		return v, nil
	case TypePort:
		lo, hi, err := parsePortRange(v)
		if err != nil {
			return "", err
		}
		return formatPortRange(lo, hi), nil
	case TypePortList:
		prs, err := parsePortList(v)
		if err != nil {
			return "", err
		}
		return formatPortList(prs), nil
	case TypeAddrMask:
		addr, mask, err := parseAddrMask(f, v)
		if err != nil {
			return "", err
		}
		return FormatAddrMask(f, addr, mask), nil
	case TypeAddrRange:
		lo, hi, err := parseAddrRange(f, v)
		if err != nil {
			return "", err
		}
		return formatAddr(f, lo) + "-" + formatAddr(f, hi), nil
	case TypeNATRange:
		r, err := parseNATRange(v)
		if err != nil {
			return "", err
		}
		return r.String(), nil
	case TypeU32:
		n, err := parseU32(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(uint64(n), 10), nil
	case TypeMark:
		mark, mask, err := parseMark(v)
		if err != nil {
			return "", err
		}
		return formatMark(mark, mask), nil
	case TypeTCPFlags:
		mask, cmp, err := parseTCPFlags(v)
		if err != nil {
			return "", err
		}
		return formatTCPFlags(mask, cmp), nil
	case TypeStateList:
		m, err := parseStateList(v)
		if err != nil {
			return "", err
		}
		return formatStateList(m), nil
	case TypeRate:
		avg, err := parseRate(v)
		if err != nil {
			return "", err
		}
		return formatRate(avg), nil
	case TypeEnum:
		for _, e := range ps.Enum {
			if v == e {
				return v, nil
			}
		}
		return "", fmt.Errorf("%q is not one of %s", v, strings.Join(ps.Enum, ", "))
	}
	return "", fmt.Errorf("unhandled parameter type %d", ps.Type)
}

// Ports

func parsePortRange(v string) (lo, hi uint16, err error) {
	parse := func(s string) (uint16, error) {
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("bad port %q", s)
		}
		return uint16(n), nil
	}
	if i := strings.IndexByte(v, ':'); i >= 0 {
		if lo, err = parse(v[:i]); err != nil {
			return 0, 0, err
		}
		if hi, err = parse(v[i+1:]); err != nil {
			return 0, 0, err
		}
		if lo > hi {
			return 0, 0, fmt.Errorf("inverted port range %q", v)
		}
		return lo, hi, nil
	}
	lo, err = parse(v)
	return lo, lo, err
}

func formatPortRange(lo, hi uint16) string {
	if lo == hi {
		return strconv.Itoa(int(lo))
	}
	return fmt.Sprintf("%d:%d", lo, hi)
}

type portRange struct{ lo, hi uint16 }

func parsePortList(v string) ([]portRange, error) {
	var out []portRange
	for _, part := range strings.Split(v, ",") {
		lo, hi, err := parsePortRange(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, portRange{lo, hi})
	}
	return out, nil
}

func formatPortList(prs []portRange) string {
	parts := make([]string, len(prs))
	for i, pr := range prs {
		parts[i] = formatPortRange(pr.lo, pr.hi)
	}
	return strings.Join(parts, ",")
}

// Addresses

func parseAddr(f Family, s string) ([]byte, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("bad address %q", s)
	}
	if f == IPv4 {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("%q is not an IPv4 address", s)
	}
	if ip.To4() != nil && !strings.Contains(s, ":") {
		return nil, fmt.Errorf("%q is not an IPv6 address", s)
	}
	return ip.To16(), nil
}

func formatAddr(f Family, b []byte) string {
	return net.IP(b).String()
}

// parseAddrMask accepts CIDR notation, a bare address (implying a full mask),
// or addr/mask with an explicit dotted or colon mask.
func parseAddrMask(f Family, v string) (addr, mask []byte, err error) {
	al := f.AddrLen()
	if i := strings.IndexByte(v, '/'); i >= 0 {
		addrPart, maskPart := v[:i], v[i+1:]
		addr, err = parseAddr(f, addrPart)
		if err != nil {
			return nil, nil, err
		}
		if ones, err2 := strconv.Atoi(maskPart); err2 == nil {
			if ones < 0 || ones > al*8 {
				return nil, nil, fmt.Errorf("bad prefix length /%d", ones)
			}
			mask = net.CIDRMask(ones, al*8)
			return addr, mask, nil
		}
		mask, err = parseAddr(f, maskPart)
		if err != nil {
			return nil, nil, fmt.Errorf("bad mask %q", maskPart)
		}
		return addr, mask, nil
	}
	addr, err = parseAddr(f, v)
	if err != nil {
		return nil, nil, err
	}
	return addr, net.CIDRMask(al*8, al*8), nil
}

// ParseAddrMask parses an address with optional mask (CIDR, bare address, or
// addr/maskaddr) into fixed-width binary address and mask.
func ParseAddrMask(f Family, v string) (addr, mask []byte, err error) {
	return parseAddrMask(f, v)
}

// FormatAddrMask renders an address/mask pair canonically: CIDR where the
// mask is contiguous, addr/maskaddr otherwise.
func FormatAddrMask(f Family, addr, mask []byte) string {
	m := net.IPMask(mask)
	if ones, bits := m.Size(); bits != 0 {
		return fmt.Sprintf("%s/%d", formatAddr(f, addr), ones)
	}
	return formatAddr(f, addr) + "/" + formatAddr(f, mask)
}

func parseAddrRange(f Family, v string) (lo, hi []byte, err error) {
	i := strings.IndexByte(v, '-')
	if i < 0 {
		lo, err = parseAddr(f, v)
		return lo, lo, err
	}
	if lo, err = parseAddr(f, v[:i]); err != nil {
		return nil, nil, err
	}
	if hi, err = parseAddr(f, v[i+1:]); err != nil {
		return nil, nil, err
	}
	return lo, hi, nil
}

// NAT ranges

// natRange is a parsed "addr[-addr][:port[-port]]" or "port[-port]" value.
type natRange struct {
	MinIP, MaxIP     net.IP // nil when only ports are mapped
	MinPort, MaxPort uint16
	HasPorts         bool
}

func (r natRange) String() string {
	var s string
	if r.MinIP != nil {
		s = r.MinIP.String()
		if !r.MaxIP.Equal(r.MinIP) {
			s += "-" + r.MaxIP.String()
		}
	}
	if r.HasPorts {
		p := strconv.Itoa(int(r.MinPort))
		if r.MaxPort != r.MinPort {
			p += "-" + strconv.Itoa(int(r.MaxPort))
		}
		if s != "" {
			return s + ":" + p
		}
		return p
	}
	return s
}

func parseNATRange(v string) (natRange, error) {
	var r natRange
	addrPart := v
	if i := strings.LastIndexByte(v, ':'); i >= 0 {
		addrPart = v[:i]
		portPart := v[i+1:]
		lo, hi, err := splitDashPorts(portPart)
		if err != nil {
			return r, err
		}
		r.MinPort, r.MaxPort, r.HasPorts = lo, hi, true
	}
	if addrPart != "" {
		// A bare port spec ("80" or "80-90") has no address part.
		if _, err := strconv.Atoi(strings.Split(addrPart, "-")[0]); err == nil && !r.HasPorts {
			lo, hi, err := splitDashPorts(addrPart)
			if err != nil {
				return r, err
			}
			r.MinPort, r.MaxPort, r.HasPorts = lo, hi, true
			return r, nil
		}
		lo := addrPart
		hi := addrPart
		if i := strings.IndexByte(addrPart, '-'); i >= 0 {
			lo, hi = addrPart[:i], addrPart[i+1:]
		}
		minIP := net.ParseIP(lo)
		maxIP := net.ParseIP(hi)
		if minIP == nil || maxIP == nil {
			return r, fmt.Errorf("bad NAT address range %q", addrPart)
		}
		if minIP.To4() == nil || maxIP.To4() == nil {
			return r, fmt.Errorf("NAT ranges are IPv4 only: %q", addrPart)
		}
		r.MinIP, r.MaxIP = minIP.To4(), maxIP.To4()
	}
	if r.MinIP == nil && !r.HasPorts {
		return r, fmt.Errorf("empty NAT range %q", v)
	}
	return r, nil
}

func splitDashPorts(v string) (lo, hi uint16, err error) {
	parse := func(s string) (uint16, error) {
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("bad port %q", s)
		}
		return uint16(n), nil
	}
	if i := strings.IndexByte(v, '-'); i >= 0 {
		if lo, err = parse(v[:i]); err != nil {
			return
		}
		hi, err = parse(v[i+1:])
		return
	}
	lo, err = parse(v)
	return lo, lo, err
}

// Integers and marks

func parseU32(v string) (uint32, error) {
	n, err := strconv.ParseUint(v, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad integer %q", v)
	}
	return uint32(n), nil
}

func parseMark(v string) (mark, mask uint32, err error) {
	mask = 0xffffffff
	s := v
	if i := strings.IndexByte(v, '/'); i >= 0 {
		s = v[:i]
		if mask, err = parseU32(v[i+1:]); err != nil {
			return 0, 0, err
		}
	}
	if mark, err = parseU32(s); err != nil {
		return 0, 0, err
	}
	return mark, mask, nil
}

func formatMark(mark, mask uint32) string {
	if mask == 0xffffffff {
		return fmt.Sprintf("0x%x", mark)
	}
	return fmt.Sprintf("0x%x/0x%x", mark, mask)
}

// TCP flags

var tcpFlagBits = []struct {
	name string
	bit  uint8
}{
	{"FIN", 0x01},
	{"SYN", 0x02},
	{"RST", 0x04},
	{"PSH", 0x08},
	{"ACK", 0x10},
	{"URG", 0x20},
}

func parseTCPFlagSet(v string) (uint8, error) {
	switch v {
	case "ALL":
		return 0x3f, nil
	case "NONE":
		return 0, nil
	}
	var bits uint8
	for _, name := range strings.Split(v, ",") {
		found := false
		for _, fb := range tcpFlagBits {
			if fb.name == name {
				bits |= fb.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("bad TCP flag %q", name)
		}
	}
	return bits, nil
}

func formatTCPFlagSet(bits uint8) string {
	if bits == 0x3f {
		return "ALL"
	}
	if bits == 0 {
		return "NONE"
	}
	var names []string
	for _, fb := range tcpFlagBits {
		if bits&fb.bit != 0 {
			names = append(names, fb.name)
		}
	}
	return strings.Join(names, ",")
}

func parseTCPFlags(v string) (mask, cmp uint8, err error) {
	i := strings.IndexByte(v, '/')
	if i < 0 {
		return 0, 0, fmt.Errorf("want MASK/CMP, got %q", v)
	}
	if mask, err = parseTCPFlagSet(v[:i]); err != nil {
		return 0, 0, err
	}
	if cmp, err = parseTCPFlagSet(v[i+1:]); err != nil {
		return 0, 0, err
	}
	if cmp&^mask != 0 {
		return 0, 0, fmt.Errorf("compared flags outside mask in %q", v)
	}
	return mask, cmp, nil
}

func formatTCPFlags(mask, cmp uint8) string {
	return formatTCPFlagSet(mask) + "/" + formatTCPFlagSet(cmp)
}

// Conntrack states

var stateBits = []struct {
	name string
	bit  uint32
}{
	{"INVALID", 0x01},
	{"ESTABLISHED", 0x02},
	{"RELATED", 0x04},
	{"NEW", 0x08},
	{"UNTRACKED", 0x40},
}

func parseStateList(v string) (uint32, error) {
	var mask uint32
	for _, name := range strings.Split(v, ",") {
		found := false
		for _, sb := range stateBits {
			if sb.name == name {
				mask |= sb.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("bad connection state %q", name)
		}
	}
	if mask == 0 {
		return 0, fmt.Errorf("empty state list")
	}
	return mask, nil
}

func formatStateList(mask uint32) string {
	var names []string
	for _, sb := range stateBits {
		if mask&sb.bit != 0 {
			names = append(names, sb.name)
		}
	}
	return strings.Join(names, ",")
}

// Rates

// limitScale is XT_LIMIT_SCALE: rate averages are stored as 1/10000ths of a
// second between packets.
const limitScale = 10000

var rateUnits = []struct {
	name string
	secs uint32
}{
	{"second", 1},
	{"minute", 60},
	{"hour", 3600},
	{"day", 86400},
}

func parseRate(v string) (avg uint32, err error) {
	i := strings.IndexByte(v, '/')
	count := v
	unit := "second"
	if i >= 0 {
		count, unit = v[:i], v[i+1:]
	}
	n, err := strconv.ParseUint(count, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("bad rate count %q", count)
	}
	for _, u := range rateUnits {
		if u.name == unit {
			scaled := uint64(limitScale) * uint64(u.secs)
			if uint64(n) > scaled {
				return 0, fmt.Errorf("rate %q too fast", v)
			}
			return uint32(scaled / uint64(n)), nil
		}
	}
	return 0, fmt.Errorf("bad rate unit %q", unit)
}

func formatRate(avg uint32) string {
	if avg == 0 {
		return "0/second"
	}
	for _, u := range rateUnits {
		scaled := uint64(limitScale) * uint64(u.secs)
		if scaled%uint64(avg) == 0 {
			return fmt.Sprintf("%d/%s", scaled/uint64(avg), u.name)
		}
	}
	// Inexact; round toward the smallest unit.
	return fmt.Sprintf("%d/second", limitScale/avg)
}

// Interfaces

// EncodeInterface maps an interface name, optionally ending in the "+"
// wildcard, to the fixed-width name field and its per-byte comparison mask.
// A wildcard matches the device and its sub-interfaces: the mask covers only
// the prefix. An exact name is masked through its trailing NUL.
func EncodeInterface(name string) (ifname, mask [IfNameSize]byte, err error) {
	wildcard := strings.HasSuffix(name, "+")
	base := strings.TrimSuffix(name, "+")
	if len(base) >= IfNameSize {
		return ifname, mask, fmt.Errorf("interface name %q too long", name)
	}
	copy(ifname[:], base)
	n := len(base)
	if wildcard {
		for i := 0; i < n; i++ {
			mask[i] = 0xff
		}
	} else if n > 0 {
		for i := 0; i <= n; i++ {
			mask[i] = 0xff
		}
	}
	return ifname, mask, nil
}

// DecodeInterface reverses EncodeInterface.
func DecodeInterface(ifname, mask [IfNameSize]byte) string {
	name := cString(ifname[:])
	if name == "" {
		return ""
	}
	// Wildcard iff the mask stops at the prefix instead of covering the NUL.
	if len(name) < IfNameSize && mask[len(name)] == 0 {
		return name + "+"
	}
	return name
}
