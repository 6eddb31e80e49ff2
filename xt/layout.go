package xt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Family selects the protocol family a table (and its address fields) uses.
type Family uint8

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// AddrLen returns the binary address width for the family.
func (f Family) AddrLen() int {
	if f == IPv6 {
		return 16
	}
	return 4
}

// Sizes and limits from the kernel uapi headers.
const (
	IfNameSize       = 16 // IFNAMSIZ
	TableMaxNameLen  = 32 // XT_TABLE_MAXNAMELEN
	ExtensionNameLen = 29 // XT_EXTENSION_MAXNAMELEN
	FunctionMaxLen   = 30 // XT_FUNCTION_MAXNAMELEN

	SizeOfCounters       = 16 // struct xt_counters
	SizeOfEntryIPv4      = 112
	SizeOfEntryIPv6      = 168
	SizeOfIPHeaderV4     = 84  // struct ipt_ip
	SizeOfIPHeaderV6     = 136 // struct ip6t_ip6
	SizeOfBlockHeader    = 32  // struct xt_entry_match / xt_entry_target
	SizeOfGetInfo        = 84  // struct ipt_getinfo
	SizeOfGetEntries     = 40  // struct ipt_get_entries (header only)
	SizeOfReplaceHdr     = 96  // struct ipt_replace (header only)
	SizeOfStandardTarget = 40
	SizeOfErrorTarget    = 64
)

// Netfilter hook numbers (NF_INET_*).
const (
	HookPrerouting = iota
	HookInput
	HookForward
	HookOutput
	HookPostrouting
	NumHooks
)

// Standard verdicts as stored in xt_standard_target.Verdict. Negative values
// are -NF_<verdict>-1; non-negative values are jump offsets.
const (
	VerdictDrop   int32 = -1 // -NF_DROP - 1
	VerdictAccept int32 = -2 // -NF_ACCEPT - 1
	VerdictQueue  int32 = -4 // -NF_QUEUE - 1
	VerdictReturn int32 = -5 // XT_RETURN
)

// ipt_ip flag bits.
const (
	FlagFragment uint8 = 0x01 // IPT_F_FRAG
)

// ip6t_ip6 flag bits. The fragment bit does not exist for IPv6; bit 0 means
// a protocol criterion is present instead.
const (
	Flag6Proto uint8 = 0x01 // IP6T_F_PROTO
)

// ipt_ip inverse flag bits.
const (
	InvViaIn    uint8 = 0x01
	InvViaOut   uint8 = 0x02
	InvTOS      uint8 = 0x04
	InvSrcIP    uint8 = 0x08
	InvDstIP    uint8 = 0x10
	InvFragment uint8 = 0x20
	InvProto    uint8 = 0x40
)

// ErrorTargetName marks chain-delimiter entries in the serialized table.
const ErrorTargetName = "ERROR"

// NativeEndian is the byte order the kernel expects for x_tables structs.
var NativeEndian = func() binary.ByteOrder {
	var x uint16 = 1
	if *(*byte)(unsafe.Pointer(&x)) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()

// Align8 rounds n up to the next multiple of 8, the alignment the kernel
// requires for match and target blocks.
func Align8(n int) int {
	return (n + 7) &^ 7
}

// Counters is struct xt_counters: packet and byte counts maintained by the
// kernel for every rule and chain policy.
type Counters struct {
	Packets uint64
	Bytes   uint64
}

func (c Counters) marshal(b []byte) {
	NativeEndian.PutUint64(b[0:8], c.Packets)
	NativeEndian.PutUint64(b[8:16], c.Bytes)
}

func unmarshalCounters(b []byte) Counters {
	return Counters{
		Packets: NativeEndian.Uint64(b[0:8]),
		Bytes:   NativeEndian.Uint64(b[8:16]),
	}
}

// EntryHeader is the family-independent view of an ipt_entry / ip6t_entry
// header: the rule's own matching fields plus the block offsets.
type EntryHeader struct {
	Src, Dst         []byte // AddrLen bytes each
	SrcMask, DstMask []byte
	InInterface      [IfNameSize]byte
	OutInterface     [IfNameSize]byte
	InMask           [IfNameSize]byte
	OutMask          [IfNameSize]byte
	Protocol         uint16
	TOS              uint8 // IPv6 only
	Flags            uint8
	InverseFlags     uint8

	TargetOffset uint16
	NextOffset   uint16
	Counters     Counters
}

// SizeOfEntry returns the fixed header size for the family.
func SizeOfEntry(f Family) int {
	if f == IPv6 {
		return SizeOfEntryIPv6
	}
	return SizeOfEntryIPv4
}

// Marshal writes the entry header in the kernel layout for the family.
// The destination must be at least SizeOfEntry(f) bytes.
func (e *EntryHeader) Marshal(f Family, b []byte) {
	al := f.AddrLen()
	off := 0
	copy(b[off:off+al], e.Src)
	off += al
	copy(b[off:off+al], e.Dst)
	off += al
	copy(b[off:off+al], e.SrcMask)
	off += al
	copy(b[off:off+al], e.DstMask)
	off += al
	copy(b[off:], e.InInterface[:])
	off += IfNameSize
	copy(b[off:], e.OutInterface[:])
	off += IfNameSize
	copy(b[off:], e.InMask[:])
	off += IfNameSize
	copy(b[off:], e.OutMask[:])
	off += IfNameSize
	NativeEndian.PutUint16(b[off:], e.Protocol)
	off += 2
	if f == IPv6 {
		b[off] = e.TOS
		b[off+1] = e.Flags
		b[off+2] = e.InverseFlags
		off += 3 + 3 // tail padding of ip6t_ip6
	} else {
		b[off] = e.Flags
		b[off+1] = e.InverseFlags
		off += 2
	}
	// nfcache, unused by userspace
	off += 4
	NativeEndian.PutUint16(b[off:], e.TargetOffset)
	NativeEndian.PutUint16(b[off+2:], e.NextOffset)
	off += 4
	// comeback
	off += 4
	if f == IPv6 {
		off += 4 // alignment padding before counters
	}
	e.Counters.marshal(b[off:])
}

// UnmarshalEntry reads an entry header in the kernel layout for the family.
func UnmarshalEntry(f Family, b []byte) (*EntryHeader, error) {
	if len(b) < SizeOfEntry(f) {
		return nil, fmt.Errorf("xt: truncated entry: %d bytes", len(b))
	}
	al := f.AddrLen()
	e := &EntryHeader{
		Src:     make([]byte, al),
		Dst:     make([]byte, al),
		SrcMask: make([]byte, al),
		DstMask: make([]byte, al),
	}
	off := 0
	copy(e.Src, b[off:off+al])
	off += al
	copy(e.Dst, b[off:off+al])
	off += al
	copy(e.SrcMask, b[off:off+al])
	off += al
	copy(e.DstMask, b[off:off+al])
	off += al
	copy(e.InInterface[:], b[off:])
	off += IfNameSize
	copy(e.OutInterface[:], b[off:])
	off += IfNameSize
	copy(e.InMask[:], b[off:])
	off += IfNameSize
	copy(e.OutMask[:], b[off:])
	off += IfNameSize
	e.Protocol = NativeEndian.Uint16(b[off:])
	off += 2
	if f == IPv6 {
		e.TOS = b[off]
		e.Flags = b[off+1]
		e.InverseFlags = b[off+2]
		off += 6
	} else {
		e.Flags = b[off]
		e.InverseFlags = b[off+1]
		off += 2
	}
	off += 4 // nfcache
	e.TargetOffset = NativeEndian.Uint16(b[off:])
	e.NextOffset = NativeEndian.Uint16(b[off+2:])
	off += 4
	off += 4 // comeback
	if f == IPv6 {
		off += 4
	}
	e.Counters = unmarshalCounters(b[off:])
	return e, nil
}

// BlockHeader is struct xt_entry_match / xt_entry_target: a length prefix,
// the extension name, and the ABI revision of its payload.
type BlockHeader struct {
	Size     uint16
	Name     string
	Revision uint8
}

// Marshal writes the block header into the first SizeOfBlockHeader bytes of b.
func (h *BlockHeader) Marshal(b []byte) {
	NativeEndian.PutUint16(b[0:2], h.Size)
	copy(b[2:2+ExtensionNameLen], h.Name)
	b[2+ExtensionNameLen] = h.Revision
}

// UnmarshalBlockHeader reads a block header.
func UnmarshalBlockHeader(b []byte) (BlockHeader, error) {
	if len(b) < SizeOfBlockHeader {
		return BlockHeader{}, fmt.Errorf("xt: truncated block header: %d bytes", len(b))
	}
	return BlockHeader{
		Size:     NativeEndian.Uint16(b[0:2]),
		Name:     cString(b[2 : 2+ExtensionNameLen]),
		Revision: b[2+ExtensionNameLen],
	}, nil
}

// GetInfo is struct ipt_getinfo: the table summary returned by
// IPT_SO_GET_INFO.
type GetInfo struct {
	Name       string
	ValidHooks uint32
	HookEntry  [NumHooks]uint32
	Underflow  [NumHooks]uint32
	NumEntries uint32
	Size       uint32
}

// Marshal produces the request/response buffer for IPT_SO_GET_INFO.
func (g *GetInfo) Marshal() []byte {
	b := make([]byte, SizeOfGetInfo)
	copy(b[0:TableMaxNameLen], g.Name)
	NativeEndian.PutUint32(b[32:], g.ValidHooks)
	for i := 0; i < NumHooks; i++ {
		NativeEndian.PutUint32(b[36+4*i:], g.HookEntry[i])
		NativeEndian.PutUint32(b[56+4*i:], g.Underflow[i])
	}
	NativeEndian.PutUint32(b[76:], g.NumEntries)
	NativeEndian.PutUint32(b[80:], g.Size)
	return b
}

// UnmarshalGetInfo parses an ipt_getinfo buffer.
func UnmarshalGetInfo(b []byte) (*GetInfo, error) {
	if len(b) < SizeOfGetInfo {
		return nil, fmt.Errorf("xt: truncated getinfo: %d bytes", len(b))
	}
	g := &GetInfo{
		Name:       cString(b[0:TableMaxNameLen]),
		ValidHooks: NativeEndian.Uint32(b[32:]),
		NumEntries: NativeEndian.Uint32(b[76:]),
		Size:       NativeEndian.Uint32(b[80:]),
	}
	for i := 0; i < NumHooks; i++ {
		g.HookEntry[i] = NativeEndian.Uint32(b[36+4*i:])
		g.Underflow[i] = NativeEndian.Uint32(b[56+4*i:])
	}
	return g, nil
}

// Replace is the header of struct ipt_replace, the argument of
// IPT_SO_SET_REPLACE. Entries follow the header in the same buffer.
type Replace struct {
	Name        string
	ValidHooks  uint32
	NumEntries  uint32
	Size        uint32
	HookEntry   [NumHooks]uint32
	Underflow   [NumHooks]uint32
	NumCounters uint32
}

// Marshal writes the replace header. The entry payload is appended by the
// caller.
func (r *Replace) Marshal() []byte {
	b := make([]byte, SizeOfReplaceHdr)
	copy(b[0:TableMaxNameLen], r.Name)
	NativeEndian.PutUint32(b[32:], r.ValidHooks)
	NativeEndian.PutUint32(b[36:], r.NumEntries)
	NativeEndian.PutUint32(b[40:], r.Size)
	for i := 0; i < NumHooks; i++ {
		NativeEndian.PutUint32(b[44+4*i:], r.HookEntry[i])
		NativeEndian.PutUint32(b[64+4*i:], r.Underflow[i])
	}
	NativeEndian.PutUint32(b[84:], r.NumCounters)
	// bytes 88..96: counters pointer, left zero; the transport owns the
	// old-counters buffer when one is requested.
	return b
}

// UnmarshalReplace parses an ipt_replace header.
func UnmarshalReplace(b []byte) (*Replace, error) {
	if len(b) < SizeOfReplaceHdr {
		return nil, fmt.Errorf("xt: truncated replace header: %d bytes", len(b))
	}
	r := &Replace{
		Name:        cString(b[0:TableMaxNameLen]),
		ValidHooks:  NativeEndian.Uint32(b[32:]),
		NumEntries:  NativeEndian.Uint32(b[36:]),
		Size:        NativeEndian.Uint32(b[40:]),
		NumCounters: NativeEndian.Uint32(b[84:]),
	}
	for i := 0; i < NumHooks; i++ {
		r.HookEntry[i] = NativeEndian.Uint32(b[44+4*i:])
		r.Underflow[i] = NativeEndian.Uint32(b[64+4*i:])
	}
	return r, nil
}

// cString trims a fixed-width, NUL-padded C string field.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
