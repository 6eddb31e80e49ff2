package ferrule

import (
	"fmt"
	"strings"

	"grimm.is/ferrule/xt"
)

// header builds the kernel entry header from the rule's criteria fields.
// Block offsets and counters are filled in by the caller.
func (r *Rule) header() (*xt.EntryHeader, error) {
	al := r.family.AddrLen()
	h := &xt.EntryHeader{
		Src:     make([]byte, al),
		Dst:     make([]byte, al),
		SrcMask: make([]byte, al),
		DstMask: make([]byte, al),
	}

	if r.src != "" {
		s, neg := strings.CutPrefix(r.src, "!")
		addr, mask, err := xt.ParseAddrMask(r.family, s)
		if err != nil {
			return nil, err
		}
		copy(h.Src, addr)
		copy(h.SrcMask, mask)
		if neg {
			h.InverseFlags |= xt.InvSrcIP
		}
	}
	if r.dst != "" {
		s, neg := strings.CutPrefix(r.dst, "!")
		addr, mask, err := xt.ParseAddrMask(r.family, s)
		if err != nil {
			return nil, err
		}
		copy(h.Dst, addr)
		copy(h.DstMask, mask)
		if neg {
			h.InverseFlags |= xt.InvDstIP
		}
	}
	if r.inIface != "" {
		s, neg := strings.CutPrefix(r.inIface, "!")
		name, mask, err := xt.EncodeInterface(s)
		if err != nil {
			return nil, err
		}
		h.InInterface = name
		h.InMask = mask
		if neg {
			h.InverseFlags |= xt.InvViaIn
		}
	}
	if r.outIface != "" {
		s, neg := strings.CutPrefix(r.outIface, "!")
		name, mask, err := xt.EncodeInterface(s)
		if err != nil {
			return nil, err
		}
		h.OutInterface = name
		h.OutMask = mask
		if neg {
			h.InverseFlags |= xt.InvViaOut
		}
	}
	if r.protocol != "" {
		s, neg := strings.CutPrefix(r.protocol, "!")
		n, err := xt.LookupProtocol(s)
		if err != nil {
			return nil, err
		}
		h.Protocol = n
		if neg {
			h.InverseFlags |= xt.InvProto
		}
		if r.family == IPv6 {
			h.Flags |= xt.Flag6Proto
		}
	}
	if r.family == IPv4 {
		if r.fragment {
			h.Flags |= xt.FlagFragment
		}
		if r.fragmentInvert {
			h.InverseFlags |= xt.InvFragment
		}
	}
	return h, nil
}

// targetBlock serializes the rule's target. Jump targets need the byte
// offset of the destination chain's first entry, which only the table
// serializer knows; jumpOffset is ignored for every other target.
func (r *Rule) targetBlock(jumpOffset int32) ([]byte, error) {
	t := r.target
	if t == nil {
		return nil, ErrMissingTarget
	}
	if t.IsJump() {
		return xt.MarshalStandardTarget(jumpOffset), nil
	}
	if t.schema.Standard {
		return xt.MarshalStandardTarget(t.schema.Verdict), nil
	}
	return t.schema.MarshalBlock(r.family, t.params)
}

// marshalEntry assembles header, match blocks, and the given target block
// into one serialized entry.
func (r *Rule) marshalEntry(targetBlock []byte) ([]byte, error) {
	h, err := r.header()
	if err != nil {
		return nil, err
	}
	hdrSize := xt.SizeOfEntry(r.family)
	size := hdrSize
	blocks := make([][]byte, 0, len(r.matches))
	for _, m := range r.matches {
		blk, err := m.schema.MarshalBlock(r.family, m.params)
		if err != nil {
			return nil, fmt.Errorf("match %q: %w", m.Kind(), err)
		}
		blocks = append(blocks, blk)
		size += len(blk)
	}
	h.TargetOffset = uint16(size)
	h.NextOffset = uint16(size + len(targetBlock))
	h.Counters = r.counters

	b := make([]byte, h.NextOffset)
	h.Marshal(r.family, b)
	off := hdrSize
	for _, blk := range blocks {
		copy(b[off:], blk)
		off += len(blk)
	}
	copy(b[off:], targetBlock)
	return b, nil
}

// Marshal serializes the rule as a standalone kernel entry. Rules whose
// target jumps to a user chain cannot be serialized in isolation; they get
// their verdict offset from the owning table.
func (r *Rule) Marshal() ([]byte, error) {
	if r.target != nil && r.target.IsJump() {
		return nil, fmt.Errorf("rule jumps to %q and can only be serialized within a table",
			r.target.JumpChain())
	}
	tb, err := r.targetBlock(0)
	if err != nil {
		return nil, err
	}
	return r.marshalEntry(tb)
}

// parsedEntry is one decoded table entry. Standard-target entries carry the
// raw verdict (a negative code or a non-negative jump offset); error-target
// entries carry the marker name instead of a rule target.
type parsedEntry struct {
	rule      *Rule
	size      int
	standard  bool
	verdict   int32
	errorName string
	isError   bool
}

// parseEntry decodes the entry at the start of b. The slice may extend past
// the entry; the entry's own NextOffset bounds it.
func parseEntry(f Family, b []byte) (*parsedEntry, error) {
	h, err := xt.UnmarshalEntry(f, b)
	if err != nil {
		return nil, err
	}
	hdrSize := xt.SizeOfEntry(f)
	if int(h.TargetOffset) < hdrSize || int(h.NextOffset) > len(b) ||
		int(h.NextOffset) < int(h.TargetOffset)+xt.SizeOfBlockHeader {
		return nil, fmt.Errorf("entry offsets out of range: target=%d next=%d",
			h.TargetOffset, h.NextOffset)
	}

	r := NewRule(f)
	r.counters = h.Counters
	if err := headerCriteria(r, h); err != nil {
		return nil, err
	}

	// Match blocks between the header and the target.
	off := hdrSize
	for off < int(h.TargetOffset) {
		bh, err := xt.UnmarshalBlockHeader(b[off:])
		if err != nil {
			return nil, err
		}
		end := off + int(bh.Size)
		if int(bh.Size) < xt.SizeOfBlockHeader || end > int(h.TargetOffset) {
			return nil, fmt.Errorf("match block overruns entry: size=%d", bh.Size)
		}
		s, err := xt.Lookup(xt.ClassMatch, bh.Name)
		if err != nil {
			return nil, err
		}
		if s.Revision != bh.Revision {
			return nil, fmt.Errorf("%w: match %q revision %d", ErrUnsupportedKind, bh.Name, bh.Revision)
		}
		params, err := s.Decode(f, b[off+xt.SizeOfBlockHeader:end])
		if err != nil {
			return nil, err
		}
		r.matches = append(r.matches, &Match{schema: s, family: f, params: params})
		off = end
	}

	pe := &parsedEntry{rule: r, size: int(h.NextOffset)}
	tb := b[h.TargetOffset:h.NextOffset]
	bh, err := xt.UnmarshalBlockHeader(tb)
	if err != nil {
		return nil, err
	}
	switch bh.Name {
	case "":
		verdict, err := xt.UnmarshalStandardTarget(tb)
		if err != nil {
			return nil, err
		}
		pe.standard = true
		pe.verdict = verdict
		if verdict < 0 {
			kind, err := xt.VerdictKind(verdict)
			if err != nil {
				return nil, err
			}
			t, err := NewTarget(kind)
			if err != nil {
				return nil, err
			}
			r.target = t
		}
	case xt.ErrorTargetName:
		name, err := xt.UnmarshalErrorTarget(tb)
		if err != nil {
			return nil, err
		}
		pe.isError = true
		pe.errorName = name
	default:
		s, err := xt.Lookup(xt.ClassTarget, bh.Name)
		if err != nil {
			return nil, err
		}
		if s.Revision != bh.Revision {
			return nil, fmt.Errorf("%w: target %q revision %d", ErrUnsupportedKind, bh.Name, bh.Revision)
		}
		params, err := s.Decode(f, tb[xt.SizeOfBlockHeader:])
		if err != nil {
			return nil, err
		}
		r.target = &Target{schema: s, params: params}
	}
	return pe, nil
}

// headerCriteria recovers the rule's canonical criteria strings from a
// decoded entry header.
func headerCriteria(r *Rule, h *xt.EntryHeader) error {
	neg := func(s string, bit uint8) string {
		if h.InverseFlags&bit != 0 {
			return "!" + s
		}
		return s
	}
	if !allZero(h.SrcMask) || h.InverseFlags&xt.InvSrcIP != 0 {
		r.src = neg(xt.FormatAddrMask(r.family, h.Src, h.SrcMask), xt.InvSrcIP)
	}
	if !allZero(h.DstMask) || h.InverseFlags&xt.InvDstIP != 0 {
		r.dst = neg(xt.FormatAddrMask(r.family, h.Dst, h.DstMask), xt.InvDstIP)
	}
	if name := xt.DecodeInterface(h.InInterface, h.InMask); name != "" {
		r.inIface = neg(name, xt.InvViaIn)
	}
	if name := xt.DecodeInterface(h.OutInterface, h.OutMask); name != "" {
		r.outIface = neg(name, xt.InvViaOut)
	}
	if h.Protocol != 0 {
		r.protocol = neg(xt.ProtocolName(h.Protocol), xt.InvProto)
	}
	// Flags bit 0 is IPT_F_FRAG on IPv4 but IP6T_F_PROTO on IPv6, where no
	// fragment criterion exists in the entry header.
	if r.family == IPv4 {
		r.fragment = h.Flags&xt.FlagFragment != 0
		r.fragmentInvert = h.InverseFlags&xt.InvFragment != 0
	}
	return nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// UnmarshalRule decodes a standalone serialized entry back into a Rule.
// Entries whose standard target holds a jump offset belong to a table blob
// and are rejected here.
func UnmarshalRule(f Family, b []byte) (*Rule, error) {
	pe, err := parseEntry(f, b)
	if err != nil {
		return nil, err
	}
	if pe.isError {
		return nil, fmt.Errorf("entry is a chain marker %q, not a rule", pe.errorName)
	}
	if pe.standard && pe.verdict >= 0 {
		return nil, fmt.Errorf("rule jumps to offset %d and can only be decoded within a table", pe.verdict)
	}
	return pe.rule, nil
}
