package ferrule

import (
	"fmt"

	"grimm.is/ferrule/xt"
)

// Serialized table layout, as the kernel and libiptc produce it:
//
//	built-in chains in hook order:
//	    rules...
//	    policy foot (unconditional standard verdict, chain counters)
//	user chains in creation order:
//	    marker (error target naming the chain)
//	    rules...
//	    foot (unconditional RETURN, chain counters)
//	trailing marker named "ERROR"
//
// HookEntry points at a built-in chain's first rule, Underflow at its policy
// foot. Jump verdicts are byte offsets of the destination chain's first
// entry, just past its marker.

// entrySize computes a rule's serialized size without marshaling it.
func (t *Table) entrySize(r *Rule) (int, error) {
	if r.target == nil {
		return 0, ErrMissingTarget
	}
	n := xt.SizeOfEntry(t.family)
	for _, m := range r.matches {
		n += m.schema.BlockSize()
	}
	if r.target.IsJump() || r.target.schema.Standard {
		n += xt.SizeOfStandardTarget
	} else {
		n += r.target.schema.BlockSize()
	}
	return n, nil
}

func policyVerdict(p Policy) int32 {
	if p == PolicyDrop {
		return xt.VerdictDrop
	}
	return xt.VerdictAccept
}

// marshalReplace serializes the table into an ipt_replace header and its
// entry payload. NumCounters is left zero; the transport fills it from the
// kernel's current entry count.
func (t *Table) marshalReplace() (*xt.Replace, []byte, error) {
	hdrSize := xt.SizeOfEntry(t.family)
	footSize := hdrSize + xt.SizeOfStandardTarget
	markerSize := hdrSize + xt.SizeOfErrorTarget

	rep := &xt.Replace{Name: t.name, ValidHooks: validHooks(t.layout)}

	// First pass: lay out offsets so jumps can be resolved.
	offset := 0
	chainStart := make(map[string]int, len(t.chains))
	numEntries := 0
	for _, bc := range t.layout {
		c := t.chains[bc.name]
		rep.HookEntry[bc.hook] = uint32(offset)
		chainStart[c.name] = offset
		for _, r := range c.rules {
			n, err := t.entrySize(r)
			if err != nil {
				return nil, nil, fmt.Errorf("chain %q: %w", c.name, err)
			}
			offset += n
		}
		rep.Underflow[bc.hook] = uint32(offset)
		offset += footSize
		numEntries += len(c.rules) + 1
	}
	for _, name := range t.userOrder {
		c := t.chains[name]
		offset += markerSize
		chainStart[name] = offset
		for _, r := range c.rules {
			n, err := t.entrySize(r)
			if err != nil {
				return nil, nil, fmt.Errorf("chain %q: %w", c.name, err)
			}
			offset += n
		}
		offset += footSize
		numEntries += len(c.rules) + 2
	}
	total := offset + markerSize
	numEntries++

	rep.NumEntries = uint32(numEntries)
	rep.Size = uint32(total)

	// Second pass: marshal.
	buf := make([]byte, 0, total)
	appendRule := func(r *Rule) error {
		var tb []byte
		if r.target != nil && r.target.IsJump() {
			dest, ok := chainStart[r.target.JumpChain()]
			if !ok {
				return fmt.Errorf("%w: jump destination %q", ErrNoSuchChain, r.target.JumpChain())
			}
			tb = xt.MarshalStandardTarget(int32(dest))
		} else {
			var err error
			tb, err = r.targetBlock(0)
			if err != nil {
				return err
			}
		}
		b, err := r.marshalEntry(tb)
		if err != nil {
			return err
		}
		buf = append(buf, b...)
		return nil
	}
	appendBare := func(counters Counters, tb []byte) error {
		bare := NewRule(t.family)
		bare.counters = counters
		b, err := bare.marshalEntry(tb)
		if err != nil {
			return err
		}
		buf = append(buf, b...)
		return nil
	}

	for _, bc := range t.layout {
		c := t.chains[bc.name]
		for _, r := range c.rules {
			if err := appendRule(r); err != nil {
				return nil, nil, fmt.Errorf("chain %q: %w", c.name, err)
			}
		}
		if err := appendBare(c.counters, xt.MarshalStandardTarget(policyVerdict(c.policy))); err != nil {
			return nil, nil, err
		}
	}
	for _, name := range t.userOrder {
		c := t.chains[name]
		if err := appendBare(Counters{}, xt.MarshalErrorTarget(name)); err != nil {
			return nil, nil, err
		}
		for _, r := range c.rules {
			if err := appendRule(r); err != nil {
				return nil, nil, fmt.Errorf("chain %q: %w", c.name, err)
			}
		}
		if err := appendBare(c.counters, xt.MarshalStandardTarget(xt.VerdictReturn)); err != nil {
			return nil, nil, err
		}
	}
	if err := appendBare(Counters{}, xt.MarshalErrorTarget(xt.ErrorTargetName)); err != nil {
		return nil, nil, err
	}

	if len(buf) != total {
		return nil, nil, fmt.Errorf("table %q: layout size %d, marshaled %d", t.name, total, len(buf))
	}
	return rep, buf, nil
}

// bareRule reports an entry with no criteria and no matches, the shape of
// chain feet and markers.
func bareRule(r *Rule) bool {
	return r.src == "" && r.dst == "" && r.inIface == "" && r.outIface == "" &&
		r.protocol == "" && !r.fragment && !r.fragmentInvert && len(r.matches) == 0
}

// parseTable reconstructs a table image from a kernel entries blob and the
// hook offsets reported alongside it.
func parseTable(f Family, name string, info *xt.GetInfo, blob []byte) (*Table, error) {
	t, err := NewTable(f, name)
	if err != nil {
		return nil, err
	}
	hookChain := make(map[int]string, len(t.layout))
	for _, bc := range t.layout {
		hookChain[bc.hook] = bc.name
	}

	var raws []rawEntry
	for off := 0; off < len(blob); {
		pe, err := parseEntry(f, blob[off:])
		if err != nil {
			return nil, fmt.Errorf("table %q, entry at offset %d: %w", name, off, err)
		}
		raws = append(raws, rawEntry{off, pe})
		off += pe.size
	}
	last := len(raws) - 1
	if last < 0 || !raws[last].pe.isError || raws[last].pe.errorName != xt.ErrorTargetName {
		return nil, fmt.Errorf("table %q: missing trailing chain marker", name)
	}
	raws = raws[:last]

	builtinStart := make(map[int]string)
	underflowAt := make(map[int]string)
	for h := 0; h < xt.NumHooks; h++ {
		if info.ValidHooks&(1<<uint(h)) == 0 {
			continue
		}
		cn, ok := hookChain[h]
		if !ok {
			return nil, fmt.Errorf("table %q: hook %d not in layout", name, h)
		}
		builtinStart[int(info.HookEntry[h])] = cn
		underflowAt[int(info.Underflow[h])] = cn
	}

	type pendingJump struct {
		r      *Rule
		offset int32
	}
	var jumps []pendingJump
	chainAt := make(map[int]string) // user chain first-entry offsets

	var current *Chain
	for i, re := range raws {
		if cn, ok := builtinStart[re.off]; ok {
			current = t.chains[cn]
		}
		if re.pe.isError {
			c, err := t.CreateChain(re.pe.errorName)
			if err != nil {
				return nil, fmt.Errorf("table %q: %w", name, err)
			}
			current = c
			chainAt[re.off+re.pe.size] = c.name
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("table %q: entry at offset %d outside any chain", name, re.off)
		}
		if cn, ok := underflowAt[re.off]; ok && current.builtin && current.name == cn {
			if !re.pe.standard || re.pe.verdict >= 0 || !bareRule(re.pe.rule) {
				return nil, fmt.Errorf("table %q, chain %q: malformed policy entry at offset %d",
					name, cn, re.off)
			}
			switch re.pe.verdict {
			case xt.VerdictAccept:
				current.policy = PolicyAccept
			case xt.VerdictDrop:
				current.policy = PolicyDrop
			default:
				return nil, fmt.Errorf("table %q, chain %q: unsupported policy verdict %d",
					name, cn, re.pe.verdict)
			}
			current.counters = re.pe.rule.counters
			continue
		}
		if !current.builtin && re.pe.standard && re.pe.verdict == xt.VerdictReturn &&
			bareRule(re.pe.rule) && chainEndsAt(raws, i, builtinStart) {
			current.counters = re.pe.rule.counters
			continue
		}
		if re.pe.standard && re.pe.verdict >= 0 {
			jumps = append(jumps, pendingJump{re.pe.rule, re.pe.verdict})
		}
		current.rules = append(current.rules, re.pe.rule)
	}

	for _, j := range jumps {
		dest, ok := chainAt[int(j.offset)]
		if !ok {
			return nil, fmt.Errorf("table %q: jump to unknown offset %d", name, j.offset)
		}
		j.r.target = NewJumpTarget(dest)
	}
	return t, nil
}

// rawEntry pairs a decoded entry with its byte offset in the blob.
type rawEntry struct {
	off int
	pe  *parsedEntry
}

// chainEndsAt reports whether raws[i] is the last entry of its chain: the
// next entry starts another chain or the blob ends.
func chainEndsAt(raws []rawEntry, i int, builtinStart map[int]string) bool {
	if i == len(raws)-1 {
		return true
	}
	next := raws[i+1]
	if next.pe.isError {
		return true
	}
	_, ok := builtinStart[next.off]
	return ok
}
