package ferrule

import (
	"fmt"
	"strings"

	"grimm.is/ferrule/xt"
)

// Counters is a packet/byte counter pair maintained by the kernel.
type Counters = xt.Counters

// Rule is one firewall entry: base header criteria, an ordered match list,
// and exactly one target. Field values follow the string contract of the
// parameter codec; a leading "!" negates where supported.
type Rule struct {
	family Family

	src, dst          string
	inIface, outIface string
	protocol          string
	fragment          bool
	fragmentInvert    bool

	matches  []*Match
	target   *Target
	counters Counters
}

// NewRule creates an empty rule for a protocol family. The rule is invalid
// for serialization until a target is set.
func NewRule(f Family) *Rule {
	return &Rule{family: f}
}

// Family returns the rule's protocol family.
func (r *Rule) Family() Family { return r.family }

// SetSource sets the source address criterion (CIDR, bare address, or
// addr/mask; "" clears). A "!" prefix negates.
func (r *Rule) SetSource(v string) error {
	canon, err := canonAddr(r.family, v)
	if err != nil {
		return err
	}
	r.src = canon
	return nil
}

// SetDestination sets the destination address criterion.
func (r *Rule) SetDestination(v string) error {
	canon, err := canonAddr(r.family, v)
	if err != nil {
		return err
	}
	r.dst = canon
	return nil
}

// SetInInterface sets the input interface name; a trailing "+" matches the
// device and its sub-interfaces. A "!" prefix negates, "" clears.
func (r *Rule) SetInInterface(v string) error {
	if err := checkIface(v); err != nil {
		return err
	}
	r.inIface = v
	return nil
}

// SetOutInterface sets the output interface name.
func (r *Rule) SetOutInterface(v string) error {
	if err := checkIface(v); err != nil {
		return err
	}
	r.outIface = v
	return nil
}

// SetProtocol sets the transport protocol by name or number ("" or "all"
// clears). A "!" prefix negates.
func (r *Rule) SetProtocol(v string) error {
	s, neg := strings.CutPrefix(v, "!")
	n, err := xt.LookupProtocol(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if n == 0 {
		r.protocol = ""
		return nil
	}
	canon := xt.ProtocolName(n)
	if neg {
		canon = "!" + canon
	}
	r.protocol = canon
	return nil
}

// SetFragment restricts the rule to non-first fragments. The entry header
// carries a fragment criterion for IPv4 only; the ip6t header has no such
// flag, so IPv6 rules reject it.
func (r *Rule) SetFragment(on bool) error {
	if on && r.family == IPv6 {
		return fmt.Errorf("%w: fragment criterion is IPv4 only", ErrInvalidParameter)
	}
	r.fragment = on
	return nil
}

// SetFragmentInvert inverts the fragment criterion. IPv4 only, like
// SetFragment.
func (r *Rule) SetFragmentInvert(on bool) error {
	if on && r.family == IPv6 {
		return fmt.Errorf("%w: fragment criterion is IPv4 only", ErrInvalidParameter)
	}
	r.fragmentInvert = on
	return nil
}

// Source returns the canonical source criterion, "" when unset.
func (r *Rule) Source() string { return r.src }

// Destination returns the canonical destination criterion.
func (r *Rule) Destination() string { return r.dst }

// InInterface returns the input interface criterion.
func (r *Rule) InInterface() string { return r.inIface }

// OutInterface returns the output interface criterion.
func (r *Rule) OutInterface() string { return r.outIface }

// Protocol returns the canonical protocol criterion, "" when any.
func (r *Rule) Protocol() string { return r.protocol }

// Fragment reports the fragment flag.
func (r *Rule) Fragment() bool { return r.fragment }

// FragmentInvert reports the inverted fragment flag.
func (r *Rule) FragmentInvert() bool { return r.fragmentInvert }

// Counters returns the kernel counters read at the last refresh.
func (r *Rule) Counters() Counters { return r.counters }

// NewMatch creates a match of the given kind bound to this rule's family.
// The match is independent until attached with AddMatch.
func (r *Rule) NewMatch(kind string) (*Match, error) {
	return newMatch(r.family, kind)
}

// AddMatch appends a match to the rule, preserving order. Protocol-bound
// matches (tcp, udp) require the rule's protocol field to agree and at most
// one of them may be attached; violations fail with ErrConflictingMatch and
// leave the match list unchanged.
func (r *Rule) AddMatch(m *Match) error {
	if m.schema.Protocol != 0 {
		for _, prev := range r.matches {
			if prev.schema.Protocol != 0 {
				return fmt.Errorf("%w: %q and %q both define the transport protocol",
					ErrConflictingMatch, prev.Kind(), m.Kind())
			}
		}
		want := xt.ProtocolName(m.schema.Protocol)
		if r.protocol != want {
			return fmt.Errorf("%w: match %q requires rule protocol %q",
				ErrConflictingMatch, m.Kind(), want)
		}
	}
	r.matches = append(r.matches, m)
	return nil
}

// Matches returns the attached matches in evaluation order.
func (r *Rule) Matches() []*Match {
	out := make([]*Match, len(r.matches))
	copy(out, r.matches)
	return out
}

// SetTarget sets the rule's target, replacing any previous one.
func (r *Rule) SetTarget(t *Target) { r.target = t }

// Target returns the rule's target, nil when unset.
func (r *Rule) Target() *Target { return r.target }

// Equal reports equality of all criteria, matches (in order) and target.
// Counters are kernel-owned and excluded.
func (r *Rule) Equal(o *Rule) bool {
	if r.family != o.family ||
		r.src != o.src || r.dst != o.dst ||
		r.inIface != o.inIface || r.outIface != o.outIface ||
		r.protocol != o.protocol ||
		r.fragment != o.fragment || r.fragmentInvert != o.fragmentInvert ||
		len(r.matches) != len(o.matches) {
		return false
	}
	for i := range r.matches {
		if !r.matches[i].Equal(o.matches[i]) {
			return false
		}
	}
	switch {
	case r.target == nil && o.target == nil:
		return true
	case r.target == nil || o.target == nil:
		return false
	}
	return r.target.Equal(o.target)
}

func (r *Rule) clone() *Rule {
	c := *r
	c.matches = make([]*Match, len(r.matches))
	for i, m := range r.matches {
		c.matches[i] = m.clone()
	}
	if r.target != nil {
		c.target = r.target.clone()
	}
	return &c
}

// String renders the rule in iptables-save option style.
func (r *Rule) String() string {
	var parts []string
	opt := func(flag, v string) {
		s, neg := strings.CutPrefix(v, "!")
		if neg {
			parts = append(parts, "!")
		}
		parts = append(parts, flag, s)
	}
	if r.protocol != "" {
		opt("-p", r.protocol)
	}
	if r.src != "" {
		opt("-s", r.src)
	}
	if r.dst != "" {
		opt("-d", r.dst)
	}
	if r.inIface != "" {
		opt("-i", r.inIface)
	}
	if r.outIface != "" {
		opt("-o", r.outIface)
	}
	if r.fragment || r.fragmentInvert {
		if r.fragmentInvert {
			parts = append(parts, "!")
		}
		parts = append(parts, "-f")
	}
	for _, m := range r.matches {
		parts = append(parts, "-m", m.Kind())
		for _, name := range m.optionOrder() {
			opt("--"+name, m.params[name])
		}
	}
	if r.target != nil {
		parts = append(parts, "-j", r.target.Kind())
		for _, name := range r.target.optionOrder() {
			opt("--"+name, r.target.params[name])
		}
	}
	return strings.Join(parts, " ")
}

func canonAddr(f Family, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	s, neg := strings.CutPrefix(v, "!")
	addr, mask, err := xt.ParseAddrMask(f, s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	canon := xt.FormatAddrMask(f, addr, mask)
	if neg {
		canon = "!" + canon
	}
	return canon, nil
}

func checkIface(v string) error {
	if v == "" {
		return nil
	}
	s, _ := strings.CutPrefix(v, "!")
	if _, _, err := xt.EncodeInterface(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return nil
}
