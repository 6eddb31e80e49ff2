package ferrule

import (
	"fmt"
)

// Chain is an ordered rule list inside a table. Builtin chains are anchored
// to a netfilter hook and carry a policy verdict; user chains exist only as
// jump destinations.
type Chain struct {
	table   *Table
	name    string
	builtin bool
	hook    int
	policy  Policy

	rules    []*Rule
	counters Counters
}

// Name returns the chain name.
func (c *Chain) Name() string { return c.name }

// IsBuiltin reports whether the chain is anchored to a kernel hook.
func (c *Chain) IsBuiltin() bool { return c.builtin }

// Policy returns the builtin chain's policy verdict. User chains have no
// policy; they return the zero value.
func (c *Chain) Policy() Policy {
	return c.policy
}

// SetPolicy sets the policy verdict of a builtin chain. User chains cannot
// carry a policy.
func (c *Chain) SetPolicy(p Policy) error {
	if !c.builtin {
		return fmt.Errorf("%w: %q", ErrNotBuiltinChain, c.name)
	}
	if p != PolicyAccept && p != PolicyDrop {
		return fmt.Errorf("%w: policy %q", ErrInvalidParameter, p)
	}
	c.policy = p
	return nil
}

// Counters returns the chain counters: the policy counters for a builtin
// chain, the aggregate chain counters for a user chain.
func (c *Chain) Counters() Counters { return c.counters }

// NewRule creates an empty rule for the chain's family. The rule is not
// attached until inserted or appended.
func (c *Chain) NewRule() *Rule {
	return NewRule(c.table.family)
}

// Rules returns the chain's rules in evaluation order.
func (c *Chain) Rules() []*Rule {
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Len returns the number of rules in the chain.
func (c *Chain) Len() int { return len(c.rules) }

// checkRule verifies that a rule may join this chain.
func (c *Chain) checkRule(r *Rule) error {
	if r.family != c.table.family {
		return fmt.Errorf("%w: rule family %s, table family %s",
			ErrInvalidParameter, r.family, c.table.family)
	}
	if r.target == nil {
		return ErrMissingTarget
	}
	if r.target.IsJump() {
		dest := r.target.JumpChain()
		dc, ok := c.table.chains[dest]
		if !ok {
			return fmt.Errorf("%w: jump destination %q", ErrNoSuchChain, dest)
		}
		if dc.builtin {
			return fmt.Errorf("%w: cannot jump to builtin chain %q", ErrBuiltinChain, dest)
		}
	}
	return nil
}

// InsertRule inserts a rule at the head of the chain.
func (c *Chain) InsertRule(r *Rule) error {
	return c.InsertRuleAt(0, r)
}

// InsertRuleAt inserts a rule before position i (0 is the head; i equal to
// the current length appends).
func (c *Chain) InsertRuleAt(i int, r *Rule) error {
	if i < 0 || i > len(c.rules) {
		return fmt.Errorf("%w: position %d of %d", ErrInvalidParameter, i, len(c.rules))
	}
	if err := c.checkRule(r); err != nil {
		return err
	}
	c.rules = append(c.rules, nil)
	copy(c.rules[i+1:], c.rules[i:])
	c.rules[i] = r
	return nil
}

// AppendRule appends a rule at the tail of the chain.
func (c *Chain) AppendRule(r *Rule) error {
	return c.InsertRuleAt(len(c.rules), r)
}

// ReplaceRuleAt replaces the rule at position i.
func (c *Chain) ReplaceRuleAt(i int, r *Rule) error {
	if i < 0 || i >= len(c.rules) {
		return fmt.Errorf("%w: position %d of %d", ErrInvalidParameter, i, len(c.rules))
	}
	if err := c.checkRule(r); err != nil {
		return err
	}
	c.rules[i] = r
	return nil
}

// DeleteRuleAt removes the rule at position i.
func (c *Chain) DeleteRuleAt(i int) error {
	if i < 0 || i >= len(c.rules) {
		return fmt.Errorf("%w: position %d of %d", ErrInvalidParameter, i, len(c.rules))
	}
	c.rules = append(c.rules[:i], c.rules[i+1:]...)
	return nil
}

// DeleteRule removes the first rule equal to r (counters ignored).
func (c *Chain) DeleteRule(r *Rule) error {
	for i, have := range c.rules {
		if have.Equal(r) {
			return c.DeleteRuleAt(i)
		}
	}
	return fmt.Errorf("%w: no rule matches in chain %q", ErrNoSuchRule, c.name)
}

// FindRule returns the position of the first rule equal to r, or -1.
func (c *Chain) FindRule(r *Rule) int {
	for i, have := range c.rules {
		if have.Equal(r) {
			return i
		}
	}
	return -1
}

// Flush removes every rule from the chain. The policy is untouched.
func (c *Chain) Flush() {
	c.rules = nil
}

// ResetCounters zeroes the chain counters and every rule's counters. The
// kernel picks up the zeroed values at the next commit.
func (c *Chain) ResetCounters() {
	c.counters = Counters{}
	for _, r := range c.rules {
		r.counters = Counters{}
	}
}

// referencedBy reports whether any rule in the table jumps to this chain.
func (c *Chain) referencedBy() []string {
	var refs []string
	for _, other := range c.table.chains {
		for _, r := range other.rules {
			if r.target != nil && r.target.IsJump() && r.target.JumpChain() == c.name {
				refs = append(refs, other.name)
				break
			}
		}
	}
	return refs
}

func (c *Chain) clone(t *Table) *Chain {
	nc := &Chain{
		table:    t,
		name:     c.name,
		builtin:  c.builtin,
		hook:     c.hook,
		policy:   c.policy,
		counters: c.counters,
	}
	nc.rules = make([]*Rule, len(c.rules))
	for i, r := range c.rules {
		nc.rules[i] = r.clone()
	}
	return nc
}
